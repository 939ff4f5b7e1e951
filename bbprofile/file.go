package bbprofile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/oxplot/go-buckboost/bbreg"
)

// ErrUnknownProfile is returned when a profile is not found in a file.
var ErrUnknownProfile = errors.New("bbprofile: unknown profile")

// UnmarshalYAML implements yaml.Unmarshaler. Fields missing from the node
// keep the values of Default, except that an external feedback profile
// without an output voltage is driven by its reference voltage.
func (p *Profile) UnmarshalYAML(n *yaml.Node) error {
	type plain Profile
	d := plain(Default())
	if err := n.Decode(&d); err != nil {
		return err
	}
	if d.Feedback == bbreg.FeedbackExternal && !hasKey(n, "output_voltage") {
		d.OutputVoltage = 0
	}
	*p = Profile(d)
	return nil
}

func hasKey(n *yaml.Node, key string) bool {
	if n.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}

// File is a set of named profiles, as stored in a YAML document:
//
//	default: usb5v
//	profiles:
//	  usb5v:
//	    output_voltage: 5V
//	    current_limit: 3A
//	  laptop:
//	    output_voltage: 20V
//	    cable_compensation: 300mV
type File struct {
	Default  string             `yaml:"default,omitempty"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Load reads a profile file from r and validates every profile in it.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("bbprofile: empty profile file")
		}
		return nil, fmt.Errorf("bbprofile: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, errors.New("bbprofile: no profiles defined")
	}
	for _, name := range f.Names() {
		if err := f.Profiles[name].Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
	}
	if f.Default != "" {
		if _, ok := f.Profiles[f.Default]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownProfile, f.Default)
		}
	}
	return &f, nil
}

// LoadFile opens and loads the profile file at path.
func LoadFile(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bbprofile: %w", err)
	}
	defer fd.Close()
	return Load(fd)
}

// Names returns the profile names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Profile returns the named profile. An empty name selects the file's
// default profile, or the only profile if the file has just one.
func (f *File) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" && len(f.Profiles) == 1 {
		for n := range f.Profiles {
			name = n
		}
	}
	if name == "" {
		return Profile{}, fmt.Errorf("%w: no default set, pick one of %v", ErrUnknownProfile, f.Names())
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}
