// Command tps55289ctl configures and monitors TPS55289 buck-boost converters
// attached to a Linux I2C bus.
package main

import (
	"os"
)

func main() {
	if err := newApp().rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
