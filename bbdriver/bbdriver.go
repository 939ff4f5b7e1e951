// Package bbdriver defines interfaces and helper functions for implementing
// buck-boost converter drivers.
//
// The I2C interface is derived from TinyGo and is satisfied by both
// machine.I2C and periph.io's i2c.Bus, so a single driver works on
// microcontrollers and on Linux hosts.
package bbdriver

import "periph.io/x/conn/v3/gpio"

// I2C defines a minimum interface to I2C hardware with a single Tx method.
// All converter drivers that communicate over I2C use this interface.
type I2C interface {

	// Tx performs a write and then a read transfer placing the result in r.
	//
	// Passing a nil value for w or r skips the transfer corresponding to write
	// or read, respectively.
	//
	//  i2c.Tx(addr, nil, r)
	// Performs only a read transfer.
	//
	//  i2c.Tx(addr, w, nil)
	// Performs only a write transfer.
	Tx(addr uint16, w, r []byte) error
}

// Pin is an output pin such as the converter's EN input. periph's
// gpio.PinOut satisfies it.
type Pin interface {
	Out(l gpio.Level) error
}

// PinFunc is an adapter to allow the use of ordinary functions as Pin.
type PinFunc func(gpio.Level) error

// Out implements Pin interface.
func (f PinFunc) Out(l gpio.Level) error {
	return f(l)
}
