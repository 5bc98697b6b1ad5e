//go:build !linux

package i2c

import (
	"errors"
	"time"
)

// Device is not available on non-Linux platforms.
type Device struct{}

// Open returns an error on non-Linux platforms.
func Open(path string, timeout time.Duration) (*Device, error) {
	return nil, errors.New("i2c: not supported on this platform (requires Linux)")
}

// Tx is not implemented on non-Linux platforms.
func (d *Device) Tx(addr uint16, w, r []byte) error {
	return errors.New("i2c: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *Device) Close() error {
	return nil
}
