// Package i2c provides register-level access to devices on an I2C bus.
// The bus itself is any tinygo drivers.I2C; on Linux it is backed by i2c-dev.
package i2c

import (
	"fmt"

	"tinygo.org/x/drivers"
)

// IoError reports a failed bus transaction.
type IoError struct {
	Op   string // "read" or "write"
	Addr uint16
	Reg  byte
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("i2c %s dev 0x%02X reg 0x%02X: %v", e.Op, e.Addr, e.Reg, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Bus reads and writes device registers.
// It is stateless beyond the underlying bus handle.
type Bus struct {
	conn drivers.I2C
}

// NewBus wraps an already opened bus.
func NewBus(conn drivers.I2C) *Bus {
	return &Bus{conn: conn}
}

// Read reads n bytes starting at register reg of device dev.
// The register address is written and the data read back with a repeated start.
func (b *Bus) Read(dev uint16, reg byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, &IoError{Op: "read", Addr: dev, Reg: reg, Err: fmt.Errorf("invalid length %d", n)}
	}
	buf := make([]byte, n)
	if err := b.conn.Tx(dev, []byte{reg}, buf); err != nil {
		return nil, &IoError{Op: "read", Addr: dev, Reg: reg, Err: err}
	}
	return buf, nil
}

// Write writes a single byte to register reg of device dev.
func (b *Bus) Write(dev uint16, reg, value byte) error {
	if err := b.conn.Tx(dev, []byte{reg, value}, nil); err != nil {
		return &IoError{Op: "write", Addr: dev, Reg: reg, Err: err}
	}
	return nil
}

// ReadByte is a convenience wrapper for single-register reads.
func (b *Bus) ReadByte(dev uint16, reg byte) (byte, error) {
	data, err := b.Read(dev, reg, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}
