package i2c

import (
	"errors"
	"sync"
)

// FakeDevice emulates a bank of byte registers for a single device address.
// Reads of a register listed in Streams return the next scripted chunk instead
// of the register file, which is how FIFO data registers behave.
type FakeDevice struct {
	mu sync.Mutex

	// Addr is the only address the fake acknowledges.
	Addr uint16

	// Regs is the register file.
	Regs map[byte]byte

	// Streams holds scripted payloads for FIFO-style registers.
	Streams map[byte][][]byte

	// Writes records every register write in order.
	Writes []Write

	// TxError, if set, is returned by every transaction.
	TxError error
}

// Write is one recorded register write.
type Write struct {
	Reg   byte
	Value byte
}

// NewFakeDevice creates a FakeDevice answering at addr.
func NewFakeDevice(addr uint16) *FakeDevice {
	return &FakeDevice{
		Addr:    addr,
		Regs:    make(map[byte]byte),
		Streams: make(map[byte][][]byte),
	}
}

// Tx implements drivers.I2C.
func (f *FakeDevice) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TxError != nil {
		return f.TxError
	}
	if addr != f.Addr {
		return errors.New("no ack")
	}
	if len(w) == 0 {
		return errors.New("missing register address")
	}

	reg := w[0]
	if len(w) > 1 {
		for i, v := range w[1:] {
			f.Regs[reg+byte(i)] = v
			f.Writes = append(f.Writes, Write{Reg: reg + byte(i), Value: v})
		}
	}

	if len(r) == 0 {
		return nil
	}

	if chunks := f.Streams[reg]; len(chunks) > 0 {
		copy(r, chunks[0])
		f.Streams[reg] = chunks[1:]
		return nil
	}
	for i := range r {
		r[i] = f.Regs[reg+byte(i)]
	}
	return nil
}

// Reg returns the current value of a register.
func (f *FakeDevice) Reg(reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Regs[reg]
}

// Push appends a scripted chunk for a FIFO-style register.
func (f *FakeDevice) Push(reg byte, chunk []byte) {
	f.mu.Lock()
	f.Streams[reg] = append(f.Streams[reg], chunk)
	f.mu.Unlock()
}
