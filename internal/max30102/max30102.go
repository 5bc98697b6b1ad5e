// Package max30102 drives the MAX30102 pulse-oximetry and heart-rate sensor
// (MikroE Heart Rate 4 click) over I2C.
//
// The device is configured for SpO2 mode at 100 samples/s with 4-sample
// averaging, so one red/IR pair becomes available every 40 ms and is signalled
// by the active-low INT line.
package max30102

import (
	"errors"
	"fmt"
)

// Address is the fixed 7-bit I2C address.
const Address = 0x57

// ExpectedPartID is the value of the part ID register.
const ExpectedPartID = 0x15

// Registers.
const (
	RegIntrStatus1   = 0x00
	RegIntrStatus2   = 0x01
	RegIntrEnable1   = 0x02
	RegIntrEnable2   = 0x03
	RegFIFOWrPtr     = 0x04
	RegOvfCounter    = 0x05
	RegFIFORdPtr     = 0x06
	RegFIFOData      = 0x07
	RegFIFOConfig    = 0x08
	RegModeConfig    = 0x09
	RegSpO2Config    = 0x0A
	RegLED1PA        = 0x0C
	RegLED2PA        = 0x0D
	RegPilotPA       = 0x10
	RegMultiLEDCtrl1 = 0x11
	RegMultiLEDCtrl2 = 0x12
	RegTempInt       = 0x1F
	RegTempFrac      = 0x20
	RegTempConfig    = 0x21
	RegProxIntThresh = 0x30
	RegRevisionID    = 0xFE
	RegPartID        = 0xFF
)

// Mode config bits.
const (
	modeShutdown = 0x80
	modeReset    = 0x40
	modeSpO2     = 0x03
)

// sampleMask keeps the 18 significant bits of a FIFO sample.
const sampleMask = 0x03FFFF

// ErrPartID is returned by CheckIdentity when the part ID does not match.
var ErrPartID = errors.New("max30102: unexpected part id")

// Bus is the register-level bus used by the driver.
type Bus interface {
	Read(dev uint16, reg byte, n int) ([]byte, error)
	Write(dev uint16, reg, value byte) error
}

// Config holds register values written by Init. Zero fields take defaults.
type Config struct {
	FIFOConfig byte // sample average 4, no rollover, almost-full at 17
	SpO2Config byte // 4096nA range, 100 sps, 411us pulse width
	LEDCurrent byte // ~7mA on both LEDs
	PilotPA    byte
}

// DefaultConfig matches the vendor reference setup.
func DefaultConfig() Config {
	return Config{
		FIFOConfig: 0x4F,
		SpO2Config: 0x27,
		LEDCurrent: 0x24,
		PilotPA:    0x7F,
	}
}

// Device is a MAX30102 on a bus.
type Device struct {
	bus  Bus
	addr uint16
	cfg  Config
}

// New creates a Device. It does not touch the hardware.
func New(bus Bus, cfg Config) *Device {
	def := DefaultConfig()
	if cfg.FIFOConfig == 0 {
		cfg.FIFOConfig = def.FIFOConfig
	}
	if cfg.SpO2Config == 0 {
		cfg.SpO2Config = def.SpO2Config
	}
	if cfg.LEDCurrent == 0 {
		cfg.LEDCurrent = def.LEDCurrent
	}
	if cfg.PilotPA == 0 {
		cfg.PilotPA = def.PilotPA
	}
	return &Device{bus: bus, addr: Address, cfg: cfg}
}

// Init programs interrupts, FIFO pointers and the SpO2 measurement mode.
// It stops at the first failed write.
func (d *Device) Init() error {
	seq := []struct {
		reg, val byte
	}{
		{RegIntrEnable1, 0xC0}, // A_FULL and PPG_RDY
		{RegIntrEnable2, 0x00},
		{RegFIFOWrPtr, 0x00},
		{RegOvfCounter, 0x00},
		{RegFIFORdPtr, 0x00},
		{RegFIFOConfig, d.cfg.FIFOConfig},
		{RegModeConfig, modeSpO2},
		{RegSpO2Config, d.cfg.SpO2Config},
		{RegLED1PA, d.cfg.LEDCurrent},
		{RegLED2PA, d.cfg.LEDCurrent},
		{RegPilotPA, d.cfg.PilotPA},
	}
	for _, s := range seq {
		if err := d.bus.Write(d.addr, s.reg, s.val); err != nil {
			return fmt.Errorf("max30102 init: %w", err)
		}
	}
	return nil
}

// Reset issues a power-on reset. All configuration is lost.
func (d *Device) Reset() error {
	return d.bus.Write(d.addr, RegModeConfig, modeReset)
}

// ReadFIFO reads one red/IR sample pair. Reading the interrupt status
// registers first clears the INT line.
func (d *Device) ReadFIFO() (red, ir uint32, err error) {
	if _, err := d.bus.Read(d.addr, RegIntrStatus1, 1); err != nil {
		return 0, 0, fmt.Errorf("max30102 clear status: %w", err)
	}
	if _, err := d.bus.Read(d.addr, RegIntrStatus2, 1); err != nil {
		return 0, 0, fmt.Errorf("max30102 clear status: %w", err)
	}

	data, err := d.bus.Read(d.addr, RegFIFOData, 6)
	if err != nil {
		return 0, 0, fmt.Errorf("max30102 read fifo: %w", err)
	}
	red = (uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])) & sampleMask
	ir = (uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])) & sampleMask
	return red, ir, nil
}

// Shutdown puts the device into (or takes it out of) power-save mode while
// keeping the rest of the mode register intact.
func (d *Device) Shutdown(on bool) error {
	data, err := d.bus.Read(d.addr, RegModeConfig, 1)
	if err != nil {
		return fmt.Errorf("max30102 shutdown: %w", err)
	}
	mode := data[0]
	if on {
		mode |= modeShutdown
	} else {
		mode &^= modeShutdown
	}
	if err := d.bus.Write(d.addr, RegModeConfig, mode); err != nil {
		return fmt.Errorf("max30102 shutdown: %w", err)
	}
	return nil
}

// Revision returns the silicon revision ID.
func (d *Device) Revision() (byte, error) {
	return d.readReg(RegRevisionID)
}

// PartID returns the part ID; ExpectedPartID for a genuine MAX30102.
func (d *Device) PartID() (byte, error) {
	return d.readReg(RegPartID)
}

// CheckIdentity reads both identity registers and reports ErrPartID on mismatch.
// The returned values are valid whenever the reads themselves succeeded.
func (d *Device) CheckIdentity() (rev, part byte, err error) {
	rev, err = d.Revision()
	if err != nil {
		return 0, 0, err
	}
	part, err = d.PartID()
	if err != nil {
		return rev, 0, err
	}
	if part != ExpectedPartID {
		return rev, part, fmt.Errorf("%w: 0x%02X", ErrPartID, part)
	}
	return rev, part, nil
}

func (d *Device) readReg(reg byte) (byte, error) {
	data, err := d.bus.Read(d.addr, reg, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}
