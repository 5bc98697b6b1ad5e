//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the buttons using the Linux GPIO character device.
type RealReader struct {
	chip *gpiocdev.Chip
	pinA *gpiocdev.Line
	pinB *gpiocdev.Line
}

// NewRealReader requests both button lines as pulled-up inputs.
func NewRealReader(chipName string, pinA, pinB int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	lineA, err := chip.RequestLine(pinA, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button A pin %d: %w", pinA, err)
	}

	lineB, err := chip.RequestLine(pinB, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		lineA.Close()
		chip.Close()
		return nil, fmt.Errorf("request button B pin %d: %w", pinB, err)
	}

	return &RealReader{
		chip: chip,
		pinA: lineA,
		pinB: lineB,
	}, nil
}

// Read returns the logical states of buttons A and B.
// Inverts raw GPIO: raw low (0) = pressed.
func (r *RealReader) Read() (bool, bool, error) {
	aRaw, err := r.pinA.Value()
	if err != nil {
		return false, false, fmt.Errorf("read button A: %w", err)
	}

	bRaw, err := r.pinB.Value()
	if err != nil {
		return false, false, fmt.Errorf("read button B: %w", err)
	}

	return aRaw == 0, bRaw == 0, nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	var errs []error
	if r.pinA != nil {
		if err := r.pinA.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button A: %w", err))
		}
	}
	if r.pinB != nil {
		if err := r.pinB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button B: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealDataReady samples the sensor's open-drain INT line.
type RealDataReady struct {
	line *gpiocdev.Line
}

// NewRealDataReady requests the INT line as a pulled-up input.
func NewRealDataReady(chipName string, pin int) (*RealDataReady, error) {
	line, err := gpiocdev.RequestLine(chipName, pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("request INT pin %d: %w", pin, err)
	}
	return &RealDataReady{line: line}, nil
}

// Ready returns true while INT is asserted (low).
func (d *RealDataReady) Ready() (bool, error) {
	v, err := d.line.Value()
	if err != nil {
		return false, fmt.Errorf("read INT pin: %w", err)
	}
	return v == 0, nil
}

// Close releases the line.
func (d *RealDataReady) Close() error {
	if err := d.line.Close(); err != nil {
		return fmt.Errorf("close INT pin: %w", err)
	}
	return nil
}

// RealOutput drives an active-low LED.
type RealOutput struct {
	line *gpiocdev.Line
}

// NewRealOutput requests the pin as an output, initially off (high).
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	line, err := gpiocdev.RequestLine(chipName, pin, gpiocdev.AsOutput(1))
	if err != nil {
		return nil, fmt.Errorf("request LED pin %d: %w", pin, err)
	}
	return &RealOutput{line: line}, nil
}

// Set turns the LED on (low) or off (high).
func (o *RealOutput) Set(on bool) error {
	v := 1
	if on {
		v = 0
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set LED: %w", err)
	}
	return nil
}

// Close leaves the LED off and releases the line.
func (o *RealOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(1); err != nil {
		errs = append(errs, fmt.Errorf("turn LED off: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close LED pin: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
