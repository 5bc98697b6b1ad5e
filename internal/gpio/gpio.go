// Package gpio provides GPIO access with hardware abstraction: the two push
// buttons, the sensor's data-ready (INT) line and the status LED.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Reader reads the button inputs.
type Reader interface {
	// Read returns the logical states of buttons A and B.
	// The buttons are active low: raw 0 = logical pressed.
	// Returns (aPressed, bPressed, error).
	Read() (bool, bool, error)

	// Close releases GPIO resources.
	Close() error
}

// DataReady reports the level of the sensor interrupt line.
type DataReady interface {
	// Ready returns true while the line is asserted (raw low).
	Ready() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Output drives a single indicator output.
type Output interface {
	// Set turns the output on or off. The LED is active low.
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering)
const (
	DefaultChip      = "gpiochip0"
	DefaultPinA      = 17 // Button A: device heartbeat
	DefaultPinB      = 27 // Button B: start measurement
	DefaultPinInt    = 22 // MAX30102 INT
	DefaultPinStatus = 23 // Status LED (twin controlled)
)
