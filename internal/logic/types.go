// Package logic contains pure business logic for the pulse-oximeter endpoint:
// button press detection, reconnect backoff and reading aggregation.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Level is the debounced logical state of a button.
type Level string

const (
	Released Level = "RELEASED"
	Pressed  Level = "PRESSED"
)

// EventType identifies which button was pressed.
type EventType string

const (
	EventButtonA EventType = "BUTTON_A"
	EventButtonB EventType = "BUTTON_B"
)

// Event is a debounced button press.
type Event struct {
	Timestamp time.Time
	Type      EventType
}

// ButtonState tracks debounce state for a single button.
type ButtonState struct {
	// Current stable (debounced) level
	Stable Level
	// Pending level during debounce
	Pending Level
	// Time when pending level was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input is a single sample of both buttons, already in logical form.
type Input struct {
	A    bool // true = pressed
	B    bool
	Time time.Time
}

// PressCounts tracks presses per button since startup.
type PressCounts struct {
	A int
	B int
}

// Reading is one averaged vital-signs result.
type Reading struct {
	HeartRate int     // beats per minute
	SpO2      float64 // percent
	Samples   int     // number of valid buffers averaged
}
