package logic

import "time"

// Detector turns raw button samples into debounced press events.
type Detector struct {
	debounceDuration time.Duration
	a                ButtonState
	b                ButtonState
	baselined        bool
	counts           PressCounts
}

// NewDetector creates a press detector with the given debounce duration.
// A zero duration still requires a level to be seen on two consecutive samples.
func NewDetector(debounceDuration time.Duration) *Detector {
	return &Detector{debounceDuration: debounceDuration}
}

// Process takes a new input sample and returns any presses that completed.
// Nothing is reported until both buttons have a baseline, so a button held
// down at startup does not count as a press.
func (d *Detector) Process(input Input) []Event {
	aPressed := d.processButton(&d.a, levelOf(input.A), input.Time)
	bPressed := d.processButton(&d.b, levelOf(input.B), input.Time)

	if !d.baselined {
		if d.a.Baselined && d.b.Baselined {
			d.baselined = true
		}
		return nil
	}

	var events []Event
	if aPressed {
		d.counts.A++
		events = append(events, Event{Timestamp: input.Time, Type: EventButtonA})
	}
	if bPressed {
		d.counts.B++
		events = append(events, Event{Timestamp: input.Time, Type: EventButtonB})
	}
	return events
}

// processButton applies debounce to one button and reports a completed
// released-to-pressed transition.
func (d *Detector) processButton(s *ButtonState, level Level, now time.Time) bool {
	if !s.Baselined {
		if s.Pending != level {
			s.Pending = level
			s.PendingSince = now
			return false
		}
		if now.Sub(s.PendingSince) >= d.debounceDuration {
			s.Stable = level
			s.Baselined = true
			s.Pending = ""
		}
		return false
	}

	if level == s.Stable {
		s.Pending = ""
		return false
	}

	if s.Pending != level {
		s.Pending = level
		s.PendingSince = now
		return false
	}

	if now.Sub(s.PendingSince) >= d.debounceDuration {
		s.Stable = level
		s.Pending = ""
		return level == Pressed
	}
	return false
}

func levelOf(pressed bool) Level {
	if pressed {
		return Pressed
	}
	return Released
}

// IsBaselined returns whether both buttons have a stable baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// CurrentState returns the stable levels of both buttons.
func (d *Detector) CurrentState() (a, b Level) {
	return d.a.Stable, d.b.Stable
}

// Counts returns presses seen since startup.
func (d *Detector) Counts() PressCounts {
	return d.counts
}
