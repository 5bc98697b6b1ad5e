// Package status provides a thread-safe status tracker for the pulseox-sensor
// daemon. The scheduler goroutine writes it; HTTP handlers read snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pulseox-sensor/internal/cloud"
	"github.com/sweeney/pulseox-sensor/internal/logic"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	ScopeID    string
	PollMs     int64
	DebounceMs int64
	RunTimeMs  int64
	I2CBus     string
	HTTPPort   string
}

// Measurement is the outcome of the last acquisition run.
type Measurement struct {
	At      time.Time
	Valid   bool
	Reading logic.Reading
}

// Telemetry is the last telemetry pair handed to the cloud client.
type Telemetry struct {
	At    time.Time
	Key   string
	Value string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	A         logic.Level
	B         logic.Level
	Baselined bool
	Counts    logic.PressCounts

	Measuring bool
	Runs      int
	Last      *Measurement

	Cloud         cloud.State
	Period        time.Duration
	TelemetrySent int
	LastTelemetry *Telemetry
	LED           bool
	NprID         string

	SensorRevision byte
	SensorPartID   byte
	SensorOK       bool

	StartTime time.Time
	Now       time.Time
	Network   *NetworkInfo
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// cloud.Observer.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// UpdateButtons sets debounced button levels and press counts.
// Called from the button poll handler.
func (t *Tracker) UpdateButtons(a, b logic.Level, baselined bool, counts logic.PressCounts) {
	t.mu.Lock()
	t.snap.A = a
	t.snap.B = b
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMeasuring marks an acquisition run as started or finished.
func (t *Tracker) SetMeasuring(on bool) {
	t.mu.Lock()
	t.snap.Measuring = on
	t.mu.Unlock()
}

// RecordMeasurement stores the outcome of a finished run.
func (t *Tracker) RecordMeasurement(r logic.Reading, valid bool) {
	t.mu.Lock()
	t.snap.Runs++
	t.snap.Last = &Measurement{At: t.now(), Valid: valid, Reading: r}
	t.mu.Unlock()
}

// SetSensor records the identity read from the sensor.
func (t *Tracker) SetSensor(revision, partID byte, ok bool) {
	t.mu.Lock()
	t.snap.SensorRevision = revision
	t.snap.SensorPartID = partID
	t.snap.SensorOK = ok
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// StateChanged implements cloud.Observer.
func (t *Tracker) StateChanged(s cloud.State) {
	t.mu.Lock()
	t.snap.Cloud = s
	t.mu.Unlock()
}

// PeriodChanged implements cloud.Observer.
func (t *Tracker) PeriodChanged(p time.Duration) {
	t.mu.Lock()
	t.snap.Period = p
	t.mu.Unlock()
}

// TelemetrySent implements cloud.Observer.
func (t *Tracker) TelemetrySent(key, value string) {
	t.mu.Lock()
	t.snap.TelemetrySent++
	t.snap.LastTelemetry = &Telemetry{At: t.now(), Key: key, Value: value}
	t.mu.Unlock()
}

// DesiredApplied implements cloud.Observer.
func (t *Tracker) DesiredApplied(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch key {
	case cloud.KeyStatusLED:
		if on, ok := value.(bool); ok {
			t.snap.LED = on
		}
	case cloud.KeyNprID:
		if id, ok := value.(string); ok {
			t.snap.NprID = id
		}
	}
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Last != nil {
		m := *s.Last
		s.Last = &m
	}
	if s.LastTelemetry != nil {
		tl := *s.LastTelemetry
		s.LastTelemetry = &tl
	}
	s.Now = t.now()
	return s
}

var _ cloud.Observer = (*Tracker)(nil)
