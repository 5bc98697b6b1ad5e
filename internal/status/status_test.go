package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/pulseox-sensor/internal/cloud"
	"github.com/sweeney/pulseox-sensor/internal/logic"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTracker(cfg Config) *Tracker {
	tr := NewTracker(t0, cfg)
	tr.now = func() time.Time { return t0.Add(15 * time.Minute) }
	return tr
}

func TestNewTracker(t *testing.T) {
	cfg := Config{ScopeID: "0ne000A1B2C", PollMs: 1, RunTimeMs: 6000, HTTPPort: ":80"}
	tr := NewTracker(t0, cfg)

	snap := tr.Snapshot()
	if snap.StartTime != t0 {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, t0)
	}
	if snap.Config != cfg {
		t.Errorf("Config: got %+v, want %+v", snap.Config, cfg)
	}
	if snap.Cloud != cloud.Disconnected {
		t.Errorf("Cloud: got %v, want DISCONNECTED", snap.Cloud)
	}
	if snap.Baselined {
		t.Error("expected Baselined=false initially")
	}
	if snap.Last != nil || snap.LastTelemetry != nil {
		t.Error("expected no measurement or telemetry initially")
	}
}

func TestUpdateButtons(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.UpdateButtons(logic.Pressed, logic.Released, true, logic.PressCounts{A: 2, B: 1})

	snap := tr.Snapshot()
	if snap.A != logic.Pressed || snap.B != logic.Released {
		t.Errorf("levels: got %s/%s, want PRESSED/RELEASED", snap.A, snap.B)
	}
	if !snap.Baselined {
		t.Error("expected Baselined=true")
	}
	if snap.Counts.A != 2 || snap.Counts.B != 1 {
		t.Errorf("Counts: got %+v", snap.Counts)
	}
}

func TestRecordMeasurement(t *testing.T) {
	tr := fixedTracker(Config{})
	tr.SetMeasuring(true)
	if !tr.Snapshot().Measuring {
		t.Fatal("expected Measuring=true")
	}

	tr.RecordMeasurement(logic.Reading{HeartRate: 72, SpO2: 98.5, Samples: 2}, true)
	tr.SetMeasuring(false)
	tr.RecordMeasurement(logic.Reading{}, false)

	snap := tr.Snapshot()
	if snap.Measuring {
		t.Error("expected Measuring=false")
	}
	if snap.Runs != 2 {
		t.Errorf("Runs: got %d, want 2", snap.Runs)
	}
	if snap.Last == nil || snap.Last.Valid {
		t.Fatalf("Last: got %+v, want invalid run", snap.Last)
	}
}

func TestObserverCallbacks(t *testing.T) {
	tr := fixedTracker(Config{})
	var obs cloud.Observer = tr

	obs.StateChanged(cloud.Authenticated)
	obs.PeriodChanged(20 * time.Second)
	obs.TelemetrySent("Heart_rate", "72")
	obs.TelemetrySent("SpO2", "98.50")
	obs.DesiredApplied(cloud.KeyStatusLED, true)
	obs.DesiredApplied(cloud.KeyNprID, "20054802316")
	obs.DesiredApplied("unknown", 5)

	snap := tr.Snapshot()
	if snap.Cloud != cloud.Authenticated {
		t.Errorf("Cloud: got %v, want AUTHENTICATED", snap.Cloud)
	}
	if snap.Period != 20*time.Second {
		t.Errorf("Period: got %v, want 20s", snap.Period)
	}
	if snap.TelemetrySent != 2 {
		t.Errorf("TelemetrySent: got %d, want 2", snap.TelemetrySent)
	}
	if snap.LastTelemetry == nil || snap.LastTelemetry.Key != "SpO2" || snap.LastTelemetry.Value != "98.50" {
		t.Errorf("LastTelemetry: got %+v", snap.LastTelemetry)
	}
	if !snap.LED {
		t.Error("expected LED=true")
	}
	if snap.NprID != "20054802316" {
		t.Errorf("NprID: got %q", snap.NprID)
	}
}

func TestDesiredAppliedIgnoresWrongType(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.DesiredApplied(cloud.KeyNprID, "abc")
	tr.DesiredApplied(cloud.KeyNprID, 12)
	tr.DesiredApplied(cloud.KeyStatusLED, "true")

	snap := tr.Snapshot()
	if snap.NprID != "abc" {
		t.Errorf("NprID: got %q, want abc", snap.NprID)
	}
	if snap.LED {
		t.Error("LED should be unchanged by a non-bool value")
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: t0,
		Now:       t0.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(t0, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := fixedTracker(Config{})
	tr.UpdateButtons(logic.Pressed, logic.Released, true, logic.PressCounts{A: 1})
	tr.RecordMeasurement(logic.Reading{HeartRate: 60}, true)

	snap1 := tr.Snapshot()
	snap1.Last.Reading.HeartRate = 999

	tr.UpdateButtons(logic.Released, logic.Pressed, true, logic.PressCounts{A: 1, B: 1})

	if snap1.A != logic.Pressed {
		t.Error("snapshot should be a copy; A was modified")
	}
	if got := tr.Snapshot().Last.Reading.HeartRate; got != 60 {
		t.Errorf("tracker measurement changed through snapshot: got %d", got)
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		A:         logic.Released,
		B:         logic.Pressed,
		Baselined: true,
		Counts:    logic.PressCounts{A: 5, B: 2},
		Runs:      3,
		Last: &Measurement{
			At:      t0.Add(10 * time.Minute),
			Valid:   true,
			Reading: logic.Reading{HeartRate: 72, SpO2: 98.25, Samples: 2},
		},
		Cloud:          cloud.Authenticated,
		Period:         20 * time.Second,
		TelemetrySent:  4,
		LastTelemetry:  &Telemetry{At: t0.Add(10 * time.Minute), Key: "SpO2", Value: "98.25"},
		LED:            true,
		SensorRevision: 0x03,
		SensorPartID:   0x15,
		SensorOK:       true,
		StartTime:      t0,
		Now:            t0.Add(15 * time.Minute),
		Config:         Config{ScopeID: "0ne000A1B2C", PollMs: 1, DebounceMs: 50, RunTimeMs: 6000, I2CBus: "/dev/i2c-1", HTTPPort: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status

	if !s.Ready {
		t.Error("expected Ready=true")
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if s.Buttons.B != "PRESSED" || s.Buttons.APresses != 5 {
		t.Errorf("Buttons: got %+v", s.Buttons)
	}
	if s.Cloud.State != "AUTHENTICATED" || s.Cloud.PeriodSeconds != 20 {
		t.Errorf("Cloud: got %+v", s.Cloud)
	}
	if s.Measurement.Last == nil || s.Measurement.Last.HeartRate == nil || *s.Measurement.Last.HeartRate != 72 {
		t.Fatalf("Measurement.Last: got %+v", s.Measurement.Last)
	}
	if *s.Measurement.Last.SpO2 != 98.25 {
		t.Errorf("SpO2: got %v, want 98.25", *s.Measurement.Last.SpO2)
	}
	if s.Sensor.Revision != "0x03" || s.Sensor.PartID != "0x15" {
		t.Errorf("Sensor: got %+v", s.Sensor)
	}
	if s.Config.I2CBus != "/dev/i2c-1" {
		t.Errorf("Config.I2CBus: got %q", s.Config.I2CBus)
	}
	if s.Network != nil {
		t.Error("expected Network to be omitted")
	}
}

func TestFormatJSONUnknownLevels(t *testing.T) {
	snap := Snapshot{StartTime: t0, Now: t0.Add(time.Second)}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Buttons.A != "UNKNOWN" {
		t.Errorf("A: got %q, want UNKNOWN", parsed.Status.Buttons.A)
	}
	if parsed.Status.Cloud.State != "DISCONNECTED" {
		t.Errorf("Cloud.State: got %q, want DISCONNECTED", parsed.Status.Cloud.State)
	}
}

func TestFormatJSONInvalidRunOmitsVitals(t *testing.T) {
	snap := Snapshot{
		StartTime: t0,
		Now:       t0,
		Runs:      1,
		Last:      &Measurement{At: t0},
	}

	data := string(FormatJSON(snap))
	if strings.Contains(data, "heart_rate") || strings.Contains(data, "spo2") {
		t.Errorf("invalid run should not carry vitals:\n%s", data)
	}
	if !strings.Contains(data, `"valid": false`) {
		t.Errorf("expected valid=false:\n%s", data)
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: t0,
		Now:       t0.Add(time.Minute),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateButtons(logic.Pressed, logic.Released, true, logic.PressCounts{A: i})
			tr.StateChanged(cloud.State(i % 3))
			tr.TelemetrySent("Heart_rate", "72")
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
