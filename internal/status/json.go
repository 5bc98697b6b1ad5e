package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Ready         bool            `json:"ready"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	Buttons       ButtonsJSON     `json:"buttons"`
	Measurement   MeasurementJSON `json:"measurement"`
	Cloud         CloudJSON       `json:"cloud"`
	Sensor        SensorJSON      `json:"sensor"`
	Network       *NetworkJSON    `json:"network,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// ButtonsJSON reports debounced button levels and press counts.
type ButtonsJSON struct {
	A        string `json:"a"`
	B        string `json:"b"`
	APresses int    `json:"a_presses"`
	BPresses int    `json:"b_presses"`
}

// MeasurementJSON reports acquisition runs.
type MeasurementJSON struct {
	Running bool         `json:"running"`
	Runs    int          `json:"runs"`
	Last    *ReadingJSON `json:"last,omitempty"`
}

// ReadingJSON is the last run's result. HeartRate and SpO2 are only set when
// the run produced a valid reading.
type ReadingJSON struct {
	At        string   `json:"at"`
	Valid     bool     `json:"valid"`
	HeartRate *int     `json:"heart_rate,omitempty"`
	SpO2      *float64 `json:"spo2,omitempty"`
	Samples   int      `json:"samples"`
}

// CloudJSON reports the hub connection.
type CloudJSON struct {
	State         string         `json:"state"`
	PeriodSeconds int64          `json:"period_seconds"`
	TelemetrySent int            `json:"telemetry_sent"`
	LastTelemetry *TelemetryJSON `json:"last_telemetry,omitempty"`
	StatusLED     bool           `json:"status_led"`
	NprID         string         `json:"npr_id,omitempty"`
}

// TelemetryJSON is the last telemetry pair.
type TelemetryJSON struct {
	At    string `json:"at"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SensorJSON reports the sensor identity.
type SensorJSON struct {
	Detected bool   `json:"detected"`
	Revision string `json:"revision,omitempty"`
	PartID   string `json:"part_id,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	ScopeID    string `json:"scope_id"`
	PollMs     int64  `json:"poll_ms"`
	DebounceMs int64  `json:"debounce_ms"`
	RunTimeMs  int64  `json:"run_time_ms"`
	I2CBus     string `json:"i2c_bus"`
	HTTPPort   string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Buttons: ButtonsJSON{
			A:        levelOrUnknown(string(snap.A)),
			B:        levelOrUnknown(string(snap.B)),
			APresses: snap.Counts.A,
			BPresses: snap.Counts.B,
		},
		Measurement: MeasurementJSON{
			Running: snap.Measuring,
			Runs:    snap.Runs,
		},
		Cloud: CloudJSON{
			State:         snap.Cloud.String(),
			PeriodSeconds: int64(snap.Period / time.Second),
			TelemetrySent: snap.TelemetrySent,
			StatusLED:     snap.LED,
			NprID:         snap.NprID,
		},
		Sensor: SensorJSON{Detected: snap.SensorOK},
		Config: ConfigJSON{
			ScopeID:    snap.Config.ScopeID,
			PollMs:     snap.Config.PollMs,
			DebounceMs: snap.Config.DebounceMs,
			RunTimeMs:  snap.Config.RunTimeMs,
			I2CBus:     snap.Config.I2CBus,
			HTTPPort:   snap.Config.HTTPPort,
		},
	}

	if m := snap.Last; m != nil {
		r := &ReadingJSON{
			At:      m.At.UTC().Format(time.RFC3339),
			Valid:   m.Valid,
			Samples: m.Reading.Samples,
		}
		if m.Valid {
			hr, spo2 := m.Reading.HeartRate, m.Reading.SpO2
			r.HeartRate = &hr
			r.SpO2 = &spo2
		}
		inner.Measurement.Last = r
	}
	if tl := snap.LastTelemetry; tl != nil {
		inner.Cloud.LastTelemetry = &TelemetryJSON{
			At:    tl.At.UTC().Format(time.RFC3339),
			Key:   tl.Key,
			Value: tl.Value,
		}
	}
	if snap.SensorOK {
		inner.Sensor.Revision = fmt.Sprintf("0x%02X", snap.SensorRevision)
		inner.Sensor.PartID = fmt.Sprintf("0x%02X", snap.SensorPartID)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

func levelOrUnknown(l string) string {
	if l == "" {
		return "UNKNOWN"
	}
	return l
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
