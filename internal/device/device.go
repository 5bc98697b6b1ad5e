// Package device is the process context. It owns the peripherals and wires
// the scheduler's sources to the buttons, the acquisition pipeline and the
// cloud connection.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sweeney/pulseox-sensor/internal/acquisition"
	"github.com/sweeney/pulseox-sensor/internal/cloud"
	"github.com/sweeney/pulseox-sensor/internal/gpio"
	"github.com/sweeney/pulseox-sensor/internal/iothub"
	"github.com/sweeney/pulseox-sensor/internal/logic"
	"github.com/sweeney/pulseox-sensor/internal/max30102"
	"github.com/sweeney/pulseox-sensor/internal/scheduler"
	"github.com/sweeney/pulseox-sensor/internal/status"
)

// Telemetry keys.
const (
	KeyHeartRate = "Heart_rate"
	KeySpO2      = "SpO2"
)

// Defaults for Config.
const (
	DefaultPollInterval = time.Millisecond
	DefaultDebounce     = 20 * time.Millisecond
	DefaultTickPeriod   = 20 * time.Second
)

// Config configures a Device.
type Config struct {
	PollInterval time.Duration
	Debounce     time.Duration
	RunTime      time.Duration
	TickPeriod   time.Duration
	Cloud        cloud.Config
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Debounce < 0 {
		c.Debounce = DefaultDebounce
	}
	if c.RunTime <= 0 {
		c.RunTime = acquisition.DefaultRunTime
	}
	if c.TickPeriod <= 0 {
		c.TickPeriod = DefaultTickPeriod
	}
}

// Peripherals are the opened hardware resources. Device.Close releases them.
type Peripherals struct {
	Buttons   gpio.Reader
	DataReady gpio.DataReady
	LED       gpio.Output
	Bus       io.Closer
}

// Measurer runs one acquisition. *acquisition.Pipeline implements it.
type Measurer interface {
	Run(limit time.Duration) (logic.Reading, bool)
}

// IdentitySource reads the sensor identity. *max30102.Device implements it.
type IdentitySource interface {
	CheckIdentity() (rev, part byte, err error)
}

// Device runs the endpoint on a single scheduler goroutine.
type Device struct {
	cfg     Config
	sched   *scheduler.Scheduler
	term    *scheduler.Termination
	periph  Peripherals
	meter   Measurer
	conn    *cloud.Connection
	tracker *status.Tracker

	detector *logic.Detector
	now      func() time.Time

	signalH scheduler.Handle
	sigMu   sync.Mutex
	signals []os.Signal

	closeOnce sync.Once
	closeErr  error
}

// New registers the button poll timer, the connectivity timer and the signal
// source on a fresh scheduler.
func New(cfg Config, p Peripherals, meter Measurer, prov iothub.Provisioner, network cloud.NetworkChecker, tracker *status.Tracker) (*Device, error) {
	if p.Buttons == nil {
		return nil, errors.New("device: no button reader")
	}
	if meter == nil {
		return nil, errors.New("device: no measurer")
	}
	cfg.applyDefaults()

	term := &scheduler.Termination{}
	d := &Device{
		cfg:      cfg,
		sched:    scheduler.New(term),
		term:     term,
		periph:   p,
		meter:    meter,
		tracker:  tracker,
		detector: logic.NewDetector(cfg.Debounce),
		now:      time.Now,
	}

	if _, err := d.sched.AddTimer("buttons", cfg.PollInterval, d.onButtons); err != nil {
		return nil, err
	}
	cloudH, err := d.sched.AddTimer("cloud", cfg.TickPeriod, d.onCloudTick)
	if err != nil {
		return nil, err
	}
	d.signalH = d.sched.AddReady("signal", d.onSignal)

	d.conn = cloud.New(cfg.Cloud, prov, network, d.sched.Timer(cloudH))
	if p.LED != nil {
		d.conn.SetLED(p.LED)
	}
	if tracker != nil {
		d.conn.SetObserver(tracker)
		tracker.PeriodChanged(cfg.TickPeriod)
	}
	return d, nil
}

// Termination returns the process-wide stop flag.
func (d *Device) Termination() *scheduler.Termination { return d.term }

// Connection returns the cloud connection.
func (d *Device) Connection() *cloud.Connection { return d.conn }

// Identify reads the sensor identity once. It is reported to the hub after
// every authentication, including a part ID that does not match. A sensor
// that does not answer is logged and left unreported.
func (d *Device) Identify(src IdentitySource) {
	rev, part, err := src.CheckIdentity()
	if d.tracker != nil {
		d.tracker.SetSensor(rev, part, err == nil)
	}
	switch {
	case err == nil:
		log.Printf("device: MAX30102 revision 0x%02X, part id 0x%02X", rev, part)
	case errors.Is(err, max30102.ErrPartID):
		log.Printf("device: sensor identity: %v (revision 0x%02X)", err, rev)
	default:
		log.Printf("device: sensor identity: %v", err)
		return
	}
	d.conn.SetIdentity(cloud.Identity{Revision: rev, PartID: part})
}

// Signal records an OS signal, requests termination and wakes the loop.
// It is safe to call from any goroutine.
func (d *Device) Signal(sig os.Signal) {
	d.sigMu.Lock()
	d.signals = append(d.signals, sig)
	d.sigMu.Unlock()
	d.term.Request()
	d.sched.Notify(d.signalH)
}

// Run dispatches scheduler cycles until termination is requested. It returns
// the first fatal error.
func (d *Device) Run(ctx context.Context) error {
	for !d.term.Requested() {
		if err := d.sched.RunOnce(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) onButtons() error {
	a, b, err := d.periph.Buttons.Read()
	if err != nil {
		return fmt.Errorf("read buttons: %w", err)
	}

	events := d.detector.Process(logic.Input{A: a, B: b, Time: d.now()})
	if d.tracker != nil {
		la, lb := d.detector.CurrentState()
		d.tracker.UpdateButtons(la, lb, d.detector.IsBaselined(), d.detector.Counts())
	}

	for _, ev := range events {
		log.Printf("device: %s pressed", ev.Type)
		switch ev.Type {
		case logic.EventButtonA:
			if err := d.conn.SendHeartbeat(); err != nil {
				log.Printf("device: heartbeat: %v", err)
			}
		case logic.EventButtonB:
			d.measure()
		}
	}
	return nil
}

// measure blocks the loop for the whole run.
func (d *Device) measure() {
	if d.tracker != nil {
		d.tracker.SetMeasuring(true)
	}
	reading, ok := d.meter.Run(d.cfg.RunTime)
	if d.tracker != nil {
		d.tracker.SetMeasuring(false)
		d.tracker.RecordMeasurement(reading, ok)
	}
	if !ok {
		log.Printf("device: measurement produced no valid reading, nothing sent")
		return
	}

	if err := d.conn.SendTelemetry(KeyHeartRate, fmt.Sprintf("%d", reading.HeartRate)); err != nil {
		log.Printf("device: %s: %v", KeyHeartRate, err)
	}
	if err := d.conn.SendTelemetry(KeySpO2, fmt.Sprintf("%.2f", reading.SpO2)); err != nil {
		log.Printf("device: %s: %v", KeySpO2, err)
	}
}

func (d *Device) onCloudTick() error {
	return d.conn.OnTick()
}

func (d *Device) onSignal() error {
	d.sigMu.Lock()
	sigs := d.signals
	d.signals = nil
	d.sigMu.Unlock()
	for _, s := range sigs {
		log.Printf("device: received %v, shutting down", s)
	}
	return nil
}

// Close destroys the cloud client and releases the peripherals in order:
// LED off, buttons, data-ready line, I2C bus. Later calls return the first
// result.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.conn.Close()

		var errs []error
		if led := d.periph.LED; led != nil {
			if err := led.Set(false); err != nil {
				errs = append(errs, fmt.Errorf("led off: %w", err))
			}
			if err := led.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close led: %w", err))
			}
		}
		if err := d.periph.Buttons.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close buttons: %w", err))
		}
		if r := d.periph.DataReady; r != nil {
			if err := r.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close data-ready: %w", err))
			}
		}
		if bus := d.periph.Bus; bus != nil {
			if err := bus.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
			}
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
