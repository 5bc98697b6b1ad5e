// Package cloud keeps the device connected to its IoT hub: provisioning,
// reconnect backoff, telemetry, reported state and desired-property updates.
//
// A Connection is driven by the connectivity timer and by callbacks from the
// iothub client. Both run on the scheduler goroutine, so it is not locked.
package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/pulseox-sensor/internal/gpio"
	"github.com/sweeney/pulseox-sensor/internal/iothub"
	"github.com/sweeney/pulseox-sensor/internal/logic"
)

// State is the connectivity state.
type State int

const (
	Disconnected State = iota
	Provisioning
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Provisioning:
		return "PROVISIONING"
	case Authenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// Twin property names.
const (
	KeyStatusLED       = "StatusLED"
	KeyNprID           = "nprId"
	KeyRevision        = "max30102_revision"
	KeyPartID          = "max30102_part_id"
	KeyDeviceHeartbeat = "device_heartbeat"
)

// MaxNprIDLength is the longest nprId accepted from the cloud.
const MaxNprIDLength = 11

// Defaults for Config.
const (
	DefaultProvisioningTimeout = 10 * time.Second
	DefaultKeepAlive           = 20 * time.Second
)

// ErrNotAuthenticated is returned by sends while the hub is not connected.
var ErrNotAuthenticated = errors.New("cloud: not authenticated")

// NetworkChecker reports whether the network is up.
type NetworkChecker interface {
	NetworkReady() (bool, error)
}

// NetworkFunc adapts a function to NetworkChecker.
type NetworkFunc func() (bool, error)

func (f NetworkFunc) NetworkReady() (bool, error) { return f() }

// TimerControl re-arms the connectivity timer. scheduler.TimerRef implements it.
type TimerControl interface {
	SetPeriod(time.Duration) error
}

// Observer is told about externally visible changes. The status tracker
// implements it.
type Observer interface {
	StateChanged(s State)
	PeriodChanged(p time.Duration)
	TelemetrySent(key, value string)
	DesiredApplied(key string, value any)
}

// Config configures a Connection.
type Config struct {
	ScopeID             string
	ProvisioningTimeout time.Duration
	KeepAlive           time.Duration
}

// Identity is the sensor identity reported after authentication.
type Identity struct {
	Revision byte
	PartID   byte
}

// Connection is the connectivity state machine.
type Connection struct {
	cfg         Config
	provisioner iothub.Provisioner
	network     NetworkChecker
	timer       TimerControl
	backoff     *logic.Backoff

	led      gpio.Output
	identity *Identity
	observer Observer

	state  State
	client iothub.Client
	ledOn  bool
	nprID  string
}

// New creates a Disconnected Connection.
func New(cfg Config, provisioner iothub.Provisioner, network NetworkChecker, timer TimerControl) *Connection {
	if cfg.ProvisioningTimeout <= 0 {
		cfg.ProvisioningTimeout = DefaultProvisioningTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	return &Connection{
		cfg:         cfg,
		provisioner: provisioner,
		network:     network,
		timer:       timer,
		backoff:     logic.NewBackoff(),
	}
}

// SetLED sets the output driven by the StatusLED desired property.
func (c *Connection) SetLED(led gpio.Output) { c.led = led }

// SetIdentity sets the sensor identity reported on authentication.
func (c *Connection) SetIdentity(id Identity) { c.identity = &id }

// SetObserver registers an observer.
func (c *Connection) SetObserver(o Observer) { c.observer = o }

// State returns the current connectivity state.
func (c *Connection) State() State { return c.state }

// Period returns the current connectivity poll period.
func (c *Connection) Period() time.Duration { return c.backoff.Period() }

// LED returns the last StatusLED value applied from the cloud.
func (c *Connection) LED() bool { return c.ledOn }

// NprID returns the last nprId applied from the cloud.
func (c *Connection) NprID() string { return c.nprID }

// OnTick handles a connectivity timer expiry.
func (c *Connection) OnTick() error {
	ready, err := c.network.NetworkReady()
	if err != nil {
		log.Printf("cloud: failed to get network state: %v", err)
		ready = false
	}

	if ready && c.state == Disconnected {
		c.connect()
	}

	if c.client != nil && c.state != Disconnected {
		c.client.DoWork()
	}
	return nil
}

func (c *Connection) connect() {
	c.setState(Provisioning)
	if c.client != nil {
		c.client.Destroy()
		c.client = nil
	}

	client, err := c.provisioner.Create(c.cfg.ScopeID, c.cfg.ProvisioningTimeout)
	if err != nil {
		log.Printf("cloud: provisioning failed: %v", err)
		c.setState(Disconnected)
		c.failed()
		return
	}

	c.client = client

	if err := client.SetOption(iothub.OptionKeepAlive, c.cfg.KeepAlive); err != nil {
		log.Printf("cloud: failure setting option %q: %v", iothub.OptionKeepAlive, err)
	}
	client.SetConnectionStatusCallback(c.onStatusChanged)
	client.SetTwinCallback(c.onTwinUpdate)
	log.Printf("cloud: provisioned, waiting for hub connection")
}

// failed applies the backoff after a failed attempt.
func (c *Connection) failed() {
	p := c.backoff.Failure()
	c.rearm(p)
	log.Printf("cloud: will retry in %d seconds", int(p/time.Second))
}

func (c *Connection) rearm(p time.Duration) {
	if err := c.timer.SetPeriod(p); err != nil {
		log.Printf("cloud: re-arm timer: %v", err)
	}
	if c.observer != nil {
		c.observer.PeriodChanged(p)
	}
}

func (c *Connection) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.observer != nil {
		c.observer.StateChanged(s)
	}
}

func (c *Connection) onStatusChanged(status iothub.ConnectionStatus, reason iothub.StatusReason) {
	log.Printf("cloud: hub status %s (%s)", status, reason)

	if status == iothub.Authenticated {
		if c.state == Authenticated {
			return
		}
		c.setState(Authenticated)
		if c.backoff.Period() != c.backoff.Default {
			c.rearm(c.backoff.Reset())
		} else {
			c.backoff.Reset()
		}
		c.reportIdentity()
		return
	}

	switch c.state {
	case Provisioning:
		c.setState(Disconnected)
		c.failed()
	case Authenticated:
		c.setState(Disconnected)
	}
}

func (c *Connection) reportIdentity() {
	if c.identity == nil {
		return
	}
	if err := c.ReportState(KeyRevision, fmt.Sprintf("0x%02X", c.identity.Revision)); err != nil {
		log.Printf("cloud: report %s: %v", KeyRevision, err)
	}
	if err := c.ReportState(KeyPartID, fmt.Sprintf("0x%02X", c.identity.PartID)); err != nil {
		log.Printf("cloud: report %s: %v", KeyPartID, err)
	}
}

// SendTelemetry sends one key/value pair. Delivery is only logged.
func (c *Connection) SendTelemetry(key, value string) error {
	if c.state != Authenticated || c.client == nil {
		log.Printf("cloud: not authenticated, dropping %s", key)
		return ErrNotAuthenticated
	}

	payload := SerializeTelemetry(key, value)
	log.Printf("cloud: sending telemetry %s", payload)
	msg := iothub.NewMessage([]byte(payload))
	err := c.client.SendEventAsync(msg, func(r iothub.ConfirmationResult) {
		log.Printf("cloud: telemetry %s delivery %s", key, r)
	})
	if err != nil {
		return fmt.Errorf("cloud: send telemetry %s: %w", key, err)
	}
	if c.observer != nil {
		c.observer.TelemetrySent(key, value)
	}
	return nil
}

// SendHeartbeat sends the device heartbeat telemetry.
func (c *Connection) SendHeartbeat() error {
	return c.SendTelemetry(KeyDeviceHeartbeat, "True")
}

// ReportState sends a reported property on the acknowledged twin channel.
func (c *Connection) ReportState(key string, value any) error {
	if c.state != Authenticated || c.client == nil {
		log.Printf("cloud: not authenticated, not reporting %s", key)
		return ErrNotAuthenticated
	}

	payload, err := SerializeReport(key, value)
	if err != nil {
		return err
	}
	err = c.client.SendReportedStateAsync(payload, func(status int) {
		log.Printf("cloud: reported %s, hub status %d", key, status)
	})
	if err != nil {
		return fmt.Errorf("cloud: report %s: %w", key, err)
	}
	log.Printf("cloud: reported state %s", payload)
	return nil
}

func (c *Connection) onTwinUpdate(_ iothub.TwinUpdateState, payload []byte) {
	desired, err := ParseDesired(payload)
	if err != nil {
		log.Printf("cloud: discarding twin update: %v", err)
		return
	}

	if raw, ok := desired[KeyStatusLED]; ok {
		c.applyStatusLED(raw)
	}
	if raw, ok := desired[KeyNprID]; ok {
		c.applyNprID(raw)
	}
}

func (c *Connection) applyStatusLED(raw json.RawMessage) {
	var on bool
	if err := json.Unmarshal(raw, &on); err != nil {
		log.Printf("cloud: %s: invalid value %s", KeyStatusLED, raw)
		return
	}
	if c.led != nil {
		if err := c.led.Set(on); err != nil {
			log.Printf("cloud: %s: set LED: %v", KeyStatusLED, err)
			return
		}
	}
	c.ledOn = on
	c.applied(KeyStatusLED, on)
}

func (c *Connection) applyNprID(raw json.RawMessage) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		log.Printf("cloud: %s: invalid value %s", KeyNprID, raw)
		return
	}
	if len(id) > MaxNprIDLength {
		log.Printf("cloud: %s: %d characters exceeds limit of %d", KeyNprID, len(id), MaxNprIDLength)
		return
	}
	c.nprID = id
	c.applied(KeyNprID, id)
}

func (c *Connection) applied(key string, value any) {
	if c.observer != nil {
		c.observer.DesiredApplied(key, value)
	}
	if err := c.ReportState(key, value); err != nil {
		log.Printf("cloud: acknowledge %s: %v", key, err)
	}
}

// Close destroys the client.
func (c *Connection) Close() {
	if c.client != nil {
		c.client.Destroy()
		c.client = nil
	}
	c.setState(Disconnected)
}
