package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/pulseox-sensor/internal/acquisition"
	"github.com/sweeney/pulseox-sensor/internal/cloud"
	"github.com/sweeney/pulseox-sensor/internal/device"
	"github.com/sweeney/pulseox-sensor/internal/gpio"
	"github.com/sweeney/pulseox-sensor/internal/iothub"
)

const envPrefix = "PULSEOX"

// errNoScope means the DPS ID scope was given neither as a flag, an
// environment variable, a config file key nor a positional argument.
var errNoScope = errors.New("no DPS scope id: pass --scope-id, set PULSEOX_SCOPE_ID or give it as the first argument")

// options is the resolved daemon configuration.
type options struct {
	ScopeID     string
	DPSEndpoint string
	CertFile    string
	KeyFile     string
	CAFile      string

	I2CBus     string
	I2CTimeout time.Duration
	Chip       string
	PinA       int
	PinB       int
	PinInt     int
	PinLED     int

	Poll                time.Duration
	Debounce            time.Duration
	RunTime             time.Duration
	SampleTimeout       time.Duration
	ProvisioningTimeout time.Duration
	KeepAlive           time.Duration

	HTTPAddr      string
	PrintIdentity bool
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("pulseox-sensor", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "Optional config file (yaml, toml or json)")
	fs.String("scope-id", "", "Azure DPS ID scope (or first positional argument)")
	fs.String("dps-endpoint", iothub.DefaultDPSEndpoint, "Azure DPS MQTT endpoint")
	fs.String("cert", "/etc/pulseox/device.pem", "Device certificate (PEM); its CN is the registration id")
	fs.String("key", "/etc/pulseox/device.key", "Device private key (PEM)")
	fs.String("ca", "", "CA bundle for the DPS and hub endpoints (empty uses the system roots)")

	fs.String("i2c-bus", "/dev/i2c-1", "I2C bus device node")
	fs.Duration("i2c-timeout", 100*time.Millisecond, "I2C adapter timeout")
	fs.String("gpio-chip", gpio.DefaultChip, "GPIO character device")
	fs.Int("pin-a", gpio.DefaultPinA, "BCM pin number for button A (heartbeat)")
	fs.Int("pin-b", gpio.DefaultPinB, "BCM pin number for button B (measure)")
	fs.Int("pin-int", gpio.DefaultPinInt, "BCM pin number for the MAX30102 INT line")
	fs.Int("pin-led", gpio.DefaultPinStatus, "BCM pin number for the status LED")

	fs.Duration("poll", device.DefaultPollInterval, "Button polling interval")
	fs.Duration("debounce", device.DefaultDebounce, "Button debounce duration")
	fs.Duration("run-time", acquisition.DefaultRunTime, "Measurement duration")
	fs.Duration("sample-timeout", acquisition.DefaultSampleTimeout, "Data-ready timeout per sample")
	fs.Duration("provisioning-timeout", cloud.DefaultProvisioningTimeout, "DPS registration timeout")
	fs.Duration("keepalive", cloud.DefaultKeepAlive, "IoT Hub MQTT keep-alive")

	fs.String("http", ":80", "HTTP status address (empty to disable)")
	fs.Bool("print-identity", false, "Print the sensor revision and part id and exit")
	return fs
}

// loadOptions resolves flags, PULSEOX_* environment variables and the
// optional config file, in that order of precedence.
func loadOptions(args []string) (options, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return options{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return options{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	o := options{
		ScopeID:     v.GetString("scope-id"),
		DPSEndpoint: v.GetString("dps-endpoint"),
		CertFile:    v.GetString("cert"),
		KeyFile:     v.GetString("key"),
		CAFile:      v.GetString("ca"),

		I2CBus:     v.GetString("i2c-bus"),
		I2CTimeout: v.GetDuration("i2c-timeout"),
		Chip:       v.GetString("gpio-chip"),
		PinA:       v.GetInt("pin-a"),
		PinB:       v.GetInt("pin-b"),
		PinInt:     v.GetInt("pin-int"),
		PinLED:     v.GetInt("pin-led"),

		Poll:                v.GetDuration("poll"),
		Debounce:            v.GetDuration("debounce"),
		RunTime:             v.GetDuration("run-time"),
		SampleTimeout:       v.GetDuration("sample-timeout"),
		ProvisioningTimeout: v.GetDuration("provisioning-timeout"),
		KeepAlive:           v.GetDuration("keepalive"),

		HTTPAddr:      v.GetString("http"),
		PrintIdentity: v.GetBool("print-identity"),
	}
	if o.ScopeID == "" && fs.NArg() > 0 {
		o.ScopeID = fs.Arg(0)
	}
	if o.ScopeID == "" && !o.PrintIdentity {
		return o, errNoScope
	}
	return o, nil
}

func (o options) deviceConfig() device.Config {
	return device.Config{
		PollInterval: o.Poll,
		Debounce:     o.Debounce,
		RunTime:      o.RunTime,
		Cloud: cloud.Config{
			ScopeID:             o.ScopeID,
			ProvisioningTimeout: o.ProvisioningTimeout,
			KeepAlive:           o.KeepAlive,
		},
	}
}
