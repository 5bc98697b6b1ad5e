// Command pulseox-sensor measures heart rate and SpO2 with a MAX30102 and
// sends the readings to Azure IoT Hub.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sweeney/pulseox-sensor/internal/acquisition"
	"github.com/sweeney/pulseox-sensor/internal/device"
	"github.com/sweeney/pulseox-sensor/internal/gpio"
	"github.com/sweeney/pulseox-sensor/internal/i2c"
	"github.com/sweeney/pulseox-sensor/internal/iothub"
	"github.com/sweeney/pulseox-sensor/internal/max30102"
	"github.com/sweeney/pulseox-sensor/internal/status"
	"github.com/sweeney/pulseox-sensor/internal/web"
)

// Exit codes.
const (
	exitFatal = 1
	exitUsage = 2
)

func main() {
	opts, err := loadOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "pulseox-sensor: %v\n", err)
		os.Exit(exitUsage)
	}

	if err := run(opts); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(exitFatal)
	}
}

// openPeripherals opens the bus and the GPIO lines in order. On failure the
// ones already open are released.
func openPeripherals(o options) (device.Peripherals, *i2c.Device, error) {
	var p device.Peripherals
	release := func() {
		if p.LED != nil {
			p.LED.Close()
		}
		if p.Buttons != nil {
			p.Buttons.Close()
		}
		if p.DataReady != nil {
			p.DataReady.Close()
		}
		if p.Bus != nil {
			p.Bus.Close()
		}
	}

	bus, err := i2c.Open(o.I2CBus, o.I2CTimeout)
	if err != nil {
		return p, nil, fmt.Errorf("init i2c: %w", err)
	}
	p.Bus = bus

	buttons, err := gpio.NewRealReader(o.Chip, o.PinA, o.PinB)
	if err != nil {
		release()
		return device.Peripherals{}, nil, fmt.Errorf("init buttons: %w", err)
	}
	p.Buttons = buttons

	ready, err := gpio.NewRealDataReady(o.Chip, o.PinInt)
	if err != nil {
		release()
		return device.Peripherals{}, nil, fmt.Errorf("init data-ready line: %w", err)
	}
	p.DataReady = ready

	led, err := gpio.NewRealOutput(o.Chip, o.PinLED)
	if err != nil {
		release()
		return device.Peripherals{}, nil, fmt.Errorf("init status led: %w", err)
	}
	p.LED = led

	return p, bus, nil
}

func run(o options) error {
	if o.PrintIdentity {
		return printIdentity(o)
	}

	periph, bus, err := openPeripherals(o)
	if err != nil {
		return err
	}

	sensor := max30102.New(i2c.NewBus(bus), max30102.DefaultConfig())
	pipeline := acquisition.New(sensor, periph.DataReady)
	pipeline.SampleTimeout = o.SampleTimeout

	creds, err := iothub.LoadCredentials(o.CertFile, o.KeyFile, o.CAFile)
	if err != nil {
		// provisioning reports DeviceAuthNotReady and backs off
		log.Printf("device credentials: %v", err)
	} else {
		log.Printf("device registration id %q", creds.RegistrationID)
	}
	prov := iothub.NewMQTTProvisioner(o.DPSEndpoint, creds)

	tracker := status.NewTracker(time.Now(), status.Config{
		ScopeID:    o.ScopeID,
		PollMs:     o.Poll.Milliseconds(),
		DebounceMs: o.Debounce.Milliseconds(),
		RunTimeMs:  o.RunTime.Milliseconds(),
		I2CBus:     o.I2CBus,
		HTTPPort:   o.HTTPAddr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	dev, err := device.New(o.deviceConfig(), periph, pipeline, prov, newNetworkReady(), tracker)
	if err != nil {
		for _, c := range []interface{ Close() error }{periph.LED, periph.Buttons, periph.DataReady, periph.Bus} {
			c.Close()
		}
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	dev.Identify(sensor)
	if err := sensor.Shutdown(true); err != nil {
		log.Printf("sensor shutdown: %v", err)
	}

	if o.HTTPAddr != "" {
		srv := web.New(o.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.HTTPAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for s := range sigCh {
			dev.Signal(s)
		}
	}()

	log.Printf("started: scope=%s poll=%v debounce=%v run-time=%v bus=%s",
		o.ScopeID, o.Poll, o.Debounce, o.RunTime, o.I2CBus)

	return dev.Run(context.Background())
}

// printIdentity reads the sensor identity and exits, leaving the GPIO lines
// untouched.
func printIdentity(o options) error {
	bus, err := i2c.Open(o.I2CBus, o.I2CTimeout)
	if err != nil {
		return fmt.Errorf("init i2c: %w", err)
	}
	defer bus.Close()

	rev, part, err := max30102.New(i2c.NewBus(bus), max30102.DefaultConfig()).CheckIdentity()
	if err != nil && !errors.Is(err, max30102.ErrPartID) {
		return fmt.Errorf("read identity: %w", err)
	}
	fmt.Printf("MAX30102 revision: 0x%02X, part id: 0x%02X\n", rev, part)
	return err
}
