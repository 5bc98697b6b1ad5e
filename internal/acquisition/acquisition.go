// Package acquisition runs a measurement: it fills buffer pairs from the
// sensor FIFO, paced by the data-ready line, feeds each pair to the oximetry
// algorithm and averages the valid results.
package acquisition

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/sweeney/pulseox-sensor/internal/gpio"
	"github.com/sweeney/pulseox-sensor/internal/logic"
	"github.com/sweeney/pulseox-sensor/internal/oximetry"
)

// Defaults.
const (
	DefaultRunTime       = 6 * time.Second
	DefaultSampleTimeout = time.Second
	maxReadErrors        = 10 // per buffer
)

// ErrNoData is returned when the data-ready line stays deasserted.
var ErrNoData = errors.New("acquisition: sensor data-ready timeout")

// Sensor is the acquisition primitive. *max30102.Device implements it.
type Sensor interface {
	Init() error
	ReadFIFO() (red, ir uint32, err error)
	Shutdown(on bool) error
	CheckIdentity() (rev, part byte, err error)
}

// Algorithm derives vitals from an IR and a red buffer of equal length.
type Algorithm func(ir, red []uint32) oximetry.Result

// Pipeline owns the sensor for the duration of each run.
type Pipeline struct {
	sensor Sensor
	ready  gpio.DataReady

	Algorithm     Algorithm
	BufferSize    int
	SampleTimeout time.Duration

	now   func() time.Time
	yield func()
}

// New creates a Pipeline using the oximetry algorithm.
func New(sensor Sensor, ready gpio.DataReady) *Pipeline {
	return &Pipeline{
		sensor:        sensor,
		ready:         ready,
		Algorithm:     oximetry.Compute,
		BufferSize:    oximetry.BufferSize,
		SampleTimeout: DefaultSampleTimeout,
		now:           time.Now,
		yield:         runtime.Gosched,
	}
}

// Run measures for limit and returns the mean of the valid readings. ok is
// false when no buffer produced a valid reading; nothing may be reported
// then. The sensor is shut down before Run returns.
//
// Run busy-waits on the data-ready line and blocks its caller for the whole
// measurement.
func (p *Pipeline) Run(limit time.Duration) (reading logic.Reading, ok bool) {
	if err := p.sensor.Init(); err != nil {
		log.Printf("acquisition: sensor init: %v", err)
	}
	defer func() {
		if err := p.sensor.Shutdown(true); err != nil {
			log.Printf("acquisition: sensor shutdown: %v", err)
		}
	}()

	rev, part, err := p.sensor.CheckIdentity()
	if err != nil {
		log.Printf("acquisition: sensor identity: %v", err)
	} else {
		log.Printf("acquisition: MAX30102 revision 0x%02X, part id 0x%02X", rev, part)
	}

	var acc logic.Accumulator
	ir := make([]uint32, p.BufferSize)
	red := make([]uint32, p.BufferSize)
	buffers := 0

	start := p.now()
	for p.now().Sub(start) < limit {
		if err := p.fill(ir, red); err != nil {
			log.Printf("acquisition: %v, ending run", err)
			break
		}
		buffers++

		res := p.Algorithm(ir, red)
		if !res.HeartRateValid || !res.SpO2Valid {
			log.Printf("acquisition: buffer %d invalid (hr valid %t, spo2 valid %t)",
				buffers, res.HeartRateValid, res.SpO2Valid)
			continue
		}
		acc.Add(res.HeartRate, res.SpO2)
		log.Printf("acquisition: buffer %d: heart rate %d bpm, SpO2 %.2f%%", buffers, res.HeartRate, res.SpO2)
	}

	reading, ok = acc.Mean()
	if !ok {
		log.Printf("acquisition: no valid readings in %d buffers", buffers)
		return reading, false
	}
	log.Printf("acquisition: %d of %d buffers valid: heart rate %d bpm, SpO2 %.2f%%",
		reading.Samples, buffers, reading.HeartRate, reading.SpO2)
	return reading, true
}

// fill reads one sample pair per data-ready assertion, in index order.
func (p *Pipeline) fill(ir, red []uint32) error {
	readErrors := 0
	for i := 0; i < len(ir); {
		if err := p.waitReady(); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		r, x, err := p.sensor.ReadFIFO()
		if err != nil {
			readErrors++
			log.Printf("acquisition: FIFO read: %v", err)
			if readErrors >= maxReadErrors {
				return fmt.Errorf("sample %d: %d FIFO read errors: %w", i, readErrors, err)
			}
			continue
		}
		red[i] = r
		ir[i] = x
		i++
	}
	return nil
}

// waitReady spins until the data-ready line asserts.
func (p *Pipeline) waitReady() error {
	deadline := p.now().Add(p.SampleTimeout)
	for {
		ready, err := p.ready.Ready()
		if err != nil {
			return fmt.Errorf("data-ready line: %w", err)
		}
		if ready {
			return nil
		}
		if !p.now().Before(deadline) {
			return ErrNoData
		}
		p.yield()
	}
}
