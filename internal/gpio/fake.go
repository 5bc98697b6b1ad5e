package gpio

import "errors"

// FakeReader is a test double that returns scripted button values.
type FakeReader struct {
	// Samples contains scripted (aPressed, bPressed) values to return.
	// Each call to Read() consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// Sample represents a single button reading (already in logical form).
type Sample struct {
	A bool // true = pressed
	B bool // true = pressed
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []Sample) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read() (bool, bool, error) {
	if f.ReadError != nil {
		return false, false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample.A, sample.B, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeDataReady asserts the data-ready line once every Every polls,
// emulating a sensor that needs a few polls per sample.
type FakeDataReady struct {
	// Every is the number of polls per assertion; values below 1 mean every poll.
	Every int

	// Never keeps the line deasserted, as with a disconnected sensor.
	Never bool

	// ReadError, if set, will be returned by Ready()
	ReadError error

	// Polls counts calls to Ready.
	Polls int

	// Closed tracks if Close was called
	Closed bool
}

// Ready reports the scripted line level.
func (f *FakeDataReady) Ready() (bool, error) {
	f.Polls++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if f.Never {
		return false, nil
	}
	if f.Every <= 1 {
		return true, nil
	}
	return f.Polls%f.Every == 0, nil
}

// Close marks the line as closed.
func (f *FakeDataReady) Close() error {
	f.Closed = true
	return nil
}

// FakeOutput records output changes.
type FakeOutput struct {
	// On is the current logical state.
	On bool

	// History contains every value passed to Set.
	History []bool

	// SetError, if set, will be returned by Set()
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// Set records the new state.
func (f *FakeOutput) Set(on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	f.History = append(f.History, on)
	return nil
}

// Close turns the output off and marks it closed.
func (f *FakeOutput) Close() error {
	f.On = false
	f.Closed = true
	return nil
}
