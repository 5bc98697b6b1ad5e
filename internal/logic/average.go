package logic

// Accumulator sums vital-sign readings from buffers the algorithm marked valid.
type Accumulator struct {
	heartRateSum int
	spo2Sum      float64
	count        int
}

// Add records one valid reading.
func (a *Accumulator) Add(heartRate int, spo2 float64) {
	a.heartRateSum += heartRate
	a.spo2Sum += spo2
	a.count++
}

// Count returns the number of readings added.
func (a *Accumulator) Count() int {
	return a.count
}

// Mean returns the average reading. ok is false when nothing was added, in
// which case no reading may be reported.
func (a *Accumulator) Mean() (r Reading, ok bool) {
	if a.count == 0 {
		return Reading{}, false
	}
	return Reading{
		HeartRate: a.heartRateSum / a.count,
		SpO2:      a.spo2Sum / float64(a.count),
		Samples:   a.count,
	}, true
}
