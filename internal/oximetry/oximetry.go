// Package oximetry derives heart rate and blood oxygen saturation from a
// window of red and infrared PPG samples using the autocorrelation method
// published by R. Fraczkiewicz for the MAX30102.
//
// Compute is a pure function: identical buffers always give identical results.
package oximetry

import "math"

// Sampling parameters the constants below are tuned for.
const (
	SampleRate = 25                      // effective samples per second
	Window     = 4                       // seconds per buffer
	BufferSize = SampleRate * Window     // samples per channel per buffer
	MaxHR      = 125                     // bpm
	MinHR      = 40                      // bpm
	lowestLag  = 60 * SampleRate / MaxHR // 12 samples
	highestLag = 60 * SampleRate / MinHR // 37 samples
)

const (
	minAutocorrelationRatio = 0.5
	minPearsonCorrelation   = 0.8
)

// Invalid is reported for metrics that could not be computed.
const Invalid = -999

// Result is the algorithm output for one buffer pair.
type Result struct {
	SpO2           float64
	SpO2Valid      bool
	HeartRate      int
	HeartRateValid bool
	// Ratio is the autocorrelation at the detected period relative to lag 0.
	Ratio float64
	// Correlation is the Pearson correlation between the red and IR signals.
	Correlation float64
}

// Compute runs the algorithm over equal-length IR and red buffers.
func Compute(ir, red []uint32) Result {
	res := Result{SpO2: Invalid, HeartRate: Invalid}
	n := len(ir)
	if n == 0 || len(red) != n || n <= highestLag {
		return res
	}

	var irMean, redMean float64
	for k := 0; k < n; k++ {
		irMean += float64(ir[k])
		redMean += float64(red[k])
	}
	irMean /= float64(n)
	redMean /= float64(n)

	x := make([]float64, n) // IR, AC only
	y := make([]float64, n) // red, AC only
	for k := 0; k < n; k++ {
		x[k] = float64(ir[k]) - irMean
		y[k] = float64(red[k]) - redMean
	}

	detrend(x)
	detrend(y)

	redAC, redSumSq := rms(y)
	irAC, irSumSq := rms(x)
	if redSumSq == 0 || irSumSq == 0 {
		return res
	}

	res.Correlation = innerMean(x, y) / math.Sqrt(redSumSq*irSumSq)

	period := 0
	if res.Correlation >= minPearsonCorrelation {
		period = initialPeriod(x, irSumSq)
		if period != 0 {
			period, res.Ratio = refinePeriod(x, period, irSumSq)
		}
	}
	if period == 0 {
		return res
	}

	res.HeartRate = 60 * SampleRate / period
	res.HeartRateValid = true

	// after detrending the means are the DC levels
	r := (redAC * irMean) / (irAC * redMean)
	if r > 0.02 && r < 1.84 {
		res.SpO2 = (-45.060*r+30.354)*r + 94.845
		res.SpO2Valid = true
	}
	return res
}

// detrend removes the least-squares linear trend from a zero-mean signal.
func detrend(s []float64) {
	n := len(s)
	mid := float64(n-1) / 2
	sumX2 := float64(n) * (float64(n)*float64(n) - 1) / 12

	var beta float64
	for k := 0; k < n; k++ {
		beta += (float64(k) - mid) * s[k]
	}
	beta /= sumX2

	for k := 0; k < n; k++ {
		s[k] -= beta * (float64(k) - mid)
	}
}

// rms returns the root mean square and the mean square (autocorrelation at lag 0).
func rms(s []float64) (float64, float64) {
	var sumSq float64
	for _, v := range s {
		sumSq += v * v
	}
	sumSq /= float64(len(s))
	return math.Sqrt(sumSq), sumSq
}

func innerMean(x, y []float64) float64 {
	var r float64
	for k := range x {
		r += x[k] * y[k]
	}
	return r / float64(len(x))
}

func autocorrelation(s []float64, lag int) float64 {
	n := len(s) - lag
	if n <= 0 || lag < 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += s[i] * s[i+lag]
	}
	return sum / float64(n)
}

// initialPeriod walks right from the shortest allowed lag, two samples at a
// time, until the autocorrelation climbs back over the quality threshold.
// It returns 0 when no such lag exists.
func initialPeriod(s []float64, lag0 float64) int {
	lag := lowestLag
	aut := autocorrelation(s, lag)
	right := aut

	if aut/lag0 >= minAutocorrelationRatio {
		// Still on the first lobe: descend to the local minimum first.
		for {
			aut = right
			lag += 2
			right = autocorrelation(s, lag)
			if !(right/lag0 >= minAutocorrelationRatio && right < aut && lag <= highestLag) {
				break
			}
		}
		if lag > highestLag {
			return 0
		}
	}

	for {
		lag += 2
		right = autocorrelation(s, lag)
		if !(right/lag0 < minAutocorrelationRatio && lag <= highestLag) {
			break
		}
	}
	if lag > highestLag {
		return 0
	}
	return lag
}

// refinePeriod hill-climbs the autocorrelation from start to the nearest
// peak. It returns 0 as the period when the peak is out of range or too weak.
func refinePeriod(s []float64, start int, lag0 float64) (int, float64) {
	lag := start
	saved := autocorrelation(s, lag)
	aut := saved
	left := aut
	leftLimit := false

	for {
		aut = left
		lag--
		left = autocorrelation(s, lag)
		if !(left > aut && lag >= lowestLag) {
			break
		}
	}
	if lag < lowestLag {
		leftLimit = true
		lag = start
		aut = saved
	} else {
		lag++
	}

	if lag == start {
		right := aut
		for {
			aut = right
			lag++
			right = autocorrelation(s, lag)
			if !(right > aut && lag <= highestLag) {
				break
			}
		}
		if lag > highestLag {
			lag = 0
		} else {
			lag--
		}
		if lag == start && leftLimit {
			lag = 0
		}
	}

	ratio := aut / lag0
	if ratio < minAutocorrelationRatio {
		lag = 0
	}
	return lag, ratio
}
