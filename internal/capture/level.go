package capture

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// analyser mirrors a browser AnalyserNode: Blackman window, FFT, temporal
// smoothing, then byte-scaled decibel magnitudes.
type analyser struct {
	size      int
	smoothing float64
	window    []float64
	fft       *fourier.FFT
	seq       []float64
	coeff     []complex128
	smoothed  []float64
}

func newAnalyser(size int, smoothing float64) *analyser {
	window := make([]float64, size)
	for n := range window {
		x := float64(n) / float64(size)
		window[n] = 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
	}

	return &analyser{
		size:      size,
		smoothing: smoothing,
		window:    window,
		fft:       fourier.NewFFT(size),
		seq:       make([]float64, size),
		smoothed:  make([]float64, size/2),
	}
}

// byteFrequencies fills dst with one 0-255 magnitude per bin. samples must
// hold exactly size values.
func (a *analyser) byteFrequencies(samples []float32, dst []byte) []byte {
	for i := range a.seq {
		a.seq[i] = float64(samples[i]) * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.seq)

	bins := a.size / 2
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeff[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
		switch {
		case scaled <= 0 || math.IsNaN(scaled):
			dst[k] = 0
		case scaled >= 255:
			dst[k] = 255
		default:
			dst[k] = byte(scaled)
		}
	}
	return dst
}

// Level is the mean bin magnitude normalized to 0-1, multiplied by gain
// and clamped.
func Level(bins []byte, gain float64) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		sum += float64(b)
	}
	level := sum / float64(len(bins)) / 255 * gain
	return math.Max(0, math.Min(1, level))
}
