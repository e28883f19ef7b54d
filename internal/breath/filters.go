package breath

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// FilterResult carries a window through the despike/detrend stages.
// All three slices have the same length as the input.
type FilterResult struct {
	Original  []float64 `json:"original"`
	Despiked  []float64 `json:"despiked"`
	Detrended []float64 `json:"detrended"`
}

// DespikeMedian applies a sliding median repeatedly until the signal is a
// root of the filter, so despiking an already-despiked window is a no-op.
// Even window sizes are incremented to the next odd size. Edges are handled
// by clamping the window to the signal (nearest padding).
func DespikeMedian(signal []float64, windowSize int) []float64 {
	out := medianPass(signal, windowSize)
	// An odd-window median filter with edge replication reaches a root in a
	// bounded number of passes; the cap guards against a regression there.
	for range signal {
		next := medianPass(out, windowSize)
		if floatsEqual(next, out) {
			break
		}
		out = next
	}
	return out
}

// medianPass replaces every sample with the median of a sliding window
// centred on it.
func medianPass(signal []float64, windowSize int) []float64 {
	out := make([]float64, len(signal))
	if len(signal) == 0 {
		return out
	}
	if windowSize < 1 {
		windowSize = 1
	}
	if windowSize%2 == 0 {
		windowSize++
	}
	half := windowSize / 2

	scratch := make([]float64, 0, windowSize)
	for i := range signal {
		scratch = scratch[:0]
		for j := i - half; j <= i+half; j++ {
			k := j
			if k < 0 {
				k = 0
			} else if k >= len(signal) {
				k = len(signal) - 1
			}
			scratch = append(scratch, signal[k])
		}
		out[i] = median(scratch)
	}
	return out
}

func floatsEqual(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DespikeHampel replaces a sample with the window median only when it
// deviates from that median by more than nSigma robust standard deviations
// (sigma ~= 1.4826*MAD). Samples within the bound pass through unchanged.
func DespikeHampel(signal []float64, windowSize int, nSigma float64) []float64 {
	out := make([]float64, len(signal))
	copy(out, signal)
	if len(signal) == 0 {
		return out
	}
	if windowSize < 1 {
		windowSize = 1
	}
	if windowSize%2 == 0 {
		windowSize++
	}
	half := windowSize / 2

	window := make([]float64, 0, windowSize)
	devs := make([]float64, 0, windowSize)
	for i := range signal {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half + 1
		if hi > len(signal) {
			hi = len(signal)
		}

		window = append(window[:0], signal[lo:hi]...)
		m := median(window)

		devs = devs[:0]
		for _, v := range signal[lo:hi] {
			devs = append(devs, math.Abs(v-m))
		}
		mad := median(devs)
		sigma := 1.4826 * mad

		if math.Abs(signal[i]-m) > nSigma*sigma {
			out[i] = m
		}
	}
	return out
}

// median sorts its scratch argument in place.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// Detrend removes DC and slow drift with a zero-phase Butterworth high-pass.
// The forward-backward pass cancels the filter's phase distortion, so the
// breathing waveform keeps its timing.
func Detrend(signal []float64, cutoffHz float64, order int, sampleRate float64) ([]float64, error) {
	if cutoffHz <= 0 {
		return nil, fmt.Errorf("detrend cutoff must be positive, got %v", cutoffHz)
	}
	if order <= 0 {
		return nil, fmt.Errorf("detrend order must be positive, got %d", order)
	}
	if cutoffHz >= sampleRate/2 {
		return nil, fmt.Errorf("detrend cutoff %vHz at or above Nyquist (%vHz)", cutoffHz, sampleRate/2)
	}
	coeffs := design.ButterworthHP(cutoffHz, order, sampleRate)
	return filtFilt(signal, coeffs), nil
}

// BandExtract isolates the respiration band with a zero-phase Butterworth
// band-pass built as a high-pass at lowHz cascaded with a low-pass at highHz.
func BandExtract(signal []float64, lowHz, highHz float64, order int, sampleRate float64) ([]float64, error) {
	if lowHz <= 0 {
		return nil, fmt.Errorf("band low cut must be positive, got %v", lowHz)
	}
	if highHz <= lowHz {
		return nil, fmt.Errorf("band high cut %vHz must exceed low cut %vHz", highHz, lowHz)
	}
	if order <= 0 {
		return nil, fmt.Errorf("band order must be positive, got %d", order)
	}
	if highHz >= sampleRate/2 {
		return nil, fmt.Errorf("band high cut %vHz at or above Nyquist (%vHz)", highHz, sampleRate/2)
	}
	coeffs := design.ButterworthHP(lowHz, order, sampleRate)
	coeffs = append(coeffs, design.ButterworthLP(highHz, order, sampleRate)...)
	return filtFilt(signal, coeffs), nil
}

// filtFilt runs the biquad cascade forward, then backward over the reversed
// output with fresh filter state. The result has zero net phase shift and
// double the cascade's magnitude rolloff.
func filtFilt(signal []float64, coeffs []biquad.Coefficients) []float64 {
	out := make([]float64, len(signal))
	copy(out, signal)
	if len(out) == 0 || len(coeffs) == 0 {
		return out
	}

	chain := biquad.NewChain(coeffs)
	chain.ProcessBlock(out)

	reverse(out)
	chain.Reset()
	chain.ProcessBlock(out)
	reverse(out)

	return out
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
