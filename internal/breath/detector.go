package breath

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// SpectrumEstimate is a one-sided power spectrum.
type SpectrumEstimate struct {
	Freqs []float64 `json:"freqs"`
	Power []float64 `json:"power"`
}

// PowerSpectrum computes the one-sided FFT power spectrum of signal sampled
// at sampleRate. When hann is set the signal is Hann-windowed first; the
// input is never modified.
func PowerSpectrum(signal []float64, sampleRate float64, hann bool) SpectrumEstimate {
	n := len(signal)
	if n == 0 {
		return SpectrumEstimate{}
	}

	buf := make([]float64, n)
	copy(buf, signal)
	if hann {
		window.Hann(buf)
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, buf)

	est := SpectrumEstimate{
		Freqs: make([]float64, len(coeffs)),
		Power: make([]float64, len(coeffs)),
	}
	for i, c := range coeffs {
		est.Freqs[i] = fft.Freq(i) * sampleRate
		mag := cmplxAbs(c)
		est.Power[i] = mag * mag
	}
	return est
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// bandSum sums power over [lo, hi] inclusive.
func (s SpectrumEstimate) bandSum(lo, hi float64) float64 {
	var sum float64
	for i, f := range s.Freqs {
		if f >= lo && f <= hi {
			sum += s.Power[i]
		}
	}
	return sum
}

// peakIn returns the frequency of the maximum-power bin within [lo, hi],
// or NaN if no bin falls inside the band.
func (s SpectrumEstimate) peakIn(lo, hi float64) float64 {
	best := math.NaN()
	bestPower := math.Inf(-1)
	for i, f := range s.Freqs {
		if f >= lo && f <= hi && s.Power[i] > bestPower {
			bestPower = s.Power[i]
			best = f
		}
	}
	return best
}

// BreathingVerdict is the per-window detection result. BreathingFreqHz and
// BreathingRateBPM are NaN when no breathing is present; they serialize as
// null since JSON has no NaN.
type BreathingVerdict struct {
	EnergyRatio      float64 `json:"energy_ratio"`
	HasBreathing     bool    `json:"has_breathing"`
	BreathingFreqHz  float64 `json:"breathing_freq_hz"`
	BreathingRateBPM float64 `json:"breathing_rate_bpm"`
}

func (v BreathingVerdict) MarshalJSON() ([]byte, error) {
	type wire struct {
		EnergyRatio      float64  `json:"energy_ratio"`
		HasBreathing     bool     `json:"has_breathing"`
		BreathingFreqHz  *float64 `json:"breathing_freq_hz"`
		BreathingRateBPM *float64 `json:"breathing_rate_bpm"`
	}
	out := wire{EnergyRatio: v.EnergyRatio, HasBreathing: v.HasBreathing}
	if !math.IsNaN(v.BreathingFreqHz) {
		out.BreathingFreqHz = &v.BreathingFreqHz
	}
	if !math.IsNaN(v.BreathingRateBPM) {
		out.BreathingRateBPM = &v.BreathingRateBPM
	}
	return json.Marshal(out)
}

// Detector scores windows for breathing content. A ratio of breathing-band
// power to a wider reference band is used instead of absolute power because
// raw amplitude varies wildly across channels and subjects.
type Detector struct {
	SampleRate float64

	BreathLowHz  float64
	BreathHighHz float64
	TotalLowHz   float64
	TotalHighHz  float64

	// Band-pass applied a second time after detection to sharpen the peak
	// frequency when several sub-band components are present.
	BandLowHz  float64
	BandHighHz float64
	BandOrder  int
}

// NewDetector builds a Detector from a validated profile.
func NewDetector(p Profile) Detector {
	return Detector{
		SampleRate:   p.SampleRate,
		BreathLowHz:  p.BreathLowHz,
		BreathHighHz: p.BreathHighHz,
		TotalLowHz:   p.TotalLowHz,
		TotalHighHz:  p.TotalHighHz,
		BandLowHz:    p.BandLowHz,
		BandHighHz:   p.BandHighHz,
		BandOrder:    p.BandOrder,
	}
}

// Detect Hann-windows the signal, compares breathing-band energy against the
// reference band, and, when the ratio clears the threshold, band-passes the
// same window to locate the dominant respiration frequency.
//
// The input is expected to be despiked and detrended already.
func (d Detector) Detect(signal []float64, threshold float64) BreathingVerdict {
	verdict := BreathingVerdict{
		BreathingFreqHz:  math.NaN(),
		BreathingRateBPM: math.NaN(),
	}
	if len(signal) == 0 {
		return verdict
	}

	spectrum := PowerSpectrum(signal, d.SampleRate, true)
	breathEnergy := spectrum.bandSum(d.BreathLowHz, d.BreathHighHz)
	totalEnergy := spectrum.bandSum(d.TotalLowHz, d.TotalHighHz)

	if totalEnergy > 0 {
		verdict.EnergyRatio = breathEnergy / totalEnergy
		if verdict.EnergyRatio > 1 {
			verdict.EnergyRatio = 1
		}
	}
	verdict.HasBreathing = verdict.EnergyRatio >= threshold
	if !verdict.HasBreathing {
		return verdict
	}

	// Hann first, then band-pass, matching the detection spectrum.
	windowed := make([]float64, len(signal))
	copy(windowed, signal)
	window.Hann(windowed)

	banded, err := BandExtract(windowed, d.BandLowHz, d.BandHighHz, d.BandOrder, d.SampleRate)
	if err != nil {
		return verdict
	}

	after := PowerSpectrum(banded, d.SampleRate, false)
	verdict.BreathingFreqHz = after.peakIn(d.BandLowHz, d.BandHighHz)
	if !math.IsNaN(verdict.BreathingFreqHz) && verdict.BreathingFreqHz > 0 {
		verdict.BreathingRateBPM = verdict.BreathingFreqHz * 60
	}
	return verdict
}
