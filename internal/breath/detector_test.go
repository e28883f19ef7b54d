package breath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDetector() Detector {
	return NewDetector(ChannelSoundingProfile())
}

// breathingSignal is a 0.2 Hz sinusoid sampled at 2 Hz for the given
// duration, with modest additive noise.
func breathingSignal(seconds float64, noise float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	n := int(seconds * 2.0)
	out := make([]float64, n)
	for i := range out {
		ts := float64(i) / 2.0
		out[i] = math.Sin(2*math.Pi*0.2*ts) + noise*rng.NormFloat64()
	}
	return out
}

func TestDetect_BreathingSinusoid(t *testing.T) {
	d := testDetector()
	verdict := d.Detect(breathingSignal(20, 0.1, 3), 0.6)

	assert.True(t, verdict.HasBreathing)
	assert.GreaterOrEqual(t, verdict.EnergyRatio, 0.6)
	assert.InDelta(t, 0.2, verdict.BreathingFreqHz, 0.02)
	assert.InDelta(t, 12.0, verdict.BreathingRateBPM, 1.2)
}

func TestDetect_NoBreathingInNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	signal := make([]float64, 64)
	for i := range signal {
		signal[i] = rng.NormFloat64()
	}

	d := testDetector()
	verdict := d.Detect(signal, 0.6)

	assert.False(t, verdict.HasBreathing)
	assert.True(t, math.IsNaN(verdict.BreathingFreqHz))
	assert.True(t, math.IsNaN(verdict.BreathingRateBPM))
}

func TestDetect_EnergyRatioBounds(t *testing.T) {
	d := testDetector()
	rng := rand.New(rand.NewSource(9))

	for trial := 0; trial < 20; trial++ {
		n := 16 + rng.Intn(200)
		signal := make([]float64, n)
		for i := range signal {
			signal[i] = rng.NormFloat64() * float64(1+trial)
		}
		verdict := d.Detect(signal, 0.6)
		assert.GreaterOrEqual(t, verdict.EnergyRatio, 0.0)
		assert.LessOrEqual(t, verdict.EnergyRatio, 1.0)
	}
}

func TestDetect_WhiteNoiseRatioApproachesBandFraction(t *testing.T) {
	// For white noise the expected ratio is the breathing band width over
	// the reference band width: (0.35-0.1)/(0.8-0.05) = 1/3.
	rng := rand.New(rand.NewSource(42))
	signal := make([]float64, 8192)
	for i := range signal {
		signal[i] = rng.NormFloat64()
	}

	d := testDetector()
	verdict := d.Detect(signal, 0.6)
	assert.InDelta(t, 1.0/3.0, verdict.EnergyRatio, 0.08)
	assert.False(t, verdict.HasBreathing)
}

func TestDetect_EmptyWindow(t *testing.T) {
	d := testDetector()
	verdict := d.Detect(nil, 0.6)
	assert.False(t, verdict.HasBreathing)
	assert.Zero(t, verdict.EnergyRatio)
	assert.True(t, math.IsNaN(verdict.BreathingFreqHz))
}

func TestDetect_ZeroSignal(t *testing.T) {
	d := testDetector()
	verdict := d.Detect(make([]float64, 40), 0.6)
	assert.False(t, verdict.HasBreathing)
	assert.Zero(t, verdict.EnergyRatio, "total energy 0 must yield ratio 0, not NaN")
}

func TestPowerSpectrum_PeakAtSignalFrequency(t *testing.T) {
	n := 128
	signal := make([]float64, n)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * 0.25 * float64(i) / 2.0)
	}
	spec := PowerSpectrum(signal, 2.0, true)
	require.Len(t, spec.Freqs, n/2+1)
	require.Len(t, spec.Power, n/2+1)

	peak := spec.peakIn(0.05, 1.0)
	assert.InDelta(t, 0.25, peak, 0.02)
}

func TestPowerSpectrum_DoesNotMutateInput(t *testing.T) {
	signal := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	orig := append([]float64(nil), signal...)
	PowerSpectrum(signal, 2.0, true)
	assert.Equal(t, orig, signal)
}
