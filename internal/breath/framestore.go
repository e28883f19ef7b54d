package breath

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

// SamplePoint is one (frame index, value) pair from a channel's history.
// The device timestamp rides along for interval-uniformity checks.
type SamplePoint struct {
	Index       int64   `json:"index"`
	TimestampMS int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// ChannelChangeEvent fires when the active channel set of the incoming
// frame stream differs from the previous frame's set.
type ChannelChangeEvent struct {
	Old []ChannelID `json:"old_channels"`
	New []ChannelID `json:"new_channels"`
}

type channelHistory struct {
	points []framePoint
}

type framePoint struct {
	index       int64
	timestampMS int64
	sample      ChannelSample
}

// FrameStore keeps a bounded per-channel history of frames. Appends come
// from the single ingestion goroutine; reads return copies so concurrent
// window queries never observe a torn append.
type FrameStore struct {
	mu           sync.RWMutex
	capacity     int
	detectChange bool
	histories    map[ChannelID]*channelHistory
	prevSet      []ChannelID
	generation   uint64
	onChange     []func(ChannelChangeEvent)
}

// NewFrameStore creates a store holding at most capacity frames per channel.
// When detectChange is set, a change in the incoming frame's channel set
// clears history for the new set and notifies change subscribers before the
// frame is appended, so no window ever straddles a physical channel switch.
func NewFrameStore(capacity int, detectChange bool) *FrameStore {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameStore{
		capacity:     capacity,
		detectChange: detectChange,
		histories:    make(map[ChannelID]*channelHistory),
	}
}

// OnChannelChange registers a callback invoked (outside the store lock)
// whenever the active channel set changes.
func (s *FrameStore) OnChannelChange(fn func(ChannelChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SetCapacity adjusts the per-channel history bound, trimming oversize
// histories immediately.
func (s *FrameStore) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	for _, h := range s.histories {
		if len(h.points) > capacity {
			h.points = append(h.points[:0:0], h.points[len(h.points)-capacity:]...)
		}
	}
}

// Append routes each channel's sample into its history. Frames whose index
// does not advance a channel's history are dropped for that channel, keeping
// indices strictly increasing.
func (s *FrameStore) Append(f Frame) {
	var event *ChannelChangeEvent
	var callbacks []func(ChannelChangeEvent)

	s.mu.Lock()
	newSet := f.ChannelSet()
	if s.detectChange && s.prevSet != nil && !equalChannelSets(s.prevSet, newSet) {
		event = &ChannelChangeEvent{Old: s.prevSet, New: newSet}
		for _, ch := range newSet {
			delete(s.histories, ch)
		}
		s.generation++
		callbacks = append(callbacks, s.onChange...)
	}
	s.prevSet = newSet

	for ch, sample := range f.Channels {
		h := s.histories[ch]
		if h == nil {
			h = &channelHistory{}
			s.histories[ch] = h
		}
		if n := len(h.points); n > 0 && f.Index <= h.points[n-1].index {
			continue
		}
		h.points = append(h.points, framePoint{
			index:       f.Index,
			timestampMS: f.TimestampMS,
			sample:      sample,
		})
		if len(h.points) > s.capacity {
			h.points = append(h.points[:0:0], h.points[len(h.points)-s.capacity:]...)
		}
	}
	s.mu.Unlock()

	if event != nil {
		for _, fn := range callbacks {
			fn(*event)
		}
	}
}

// Channels returns every channel with buffered history, ascending.
func (s *FrameStore) Channels() []ChannelID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChannelID, 0, len(s.histories))
	for ch, h := range s.histories {
		if len(h.points) > 0 {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActiveChannels returns the channel set of the most recent frame when
// change detection is on; departed channels keep stale history but are not
// active. With change detection off every buffered channel is active.
func (s *FrameStore) ActiveChannels() []ChannelID {
	s.mu.RLock()
	if !s.detectChange {
		s.mu.RUnlock()
		return s.Channels()
	}
	out := append([]ChannelID(nil), s.prevSet...)
	s.mu.RUnlock()
	return out
}

// Len reports the number of buffered frames for a channel.
func (s *FrameStore) Len(ch ChannelID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h := s.histories[ch]; h != nil {
		return len(h.points)
	}
	return 0
}

// Generation increments on every buffer reset. Evaluation captures it before
// a tick and discards the result if it moved, so a verdict never mixes
// pre- and post-switch samples.
func (s *FrameStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Reset clears all history and the remembered channel set.
func (s *FrameStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = make(map[ChannelID]*channelHistory)
	s.prevSet = nil
	s.generation++
}

// Window returns the most recent maxLen points for (channel, kind).
// ErrInvalidChannel is returned for a channel that was never observed.
func (s *FrameStore) Window(ch ChannelID, kind SampleKind, maxLen int) ([]SamplePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.histories[ch]
	if h == nil {
		return nil, fmt.Errorf("channel %d: %w", ch, ErrInvalidChannel)
	}
	pts := h.points
	if maxLen > 0 && len(pts) > maxLen {
		pts = pts[len(pts)-maxLen:]
	}
	out := make([]SamplePoint, len(pts))
	for i, p := range pts {
		out[i] = SamplePoint{
			Index:       p.index,
			TimestampMS: p.timestampMS,
			Value:       p.sample.Value(kind),
		}
	}
	return out, nil
}

// FrequencyEstimate is the result of an FFT-based dominant-frequency scan
// over a channel's recent history, plus diagnostics about how the samples
// were conditioned.
type FrequencyEstimate struct {
	FreqHz           float64 `json:"freq_hz"`
	FFTSize          int     `json:"fft_size"`
	Resampled        bool    `json:"resampled"`
	SampleSpacingSec float64 `json:"sample_spacing_sec"`
}

// Interval jitter above this coefficient of variation triggers resampling
// onto a uniform grid before the FFT.
const intervalCVThreshold = 0.10

// EstimateFrequency removes the mean from the most recent maxLen samples,
// resamples onto a uniform grid when the device timestamps are too jittery,
// truncates to a power-of-two length where that keeps at least half the
// samples, applies a Hamming window, and reports the non-DC FFT bin with the
// largest magnitude. Fewer than 4 samples yields ErrInsufficientData.
func (s *FrameStore) EstimateFrequency(ch ChannelID, kind SampleKind, maxLen int) (FrequencyEstimate, error) {
	pts, err := s.Window(ch, kind, maxLen)
	if err != nil {
		return FrequencyEstimate{}, err
	}
	if len(pts) < 4 {
		return FrequencyEstimate{}, fmt.Errorf("channel %d has %d samples: %w", ch, len(pts), ErrInsufficientData)
	}

	times := make([]float64, len(pts))
	values := make([]float64, len(pts))
	for i, p := range pts {
		times[i] = float64(p.TimestampMS) / 1000.0
		values[i] = p.Value
	}

	mean := stat.Mean(values, nil)
	for i := range values {
		values[i] -= mean
	}

	span := times[len(times)-1] - times[0]
	if span <= 0 {
		return FrequencyEstimate{}, fmt.Errorf("channel %d timestamps span %vs: %w", ch, span, ErrInsufficientData)
	}

	intervals := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals[i-1] = times[i] - times[i-1]
	}
	meanDT := stat.Mean(intervals, nil)
	cv := 0.0
	if meanDT > 0 {
		cv = stat.StdDev(intervals, nil) / meanDT
	}

	est := FrequencyEstimate{}
	if cv >= intervalCVThreshold {
		values = resampleUniform(times, values)
		est.Resampled = true
	}
	est.SampleSpacingSec = span / float64(len(values)-1)

	// Power-of-two FFT lengths are cheaper, but never at the cost of most
	// of the window.
	n := len(values)
	p2 := largestPowerOfTwo(n)
	if n-p2 <= n/2 {
		values = values[n-p2:]
		n = p2
	}
	est.FFTSize = n

	window.Hamming(values)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, values)

	bestBin := -1
	bestMag := math.Inf(-1)
	for i := 1; i < len(coeffs); i++ {
		if mag := cmplxAbs(coeffs[i]); mag > bestMag {
			bestMag = mag
			bestBin = i
		}
	}
	if bestBin < 0 {
		return FrequencyEstimate{}, fmt.Errorf("channel %d spectrum has no non-DC bins: %w", ch, ErrInsufficientData)
	}
	est.FreqHz = fft.Freq(bestBin) / est.SampleSpacingSec
	return est, nil
}

// resampleUniform linearly interpolates values onto an evenly spaced grid
// spanning the same time range with the same number of points.
func resampleUniform(times, values []float64) []float64 {
	n := len(times)
	out := make([]float64, n)
	t0 := times[0]
	step := (times[n-1] - t0) / float64(n-1)

	j := 0
	for i := 0; i < n; i++ {
		t := t0 + float64(i)*step
		for j < n-2 && times[j+1] < t {
			j++
		}
		tl, tr := times[j], times[j+1]
		if tr == tl {
			out[i] = values[j]
			continue
		}
		frac := (t - tl) / (tr - tl)
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
		out[i] = values[j] + frac*(values[j+1]-values[j])
	}
	return out
}

func largestPowerOfTwo(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

func equalChannelSets(a, b []ChannelID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
