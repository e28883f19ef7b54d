package breath

import (
	"math"
	"sort"
)

// ChannelID identifies a BLE data channel (0..36 in channel-sounding mode;
// direction-finding reports carry a single device-assigned channel per frame).
type ChannelID int

// SampleKind names one of the derived measurement series stored per channel.
type SampleKind string

const (
	KindAmplitude       SampleKind = "amplitude"
	KindPhase           SampleKind = "phase"
	KindLocalAmplitude  SampleKind = "local_amplitude"
	KindLocalPhase      SampleKind = "local_phase"
	KindRemoteAmplitude SampleKind = "remote_amplitude"
	KindRemotePhase     SampleKind = "remote_phase"
	KindI               SampleKind = "i"
	KindQ               SampleKind = "q"
)

// SampleKinds lists every kind derived from a raw IQ quad, in display order.
var SampleKinds = []SampleKind{
	KindAmplitude, KindPhase,
	KindLocalAmplitude, KindLocalPhase,
	KindRemoteAmplitude, KindRemotePhase,
	KindI, KindQ,
}

// ValidSampleKind reports whether k names a known measurement series.
func ValidSampleKind(k SampleKind) bool {
	for _, known := range SampleKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ChannelSample holds the measurements derived from one channel's IQ quad
// within a single report frame.
type ChannelSample struct {
	Amplitude       float64 `json:"amplitude"`
	Phase           float64 `json:"phase"`
	LocalAmplitude  float64 `json:"local_amplitude"`
	LocalPhase      float64 `json:"local_phase"`
	RemoteAmplitude float64 `json:"remote_amplitude"`
	RemotePhase     float64 `json:"remote_phase"`
	I               float64 `json:"i"`
	Q               float64 `json:"q"`
	IL              float64 `json:"il"`
	QL              float64 `json:"ql"`
	IR              float64 `json:"ir"`
	QR              float64 `json:"qr"`
}

// Value returns the measurement for the given kind.
func (s ChannelSample) Value(kind SampleKind) float64 {
	switch kind {
	case KindAmplitude:
		return s.Amplitude
	case KindPhase:
		return s.Phase
	case KindLocalAmplitude:
		return s.LocalAmplitude
	case KindLocalPhase:
		return s.LocalPhase
	case KindRemoteAmplitude:
		return s.RemoteAmplitude
	case KindRemotePhase:
		return s.RemotePhase
	case KindI:
		return s.I
	case KindQ:
		return s.Q
	}
	return math.NaN()
}

// Frame is one complete report from the radio: a sequence index, the device
// timestamp, and one sample per active channel. Frames are immutable once
// appended to a FrameStore.
type Frame struct {
	Index       int64                       `json:"index"`
	TimestampMS int64                       `json:"timestamp_ms"`
	Channels    map[ChannelID]ChannelSample `json:"channels"`
}

// ChannelSet returns the frame's active channels in ascending order.
func (f Frame) ChannelSet() []ChannelID {
	out := make([]ChannelID, 0, len(f.Channels))
	for ch := range f.Channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewChannelSample derives the full measurement set from a raw IQ quad.
// The local and remote IQ pairs are combined with
//
//	I = ir*il - qr*ql
//	Q = ir*ql + il*qr
//
// which is the complex product of the two tones; amplitude and phase follow
// from the combined components.
func NewChannelSample(il, ql, ir, qr float64) ChannelSample {
	i := ir*il - qr*ql
	q := ir*ql + il*qr
	return ChannelSample{
		Amplitude:       math.Hypot(i, q),
		Phase:           math.Atan2(q, i),
		LocalAmplitude:  math.Hypot(il, ql),
		LocalPhase:      math.Atan2(ql, il),
		RemoteAmplitude: math.Hypot(ir, qr),
		RemotePhase:     math.Atan2(qr, ir),
		I:               i,
		Q:               q,
		IL:              il,
		QL:              ql,
		IR:              ir,
		QR:              qr,
	}
}
