package breath

import (
	"fmt"
	"time"
)

// Mode selects which frame type the radio is emitting.
type Mode string

const (
	// ModeChannelSounding analyses multi-channel sounding reports
	// (all configured data channels present in every frame, ~2 Hz).
	ModeChannelSounding Mode = "cs"
	// ModeDirectionFinding analyses direction-finding reports
	// (one device-assigned channel per frame, ~20 Hz).
	ModeDirectionFinding Mode = "df"
)

// DespikeMethod selects the outlier filter applied before detrending.
type DespikeMethod string

const (
	DespikeMethodMedian DespikeMethod = "median"
	DespikeMethodHampel DespikeMethod = "hampel"
)

// RankScope controls which channels the adaptive selector ranks each tick.
type RankScope string

const (
	// ScopeAll ranks every channel currently buffered in the frame store.
	ScopeAll RankScope = "all"
	// ScopeDisplay restricts ranking to the display channel subset.
	ScopeDisplay RankScope = "display"
)

// Profile is the complete per-mode configuration for the engine: sampling,
// filter pipeline, detection bands, and adaptive selection. A Profile is
// applied atomically between ticks; an invalid profile is rejected at apply
// time and the previous one stays active.
type Profile struct {
	Mode       Mode    `json:"mode"`
	SampleRate float64 `json:"sample_rate_hz"`

	DespikeMethod DespikeMethod `json:"despike_method"`
	DespikeWindow int           `json:"despike_window"`
	HampelNSigma  float64       `json:"hampel_n_sigma"`

	DetrendCutoffHz float64 `json:"detrend_cutoff_hz"`
	DetrendOrder    int     `json:"detrend_order"`

	BandLowHz  float64 `json:"band_low_hz"`
	BandHighHz float64 `json:"band_high_hz"`
	BandOrder  int     `json:"band_order"`

	BreathLowHz  float64 `json:"breath_low_hz"`
	BreathHighHz float64 `json:"breath_high_hz"`
	TotalLowHz   float64 `json:"total_low_hz"`
	TotalHighHz  float64 `json:"total_high_hz"`

	DetectThreshold float64 `json:"detect_threshold"`

	// WindowFrames is the evaluation window length W; HistoryFrames bounds
	// the per-channel buffer and must be at least WindowFrames.
	WindowFrames  int `json:"window_frames"`
	HistoryFrames int `json:"history_frames"`

	AdaptiveEnabled  bool          `json:"adaptive_enabled"`
	AdaptiveTopN     int           `json:"adaptive_top_n"`
	RankScope        RankScope     `json:"rank_scope"`
	LowEnergyTimeout time.Duration `json:"low_energy_timeout_ns"`

	TickInterval        time.Duration `json:"tick_interval_ns"`
	DetectChannelChange bool          `json:"detect_channel_change"`
}

// ChannelSoundingProfile returns the defaults for multi-channel sounding
// reports: 2 Hz sampling, a 20-second breathing window, respiration band
// 0.1-0.35 Hz against a 0.05-0.8 Hz reference band.
func ChannelSoundingProfile() Profile {
	return Profile{
		Mode:                ModeChannelSounding,
		SampleRate:          2.0,
		DespikeMethod:       DespikeMethodMedian,
		DespikeWindow:       3,
		HampelNSigma:        3.0,
		DetrendCutoffHz:     0.05,
		DetrendOrder:        2,
		BandLowHz:           0.1,
		BandHighHz:          0.35,
		BandOrder:           2,
		BreathLowHz:         0.1,
		BreathHighHz:        0.35,
		TotalLowHz:          0.05,
		TotalHighHz:         0.8,
		DetectThreshold:     0.6,
		WindowFrames:        40,
		HistoryFrames:       120,
		AdaptiveEnabled:     true,
		AdaptiveTopN:        3,
		RankScope:           ScopeAll,
		LowEnergyTimeout:    10 * time.Second,
		TickInterval:        2 * time.Second,
		DetectChannelChange: true,
	}
}

// DirectionFindingProfile returns the defaults for direction-finding
// reports, which arrive an order of magnitude faster on a single channel.
func DirectionFindingProfile() Profile {
	p := ChannelSoundingProfile()
	p.Mode = ModeDirectionFinding
	p.SampleRate = 20.0
	p.DespikeWindow = 5
	p.WindowFrames = 400
	p.HistoryFrames = 1200
	return p
}

// DefaultProfile returns the default profile for the given mode.
func DefaultProfile(mode Mode) (Profile, error) {
	switch mode {
	case ModeChannelSounding:
		return ChannelSoundingProfile(), nil
	case ModeDirectionFinding:
		return DirectionFindingProfile(), nil
	}
	return Profile{}, fmt.Errorf("unknown mode %q", mode)
}

// Validate checks the profile and names the first offending field. It is
// called at apply time so a bad hot-reload never reaches the pipeline.
func (p *Profile) Validate() error {
	if p.Mode != ModeChannelSounding && p.Mode != ModeDirectionFinding {
		return fmt.Errorf("mode: unknown value %q", p.Mode)
	}
	if p.SampleRate <= 0 {
		return fmt.Errorf("sample_rate_hz: must be positive, got %v", p.SampleRate)
	}
	if p.DespikeMethod != DespikeMethodMedian && p.DespikeMethod != DespikeMethodHampel {
		return fmt.Errorf("despike_method: unknown value %q", p.DespikeMethod)
	}
	if p.DespikeWindow <= 0 {
		return fmt.Errorf("despike_window: must be positive, got %d", p.DespikeWindow)
	}
	if p.HampelNSigma <= 0 {
		return fmt.Errorf("hampel_n_sigma: must be positive, got %v", p.HampelNSigma)
	}
	if p.DetrendCutoffHz <= 0 {
		return fmt.Errorf("detrend_cutoff_hz: must be positive, got %v", p.DetrendCutoffHz)
	}
	if p.DetrendOrder <= 0 {
		return fmt.Errorf("detrend_order: must be positive, got %d", p.DetrendOrder)
	}
	if p.BandLowHz <= 0 {
		return fmt.Errorf("band_low_hz: must be positive, got %v", p.BandLowHz)
	}
	if p.BandHighHz <= p.BandLowHz {
		return fmt.Errorf("band_high_hz: must exceed band_low_hz, got %v <= %v", p.BandHighHz, p.BandLowHz)
	}
	if p.BandOrder <= 0 {
		return fmt.Errorf("band_order: must be positive, got %d", p.BandOrder)
	}
	if p.BreathLowHz <= 0 {
		return fmt.Errorf("breath_low_hz: must be positive, got %v", p.BreathLowHz)
	}
	if p.BreathHighHz <= p.BreathLowHz {
		return fmt.Errorf("breath_high_hz: must exceed breath_low_hz, got %v <= %v", p.BreathHighHz, p.BreathLowHz)
	}
	if p.TotalLowHz <= 0 {
		return fmt.Errorf("total_low_hz: must be positive, got %v", p.TotalLowHz)
	}
	if p.TotalHighHz <= p.TotalLowHz {
		return fmt.Errorf("total_high_hz: must exceed total_low_hz, got %v <= %v", p.TotalHighHz, p.TotalLowHz)
	}
	if p.DetectThreshold < 0 || p.DetectThreshold > 1 {
		return fmt.Errorf("detect_threshold: must be in [0,1], got %v", p.DetectThreshold)
	}
	if p.WindowFrames < 4 {
		return fmt.Errorf("window_frames: must be at least 4, got %d", p.WindowFrames)
	}
	if p.HistoryFrames < p.WindowFrames {
		return fmt.Errorf("history_frames: must be at least window_frames, got %d < %d", p.HistoryFrames, p.WindowFrames)
	}
	if p.AdaptiveTopN <= 0 {
		return fmt.Errorf("adaptive_top_n: must be positive, got %d", p.AdaptiveTopN)
	}
	if p.RankScope != ScopeAll && p.RankScope != ScopeDisplay {
		return fmt.Errorf("rank_scope: unknown value %q", p.RankScope)
	}
	if p.LowEnergyTimeout <= 0 {
		return fmt.Errorf("low_energy_timeout_ns: must be positive, got %v", p.LowEnergyTimeout)
	}
	if p.TickInterval <= 0 {
		return fmt.Errorf("tick_interval_ns: must be positive, got %v", p.TickInterval)
	}
	return nil
}
