package breath

import (
	"sort"
	"sync"
	"time"
)

// SelectorPhase names a state of the adaptive channel selection machine.
type SelectorPhase int

const (
	// PhaseDisabled: adaptive selection is off, no ranking is produced.
	PhaseDisabled SelectorPhase = iota
	// PhaseIdle: ranking runs but nothing is locked yet.
	PhaseIdle
	// PhaseLocked: a channel was chosen automatically and holds while its
	// energy ratio stays at or above the threshold.
	PhaseLocked
	// PhaseAutoTracking: like Locked, but entered by an automatic re-lock
	// after a low-energy timeout expired on the previous channel.
	PhaseAutoTracking
	// PhaseManualLocked: an operator pinned a channel; the low-energy
	// timeout is suppressed until another trigger, a disable, or a
	// configuration change.
	PhaseManualLocked
)

func (p SelectorPhase) String() string {
	switch p {
	case PhaseDisabled:
		return "disabled"
	case PhaseIdle:
		return "idle"
	case PhaseLocked:
		return "locked"
	case PhaseAutoTracking:
		return "auto_tracking"
	case PhaseManualLocked:
		return "manual_locked"
	}
	return "unknown"
}

// ChannelEnergy pairs a channel with its breathing-band energy ratio.
type ChannelEnergy struct {
	Channel     ChannelID `json:"channel"`
	EnergyRatio float64   `json:"energy_ratio"`
}

// SelectorState is a snapshot of the state machine, safe to hand to
// presentation layers.
type SelectorState struct {
	Phase          SelectorPhase `json:"phase"`
	PhaseName      string        `json:"phase_name"`
	Channel        ChannelID     `json:"channel"`
	LockedSince    time.Time     `json:"locked_since,omitzero"`
	LowEnergySince *time.Time    `json:"low_energy_since,omitempty"`
}

func (s SelectorState) locked() bool {
	return s.Phase == PhaseLocked || s.Phase == PhaseAutoTracking || s.Phase == PhaseManualLocked
}

// SelectorConfig carries the subset of the profile the selector needs.
type SelectorConfig struct {
	Enabled          bool
	TopN             int
	Threshold        float64
	LowEnergyTimeout time.Duration
	Scope            RankScope
}

// SelectorResult is the per-tick output: the ranking, the selected channel
// (nil when nothing is locked), and whether the selection changed this tick
// so callers can restart dependent window accumulation.
type SelectorResult struct {
	Ranking  []ChannelEnergy `json:"ranking"`
	Selected *ChannelID      `json:"selected,omitempty"`
	Changed  bool            `json:"changed"`
	State    SelectorState   `json:"state"`
}

// Selector ranks channels by breathing energy each tick and runs the
// lock/auto-track/manual-lock state machine with low-energy hysteresis.
// Manual triggers are queued as explicit commands and consumed by the next
// Evaluate call rather than shared as a mutable flag.
type Selector struct {
	mu  sync.Mutex
	cfg SelectorConfig

	phase          SelectorPhase
	channel        ChannelID
	lockedSince    time.Time
	lowEnergySince *time.Time
	manualPending  bool

	now func() time.Time
}

// NewSelector builds a selector in Idle (or Disabled) phase.
func NewSelector(cfg SelectorConfig) *Selector {
	s := &Selector{cfg: cfg, now: time.Now}
	if cfg.Enabled {
		s.phase = PhaseIdle
	}
	return s
}

// Configure applies a new configuration. Any lock, including a manual one,
// is discarded: a configuration change is one of the defined ManualLocked
// exits.
func (s *Selector) Configure(cfg SelectorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.resetLocked()
}

// Enable turns adaptive selection on, entering Idle.
func (s *Selector) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Enabled = true
	s.resetLocked()
}

// Disable turns adaptive selection off immediately; the current lock and
// ranking are invalidated without waiting for the next tick.
func (s *Selector) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Enabled = false
	s.resetLocked()
}

// Retrigger queues a manual re-selection; the next Evaluate locks the
// rank-1 channel and enters ManualLocked.
func (s *Selector) Retrigger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualPending = true
}

// OnChannelChange forces the machine to Idle and clears the low-energy
// timer; the old lock can no longer be trusted across a physical switch.
func (s *Selector) OnChannelChange(ChannelChangeEvent) {
	s.Reset()
}

// Reset drops any lock and returns the machine to Idle (or Disabled).
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// State returns a snapshot of the current machine state.
func (s *Selector) State() SelectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// resetLocked drops any lock and timer. Caller holds s.mu.
func (s *Selector) resetLocked() {
	if s.cfg.Enabled {
		s.phase = PhaseIdle
	} else {
		s.phase = PhaseDisabled
	}
	s.channel = 0
	s.lockedSince = time.Time{}
	s.lowEnergySince = nil
	s.manualPending = false
}

func (s *Selector) snapshotLocked() SelectorState {
	st := SelectorState{
		Phase:       s.phase,
		PhaseName:   s.phase.String(),
		Channel:     s.channel,
		LockedSince: s.lockedSince,
	}
	if s.lowEnergySince != nil {
		t := *s.lowEnergySince
		st.LowEnergySince = &t
	}
	return st
}

// Evaluate runs one tick of the state machine over the per-channel energy
// ratios. displaySet restricts ranking when the configured scope is
// ScopeDisplay; pass nil to rank everything regardless of scope.
func (s *Selector) Evaluate(ratios map[ChannelID]float64, displaySet []ChannelID) SelectorResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevLocked := s.phase == PhaseLocked || s.phase == PhaseAutoTracking || s.phase == PhaseManualLocked
	prevChannel := s.channel

	if !s.cfg.Enabled {
		s.resetLocked()
		return SelectorResult{
			Changed: prevLocked,
			State:   s.snapshotLocked(),
		}
	}

	ranking := s.rank(ratios, displaySet)

	manual := s.manualPending
	s.manualPending = false

	switch {
	case manual:
		if len(ranking) > 0 {
			s.phase = PhaseManualLocked
			s.channel = ranking[0].Channel
			s.lockedSince = s.now()
			s.lowEnergySince = nil
		}

	case s.phase == PhaseIdle:
		if len(ranking) > 0 && ranking[0].EnergyRatio >= s.cfg.Threshold {
			s.phase = PhaseLocked
			s.channel = ranking[0].Channel
			s.lockedSince = s.now()
			s.lowEnergySince = nil
		}

	case s.phase == PhaseLocked || s.phase == PhaseAutoTracking:
		ratio, ok := ratios[s.channel]
		switch {
		case !ok:
			// No fresh data for the locked channel this tick; hold the
			// lock and the timer as-is.
		case ratio < s.cfg.Threshold:
			if s.lowEnergySince == nil {
				t := s.now()
				s.lowEnergySince = &t
			} else if s.now().Sub(*s.lowEnergySince) >= s.cfg.LowEnergyTimeout {
				s.lowEnergySince = nil
				if len(ranking) > 0 {
					s.phase = PhaseAutoTracking
					s.channel = ranking[0].Channel
					s.lockedSince = s.now()
				} else {
					s.phase = PhaseIdle
					s.channel = 0
					s.lockedSince = time.Time{}
				}
			}
		default:
			s.lowEnergySince = nil
		}

	case s.phase == PhaseManualLocked:
		// Low-energy timeout suppressed; exits happen via Retrigger,
		// Disable, or Configure.
	}

	res := SelectorResult{
		Ranking: ranking,
		State:   s.snapshotLocked(),
	}
	if res.State.locked() {
		ch := s.channel
		res.Selected = &ch
	}
	nowLocked := res.Selected != nil
	res.Changed = nowLocked != prevLocked || (nowLocked && prevLocked && s.channel != prevChannel)
	return res
}

// rank sorts the scoped channels by energy ratio descending, ties broken by
// channel number for determinism, truncated to TopN. Caller holds s.mu.
func (s *Selector) rank(ratios map[ChannelID]float64, displaySet []ChannelID) []ChannelEnergy {
	var scope map[ChannelID]bool
	if s.cfg.Scope == ScopeDisplay && displaySet != nil {
		scope = make(map[ChannelID]bool, len(displaySet))
		for _, ch := range displaySet {
			scope[ch] = true
		}
	}

	ranking := make([]ChannelEnergy, 0, len(ratios))
	for ch, ratio := range ratios {
		if scope != nil && !scope[ch] {
			continue
		}
		ranking = append(ranking, ChannelEnergy{Channel: ch, EnergyRatio: ratio})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].EnergyRatio != ranking[j].EnergyRatio {
			return ranking[i].EnergyRatio > ranking[j].EnergyRatio
		}
		return ranking[i].Channel < ranking[j].Channel
	})
	if s.cfg.TopN > 0 && len(ranking) > s.cfg.TopN {
		ranking = ranking[:s.cfg.TopN]
	}
	return ranking
}
