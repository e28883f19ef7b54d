package breath

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TickOutput is everything one evaluation tick produced.
type TickOutput struct {
	Time     time.Time         `json:"time"`
	Kind     SampleKind        `json:"kind"`
	Verdict  *BreathingVerdict `json:"verdict,omitempty"`
	Selected *ChannelID        `json:"selected,omitempty"`
	Ranking  []ChannelEnergy   `json:"ranking"`
	Changed  bool              `json:"changed"`
	State    SelectorState     `json:"state"`
}

// VerdictSink receives each completed tick, typically for persistence.
type VerdictSink interface {
	RecordTick(TickOutput) error
}

// Engine orchestrates the pipeline: on a fixed tick it windows every
// buffered channel, despikes, detrends, scores breathing energy, feeds the
// scores to the selector, and publishes the result.
type Engine struct {
	store    *FrameStore
	selector *Selector

	mu       sync.RWMutex
	profile  Profile
	kind     SampleKind
	display  []ChannelID
	last     *TickOutput
	sink     VerdictSink
	subs     map[string]chan TickOutput

	// evaluateHook, when non-nil, runs between windowing and selector
	// evaluation. Tests use it to land a channel switch inside a tick.
	evaluateHook func()
}

// NewEngine validates the profile and wires the store, selector, and
// channel-change propagation.
func NewEngine(profile Profile) (*Engine, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	e := &Engine{
		store:   NewFrameStore(profile.HistoryFrames, profile.DetectChannelChange),
		profile: profile,
		kind:    KindAmplitude,
		subs:    make(map[string]chan TickOutput),
	}
	e.selector = NewSelector(selectorConfig(profile))
	e.store.OnChannelChange(func(ev ChannelChangeEvent) {
		opsf("channel set changed %v -> %v; selector reset", ev.Old, ev.New)
		e.selector.OnChannelChange(ev)
	})
	return e, nil
}

func selectorConfig(p Profile) SelectorConfig {
	return SelectorConfig{
		Enabled:          p.AdaptiveEnabled,
		TopN:             p.AdaptiveTopN,
		Threshold:        p.DetectThreshold,
		LowEnergyTimeout: p.LowEnergyTimeout,
		Scope:            p.RankScope,
	}
}

// Store exposes the frame store for ingestion and presentation queries.
func (e *Engine) Store() *FrameStore { return e.store }

// Selector exposes the adaptive selection state machine.
func (e *Engine) Selector() *Selector { return e.selector }

// Append ingests one parsed frame.
func (e *Engine) Append(f Frame) {
	e.store.Append(f)
}

// Profile returns the active configuration.
func (e *Engine) Profile() Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// ApplyProfile validates and applies a new configuration atomically between
// ticks. On validation failure the previous profile stays active. Applying
// a profile for a different mode resets the frame store, since window
// semantics change across frame types.
func (e *Engine) ApplyProfile(p Profile) error {
	if err := p.Validate(); err != nil {
		opsf("rejected profile: %v", err)
		return err
	}

	e.mu.Lock()
	modeChanged := p.Mode != e.profile.Mode
	e.profile = p
	e.mu.Unlock()

	e.store.SetCapacity(p.HistoryFrames)
	if modeChanged {
		e.store.Reset()
	}
	e.selector.Configure(selectorConfig(p))
	return nil
}

// SetDisplayChannels updates the display subset used when the rank scope is
// ScopeDisplay. Pass nil to clear.
func (e *Engine) SetDisplayChannels(channels []ChannelID) {
	e.mu.Lock()
	e.display = append([]ChannelID(nil), channels...)
	e.mu.Unlock()
}

// DisplayChannels returns the current display subset, nil when unset.
func (e *Engine) DisplayChannels() []ChannelID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.display) == 0 {
		return nil
	}
	return append([]ChannelID(nil), e.display...)
}

// AnalysisKind returns the measurement series the pipeline analyses.
func (e *Engine) AnalysisKind() SampleKind {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kind
}

// SetAnalysisKind switches which measurement series the pipeline analyses.
func (e *Engine) SetAnalysisKind(kind SampleKind) error {
	if !ValidSampleKind(kind) {
		return fmt.Errorf("unknown sample kind %q", kind)
	}
	e.mu.Lock()
	e.kind = kind
	e.mu.Unlock()
	return nil
}

// SetSink registers the persistence sink for completed ticks.
func (e *Engine) SetSink(sink VerdictSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Subscribe returns a channel receiving each tick's output. Slow consumers
// miss ticks rather than stalling evaluation.
func (e *Engine) Subscribe() (string, chan TickOutput) {
	b := make([]byte, 8)
	rand.Read(b)
	id := hex.EncodeToString(b)
	ch := make(chan TickOutput, 1)

	e.mu.Lock()
	e.subs[id] = ch
	e.mu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (e *Engine) Unsubscribe(id string) {
	e.mu.Lock()
	if ch, ok := e.subs[id]; ok {
		close(ch)
		delete(e.subs, id)
	}
	e.mu.Unlock()
}

// LastOutput returns the most recent tick output, or nil before the first
// completed tick.
func (e *Engine) LastOutput() *TickOutput {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return nil
	}
	out := *e.last
	return &out
}

// Run evaluates on the configured tick period until the context is
// cancelled. Interval changes from a hot-reloaded profile take effect on
// the following tick.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.mu.RLock()
		interval := e.profile.TickInterval
		e.mu.RUnlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			e.Tick()
		}
	}
}

// Tick runs one evaluation pass. It returns nil when the tick produced no
// result: not enough data on any channel, or a channel change landed
// mid-tick and the partial result was discarded.
func (e *Engine) Tick() *TickOutput {
	e.mu.RLock()
	profile := e.profile
	kind := e.kind
	display := append([]ChannelID(nil), e.display...)
	sink := e.sink
	e.mu.RUnlock()

	generation := e.store.Generation()
	detector := NewDetector(profile)

	ratios := make(map[ChannelID]float64)
	verdicts := make(map[ChannelID]BreathingVerdict)
	for _, ch := range e.store.ActiveChannels() {
		verdict, err := e.evaluateChannel(ch, kind, profile, detector)
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				tracef("channel %d: %v", ch, err)
				continue
			}
			opsf("channel %d evaluation failed: %v", ch, err)
			continue
		}
		ratios[ch] = verdict.EnergyRatio
		verdicts[ch] = verdict
	}

	// A channel switch invalidates everything computed above: the windows
	// may straddle the switch. Check before the selector runs so stale
	// ratios never drive a lock transition.
	if e.store.Generation() != generation {
		opsf("channel change during tick; discarding result")
		return nil
	}

	if e.evaluateHook != nil {
		e.evaluateHook()
	}

	result := e.selector.Evaluate(ratios, display)

	// A switch can still land while Evaluate holds stale ratios; undo any
	// lock it took and discard the tick.
	if e.store.Generation() != generation {
		e.selector.Reset()
		opsf("channel change during tick; discarding result")
		return nil
	}

	out := TickOutput{
		Time:     time.Now(),
		Kind:     kind,
		Selected: result.Selected,
		Ranking:  result.Ranking,
		Changed:  result.Changed,
		State:    result.State,
	}
	if result.Selected != nil {
		if v, ok := verdicts[*result.Selected]; ok {
			out.Verdict = &v
		}
	}

	e.publish(out, sink)
	return &out
}

// evaluateChannel runs the filter pipeline and detector over one channel's
// current window.
func (e *Engine) evaluateChannel(ch ChannelID, kind SampleKind, p Profile, d Detector) (BreathingVerdict, error) {
	pts, err := e.store.Window(ch, kind, p.WindowFrames)
	if err != nil {
		return BreathingVerdict{}, err
	}
	if len(pts) < p.WindowFrames {
		return BreathingVerdict{}, fmt.Errorf("window has %d of %d frames: %w", len(pts), p.WindowFrames, ErrInsufficientData)
	}

	values := make([]float64, len(pts))
	for i, pt := range pts {
		values[i] = pt.Value
	}

	var despiked []float64
	if p.DespikeMethod == DespikeMethodHampel {
		despiked = DespikeHampel(values, p.DespikeWindow, p.HampelNSigma)
	} else {
		despiked = DespikeMedian(values, p.DespikeWindow)
	}

	detrended, err := Detrend(despiked, p.DetrendCutoffHz, p.DetrendOrder, p.SampleRate)
	if err != nil {
		return BreathingVerdict{}, err
	}

	return d.Detect(detrended, p.DetectThreshold), nil
}

// FilterChannel exposes the intermediate pipeline stages for one channel,
// for presentation and export layers.
func (e *Engine) FilterChannel(ch ChannelID, kind SampleKind) (FilterResult, error) {
	e.mu.RLock()
	p := e.profile
	e.mu.RUnlock()

	pts, err := e.store.Window(ch, kind, p.WindowFrames)
	if err != nil {
		return FilterResult{}, err
	}
	if len(pts) < 4 {
		return FilterResult{}, fmt.Errorf("window has %d frames: %w", len(pts), ErrInsufficientData)
	}

	values := make([]float64, len(pts))
	for i, pt := range pts {
		values[i] = pt.Value
	}

	var despiked []float64
	if p.DespikeMethod == DespikeMethodHampel {
		despiked = DespikeHampel(values, p.DespikeWindow, p.HampelNSigma)
	} else {
		despiked = DespikeMedian(values, p.DespikeWindow)
	}
	detrended, err := Detrend(despiked, p.DetrendCutoffHz, p.DetrendOrder, p.SampleRate)
	if err != nil {
		return FilterResult{}, err
	}
	return FilterResult{Original: values, Despiked: despiked, Detrended: detrended}, nil
}

func (e *Engine) publish(out TickOutput, sink VerdictSink) {
	e.mu.Lock()
	snapshot := out
	e.last = &snapshot
	for _, ch := range e.subs {
		select {
		case ch <- out:
		default:
			// subscriber is behind; it gets the next tick
		}
	}
	e.mu.Unlock()

	if sink != nil {
		if err := sink.RecordTick(out); err != nil {
			opsf("verdict sink failed: %v", err)
		}
	}
}
