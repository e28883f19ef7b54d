package breath

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	ticks []TickOutput
}

func (m *memorySink) RecordTick(out TickOutput) error {
	m.ticks = append(m.ticks, out)
	return nil
}

// feedFrames pushes n frames into the engine. Channel 7 carries a clean
// 0.2 Hz breathing waveform; the rest carry noise.
func feedFrames(e *Engine, n int, channels []ChannelID, start int64) {
	rng := rand.New(rand.NewSource(21))
	for i := int64(0); i < int64(n); i++ {
		frame := Frame{
			Index:       start + i,
			TimestampMS: (start + i) * 500,
			Channels:    make(map[ChannelID]ChannelSample, len(channels)),
		}
		ts := float64(start+i) / 2.0
		for _, ch := range channels {
			var v float64
			if ch == 7 {
				v = 10 + 2*math.Sin(2*math.Pi*0.2*ts) + 0.05*rng.NormFloat64()
			} else {
				v = 10 + 0.3*rng.NormFloat64()
			}
			frame.Channels[ch] = ChannelSample{Amplitude: v}
		}
		e.Append(frame)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(ChannelSoundingProfile())
	require.NoError(t, err)
	return e
}

func TestNewEngine_RejectsInvalidProfile(t *testing.T) {
	p := ChannelSoundingProfile()
	p.SampleRate = 0
	_, err := NewEngine(p)
	assert.Error(t, err)
}

func TestEngine_TickSelectsBreathingChannel(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{3, 7, 11}, 0)

	out := e.Tick()
	require.NotNil(t, out)
	require.NotNil(t, out.Selected)
	assert.Equal(t, ChannelID(7), *out.Selected)

	require.NotNil(t, out.Verdict)
	assert.True(t, out.Verdict.HasBreathing)
	assert.InDelta(t, 12.0, out.Verdict.BreathingRateBPM, 1.5)

	require.NotEmpty(t, out.Ranking)
	assert.Equal(t, ChannelID(7), out.Ranking[0].Channel)
	assert.Equal(t, KindAmplitude, out.Kind)
}

func TestEngine_TickWithInsufficientDataProducesNoVerdict(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 10, []ChannelID{3, 7}, 0) // below WindowFrames

	out := e.Tick()
	require.NotNil(t, out)
	assert.Nil(t, out.Selected)
	assert.Nil(t, out.Verdict)
	assert.Empty(t, out.Ranking)
}

func TestEngine_LastOutputTracksTicks(t *testing.T) {
	e := newTestEngine(t)
	assert.Nil(t, e.LastOutput())

	feedFrames(e, 60, []ChannelID{7}, 0)
	out := e.Tick()
	require.NotNil(t, out)

	last := e.LastOutput()
	require.NotNil(t, last)
	assert.Equal(t, out.Time, last.Time)
}

func TestEngine_SinkReceivesTicks(t *testing.T) {
	e := newTestEngine(t)
	sink := &memorySink{}
	e.SetSink(sink)

	feedFrames(e, 60, []ChannelID{7}, 0)
	e.Tick()

	require.Len(t, sink.ticks, 1)
	require.NotNil(t, sink.ticks[0].Selected)
	assert.Equal(t, ChannelID(7), *sink.ticks[0].Selected)
}

func TestEngine_SubscribeDeliversAndDropsWhenBehind(t *testing.T) {
	e := newTestEngine(t)
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	feedFrames(e, 60, []ChannelID{7}, 0)
	e.Tick()
	e.Tick() // second tick dropped: buffer of one, consumer hasn't read

	select {
	case out := <-ch:
		require.NotNil(t, out.Selected)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received a tick")
	}

	select {
	case <-ch:
		t.Fatal("slow subscriber should have missed the second tick")
	default:
	}
}

func TestEngine_UnsubscribeClosesChannel(t *testing.T) {
	e := newTestEngine(t)
	id, ch := e.Subscribe()
	e.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
}

func TestEngine_ApplyProfileRejectsInvalidKeepsOld(t *testing.T) {
	e := newTestEngine(t)
	orig := e.Profile()

	bad := orig
	bad.DetectThreshold = 2.0
	err := e.ApplyProfile(bad)
	require.Error(t, err)
	assert.Equal(t, orig, e.Profile())
}

func TestEngine_ApplyProfileModeChangeResetsStore(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{7}, 0)
	require.NotEmpty(t, e.Store().Channels())

	require.NoError(t, e.ApplyProfile(DirectionFindingProfile()))
	assert.Empty(t, e.Store().Channels())
	assert.Equal(t, ModeDirectionFinding, e.Profile().Mode)
}

func TestEngine_ApplyProfileSameModeKeepsData(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{7}, 0)

	p := e.Profile()
	p.DetectThreshold = 0.5
	require.NoError(t, e.ApplyProfile(p))
	assert.NotEmpty(t, e.Store().Channels())
}

func TestEngine_TickAfterChannelSwitchUsesOnlyActiveSet(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{3, 7}, 0)

	// device switches to a new channel set; the departed channels keep
	// stale buffers but must not feed the next evaluation
	e.Append(Frame{
		Index:       1000,
		TimestampMS: 500000,
		Channels:    map[ChannelID]ChannelSample{9: {Amplitude: 1}},
	})

	out := e.Tick()
	require.NotNil(t, out)
	assert.Nil(t, out.Selected)
	assert.Empty(t, out.Ranking)
}

func TestEngine_SetAnalysisKind(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.SetAnalysisKind(KindPhase))
	assert.Error(t, e.SetAnalysisKind(SampleKind("bogus")))

	feedFrames(e, 60, []ChannelID{7}, 0)
	out := e.Tick()
	require.NotNil(t, out)
	assert.Equal(t, KindPhase, out.Kind)
}

func TestEngine_DisplayScopeLimitsSelection(t *testing.T) {
	p := ChannelSoundingProfile()
	p.RankScope = ScopeDisplay
	e, err := NewEngine(p)
	require.NoError(t, err)

	e.SetDisplayChannels([]ChannelID{3, 11})
	feedFrames(e, 60, []ChannelID{3, 7, 11}, 0)

	out := e.Tick()
	require.NotNil(t, out)
	for _, entry := range out.Ranking {
		assert.NotEqual(t, ChannelID(7), entry.Channel, "channel 7 is outside the display set")
	}
}

func TestEngine_FilterChannelStages(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{7}, 0)

	res, err := e.FilterChannel(7, KindAmplitude)
	require.NoError(t, err)
	assert.Len(t, res.Original, e.Profile().WindowFrames)
	assert.Len(t, res.Despiked, len(res.Original))
	assert.Len(t, res.Detrended, len(res.Original))

	// detrended output loses the 10-unit DC offset
	var mean float64
	for _, v := range res.Detrended {
		mean += v
	}
	mean /= float64(len(res.Detrended))
	assert.Less(t, math.Abs(mean), 1.0)

	_, err = e.FilterChannel(25, KindAmplitude)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestEngine_ChannelChangeResetsSelectorLock(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{7}, 0)

	out := e.Tick()
	require.NotNil(t, out)
	require.NotNil(t, out.Selected)

	// device switches channel sets
	e.Append(Frame{
		Index:       1000,
		TimestampMS: 500000,
		Channels:    map[ChannelID]ChannelSample{9: {Amplitude: 1}},
	})

	assert.Equal(t, PhaseIdle, e.Selector().State().Phase)
}

func TestEngine_ChannelSwitchMidTickNeverLeaksStaleLock(t *testing.T) {
	e := newTestEngine(t)
	feedFrames(e, 60, []ChannelID{7}, 0)

	// land the switch after the windows are scored but before the selector
	// runs: the ratios now describe a channel set that no longer exists
	e.evaluateHook = func() {
		e.evaluateHook = nil
		e.Append(Frame{
			Index:       1000,
			TimestampMS: 500000,
			Channels:    map[ChannelID]ChannelSample{9: {Amplitude: 1}},
		})
	}

	out := e.Tick()
	assert.Nil(t, out, "tick spanning a channel switch must be discarded")
	assert.Equal(t, PhaseIdle, e.Selector().State().Phase)
	assert.Nil(t, e.LastOutput())

	// the next tick sees only the post-switch set; the departed channel 7
	// must not come back as selected
	out = e.Tick()
	require.NotNil(t, out)
	assert.Nil(t, out.Selected)
	assert.Empty(t, out.Ranking)
}
