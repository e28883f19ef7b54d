package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
)

func TestDBSinkRecordsTicks(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "main.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	session, err := database.CreateSession("cs", "{}")
	if err != nil {
		t.Fatal(err)
	}

	sink := &dbSink{db: database, session: session}
	selected := breath.ChannelID(7)
	out := breath.TickOutput{
		Time:     time.Now(),
		Kind:     breath.KindAmplitude,
		Selected: &selected,
		Verdict:  &breath.BreathingVerdict{EnergyRatio: 0.7, HasBreathing: true, BreathingFreqHz: 0.2, BreathingRateBPM: 12},
		Ranking:  []breath.ChannelEnergy{{Channel: 7, EnergyRatio: 0.7}},
		State:    breath.SelectorState{PhaseName: "locked"},
	}
	if err := sink.RecordTick(out); err != nil {
		t.Fatalf("RecordTick() error = %v", err)
	}

	verdicts, err := database.RecentVerdicts(session, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(verdicts) != 1 {
		t.Fatalf("verdicts = %d, want 1", len(verdicts))
	}
	v := verdicts[0]
	if v.SelectedChannel == nil || *v.SelectedChannel != 7 {
		t.Errorf("SelectedChannel = %v, want 7", v.SelectedChannel)
	}
	if !v.HasBreathing || v.BreathingBPM == nil || *v.BreathingBPM != 12 {
		t.Errorf("verdict = %+v", v)
	}
}
