package monitor

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
)

func newPlotterDB(t *testing.T) (*db.DB, string) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "plots.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	session, err := database.CreateSession("cs", "{}")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 30; i++ {
		ts := float64(i) / 2.0
		frame := breath.Frame{
			Index:       int64(i),
			TimestampMS: int64(i) * 500,
			Channels: map[breath.ChannelID]breath.ChannelSample{
				3: {Amplitude: 5},
				7: {Amplitude: 10 + 2*math.Sin(2*math.Pi*0.2*ts)},
			},
		}
		if err := database.RecordFrame(session, frame); err != nil {
			t.Fatal(err)
		}
	}

	selected := breath.ChannelID(7)
	verdict := breath.TickOutput{
		Time:     time.Now(),
		Kind:     breath.KindAmplitude,
		Selected: &selected,
		Ranking: []breath.ChannelEnergy{
			{Channel: 7, EnergyRatio: 0.8},
			{Channel: 3, EnergyRatio: 0.1},
		},
		State: breath.SelectorState{PhaseName: "locked"},
	}
	if err := database.RecordVerdict(session, verdict); err != nil {
		t.Fatal(err)
	}

	return database, session
}

func TestGeneratePlots(t *testing.T) {
	database, session := newPlotterDB(t)
	outDir := filepath.Join(t.TempDir(), "out")

	count, err := NewSessionPlotter(database).GeneratePlots(session, breath.KindAmplitude, outDir)
	if err != nil {
		t.Fatal(err)
	}
	// channels 3 and 7 plus the energy ratio plot
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	for _, name := range []string{"channel_03_amplitude.png", "channel_07_amplitude.png", "energy_ratio.png"} {
		info, err := os.Stat(filepath.Join(outDir, name))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestGeneratePlots_EmptySession(t *testing.T) {
	database, _ := newPlotterDB(t)
	empty, err := database.CreateSession("cs", "{}")
	if err != nil {
		t.Fatal(err)
	}

	count, err := NewSessionPlotter(database).GeneratePlots(empty, breath.KindAmplitude, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestWriteSignalPNG(t *testing.T) {
	database, session := newPlotterDB(t)

	var buf bytes.Buffer
	if err := NewSessionPlotter(database).WriteSignalPNG(&buf, session, 7, breath.KindAmplitude); err != nil {
		t.Fatal(err)
	}
	// PNG magic bytes
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}

	if err := NewSessionPlotter(database).WriteSignalPNG(&buf, session, 20, breath.KindAmplitude); err == nil {
		t.Error("expected error for channel with no samples")
	}
}
