package monitor

import (
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
)

// SessionPlotter renders recorded sessions to PNG files: one signal plot
// per channel plus an energy-ratio plot across all ranked channels.
type SessionPlotter struct {
	db *db.DB
}

// NewSessionPlotter builds a plotter over the given database.
func NewSessionPlotter(database *db.DB) *SessionPlotter {
	return &SessionPlotter{db: database}
}

// GeneratePlots writes PNGs for every channel a session recorded, plus the
// energy-ratio history, into outputDir. Returns the number of plots written.
func (sp *SessionPlotter) GeneratePlots(sessionID string, kind breath.SampleKind, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	channels, err := sp.db.SessionChannels(sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list channels: %w", err)
	}

	count := 0
	for _, ch := range channels {
		file := filepath.Join(outputDir, fmt.Sprintf("channel_%02d_%s.png", ch, kind))
		p, err := sp.signalPlot(sessionID, ch, kind)
		if err != nil {
			return count, fmt.Errorf("channel %d: %w", ch, err)
		}
		if p == nil {
			continue
		}
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return count, fmt.Errorf("save signal plot: %w", err)
		}
		count++
	}

	p, err := sp.energyRatioPlot(sessionID)
	if err != nil {
		return count, err
	}
	if p != nil {
		file := filepath.Join(outputDir, "energy_ratio.png")
		if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
			return count, fmt.Errorf("save energy ratio plot: %w", err)
		}
		count++
	}

	return count, nil
}

// WriteSignalPNG streams one channel's signal plot as PNG, for the HTTP
// debug endpoint.
func (sp *SessionPlotter) WriteSignalPNG(w io.Writer, sessionID string, ch breath.ChannelID, kind breath.SampleKind) error {
	p, err := sp.signalPlot(sessionID, ch, kind)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("channel %d has no recorded samples", ch)
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// signalPlot builds a time series plot of one channel's recorded samples.
// Returns nil when the channel has no samples in the session.
func (sp *SessionPlotter) signalPlot(sessionID string, ch breath.ChannelID, kind breath.SampleKind) (*plot.Plot, error) {
	points, err := sp.db.FrameSeries(sessionID, ch, kind, 0)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Channel %d - %s", ch, kind)
	p.X.Label.Text = "Device time (s)"
	p.Y.Label.Text = string(kind)

	xys := make(plotter.XYs, 0, len(points))
	t0 := points[0].TimestampMS
	for _, pt := range points {
		xys = append(xys, plotter.XY{
			X: float64(pt.TimestampMS-t0) / 1000.0,
			Y: pt.Value,
		})
	}

	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	return p, nil
}

// energyRatioPlot builds one line per channel from the ranking history of a
// session's recorded verdicts. Returns nil when no verdicts carry rankings.
func (sp *SessionPlotter) energyRatioPlot(sessionID string) (*plot.Plot, error) {
	verdicts, err := sp.db.RecentVerdicts(sessionID, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to read verdicts: %w", err)
	}
	if len(verdicts) == 0 {
		return nil, nil
	}

	// RecentVerdicts is newest first; plot oldest first
	series := make(map[breath.ChannelID]plotter.XYs)
	t0 := verdicts[len(verdicts)-1].TickTime
	for i := len(verdicts) - 1; i >= 0; i-- {
		v := verdicts[i]
		var ranking []breath.ChannelEnergy
		if err := json.Unmarshal([]byte(v.Ranking), &ranking); err != nil {
			continue
		}
		x := v.TickTime.Sub(t0).Seconds()
		for _, entry := range ranking {
			series[entry.Channel] = append(series[entry.Channel], plotter.XY{X: x, Y: entry.EnergyRatio})
		}
	}
	if len(series) == 0 {
		return nil, nil
	}

	p := plot.New()
	p.Title.Text = "Breathing Energy Ratio"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Energy ratio"
	p.Y.Min = 0
	p.Y.Max = 1

	var channels []breath.ChannelID
	for ch := range series {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	colors := generateColors(len(channels))
	for i, ch := range channels {
		line, err := plotter.NewLine(series[ch])
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("ch %d", ch), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// handleSessionPlot streams a PNG of one channel's recorded signal.
// Query params:
//   - session (optional; defaults to the active recording session)
//   - channel (required)
//   - kind (optional; default amplitude)
func (m *Monitor) handleSessionPlot(w http.ResponseWriter, r *http.Request) {
	if m.db == nil {
		m.writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		session = m.session()
	}
	if session == "" {
		m.writeJSONError(w, http.StatusNotFound, "no active session")
		return
	}

	ch, ok := m.channelParam(r)
	if !ok {
		m.writeJSONError(w, http.StatusBadRequest, "missing 'channel' parameter")
		return
	}
	kind := breath.KindAmplitude
	if raw := r.URL.Query().Get("kind"); raw != "" {
		if !breath.ValidSampleKind(breath.SampleKind(raw)) {
			m.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown sample kind %q", raw))
			return
		}
		kind = breath.SampleKind(raw)
	}

	w.Header().Set("Content-Type", "image/png")
	if err := NewSessionPlotter(m.db).WriteSignalPNG(w, session, ch, kind); err != nil {
		// headers are gone; best effort
		fmt.Fprintf(w, "plot error: %v", err)
	}
}

// generateColors creates a palette of distinct colors for channel lines.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
