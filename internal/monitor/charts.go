// Package monitor serves debugging visualisations of the breathing
// pipeline: signal and spectrum charts per channel, the adaptive ranking,
// and PNG exports of recorded sessions. These are debugging-only endpoints
// (no auth), reachable over localhost or the tailnet.
package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/db"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Monitor renders debug charts for a running engine and, when persistence
// is enabled, for recorded sessions.
type Monitor struct {
	engine  *breath.Engine
	db      *db.DB
	session func() string
}

// NewMonitor wires the chart handlers. db may be nil when persistence is
// disabled; session returns the active recording session ID (empty when
// none).
func NewMonitor(engine *breath.Engine, database *db.DB, session func() string) *Monitor {
	if session == nil {
		session = func() string { return "" }
	}
	return &Monitor{engine: engine, db: database, session: session}
}

// AttachDebugRoutes registers the chart endpoints on the given mux.
func (m *Monitor) AttachDebugRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts", m.handleDashboard)
	mux.HandleFunc("/debug/charts/signal", m.handleSignalChart)
	mux.HandleFunc("/debug/charts/spectrum", m.handleSpectrumChart)
	mux.HandleFunc("/debug/charts/ranking", m.handleRankingChart)
	mux.HandleFunc("/debug/charts/session.png", m.handleSessionPlot)
}

func (m *Monitor) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}

func (m *Monitor) channelParam(r *http.Request) (breath.ChannelID, bool) {
	raw := r.URL.Query().Get("channel")
	if raw == "" {
		// default to the selected channel, else the lowest active one
		if out := m.engine.LastOutput(); out != nil && out.Selected != nil {
			return *out.Selected, true
		}
		active := m.engine.Store().ActiveChannels()
		if len(active) == 0 {
			return 0, false
		}
		return active[0], true
	}
	ch, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return breath.ChannelID(ch), true
}

// handleSignalChart renders the raw, despiked, and detrended series for one
// channel's current window as an ECharts line chart.
// Query params:
//   - channel (optional; defaults to the selected or lowest active channel)
//   - kind (optional; defaults to the engine's analysis kind)
func (m *Monitor) handleSignalChart(w http.ResponseWriter, r *http.Request) {
	ch, ok := m.channelParam(r)
	if !ok {
		m.writeJSONError(w, http.StatusNotFound, "no channel data available")
		return
	}
	kind := m.engine.AnalysisKind()
	if raw := r.URL.Query().Get("kind"); raw != "" {
		if !breath.ValidSampleKind(breath.SampleKind(raw)) {
			m.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown sample kind %q", raw))
			return
		}
		kind = breath.SampleKind(raw)
	}

	result, err := m.engine.FilterChannel(ch, kind)
	if err != nil {
		m.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	x := make([]string, len(result.Original))
	original := make([]opts.LineData, len(result.Original))
	despiked := make([]opts.LineData, len(result.Despiked))
	detrended := make([]opts.LineData, len(result.Detrended))
	sampleRate := m.engine.Profile().SampleRate
	for i := range result.Original {
		x[i] = fmt.Sprintf("%.1fs", float64(i)/sampleRate)
		original[i] = opts.LineData{Value: result.Original[i]}
		despiked[i] = opts.LineData{Value: result.Despiked[i]}
		detrended[i] = opts.LineData{Value: result.Detrended[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Breathing Signal", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Breathing Signal Pipeline", Subtitle: fmt.Sprintf("channel=%d kind=%s frames=%d", ch, kind, len(x))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).
		AddSeries("original", original).
		AddSeries("despiked", despiked).
		AddSeries("detrended", detrended)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSpectrumChart renders the one-sided power spectrum of a channel's
// detrended window, with the respiration band boundaries in the subtitle.
func (m *Monitor) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	ch, ok := m.channelParam(r)
	if !ok {
		m.writeJSONError(w, http.StatusNotFound, "no channel data available")
		return
	}
	kind := m.engine.AnalysisKind()
	profile := m.engine.Profile()

	result, err := m.engine.FilterChannel(ch, kind)
	if err != nil {
		m.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	spectrum := breath.PowerSpectrum(result.Detrended, profile.SampleRate, true)
	x := make([]string, 0, len(spectrum.Freqs))
	y := make([]opts.BarData, 0, len(spectrum.Power))
	for i, f := range spectrum.Freqs {
		// the upper half of the reference band is enough context
		if f > profile.TotalHighHz*1.5 {
			break
		}
		x = append(x, fmt.Sprintf("%.3f", f))
		y = append(y, opts.BarData{Value: spectrum.Power[i]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Breathing Spectrum", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Power Spectrum",
			Subtitle: fmt.Sprintf("channel=%d kind=%s breath=%g-%gHz total=%g-%gHz", ch, kind, profile.BreathLowHz, profile.BreathHighHz, profile.TotalLowHz, profile.TotalHighHz),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hz"}),
	)
	bar.SetXAxis(x).AddSeries("power", y)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleRankingChart renders the last tick's channel ranking as a bar chart
// with the detection threshold in the subtitle.
func (m *Monitor) handleRankingChart(w http.ResponseWriter, r *http.Request) {
	out := m.engine.LastOutput()
	if out == nil || len(out.Ranking) == 0 {
		m.writeJSONError(w, http.StatusNotFound, "no ranking available yet")
		return
	}

	x := make([]string, len(out.Ranking))
	y := make([]opts.BarData, len(out.Ranking))
	for i, entry := range out.Ranking {
		label := fmt.Sprintf("ch %d", entry.Channel)
		if out.Selected != nil && entry.Channel == *out.Selected {
			label += " *"
		}
		x[i] = label
		y[i] = opts.BarData{Value: entry.EnergyRatio}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Channel Ranking", Theme: "dark", Width: "900px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Channel Ranking",
			Subtitle: fmt.Sprintf("phase=%s threshold=%g tick=%s", out.State.PhaseName, m.engine.Profile().DetectThreshold, out.Time.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "energy ratio"}),
	)
	bar.SetXAxis(x).
		AddSeries("energy ratio", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		m.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDashboard renders a simple page with iframes to the debug charts.
func (m *Monitor) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<title>Respire Debug Charts</title>
<style>
body { background: #1e1e1e; color: #ddd; font-family: sans-serif; margin: 1em; }
iframe { border: 1px solid #444; background: #1e1e1e; width: 100%; height: 640px; margin-bottom: 1em; }
</style>
</head>
<body>
<h1>Respire Debug Charts</h1>
<iframe src="/debug/charts/signal"></iframe>
<iframe src="/debug/charts/spectrum"></iframe>
<iframe src="/debug/charts/ranking"></iframe>
</body>
</html>
`
