package monitor

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/respire.report/internal/breath"
)

func newTestMonitor(t *testing.T) (*Monitor, *breath.Engine) {
	t.Helper()
	engine, err := breath.NewEngine(breath.ChannelSoundingProfile())
	if err != nil {
		t.Fatal(err)
	}
	return NewMonitor(engine, nil, nil), engine
}

func feedBreathing(engine *breath.Engine, n int) {
	for i := 0; i < n; i++ {
		ts := float64(i) / 2.0
		engine.Append(breath.Frame{
			Index:       int64(i),
			TimestampMS: int64(i) * 500,
			Channels: map[breath.ChannelID]breath.ChannelSample{
				7: {Amplitude: 10 + 2*math.Sin(2*math.Pi*0.2*ts)},
			},
		})
	}
}

func serve(t *testing.T, m *Monitor, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	m.AttachDebugRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestDashboard(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := serve(t, m, "/debug/charts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/debug/charts/ranking") {
		t.Error("dashboard missing chart iframe")
	}
}

func TestSignalChart(t *testing.T) {
	m, engine := newTestMonitor(t)

	// nothing buffered yet
	rec := serve(t, m, "/debug/charts/signal")
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty store: status = %d, want 404", rec.Code)
	}

	feedBreathing(engine, 50)
	rec = serve(t, m, "/debug/charts/signal")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, series := range []string{"original", "despiked", "detrended"} {
		if !strings.Contains(body, series) {
			t.Errorf("chart missing series %q", series)
		}
	}

	// explicit channel that was never observed
	rec = serve(t, m, "/debug/charts/signal?channel=12")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown channel: status = %d, want 404", rec.Code)
	}

	rec = serve(t, m, "/debug/charts/signal?kind=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad kind: status = %d, want 400", rec.Code)
	}
}

func TestSpectrumChart(t *testing.T) {
	m, engine := newTestMonitor(t)
	feedBreathing(engine, 50)

	rec := serve(t, m, "/debug/charts/spectrum?channel=7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Power Spectrum") {
		t.Error("chart missing title")
	}
}

func TestRankingChart(t *testing.T) {
	m, engine := newTestMonitor(t)

	rec := serve(t, m, "/debug/charts/ranking")
	if rec.Code != http.StatusNotFound {
		t.Errorf("pre-tick status = %d, want 404", rec.Code)
	}

	feedBreathing(engine, 60)
	if out := engine.Tick(); out == nil {
		t.Fatal("tick produced no output")
	}

	rec = serve(t, m, "/debug/charts/ranking")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "ch 7") {
		t.Error("chart missing ranked channel")
	}
}

func TestSessionPlotWithoutDB(t *testing.T) {
	m, _ := newTestMonitor(t)
	rec := serve(t, m, "/debug/charts/session.png?channel=7")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
