package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/banshee-data/respire.report/internal/breath"
	"github.com/banshee-data/respire.report/internal/radio"
	"github.com/banshee-data/respire.report/internal/version"
)

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	store := s.engine.Store()
	s.writeJSON(w, map[string]any{
		"active":  store.ActiveChannels(),
		"display": s.engine.DisplayChannels(),
		"kind":    s.engine.AnalysisKind(),
	})
}

// channelParam parses the required channel query parameter.
func channelParam(r *http.Request) (breath.ChannelID, error) {
	raw := r.URL.Query().Get("channel")
	if raw == "" {
		return 0, fmt.Errorf("missing 'channel' parameter")
	}
	ch, err := strconv.Atoi(raw)
	if err != nil || ch < radio.MinChannel || ch > radio.MaxChannel {
		return 0, fmt.Errorf("invalid channel %q", raw)
	}
	return breath.ChannelID(ch), nil
}

func kindParam(r *http.Request) (breath.SampleKind, error) {
	raw := r.URL.Query().Get("kind")
	if raw == "" {
		return breath.KindAmplitude, nil
	}
	kind := breath.SampleKind(raw)
	if !breath.ValidSampleKind(kind) {
		return "", fmt.Errorf("unknown sample kind %q", raw)
	}
	return kind, nil
}

func limitParam(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter %q", raw)
	}
	return n, nil
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ch, err := channelParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := kindParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("filtered") == "true" {
		result, err := s.engine.FilterChannel(ch, kind)
		if err != nil {
			s.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeJSON(w, map[string]any{
			"channel":   ch,
			"kind":      kind,
			"original":  result.Original,
			"despiked":  result.Despiked,
			"detrended": result.Detrended,
		})
		return
	}

	limit, err := limitParam(r, s.engine.Profile().WindowFrames)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := s.engine.Store().Window(ch, kind, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{
		"channel": ch,
		"kind":    kind,
		"points":  points,
	})
}

func (s *Server) showFrequency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ch, err := channelParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := kindParam(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := limitParam(r, s.engine.Profile().HistoryFrames)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	est, err := s.engine.Store().EstimateFrequency(ch, kind, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, est)
}

func (s *Server) showVerdict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	out := s.engine.LastOutput()
	if out == nil {
		s.writeJSONError(w, http.StatusNotFound, "no verdict yet")
		return
	}
	s.writeJSON(w, out)
}

func (s *Server) listRecentVerdicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	limit, err := limitParam(r, 100)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		session = s.session()
	}
	if session == "" {
		s.writeJSON(w, []struct{}{})
		return
	}

	verdicts, err := s.db.RecentVerdicts(session, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve verdicts: %v", err))
		return
	}
	s.writeJSON(w, verdicts)
}

func (s *Server) showSelector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, s.engine.Selector().State())
}

func (s *Server) selectorRetrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.engine.Selector().Retrigger()
	s.writeJSON(w, s.engine.Selector().State())
}

func (s *Server) selectorEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.engine.Selector().Enable()
	s.writeJSON(w, s.engine.Selector().State())
}

func (s *Server) selectorDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.engine.Selector().Disable()
	s.writeJSON(w, s.engine.Selector().State())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if mode := r.URL.Query().Get("defaults"); mode != "" {
			profile, err := breath.DefaultProfile(breath.Mode(mode))
			if err != nil {
				s.writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.writeJSON(w, profile)
			return
		}
		s.writeJSON(w, s.engine.Profile())

	case http.MethodPost:
		var profile breath.Profile
		if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid profile: %v", err))
			return
		}
		if err := s.engine.ApplyProfile(profile); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, s.engine.Profile())

	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) setDisplayChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	expr := r.FormValue("channels")
	if expr == "" {
		s.engine.SetDisplayChannels(nil)
		s.writeJSON(w, map[string]any{"display": []breath.ChannelID{}})
		return
	}

	channels, err := radio.ParseChannelList(expr)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	display := make([]breath.ChannelID, len(channels))
	for i, ch := range channels {
		display[i] = breath.ChannelID(ch)
	}
	s.engine.SetDisplayChannels(display)
	s.writeJSON(w, map[string]any{"display": display})
}

func (s *Server) setAnalysisKind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	kind := breath.SampleKind(r.FormValue("kind"))
	if err := s.engine.SetAnalysisKind(kind); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"kind": kind})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	name := r.FormValue("name")
	params := map[string]string{}
	for _, key := range []string{"mac", "channels", "interval_ms", "cte_len"} {
		if v := r.FormValue(key); v != "" {
			params[key] = v
		}
	}

	// operators write channel lists as "3,5-7,10"; the firmware wants pipes
	if expr, ok := params["channels"]; ok {
		channels, err := radio.ParseChannelList(expr)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		params["channels"] = radio.FormatChannelList(channels)
	}

	command, err := radio.Build(name, params)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to send command")
		return
	}
	if s.db != nil {
		if err := s.db.LogCommand(command); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, "Failed to log command")
			return
		}
	}
	s.writeJSON(w, map[string]string{"command": command})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	limit, err := limitParam(r, 20)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.db.Sessions(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	s.writeJSON(w, sessions)
}
