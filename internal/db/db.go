package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/respire.report/internal/breath"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path and brings the schema
// up to date.
func NewDB(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := sdb.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	db := &DB{sdb}
	if err := db.MigrateUp(); err != nil {
		return nil, err
	}

	return db, nil
}

// Session is one recording run: a mode, the profile it ran with, and a time
// range. EndedAt is nil while the session is live.
type Session struct {
	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	Profile   string     `json:"profile"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// CreateSession opens a new session for the given mode and serialized
// profile, returning its generated ID.
func (db *DB) CreateSession(mode string, profileJSON string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, mode, profile_json) VALUES (?, ?, ?)`,
		id, mode, profileJSON,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_at = CURRENT_TIMESTAMP WHERE session_id = ? AND ended_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no live session with id %s", id)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT session_id, mode, profile_json, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var ended sql.NullTime
		if err := rows.Scan(&s.ID, &s.Mode, &s.Profile, &s.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordFrame persists one parsed report frame under a session. Channel
// samples are stored as a JSON object keyed by channel number.
func (db *DB) RecordFrame(sessionID string, f breath.Frame) error {
	channels, err := json.Marshal(f.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO frames (session_id, frame_index, device_ts_ms, channels_json)
		 VALUES (?, ?, ?, ?)`,
		sessionID, f.Index, f.TimestampMS, string(channels),
	)
	if err != nil {
		return fmt.Errorf("failed to record frame: %w", err)
	}
	return nil
}

// FrameCount reports how many frames a session has recorded.
func (db *DB) FrameCount(sessionID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// FrameSeries reads back one channel's measurement series from a session's
// recorded frames, oldest first, at most limit points.
func (db *DB) FrameSeries(sessionID string, ch breath.ChannelID, kind breath.SampleKind, limit int) ([]breath.SamplePoint, error) {
	if !breath.ValidSampleKind(kind) {
		return nil, fmt.Errorf("unknown sample kind %q", kind)
	}
	if limit <= 0 {
		limit = 1200
	}
	rows, err := db.Query(
		`SELECT frame_index, device_ts_ms, channels_json FROM (
			SELECT frame_index, device_ts_ms, channels_json
			FROM frames WHERE session_id = ? ORDER BY frame_index DESC LIMIT ?
		 ) ORDER BY frame_index ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []breath.SamplePoint
	for rows.Next() {
		var index, tsMS int64
		var channelsJSON string
		if err := rows.Scan(&index, &tsMS, &channelsJSON); err != nil {
			return nil, err
		}
		var channels map[breath.ChannelID]breath.ChannelSample
		if err := json.Unmarshal([]byte(channelsJSON), &channels); err != nil {
			return nil, fmt.Errorf("failed to decode channels for frame %d: %w", index, err)
		}
		sample, ok := channels[ch]
		if !ok {
			continue
		}
		points = append(points, breath.SamplePoint{
			Index:       index,
			TimestampMS: tsMS,
			Value:       sample.Value(kind),
		})
	}
	return points, rows.Err()
}

// SessionChannels lists the distinct channels observed in a session's
// recorded frames, ascending.
func (db *DB) SessionChannels(sessionID string) ([]breath.ChannelID, error) {
	rows, err := db.Query(
		`SELECT DISTINCT CAST(je.key AS INTEGER) AS ch
		 FROM frames, json_each(frames.channels_json) AS je
		 WHERE session_id = ? ORDER BY ch ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []breath.ChannelID
	for rows.Next() {
		var ch int
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		channels = append(channels, breath.ChannelID(ch))
	}
	return channels, rows.Err()
}

// VerdictRecord is one persisted tick result.
type VerdictRecord struct {
	SessionID       string    `json:"session_id"`
	TickTime        time.Time `json:"tick_time"`
	SampleKind      string    `json:"sample_kind"`
	Phase           string    `json:"phase"`
	SelectedChannel *int      `json:"selected_channel,omitempty"`
	HasBreathing    bool      `json:"has_breathing"`
	EnergyRatio     *float64  `json:"energy_ratio,omitempty"`
	BreathingFreqHz *float64  `json:"breathing_freq_hz,omitempty"`
	BreathingBPM    *float64  `json:"breathing_bpm,omitempty"`
	Ranking         string    `json:"ranking"`
	Changed         bool      `json:"selection_changed"`
}

// RecordVerdict persists one engine tick under a session.
func (db *DB) RecordVerdict(sessionID string, out breath.TickOutput) error {
	ranking, err := json.Marshal(out.Ranking)
	if err != nil {
		return fmt.Errorf("failed to encode ranking: %w", err)
	}

	var selected *int
	if out.Selected != nil {
		ch := int(*out.Selected)
		selected = &ch
	}

	var hasBreathing bool
	var energyRatio, freqHz, bpm *float64
	if out.Verdict != nil {
		hasBreathing = out.Verdict.HasBreathing
		ratio := out.Verdict.EnergyRatio
		energyRatio = &ratio
		if hasBreathing {
			f := out.Verdict.BreathingFreqHz
			b := out.Verdict.BreathingRateBPM
			freqHz = &f
			bpm = &b
		}
	}

	_, err = db.Exec(
		`INSERT INTO verdicts (
			session_id, tick_time, sample_kind, phase, selected_channel,
			has_breathing, energy_ratio, breathing_freq_hz, breathing_bpm,
			ranking_json, selection_changed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, out.Time, string(out.Kind), out.State.PhaseName, selected,
		hasBreathing, energyRatio, freqHz, bpm, string(ranking), out.Changed,
	)
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

// RecentVerdicts returns a session's latest verdicts, newest first.
func (db *DB) RecentVerdicts(sessionID string, limit int) ([]VerdictRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, tick_time, sample_kind, phase, selected_channel,
		        has_breathing, energy_ratio, breathing_freq_hz, breathing_bpm,
		        ranking_json, selection_changed
		 FROM verdicts WHERE session_id = ?
		 ORDER BY verdict_id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []VerdictRecord
	for rows.Next() {
		var v VerdictRecord
		var selected sql.NullInt64
		var ratio, freq, bpm sql.NullFloat64
		if err := rows.Scan(
			&v.SessionID, &v.TickTime, &v.SampleKind, &v.Phase, &selected,
			&v.HasBreathing, &ratio, &freq, &bpm, &v.Ranking, &v.Changed,
		); err != nil {
			return nil, err
		}
		if selected.Valid {
			ch := int(selected.Int64)
			v.SelectedChannel = &ch
		}
		if ratio.Valid {
			r := ratio.Float64
			v.EnergyRatio = &r
		}
		if freq.Valid {
			f := freq.Float64
			v.BreathingFreqHz = &f
		}
		if bpm.Valid {
			b := bpm.Float64
			v.BreathingBPM = &b
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// LogCommand records a command sent to the radio; the acknowledgement
// arrives asynchronously and is attached by LogResponse.
func (db *DB) LogCommand(command string) error {
	_, err := db.Exec(`INSERT INTO commands (command) VALUES (?)`, command)
	return err
}

// LogResponse attaches an acknowledgement to the oldest command still
// awaiting one. Unsolicited responses are recorded as their own row.
func (db *DB) LogResponse(raw string, ok bool) error {
	res, err := db.Exec(
		`UPDATE commands SET response = ?, ok = ?
		 WHERE command_id = (
			SELECT command_id FROM commands WHERE response IS NULL
			ORDER BY command_id ASC LIMIT 1
		 )`,
		raw, ok,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = db.Exec(`INSERT INTO commands (command, response, ok) VALUES ('', ?, ?)`, raw, ok)
	}
	return err
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://respire.db", db.DB, &tailsql.DBOptions{
		Label: "Respire DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
