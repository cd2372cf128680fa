// Package api exposes the authority over HTTP: fight events come in from
// the game server, record views and leaderboards go out as JSON.
package api

import (
	"bytes"
	"cmp"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rijam/BossChecklist/internal/tracker"
)

// SecretHeader carries the shared secret on mutating requests.
const SecretHeader = "X-Records-Secret"

const defaultLimit = 10

// Tracker is the part of the authority the API drives.
type Tracker interface {
	AttemptStarted(boss string, players []string) error
	PlayerDied(player, boss string) error
	BossDefeated(boss string, outcomes []tracker.Outcome) error
	ResetPlayer(player, boss string) error
	ResetWorld(boss string) error
	SetPlayTime(player, boss string, playTime int64) error
	Players() []string
	EachPlayer(fn func(*tracker.PlayerRecords) error) error
	World(fn func(*tracker.WorldRecords) error) error
}

// Config wires the router.
type Config struct {
	Tracker Tracker
	// Hub, if set, is served at /ws.
	Hub    http.Handler
	Secret string
	Logger *slog.Logger
}

type server struct {
	tracker Tracker
	secret  string
	logger  *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg Config) *mux.Router {
	s := &server{tracker: cfg.Tracker, secret: cfg.Secret, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(countRequests)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if cfg.Hub != nil {
		r.Handle("/ws", cfg.Hub)
	}

	read := r.PathPrefix("/api").Methods("GET").Subrouter()
	read.HandleFunc("/players", s.listPlayers)
	read.HandleFunc("/players/{player}", s.getPlayer)
	read.HandleFunc("/world", s.getWorld)
	read.HandleFunc("/leaderboard/{boss}", s.leaderboard)

	write := r.PathPrefix("/api").Methods("POST").Subrouter()
	write.Use(s.requireSecret)
	write.HandleFunc("/events/attempt", s.attempt)
	write.HandleFunc("/events/death", s.death)
	write.HandleFunc("/events/defeat", s.defeat)
	write.HandleFunc("/players/{player}/reset", s.resetPlayer)
	write.HandleFunc("/players/{player}/playtime", s.setPlayTime)
	write.HandleFunc("/world/reset", s.resetWorld)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		// the hub hijacks the connection, so it is counted but not wrapped
		if route == "/ws" {
			requestsTotal.WithLabelValues(route, "101").Inc()
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		requestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

func (s *server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) listPlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Players())
}

func (s *server) getPlayer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["player"]

	// encode under the session lock; the records are live
	var buf bytes.Buffer
	found := false
	err := s.tracker.EachPlayer(func(p *tracker.PlayerRecords) error {
		if p.Player != id {
			return nil
		}
		found = true
		return json.NewEncoder(&buf).Encode(p.Records())
	})
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case !found:
		writeError(w, http.StatusNotFound, errors.New("unknown player"))
	default:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buf.Bytes())
	}
}

func (s *server) getWorld(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	err := s.tracker.World(func(wr *tracker.WorldRecords) error {
		return json.NewEncoder(&buf).Encode(map[string]any{
			"world":   wr.WorldID,
			"records": wr.Records(),
		})
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

// Entry is one leaderboard row.
type Entry struct {
	Player    string `json:"player"`
	Duration  int32  `json:"duration"`
	HitsTaken *int32 `json:"hitsTaken"`
	Kills     int32  `json:"kills"`
}

func (s *server) leaderboard(w http.ResponseWriter, r *http.Request) {
	boss := mux.Vars(r)["boss"]
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	var entries []Entry
	_ = s.tracker.EachPlayer(func(p *tracker.PlayerRecords) error {
		rec, ok := p.Get(boss)
		if !ok {
			return nil
		}
		d, ok := rec.Stats.DurationBest.Get()
		if !ok {
			return nil
		}
		e := Entry{Player: p.Player, Duration: d, Kills: rec.Stats.Kills}
		if h, ok := rec.Stats.HitsTakenBest.Get(); ok {
			e.HitsTaken = &h
		}
		entries = append(entries, e)
		return nil
	})

	slices.SortFunc(entries, func(a, b Entry) int {
		return cmp.Or(cmp.Compare(a.Duration, b.Duration), strings.Compare(a.Player, b.Player))
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// delivered reports the outcome of an event whose records were stored.
// Failing to reach an observer does not undo the event. An event the
// tracker refused is a bad request.
func (s *server) delivered(w http.ResponseWriter, kind string, err error) {
	if errors.Is(err, tracker.ErrInvalidEvent) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	eventsTotal.WithLabelValues(kind).Inc()
	resp := map[string]string{"status": "recorded"}
	if err != nil {
		sendErrorsTotal.Inc()
		s.logger.Warn("packets not delivered", "event", kind, "error", err)
		resp["sendError"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// AttemptRequest starts a fight.
type AttemptRequest struct {
	Boss    string   `json:"boss"`
	Players []string `json:"players"`
}

func (s *server) attempt(w http.ResponseWriter, r *http.Request) {
	var req AttemptRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Boss == "" || len(req.Players) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("boss and players are required"))
		return
	}
	s.delivered(w, "attempt", s.tracker.AttemptStarted(req.Boss, req.Players))
}

// DeathRequest reports a player dying during a fight.
type DeathRequest struct {
	Boss   string `json:"boss"`
	Player string `json:"player"`
}

func (s *server) death(w http.ResponseWriter, r *http.Request) {
	var req DeathRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Boss == "" || req.Player == "" {
		writeError(w, http.StatusBadRequest, errors.New("boss and player are required"))
		return
	}
	s.delivered(w, "death", s.tracker.PlayerDied(req.Player, req.Boss))
}

// Outcome is one participant's result in a DefeatRequest.
type Outcome struct {
	Player    string `json:"player"`
	Duration  int32  `json:"duration"`
	HitsTaken int32  `json:"hitsTaken"`
	PlayTime  int64  `json:"playTime"`
}

// DefeatRequest reports a boss defeat.
type DefeatRequest struct {
	Boss     string    `json:"boss"`
	Outcomes []Outcome `json:"outcomes"`
}

func (s *server) defeat(w http.ResponseWriter, r *http.Request) {
	var req DefeatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Boss == "" || len(req.Outcomes) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("boss and outcomes are required"))
		return
	}

	outcomes := make([]tracker.Outcome, 0, len(req.Outcomes))
	for _, o := range req.Outcomes {
		if o.Player == "" || o.Duration < 0 || o.HitsTaken < 0 || o.PlayTime < 0 {
			writeError(w, http.StatusBadRequest, errors.New("outcomes need a player and non-negative results"))
			return
		}
		outcomes = append(outcomes, tracker.Outcome(o))
	}
	s.delivered(w, "defeat", s.tracker.BossDefeated(req.Boss, outcomes))
}

func (s *server) resetPlayer(w http.ResponseWriter, r *http.Request) {
	player := mux.Vars(r)["player"]
	boss := r.URL.Query().Get("boss")
	s.delivered(w, "reset_player", s.tracker.ResetPlayer(player, boss))
}

func (s *server) resetWorld(w http.ResponseWriter, r *http.Request) {
	s.delivered(w, "reset_world", s.tracker.ResetWorld(r.URL.Query().Get("boss")))
}

// PlayTimeRequest overrides the play time recorded at a first kill.
type PlayTimeRequest struct {
	Boss     string `json:"boss"`
	PlayTime int64  `json:"playTime"`
}

func (s *server) setPlayTime(w http.ResponseWriter, r *http.Request) {
	var req PlayTimeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Boss == "" || req.PlayTime < 0 {
		writeError(w, http.StatusBadRequest, errors.New("boss and a non-negative playTime are required"))
		return
	}
	player := mux.Vars(r)["player"]
	s.delivered(w, "play_time", s.tracker.SetPlayTime(player, req.Boss, req.PlayTime))
}
