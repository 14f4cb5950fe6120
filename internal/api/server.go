package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/h1v3-io/fabsync/internal/journal"
	"github.com/h1v3-io/fabsync/internal/logbuf"
	"github.com/h1v3-io/fabsync/internal/reconcile"
	"github.com/h1v3-io/fabsync/internal/scheduler"
	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(f logbuf.Filter) []logbuf.Entry
}

// StatusService is what the API server needs from the running daemon.
type StatusService interface {
	Status() reconcile.Status
	Stats() scheduler.Stats
}

// PollJournal is the read side of the poll journal.
type PollJournal interface {
	GetPoll(id string) (*protocol.PollReport, error)
	ListPolls(filter journal.Filter) ([]*protocol.PollReport, error)
	CountPolls(filter journal.Filter) (int, error)
	TicketActions(ticket string, limit int) ([]journal.TicketAction, error)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Reconciler reconcile.Status `json:"reconciler"`
	Scheduler  scheduler.Stats  `json:"scheduler"`
	Uptime     string           `json:"uptime"`
}

// PollList is the body of GET /api/polls.
type PollList struct {
	Total int                    `json:"total"`
	Polls []*protocol.PollReport `json:"polls"`
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the fabsync status API. It is read-only.
type Server struct {
	svc     StatusService
	journal PollJournal
	cfg     Config
	logger  *slog.Logger
	logs    LogQuerier
	started time.Time
	srv     *http.Server
}

// NewServer creates a new API server. polls and logs may be nil.
func NewServer(svc StatusService, polls PollJournal, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     svc,
		journal: polls,
		cfg:     cfg,
		logger:  logger,
		logs:    logs,
		started: time.Now(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("GET /api/polls", s.requireAuth(s.handleListPolls))
	mux.HandleFunc("GET /api/polls/{id}", s.requireAuth(s.handleGetPoll))
	mux.HandleFunc("GET /api/tickets/{key}/actions", s.requireAuth(s.handleTicketActions))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Reconciler: s.svc.Status(),
		Scheduler:  s.svc.Stats(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poll journal disabled"})
		return
	}

	filter := journal.Filter{Limit: 50}
	q := r.URL.Query()
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if q.Get("notable") == "true" || q.Get("notable") == "1" {
		filter.OnlyNotable = true
	}
	if v := q.Get("since"); v != "" {
		since, err := parseSince(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		filter.Since = since
	}

	polls, err := s.journal.ListPolls(filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	count := filter
	count.Limit = 0
	total, err := s.journal.CountPolls(count)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if polls == nil {
		polls = []*protocol.PollReport{}
	}
	writeJSON(w, http.StatusOK, PollList{Total: total, Polls: polls})
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poll journal disabled"})
		return
	}
	p, err := s.journal.GetPoll(r.PathValue("id"))
	if errors.Is(err, journal.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "poll not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poll journal disabled"})
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	actions, err := s.journal.TicketActions(r.PathValue("key"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if actions == nil {
		actions = []journal.TicketAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	q := r.URL.Query()
	f := logbuf.Filter{
		MinLevel: slog.LevelDebug,
		Limit:    200,
		Ticket:   q.Get("ticket"),
		Poll:     q.Get("poll"),
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if lvl := q.Get("level"); lvl != "" {
		f.MinLevel = logbuf.ParseLevel(lvl)
	}
	if v := q.Get("since"); v != "" {
		if since, err := parseSince(v); err == nil {
			f.Since = since
		}
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// parseSince accepts unix milliseconds, RFC 3339 or a duration like "2h"
// meaning that long ago.
func parseSince(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid since %q", v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
