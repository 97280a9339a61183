package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"taskprinter/internal/config"
	"taskprinter/internal/ics"
	appLog "taskprinter/internal/log"
	"taskprinter/internal/printer"
	"taskprinter/internal/recurrence"
	"taskprinter/internal/store"
)

// Notifier is told after every write so the dispatcher re-checks at once.
type Notifier interface {
	Notify()
}

// Server provides the HTTP API for tasks, blackout periods, occurrences
// and calendar import/export.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	printer  printer.Printer
	engine   *recurrence.Engine
	notifier Notifier
	fetcher  *ics.Fetcher
	loc      *time.Location
	now      func() time.Time
	mux      *http.ServeMux

	// In-memory cache for /api/occurrences responses keyed by query,
	// dropped on every write.
	occMu    sync.RWMutex
	occCache map[string]occurrencesCache
}

// Deps are the collaborators of a Server. Notifier and Now are optional.
type Deps struct {
	Store    *store.Store
	Printer  printer.Printer
	Engine   *recurrence.Engine
	Notifier Notifier
	Fetcher  *ics.Fetcher
	Now      func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		printer:  deps.Printer,
		engine:   deps.Engine,
		notifier: deps.Notifier,
		fetcher:  deps.Fetcher,
		loc:      ResolveLocation(cfg.Timezone),
		now:      deps.Now,
		mux:      http.NewServeMux(),
		occCache: make(map[string]occurrencesCache),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.fetcher == nil {
		s.fetcher = ics.NewFetcher(nil)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="TaskPrinter", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/health", s.handleAPIHealth)

	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/print", s.handlePrintTask)

	s.mux.HandleFunc("GET /api/blackout-periods", s.handleListBlackouts)
	s.mux.HandleFunc("POST /api/blackout-periods", s.handleCreateBlackout)
	s.mux.HandleFunc("PATCH /api/blackout-periods/{id}", s.handleUpdateBlackout)
	s.mux.HandleFunc("DELETE /api/blackout-periods/{id}", s.handleDeleteBlackout)

	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)

	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("POST /api/import", s.handleImport)
	s.mux.HandleFunc("POST /api/import.ics", s.handleImportICS)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)

	s.mux.HandleFunc("GET /api/print-test", s.handlePrintTest)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type healthResponse struct {
	Status   string `json:"status"`
	Printer  string `json:"printer"`
	Timezone string `json:"timezone"`
	Time     string `json:"time"`
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, _ *http.Request) {
	target := "disabled"
	if s.cfg.Printer.Enabled {
		target = s.cfg.Printer.Host + ":" + strconv.Itoa(s.cfg.Printer.Port)
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Printer:  target,
		Timezone: s.loc.String(),
		Time:     s.now().In(s.loc).Format(time.RFC3339),
	})
}

// changed drops cached responses and wakes the dispatcher.
func (s *Server) changed() {
	s.occMu.Lock()
	clear(s.occCache)
	s.occMu.Unlock()
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// ResolveLocation loads name, falling back to UTC when it is empty or
// unknown.
func ResolveLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}

// decodeJSON reads a JSON body of at most 1 MiB into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	appLog.Error("store operation failed", err, "what", what)
	writeError(w, http.StatusInternalServerError, "internal error")
}
