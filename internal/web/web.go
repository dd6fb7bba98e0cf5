package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kpopcal/internal/config"
	"kpopcal/internal/group"
	appLog "kpopcal/internal/log"
	"kpopcal/internal/model"
	"kpopcal/internal/pipeline"
	"kpopcal/internal/render"
	"kpopcal/internal/source"
	"kpopcal/internal/store"
)

// Options are the collaborators a Server needs besides config.
type Options struct {
	Registry *pipeline.Registry
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Clock stamps ICS output. Defaults to the real clock.
	Clock clockwork.Clock
}

// Server exposes the category pipelines over HTTP.
type Server struct {
	cfg      *config.Config
	registry *pipeline.Registry
	gatherer prometheus.Gatherer
	clock    clockwork.Clock
	loc      *time.Location
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, opts Options) *Server {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		cfg:      cfg,
		registry: opts.Registry,
		gatherer: opts.Gatherer,
		clock:    clock,
		loc:      loc,
		mux:      http.NewServeMux(),
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

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
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
			w.Header().Set("WWW-Authenticate", `Basic realm="kpopcal", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /api/{category}/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/{category}/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/{category}/clear", s.handleClear)
	s.mux.HandleFunc("GET /preview/{category}", s.handlePreview)
	s.mux.HandleFunc("GET /widget/{category}", s.handleWidget)
	s.mux.HandleFunc("GET /calendar/{file}", s.handleICS)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type categoryDTO struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	Freshness string `json:"freshness"`
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	out := make([]categoryDTO, 0, len(s.cfg.Categories))
	for _, name := range s.registry.Names() {
		cc, ok := s.cfg.Category(name)
		if !ok {
			continue
		}
		out = append(out, categoryDTO{
			Name:      cc.Name,
			Title:     cc.Title,
			Kind:      cc.Kind,
			Freshness: cc.Freshness.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// eventsResponse is the JSON response shape for /api/{category}/events.
type eventsResponse struct {
	Category string           `json:"category"`
	Title    string           `json:"title"`
	Limit    int              `json:"limit"`
	Timezone string           `json:"timezone"`
	Days     []render.DayView `json:"days"`
}

// handleEvents returns grouped events.
//
// GET /api/{category}/events?limit=N&size=small|medium|large
//   - limit: number of events kept before grouping; wins over size
//   - size:  widget size default when limit is absent (default: large)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit := pipeline.LimitFor(s.cfg.Widget, q.Get("size"), parseIntDefault(q.Get("limit"), 0))

	grouped, ok := s.groupedFor(w, r, p, limit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Category: p.Name(),
		Title:    p.Config.Title,
		Limit:    limit,
		Timezone: s.loc.String(),
		Days:     render.Views(grouped, s.renderOptions()),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	if err := p.Refresh(r.Context()); err != nil {
		s.writePipelineError(w, p.Name(), err)
		return
	}
	appLog.Info("category refreshed via api", "category", p.Name())
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	if err := p.Reset(r.Context()); err != nil {
		s.writePipelineError(w, p.Name(), err)
		return
	}
	appLog.Info("category cache cleared via api", "category", p.Name())
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	grouped, ok := s.groupedFor(w, r, p, group.NoLimit)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.HTML(w, p.Config.Title, grouped, s.renderOptions()); err != nil {
		appLog.Error("failed to render preview", err, "category", p.Name())
	}
}

func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	p, ok := s.pipelineFor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit := pipeline.LimitFor(s.cfg.Widget, q.Get("size"), parseIntDefault(q.Get("limit"), 0))
	grouped, ok := s.groupedFor(w, r, p, limit)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := render.Widget(w, p.Config.Title, grouped, s.renderOptions()); err != nil {
		appLog.Error("failed to render widget", err, "category", p.Name())
	}
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	name, found := strings.CutSuffix(r.PathValue("file"), ".ics")
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	p, err := s.registry.Get(name)
	if err != nil {
		s.writePipelineError(w, name, err)
		return
	}
	grouped, ok := s.groupedFor(w, r, p, group.NoLimit)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := render.ICS(w, p.Name(), p.Config.Title, grouped, s.clock.Now()); err != nil {
		appLog.Error("failed to render ics", err, "category", p.Name())
	}
}

func (s *Server) pipelineFor(w http.ResponseWriter, r *http.Request) (*pipeline.Pipeline, bool) {
	name := r.PathValue("category")
	p, err := s.registry.Get(name)
	if err != nil {
		s.writePipelineError(w, name, err)
		return nil, false
	}
	return p, true
}

func (s *Server) groupedFor(w http.ResponseWriter, r *http.Request, p *pipeline.Pipeline, limit int) (model.Grouped, bool) {
	grouped, err := p.GetEvents(r.Context(), limit)
	if err != nil {
		s.writePipelineError(w, p.Name(), err)
		return nil, false
	}
	return grouped, true
}

func (s *Server) renderOptions() render.Options {
	return render.Options{Location: s.loc, Clock24: s.cfg.Widget.Clock24}
}

// writePipelineError maps pipeline errors to status codes. A failed fetch
// is never turned into an empty success.
func (s *Server) writePipelineError(w http.ResponseWriter, category string, err error) {
	var perr *store.ParseError
	switch {
	case errors.Is(err, pipeline.ErrUnknownCategory):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, source.ErrFetch):
		appLog.Error("upstream fetch failed", err, "category", category)
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
	case errors.As(err, &perr):
		appLog.Error("cache unreadable", err, "category", category)
		writeError(w, http.StatusInternalServerError, "cache unreadable; clear the category cache")
	default:
		appLog.Error("request failed", err, "category", category)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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
