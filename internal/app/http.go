package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"reviewcore/internal/logger"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
	"reviewcore/internal/search"
)

// API is the part of Service the HTTP server reads from.
type API interface {
	Ping(ctx context.Context) error
	ResolveThing(ctx context.Context, viewer *model.User, requestPath, rawQuery, candidate string) (*model.Thing, error)
	ResolveTeam(ctx context.Context, viewer *model.User, requestPath, rawQuery, candidate string) (*model.Team, error)
	GetFeed(ctx context.Context, viewer *model.User, q FeedQuery) (revision.FeedPage[*model.Review], error)
	Search(q search.Query) search.Response
}

type HTTPServer struct {
	service    API
	corsOrigin string
	metrics    http.Handler
	log        zerolog.Logger
}

// NewHTTPServer serves health probes, Prometheus metrics and anonymous read
// routes. gatherer may be nil to disable /metrics.
func NewHTTPServer(service API, corsOrigin string, gatherer prometheus.Gatherer, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, log: logger.Component(log, "http")}
	if gatherer != nil {
		s.metrics = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch r.URL.Path {
	case "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	case "/api/ready":
		s.handleReady(w, r)
		return
	case "/metrics":
		if s.metrics != nil {
			s.metrics.ServeHTTP(w, r)
			return
		}
	case "/api/reviews":
		s.handleFeed(w, r)
		return
	case "/api/search":
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 3 && parts[0] == "api" {
		switch parts[1] {
		case "things":
			thing, err := s.service.ResolveThing(r.Context(), nil, r.URL.Path, r.URL.RawQuery, parts[2])
			s.respond(w, r, thing, err)
			return
		case "teams":
			team, err := s.service.ResolveTeam(r.Context(), nil, r.URL.Path, r.URL.RawQuery, parts[2])
			s.respond(w, r, team, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fq := FeedQuery{
		ThingID:  query.Get("thing"),
		TeamID:   query.Get("team"),
		AuthorID: query.Get("author"),
	}
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer", nil)
			return
		}
		fq.Limit = n
	}
	if raw := query.Get("offsetDate"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offsetDate must be an RFC 3339 timestamp", nil)
			return
		}
		fq.OffsetDate = &t
		fq.OffsetID = query.Get("offsetID")
	}

	page, err := s.service.GetFeed(r.Context(), nil, fq)
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []*model.Review{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"offsetDate": page.OffsetDate,
		"offsetID":   page.OffsetID,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:       strings.TrimSpace(query.Get("q")),
		FilterType: search.ResultType(query.Get("type")),
		Lang:       query.Get("lang"),
		Limit:      20,
	}
	if n, err := strconv.Atoi(query.Get("limit")); err == nil && n > 0 {
		q.Limit = min(n, 100)
	}
	if n, err := strconv.Atoi(query.Get("offset")); err == nil && n > 0 {
		q.Offset = n
	}
	if q.Text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q is required", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(q))
}

// respond writes payload, or the mapped error. Redirects get a Location
// header so clients can follow them.
func (s *HTTPServer) respond(w http.ResponseWriter, r *http.Request, payload any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, payload)
		return
	}
	de := AsDomainError(err)
	if de.Status == http.StatusSeeOther {
		if target, ok := de.Details.(string); ok {
			w.Header().Set("Location", target)
		}
	}
	if de.Status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, de.Status, de.Code, de.Message, de.Details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
