package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/db"
	"github.com/syzer/router/internal/hostname"
	"github.com/syzer/router/internal/joinworker"
	"github.com/syzer/router/internal/metrics"
	"github.com/syzer/router/internal/registry"
	"github.com/syzer/router/internal/resolver"
	"github.com/syzer/router/internal/sqlcgen"
)

// MappingQueries persists static mappings. *sqlcgen.Queries satisfies it.
type MappingQueries interface {
	UpsertStaticMapping(ctx context.Context, arg sqlcgen.UpsertStaticMappingParams) (sqlcgen.StaticMapping, error)
	DeleteStaticMapping(ctx context.Context, mac string) (int64, error)
}

// AssignmentQueries reads join history. *sqlcgen.Queries satisfies it.
type AssignmentQueries interface {
	ListHostnameAssignments(ctx context.Context, arg sqlcgen.ListHostnameAssignmentsParams) ([]sqlcgen.HostnameAssignment, error)
}

// Joiner handles injected join events. *joinworker.Worker satisfies it.
type Joiner interface {
	Handle(ctx context.Context, ev joinworker.Event) (joinworker.Assignment, error)
}

// Deps are the components the control plane exposes. Pool and Joiner may be nil.
type Deps struct {
	Registry  *registry.Registry
	Directory *resolver.Directory
	Joiner    Joiner
	Metrics   *metrics.Metrics
	Pool      *db.Pool
}

type Handler struct {
	log         zerolog.Logger
	pool        *db.Pool
	mappings    MappingQueries
	assignments AssignmentQueries
	registry    *registry.Registry
	dir         *resolver.Directory
	joiner      Joiner
	metrics     *metrics.Metrics
}

func NewHandler(log zerolog.Logger, deps Deps) *Handler {
	h := &Handler{
		log:      log,
		pool:     deps.Pool,
		registry: deps.Registry,
		dir:      deps.Directory,
		joiner:   deps.Joiner,
		metrics:  deps.Metrics,
	}
	if q := deps.Pool.Queries(); q != nil {
		h.mappings = q
		h.assignments = q
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/mappings", func(r chi.Router) {
				r.Get("/", h.handleListMappings)
				r.Post("/", h.handleCreateMapping)
				r.Get("/export", h.handleExportMappings)
				r.Post("/import", h.handleImportMappings)
				r.Route("/{mac}", func(r chi.Router) {
					r.Get("/", h.handleGetMapping)
					r.Delete("/", h.handleDeleteMapping)
				})
			})

			r.Route("/hosts", func(r chi.Router) {
				r.Get("/", h.handleListHosts)
				r.Route("/{hostname}", func(r chi.Router) {
					r.Get("/", h.handleGetHost)
					r.Delete("/", h.handleDeleteHost)
				})
			})

			r.Route("/joins", func(r chi.Router) {
				r.Post("/", h.handleJoin)
				r.Get("/{mac}", h.handleListJoins)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Label by route pattern so hostnames and MACs in paths do not explode cardinality.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

// fqdn appends the DNS store's domain suffix.
func (h *Handler) fqdn(name string) string {
	if h.dir == nil {
		return name + hostname.LocalSuffix
	}
	return name + h.dir.DNS().DomainSuffix()
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.dir == nil || !h.dir.Ready() {
		h.writeError(w, http.StatusServiceUnavailable, "service_not_initialized", "hostname stores not initialized", nil)
		return
	}

	// The database is optional; only a configured but unreachable one fails readiness.
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
