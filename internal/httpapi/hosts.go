package httpapi

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/syzer/router/internal/joinworker"
	"github.com/syzer/router/internal/macaddr"
	"github.com/syzer/router/internal/resolver"
	"github.com/syzer/router/internal/sqlcgen"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type hostDTO struct {
	Hostname string `json:"hostname"`
	FQDN     string `json:"fqdn"`
	IP       string `json:"ip"`
	MAC      string `json:"mac,omitempty"`
}

func toHostDTO(rec resolver.Record) hostDTO {
	out := hostDTO{
		Hostname: rec.Hostname,
		FQDN:     rec.FQDN,
		IP:       rec.IP.String(),
	}
	if rec.HasOwner {
		out.MAC = rec.Owner.String()
	}
	return out
}

func (h *Handler) ensureDirectory(w http.ResponseWriter) bool {
	if h.dir == nil {
		h.writeError(w, http.StatusServiceUnavailable, "service_not_initialized", "hostname stores not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListHosts(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDirectory(w) {
		return
	}

	view := resolver.View(r.URL.Query().Get("view"))
	switch view {
	case "":
		view = resolver.ViewDNS
	case resolver.ViewDNS, resolver.ViewMDNS:
	default:
		h.writeError(w, http.StatusBadRequest, "validation_failed", "view must be dns or mdns", map[string]any{"view": string(view)})
		return
	}

	recs := h.dir.Records(view)
	out := make([]hostDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toHostDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"view": string(view), "hosts": out})
}

func (h *Handler) handleGetHost(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDirectory(w) {
		return
	}

	rec, ok := h.dir.Lookup(chi.URLParam(r, "hostname"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "hostname not registered", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, toHostDTO(rec))
}

func (h *Handler) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	if !h.ensureDirectory(w) {
		return
	}

	name := chi.URLParam(r, "hostname")
	if _, ok := h.dir.Lookup(name); !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "hostname not registered", nil)
		return
	}
	if err := h.dir.Unregister(name); err != nil {
		if errors.Is(err, resolver.ErrServiceNotInitialized) {
			h.writeError(w, http.StatusServiceUnavailable, "service_not_initialized", "hostname stores not initialized", nil)
			return
		}
		h.log.Error().Err(err).Str("hostname", name).Msg("failed to unregister hostname")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to unregister hostname", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	if h.joiner == nil {
		h.writeError(w, http.StatusServiceUnavailable, "service_not_initialized", "join handling not configured", nil)
		return
	}

	var req struct {
		MAC          string `json:"mac"`
		IP           string `json:"ip"`
		FriendlyName string `json:"friendly_name"`
	}
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", map[string]any{"error": err.Error()})
		return
	}

	mac, err := macaddr.Parse(req.MAC)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid mac address", map[string]any{"mac": req.MAC})
		return
	}
	ip, err := netip.ParseAddr(req.IP)
	if err != nil || !ip.Unmap().Is4() {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "ip must be an ipv4 address", map[string]any{"ip": req.IP})
		return
	}

	a, err := h.joiner.Handle(r.Context(), joinworker.Event{MAC: mac, IP: ip, FriendlyName: req.FriendlyName})
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrServiceNotInitialized):
			h.writeError(w, http.StatusServiceUnavailable, "service_not_initialized", "hostname stores not initialized", nil)
		case errors.Is(err, resolver.ErrStoreFull):
			h.writeError(w, http.StatusInsufficientStorage, "store_full", "hostname store is full", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to register device", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"mac":      a.MAC.String(),
		"ip":       a.IP.String(),
		"hostname": a.Hostname,
		"fqdn":     h.fqdn(a.Hostname),
		"source":   a.Source,
		"renamed":  a.Renamed,
	})
}

type assignmentDTO struct {
	Hostname   string    `json:"hostname"`
	IP         string    `json:"ip"`
	Source     string    `json:"source"`
	Renamed    bool      `json:"renamed"`
	AssignedAt time.Time `json:"assigned_at"`
}

func (h *Handler) handleListJoins(w http.ResponseWriter, r *http.Request) {
	if h.assignments == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "join history requires a database", nil)
		return
	}
	mac, ok := h.macParam(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "limit must be between 1 and 200", map[string]any{"limit": raw})
			return
		}
		limit = n
	}

	rows, err := h.assignments.ListHostnameAssignments(r.Context(), sqlcgen.ListHostnameAssignmentsParams{MAC: mac.String(), Limit: int32(limit)})
	if err != nil {
		h.log.Error().Err(err).Str("mac", mac.String()).Msg("failed to list hostname assignments")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list join history", nil)
		return
	}

	out := make([]assignmentDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, assignmentDTO{
			Hostname:   row.Hostname,
			IP:         row.IP,
			Source:     row.Source,
			Renamed:    row.Renamed,
			AssignedAt: row.AssignedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"mac": mac.String(), "joins": out})
}
