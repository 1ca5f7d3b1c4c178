package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/syzer/router/internal/hostname"
	"github.com/syzer/router/internal/macaddr"
	"github.com/syzer/router/internal/registry"
	"github.com/syzer/router/internal/sqlcgen"
)

// maxImportBytes bounds the text body of an import request.
const maxImportBytes = 64 << 10

type mappingDTO struct {
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	FQDN     string `json:"fqdn"`
}

func (h *Handler) toMappingDTO(m registry.Mapping) mappingDTO {
	return mappingDTO{
		MAC:      m.MAC.String(),
		Hostname: m.Hostname,
		FQDN:     h.fqdn(m.Hostname),
	}
}

func (h *Handler) ensureRegistry(w http.ResponseWriter) bool {
	if h.registry == nil {
		h.writeError(w, http.StatusServiceUnavailable, "service_not_initialized", "mapping registry not configured", nil)
		return false
	}
	return true
}

func (h *Handler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRegistry(w) {
		return
	}

	mappings := h.registry.List()
	out := make([]mappingDTO, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, h.toMappingDTO(m))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"mappings": out})
}

func (h *Handler) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRegistry(w) {
		return
	}

	var req struct {
		MAC      string `json:"mac"`
		Hostname string `json:"hostname"`
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

	previous, hadPrevious := h.registry.Hostname(mac)
	if err := h.registry.AddMapping(mac, req.Hostname); err != nil {
		h.writeMappingError(w, err, req.Hostname)
		return
	}
	name, _ := h.registry.Hostname(mac)

	if h.mappings != nil {
		if _, err := h.mappings.UpsertStaticMapping(r.Context(), sqlcgen.UpsertStaticMappingParams{MAC: mac.String(), Hostname: name}); err != nil {
			h.revertMapping(mac, previous, hadPrevious)
			h.log.Error().Err(err).Str("mac", mac.String()).Msg("failed to persist static mapping")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to persist mapping", nil)
			return
		}
	}

	h.writeJSON(w, http.StatusCreated, h.toMappingDTO(registry.Mapping{MAC: mac, Hostname: name}))
}

func (h *Handler) revertMapping(mac macaddr.MAC, previous string, hadPrevious bool) {
	if !hadPrevious {
		h.registry.RemoveMapping(mac)
		return
	}
	if err := h.registry.AddMapping(mac, previous); err != nil {
		h.log.Error().Err(err).Str("mac", mac.String()).Msg("failed to restore static mapping")
	}
}

func (h *Handler) writeMappingError(w http.ResponseWriter, err error, raw string) {
	switch {
	case errors.Is(err, hostname.ErrInvalidHostname):
		h.writeError(w, http.StatusBadRequest, "invalid_hostname", "hostname is empty after sanitization", map[string]any{"hostname": raw})
	case errors.Is(err, registry.ErrHostnameConflict):
		h.writeError(w, http.StatusConflict, "hostname_conflict", "hostname already reserved by another device", map[string]any{"hostname": hostname.Normalize(raw)})
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to add mapping", nil)
	}
}

func (h *Handler) macParam(w http.ResponseWriter, r *http.Request) (macaddr.MAC, bool) {
	raw := chi.URLParam(r, "mac")
	mac, err := macaddr.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid mac address", map[string]any{"mac": raw})
		return macaddr.MAC{}, false
	}
	return mac, true
}

func (h *Handler) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRegistry(w) {
		return
	}
	mac, ok := h.macParam(w, r)
	if !ok {
		return
	}

	name, ok := h.registry.Hostname(mac)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "mapping not found", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, h.toMappingDTO(registry.Mapping{MAC: mac, Hostname: name}))
}

func (h *Handler) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRegistry(w) {
		return
	}
	mac, ok := h.macParam(w, r)
	if !ok {
		return
	}

	if _, ok := h.registry.RemoveMapping(mac); !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "mapping not found", nil)
		return
	}

	if h.mappings != nil {
		if _, err := h.mappings.DeleteStaticMapping(r.Context(), mac.String()); err != nil {
			// The in-memory removal stands; the row is dropped again on the next delete.
			h.log.Error().Err(err).Str("mac", mac.String()).Msg("failed to delete persisted static mapping")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to delete mapping", nil)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleExportMappings(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRegistry(w) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, h.registry.ExportToConfig())
}

func (h *Handler) handleImportMappings(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRegistry(w) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes+1))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "failed to read body", map[string]any{"error": err.Error()})
		return
	}
	if len(body) > maxImportBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, "validation_failed", "import body too large", map[string]any{"limit": maxImportBytes})
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "import body is empty", nil)
		return
	}

	added := h.registry.LoadFromConfig(text)

	if h.mappings != nil {
		for _, m := range h.registry.List() {
			if _, err := h.mappings.UpsertStaticMapping(r.Context(), sqlcgen.UpsertStaticMappingParams{MAC: m.MAC.String(), Hostname: m.Hostname}); err != nil {
				h.log.Error().Err(err).Str("mac", m.MAC.String()).Msg("failed to persist imported mapping")
				h.writeError(w, http.StatusInternalServerError, "db_error", "failed to persist imported mappings", map[string]any{"added": added})
				return
			}
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"added": added, "total": h.registry.Count()})
}
