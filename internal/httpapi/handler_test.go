package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/joinworker"
	"github.com/syzer/router/internal/macaddr"
	"github.com/syzer/router/internal/registry"
	"github.com/syzer/router/internal/resolver"
	"github.com/syzer/router/internal/sqlcgen"
)

var testLog = zerolog.New(io.Discard)

type fakeMappingQueries struct {
	upsertFn func(ctx context.Context, arg sqlcgen.UpsertStaticMappingParams) (sqlcgen.StaticMapping, error)
	deleteFn func(ctx context.Context, mac string) (int64, error)
}

func (f fakeMappingQueries) UpsertStaticMapping(ctx context.Context, arg sqlcgen.UpsertStaticMappingParams) (sqlcgen.StaticMapping, error) {
	if f.upsertFn == nil {
		return sqlcgen.StaticMapping{MAC: arg.MAC, Hostname: arg.Hostname}, nil
	}
	return f.upsertFn(ctx, arg)
}

func (f fakeMappingQueries) DeleteStaticMapping(ctx context.Context, mac string) (int64, error) {
	if f.deleteFn == nil {
		return 1, nil
	}
	return f.deleteFn(ctx, mac)
}

type fakeAssignmentQueries struct {
	listFn func(ctx context.Context, arg sqlcgen.ListHostnameAssignmentsParams) ([]sqlcgen.HostnameAssignment, error)
}

func (f fakeAssignmentQueries) ListHostnameAssignments(ctx context.Context, arg sqlcgen.ListHostnameAssignmentsParams) ([]sqlcgen.HostnameAssignment, error) {
	return f.listFn(ctx, arg)
}

type fakeJoiner struct {
	handleFn func(ctx context.Context, ev joinworker.Event) (joinworker.Assignment, error)
}

func (f fakeJoiner) Handle(ctx context.Context, ev joinworker.Event) (joinworker.Assignment, error) {
	return f.handleFn(ctx, ev)
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	mdns := resolver.NewMDNSStore(testLog, "", 0, nil)
	mdns.Init()
	return NewHandler(testLog, Deps{
		Registry:  registry.New(testLog),
		Directory: resolver.NewDirectory(testLog, resolver.NewDNSStore(testLog, "", 0), mdns),
	})
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body as json: %v\nbody=%s", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) any {
	t.Helper()
	body := decodeBody(t, rr)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got: %v", body)
	}
	return errObj["code"]
}

func TestHealthz(t *testing.T) {
	rr := serve(NewHandler(testLog, Deps{}), http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content-type, got %q", got)
	}
}

func TestReadyz_RequiresInitializedStores(t *testing.T) {
	mdns := resolver.NewMDNSStore(testLog, "", 0, nil)
	h := NewHandler(testLog, Deps{Directory: resolver.NewDirectory(testLog, resolver.NewDNSStore(testLog, "", 0), mdns)})

	rr := serve(h, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "service_not_initialized" {
		t.Fatalf("expected service_not_initialized, got %v", code)
	}

	mdns.Init()
	if rr := serve(h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after init, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMappings_CreateListGetDelete(t *testing.T) {
	h := newTestHandler(t)

	rr := serve(h, http.MethodPost, "/api/v1/mappings", `{"mac":"AA:BB:CC:DD:EE:FF","hostname":"John's MacBook"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["hostname"] != "john-s-macbook" || body["mac"] != "aa:bb:cc:dd:ee:ff" || body["fqdn"] != "john-s-macbook.local" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = serve(h, http.MethodGet, "/api/v1/mappings", "")
	list, _ := decodeBody(t, rr)["mappings"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 mapping, got %v", rr.Body.String())
	}

	if rr := serve(h, http.MethodGet, "/api/v1/mappings/aa:bb:cc:dd:ee:ff", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodDelete, "/api/v1/mappings/aa:bb:cc:dd:ee:ff", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = serve(h, http.MethodGet, "/api/v1/mappings/aa:bb:cc:dd:ee:ff", "")
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMappings_CreateErrors(t *testing.T) {
	h := newTestHandler(t)
	_ = h.registry.AddMapping(macaddr.MAC{1, 2, 3, 4, 5, 6}, "taken")

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"unknown field", `{"mac":"01:02:03:04:05:07","hostname":"x","nope":true}`, http.StatusBadRequest, "validation_failed"},
		{"bad mac", `{"mac":"not-a-mac","hostname":"x"}`, http.StatusBadRequest, "validation_failed"},
		{"empty after sanitize", `{"mac":"01:02:03:04:05:07","hostname":"!!!"}`, http.StatusBadRequest, "invalid_hostname"},
		{"conflict", `{"mac":"01:02:03:04:05:07","hostname":"Taken"}`, http.StatusConflict, "hostname_conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(h, http.MethodPost, "/api/v1/mappings", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, code)
			}
		})
	}
	if h.registry.Count() != 1 {
		t.Fatalf("expected failed creates to leave the registry alone, got %d", h.registry.Count())
	}
}

func TestMappings_CreatePersistsAndRevertsOnDBError(t *testing.T) {
	h := newTestHandler(t)
	mac := macaddr.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1}
	_ = h.registry.AddMapping(mac, "old-name")

	var upserted []sqlcgen.UpsertStaticMappingParams
	h.mappings = fakeMappingQueries{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertStaticMappingParams) (sqlcgen.StaticMapping, error) {
			upserted = append(upserted, arg)
			return sqlcgen.StaticMapping{}, errors.New("connection reset")
		},
	}

	rr := serve(h, http.MethodPost, "/api/v1/mappings", `{"mac":"aa:bb:cc:00:00:01","hostname":"new-name"}`)
	if rr.Code != http.StatusInternalServerError || errorCode(t, rr) != "db_error" {
		t.Fatalf("expected db_error, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(upserted) != 1 || upserted[0].Hostname != "new-name" || upserted[0].MAC != "aa:bb:cc:00:00:01" {
		t.Fatalf("unexpected upserts %+v", upserted)
	}
	if got, _ := h.registry.Hostname(mac); got != "old-name" {
		t.Fatalf("expected revert to old-name, got %q", got)
	}
}

func TestMappings_DeletePersists(t *testing.T) {
	h := newTestHandler(t)
	_ = h.registry.AddMapping(macaddr.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1}, "cam")

	var deleted []string
	h.mappings = fakeMappingQueries{
		deleteFn: func(ctx context.Context, mac string) (int64, error) {
			deleted = append(deleted, mac)
			return 1, nil
		},
	}

	if rr := serve(h, http.MethodDelete, "/api/v1/mappings/aa:bb:cc:00:00:01", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deleted) != 1 || deleted[0] != "aa:bb:cc:00:00:01" {
		t.Fatalf("unexpected deletes %v", deleted)
	}

	rr := serve(h, http.MethodDelete, "/api/v1/mappings/zz", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed mac, got %d", rr.Code)
	}
}

func TestMappings_ExportImport(t *testing.T) {
	src := newTestHandler(t)
	_ = src.registry.AddMapping(macaddr.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, "laptop")
	_ = src.registry.AddMapping(macaddr.MAC{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, "raspberry")

	rr := serve(src, http.MethodGet, "/api/v1/mappings/export", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("expected text/plain, got %q", got)
	}
	exported := rr.Body.String()
	if exported != "11:22:33:44:55:66:raspberry,aa:bb:cc:dd:ee:ff:laptop" {
		t.Fatalf("unexpected export %q", exported)
	}

	dst := newTestHandler(t)
	persisted := 0
	dst.mappings = fakeMappingQueries{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertStaticMappingParams) (sqlcgen.StaticMapping, error) {
			persisted++
			return sqlcgen.StaticMapping{}, nil
		},
	}

	rr = serve(dst, http.MethodPost, "/api/v1/mappings/import", exported+",bogus")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["added"] != float64(2) || body["total"] != float64(2) {
		t.Fatalf("unexpected import result %v", body)
	}
	if persisted != 2 {
		t.Fatalf("expected 2 persisted mappings, got %d", persisted)
	}

	if rr := serve(dst, http.MethodPost, "/api/v1/mappings/import", "  "); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty import, got %d", rr.Code)
	}
}

func TestHosts_ListViewsAndLookup(t *testing.T) {
	h := newTestHandler(t)
	mac := macaddr.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1}
	if _, err := h.dir.RegisterDevice(mac, "Front Cam", netip.MustParseAddr("192.168.4.2")); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, view := range []string{"", "dns", "mdns"} {
		rr := serve(h, http.MethodGet, "/api/v1/hosts?view="+view, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("view %q: expected 200, got %d", view, rr.Code)
		}
		hosts, _ := decodeBody(t, rr)["hosts"].([]any)
		if len(hosts) != 1 {
			t.Fatalf("view %q: expected 1 host, got %s", view, rr.Body.String())
		}
		host := hosts[0].(map[string]any)
		if host["hostname"] != "front-cam" || host["ip"] != "192.168.4.2" || host["mac"] != "aa:bb:cc:00:00:01" {
			t.Fatalf("view %q: unexpected host %v", view, host)
		}
	}

	if rr := serve(h, http.MethodGet, "/api/v1/hosts?view=wins", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown view, got %d", rr.Code)
	}

	rr := serve(h, http.MethodGet, "/api/v1/hosts/Front-Cam.local", "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["fqdn"] != "front-cam.local" {
		t.Fatalf("expected lookup to normalize, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodGet, "/api/v1/hosts/ghost", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHosts_LookupWithConfiguredSuffix(t *testing.T) {
	dir := resolver.NewDirectory(testLog, resolver.NewDNSStore(testLog, ".lan", 0), nil)
	h := NewHandler(testLog, Deps{Directory: dir})
	if _, err := dir.RegisterDevice(macaddr.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1}, "cam", netip.MustParseAddr("192.168.4.2")); err != nil {
		t.Fatalf("register: %v", err)
	}

	rr := serve(h, http.MethodGet, "/api/v1/hosts/cam.lan", "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["fqdn"] != "cam.lan" {
		t.Fatalf("expected cam.lan, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHosts_Delete(t *testing.T) {
	h := newTestHandler(t)
	_, _ = h.dir.RegisterDevice(macaddr.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1}, "nas", netip.MustParseAddr("192.168.4.2"))

	if rr := serve(h, http.MethodDelete, "/api/v1/hosts/nas", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if h.dir.DNS().Count() != 0 || h.dir.MDNS().Count() != 0 {
		t.Fatalf("expected both stores empty after delete")
	}
	if rr := serve(h, http.MethodDelete, "/api/v1/hosts/nas", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", rr.Code)
	}
}

func TestJoins_Create(t *testing.T) {
	h := newTestHandler(t)
	var got joinworker.Event
	h.joiner = fakeJoiner{
		handleFn: func(ctx context.Context, ev joinworker.Event) (joinworker.Assignment, error) {
			got = ev
			return joinworker.Assignment{MAC: ev.MAC, IP: ev.IP, Hostname: "cam-1", Source: "event", Renamed: true}, nil
		},
	}

	rr := serve(h, http.MethodPost, "/api/v1/joins", `{"mac":"aa:bb:cc:00:00:01","ip":"192.168.4.9","friendly_name":"Cam"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.FriendlyName != "Cam" || got.IP != netip.MustParseAddr("192.168.4.9") {
		t.Fatalf("unexpected event %+v", got)
	}
	body := decodeBody(t, rr)
	if body["hostname"] != "cam-1" || body["fqdn"] != "cam-1.local" || body["renamed"] != true || body["source"] != "event" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestJoins_Errors(t *testing.T) {
	if rr := serve(NewHandler(testLog, Deps{}), http.MethodPost, "/api/v1/joins", `{"mac":"aa:bb:cc:00:00:01","ip":"192.168.4.9"}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a joiner, got %d", rr.Code)
	}

	h := newTestHandler(t)
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"ipv6", `{"mac":"aa:bb:cc:00:00:01","ip":"fe80::1"}`, nil, http.StatusBadRequest, "validation_failed"},
		{"bad mac", `{"mac":"x","ip":"192.168.4.9"}`, nil, http.StatusBadRequest, "validation_failed"},
		{"not initialized", `{"mac":"aa:bb:cc:00:00:01","ip":"192.168.4.9"}`, fmt.Errorf("mdns: %w", resolver.ErrServiceNotInitialized), http.StatusServiceUnavailable, "service_not_initialized"},
		{"full", `{"mac":"aa:bb:cc:00:00:01","ip":"192.168.4.9"}`, fmt.Errorf("dns: %w", resolver.ErrStoreFull), http.StatusInsufficientStorage, "store_full"},
		{"other", `{"mac":"aa:bb:cc:00:00:01","ip":"192.168.4.9"}`, errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.joiner = fakeJoiner{
				handleFn: func(ctx context.Context, ev joinworker.Event) (joinworker.Assignment, error) {
					return joinworker.Assignment{}, tc.err
				},
			}
			rr := serve(h, http.MethodPost, "/api/v1/joins", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, code)
			}
		})
	}
}

func TestJoins_History(t *testing.T) {
	h := newTestHandler(t)
	if rr := serve(h, http.MethodGet, "/api/v1/joins/aa:bb:cc:00:00:01", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a database, got %d", rr.Code)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotArg sqlcgen.ListHostnameAssignmentsParams
	h.assignments = fakeAssignmentQueries{
		listFn: func(ctx context.Context, arg sqlcgen.ListHostnameAssignmentsParams) ([]sqlcgen.HostnameAssignment, error) {
			gotArg = arg
			return []sqlcgen.HostnameAssignment{{MAC: arg.MAC, Hostname: "cam-1", IP: "192.168.4.9", Source: "event", Renamed: true, AssignedAt: at}}, nil
		},
	}

	rr := serve(h, http.MethodGet, "/api/v1/joins/AA:BB:CC:00:00:01?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotArg.MAC != "aa:bb:cc:00:00:01" || gotArg.Limit != 5 {
		t.Fatalf("unexpected query args %+v", gotArg)
	}
	joins, _ := decodeBody(t, rr)["joins"].([]any)
	if len(joins) != 1 {
		t.Fatalf("expected 1 join, got %s", rr.Body.String())
	}
	if j := joins[0].(map[string]any); j["hostname"] != "cam-1" || j["assigned_at"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected join %v", j)
	}

	if rr := serve(h, http.MethodGet, "/api/v1/joins/aa:bb:cc:00:00:01?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=0, got %d", rr.Code)
	}
}
