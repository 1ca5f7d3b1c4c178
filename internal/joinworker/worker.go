// Package joinworker turns client join events into registered hostnames. Events
// come from the kernel ARP table of the AP interface or from the HTTP API.
package joinworker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/hostname"
	"github.com/syzer/router/internal/macaddr"
	"github.com/syzer/router/internal/metrics"
	"github.com/syzer/router/internal/naming"
	"github.com/syzer/router/internal/sqlcgen"
)

const (
	// SourceMAC marks hostnames derived from the MAC because no other name was available.
	SourceMAC = "mac"
	// SourceExisting marks a device keeping the name it already holds.
	SourceExisting = "existing"
)

// Event is one client joining the AP side with a leased IPv4 address.
type Event struct {
	MAC          macaddr.MAC
	IP           netip.Addr
	FriendlyName string
}

// Assignment is the outcome of handling an Event.
type Assignment struct {
	MAC      macaddr.MAC
	IP       netip.Addr
	Hostname string
	Source   string
	Renamed  bool
}

// StaticNames is the read side of the MAC hostname registry. *registry.Registry satisfies it.
type StaticNames interface {
	Hostname(mac macaddr.MAC) (string, bool)
}

// Directory registers a device in every hostname store. *resolver.Directory satisfies it.
type Directory interface {
	RegisterDevice(mac macaddr.MAC, friendlyName string, ip netip.Addr) (string, error)
	HostnameFor(mac macaddr.MAC) (string, bool)
}

// Enricher looks up friendly-name candidates for an address.
type Enricher interface {
	Candidates(ctx context.Context, addr netip.Addr) ([]naming.Candidate, error)
}

// NamePool supplies fallback names. *namepool.Pool satisfies it.
type NamePool interface {
	Next() string
}

// Queries is the minimal DB interface the worker needs. *sqlcgen.Queries satisfies it.
type Queries interface {
	InsertHostnameAssignment(ctx context.Context, arg sqlcgen.InsertHostnameAssignmentParams) error
}

type Worker struct {
	log           zerolog.Logger
	static        StaticNames
	dir           Directory
	enrichers     []Enricher
	pool          NamePool
	q             Queries
	metrics       *metrics.Metrics
	pollInterval  time.Duration
	enrichTimeout time.Duration
	arpTablePath  string
	iface         string
}

type Options struct {
	PollInterval time.Duration
	// EnrichTimeout bounds each enricher lookup during a join.
	EnrichTimeout time.Duration
	ARPTablePath  string
	// Interface restricts ARP entries to one device, e.g. the AP interface.
	Interface string
	Enrichers []Enricher
	Pool      NamePool
	// Queries is optional; when set every assignment is recorded.
	Queries Queries
}

func New(log zerolog.Logger, static StaticNames, dir Directory, opts Options, m *metrics.Metrics) *Worker {
	pi := opts.PollInterval
	if pi <= 0 {
		pi = 2 * time.Second
	}
	et := opts.EnrichTimeout
	if et <= 0 {
		et = 300 * time.Millisecond
	}
	arpPath := opts.ARPTablePath
	if strings.TrimSpace(arpPath) == "" {
		arpPath = "/proc/net/arp"
	}

	return &Worker{
		log:           log.With().Str("component", "joinworker").Logger(),
		static:        static,
		dir:           dir,
		enrichers:     opts.Enrichers,
		pool:          opts.Pool,
		q:             opts.Queries,
		metrics:       m,
		pollInterval:  pi,
		enrichTimeout: et,
		arpTablePath:  arpPath,
		iface:         strings.TrimSpace(opts.Interface),
	}
}

// Handle registers the joining device under the best available name: its static
// mapping, else the name it already holds, else the name it announced, else an
// enriched name, else a pool name. When none of those yields a valid hostname
// the MAC-derived name is used.
func (w *Worker) Handle(ctx context.Context, ev Event) (Assignment, error) {
	start := time.Now()
	ip := ev.IP.Unmap()
	if !ip.Is4() {
		w.metrics.ObserveJoin("error", time.Since(start))
		return Assignment{}, fmt.Errorf("join %s: address %s is not ipv4", ev.MAC, ev.IP)
	}

	requested, source := w.chooseName(ctx, ev.MAC, ev.FriendlyName, ip)

	name, err := w.dir.RegisterDevice(ev.MAC, requested, ip)
	if err != nil {
		w.metrics.ObserveJoin("error", time.Since(start))
		w.log.Error().Err(err).Str("mac", ev.MAC.String()).Str("ip", ip.String()).Msg("failed to register joining device")
		return Assignment{}, err
	}

	a := Assignment{MAC: ev.MAC, IP: ip, Hostname: name, Source: source}
	switch want := hostname.Normalize(requested); {
	case !hostname.IsValid(want):
		a.Source = SourceMAC
	case want != name:
		a.Renamed = true
		w.metrics.IncHostnameRename()
	}
	w.metrics.ObserveJoin(a.Source, time.Since(start))

	w.log.Info().
		Str("mac", a.MAC.String()).
		Str("ip", a.IP.String()).
		Str("hostname", a.Hostname+hostname.LocalSuffix).
		Str("source", a.Source).
		Bool("renamed", a.Renamed).
		Msg("device joined")

	if w.q != nil {
		if err := w.q.InsertHostnameAssignment(ctx, sqlcgen.InsertHostnameAssignmentParams{
			MAC:      a.MAC.String(),
			Hostname: a.Hostname,
			IP:       a.IP.String(),
			Source:   a.Source,
			Renamed:  a.Renamed,
		}); err != nil {
			w.log.Warn().Err(err).Str("mac", a.MAC.String()).Msg("failed to record hostname assignment")
		}
	}
	return a, nil
}

func (w *Worker) chooseName(ctx context.Context, mac macaddr.MAC, announced string, ip netip.Addr) (string, string) {
	if w.static != nil {
		if name, ok := w.static.Hostname(mac); ok {
			return name, naming.SourceStatic
		}
	}

	// Re-joins with a new lease keep their name.
	if name, ok := w.dir.HostnameFor(mac); ok {
		return name, SourceExisting
	}

	// A usable announced name wins without spending time on lookups.
	if best, ok := naming.Choose([]naming.Candidate{{Name: announced, Source: naming.SourceEvent}}); ok {
		return best.Name, best.Source
	}

	if cands := w.enrich(ctx, ip); len(cands) > 0 {
		if best, ok := naming.Choose(cands); ok {
			return best.Name, best.Source
		}
	}

	if w.pool != nil {
		if name := w.pool.Next(); name != "" {
			return name, naming.SourcePool
		}
	}
	return "", ""
}

func (w *Worker) enrich(ctx context.Context, ip netip.Addr) []naming.Candidate {
	var out []naming.Candidate
	for _, e := range w.enrichers {
		if ctx.Err() != nil {
			break
		}
		lookupCtx, cancel := context.WithTimeout(ctx, w.enrichTimeout)
		cands, err := e.Candidates(lookupCtx, ip)
		cancel()
		if err != nil {
			w.log.Debug().Err(err).Str("ip", ip.String()).Msg("name enrichment failed")
			continue
		}
		out = append(out, cands...)
	}
	return out
}

// Run polls the ARP table and handles every new or changed (MAC, IP) pair once.
// Entries that disappear are left registered.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.dir == nil {
		return
	}

	seen := make(map[macaddr.MAC]netip.Addr)
	timer := time.NewTimer(0)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := w.scanOnce(ctx, seen); err != nil {
			consecutiveFailures++
			w.log.Warn().Err(err).Int("failures", consecutiveFailures).Msg("arp scan failed")
		} else {
			consecutiveFailures = 0
		}

		timer.Reset(backoffDuration(w.pollInterval, consecutiveFailures))
	}
}

const (
	defaultPollInterval = 2 * time.Second
	maxPollBackoff      = 10 * time.Second
)

// backoffDuration doubles the poll interval per consecutive ARP read failure,
// up to maxPollBackoff.
func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = defaultPollInterval
	}
	d := base
	for ; failures > 0 && d < maxPollBackoff; failures-- {
		d *= 2
	}
	return min(d, maxPollBackoff)
}

// scanOnce reads the ARP table and handles changed entries. It returns how many
// joins were handled.
func (w *Worker) scanOnce(ctx context.Context, seen map[macaddr.MAC]netip.Addr) (int, error) {
	content, err := os.ReadFile(w.arpTablePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	entries, err := parseProcNetARP(string(content))
	if err != nil {
		return 0, err
	}

	var handled int
	for _, e := range entries {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		if w.iface != "" && e.Device != w.iface {
			continue
		}
		if !isClientAddr(e.IP) {
			continue
		}
		if prev, ok := seen[e.MAC]; ok && prev == e.IP {
			continue
		}
		if _, err := w.Handle(ctx, Event{MAC: e.MAC, IP: e.IP}); err != nil {
			// Not marked as seen so the next poll retries it.
			continue
		}
		seen[e.MAC] = e.IP
		handled++
	}
	return handled, nil
}

func isClientAddr(ip netip.Addr) bool {
	return ip.Is4() && (ip.IsPrivate() || ip.IsLinkLocalUnicast())
}

type arpEntry struct {
	IP     netip.Addr
	MAC    macaddr.MAC
	Device string
}

func parseProcNetARP(content string) ([]arpEntry, error) {
	s := bufio.NewScanner(strings.NewReader(content))

	// Header line: "IP address       HW type     Flags       HW address            Mask     Device"
	if !s.Scan() {
		return nil, nil
	}

	var out []arpEntry
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}

		// Require a "complete" ARP entry.
		flags, err := strconv.ParseInt(fields[2], 0, 64)
		if err != nil || flags&0x2 == 0 {
			continue
		}

		hw, err := net.ParseMAC(fields[3])
		if err != nil {
			continue
		}
		mac, ok := macaddr.FromHardwareAddr(hw)
		if !ok || mac.IsZero() {
			continue
		}

		ip, err := netip.ParseAddr(fields[0])
		if err != nil {
			continue
		}
		out = append(out, arpEntry{IP: ip, MAC: mac, Device: fields[5]})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
