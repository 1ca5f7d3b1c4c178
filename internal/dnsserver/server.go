// Package dnsserver answers unicast DNS queries for registered device names
// and forwards everything else to the uplink resolver.
package dnsserver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/hostname"
	"github.com/syzer/router/internal/metrics"
)

// Hosts is the read side of the hostname directory. *resolver.Directory satisfies it.
type Hosts interface {
	Resolve(name string) (netip.Addr, bool)
	ReverseLookup(ip netip.Addr) []string
}

type Options struct {
	Addr         string
	DomainSuffix string
	TTL          uint32
	// Upstream is host:port of the resolver non-local queries go to. Empty
	// means such queries are refused.
	Upstream        string
	UpstreamTimeout time.Duration
}

type Server struct {
	log      zerolog.Logger
	hosts    Hosts
	metrics  *metrics.Metrics
	addr     string
	zone     string
	ttl      uint32
	upstream string
	client   *dns.Client
}

func New(log zerolog.Logger, hosts Hosts, opts Options, m *metrics.Metrics) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = ":53"
	}
	suffix := opts.DomainSuffix
	if suffix == "" {
		suffix = hostname.LocalSuffix
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 300
	}
	timeout := opts.UpstreamTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &Server{
		log:      log.With().Str("component", "dnsserver").Logger(),
		hosts:    hosts,
		metrics:  m,
		addr:     addr,
		zone:     dns.Fqdn(strings.ToLower(strings.TrimPrefix(suffix, "."))),
		ttl:      ttl,
		upstream: withDefaultPort(opts.Upstream),
		client:   &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func withDefaultPort(upstream string) string {
	upstream = strings.TrimSpace(upstream)
	if upstream == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(upstream); err == nil {
		return upstream
	}
	return net.JoinHostPort(upstream, "53")
}

// ListenAndServe serves UDP and TCP on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	servers := []*dns.Server{
		{Addr: s.addr, Net: "udp", Handler: s},
		{Addr: s.addr, Net: "tcp", Handler: s},
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *dns.Server) {
			errCh <- srv.ListenAndServe()
		}(srv)
	}
	s.log.Info().Str("addr", s.addr).Str("zone", s.zone).Str("upstream", s.upstream).Msg("dns responder listening")

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.ShutdownContext(shutdownCtx)
	}
	return err
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout+time.Second)
	defer cancel()

	resp := s.Answer(ctx, req)
	if err := w.WriteMsg(resp); err != nil {
		s.log.Debug().Err(err).Msg("failed to write dns response")
	}
}

// Answer builds the response to req. Names under the local zone are answered
// from Hosts, reverse lookups for registered addresses get PTR records, and
// anything else is forwarded upstream.
func (s *Server) Answer(ctx context.Context, req *dns.Msg) *dns.Msg {
	resp := s.answer(ctx, req)
	s.metrics.IncDNSQuery(dns.RcodeToString[resp.Rcode])
	return resp
}

func (s *Server) answer(ctx context.Context, req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)

	if req.Opcode != dns.OpcodeQuery {
		m.SetRcode(req, dns.RcodeNotImplemented)
		return m
	}
	if len(req.Question) != 1 {
		m.SetRcode(req, dns.RcodeFormatError)
		return m
	}

	q := req.Question[0]
	name := strings.ToLower(q.Name)

	switch {
	case dns.IsSubDomain(s.zone, name):
		return s.answerLocal(m, q, name)
	case q.Qtype == dns.TypePTR && dns.IsSubDomain("in-addr.arpa.", name):
		if ip, ok := parseReverseName(name); ok {
			if names := s.hosts.ReverseLookup(ip); len(names) > 0 {
				m.Authoritative = true
				for _, n := range names {
					m.Answer = append(m.Answer, &dns.PTR{
						Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: s.ttl},
						Ptr: n + "." + s.zone,
					})
				}
				return m
			}
		}
	}

	return s.forward(ctx, req, m)
}

func (s *Server) answerLocal(m *dns.Msg, q dns.Question, name string) *dns.Msg {
	m.Authoritative = true
	if name == s.zone {
		return m
	}

	label := strings.TrimSuffix(name, "."+s.zone)
	// Only canonical labels are looked up; "cam_1" must not answer for "cam-1".
	if strings.Contains(label, ".") || hostname.Normalize(label) != label {
		m.Rcode = dns.RcodeNameError
		return m
	}
	ip, ok := s.hosts.Resolve(label)
	if !ok {
		m.Rcode = dns.RcodeNameError
		return m
	}

	// Names only carry IPv4 addresses; other types get an empty NOERROR.
	if q.Qtype == dns.TypeA || q.Qtype == dns.TypeANY {
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: s.ttl},
			A:   ip.AsSlice(),
		})
	}
	return m
}

func (s *Server) forward(ctx context.Context, req, m *dns.Msg) *dns.Msg {
	if s.upstream == "" {
		m.SetRcode(req, dns.RcodeRefused)
		return m
	}

	resp, _, err := s.client.ExchangeContext(ctx, req, s.upstream)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Str("name", req.Question[0].Name).Str("upstream", s.upstream).Msg("upstream dns query failed")
		}
		m.SetRcode(req, dns.RcodeServerFailure)
		return m
	}
	resp.Id = req.Id
	return resp
}

// parseReverseName turns "4.3.2.1.in-addr.arpa." into 1.2.3.4.
func parseReverseName(name string) (netip.Addr, bool) {
	labels := dns.SplitDomainName(strings.TrimSuffix(name, "in-addr.arpa."))
	if len(labels) != 4 {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i, l := range labels {
		n, err := strconv.ParseUint(l, 10, 8)
		if err != nil {
			return netip.Addr{}, false
		}
		b[3-i] = byte(n)
	}
	return netip.AddrFrom4(b), true
}
