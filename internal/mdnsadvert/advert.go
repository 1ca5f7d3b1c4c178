// Package mdnsadvert publishes the mDNS store onto the LAN so that clients
// without a configured unicast resolver can still find <name>.local.
package mdnsadvert

import (
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	DefaultService = "_workstation._tcp"
	mdnsDomain     = "local."
	// Port 9 (discard) is the conventional port for host-only announcements.
	defaultPort = 9
)

type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (server, error)

func registerProxy(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (server, error) {
	s, err := zeroconf.RegisterProxy(instance, service, domain, port, host, ips, text, ifaces)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Options struct {
	Service string
	Port    int
	// Interface limits announcements to one network interface, e.g. the AP side.
	Interface string
}

// Advertiser proxies one mDNS responder per registered hostname. It implements
// resolver.Hook.
type Advertiser struct {
	log      zerolog.Logger
	service  string
	port     int
	ifaces   []net.Interface
	register registerFunc

	mu      sync.Mutex
	servers map[string]server
	closed  bool
}

func New(log zerolog.Logger, opts Options) (*Advertiser, error) {
	var ifaces []net.Interface
	if opts.Interface != "" {
		ifi, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("mdns interface %q: %w", opts.Interface, err)
		}
		ifaces = []net.Interface{*ifi}
	}
	return newAdvertiser(log, opts, ifaces, registerProxy), nil
}

func newAdvertiser(log zerolog.Logger, opts Options, ifaces []net.Interface, register registerFunc) *Advertiser {
	service := opts.Service
	if service == "" {
		service = DefaultService
	}
	port := opts.Port
	if port <= 0 {
		port = defaultPort
	}
	return &Advertiser{
		log:      log.With().Str("component", "mdnsadvert").Logger(),
		service:  service,
		port:     port,
		ifaces:   ifaces,
		register: register,
		servers:  make(map[string]server),
	}
}

// OnRegister announces name.local. at ip, replacing an earlier announcement of
// the same name.
func (a *Advertiser) OnRegister(name string, ip netip.Addr) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	old := a.servers[name]
	delete(a.servers, name)
	a.mu.Unlock()

	if old != nil {
		old.Shutdown()
	}

	host := name + "." + mdnsDomain
	txt := []string{"hostname=" + name, "ip=" + ip.String()}
	srv, err := a.register(name, a.service, mdnsDomain, a.port, host, []string{ip.String()}, txt, a.ifaces)
	if err != nil {
		a.log.Error().Err(err).Str("hostname", host).Str("ip", ip.String()).Msg("failed to advertise hostname")
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		srv.Shutdown()
		return
	}
	// A concurrent OnRegister for the same name may have won; keep the newest.
	raced := a.servers[name]
	a.servers[name] = srv
	a.mu.Unlock()

	if raced != nil {
		raced.Shutdown()
	}
	a.log.Debug().Str("hostname", host).Str("ip", ip.String()).Msg("hostname advertised")
}

// OnUnregister withdraws the announcement for name, if any.
func (a *Advertiser) OnUnregister(name string) {
	a.mu.Lock()
	srv := a.servers[name]
	delete(a.servers, name)
	a.mu.Unlock()

	if srv == nil {
		return
	}
	srv.Shutdown()
	a.log.Debug().Str("hostname", name+"."+mdnsDomain).Msg("hostname withdrawn")
}

// Advertised lists the names currently announced, sorted.
func (a *Advertiser) Advertised() []string {
	a.mu.Lock()
	out := make([]string, 0, len(a.servers))
	for name := range a.servers {
		out = append(out, name)
	}
	a.mu.Unlock()
	sort.Strings(out)
	return out
}

// Close withdraws every announcement. Later registrations are ignored.
func (a *Advertiser) Close() {
	a.mu.Lock()
	a.closed = true
	servers := a.servers
	a.servers = make(map[string]server)
	a.mu.Unlock()

	for _, srv := range servers {
		srv.Shutdown()
	}
	a.log.Info().Int("withdrawn", len(servers)).Msg("mdns advertiser closed")
}
