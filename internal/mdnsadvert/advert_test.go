package mdnsadvert

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/macaddr"
	"github.com/syzer/router/internal/resolver"
)

type fakeServer struct {
	host string
	ips  []string

	mu       sync.Mutex
	shutdown int
}

func (f *fakeServer) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
}

func (f *fakeServer) shutdowns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

type fakeRegistrar struct {
	mu      sync.Mutex
	servers []*fakeServer
	err     error
}

func (f *fakeRegistrar) register(instance, service, domain string, port int, host string, ips []string, text []string, ifaces []net.Interface) (server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeServer{host: host, ips: ips}
	f.servers = append(f.servers, s)
	return s, nil
}

func TestAdvertiser_RegisterReplaceUnregister(t *testing.T) {
	reg := &fakeRegistrar{}
	a := newAdvertiser(zerolog.Nop(), Options{}, nil, reg.register)

	a.OnRegister("cam", netip.MustParseAddr("192.168.4.10"))
	if len(reg.servers) != 1 || reg.servers[0].host != "cam.local." || reg.servers[0].ips[0] != "192.168.4.10" {
		t.Fatalf("unexpected registration %+v", reg.servers)
	}

	a.OnRegister("cam", netip.MustParseAddr("192.168.4.11"))
	if reg.servers[0].shutdowns() != 1 {
		t.Fatalf("expected previous announcement to be withdrawn")
	}
	if got := a.Advertised(); len(got) != 1 || got[0] != "cam" {
		t.Fatalf("unexpected advertised set %v", got)
	}

	a.OnUnregister("cam")
	a.OnUnregister("cam")
	if reg.servers[1].shutdowns() != 1 {
		t.Fatalf("expected exactly one shutdown, got %d", reg.servers[1].shutdowns())
	}
	if got := a.Advertised(); len(got) != 0 {
		t.Fatalf("expected nothing advertised, got %v", got)
	}
}

func TestAdvertiser_RegisterErrorIsLogged(t *testing.T) {
	reg := &fakeRegistrar{err: errors.New("no multicast interface")}
	a := newAdvertiser(zerolog.Nop(), Options{}, nil, reg.register)

	a.OnRegister("cam", netip.MustParseAddr("192.168.4.10"))
	if got := a.Advertised(); len(got) != 0 {
		t.Fatalf("expected failed registration to leave nothing advertised, got %v", got)
	}
}

func TestAdvertiser_CloseWithdrawsEverything(t *testing.T) {
	reg := &fakeRegistrar{}
	a := newAdvertiser(zerolog.Nop(), Options{}, nil, reg.register)
	a.OnRegister("a", netip.MustParseAddr("192.168.4.2"))
	a.OnRegister("b", netip.MustParseAddr("192.168.4.3"))

	a.Close()
	for _, s := range reg.servers {
		if s.shutdowns() != 1 {
			t.Fatalf("expected %s to be shut down once, got %d", s.host, s.shutdowns())
		}
	}

	a.OnRegister("c", netip.MustParseAddr("192.168.4.4"))
	if len(reg.servers) != 2 {
		t.Fatalf("expected registrations after close to be ignored")
	}
}

func TestAdvertiser_FollowsMDNSStore(t *testing.T) {
	reg := &fakeRegistrar{}
	a := newAdvertiser(zerolog.Nop(), Options{}, nil, reg.register)

	store := resolver.NewMDNSStore(zerolog.Nop(), "", 0, a)
	store.Init()
	name, err := store.RegisterDevice(macaddr.MAC{0xaa, 0xbb, 0xcc, 0, 0, 1}, "Garden Sensor", netip.MustParseAddr("192.168.4.20"))
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	if got := a.Advertised(); len(got) != 1 || got[0] != name {
		t.Fatalf("expected %q advertised, got %v", name, got)
	}

	store.Stop()
	if got := a.Advertised(); len(got) != 0 {
		t.Fatalf("expected stop to withdraw announcements, got %v", got)
	}
}
