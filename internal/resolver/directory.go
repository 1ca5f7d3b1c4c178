package resolver

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/macaddr"
)

type View string

const (
	ViewDNS  View = "dns"
	ViewMDNS View = "mdns"
)

// Directory is the single write path for the DNS and mDNS stores. Every
// device registration goes to both, so the two views always agree.
type Directory struct {
	log  zerolog.Logger
	dns  *Store
	mdns *Store

	mu sync.Mutex
}

// NewDirectory wires the two stores together. mdns may be nil when multicast
// advertisement is disabled.
func NewDirectory(log zerolog.Logger, dns, mdns *Store) *Directory {
	return &Directory{
		log:  log.With().Str("component", "directory").Logger(),
		dns:  dns,
		mdns: mdns,
	}
}

func (d *Directory) DNS() *Store { return d.dns }

func (d *Directory) MDNS() *Store { return d.mdns }

// Ready reports whether every configured store accepts writes.
func (d *Directory) Ready() bool {
	if !d.dns.Initialized() {
		return false
	}
	return d.mdns == nil || d.mdns.Initialized()
}

// RegisterDevice picks a hostname that is free in both stores (or already
// owned by mac) and registers it in both. Other names mac owned are released
// first, so a device holds one name and a stale name never points at an
// address that may be leased to someone else. If the mDNS write fails the
// DNS write is rolled back.
func (d *Directory) RegisterDevice(mac macaddr.MAC, friendlyName string, ip netip.Addr) (string, error) {
	ip, err := asIPv4(ip)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mdns != nil && !d.mdns.Initialized() {
		return "", fmt.Errorf("%s: %w", d.mdns.Name(), ErrServiceNotInitialized)
	}

	name, renamed := pickHostname(mac, friendlyName, d.dns.maxAttempts, func(candidate string) bool {
		if d.dns.takenBy(candidate, mac) {
			return true
		}
		return d.mdns != nil && d.mdns.takenBy(candidate, mac)
	})

	d.releaseStale(mac, name)

	if err := d.dns.register(name, ip, mac, true); err != nil {
		return "", err
	}
	if d.mdns != nil {
		if err := d.mdns.register(name, ip, mac, true); err != nil {
			if rbErr := d.dns.Unregister(name); rbErr != nil {
				d.log.Error().Err(rbErr).Str("hostname", name).Msg("failed to roll back dns registration")
			}
			return "", err
		}
	}

	if renamed {
		d.log.Info().Str("mac", mac.String()).Str("requested", friendlyName).Str("hostname", name).Msg("hostname conflict resolved by renaming")
	}
	return name, nil
}

// HostnameFor returns the name mac currently holds in the DNS view.
func (d *Directory) HostnameFor(mac macaddr.MAC) (string, bool) {
	names := d.dns.OwnedBy(mac)
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// releaseStale drops every name mac owns other than keep. Callers hold d.mu.
func (d *Directory) releaseStale(mac macaddr.MAC, keep string) {
	stale := make(map[string]struct{})
	for _, s := range []*Store{d.dns, d.mdns} {
		if s == nil {
			continue
		}
		for _, name := range s.OwnedBy(mac) {
			if name != keep {
				stale[name] = struct{}{}
			}
		}
	}
	for name := range stale {
		errDNS := d.dns.Unregister(name)
		var errMDNS error
		if d.mdns != nil {
			errMDNS = d.mdns.Unregister(name)
		}
		if err := errors.Join(errDNS, errMDNS); err != nil {
			d.log.Error().Err(err).Str("hostname", name).Msg("failed to release stale hostname")
			continue
		}
		d.log.Info().Str("mac", mac.String()).Str("hostname", name).Str("replaced_by", keep).Msg("stale hostname released")
	}
}

// Unregister removes hostname from both stores.
func (d *Directory) Unregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	errDNS := d.dns.Unregister(name)
	var errMDNS error
	if d.mdns != nil {
		errMDNS = d.mdns.Unregister(name)
	}
	return errors.Join(errDNS, errMDNS)
}

// Resolve answers from the DNS view, falling back to the mDNS view.
func (d *Directory) Resolve(name string) (netip.Addr, bool) {
	if ip, ok := d.dns.Resolve(name); ok {
		return ip, true
	}
	if d.mdns != nil {
		return d.mdns.Resolve(name)
	}
	return netip.Addr{}, false
}

// Lookup returns the record for name from the DNS view, falling back to the mDNS view.
func (d *Directory) Lookup(name string) (Record, bool) {
	if rec, ok := d.dns.Lookup(name); ok {
		return rec, true
	}
	if d.mdns != nil {
		return d.mdns.Lookup(name)
	}
	return Record{}, false
}

// ReverseLookup returns the DNS-view hostnames bound to ip.
func (d *Directory) ReverseLookup(ip netip.Addr) []string {
	return d.dns.ReverseLookup(ip)
}

// Records lists one view. Unknown views fall back to DNS.
func (d *Directory) Records(view View) []Record {
	if view == ViewMDNS && d.mdns != nil {
		return d.mdns.List()
	}
	return d.dns.List()
}
