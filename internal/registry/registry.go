package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/hostname"
	"github.com/syzer/router/internal/macaddr"
)

var (
	ErrHostnameConflict     = errors.New("hostname already reserved by another mac")
	ErrMalformedConfigEntry = errors.New("malformed mac hostname config entry")
)

// Mapping is one static MAC to hostname binding.
type Mapping struct {
	MAC      macaddr.MAC
	Hostname string
}

// Registry holds static MAC to hostname mappings with a reverse index that
// keeps every hostname bound to at most one MAC.
type Registry struct {
	log zerolog.Logger

	mu      sync.RWMutex
	forward map[macaddr.MAC]string
	reverse map[string]macaddr.MAC
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		log:     log.With().Str("component", "registry").Logger(),
		forward: make(map[macaddr.MAC]string),
		reverse: make(map[string]macaddr.MAC),
	}
}

// AddMapping binds mac to the sanitized form of rawHostname. Re-adding the same
// pair is a no-op; claiming a hostname held by another MAC fails with
// ErrHostnameConflict and leaves the registry unchanged.
func (r *Registry) AddMapping(mac macaddr.MAC, rawHostname string) error {
	name := hostname.Normalize(rawHostname)
	if !hostname.IsValid(name) {
		return fmt.Errorf("%w: %q", hostname.ErrInvalidHostname, rawHostname)
	}

	r.mu.Lock()
	if owner, ok := r.reverse[name]; ok {
		if owner != mac {
			r.mu.Unlock()
			return fmt.Errorf("%w: %q is reserved for %s", ErrHostnameConflict, name, owner)
		}
		r.mu.Unlock()
		return nil
	}
	previous, remapped := r.forward[mac]
	if remapped {
		delete(r.reverse, previous)
	}
	r.forward[mac] = name
	r.reverse[name] = mac
	r.mu.Unlock()

	ev := r.log.Info().Str("mac", mac.String()).Str("hostname", name+hostname.LocalSuffix)
	if remapped {
		ev = ev.Str("previous", previous)
	}
	ev.Msg("static mapping added")
	return nil
}

// RemoveMapping drops the mapping for mac and returns the hostname it held.
func (r *Registry) RemoveMapping(mac macaddr.MAC) (string, bool) {
	r.mu.Lock()
	name, ok := r.forward[mac]
	if ok {
		delete(r.forward, mac)
		delete(r.reverse, name)
	}
	r.mu.Unlock()

	if ok {
		r.log.Info().Str("mac", mac.String()).Str("hostname", name+hostname.LocalSuffix).Msg("static mapping removed")
	}
	return name, ok
}

func (r *Registry) Hostname(mac macaddr.MAC) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.forward[mac]
	return name, ok
}

func (r *Registry) MAC(name string) (macaddr.MAC, bool) {
	key := hostname.Normalize(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	mac, ok := r.reverse[key]
	return mac, ok
}

func (r *Registry) IsReserved(name string) bool {
	_, ok := r.MAC(name)
	return ok
}

func (r *Registry) HasMapping(mac macaddr.MAC) bool {
	_, ok := r.Hostname(mac)
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forward)
}

// List returns every mapping ordered by MAC.
func (r *Registry) List() []Mapping {
	r.mu.RLock()
	out := make([]Mapping, 0, len(r.forward))
	for mac, name := range r.forward {
		out = append(out, Mapping{MAC: mac, Hostname: name})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].MAC[:], out[j].MAC[:]) < 0
	})
	return out
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.forward = make(map[macaddr.MAC]string)
	r.reverse = make(map[string]macaddr.MAC)
	r.mu.Unlock()

	r.log.Info().Msg("static mappings cleared")
}

// LoadFromConfig parses "aa:bb:cc:dd:ee:ff:hostname" entries separated by commas
// and adds each one. Malformed entries and rejected mappings are logged and
// skipped; the number of mappings added is returned.
func (r *Registry) LoadFromConfig(text string) int {
	loaded := 0
	for _, entry := range strings.Split(text, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		m, err := ParseEntry(entry)
		if err != nil {
			r.log.Warn().Err(err).Str("entry", entry).Msg("skipping static mapping entry")
			continue
		}
		if err := r.AddMapping(m.MAC, m.Hostname); err != nil {
			r.log.Warn().Err(err).Str("entry", entry).Msg("failed to add static mapping")
			continue
		}
		loaded++
	}

	r.log.Info().Int("loaded", loaded).Msg("static mappings loaded from config")
	return loaded
}

// ExportToConfig renders the registry in the LoadFromConfig format.
func (r *Registry) ExportToConfig() string {
	mappings := r.List()
	entries := make([]string, 0, len(mappings))
	for _, m := range mappings {
		entries = append(entries, FormatEntry(m))
	}
	return strings.Join(entries, ",")
}

// ParseEntry splits one config entry into six hex MAC fields and a raw hostname.
// The hostname is returned unsanitized.
func ParseEntry(entry string) (Mapping, error) {
	parts := strings.Split(strings.TrimSpace(entry), ":")
	if len(parts) != 7 {
		return Mapping{}, fmt.Errorf("%w: expected 7 colon-separated fields, got %d", ErrMalformedConfigEntry, len(parts))
	}
	mac, err := macaddr.ParseFields(parts[:6])
	if err != nil {
		return Mapping{}, fmt.Errorf("%w: %v", ErrMalformedConfigEntry, err)
	}
	return Mapping{MAC: mac, Hostname: parts[6]}, nil
}

func FormatEntry(m Mapping) string {
	return m.MAC.String() + ":" + m.Hostname
}
