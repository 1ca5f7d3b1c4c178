package resolver

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/hostname"
	"github.com/syzer/router/internal/macaddr"
)

var (
	ErrServiceNotInitialized = errors.New("hostname service not initialized")
	ErrNotIPv4               = errors.New("address is not ipv4")
	ErrStoreFull             = errors.New("hostname store full")
)

// DefaultMaxSuffixAttempts bounds the "-1", "-2", ... search in RegisterDevice.
const DefaultMaxSuffixAttempts = 99

// Record is one hostname to address binding as presented to callers.
type Record struct {
	Hostname string
	FQDN     string
	IP       netip.Addr
	Owner    macaddr.MAC
	HasOwner bool
}

// Hook observes store mutations. It is called after the store lock is released.
type Hook interface {
	OnRegister(name string, ip netip.Addr)
	OnUnregister(name string)
}

type entry struct {
	ip       netip.Addr
	owner    macaddr.MAC
	hasOwner bool
}

// Options configures a Store.
type Options struct {
	// Name labels log lines and metrics, e.g. "dns" or "mdns".
	Name              string
	DomainSuffix      string
	MaxSuffixAttempts int
	// MaxEntries caps distinct hostnames; 0 means unlimited.
	MaxEntries int
	// RequireInit makes mutations fail with ErrServiceNotInitialized until Init.
	RequireInit bool
	Hook        Hook
}

// Store maps sanitized hostnames to IPv4 addresses. Writes are last-write-wins;
// RegisterDevice resolves conflicts by renaming instead.
type Store struct {
	log          zerolog.Logger
	name         string
	suffix       string
	maxAttempts  int
	maxEntries   int
	requiresInit bool
	hook         Hook

	mu          sync.RWMutex
	entries     map[string]entry
	initialized bool
}

func NewStore(log zerolog.Logger, opts Options) *Store {
	name := opts.Name
	if name == "" {
		name = "dns"
	}
	suffix := opts.DomainSuffix
	if suffix == "" {
		suffix = hostname.LocalSuffix
	}
	attempts := opts.MaxSuffixAttempts
	if attempts <= 0 {
		attempts = DefaultMaxSuffixAttempts
	}
	return &Store{
		log:          log.With().Str("component", "resolver").Str("store", name).Logger(),
		name:         name,
		suffix:       suffix,
		maxAttempts:  attempts,
		maxEntries:   opts.MaxEntries,
		requiresInit: opts.RequireInit,
		hook:         opts.Hook,
		entries:      make(map[string]entry),
		initialized:  !opts.RequireInit,
	}
}

// NewDNSStore returns the store backing unicast DNS answers.
func NewDNSStore(log zerolog.Logger, suffix string, maxSuffixAttempts int) *Store {
	return NewStore(log, Options{Name: "dns", DomainSuffix: suffix, MaxSuffixAttempts: maxSuffixAttempts})
}

// NewMDNSStore returns the store mirrored onto multicast DNS. It must be
// initialized before use.
func NewMDNSStore(log zerolog.Logger, suffix string, maxSuffixAttempts int, hook Hook) *Store {
	return NewStore(log, Options{
		Name:              "mdns",
		DomainSuffix:      suffix,
		MaxSuffixAttempts: maxSuffixAttempts,
		RequireInit:       true,
		Hook:              hook,
	})
}

func (s *Store) Name() string { return s.name }

func (s *Store) DomainSuffix() string { return s.suffix }

// Init marks the store ready. Calling it twice is harmless.
func (s *Store) Init() {
	s.mu.Lock()
	already := s.initialized
	s.initialized = true
	s.mu.Unlock()

	if already {
		s.log.Debug().Msg("hostname store already initialized")
		return
	}
	s.log.Info().Msg("hostname store initialized")
}

// Stop clears every entry and, for stores that require it, returns to the
// uninitialized state.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return
	}
	removed := s.drainLocked()
	if s.requiresInit {
		s.initialized = false
	}
	s.mu.Unlock()

	s.notifyRemoved(removed)
	s.log.Info().Int("removed", len(removed)).Msg("hostname store stopped")
}

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Register binds the sanitized hostname to ip, replacing any previous binding.
func (s *Store) Register(name string, ip netip.Addr) error {
	return s.register(name, ip, macaddr.MAC{}, false)
}

func (s *Store) register(raw string, ip netip.Addr, owner macaddr.MAC, hasOwner bool) error {
	name := s.key(raw)
	if !hostname.IsValid(name) {
		return fmt.Errorf("%w: %q", hostname.ErrInvalidHostname, raw)
	}
	ip, err := asIPv4(ip)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.name, ErrServiceNotInitialized)
	}
	if s.fullLocked(name) {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w (%d entries)", s.name, ErrStoreFull, s.maxEntries)
	}
	s.entries[name] = entry{ip: ip, owner: owner, hasOwner: hasOwner}
	s.mu.Unlock()

	s.log.Info().Str("hostname", name+s.suffix).Str("ip", ip.String()).Msg("hostname registered")
	if s.hook != nil {
		s.hook.OnRegister(name, ip)
	}
	return nil
}

// Unregister removes hostname if present.
func (s *Store) Unregister(raw string) error {
	name := s.key(raw)

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", s.name, ErrServiceNotInitialized)
	}
	_, ok := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	s.log.Info().Str("hostname", name+s.suffix).Msg("hostname unregistered")
	if s.hook != nil {
		s.hook.OnUnregister(name)
	}
	return nil
}

func (s *Store) Resolve(raw string) (netip.Addr, bool) {
	name := s.key(raw)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e.ip, ok
}

// Lookup returns the full record for hostname.
func (s *Store) Lookup(raw string) (Record, bool) {
	name := s.key(raw)
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return s.record(name, e), true
}

// List returns every record ordered by hostname, with the domain suffix
// appended for display.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, s.record(name, e))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

// ReverseLookup returns the hostnames currently bound to ip, sorted.
func (s *Store) ReverseLookup(ip netip.Addr) []string {
	ip = ip.Unmap()
	s.mu.RLock()
	var out []string
	for name, e := range s.entries {
		if e.ip == ip {
			out = append(out, name)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Clear() {
	s.mu.Lock()
	removed := s.drainLocked()
	s.mu.Unlock()

	s.notifyRemoved(removed)
	s.log.Info().Int("removed", len(removed)).Msg("hostname store cleared")
}

// RegisterDevice derives a hostname for mac from friendlyName (or from the MAC
// when the name sanitizes to nothing usable), makes it unique within this
// store and registers it. The search and the insert happen under one lock hold.
func (s *Store) RegisterDevice(mac macaddr.MAC, friendlyName string, ip netip.Addr) (string, error) {
	ip, err := asIPv4(ip)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w", s.name, ErrServiceNotInitialized)
	}
	name, renamed := pickHostname(mac, friendlyName, s.maxAttempts, func(candidate string) bool {
		return s.takenLocked(candidate, mac)
	})
	if s.fullLocked(name) {
		s.mu.Unlock()
		return "", fmt.Errorf("%s: %w (%d entries)", s.name, ErrStoreFull, s.maxEntries)
	}
	s.entries[name] = entry{ip: ip, owner: mac, hasOwner: true}
	s.mu.Unlock()

	s.log.Info().
		Str("mac", mac.String()).
		Str("hostname", name+s.suffix).
		Str("ip", ip.String()).
		Bool("renamed", renamed).
		Msg("device registered")
	if s.hook != nil {
		s.hook.OnRegister(name, ip)
	}
	return name, nil
}

// OwnedBy returns the hostnames registered to mac through RegisterDevice, sorted.
func (s *Store) OwnedBy(mac macaddr.MAC) []string {
	s.mu.RLock()
	var out []string
	for name, e := range s.entries {
		if e.hasOwner && e.owner == mac {
			out = append(out, name)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// takenBy reports whether name is held by anything other than mac.
func (s *Store) takenBy(name string, mac macaddr.MAC) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.takenLocked(name, mac)
}

func (s *Store) takenLocked(name string, mac macaddr.MAC) bool {
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	return !e.hasOwner || e.owner != mac
}

// fullLocked reports whether adding name would exceed the entry cap.
// Overwriting an existing name never does.
func (s *Store) fullLocked(name string) bool {
	if s.maxEntries <= 0 {
		return false
	}
	if _, ok := s.entries[name]; ok {
		return false
	}
	return len(s.entries) >= s.maxEntries
}

// Full reports whether the store is at its entry cap.
func (s *Store) Full() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxEntries > 0 && len(s.entries) >= s.maxEntries
}

// key normalizes raw, accepting names qualified with this store's domain
// suffix as well as ".local".
func (s *Store) key(raw string) string {
	return hostname.Normalize(hostname.TrimDomain(raw, s.suffix))
}

func (s *Store) record(name string, e entry) Record {
	return Record{
		Hostname: name,
		FQDN:     name + s.suffix,
		IP:       e.ip,
		Owner:    e.owner,
		HasOwner: e.hasOwner,
	}
}

func (s *Store) drainLocked() []string {
	removed := make([]string, 0, len(s.entries))
	for name := range s.entries {
		removed = append(removed, name)
	}
	s.entries = make(map[string]entry)
	return removed
}

func (s *Store) notifyRemoved(names []string) {
	if s.hook == nil {
		return
	}
	for _, name := range names {
		s.hook.OnUnregister(name)
	}
}

// pickHostname returns the first free candidate: the base name, then base-1
// up to base-maxAttempts, then the full-MAC name. renamed is true when the
// base name could not be used as-is.
func pickHostname(mac macaddr.MAC, friendlyName string, maxAttempts int, taken func(string) bool) (string, bool) {
	base := hostname.Normalize(friendlyName)
	if !hostname.IsValid(base) {
		base = hostname.FromMAC(mac)
	}
	if !taken(base) {
		return base, false
	}
	for i := 1; i <= maxAttempts; i++ {
		candidate := hostname.WithSuffix(base, i)
		if !taken(candidate) {
			return candidate, true
		}
	}
	return hostname.FromFullMAC(mac), true
}

func asIPv4(ip netip.Addr) (netip.Addr, error) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNotIPv4, ip)
	}
	return ip, nil
}
