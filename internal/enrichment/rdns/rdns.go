package rdns

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"github.com/syzer/router/internal/naming"
)

// Resolver produces friendly-name candidates from PTR records. On most home
// uplinks the router's DNS answers with the DHCP hostname the client announced.
type Resolver struct {
	// LookupAddr defaults to net.DefaultResolver.LookupAddr.
	LookupAddr func(ctx context.Context, addr string) ([]string, error)
}

// Candidates returns one candidate per distinct PTR name for addr.
func (r *Resolver) Candidates(ctx context.Context, addr netip.Addr) ([]naming.Candidate, error) {
	lookup := net.DefaultResolver.LookupAddr
	if r != nil && r.LookupAddr != nil {
		lookup = r.LookupAddr
	}

	names, err := lookup(ctx, addr.String())
	if err != nil {
		return nil, err
	}

	out := make([]naming.Candidate, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(strings.TrimSuffix(raw, "."))
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, naming.Candidate{Name: name, Source: naming.SourceReverseDNS})
	}
	return out, nil
}
