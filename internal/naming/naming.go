package naming

import (
	"sort"
	"strings"

	"github.com/syzer/router/internal/hostname"
)

// Candidate sources, in roughly descending trust.
const (
	SourceStatic     = "static"
	SourceEvent      = "event"
	SourceReverseDNS = "reverse_dns"
	SourceSNMP       = "snmp"
	SourcePool       = "pool"
)

// MinScore is the quality bar a candidate must reach before it is used as a
// device hostname.
const MinScore = 60

type Candidate struct {
	Name   string
	Source string
}

type scoredCandidate struct {
	Source   string
	Raw      string
	Hostname string
	Score    int
}

// NormalizeCandidate reduces a raw discovered name to the hostname label it
// would be registered under and scores it. ok is false when nothing usable is
// left.
func NormalizeCandidate(source, rawName string) (label string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	name := strings.TrimSuffix(strings.TrimSpace(rawName), ".")
	if name == "" {
		return "", 0, false
	}

	lowered := strings.ToLower(name)
	if looksGarbage(lowered) {
		return "", -1, false
	}

	// PTR answers and SNMP sysNames are FQDNs; only their host label counts.
	// Announced names are free text and keep their dots for Sanitize.
	first := hostname.TrimLocal(name)
	if source == SourceReverseDNS || source == SourceSNMP {
		if head, _, found := strings.Cut(first, "."); found && head != "" {
			first = head
		}
	}

	label = hostname.Normalize(first)
	if !hostname.IsValid(label) {
		return "", -1, false
	}

	score = scoreCandidate(source, first, label)
	return label, score, score >= 0
}

// Choose returns the best hostname label among candidates that clear MinScore.
func Choose(candidates []Candidate) (Candidate, bool) {
	best := scoredCandidate{Score: -1_000_000}

	for _, c := range candidates {
		label, score, ok := NormalizeCandidate(c.Source, c.Name)
		if !ok || score < MinScore {
			continue
		}
		next := scoredCandidate{Source: c.Source, Raw: c.Name, Hostname: label, Score: score}
		if betterCandidate(next, best) {
			best = next
		}
	}

	if best.Score < MinScore || best.Hostname == "" {
		return Candidate{}, false
	}
	return Candidate{Name: best.Hostname, Source: best.Source}, true
}

// Sort orders candidates best first. Unusable candidates sort last.
func Sort(candidates []Candidate) []Candidate {
	type scored struct {
		orig Candidate
		s    scoredCandidate
		ok   bool
	}

	list := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		label, score, ok := NormalizeCandidate(c.Source, c.Name)
		list = append(list, scored{
			orig: c,
			s:    scoredCandidate{Source: c.Source, Raw: c.Name, Hostname: label, Score: score},
			ok:   ok,
		})
	}

	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.ok != b.ok {
			return a.ok
		}
		return betterCandidate(a.s, b.s)
	})

	out := make([]Candidate, 0, len(list))
	for _, item := range list {
		out = append(out, item.orig)
	}
	return out
}

func betterCandidate(a, b scoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	// Shorter labels read better as <name>.local.
	if len(a.Hostname) != len(b.Hostname) {
		return len(a.Hostname) < len(b.Hostname)
	}
	return a.Hostname < b.Hostname
}

func scoreCandidate(source, raw, label string) int {
	base := 50
	switch source {
	case SourceStatic:
		base = 100
	case SourceEvent:
		base = 95
	case SourceReverseDNS:
		base = 90
	case SourceSNMP:
		base = 88
	case SourcePool:
		base = 40
	}

	if len(label) < 2 {
		base -= 50
	}

	// Names with spaces or punctuation lose information when sanitized.
	if strings.ContainsAny(raw, " \t") {
		base -= 10
	}
	if !looksHostnameLabel(raw) {
		base -= 10
	}

	// Vendor defaults carry no identity of their own.
	if isGenericName(label) {
		base -= 40
	}

	return base
}

func looksHostnameLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

func looksGarbage(normalized string) bool {
	if normalized == "" {
		return true
	}
	if strings.Contains(normalized, "in-addr.arpa") || strings.Contains(normalized, "ip6.arpa") {
		return true
	}
	switch normalized {
	case "workgroup", "mshome", "__msbrowse__", "localdomain", "localhost":
		return true
	}
	return false
}

func isGenericName(label string) bool {
	switch label {
	case "espressif", "esp32", "esp8266", "android", "iphone", "unknown", "device", "host", "client":
		return true
	}
	return false
}
