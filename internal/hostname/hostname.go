// Package hostname turns arbitrary friendly names into DNS-safe labels and
// validates labels and dotted hostnames against the DNS length and character rules.
package hostname

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/syzer/router/internal/macaddr"
)

const (
	MaxLabelLength = 63
	MaxNameLength  = 253

	// LocalSuffix is the synthetic domain every registered name is served under.
	LocalSuffix = ".local"

	devicePrefix = "device"
)

var ErrInvalidHostname = errors.New("invalid hostname")

// Sanitize lowercases input, replaces every character outside [a-z0-9-] with a
// hyphen, trims hyphens from both ends and truncates to 63 characters. Latin
// diacritics are folded first ("Café" becomes "cafe"); any other non-ASCII rune
// becomes a hyphen. The result may be empty and must be checked with IsValid.
func Sanitize(input string) string {
	folded := foldMarks(input)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}

	out := strings.Trim(b.String(), "-")
	if len(out) > MaxLabelLength {
		// Truncation can expose a hyphen again; trim so Sanitize stays idempotent.
		out = strings.TrimRight(out[:MaxLabelLength], "-")
	}
	return out
}

func foldMarks(s string) string {
	if isASCII(s) {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// IsValid reports whether label is a single DNS label: 1-63 ASCII
// alphanumerics or hyphens, not starting or ending with a hyphen.
func IsValid(label string) bool {
	if label == "" || len(label) > MaxLabelLength {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

// IsValidFQDN accepts dot-separated labels that each pass IsValid, with a
// total length of at most 253.
func IsValidFQDN(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if !IsValid(label) {
			return false
		}
	}
	return true
}

// TrimLocal strips a trailing root dot and a trailing ".local".
func TrimLocal(name string) string {
	return TrimDomain(name, LocalSuffix)
}

// TrimDomain strips a trailing root dot and then suffix, matched
// case-insensitively. suffix is a domain such as ".lan"; empty strips nothing.
func TrimDomain(name, suffix string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	suffix = strings.TrimSuffix(suffix, ".")
	if suffix == "" || len(name) < len(suffix) {
		return name
	}
	if strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		name = name[:len(name)-len(suffix)]
	}
	return name
}

// Normalize is the key form shared by every registry: TrimLocal then Sanitize.
func Normalize(raw string) string {
	return Sanitize(TrimLocal(raw))
}

// FromMAC derives "device-xxyyzz" from the low three bytes of mac.
func FromMAC(mac macaddr.MAC) string {
	return devicePrefix + "-" + mac.Suffix()
}

// FromFullMAC derives "device-aabbccddeeff". MACs are unique per interface, so
// this name is the final uniqueness guarantee when suffixing runs out.
func FromFullMAC(mac macaddr.MAC) string {
	return devicePrefix + "-" + mac.Compact()
}

// WithSuffix returns "base-n", shortening base so the result fits in one label.
func WithSuffix(base string, n int) string {
	suffix := "-" + strconv.Itoa(n)
	if len(base)+len(suffix) > MaxLabelLength {
		base = strings.TrimRight(base[:MaxLabelLength-len(suffix)], "-")
	}
	return base + suffix
}
