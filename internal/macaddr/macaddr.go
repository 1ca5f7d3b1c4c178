package macaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// MAC is a 6-byte hardware address. It is comparable and used as a map key.
type MAC [6]byte

var ErrInvalidMAC = errors.New("invalid mac address")

// Parse reads six colon-separated hex byte values, e.g. "00:1a:2b:3c:4d:5e".
func Parse(s string) (MAC, error) {
	var mac MAC
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(mac) {
		return MAC{}, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	if err := parseOctets(parts, &mac); err != nil {
		return MAC{}, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	return mac, nil
}

// ParseFields parses exactly six already-split hex fields.
func ParseFields(fields []string) (MAC, error) {
	var mac MAC
	if len(fields) != len(mac) {
		return MAC{}, fmt.Errorf("%w: expected 6 fields, got %d", ErrInvalidMAC, len(fields))
	}
	if err := parseOctets(fields, &mac); err != nil {
		return MAC{}, err
	}
	return mac, nil
}

func parseOctets(fields []string, mac *MAC) error {
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || len(f) > 2 {
			return fmt.Errorf("%w: octet %d %q", ErrInvalidMAC, i, f)
		}
		n, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return fmt.Errorf("%w: octet %d %q", ErrInvalidMAC, i, f)
		}
		mac[i] = byte(n)
	}
	return nil
}

// FromHardwareAddr converts an EUI-48 net.HardwareAddr.
func FromHardwareAddr(hw net.HardwareAddr) (MAC, bool) {
	var mac MAC
	if len(hw) != len(mac) {
		return MAC{}, false
	}
	copy(mac[:], hw)
	return mac, true
}

// String formats the address as lowercase colon-separated hex.
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Compact formats the address as 12 lowercase hex digits without separators.
func (m MAC) Compact() string {
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Suffix returns the low three bytes as 6 lowercase hex digits.
func (m MAC) Suffix() string {
	return fmt.Sprintf("%02x%02x%02x", m[3], m[4], m[5])
}

func (m MAC) IsZero() bool {
	return m == MAC{}
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
