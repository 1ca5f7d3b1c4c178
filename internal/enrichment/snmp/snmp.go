package snmp

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/syzer/router/internal/naming"
)

// Config describes how clients on the AP side are queried for their system name.
type Config struct {
	Community string
	Version   string // "2c" (default) | "1"
	Port      uint16
	Timeout   time.Duration
	Retries   int
}

type SystemInfo struct {
	SysName     *string
	SysDescr    *string
	SysLocation *string
}

// Client asks SNMP agents on joining devices for their configured sysName.
// Most consumer devices run no agent; the short default timeout keeps a join
// from stalling on them.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context, addr netip.Addr) (*gosnmp.GoSNMP, error) {
	version := strings.ToLower(strings.TrimSpace(c.cfg.Version))
	var snmpVersion gosnmp.SnmpVersion
	switch version {
	case "2c", "v2c", "":
		snmpVersion = gosnmp.Version2c
	case "1", "v1":
		snmpVersion = gosnmp.Version1
	default:
		return nil, fmt.Errorf("unsupported snmp version %q", c.cfg.Version)
	}

	s := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    addr.String(),
		Port:      c.cfg.Port,
		Community: c.cfg.Community,
		Version:   snmpVersion,
		Timeout:   c.cfg.Timeout,
		Retries:   c.cfg.Retries,
	}
	if err := s.Connect(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	oidSysDescr0    = "1.3.6.1.2.1.1.1.0"
	oidSysName0     = "1.3.6.1.2.1.1.5.0"
	oidSysLocation0 = "1.3.6.1.2.1.1.6.0"
)

func pduString(pdu gosnmp.SnmpPDU) (*string, bool) {
	switch v := pdu.Value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, true
		}
		return &s, true
	case []byte:
		s := strings.TrimSpace(string(v))
		if s == "" {
			return nil, true
		}
		return &s, true
	default:
		return nil, false
	}
}

func systemFromPDUs(vars []gosnmp.SnmpPDU) SystemInfo {
	var out SystemInfo
	for _, v := range vars {
		// Agents may answer with or without the leading dot.
		switch strings.TrimPrefix(v.Name, ".") {
		case oidSysName0:
			out.SysName, _ = pduString(v)
		case oidSysDescr0:
			out.SysDescr, _ = pduString(v)
		case oidSysLocation0:
			out.SysLocation, _ = pduString(v)
		}
	}
	return out
}

func (c *Client) GetSystem(ctx context.Context, addr netip.Addr) (SystemInfo, error) {
	if c == nil {
		return SystemInfo{}, errors.New("snmp client is nil")
	}

	s, err := c.connect(ctx, addr)
	if err != nil {
		return SystemInfo{}, err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{oidSysName0, oidSysDescr0, oidSysLocation0})
	if err != nil {
		return SystemInfo{}, err
	}
	return systemFromPDUs(pkt.Variables), nil
}

// Candidates returns the device's sysName as a friendly-name candidate.
func (c *Client) Candidates(ctx context.Context, addr netip.Addr) ([]naming.Candidate, error) {
	info, err := c.GetSystem(ctx, addr)
	if err != nil {
		return nil, err
	}
	return candidatesFromSystem(info), nil
}

func candidatesFromSystem(info SystemInfo) []naming.Candidate {
	if info.SysName == nil {
		return nil
	}
	return []naming.Candidate{{Name: *info.SysName, Source: naming.SourceSNMP}}
}
