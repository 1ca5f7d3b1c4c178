// Package config loads the hostbridge configuration: an optional YAML file,
// then environment overrides, then defaults, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`

	DNS    DNS    `yaml:"dns"`
	MDNS   MDNS   `yaml:"mdns"`
	Joins  Joins  `yaml:"joins"`
	Enrich Enrich `yaml:"enrichment"`

	// StaticMappings uses the registry text format:
	// "aa:bb:cc:dd:ee:ff:laptop,11:22:33:44:55:66:printer".
	StaticMappings string `yaml:"static_mappings"`
}

type DNS struct {
	Enabled      bool   `yaml:"enabled"`
	Addr         string `yaml:"addr"`
	Upstream     string `yaml:"upstream"`
	DomainSuffix string `yaml:"domain_suffix"`
	TTL          uint32 `yaml:"ttl"`
	// MaxEntries caps the number of hostnames the stores may hold.
	MaxEntries        int `yaml:"max_entries"`
	MaxSuffixAttempts int `yaml:"max_suffix_attempts"`
}

type MDNS struct {
	Enabled   bool   `yaml:"enabled"`
	Interface string `yaml:"interface"`
	Service   string `yaml:"service"`
}

type Joins struct {
	ARPTablePath  string        `yaml:"arp_table_path"`
	Interface     string        `yaml:"interface"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	EnrichTimeout time.Duration `yaml:"enrich_timeout"`
	PoolSeed      uint64        `yaml:"pool_seed"`
}

type Enrich struct {
	ReverseDNS bool `yaml:"reverse_dns"`
	SNMP       SNMP `yaml:"snmp"`
}

type SNMP struct {
	Enabled   bool          `yaml:"enabled"`
	Community string        `yaml:"community"`
	Version   string        `yaml:"version"`
	Port      uint16        `yaml:"port"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPAddr: ":8081",
		LogLevel: "info",
		DNS: DNS{
			Enabled:           true,
			Addr:              ":53",
			DomainSuffix:      ".local",
			TTL:               300,
			MaxEntries:        100,
			MaxSuffixAttempts: 99,
		},
		MDNS: MDNS{Enabled: true},
		Joins: Joins{
			ARPTablePath:  "/proc/net/arp",
			PollInterval:  2 * time.Second,
			EnrichTimeout: 300 * time.Millisecond,
			PoolSeed:      1,
		},
		Enrich: Enrich{ReverseDNS: true},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides via getenv and validates the result.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("HTTP_ADDR", &cfg.HTTPAddr)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("DNS_ADDR", &cfg.DNS.Addr)
	setString("DNS_UPSTREAM", &cfg.DNS.Upstream)
	setString("DNS_DOMAIN_SUFFIX", &cfg.DNS.DomainSuffix)
	setString("STATIC_MAPPINGS", &cfg.StaticMappings)
	setString("ARP_TABLE_PATH", &cfg.Joins.ARPTablePath)
	setString("AP_INTERFACE", &cfg.Joins.Interface)
	setString("MDNS_INTERFACE", &cfg.MDNS.Interface)
	setString("SNMP_COMMUNITY", &cfg.Enrich.SNMP.Community)

	if v := strings.TrimSpace(getenv("DNS_TTL")); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: DNS_TTL: %v", ErrInvalidConfig, err)
		}
		cfg.DNS.TTL = uint32(n)
	}
	if v := strings.TrimSpace(getenv("JOIN_POLL_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: JOIN_POLL_INTERVAL: %v", ErrInvalidConfig, err)
		}
		cfg.Joins.PollInterval = d
	}
	for key, dst := range map[string]*bool{
		"DNS_ENABLED":  &cfg.DNS.Enabled,
		"MDNS_ENABLED": &cfg.MDNS.Enabled,
		"RDNS_ENABLED": &cfg.Enrich.ReverseDNS,
		"SNMP_ENABLED": &cfg.Enrich.SNMP.Enabled,
	} {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		*dst = b
	}
	return nil
}

// ParseLogLevel accepts zerolog level names plus "warning". Empty means info.
func ParseLogLevel(level string) (zerolog.Level, error) {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		lvl, err := zerolog.ParseLevel(l)
		if err != nil || lvl == zerolog.NoLevel {
			return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
		}
		return lvl, nil
	}
}

// Level is the parsed log_level, info when it does not parse.
func (c Config) Level() zerolog.Level {
	lvl, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks the log level and the DNS settings the stores and responder
// rely on.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.DNS.DomainSuffix == "" {
		errs = append(errs, errors.New("dns.domain_suffix must not be empty"))
	} else if !strings.HasPrefix(c.DNS.DomainSuffix, ".") {
		errs = append(errs, fmt.Errorf("dns.domain_suffix %q must start with '.'", c.DNS.DomainSuffix))
	}
	if c.DNS.TTL == 0 {
		errs = append(errs, errors.New("dns.ttl must be greater than 0"))
	}
	if c.DNS.MaxEntries <= 0 {
		errs = append(errs, errors.New("dns.max_entries must be greater than 0"))
	}
	if c.DNS.MaxSuffixAttempts <= 0 {
		errs = append(errs, errors.New("dns.max_suffix_attempts must be greater than 0"))
	}
	if c.Joins.PollInterval <= 0 {
		errs = append(errs, errors.New("joins.poll_interval must be greater than 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
