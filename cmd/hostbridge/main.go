package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/syzer/router/internal/config"
	"github.com/syzer/router/internal/db"
	"github.com/syzer/router/internal/dnsserver"
	"github.com/syzer/router/internal/enrichment/rdns"
	"github.com/syzer/router/internal/enrichment/snmp"
	"github.com/syzer/router/internal/httpapi"
	"github.com/syzer/router/internal/joinworker"
	"github.com/syzer/router/internal/macaddr"
	"github.com/syzer/router/internal/mdnsadvert"
	"github.com/syzer/router/internal/metrics"
	"github.com/syzer/router/internal/namepool"
	"github.com/syzer/router/internal/registry"
	"github.com/syzer/router/internal/resolver"
)

func main() {
	cfg, err := config.Load(envOr("HOSTBRIDGE_CONFIG", ""), os.Getenv)
	if err != nil {
		// The logger level comes from config, so fall back to the default one here.
		l := httpapi.NewLogger(os.Stdout, zerolog.InfoLevel)
		l.Fatal().Err(err).Msg("failed to load config")
	}

	logger := httpapi.NewLogger(os.Stdout, cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		if err := p.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		pool = p
	}

	reg := registry.New(logger)
	if pool != nil {
		loadPersistedMappings(ctx, logger, pool, reg)
	}
	if cfg.StaticMappings != "" {
		reg.LoadFromConfig(cfg.StaticMappings)
	}
	m.TrackStaticMappings(reg.Count)

	dnsStore := resolver.NewStore(logger, resolver.Options{
		Name:              "dns",
		DomainSuffix:      cfg.DNS.DomainSuffix,
		MaxSuffixAttempts: cfg.DNS.MaxSuffixAttempts,
		MaxEntries:        cfg.DNS.MaxEntries,
	})
	m.TrackStore(dnsStore.Name(), dnsStore.Count)

	var mdnsStore *resolver.Store
	if cfg.MDNS.Enabled {
		adv, err := mdnsadvert.New(logger, mdnsadvert.Options{
			Service:   cfg.MDNS.Service,
			Interface: cfg.MDNS.Interface,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to set up mdns advertiser")
		}
		defer adv.Close()

		mdnsStore = resolver.NewStore(logger, resolver.Options{
			Name:              "mdns",
			MaxSuffixAttempts: cfg.DNS.MaxSuffixAttempts,
			MaxEntries:        cfg.DNS.MaxEntries,
			RequireInit:       true,
			Hook:              adv,
		})
		mdnsStore.Init()
		// Runs before adv.Close so every responder is withdrawn cleanly.
		defer mdnsStore.Stop()
		m.TrackStore(mdnsStore.Name(), mdnsStore.Count)
	}

	dir := resolver.NewDirectory(logger, dnsStore, mdnsStore)

	if cfg.DNS.Enabled {
		srv := dnsserver.New(logger, dir, dnsserver.Options{
			Addr:         cfg.DNS.Addr,
			DomainSuffix: cfg.DNS.DomainSuffix,
			TTL:          cfg.DNS.TTL,
			Upstream:     cfg.DNS.Upstream,
		}, m)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				logger.Error().Err(err).Msg("dns server stopped")
			}
		}()
	}

	var enrichers []joinworker.Enricher
	if cfg.Enrich.ReverseDNS {
		enrichers = append(enrichers, &rdns.Resolver{})
	}
	if cfg.Enrich.SNMP.Enabled {
		enrichers = append(enrichers, snmp.NewClient(snmp.Config{
			Community: cfg.Enrich.SNMP.Community,
			Version:   cfg.Enrich.SNMP.Version,
			Port:      cfg.Enrich.SNMP.Port,
			Timeout:   cfg.Enrich.SNMP.Timeout,
			Retries:   cfg.Enrich.SNMP.Retries,
		}))
	}

	opts := joinworker.Options{
		PollInterval:  cfg.Joins.PollInterval,
		EnrichTimeout: cfg.Joins.EnrichTimeout,
		ARPTablePath:  cfg.Joins.ARPTablePath,
		Interface:     cfg.Joins.Interface,
		Enrichers:     enrichers,
		Pool:          namepool.New(cfg.Joins.PoolSeed),
	}
	if q := pool.Queries(); q != nil {
		opts.Queries = q
	}
	worker := joinworker.New(logger, reg, dir, opts, m)
	go worker.Run(ctx)

	h := httpapi.NewHandler(logger, httpapi.Deps{
		Registry:  reg,
		Directory: dir,
		Joiner:    worker,
		Metrics:   m,
		Pool:      pool,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("hostbridge listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

// loadPersistedMappings seeds the registry from the database. Config mappings
// are applied afterwards; a config entry whose hostname is already persisted
// for another MAC is skipped.
func loadPersistedMappings(ctx context.Context, logger zerolog.Logger, pool *db.Pool, reg *registry.Registry) {
	rows, err := pool.Queries().ListStaticMappings(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load persisted static mappings")
		return
	}
	for _, row := range rows {
		mac, err := macaddr.Parse(row.MAC)
		if err != nil {
			logger.Warn().Err(err).Str("mac", row.MAC).Msg("skipping persisted mapping")
			continue
		}
		if err := reg.AddMapping(mac, row.Hostname); err != nil {
			logger.Warn().Err(err).Str("mac", row.MAC).Msg("skipping persisted mapping")
		}
	}
	logger.Info().Int("loaded", len(rows)).Msg("static mappings loaded from database")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
