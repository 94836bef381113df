package cmd

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/anomaly"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/provider"
	"github.com/good-yellow-bee/blazealert/internal/silence"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *Config
	logger    zerolog.Logger
	masterKey []byte
	store     *storage.SQLiteStorage
	provider  provider.AlertProvider
	silences  *silence.Service
	notifier  *notifier.Notifier
	engine    *alerting.Engine
}

// setupLogger builds the process logger; --verbose forces debug level.
func setupLogger(cfg *Config) zerolog.Logger {
	logCfg := cfg.Log
	if verbose {
		logCfg.Level = "debug"
	}
	return logging.Global(logCfg)
}

// openStore loads the config and opens the migrated database.
func openStore() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg)

	key, err := masterKey()
	if err != nil {
		return nil, err
	}

	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path, key)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug().Str("path", cfg.Database.Path).Msg("database initialized")

	a := &app{
		cfg:       cfg,
		logger:    logger,
		masterKey: key,
		store:     store,
	}
	a.silences = silence.NewService([]byte(cfg.Silence.Secret), store.Alerts(),
		silence.WithTTL(cfg.Silence.TokenTTL),
		silence.WithDuration(cfg.Silence.Duration),
		silence.WithBaseURL(cfg.HTTP.PublicURL),
	)
	return a, nil
}

// newApp opens storage and wires the provider, notifier and engine.
func newApp(ctx context.Context) (*app, error) {
	a, err := openStore()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	if cfg.Definitions != "" {
		if err := a.applyDefinitions(ctx, cfg.Definitions); err != nil {
			a.Close()
			return nil, err
		}
	}

	factory := telemetry.NewClickHouseFactory(telemetry.ClickHouseConfig{
		MaxOpenConns: cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns: cfg.ClickHouse.MaxIdleConns,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		Compression:  cfg.ClickHouse.Compression,
	})

	p, err := provider.Load(cfg.Provider, provider.Deps{
		Storage:     a.store,
		Telemetry:   factory,
		FrontendURL: cfg.FrontendURL,
		Logger:      a.logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if err := p.Init(ctx); err != nil {
		p.Close()
		a.Close()
		return nil, fmt.Errorf("init provider: %w", err)
	}
	a.provider = p

	blocked, err := blockedHosts(ctx, a.store, cfg.Notifier.BlockedHosts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.notifier = notifier.New(p, notifier.Config{
		RateLimit:    cfg.Notifier.RateLimit,
		BlockedHosts: blocked,
		Timeout:      cfg.Notifier.Timeout,
		SilenceLinks: a.silences,
		Logger:       a.logger,
	})

	var scorer anomaly.Scorer = anomaly.NewLocal()
	if cfg.Anomaly.Scorer == "http" {
		scorer = anomaly.NewHTTPScorer(cfg.Anomaly.URL, cfg.Anomaly.Timeout)
	}

	a.engine = alerting.NewEngine(p, scorer, a.notifier, alerting.Options{
		Concurrency:   cfg.Engine.Concurrency,
		SourceTimeout: cfg.Engine.SourceTimeout,
		Logger:        a.logger,
	})
	return a, nil
}

func (a *app) applyDefinitions(ctx context.Context, path string) error {
	defs, err := alerting.LoadDefinitionsFromFile(path, a.masterKey)
	if err != nil {
		return err
	}
	result, err := alerting.Apply(ctx, a.store, defs)
	if err != nil {
		return fmt.Errorf("apply definitions: %w", err)
	}
	a.logger.Info().
		Str("file", path).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Msg("definitions applied")
	return nil
}

// Close releases the provider and the database.
func (a *app) Close() {
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close provider")
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// blockedHosts merges configured hosts with every telemetry connection host
// so webhooks cannot be pointed back at the databases.
func blockedHosts(ctx context.Context, store storage.Storage, configured []string) ([]string, error) {
	hosts := append([]string(nil), configured...)

	alerts, err := store.Alerts().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	seen := make(map[string]bool)
	for _, alert := range alerts {
		if seen[alert.TeamID] {
			continue
		}
		seen[alert.TeamID] = true

		conns, err := store.Connections().ListByTeam(ctx, alert.TeamID)
		if err != nil {
			return nil, fmt.Errorf("list connections for team %s: %w", alert.TeamID, err)
		}
		for _, conn := range conns {
			if h := hostname(conn.Host); h != "" {
				hosts = append(hosts, h)
			}
		}
	}
	return hosts, nil
}

// hostname extracts the host part of "http://h:8123", "h:9000" or "h".
func hostname(addr string) string {
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}
