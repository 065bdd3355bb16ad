package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/panyam/courtside"
	"github.com/panyam/courtside/gateways/local"
	"github.com/panyam/courtside/gateways/remote"
	"github.com/panyam/courtside/internal/config"
	"github.com/panyam/courtside/internal/logging"
	"github.com/panyam/courtside/stores/fs"
	gormstore "github.com/panyam/courtside/stores/gorm"
)

// app is what every command runs against: a started provider plus the
// resources backing its gateway
type app struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *courtside.Metrics
	provider *courtside.Provider
	closers  []io.Closer
}

func newApp(cfg *config.Config, logOut io.Writer) (*app, error) {
	a := &app{
		config:   cfg,
		logger:   logging.New(cfg.LogLevel, cfg.LogFormat, logOut),
		registry: prometheus.NewRegistry(),
	}
	a.metrics = courtside.NewMetrics(a.registry)

	gateway, err := a.gateway()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.provider = courtside.NewProvider(gateway,
		courtside.WithLookupTimeout(cfg.InitTimeout),
		courtside.WithFallbackTimeout(cfg.FallbackTimeout),
		courtside.WithLogger(a.logger),
		courtside.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) dataDir() (string, error) {
	dir := a.config.DataDir
	if dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not determine config directory: %w", err)
		}
		dir = filepath.Join(configDir, "courtside")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

func (a *app) gateway() (courtside.Gateway, error) {
	if a.config.Gateway == config.GatewayNone {
		return courtside.NullGateway{}, nil
	}

	dir, err := a.dataDir()
	if err != nil {
		return nil, err
	}
	sessions, err := fs.NewSessionStore(filepath.Join(dir, "sessions.json"))
	if err != nil {
		return nil, err
	}

	if a.config.Gateway == config.GatewayRemote {
		gw, err := remote.New(a.config.BackendURL, sessions,
			remote.WithClientID(a.config.ClientID),
			remote.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		return gw, nil
	}

	db, err := gormstore.Open(filepath.Join(dir, "courtside.db"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)
	return local.New(db, db, sessions, local.WithLogger(a.logger)), nil
}

// start begins session resolution and waits for it to finish
func (a *app) start(ctx context.Context) (courtside.SessionView, error) {
	a.provider.Start(ctx)
	waitCtx, cancel := context.WithTimeout(ctx, a.config.FallbackTimeout+a.config.InitTimeout)
	defer cancel()
	return a.provider.WaitResolved(waitCtx)
}

// settle waits until the session satisfies pred, e.g. after a sign-in event
func (a *app) settle(ctx context.Context, pred func(*courtside.SessionState) bool) (courtside.SessionView, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.config.FallbackTimeout+a.config.InitTimeout)
	defer cancel()
	state, err := a.provider.Cell().WaitFor(waitCtx, func(s *courtside.SessionState) bool {
		return !s.IsLoading() && pred(s)
	})
	return courtside.ViewOf(state), err
}

func (a *app) Close() error {
	if a.provider != nil {
		a.provider.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("error closing resource", "error", err)
		}
	}
	return nil
}
