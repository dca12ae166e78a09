package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jmcleod/patientportal/clinic"
	"github.com/jmcleod/patientportal/session"
	bboltstorage "github.com/jmcleod/patientportal/storage/bbolt"
)

// app wires the persisted session for one command invocation.
type app struct {
	repo   *bboltstorage.Store
	store  *session.TokenStore
	client *clinic.Client
	ctrl   *session.Controller
}

// openApp opens the session database and restores the stored session.
func openApp(ctx context.Context, monitor bool) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	key, err := session.LoadOrCreateSealingKey(cfg.DeviceKeyPath())
	if err != nil {
		return nil, err
	}
	repo, err := bboltstorage.NewRepositoryFromFile(cfg.SessionDBPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("opening session storage: %w", err)
	}
	store := session.NewTokenStore(repo,
		session.WithSealingKey(key),
		session.WithStoreLogger(logger))

	client, err := clinic.New(cfg.API.BaseURL,
		clinic.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		clinic.WithTokenSource(store),
		clinic.WithLogger(logger),
		clinic.WithRefreshCooldown(cfg.Session.RefreshCooldown),
		clinic.WithMaxRefreshAttempts(cfg.Session.MaxRefreshAttempts),
		clinic.WithLogoutTimeout(cfg.Session.LogoutTimeout))
	if err != nil {
		store.Close()
		repo.Close()
		return nil, err
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithInactivityTimeout(cfg.Session.InactivityTimeout),
		session.WithCheckInterval(cfg.Session.CheckInterval),
	}
	if !monitor {
		opts = append(opts, session.WithoutMonitor())
	}
	a := &app{repo: repo, store: store, client: client, ctrl: session.New(client, store, opts...)}

	// Discarded sessions are reported through ctrl.Err.
	_ = a.ctrl.Init(ctx)
	return a, nil
}

func (a *app) Close() {
	a.ctrl.Dispose()
	a.store.Close()
	if err := a.repo.Close(); err != nil {
		logger.Warn("closing session storage failed", "error", err)
	}
}
