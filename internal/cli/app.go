package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/livechat/internal/chat"
	"github.com/raphaelgruber/livechat/internal/config"
	"github.com/raphaelgruber/livechat/internal/connection"
	"github.com/raphaelgruber/livechat/internal/db"
	"github.com/raphaelgruber/livechat/internal/metrics"
	"github.com/raphaelgruber/livechat/internal/store"
)

const (
	remoteConnectTimeout = 10 * time.Second
	// connectWait bounds how long a line-based session waits for the
	// connection before giving up on one message.
	connectWait = 30 * time.Second
)

// app holds the components a command works with.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	session *store.Session
	router  *store.Router

	kv       *store.SQLiteKV
	dbClient *db.Client

	conn *connection.Manager
	ctrl *chat.Controller
}

// openApp wires the conversation stores. A remote store that cannot be
// reached is reported and skipped; owner calls then fail per operation.
func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		session: store.NewSession(cfg.Owner),
	}

	var local store.Backend
	if cfg.LocalStore != "" {
		kv, err := store.OpenSQLiteKV(cfg.LocalStore, logger)
		if err != nil {
			return nil, fmt.Errorf("open local store: %w", err)
		}
		a.kv = kv
		local = store.NewLocal(kv)
	}

	var remote store.Backend
	if !a.session.Identity().Anonymous() {
		client, err := connectRemote(ctx, cfg, logger)
		if err != nil {
			logger.Warn("remote history unavailable", "error", err)
		} else {
			a.dbClient = client
			remote = store.NewRemote(client)
		}
	}

	a.router = store.NewRouter(store.Options{
		Identity: a.session,
		Local:    local,
		Remote:   remote,
		Metrics:  a.metrics,
	}, logger)
	return a, nil
}

func connectRemote(ctx context.Context, cfg config.Config, logger *slog.Logger) (*db.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, remoteConnectTimeout)
	defer cancel()

	client, err := db.NewClient(ctx, cfg.DB(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := client.InitSchema(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return client, nil
}

// startChat creates the connection and controller and begins connecting.
func (a *app) startChat() *chat.Controller {
	a.conn = connection.New(connection.Options{
		URL:              a.cfg.ServerURL,
		ReconnectDelay:   a.cfg.ReconnectDelay,
		HandshakeTimeout: a.cfg.HandshakeTimeout,
		ConfirmTimeout:   a.cfg.ConfirmTimeout,
		Metrics:          a.metrics,
	}, a.logger)
	a.ctrl = chat.New(chat.Options{
		Conn:    a.conn,
		Store:   a.router,
		Metrics: a.metrics,
	}, a.logger)
	a.ctrl.Start()
	return a.ctrl
}

// waitConnected blocks until the controller reports a confirmed connection.
func (a *app) waitConnected(ctx context.Context) error {
	if err := awaitConnected(ctx, a.ctrl); err != nil {
		return fmt.Errorf("connect to %s: %w", a.cfg.ServerURL, err)
	}
	return nil
}

func awaitConnected(ctx context.Context, ctrl *chat.Controller) error {
	connected := make(chan struct{}, 1)
	unsubscribe := ctrl.Subscribe(func(ev chat.Event) {
		if ev.Kind == chat.EventConnection && ev.Snapshot.Connection == connection.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if ctrl.Snapshot().Connection == connection.Connected {
		return nil
	}
	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the controller, draining pending writes, then releases stores.
func (a *app) Close() error {
	if a.ctrl != nil {
		a.ctrl.Close()
	}

	var errs []error
	if a.dbClient != nil {
		if err := a.dbClient.Close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local store: %w", err))
		}
	}
	return errors.Join(errs...)
}
