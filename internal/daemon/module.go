package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/zapdesk/zapdesk/internal/agent"
	"github.com/zapdesk/zapdesk/internal/ai"
	"github.com/zapdesk/zapdesk/internal/bus"
	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/lock"
	"github.com/zapdesk/zapdesk/internal/logging"
	"github.com/zapdesk/zapdesk/internal/pipeline"
	"github.com/zapdesk/zapdesk/internal/relay"
	"github.com/zapdesk/zapdesk/internal/session"
	"github.com/zapdesk/zapdesk/internal/store"
	"github.com/zapdesk/zapdesk/internal/wa"
	"github.com/zapdesk/zapdesk/internal/watchdog"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideSessionStore,
			provideStore,
			provideManager,
			provideRouter,
			provideResponder,
			providePipeline,
			provideWatchdog,
			provideRelay,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideSessionStore(p Params, logger *zap.Logger) (*session.Store, error) {
	return session.NewStore(session.Dir(p.SessionName), logger)
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideManager(p Params, sessions *session.Store, db *store.DB, b *bus.Bus, logger *zap.Logger) *wa.Manager {
	return wa.NewManager(sessions, db, b, p.Config.ReconnectDelay(), logger)
}

func provideRouter(db *store.DB, logger *zap.Logger) *agent.Router {
	return agent.NewRouter(db, agent.FirstActive, logger)
}

func provideResponder(p Params, logger *zap.Logger) ai.Responder {
	return ai.NewGemini(p.Config.AI.APIKey, p.Config.AI.Model, logger)
}

func providePipeline(db *store.DB, router *agent.Router, responder ai.Responder, mgr *wa.Manager, b *bus.Bus, logger *zap.Logger) *pipeline.Pipeline {
	return pipeline.New(db, router, responder, mgr, b, logger)
}

func provideWatchdog(p Params, mgr *wa.Manager, logger *zap.Logger) *watchdog.Watchdog {
	return watchdog.New(mgr, p.Config.WatchdogInterval(), logger)
}

// provideRelay returns nil when no broker is configured; the daemon runs
// standalone in that case.
func provideRelay(p Params, b *bus.Bus, logger *zap.Logger) (*relay.Relay, error) {
	if p.Config.Relay.URL == "" {
		return nil, nil
	}
	r, err := relay.New(p.Config.Relay.URL, p.Config.Relay.Exchange, p.SessionName, b, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("activity relay connected",
		zap.String("exchange", p.Config.Relay.Exchange))
	return r, nil
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, mgr *wa.Manager, pipe *pipeline.Pipeline, dog *watchdog.Watchdog, rel *relay.Relay, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The relay must subscribe before any traffic flows.
			if rel != nil {
				rel.Start(context.Background())
			}

			// Pipeline consumes msg.inbound bus events.
			pipe.Start(context.Background())

			// First connection attempt. Failure is not fatal: the
			// watchdog retries on its next tick.
			go func() {
				if err := mgr.Init(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()

			dog.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			dog.Stop()
			mgr.Shutdown()
			pipe.Stop()
			if rel != nil {
				rel.Stop()
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
