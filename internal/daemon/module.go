// Package daemon wires the messaging core together with fx and manages
// the process lifecycle: lock, store, services, API server.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pfraquete/EKKLE-sub009/internal/api"
	"github.com/pfraquete/EKKLE-sub009/internal/bus"
	"github.com/pfraquete/EKKLE-sub009/internal/config"
	"github.com/pfraquete/EKKLE-sub009/internal/conversation"
	"github.com/pfraquete/EKKLE-sub009/internal/lock"
	"github.com/pfraquete/EKKLE-sub009/internal/logging"
	"github.com/pfraquete/EKKLE-sub009/internal/message"
	"github.com/pfraquete/EKKLE-sub009/internal/presence"
	"github.com/pfraquete/EKKLE-sub009/internal/sched"
	"github.com/pfraquete/EKKLE-sub009/internal/store"
	"github.com/pfraquete/EKKLE-sub009/internal/typing"
	"github.com/pfraquete/EKKLE-sub009/internal/unread"
)

// Params carries the process-level inputs to the fx module. SocketPath
// and DataDir override the config when set (used by tests).
type Params struct {
	ConfigPath string
	DataDir    string
	SocketPath string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideTimers,
			provideLock,
			provideStore,
			provideTracker,
			provideTypingCoordinator,
			provideUnreadCounter,
			provideConversationRegistry,
			provideMessageService,
			provideHandlers,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if p.DataDir != "" {
		cfg.DataDir = p.DataDir
	}
	if p.SocketPath != "" {
		cfg.SocketPath = p.SocketPath
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath(), "msgd")
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTimers() *sched.Registry {
	return sched.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
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
	logger.Info("store initialized", zap.String("path", cfg.DBPath()))
	return db, nil
}

func provideTracker(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(db, b, logger, cfg.PresenceStaleness.Std())
}

func provideTypingCoordinator(cfg *config.Config, db *store.DB, b *bus.Bus, timers *sched.Registry, logger *zap.Logger) *typing.Coordinator {
	return typing.NewCoordinator(db, b, timers, logger, cfg.TypingDebounce.Std(), cfg.TypingExpiry.Std())
}

func provideUnreadCounter(db *store.DB, b *bus.Bus, logger *zap.Logger) *unread.Counter {
	return unread.NewCounter(db, b, logger)
}

func provideConversationRegistry(db *store.DB, b *bus.Bus, counter *unread.Counter, logger *zap.Logger) *conversation.Registry {
	return conversation.NewRegistry(db, b, counter, logger)
}

func provideMessageService(cfg *config.Config, db *store.DB, b *bus.Bus, coordinator *typing.Coordinator, logger *zap.Logger) *message.Service {
	return message.NewService(db, b, coordinator, logger, cfg.MessageMaxLength, cfg.MessagePageSize)
}

func provideHandlers(
	db *store.DB,
	b *bus.Bus,
	registry *conversation.Registry,
	messages *message.Service,
	coordinator *typing.Coordinator,
	tracker *presence.Tracker,
	counter *unread.Counter,
	logger *zap.Logger,
) *api.Handlers {
	return api.NewHandlers(db, b, registry, messages, coordinator, tracker, counter, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	counter *unread.Counter,
	coordinator *typing.Coordinator,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			counter.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			counter.Stop()
			coordinator.Shutdown()
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
