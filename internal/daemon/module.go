package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/matheus3301/agora/internal/api"
	"github.com/matheus3301/agora/internal/bus"
	"github.com/matheus3301/agora/internal/config"
	"github.com/matheus3301/agora/internal/conversation"
	"github.com/matheus3301/agora/internal/feed"
	"github.com/matheus3301/agora/internal/instance"
	"github.com/matheus3301/agora/internal/lock"
	"github.com/matheus3301/agora/internal/logging"
	"github.com/matheus3301/agora/internal/metrics"
	"github.com/matheus3301/agora/internal/notify"
	"github.com/matheus3301/agora/internal/readstate"
	"github.com/matheus3301/agora/internal/realtime"
	"github.com/matheus3301/agora/internal/store"
	"github.com/matheus3301/agora/internal/thread"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	SocketPath   string // optional override for testing; empty = use default
	Config       *config.Config
	Debug        bool
}

// Transport carries insert events from the store to subscribers.
type Transport interface {
	realtime.Publisher
	realtime.Source
}

const publishTimeout = 2 * time.Second

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Defaults()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideTransport,
			provideFeed,
			provideTracker,
			provideDispatcher,
			provideConversations,
			provideConversationAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.InstanceName), p.InstanceName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(instance.Dir(p.InstanceName))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never migrate the same file.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := instance.DBPath(p.InstanceName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	state, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if state.Applied {
		logger.Info("migrations applied", zap.Uint("version", state.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", state.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(lc fx.Lifecycle, p Params, b *bus.Bus, logger *zap.Logger) (Transport, error) {
	rc := p.Config.Realtime
	if rc.Transport != config.TransportRedis {
		logger.Info("realtime transport", zap.String("transport", config.TransportBus))
		return realtime.NewBusTransport(b, p.Config.Feed.Buffer, logger), nil
	}

	rt, err := realtime.NewRedisTransport(rc.RedisURL, rc.ChannelPrefix, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := rt.Ping(ctx); err != nil {
				return err
			}
			logger.Info("realtime transport", zap.String("transport", config.TransportRedis))
			return nil
		},
		OnStop: func(context.Context) error {
			return rt.Close()
		},
	})
	return rt, nil
}

func provideFeed(p Params, tr Transport, db *store.DB, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *feed.Feed {
	return feed.New(tr, db, b, logger.Named("feed"), m, feed.Options{
		InitialBackoff: p.Config.Feed.BackoffInitial.Duration,
		MaxBackoff:     p.Config.Feed.BackoffMax.Duration,
		ResyncInterval: p.Config.Feed.ResyncInterval.Duration,
	})
}

func provideTracker(db *store.DB, logger *zap.Logger, m *metrics.Metrics) *readstate.Tracker {
	return readstate.New(db, logger.Named("readstate"), m)
}

func provideDispatcher(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *notify.Dispatcher {
	return notify.New(db, b, logger.Named("notify"), m, p.Config.Notify.Timeout.Duration)
}

func provideConversations(db *store.DB, f *feed.Feed, tracker *readstate.Tracker, d *notify.Dispatcher, logger *zap.Logger, m *metrics.Metrics) *conversation.Service {
	return conversation.NewService(db, f, tracker, d, logger.Named("conversation"), m)
}

func provideConversationAPI(svc *conversation.Service, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(svc, db, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, lk *lock.Lock, db *store.DB, tr Transport, f *feed.Feed, m *metrics.Metrics, logger *zap.Logger) {
	var metricsSrv *http.Server

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The store's insert hooks are the changefeed for every subscriber.
			db.OnInsert(func(r thread.Record) {
				ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
				defer cancel()
				if err := tr.Publish(ctx, r); err != nil {
					logger.Warn("failed to publish insert, resyncing local subscribers",
						zap.String("id", r.RecordID()), zap.Error(err))
					f.Resync(r.ConversationKey())
				}
			})

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if addr := p.Config.Metrics.Listen; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
				logger.Info("metrics listening", zap.String("addr", addr))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
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
