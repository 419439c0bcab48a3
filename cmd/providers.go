package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/g3ti/rtcc-stream/config"
	"github.com/g3ti/rtcc-stream/infra/client"
	"github.com/g3ti/rtcc-stream/infra/server/sim"
	"github.com/g3ti/rtcc-stream/internal/adapter/pubsub"
	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/g3ti/rtcc-stream/internal/failsafe"
	"github.com/g3ti/rtcc-stream/internal/reachability"
	"github.com/g3ti/rtcc-stream/internal/synthetic"
	"github.com/g3ti/rtcc-stream/internal/transport/ws"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

func ProvideLogger(cfg *config.Config) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	if err := setLevel(level, cfg.Log.Level); err != nil {
		return nil, err
	}

	var logger *slog.Logger
	if cfg.Log.Otel {
		exporter, err := stdoutlog.New()
		if err != nil {
			return nil, err
		}
		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		)
		logger = otelslog.NewLogger(ServiceName, otelslog.WithLoggerProvider(provider))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	// The level follows config file edits without a restart.
	config.OnReload(func(fresh *config.Config) {
		if err := setLevel(level, fresh.Log.Level); err != nil {
			logger.Warn("log level unchanged on reload", "level", fresh.Log.Level, "err", err)
		}
	})

	slog.SetDefault(logger)
	return logger, nil
}

// setLevel parses and applies a level name; an invalid name leaves the
// current level untouched.
func setLevel(v *slog.LevelVar, name string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	v.Set(level)
	return nil
}

func setupTracing(lc fx.Lifecycle) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

func ProvideStateStore(cfg *config.Config, logger *slog.Logger) (reachability.Store, error) {
	store, err := reachability.NewFileStore(cfg.State.Path)
	if err != nil {
		return nil, err
	}
	if cfg.State.DemoMode {
		store.SetDemoMode(true)
	}
	logger.Info("state store ready", "path", cfg.State.Path, "demo_mode", store.DemoMode())
	return store, nil
}

func ProvideGenerator(cfg *config.Config) *synthetic.Generator {
	return synthetic.NewGenerator(
		synthetic.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()))),
		synthetic.WithCenter(model.Location{
			Latitude:  cfg.Synthetic.CenterLat,
			Longitude: cfg.Synthetic.CenterLon,
		}, cfg.Synthetic.JitterDeg),
	)
}

func ProvideSyntheticManager(cfg *config.Config, gen *synthetic.Generator, logger *slog.Logger) *synthetic.Manager {
	return synthetic.NewManager(gen, logger, cfg.Synthetic.MinInterval, cfg.Synthetic.MaxInterval)
}

func ProvideTransport(cfg *config.Config, store reachability.Store, logger *slog.Logger) *ws.Client {
	return ws.NewClient(ws.Options{
		URL:               cfg.Stream.URL,
		Token:             cfg.Stream.Token,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		ConnectTimeout:    cfg.Stream.ConnectTimeout,
		ReconnectBase:     cfg.Stream.ReconnectBase,
		MaxAttempts:       cfg.Stream.MaxAttempts,
		MaxPongMisses:     cfg.Stream.MaxPongMisses,
	}, store, logger)
}

func ProvideDispatcher(lc fx.Lifecycle, wmLogger watermill.LoggerAdapter) pubsub.Dispatcher {
	d := pubsub.NewEventDispatcher(wmLogger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return d.Close()
		},
	})
	return d
}

func ProvideFailsafeGuard(cfg *config.Config, store reachability.Store, logger *slog.Logger) *failsafe.Guard {
	return failsafe.NewGuard(store, logger, cfg.Failsafe.Timeout)
}

func ProvideSnapshotClient(cfg *config.Config, guard *failsafe.Guard, gen *synthetic.Generator, logger *slog.Logger) (*client.SnapshotClient, error) {
	return client.NewSnapshotClient(cfg.Stream.URL, cfg.Stream.Token, guard, gen, logger)
}

func ProvideSimServer(cfg *config.Config, gen *synthetic.Generator, logger *slog.Logger) *sim.Server {
	return sim.NewServer(gen, logger, sim.Options{
		Token:         cfg.Stream.Token,
		EventInterval: cfg.Sim.EventInterval,
	})
}

func runSim(lc fx.Lifecycle, cfg *config.Config, srv *sim.Server, logger *slog.Logger) {
	httpSrv := &http.Server{
		Addr:    cfg.Sim.Addr,
		Handler: srv.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start()
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("simulator http server failed", "err", err)
				}
			}()
			logger.Info("simulator listening", "addr", cfg.Sim.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop()
			return httpSrv.Shutdown(ctx)
		},
	})
}
