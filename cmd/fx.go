package cmd

import (
	"github.com/g3ti/rtcc-stream/config"
	"github.com/g3ti/rtcc-stream/internal/service"
	"github.com/g3ti/rtcc-stream/internal/synthetic"
	"go.uber.org/fx"
)

// NewApp wires the live event console: transport client, synthetic fallback,
// orchestrator, event bus, and the termui front end.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideStateStore,
			ProvideGenerator,
			fx.Annotate(
				ProvideSyntheticManager,
				fx.As(new(synthetic.Streamer)),
			),
			fx.Annotate(
				ProvideTransport,
				fx.As(new(service.Transport)),
			),
			ProvideDispatcher,
			ProvideFailsafeGuard,
			ProvideSnapshotClient,
		),
		service.Module,
		// Tracing is global setup, not a graph dependency: invoke eagerly.
		fx.Invoke(setupTracing),
		fx.Invoke(runConsole),
	)
}

// NewSimApp wires the simulator stream server.
func NewSimApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideGenerator,
			ProvideSimServer,
		),
		fx.Invoke(runSim),
	)
}
