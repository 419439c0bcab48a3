package service

import (
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"stream",

	fx.Provide(
		fx.Annotate(
			NewStreamService,
			fx.As(new(EventStream)),
		),
	),

	// [DECORATION_LAYER] Intercept the stream to add cross-cutting concerns
	fx.Decorate(func(orig EventStream, logger *slog.Logger) EventStream {
		return &streamMiddleware{
			next:   orig,
			logger: logger,
		}
	}),
)
