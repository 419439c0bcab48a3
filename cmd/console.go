package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/g3ti/rtcc-stream/infra/client"
	"github.com/g3ti/rtcc-stream/internal/adapter/pubsub"
	"github.com/g3ti/rtcc-stream/internal/domain/model"
	"github.com/g3ti/rtcc-stream/internal/reachability"
	"github.com/g3ti/rtcc-stream/internal/service"
	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"go.uber.org/fx"
)

const feedDepth = 200

func runConsole(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	stream service.EventStream,
	bus pubsub.Dispatcher,
	store reachability.Store,
	snapshots *client.SnapshotClient,
	logger *slog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := stream.Connect(startCtx); err != nil {
				// Non-fatal: the transport keeps retrying and the synthetic
				// fallback takes over if it gives up.
				logger.Warn("initial connect failed, recovery in progress", "err", err)
			}

			backfill, demo := snapshots.Recent(startCtx)
			logger.Info("feed backfill loaded", "events", len(backfill), "synthetic", demo)

			go consoleLoop(ctx, stream, bus, store, backfill, logger, shutdowner)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			stream.Close()
			return nil
		},
	})
}

func consoleLoop(
	ctx context.Context,
	stream service.EventStream,
	bus pubsub.Dispatcher,
	store reachability.Store,
	backfill []model.Event,
	logger *slog.Logger,
	shutdowner fx.Shutdowner,
) {
	if err := ui.Init(); err != nil {
		logger.Error("console init failed", "err", err)
		_ = shutdowner.Shutdown()
		return
	}
	defer ui.Close()

	feed := widgets.NewList()
	feed.Title = "Live Events"
	feed.Rows = []string{}
	// Snapshot arrives oldest first; the feed shows newest on top.
	for _, ev := range backfill {
		feed.Rows = append([]string{formatEvent(ev)}, feed.Rows...)
	}

	status := widgets.NewParagraph()
	status.Title = "Source"

	render := func() {
		w, h := ui.TerminalDimensions()
		status.SetRect(0, 0, w, 3)
		feed.SetRect(0, 3, w, h)
		status.Text = sourceLine(stream, store)
		ui.Render(status, feed)
	}
	render()

	msgs, err := bus.Events(ctx)
	if err != nil {
		logger.Error("console bus subscribe failed", "err", err)
		_ = shutdowner.Shutdown()
		return
	}

	uiEvents := ui.PollEvents()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				_ = shutdowner.Shutdown()
				return
			case "<Resize>":
				render()
			}

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev model.Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				feed.Rows = append([]string{formatEvent(ev)}, feed.Rows...)
				if len(feed.Rows) > feedDepth {
					feed.Rows = feed.Rows[:feedDepth]
				}
			}
			msg.Ack()
			render()

		case <-ticker.C:
			render()
		}
	}
}

func sourceLine(stream service.EventStream, store reachability.Store) string {
	if stream.Fallback() || store.DemoMode() {
		return "[SYNTHETIC](fg:yellow) backend unavailable, showing generated data (q to quit)"
	}
	if !store.Available() {
		return "[DEGRADED](fg:red) backend unreachable (q to quit)"
	}
	return "[LIVE](fg:green) connected to backend (q to quit)"
}

func formatEvent(ev model.Event) string {
	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Kind {
	case model.KindLocationHit:
		return fmt.Sprintf("%s  LPR hit %s plate %s (%.0f%%)", ts, ev.Source, ev.Plate, ev.Confidence)
	case model.KindAcousticAlert:
		return fmt.Sprintf("%s  acoustic alert %s, %d round(s) (%.0f%%)", ts, ev.Source, ev.Rounds, ev.Confidence)
	case model.KindCaseUpdate:
		return fmt.Sprintf("%s  case %s %s", ts, ev.CaseNumber, ev.Status)
	case model.KindPersonnelStatus:
		return fmt.Sprintf("%s  unit %s %s", ts, ev.Unit, ev.Status)
	default:
		return fmt.Sprintf("%s  %s from %s", ts, ev.Kind, ev.Source)
	}
}
