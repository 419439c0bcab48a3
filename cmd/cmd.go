package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/g3ti/rtcc-stream/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

const (
	ServiceName      = "rtcc-stream"
	ServiceNamespace = "g3ti"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Resilient real-time event stream client for the RTCC dashboard",
		Commands: []*cli.Command{
			consoleCmd(),
			simCmd(),
		},
	}

	return app.Run(os.Args)
}

func consoleCmd() *cli.Command {
	return &cli.Command{
		Name:    "console",
		Aliases: []string{"c"},
		Usage:   "Run the live event console",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return runApp(c.Context, NewApp(cfg))
		},
	}
}

func simCmd() *cli.Command {
	return &cli.Command{
		Name:    "sim",
		Aliases: []string{"s"},
		Usage:   "Run the simulator stream server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return runApp(c.Context, NewSimApp(cfg))
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	fs := config.Flags()
	_ = fs.Parse(os.Args[1:])
	return config.LoadConfig(c.String("config_file"), fs)
}

func runApp(ctx context.Context, app *fx.App) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-app.Done():
	}

	slog.Info("Shutting down...")
	return app.Stop(context.Background())
}
