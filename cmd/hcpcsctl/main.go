// Command hcpcsctl validates HCPCS codes and maintains the validation cache
// from the command line, using the same configuration as the server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/cdmmerge/cmd/hcpcsctl/commands"
	"github.com/JonMunkholm/cdmmerge/internal/admin"
	"github.com/JonMunkholm/cdmmerge/internal/application"
	"github.com/JonMunkholm/cdmmerge/internal/config"
	"github.com/JonMunkholm/cdmmerge/internal/core"
	"github.com/JonMunkholm/cdmmerge/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Unlike the server, existing env vars win over .env here.
	_ = godotenv.Load()

	cli := commands.New(open)
	if err := cli.Execute(ctx); err != nil {
		_, _ = os.Stderr.WriteString("Error: " + core.FormatUserError(err) + "\n")
		slog.Debug("command failed", "error", err)
		return 1
	}
	return 0
}

// open loads configuration and wires the application. Logs go to stderr so
// stdout stays machine-readable.
func open(ctx context.Context) (*commands.Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &commands.Env{
		Maintenance: &admin.Maintenance{
			Cache:     app.Cache,
			Providers: app.Pool,
			Logger:    logger,
		},
		Validator: app.Orchestrator,
		Close:     app.Close,
	}, nil
}
