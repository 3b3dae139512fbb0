package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/NamanBalaji/rdm/internal/config"
	"github.com/NamanBalaji/rdm/internal/dispatcher"
	"github.com/NamanBalaji/rdm/internal/logger"
	"github.com/NamanBalaji/rdm/internal/repository"
	"github.com/NamanBalaji/rdm/internal/task"
	httpPkg "github.com/NamanBalaji/rdm/pkg/http"
)

const (
	shutdownTimeout = 10 * time.Second
	envKey          = "env"
)

// env is what every command needs once global flags are parsed.
type env struct {
	cfg *config.Config
	out io.Writer
}

func envFrom(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

// NewApp builds the rdm command line application.
func NewApp() *cli.App {
	return &cli.App{
		Name:     "rdm",
		Usage:    "resumable HTTP downloader",
		Metadata: map[string]any{},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Write debug logs to the log file",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   config.Path(),
			},
		},
		Before: before,
		After: func(*cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			getCommand(),
			listCommand(),
			statusCommand(),
			removeCommand(),
			cleanupCommand(),
		},
	}
}

// Run executes the application with the given arguments.
func Run(args []string) error {
	return NewApp().Run(args)
}

func before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitLogging(c.Bool("debug"), cfg.LogPath); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	c.App.Metadata[envKey] = &env{cfg: cfg, out: c.App.Writer}

	return nil
}

func openStore(cfg *config.Config) (*repository.BboltRepository, error) {
	store, err := repository.NewBboltRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress store: %w", err)
	}

	return store, nil
}

func newDispatcher(cfg *config.Config, store dispatcher.Store) *dispatcher.Dispatcher {
	client := httpPkg.NewClient(
		httpPkg.WithConnectTimeout(cfg.Http.ConnectTimeout),
		httpPkg.WithReadTimeout(cfg.Http.ReadTimeout),
		httpPkg.WithUserAgent(cfg.Http.UserAgent),
		httpPkg.WithHeaders(cfg.Http.Headers),
	)

	return dispatcher.New(store, client,
		dispatcher.WithMaxConcurrent(cfg.MaxConcurrentDownloads),
		dispatcher.WithTaskOptions(task.Options{
			BufferSize:   cfg.Transfer.BufferSize,
			SyncMinBytes: cfg.Transfer.SyncMinBytes,
			SyncInterval: cfg.Transfer.SyncInterval,
			MaxRedirects: cfg.Http.MaxRedirects,
		}),
	)
}

func shutdown(d *dispatcher.Dispatcher) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.Shutdown(ctx); err != nil {
		logger.Errorf("Dispatcher shutdown: %v", err)
	}
}

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// parseHeaders turns "Name: value" strings into a header map.
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))

	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)

		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}

		headers[name] = strings.TrimSpace(value)
	}

	return headers, nil
}
