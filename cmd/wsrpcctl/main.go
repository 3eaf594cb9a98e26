// wsrpcctl is an interactive shell that keeps a set of peers connected through a
// manager.Manager and lets the operator send calls to them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertbit/grumble"
	"github.com/lightforgemedia/go-wsrpc/internal/config"
	"github.com/lightforgemedia/go-wsrpc/pkg/client"
	"github.com/lightforgemedia/go-wsrpc/pkg/envelope"
	"github.com/lightforgemedia/go-wsrpc/pkg/manager"
	"github.com/lightforgemedia/go-wsrpc/pkg/reportsink"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mgr     *manager.Manager
	sink    *reportsink.Sink
	watcher *config.Watcher

	cfgMu   sync.Mutex
	current *config.Config

	requestTimeout time.Duration

	stopWatch context.CancelFunc
)

func main() {
	configureLogging()

	app := setupCLI()
	AddCommands(app)

	if err := app.Run(); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

// configureLogging sets up zerolog for operator output.
func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// libraryLogger is the slog logger handed to the manager and its clients.
func libraryLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func setupCLI() *grumble.App {
	var histFile string
	home, err := os.UserHomeDir()
	if err != nil {
		histFile = ".wsrpcctl"
	} else {
		histFile = filepath.Join(home, ".wsrpcctl")
	}

	app := grumble.New(&grumble.Config{
		Name:        "wsrpcctl",
		Description: "drive WebSocket RPC peers from a shell",
		HistoryFile: histFile,
		Flags: func(f *grumble.Flags) {
			f.String("c", "config", config.DefaultPath, "path to configuration file")
			f.Bool("v", "verbose", false, "log client internals to stderr")
			f.Bool("w", "watch", true, "reload the configuration file when it changes")
		},
	})

	app.OnInit(func(a *grumble.App, flags grumble.FlagMap) error {
		path := flags.String("config")
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		logger := libraryLogger(flags.Bool("verbose"))
		requestTimeout = time.Duration(cfg.RequestTimeout)
		mgr = manager.New(
			manager.WithLogger(logger),
			manager.WithClientOptions(
				client.WithConnectTimeout(time.Duration(cfg.ConnectTimeout)),
				client.WithDefaultRequestTimeout(requestTimeout),
			),
		)

		if cfg.NATS != nil {
			sink, err = reportsink.New(reportsink.Options{
				URL:     cfg.NATS.URL,
				Subject: cfg.NATS.Subject,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			log.Info().Str("url", cfg.NATS.URL).Str("subject", sink.Subject("<id>")).Msg("Forwarding reports to NATS")
		}

		var watchCtx context.Context
		watchCtx, stopWatch = context.WithCancel(context.Background())
		go printStatus(mgr.Watch(watchCtx))

		applyConfig(cfg)

		if flags.Bool("watch") {
			watcher, err = config.Watch(path, applyConfig, config.WithWatchLogger(logger))
			if err != nil {
				log.Warn().Err(err).Msg("Config file will not be reloaded")
			}
		}
		return nil
	})

	app.OnClose(func() error {
		if watcher != nil {
			_ = watcher.Stop()
		}
		if stopWatch != nil {
			stopWatch()
		}
		if mgr != nil {
			mgr.Close()
		}
		if sink != nil {
			return sink.Close()
		}
		return nil
	})

	return app
}

// applyConfig brings the manager in line with cfg: vanished ids are removed, new ids
// added and ids whose URL changed are re-added. Ids that fail to connect are left out
// of the recorded config so the next reload tries them again.
func applyConfig(cfg *config.Config) {
	cfgMu.Lock()
	defer cfgMu.Unlock()

	ch := config.Diff(current, cfg)
	if ch.Empty() {
		current = cfg
		return
	}
	for _, cl := range ch.Removed {
		mgr.RemoveClient(cl.ID)
		log.Info().Str("client", cl.ID).Msg("Removed")
	}
	var failed []string
	for _, cl := range ch.Changed {
		mgr.RemoveClient(cl.ID)
		if err := addClient(cl.ID, cl.URL); err != nil {
			failed = append(failed, cl.ID)
		}
	}
	for _, cl := range ch.Added {
		if err := addClient(cl.ID, cl.URL); err != nil {
			failed = append(failed, cl.ID)
		}
	}
	current = cfg.Without(failed...)
}

func addClient(id, url string) error {
	var h client.MessageHandler = envelope.NewHandler(reportPrinter(id))
	if sink != nil {
		h = sink.Wrap(id, h)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.AddClient(ctx, id, url, h, nil); err != nil {
		log.Error().Err(err).Str("client", id).Str("url", url).Msg("Failed to add client")
		return err
	}
	log.Info().Str("client", id).Str("url", url).Msg("Connected")
	return nil
}

func reportPrinter(id string) func(*envelope.Envelope) error {
	return func(env *envelope.Envelope) error {
		ev := log.Info().Str("client", id).Int("method", env.Method).Str("type", env.MessageType)
		if len(env.Data) > 0 {
			ev = ev.RawJSON("data", env.Data)
		}
		ev.Msg("Report")
		return nil
	}
}

func printStatus(events <-chan manager.StatusEvent) {
	for ev := range events {
		e := log.Info()
		if ev.State == client.StateError {
			e = log.Warn().Str("reason", ev.Err)
		}
		e.Str("client", ev.ClientID).Str("state", ev.State.String()).Msg("Status")
	}
}
