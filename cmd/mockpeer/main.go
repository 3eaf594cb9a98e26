// mockpeer serves the reference peer on /ws. It answers every request with
// {"code":0} and pushes a status report to all connected clients at a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-wsrpc/pkg/envelope"
	"github.com/lightforgemedia/go-wsrpc/pkg/peer"
)

// Method code of the periodic status report.
const methodStatusReport = 6000

func main() {
	addr := flag.String("addr", ":6382", "listen address")
	interval := flag.Duration("report-interval", 5*time.Second, "interval between pushed reports, 0 disables them")
	delay := flag.Duration("delay", 0, "artificial delay before each response")
	silent := flag.Bool("silent", false, "never answer requests")
	flag.Parse()

	logHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				src := a.Value.Any().(*slog.Source)
				a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
			return a
		},
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	responder := peer.EchoResponder
	if *silent {
		responder = peer.SilentResponder
	}
	if *delay > 0 {
		inner := responder
		responder = func(req *envelope.Envelope) (*envelope.Envelope, error) {
			time.Sleep(*delay)
			return inner(req)
		}
	}

	p := peer.New(
		peer.WithLogger(logger),
		peer.WithResponder(responder),
		peer.WithAcceptOptions(&websocket.AcceptOptions{InsecureSkipVerify: true}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *interval > 0 {
		go pushReports(ctx, p, *interval, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", p.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { fmt.Fprintln(w, "OK") })

	httpServer := &http.Server{
		Addr:        *addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("Mock peer starting", "address", *addr+"/ws")
		serverErrChan <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down...", "signal", sig.String())
	}

	cancel()
	p.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Mock peer stopped")
}

func pushReports(ctx context.Context, p *peer.Peer, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			err := p.Push(methodStatusReport, map[string]any{
				"seq":       seq,
				"state":     "idle",
				"timestamp": time.Now().Format(time.RFC3339Nano),
			})
			if err != nil && !errors.Is(err, peer.ErrNoConnections) {
				logger.Error("Failed to push report", "error", err)
			}
		}
	}
}
