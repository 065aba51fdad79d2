// Command objtalkd runs the objtalk broker, serving it over TCP,
// WebSocket and HTTP according to process configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/objtalk/objtalk/broker"
	"github.com/objtalk/objtalk/config"
	"github.com/objtalk/objtalk/pkg/logger"
	"github.com/objtalk/objtalk/store"
	httptransport "github.com/objtalk/objtalk/transport/http"
	"github.com/objtalk/objtalk/transport/tcp"
	"github.com/objtalk/objtalk/transport/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "objtalkd:", err)
		return 1
	}

	log := logger.NewSlogLogger(logLevel(cfg.LogLevel), os.Stdout)

	backend, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open storage backend", "err", err)
		return 1
	}
	defer backend.Close()

	b := broker.New(backend, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		log.Error("failed to start broker", "err", err)
		return 1
	}
	defer b.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	startTransport := func(name string, serve func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serve(ctx); err != nil {
				log.Error("transport exited with an error", "transport", name, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	if cfg.TCPAddr != "" {
		startTransport("tcp", tcp.NewServer(cfg.TCPAddr, b, log, cfg.OutboxSize).Serve)
	}
	if cfg.WSAddr != "" {
		startTransport("ws", ws.NewServer(cfg.WSAddr, b, log, cfg.OutboxSize).Serve)
	}
	if cfg.HTTPAddr != "" {
		startTransport("http", httptransport.NewServer(cfg.HTTPAddr, b, log, cfg.OutboxSize).Serve)
	}

	if d := cfg.StatsDuration(); d > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publishStats(ctx, b, d)
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	select {
	case <-errCh:
		return 1
	default:
		return 0
	}
}

// publishStats emits a $sys/stats snapshot on a fixed interval until ctx
// is canceled.
func publishStats(ctx context.Context, b *broker.Broker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.PublishStats()
		case <-ctx.Done():
			return
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StorageBackend {
	case "sqlite":
		return store.OpenSQLite(store.SQLiteConfig{Path: cfg.SQLitePath, BusyTimeout: 5 * time.Second})
	default:
		return store.NewMemory(), nil
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
