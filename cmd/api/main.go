package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexlink/pairbroker/internal/config"
	"github.com/nexlink/pairbroker/internal/handler"
	"github.com/nexlink/pairbroker/internal/service/pairing"
	"github.com/nexlink/pairbroker/internal/service/pairing/wsadapter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := pairing.NewStore(cfg.Broker.DataDir)
	if err != nil {
		log.Fatalf("failed to prepare credential scratch area: %v", err)
	}

	manager := pairing.NewManager(pairing.Config{
		MaxSessionAge:             cfg.Broker.MaxSessionAge,
		SweepInterval:             cfg.Broker.SweepInterval,
		AdapterSettleDelay:        cfg.Broker.AdapterSettleDelay,
		CodeWaitWindow:            cfg.Broker.CodeWaitWindow,
		PostConnectTeardownDelay:  cfg.Broker.PostConnectTeardownDelay,
		PostRetrievalCleanupDelay: cfg.Broker.PostRetrievalCleanupDelay,
	}, store, wsadapter.Factory(wsadapter.DefaultOptions(cfg.Gateway.URL)))

	go manager.Run(ctx)

	router := handler.NewRouter(manager)

	startServer(ctx, cfg.Server, router)

	// Drain whatever is still live so no credential material survives
	// the process on disk.
	manager.DrainAll()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("pairbroker listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
