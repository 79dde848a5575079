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

	"github.com/mlevan/parley/internal/broker"
	"github.com/mlevan/parley/internal/config"
	"github.com/mlevan/parley/internal/handler"
	"github.com/mlevan/parley/internal/service/history"
	"github.com/mlevan/parley/internal/service/reply"
	"github.com/mlevan/parley/internal/service/session"
	"github.com/mlevan/parley/internal/service/typing"
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

	sessions := session.NewService()
	hist := history.NewService(cfg.Relay.HistoryLimit)
	tracker := typing.NewTracker(cfg.Relay.TypingTTL)

	oracle := buildOracle(ctx, cfg.AI)
	b := broker.New(sessions, hist, tracker, oracle)

	router := handler.NewRouter(b, sessions, cfg)

	startServer(ctx, cfg.Server, router)
}

// buildOracle prefers the Ark-backed oracle when credentials are configured
// and keeps the canned responder as runtime fallback either way.
func buildOracle(ctx context.Context, aiCfg config.AIConfig) reply.Oracle {
	canned := reply.NewCanned(time.Now().UnixNano())

	if !aiCfg.Enabled() {
		log.Println("ark credentials not configured, using canned replies")
		return canned
	}

	arkOracle, err := reply.NewArkOracle(ctx, aiCfg)
	if err != nil {
		log.Printf("warning: failed to initialize ark reply oracle: %v", err)
		log.Println("continuing with canned replies")
		return canned
	}

	log.Println("ark reply oracle initialized")
	return reply.WithFallback(arkOracle, canned)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Parley relay listening on %s", serverCfg.Addr)
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
