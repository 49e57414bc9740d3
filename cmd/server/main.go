package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-core/auth"
	"chat-core/delivery"
	"chat-core/internal"
	"chat-core/moderation"
	"chat-core/notify"
	"chat-core/presence"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/runtime/workers"
	"chat-core/transport"
	"chat-core/typing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer executes before exit.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	censorRune, err := internal.CharacterRune(config.ModerationCharReplacement)
	if err != nil {
		return err
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Core components
	store := repositories.NewStore(db, log)
	registry := runtime.NewRegistry(log)
	router := runtime.NewRouter(log, store)
	tracker := presence.NewTracker(log, registry, router)
	coordinator := typing.NewCoordinator(log, router, config.TypingTTL)
	notifier := notify.NewLogNotifier(log)

	terms, err := moderation.LoadEmbeddedTerms()
	if err != nil {
		return fmt.Errorf("loading moderation terms: %w", err)
	}
	log.Info(fmt.Sprintf("%d blocked terms loaded", len(terms)))
	moderator, err := moderation.NewModerator(terms, censorRune)
	if err != nil {
		return err
	}

	pipeline := delivery.NewPipeline(log, store, notifier, router, registry, &moderator)

	// 4. Background workers under supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewTypingSweeperWorker(log, coordinator))
	sup.Add(workers.NewReporterWorker(log, config.ReportInterval, registry, router, notifier))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sup.Run(ctx)

	// 5. Gateway
	gateway := transport.NewGateway(log, transport.GatewayConfig{
		ConnectionBufferSize: config.ConnectionBufferSize,
		PongWait:             config.HeartbeatTimeout,
		PingPeriod:           config.HeartbeatInterval,
		WriteWait:            config.WriteTimeout,
		HistoryPageSize:      config.HistoryPageSize,
	}, auth.NewAuthenticator(config.JWTSecret), registry, router, pipeline, coordinator, tracker, store)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	server := &http.Server{Handler: gateway.Handler()}
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting websocket gateway", "address", address, "at", time.Now().UTC())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	// 6. Wait for stop or error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 7. Final cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
