package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/tinyland-inc/phasebridge/cmd/phasebridge/internal"
	"github.com/tinyland-inc/phasebridge/pkg/bridge"
	"github.com/tinyland-inc/phasebridge/pkg/health"
	"github.com/tinyland-inc/phasebridge/pkg/host"
	"github.com/tinyland-inc/phasebridge/pkg/logger"
	"github.com/tinyland-inc/phasebridge/pkg/wire"
)

func relayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Standalone relay has no dimension server attached; chat lines addressed
	// to local sessions are encoded as plain text and go nowhere.
	srv := &host.Headless{}
	encode := func(text string, _ wire.Color) ([]byte, error) {
		return []byte(text), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bridge.New(cfg, srv, encode)
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("error starting bridge: %w", err)
	}

	healthServer := health.NewServer(cfg.Health.Host, cfg.Health.Port, b.Connected)
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()

	fmt.Printf("Relay started as instance %s\n", b.InstanceID())
	fmt.Printf("Health endpoints available at http://%s:%d/health and /ready\n", cfg.Health.Host, cfg.Health.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.WarnCF("health", "Health server shutdown error", map[string]any{"error": err.Error()})
	}
	b.Stop()
	fmt.Println("Relay stopped")

	return nil
}
