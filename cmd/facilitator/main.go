package main

import (
	"fmt"
	"os"

	facilitator "github.com/vitwit/x402-facilitator"
	"github.com/vitwit/x402-facilitator/config"
	"github.com/vitwit/x402-facilitator/logger"
	"github.com/vitwit/x402-facilitator/metrics"
	"github.com/vitwit/x402-facilitator/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewZapLogger(cfg.LogLevel)

	f, err := facilitator.New(cfg,
		facilitator.WithLogger(log),
		facilitator.WithMetrics(metrics.NewPrometheusRecorder()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	log.Info("facilitator starting", map[string]any{
		"account": f.Account().Hex(),
		"port":    cfg.Port,
	})

	srv := server.New(f, log,
		server.WithDemoResource(cfg.EscrowAddress, cfg.USDCAddress),
	)
	if err := srv.Run(":" + cfg.Port); err != nil {
		log.Error("server stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
