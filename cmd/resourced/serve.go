package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/whamworks/resourced/pkg/manager"
	"github.com/whamworks/resourced/pkg/metrics"
	"github.com/whamworks/resourced/pkg/reconciler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the resource manager and its metrics/health endpoints",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	mgr, store, cfg, err := openManager(configPath)
	if err != nil {
		return fmt.Errorf("open manager: %w", err)
	}
	defer store.Close()

	collector := manager.NewMetricsCollector(mgr)
	collector.Start()
	defer collector.Stop()

	recon := reconciler.NewReconciler(mgr).
		WithInterval(cfg.ReapInterval).
		WithIdleTimeout(cfg.IdleTimeout)
	recon.Start()
	defer recon.Stop()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("storage", true, "ready")
	metrics.RegisterComponent("manager", true, "ready")

	metricsAddr := cfg.MetricsAddr
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	server := &http.Server{Addr: metricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	fmt.Printf("resourced serving metrics/health on http://%s\n", metricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("shutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
	}

	return server.Close()
}
