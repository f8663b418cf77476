// Command afsserver runs the authoritative versioned file store (spec
// §4.4) behind the proxy<->server RPC surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/afscache/afscache/internal/config"
	"github.com/afscache/afscache/internal/logging"
	"github.com/afscache/afscache/internal/metrics"
	"github.com/afscache/afscache/internal/rpc"
	"github.com/afscache/afscache/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg := config.NewDefaultServerConfig()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "afsserver: load config:", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "afsserver: invalid config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Global.LogLevel, Format: logging.FormatText, Output: os.Stderr}).
		WithComponent("afsserver")

	mc, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Global.MetricsPort > 0,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "afscache",
		Subsystem: "server",
	})
	if err != nil {
		log.Errorf("metrics collector: %v", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mc.Start(ctx); err != nil {
		log.Errorf("start metrics server: %v", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		log.Errorf("create service root: %v", err)
		os.Exit(1)
	}

	store, err := server.NewStore(cfg.RootDir, 0)
	if err != nil {
		log.Errorf("open store: %v", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	rpcServer, err := rpc.Listen(addr, store, log)
	if err != nil {
		log.Errorf("listen on %s: %v", addr, err)
		os.Exit(1)
	}

	go rpcServer.Serve()
	log.Infof("afsserver listening on %s, root %s", addr, cfg.RootDir)

	health := http.NewServeMux()
	health.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	healthSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Global.HealthPort), Handler: health}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("health server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	rpcServer.Close()
	healthSrv.Shutdown(context.Background())
	mc.Stop(context.Background())
}
