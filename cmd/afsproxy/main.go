// Command afsproxy runs the caching proxy (spec §4.1-4.3, §4.5) that sits
// between client handle operations and the authoritative afsserver.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/afscache/afscache/internal/clientapi"
	"github.com/afscache/afscache/internal/config"
	"github.com/afscache/afscache/internal/health"
	"github.com/afscache/afscache/internal/logging"
	"github.com/afscache/afscache/internal/metrics"
	"github.com/afscache/afscache/internal/posix"
	"github.com/afscache/afscache/internal/proxy"
	"github.com/afscache/afscache/internal/rpc"
	"github.com/afscache/afscache/pkg/wire"
)

const healthProbePath = "/.afscache-health-probe"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg := config.NewDefaultProxyConfig()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "afsproxy: load config:", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "afsproxy: invalid config:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.Global.LogLevel, Format: logging.FormatText, Output: os.Stderr}).
		WithComponent("afsproxy")

	mc, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Global.MetricsPort > 0,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "afscache",
		Subsystem: "proxy",
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

	serverAddr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	client := rpc.NewClient(serverAddr)
	defer client.Close()

	tracker := health.NewTracker(health.DefaultConfig())

	engine, err := proxy.NewEngine(proxy.Config{
		CacheRoot:      cfg.CacheRoot,
		CapacityBytes:  cfg.CacheCapacityBytes,
		ChunkSizeBytes: cfg.ChunkSizeBytes,
	}, client, log, mc)
	if err != nil {
		log.Errorf("start cache engine: %v", err)
		os.Exit(1)
	}

	handles := posix.New(engine)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	clientServer, err := clientapi.Listen(addr, handles, log)
	if err != nil {
		log.Errorf("listen on %s: %v", addr, err)
		os.Exit(1)
	}
	go clientServer.Serve()
	log.Infof("afsproxy listening on %s, cache root %s, server %s", addr, cfg.CacheRoot, serverAddr)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, err := client.Validate(wire.ValidateArgs{Path: healthProbePath, Mode: wire.ModeRead})
		if err != nil {
			tracker.RecordFailure("server", err)
		} else {
			tracker.RecordSuccess("server")
		}
		snap := tracker.Snapshot("server")
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "state=%s consecutive_failures=%d\n", snap.State, snap.ConsecutiveFailures)
	})
	healthSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Global.HealthPort), Handler: healthMux}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("health server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	clientServer.Close()
	healthSrv.Shutdown(context.Background())
	mc.Stop(context.Background())
}
