package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/heaplane/heaplane/hub/analysis"
	"github.com/heaplane/heaplane/hub/api"
	"github.com/heaplane/heaplane/hub/ingest"
	"github.com/heaplane/heaplane/hub/publish"
	"github.com/heaplane/heaplane/hub/reassembly"
	"github.com/heaplane/heaplane/hub/store"
	"github.com/heaplane/heaplane/pkg/admin"
	"github.com/heaplane/heaplane/pkg/config"
	"github.com/heaplane/heaplane/pkg/flags"
	"github.com/heaplane/heaplane/pkg/prometheus"
	"github.com/heaplane/heaplane/pkg/trace"
	log "github.com/sirupsen/logrus"
	"go.opencensus.io/plugin/ochttp"
	"golang.org/x/net/netutil"
)

func main() {
	cmd := flag.NewFlagSet("hub", flag.ExitOnError)

	addr := cmd.String("addr", ":4000", "address to serve agents, dashboards and the REST API on")
	adminAddr := cmd.String("admin-addr", ":9990", "address to serve scrapable metrics on")
	configPath := cmd.String("config", "", "path to an optional YAML config file")
	snapshotDir := cmd.String("snapshot-dir", "./dashboard-snapshots", "directory that receives reassembled heap snapshots")
	corsOrigin := cmd.String("cors-origin", "*", "origin allowed to call the REST API and open dashboard sockets; empty disables CORS")
	metricCap := cmd.Int("metric-cap", 1000, "metric samples retained per service")
	alertCap := cmd.Int("alert-cap", 100, "alerts retained hub-wide")
	sweepPeriod := cmd.Duration("sweep-period", 30*time.Second, "how often to sweep inactive services")
	inactivityTimeout := cmd.Duration("inactivity-timeout", 60*time.Second, "silence after which a service is marked disconnected")
	writeTimeout := cmd.Duration("write-timeout", 10*time.Second, "write deadline per dashboard subscriber")
	stagingTTL := cmd.Duration("staging-ttl", 5*time.Minute, "how long a stalled snapshot transfer may stay staged")
	maxFrameBytes := cmd.Int64("max-frame-bytes", 16<<20, "largest websocket frame accepted from an agent")
	maxBodyBytes := cmd.Int64("max-body-bytes", 512<<20, "largest REST upload body accepted")
	maxSnapshotBytes := cmd.Int64("max-snapshot-bytes", 0, "largest reassembled snapshot accepted; zero means unbounded")
	maxConns := cmd.Int("max-conns", 0, "cap on concurrent connections; zero means unbounded")
	analyzerCmd := cmd.String("analyzer-cmd", "", "command line for the primary leak analyzer")
	analyzerFallbackCmd := cmd.String("analyzer-fallback-cmd", "", "command line for the fallback leak analyzer")
	analyzerThreshold := cmd.Int64("analyzer-threshold-bytes", 1<<20, "growth below this size is not flagged as a leak")
	analyzerTimeout := cmd.Duration("analyzer-timeout", 2*time.Minute, "time allowed per analyzer run")

	traceCollector := flags.AddTraceFlags(cmd)

	flags.ConfigureAndParse(cmd, os.Args[1:])

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %s", err)
		}
	}

	// flags set explicitly on the command line win over the config file
	cmd.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "admin-addr":
			cfg.AdminAddr = *adminAddr
		case "snapshot-dir":
			cfg.SnapshotDir = *snapshotDir
		case "cors-origin":
			cfg.CORSOrigin = *corsOrigin
		case "metric-cap":
			cfg.MetricCap = *metricCap
		case "alert-cap":
			cfg.AlertCap = *alertCap
		case "sweep-period":
			cfg.SweepPeriod = config.Duration(*sweepPeriod)
		case "inactivity-timeout":
			cfg.InactivityTimeout = config.Duration(*inactivityTimeout)
		case "write-timeout":
			cfg.WriteTimeout = config.Duration(*writeTimeout)
		case "staging-ttl":
			cfg.StagingTTL = config.Duration(*stagingTTL)
		case "max-frame-bytes":
			cfg.MaxFrameBytes = *maxFrameBytes
		case "max-body-bytes":
			cfg.MaxBodyBytes = *maxBodyBytes
		case "max-snapshot-bytes":
			cfg.MaxSnapshotBytes = *maxSnapshotBytes
		case "max-conns":
			cfg.MaxConns = *maxConns
		case "analyzer-cmd":
			cfg.Analyzer.Command = *analyzerCmd
		case "analyzer-fallback-cmd":
			cfg.Analyzer.FallbackCommand = *analyzerFallbackCmd
		case "analyzer-threshold-bytes":
			cfg.Analyzer.ThresholdBytes = *analyzerThreshold
		case "analyzer-timeout":
			cfg.Analyzer.Timeout = config.Duration(*analyzerTimeout)
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "log-format":
			cfg.LogFormat = f.Value.String()
		}
	})

	flags.SetLogFormat(cfg.LogFormat)
	if err := flags.SetLogLevel(cfg.LogLevel); err != nil {
		log.Fatalf("invalid log level in config: %s", cfg.LogLevel)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if *traceCollector != "" {
		closeTracing, err := trace.InitializeTracing("heaplane-hub", *traceCollector)
		if err != nil {
			log.Warnf("failed to initialize tracing: %s", err)
		} else {
			defer closeTracing()
		}
	}

	st := store.New(cfg.MetricCap, cfg.AlertCap, cfg.InactivityTimeout.Std())
	publisher := publish.New(cfg.WriteTimeout.Std())
	reassembler := reassembly.New(st, cfg.SnapshotDir, cfg.MaxSnapshotBytes, cfg.StagingTTL.Std())

	var primary, fallback analysis.Analyzer
	if a := analysis.NewExecAnalyzer(cfg.Analyzer.Command); a != nil {
		primary = a
	}
	if a := analysis.NewExecAnalyzer(cfg.Analyzer.FallbackCommand); a != nil {
		fallback = a
	}
	coordinator := analysis.NewCoordinator(st, publisher, primary, fallback,
		cfg.Analyzer.ThresholdBytes, cfg.Analyzer.Timeout.Std())

	restAPI := api.NewHandler(st, reassembler, coordinator, publisher, cfg.CORSOrigin, cfg.MaxBodyBytes)
	server := ingest.NewServer(cfg.MaxFrameBytes, cfg.CORSOrigin, st, publisher, reassembler, coordinator, restAPI)

	var handler http.Handler = prometheus.WithTelemetry(server)
	if *traceCollector != "" {
		handler = &ochttp.Handler{Handler: handler}
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %s", cfg.Addr, err)
	}
	if cfg.MaxConns > 0 {
		lis = netutil.LimitListener(lis, cfg.MaxConns)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(cfg.SweepPeriod.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				publisher.PublishAll(st.SweepInactive(time.Now()))
			case <-ctx.Done():
				return
			}
		}
	}()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next config.Config) {
				flags.SetLogFormat(next.LogFormat)
				if err := flags.SetLogLevel(next.LogLevel); err != nil {
					log.Warnf("ignoring invalid log level in config: %s", next.LogLevel)
				}
			})
			if err != nil {
				log.Warnf("config watcher stopped: %s", err)
			}
		}()
	}

	var ready atomic.Bool
	go func() {
		log.Infof("starting hub on %s", cfg.Addr)
		ready.Store(true)
		if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hub server failed: %s", err)
		}
	}()

	go admin.StartServer(cfg.AdminAddr, ready.Load)

	<-stop

	log.Infof("shutting down hub on %s", cfg.Addr)
	ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	httpServer.Shutdown(shutdownCtx)
	publisher.CloseAll()
}
