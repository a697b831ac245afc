package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/channel"
	"github.com/tinytelemetry/binrelay/internal/httpserver"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/ingest"
	"github.com/tinytelemetry/binrelay/internal/socketrpc"
	"github.com/tinytelemetry/binrelay/internal/source"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
)

// runServer starts the channel registry, the summary pusher and every
// enabled surface, then blocks until a shutdown signal.
func runServer(cfg appConfig) error {
	cleanupLogger, err := configureRuntimeLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()
	logger := logrus.StandardLogger()

	pusher, err := influx.FromConfig(cfg.influxConfig(), influx.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize influx pusher: %w", err)
	}

	// Interfaces stay nil when publishing is disabled.
	var (
		publisher   channel.Publisher
		pusherStats httpserver.PusherStats
		statsFn     func() (influx.Stats, bool)
	)
	if pusher != nil {
		pusher.Start()
		defer pusher.Stop()
		logger.WithField("endpoint", pusher.Endpoint()).Info("influx: publishing bin summaries")
		publisher = pusher
		pusherStats = pusher
		statsFn = func() (influx.Stats, bool) { return pusher.Stats(), true }
	}

	registry := channel.NewRegistry(channel.RegistryConfig{
		Publisher:          publisher,
		AutoCreate:         cfg.AutoCreate,
		DefaultBinSize:     cfg.DefaultBinSize,
		DefaultBinDuration: cfg.DefaultBinDuration,
		Logger:             logger,
	})
	defer registry.Close()

	for _, c := range cfg.Channels {
		if _, err := registry.Register(c); err != nil {
			return fmt.Errorf("failed to register channel: %w", err)
		}
	}

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, registry, pusherStats)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Start socket RPC server for local clients
	sockServer := socketrpc.NewServer(cfg.SocketPath, registry, logger)
	if err := sockServer.Start(); err != nil {
		logger.Warnf("server: failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	// Build input plugins and source multiplexer
	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled:   cfg.TCPEnabled,
		TCPAddr:      cfg.TCPAddr,
		MaxLineBytes: cfg.MaxLineBytes,
		Logger:       logger,
	})

	sources := make([]source.Source, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Errorf("server: initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	mux := newSampleMux(sources, cfg.MuxBufferSize)
	processor := ingest.NewProcessor(registry, logger)

	printStartupBanner(cfg, mux.sourceNames(), len(cfg.Channels))

	// Use errgroup for concurrent goroutine lifecycle management.
	g, gctx := errgroup.WithContext(ctx)

	// Ingestion: sources -> mux -> processor -> registry
	g.Go(func() error {
		return mux.run(gctx)
	})
	g.Go(func() error {
		processor.Run(gctx, mux.lines())
		return nil
	})

	reporter := &statsReporter{
		clock:     clockz.RealClock,
		interval:  cfg.StatsInterval,
		logger:    logger,
		pusher:    statsFn,
		processor: processor,
		sources:   mux.counts,
	}
	g.Go(func() error {
		return reporter.run(gctx)
	})

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("server: errgroup exited with error: %v", err)
	}

	cancel()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg appConfig, sourceNames []string, channelCount int) {
	fmt.Println(renderStartupBanner(cfg, sourceNames, channelCount))
}

func renderStartupBanner(cfg appConfig, sourceNames []string, channelCount int) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╗ ╦╔╗╔╦═╗╔═╗╦  ╔═╗╦ ╦
    ╠╩╗║║║║╠╦╝║╣ ║  ╠═╣╚╦╝
    ╚═╝╩╝╚╝╩╚═╚═╝╩═╝╩ ╩ ╩ `)

	ver := dim.Render("v" + version)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+ver)
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	// Gateway
	lines = append(lines, bold.Render("    Gateway"))
	lines = append(lines, "")

	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}

	if cfg.TCPEnabled {
		lines = append(lines, fmt.Sprintf("    %s  TCP Ingest     %s", check, cyan.Render(cfg.TCPAddr)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  TCP Ingest     %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	if len(sourceNames) > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Sources        %s", check, dim.Render(strings.Join(sourceNames, ", "))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Sources        %s", dot, dim.Render("none")))
	}
	lines = append(lines, "")

	// Publishing
	lines = append(lines, bold.Render("    Publishing"))
	lines = append(lines, "")

	if cfg.InfluxEndpoint != "" {
		lines = append(lines, fmt.Sprintf("    %s  InfluxDB       %s", check, cyan.Render(cfg.InfluxEndpoint)))
		lines = append(lines, fmt.Sprintf("    %s  Tags           %s", check, dim.Render(cfg.InfluxTags)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  InfluxDB       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	// Channels
	lines = append(lines, bold.Render("    Channels"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("    %s  Configured     %s", check, dim.Render(strconv.Itoa(channelCount))))
	lines = append(lines, fmt.Sprintf("    %s  Default Bin    %s", check,
		dim.Render(fmt.Sprintf("%d samples / %s", cfg.DefaultBinSize, cfg.DefaultBinDuration))))
	if cfg.AutoCreate {
		lines = append(lines, fmt.Sprintf("    %s  Auto-create    %s", check, dim.Render("enabled")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Auto-create    %s", dot, dim.Render("disabled")))
	}

	lines = append(lines, "")
	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
