package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/source"
	"github.com/tinytelemetry/binrelay/internal/tcpserver"
)

// InputSourcePlugin is a small plugin primitive for wiring sample inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (source.Source, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	TCPEnabled   bool
	TCPAddr      string
	MaxLineBytes int
	Logger       logrus.FieldLogger
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, tcpInputPlugin{
		addr:         cfg.TCPAddr,
		enabled:      cfg.TCPEnabled,
		maxLineBytes: cfg.MaxLineBytes,
		logger:       cfg.Logger,
	})
	plugins = append(plugins, stdinInputPlugin{
		maxLineBytes: cfg.MaxLineBytes,
		logger:       cfg.Logger,
	})
	return plugins
}

type tcpInputPlugin struct {
	addr         string
	enabled      bool
	maxLineBytes int
	logger       logrus.FieldLogger
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (source.Source, error) {
	server := tcpserver.NewServer(p.addr, tcpserver.ServerConfig{
		MaxLineSize: p.maxLineBytes,
		Logger:      p.logger,
	})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return source.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	maxLineBytes int
	logger       logrus.FieldLogger
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled reports whether stdin is piped rather than a terminal.
func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (source.Source, error) {
	return source.NewStdinSource(ctx, source.ReaderConfig{
		MaxLineSize: p.maxLineBytes,
		Logger:      p.logger,
	}), nil
}
