package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/model"
	"github.com/tinytelemetry/binrelay/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

// GetVersionInfo returns the current version and commit information.
func GetVersionInfo() (string, string) {
	return version, commit
}

func main() {
	flags := newFlagSet()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if showVersion, _ := flags.GetBool("version"); showVersion {
		fmt.Printf("binrelay - Telemetry Bin Relay\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	configPath, _ := flags.GetString("config")
	cfg, err := loadConfig(configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// boundFlags are the flags that override config keys of the same name.
var boundFlags = []string{
	"influxdb-endpoint",
	"influxdb-tags",
	"socket-path",
	"host",
	"log-level",
	"log-format",
	"log-file",
	"auto-create-channels",
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("binrelay", pflag.ContinueOnError)
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/binrelay/config.yml)")
	flags.Bool("version", false, "print version information")
	flags.String("influxdb-endpoint", "", "InfluxDB write URL, e.g. http://localhost:8086/write?db=lab")
	flags.String("influxdb-tags", "", "tags appended to every point, e.g. host=lab1,rig=a")
	flags.String("socket-path", "", "unix socket path for the RPC server")
	flags.String("host", "", "bind host for derived TCP and API addresses")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-file", "", "write logs to this file instead of stderr")
	flags.Bool("auto-create-channels", false, "register unknown channels on first sample")
	return flags
}

func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BINRELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("tcp-addr", "")
	v.SetDefault("max-line-bytes", defaultMaxIngestLineBytes)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("influxdb-endpoint", "")
	v.SetDefault("influxdb-tags", "")
	v.SetDefault("influxdb-queue-size", defaultInfluxQueueSize)
	v.SetDefault("influxdb-timeout", defaultInfluxTimeout)
	v.SetDefault("auto-create-channels", false)
	v.SetDefault("default-bin-size", defaultBinSize)
	v.SetDefault("default-bin-duration", defaultBinDuration)
	v.SetDefault("stats-interval", defaultStatsInterval)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)
	v.SetDefault("log-file", "")

	if flags != nil {
		for _, name := range boundFlags {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(name, f); err != nil {
					return cfg, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "binrelay", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, statErr := os.Stat(cfg.ConfigPath); statErr != nil {
		cfg.ConfigPath = ""
	}

	if err := validateConfig(&cfg, home); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg *appConfig, home string) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.DefaultBinSize <= 0 {
		return fmt.Errorf("invalid default-bin-size: %d", cfg.DefaultBinSize)
	}
	if cfg.DefaultBinDuration <= 0 {
		return fmt.Errorf("invalid default-bin-duration: %s", cfg.DefaultBinDuration)
	}
	if cfg.InfluxQueueSize <= 0 {
		return fmt.Errorf("invalid influxdb-queue-size: %d", cfg.InfluxQueueSize)
	}
	if cfg.InfluxTimeout <= 0 {
		return fmt.Errorf("invalid influxdb-timeout: %s", cfg.InfluxTimeout)
	}
	if cfg.StatsInterval < 0 {
		return fmt.Errorf("invalid stats-interval: %s", cfg.StatsInterval)
	}
	if strings.TrimSpace(cfg.InfluxEndpoint) != "" && strings.TrimSpace(cfg.InfluxTags) == "" {
		return fmt.Errorf("invalid influxdb-tags: %w", influx.ErrMissingTags)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log-format: %q (want text or json)", cfg.LogFormat)
	}

	seen := make(map[string]bool, len(cfg.Channels))
	for i, c := range cfg.Channels {
		if !model.ValidChannelName(c.Name) {
			return fmt.Errorf("invalid channels[%d].name: %q", i, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate channel: %q", c.Name)
		}
		seen[c.Name] = true
		if c.BinSize < 0 {
			return fmt.Errorf("invalid channels[%d].bin-size: %d", i, c.BinSize)
		}
		if c.BinDuration < 0 {
			return fmt.Errorf("invalid channels[%d].bin-duration: %s", i, c.BinDuration)
		}
	}

	// Expand ~ in file paths
	for _, p := range []*string{&cfg.LogFile, &cfg.SocketPath} {
		if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}

	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	return nil
}
