package main

import (
	"time"

	"github.com/tinytelemetry/binrelay/internal/channel"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/model"
)

const (
	defaultBindHost           = "127.0.0.1"
	defaultTCPPort            = 4000
	defaultAPIPort            = 3000
	defaultMuxBufferSize      = DefaultMuxBuffer
	defaultInfluxQueueSize    = influx.DefaultQueueSize
	defaultInfluxTimeout      = influx.DefaultTimeout
	defaultBinSize            = model.DefaultBinSize
	defaultBinDuration        = model.DefaultBinDuration
	defaultStatsInterval      = time.Minute
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultMaxIngestLineBytes = 64 * 1024
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host          string `mapstructure:"host"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	MaxLineBytes  int    `mapstructure:"max-line-bytes"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`
	APIEnabled    bool   `mapstructure:"api-enabled"`
	APIPort       int    `mapstructure:"api-port"`
	APIAddr       string `mapstructure:"api-addr"`
	SocketPath    string `mapstructure:"socket-path"`

	InfluxEndpoint  string        `mapstructure:"influxdb-endpoint"`
	InfluxTags      string        `mapstructure:"influxdb-tags"`
	InfluxQueueSize int           `mapstructure:"influxdb-queue-size"`
	InfluxTimeout   time.Duration `mapstructure:"influxdb-timeout"`

	AutoCreate         bool             `mapstructure:"auto-create-channels"`
	DefaultBinSize     int              `mapstructure:"default-bin-size"`
	DefaultBinDuration time.Duration    `mapstructure:"default-bin-duration"`
	Channels           []channel.Config `mapstructure:"channels"`

	StatsInterval time.Duration `mapstructure:"stats-interval"`
	LogLevel      string        `mapstructure:"log-level"`
	LogFormat     string        `mapstructure:"log-format"`
	LogFile       string        `mapstructure:"log-file"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

func (c appConfig) influxConfig() influx.Config {
	return influx.Config{
		Endpoint:  c.InfluxEndpoint,
		Tags:      c.InfluxTags,
		QueueSize: c.InfluxQueueSize,
		Timeout:   c.InfluxTimeout,
	}
}
