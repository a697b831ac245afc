// Package channel owns the named sample chunkers of the daemon and connects
// each finished bin to the summary publisher.
package channel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/chunker"
	"github.com/tinytelemetry/binrelay/internal/model"
	"github.com/tinytelemetry/binrelay/internal/stats"
	"github.com/zoobzio/clockz"
)

// ErrDuplicateChannel is returned when a channel name is registered twice.
var ErrDuplicateChannel = errors.New("channel: already registered")

// Publisher receives one summary per finished bin. *influx.Pusher implements it.
type Publisher interface {
	Push(field string, values map[string]any)
}

// AggregateFunc turns a finished bin into the values to publish.
type AggregateFunc func(bin []float64) map[string]any

// Config describes one channel.
type Config struct {
	Name        string        `mapstructure:"name"`
	BinSize     int           `mapstructure:"bin-size"`
	BinDuration time.Duration `mapstructure:"bin-duration"`
}

// RegistryConfig holds registry-wide settings.
type RegistryConfig struct {
	// Publisher may be nil, in which case bins are summarized but not sent.
	Publisher Publisher
	Aggregate AggregateFunc
	// AutoCreate registers unknown channels on first push using the defaults.
	AutoCreate         bool
	DefaultBinSize     int
	DefaultBinDuration time.Duration
	Clock              clockz.Clock
	Logger             logrus.FieldLogger
}

// Registry maps channel names to chunkers.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	channels map[string]*entry
	closed   bool
}

// entry pairs a channel's chunker with its running distribution.
type entry struct {
	chunker  *chunker.Chunker[float64]
	lifetime *stats.Distribution
}

func (e *entry) info() model.ChannelInfo {
	info := model.ChannelInfo{
		Name:        e.chunker.Name(),
		TargetSize:  e.chunker.TargetSize(),
		MaxDuration: e.chunker.MaxDuration(),
	}
	if n := e.lifetime.Count(); n > 0 {
		p50, _ := e.lifetime.Quantile(0.50)
		p95, _ := e.lifetime.Quantile(0.95)
		p99, _ := e.lifetime.Quantile(0.99)
		info.Lifetime = &model.LifetimeStats{Count: n, P50: p50, P95: p95, P99: p99}
	}
	return info
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Aggregate == nil {
		cfg.Aggregate = stats.Summarize
	}
	if cfg.DefaultBinSize <= 0 {
		cfg.DefaultBinSize = model.DefaultBinSize
	}
	if cfg.DefaultBinDuration <= 0 {
		cfg.DefaultBinDuration = model.DefaultBinDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = clockz.RealClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Registry{
		cfg:      cfg,
		channels: make(map[string]*entry),
	}
}

// Register creates the chunker for c. Zero bin settings fall back to the
// registry defaults.
func (r *Registry) Register(c Config) (*chunker.Chunker[float64], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(c)
}

func (r *Registry) registerLocked(c Config) (*chunker.Chunker[float64], error) {
	if r.closed {
		return nil, fmt.Errorf("channel: registry closed")
	}
	if !model.ValidChannelName(c.Name) {
		return nil, fmt.Errorf("channel: invalid name %q", c.Name)
	}
	if _, exists := r.channels[c.Name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateChannel, c.Name)
	}
	if c.BinSize <= 0 {
		c.BinSize = r.cfg.DefaultBinSize
	}
	if c.BinDuration <= 0 {
		c.BinDuration = r.cfg.DefaultBinDuration
	}

	name := c.Name
	ch, err := chunker.New[float64](name, func(bin []float64) {
		r.binFinished(name, bin)
	}, c.BinSize, c.BinDuration,
		chunker.WithClock(r.cfg.Clock),
		chunker.WithLogger(r.cfg.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("channel: register %q: %w", name, err)
	}
	r.channels[name] = &entry{chunker: ch, lifetime: stats.NewDistribution()}
	r.cfg.Logger.WithField("channel", name).Debugf("channel: registered (bin size %d, max duration %s)", c.BinSize, c.BinDuration)
	return ch, nil
}

func (r *Registry) binFinished(name string, bin []float64) {
	summary := r.cfg.Aggregate(bin)
	if summary == nil || r.cfg.Publisher == nil {
		return
	}
	r.cfg.Publisher.Push(name, summary)
}

// Lookup returns the chunker registered under name.
func (r *Registry) Lookup(name string) (*chunker.Chunker[float64], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[name]
	if !ok {
		return nil, false
	}
	return e.chunker, true
}

// Names returns the registered channel names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.channels)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Channels implements model.ChannelReader.
func (r *Registry) Channels() []model.ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := lo.MapToSlice(r.channels, func(_ string, e *entry) model.ChannelInfo {
		return e.info()
	})
	slices.SortFunc(infos, func(a, b model.ChannelInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return infos
}

// PushSample routes s to its channel, creating the channel first when
// auto-create is enabled.
func (r *Registry) PushSample(s model.Sample) error {
	r.mu.RLock()
	e, ok := r.channels[s.Channel]
	r.mu.RUnlock()
	if !ok {
		if !r.cfg.AutoCreate {
			return fmt.Errorf("%w: %q", model.ErrUnknownChannel, s.Channel)
		}
		var err error
		e, err = r.getOrCreate(s.Channel)
		if err != nil {
			return err
		}
	}
	if err := e.lifetime.Add(s.Value); err != nil {
		r.cfg.Logger.WithField("channel", s.Channel).Debugf("channel: value %v not tracked in lifetime stats: %v", s.Value, err)
	}
	e.chunker.Push(s.Value)
	return nil
}

func (r *Registry) getOrCreate(name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.channels[name]; ok {
		return e, nil
	}
	if _, err := r.registerLocked(Config{Name: name}); err != nil {
		return nil, err
	}
	return r.channels[name], nil
}

// GetLatest implements model.ChannelReader.
func (r *Registry) GetLatest(ctx context.Context, name string) (float64, error) {
	ch, ok := r.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownChannel, name)
	}
	return ch.GetLatest(ctx)
}

// GetNew implements model.ChannelReader.
func (r *Registry) GetNew(ctx context.Context, name string) (float64, error) {
	ch, ok := r.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", model.ErrUnknownChannel, name)
	}
	return ch.GetNew(ctx)
}

// Close stops the bin timers of all channels. Pending bins are discarded.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, e := range r.channels {
		e.chunker.Stop()
	}
}
