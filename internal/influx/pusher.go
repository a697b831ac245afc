// Package influx pushes measurements to an InfluxDB-style HTTP write
// endpoint in the background.
//
// Delivery is best effort: Push never blocks and never fails, points are
// dropped when the queue is full, and delivery errors are logged and
// otherwise ignored.
package influx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"
)

// DefaultTimeout bounds a single write request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrMissingEndpoint is returned by NewPusher when no write endpoint is set.
	ErrMissingEndpoint = errors.New("influx: write endpoint is required")

	// ErrMissingTags is returned when an endpoint is configured without tags.
	// Untagged series cannot be told apart later, so this is fatal.
	ErrMissingTags = errors.New("influx: tags are required when pushing is enabled; refusing to push untagged data")
)

// Config configures a Pusher.
type Config struct {
	// Endpoint is the full write URL, e.g. http://localhost:8086/write?db=mydb.
	Endpoint string
	// Tags is appended to every line verbatim, e.g. "host=lab1,rig=a".
	Tags      string
	QueueSize int
	Timeout   time.Duration
}

// Option configures optional Pusher collaborators.
type Option func(*Pusher)

// WithPoster replaces the HTTP transport.
func WithPoster(poster Poster) Option {
	return func(p *Pusher) {
		if poster != nil {
			p.poster = poster
		}
	}
}

// WithClock sets the clock used to timestamp points.
func WithClock(clock clockz.Clock) Option {
	return func(p *Pusher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger for drop and delivery warnings.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Pusher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Stats are cumulative delivery counters.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	// Queued is the number of points waiting for delivery.
	Queued int `json:"queued"`
}

// Pusher queues points and delivers them from a single background loop.
type Pusher struct {
	endpoint string
	tags     string
	queue    *Queue
	poster   Poster
	clock    clockz.Clock
	logger   logrus.FieldLogger

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	sent     atomic.Uint64
	failed   atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// FromConfig builds a Pusher from cfg. It returns (nil, nil) when no
// endpoint is configured, meaning pushing is disabled.
func FromConfig(cfg Config, opts ...Option) (*Pusher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil
	}
	return NewPusher(cfg, opts...)
}

// NewPusher creates a Pusher. The drain loop is not started; call Start or Run.
func NewPusher(cfg Config, opts ...Option) (*Pusher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrMissingEndpoint
	}
	if strings.TrimSpace(cfg.Tags) == "" {
		return nil, ErrMissingTags
	}

	p := &Pusher{
		endpoint: cfg.Endpoint,
		tags:     cfg.Tags,
		queue:    NewQueue(cfg.QueueSize),
		clock:    clockz.RealClock,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.poster == nil {
		p.poster = NewHTTPPoster(cfg.Timeout)
	}
	return p, nil
}

// Endpoint returns the write URL points are posted to.
func (p *Pusher) Endpoint() string { return p.endpoint }

// Stats returns a snapshot of the delivery counters.
func (p *Pusher) Stats() Stats {
	return Stats{
		Enqueued: p.enqueued.Load(),
		Dropped:  p.dropped.Load(),
		Sent:     p.sent.Load(),
		Failed:   p.failed.Load(),
		Queued:   p.queue.Len(),
	}
}

// Push timestamps values and queues them for delivery under field. If the
// queue is full the point is dropped with a warning.
func (p *Pusher) Push(field string, values map[string]any) {
	pt := Point{
		Field:     field,
		Values:    maps.Clone(values),
		Timestamp: p.clock.Now(),
	}
	if !p.queue.TryEnqueue(pt) {
		p.dropped.Add(1)
		p.logger.WithFields(logrus.Fields{
			"field":    field,
			"endpoint": p.endpoint,
		}).Warnf("influx: error pushing %q to %s: queue full; dropping point (network connection or server down/slow?)", field, p.endpoint)
		return
	}
	p.enqueued.Add(1)
}

// Run drains the queue until ctx is cancelled. It must be the only drain
// loop for this Pusher. The request in flight at cancellation is aborted
// before Run returns.
func (p *Pusher) Run(ctx context.Context) {
	for {
		pt, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.deliver(ctx, pt)
	}
}

// Start runs the drain loop in its own goroutine. Subsequent calls are no-ops.
func (p *Pusher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.Run(ctx)
	}()
}

// Stop cancels the drain loop started by Start and waits for it to exit.
// Points still queued are discarded. Stop is idempotent.
func (p *Pusher) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Pusher) deliver(ctx context.Context, pt Point) {
	body := pt.Line(p.tags)

	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.WithField("endpoint", p.endpoint).Errorf("influx: panic pushing %q: %v", body, r)
		}
	}()

	status, respBody, err := p.poster.Post(ctx, p.endpoint, []byte(body))
	if err != nil {
		if ctx.Err() != nil {
			p.logger.WithField("endpoint", p.endpoint).Debugf("influx: push of %q aborted by shutdown", pt.Field)
			return
		}
		p.failed.Add(1)
		p.logger.WithFields(logrus.Fields{
			"field":    pt.Field,
			"endpoint": p.endpoint,
		}).Warnf("influx: error pushing %q to %s: %v", body, p.endpoint, err)
		return
	}

	if status != http.StatusNoContent {
		p.failed.Add(1)
		text := strings.TrimSpace(string(respBody))
		p.logger.WithFields(logrus.Fields{
			"field":    pt.Field,
			"endpoint": p.endpoint,
			"status":   status,
			"body":     text,
		}).Warnf("influx: error pushing %q to %s (HTTP %d): %s", body, p.endpoint, status, text)
		return
	}

	p.sent.Add(1)
}

func (s Stats) String() string {
	return fmt.Sprintf("enqueued=%d dropped=%d sent=%d failed=%d", s.Enqueued, s.Dropped, s.Sent, s.Failed)
}
