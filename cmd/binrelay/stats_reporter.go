package main

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/ingest"
	"github.com/zoobzio/clockz"
)

// statsReporter periodically logs delivery, ingest and per-source counters
// when they change.
type statsReporter struct {
	clock     clockz.Clock
	interval  time.Duration
	logger    logrus.FieldLogger
	pusher    func() (influx.Stats, bool)
	processor ingest.EnvelopeProcessor
	sources   func() map[string]SourceCounts

	lastPush    influx.Stats
	lastIngest  ingest.Stats
	lastSources map[string]SourceCounts
}

// run reports every interval until ctx is done.
func (r *statsReporter) run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			r.report()
		}
	}
}

func (r *statsReporter) report() {
	if r.pusher != nil {
		if st, ok := r.pusher(); ok && st != r.lastPush {
			r.logger.WithFields(logrus.Fields{
				"enqueued": st.Enqueued,
				"dropped":  st.Dropped,
				"sent":     st.Sent,
				"failed":   st.Failed,
				"queued":   st.Queued,
			}).Info("influx: delivery stats")
			r.lastPush = st
		}
	}
	if r.processor != nil {
		if st := r.processor.Stats(); st != r.lastIngest {
			r.logger.WithFields(logrus.Fields{
				"accepted":  st.Accepted,
				"malformed": st.Malformed,
				"rejected":  st.Rejected,
			}).Info("ingest: line stats")
			r.lastIngest = st
		}
	}
	if r.sources != nil {
		counts := r.sources()
		for _, name := range slices.Sorted(maps.Keys(counts)) {
			c := counts[name]
			if c == r.lastSources[name] {
				continue
			}
			r.logger.WithFields(logrus.Fields{
				"source":    name,
				"forwarded": c.Forwarded,
				"blank":     c.Blank,
			}).Info("ingest: source stats")
		}
		r.lastSources = counts
	}
}
