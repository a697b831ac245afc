package main

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"github.com/tinytelemetry/binrelay/internal/model"
	"github.com/tinytelemetry/binrelay/internal/source"
)

// DefaultMuxBuffer is the default size of the merged line stream.
const DefaultMuxBuffer = 10_000

// SourceCounts are the per-source line counters of a sampleMux.
type SourceCounts struct {
	Forwarded uint64
	Blank     uint64
}

// muxInput is one source feeding the mux together with its counters.
type muxInput struct {
	src       source.Source
	forwarded atomic.Uint64
	blank     atomic.Uint64
}

// sampleMux merges the line streams of every enabled source into the one
// stream read by the ingest processor. Each envelope leaves the mux tagged
// with the name of the source it came from.
type sampleMux struct {
	inputs []*muxInput
	out    chan model.IngestEnvelope
}

func newSampleMux(sources []source.Source, buffer int) *sampleMux {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	return &sampleMux{
		inputs: lo.Map(sources, func(src source.Source, _ int) *muxInput {
			return &muxInput{src: src}
		}),
		out: make(chan model.IngestEnvelope, buffer),
	}
}

// lines is the merged stream. It is closed when run returns.
func (m *sampleMux) lines() <-chan model.IngestEnvelope {
	return m.out
}

// sourceNames lists the sources in registration order.
func (m *sampleMux) sourceNames() []string {
	return lo.Map(m.inputs, func(in *muxInput, _ int) string { return in.src.Name() })
}

// counts returns a snapshot of the per-source counters keyed by source name.
func (m *sampleMux) counts() map[string]SourceCounts {
	return lo.SliceToMap(m.inputs, func(in *muxInput) (string, SourceCounts) {
		return in.src.Name(), SourceCounts{Forwarded: in.forwarded.Load(), Blank: in.blank.Load()}
	})
}

// run forwards lines until every source ends or ctx is done, then stops the
// sources and closes the merged stream.
func (m *sampleMux) run(ctx context.Context) error {
	defer close(m.out)

	var wg sync.WaitGroup
	for _, in := range m.inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.forward(ctx, in)
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
	}
	for _, in := range m.inputs {
		in.src.Stop()
	}
	<-drained
	return nil
}

func (m *sampleMux) forward(ctx context.Context, in *muxInput) {
	name := in.src.Name()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in.src.Lines():
			if !ok {
				return
			}
			if strings.TrimSpace(env.Line) == "" {
				in.blank.Add(1)
				continue
			}
			if env.Source == "" {
				env.Source = name
			}
			select {
			case m.out <- env:
				in.forwarded.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}
}
