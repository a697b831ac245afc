package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/model"
)

// ErrMalformedLine is wrapped by every ParseSampleLine error.
var ErrMalformedLine = errors.New("ingest: malformed sample line")

// ParseSampleLine parses one ingest line. Two forms are accepted:
//
//	<channel> <value>
//	{"channel": "<channel>", "value": <value>}
//
// Blank lines and lines starting with '#' are skipped (ok is false, err is nil).
func ParseSampleLine(line string) (s model.Sample, ok bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return model.Sample{}, false, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var raw struct {
			Channel string   `json:"channel"`
			Value   *float64 `json:"value"`
		}
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return model.Sample{}, false, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		if raw.Value == nil {
			return model.Sample{}, false, fmt.Errorf("%w: missing value", ErrMalformedLine)
		}
		s = model.Sample{Channel: raw.Channel, Value: *raw.Value}
	} else {
		fields := strings.Fields(trimmed)
		if len(fields) != 2 {
			return model.Sample{}, false, fmt.Errorf("%w: want \"<channel> <value>\", got %d fields", ErrMalformedLine, len(fields))
		}
		v, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil {
			return model.Sample{}, false, fmt.Errorf("%w: value %q: %v", ErrMalformedLine, fields[1], perr)
		}
		s = model.Sample{Channel: fields[0], Value: v}
	}

	if !model.ValidChannelName(s.Channel) {
		return model.Sample{}, false, fmt.Errorf("%w: invalid channel name %q", ErrMalformedLine, s.Channel)
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return model.Sample{}, false, fmt.Errorf("%w: non-finite value", ErrMalformedLine)
	}
	return s, true, nil
}

// Stats counts processed lines.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
	Rejected  uint64 `json:"rejected"`
}

// ProcessResult holds the outcome of processing one line.
type ProcessResult struct {
	Sample *model.Sample
	Err    error
}

// Processor parses ingest lines and pushes samples into a sink.
type Processor struct {
	sink   model.SampleSink
	logger logrus.FieldLogger

	accepted  atomic.Uint64
	malformed atomic.Uint64
	rejected  atomic.Uint64
}

// NewProcessor creates a new sample processor.
func NewProcessor(sink model.SampleSink, logger logrus.FieldLogger) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{sink: sink, logger: logger}
}

// ProcessEnvelope handles one line. It returns nil for skipped lines.
// Malformed lines and samples the sink refuses are counted and logged,
// never fatal.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	s, ok, err := ParseSampleLine(env.Line)
	if err != nil {
		p.malformed.Add(1)
		p.logger.WithField("source", env.Source).Debugf("ingest: %v", err)
		return &ProcessResult{Err: err}
	}
	if !ok {
		return nil
	}

	if p.sink != nil {
		if err := p.sink.PushSample(s); err != nil {
			p.rejected.Add(1)
			p.logger.WithFields(logrus.Fields{"source": env.Source, "channel": s.Channel}).Debugf("ingest: sample rejected: %v", err)
			return &ProcessResult{Sample: &s, Err: err}
		}
	}
	p.accepted.Add(1)
	return &ProcessResult{Sample: &s}
}

// Run processes lines until the channel is closed or ctx is done.
func (p *Processor) Run(ctx context.Context, lines <-chan model.IngestEnvelope) {
	for {
		select {
		case env, ok := <-lines:
			if !ok {
				return
			}
			p.ProcessEnvelope(env)
		case <-ctx.Done():
			return
		}
	}
}

// Stats returns a snapshot of the line counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Accepted:  p.accepted.Load(),
		Malformed: p.malformed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
