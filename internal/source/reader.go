package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/model"
)

const (
	// DefaultReaderBuffer is the default channel buffer size for reader lines.
	DefaultReaderBuffer = 10_000

	// DefaultReaderMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultReaderMaxLineSize = 64 * 1024
)

// ReaderConfig holds tunable parameters for a reader source.
type ReaderConfig struct {
	BufferSize  int
	MaxLineSize int
	Logger      logrus.FieldLogger
}

// ReaderSource reads sample lines from an io.Reader.
type ReaderSource struct {
	name     string
	ch       chan model.IngestEnvelope
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewStdinSource creates a ReaderSource over os.Stdin.
func NewStdinSource(ctx context.Context, conf ...ReaderConfig) *ReaderSource {
	return NewReaderSource(ctx, "stdin", os.Stdin, conf...)
}

// NewReaderSource starts reading r in a background goroutine.
func NewReaderSource(ctx context.Context, name string, r io.Reader, conf ...ReaderConfig) *ReaderSource {
	bufferSize := DefaultReaderBuffer
	maxLineSize := DefaultReaderMaxLineSize
	var logger logrus.FieldLogger = logrus.StandardLogger()
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
		if conf[0].Logger != nil {
			logger = conf[0].Logger
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		ch:     make(chan model.IngestEnvelope, bufferSize),
		cancel: cancel,
	}
	go s.read(ctx, r, maxLineSize, logger.WithField("source", name))
	return s
}

func (s *ReaderSource) read(ctx context.Context, r io.Reader, maxLineSize int, logger logrus.FieldLogger) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(maxLineSize, 4096)), maxLineSize)

	// A single goroutine owns the blocking scan so cancellation is observed
	// without waiting for the next line.
	results := make(chan string)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case results <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				logger.Warnf("source: line exceeded max size (%d bytes), stopping source", maxLineSize)
				return
			}
			logger.Warnf("source: scanner error: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-results:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Stop()                              { s.stopOnce.Do(s.cancel) }
func (s *ReaderSource) Name() string                       { return s.name }
