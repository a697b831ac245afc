package ingest

import (
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/binrelay/internal/model"
)

// EnvelopeProcessor consumes source-tagged ingest lines and routes parsed samples.
type EnvelopeProcessor interface {
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
	Stats() Stats
}

// NewEnvelopeProcessor creates the sample line processor.
func NewEnvelopeProcessor(sink model.SampleSink, logger logrus.FieldLogger) EnvelopeProcessor {
	return NewProcessor(sink, logger)
}
