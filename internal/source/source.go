// Package source adapts sample line producers (TCP listener, stdin) to a
// single channel-based contract.
package source

import "github.com/tinytelemetry/binrelay/internal/model"

// Source is a unified interface for all sample line inputs.
type Source interface {
	Lines() <-chan model.IngestEnvelope // closed when the source is exhausted or stopped
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin"
}
