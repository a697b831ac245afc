package model

// IngestEnvelope carries one raw sample line with source metadata.
// It is the transport contract between line listeners and sample parsing.
type IngestEnvelope struct {
	Source string
	Line   string
}
