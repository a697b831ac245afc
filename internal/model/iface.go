package model

import (
	"context"
	"errors"
)

// ErrUnknownChannel is returned for reads or pushes addressed to a channel
// that is not registered.
var ErrUnknownChannel = errors.New("unknown channel")

// ChannelReader provides the read side of every registered channel.
type ChannelReader interface {
	// GetLatest returns the last value pushed to the channel, waiting for
	// the first one if nothing was pushed yet.
	GetLatest(ctx context.Context, channel string) (float64, error)
	// GetNew waits for the next value pushed to the channel.
	GetNew(ctx context.Context, channel string) (float64, error)
	Channels() []ChannelInfo
}

// SampleSink accepts samples from ingest paths.
type SampleSink interface {
	PushSample(s Sample) error
}

// ChannelAPI is the unified contract for read surfaces (HTTP and socket RPC).
type ChannelAPI interface {
	ChannelReader
	SampleSink
}
