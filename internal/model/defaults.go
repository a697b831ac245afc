package model

import "time"

// Shared defaults used by the daemon and the channel registry.
const (
	DefaultBinSize     = 100
	DefaultBinDuration = 10 * time.Second
)
