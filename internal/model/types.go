package model

import "time"

// Sample is one measurement addressed to a named channel.
// It is the unit produced by every ingest path (TCP, HTTP).
type Sample struct {
	Channel string
	Value   float64
}

// ChannelInfo describes a registered channel and its bin settings.
type ChannelInfo struct {
	Name        string         `json:"name"`
	TargetSize  int            `json:"target_size"`
	MaxDuration time.Duration  `json:"max_duration"`
	Lifetime    *LifetimeStats `json:"lifetime,omitempty"`
}

// LifetimeStats estimates the distribution of every sample a channel has
// received since startup. It is nil until the first sample.
type LifetimeStats struct {
	Count uint64  `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// ValidChannelName reports whether name can be used as a channel name.
// Names become line protocol measurements and RPC method suffixes, so only
// letters, digits, '_', '-', '.' and ':' are allowed.
func ValidChannelName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
