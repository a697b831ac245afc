package socketrpc

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the read side of every registered channel
// over a Unix domain socket. Channel accessors are name-qualified.
//
//   Method                 Params                 Result
//   ─────────────────────  ─────────────────────  ─────────────────
//   ping                   (none)                 true
//   list_channels          (none)                 []ChannelInfo
//   get_latest_<channel>   {timeout_ms: int}      float64
//   get_new_<channel>      {timeout_ms: int}      float64
//
// get_latest_* returns immediately once the channel has seen a value;
// otherwise it waits like get_new_*. A timeout_ms of 0 (or no params)
// waits until a value arrives or the server stops.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found (including unknown channel)
//   -32602  Invalid params (including timeout_ms < 0 or > MaxTimeoutMS)
//   -32603  Internal error (marshal failure)
//   -32000  Application error (wait timed out or server stopping)

const (
	MethodPing         = "ping"
	MethodListChannels = "list_channels"

	// Prefixes of the per-channel accessor methods.
	PrefixGetLatest = "get_latest_"
	PrefixGetNew    = "get_new_"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeAppError       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// WaitParams are the optional parameters of the channel accessors.
type WaitParams struct {
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

// MaxTimeoutMS is the largest timeout_ms that fits in a time.Duration.
const MaxTimeoutMS = math.MaxInt64 / int64(time.Millisecond)

// GetLatestMethod returns the accessor method name for a channel's latest value.
func GetLatestMethod(channel string) string { return PrefixGetLatest + channel }

// GetNewMethod returns the accessor method name for a channel's next value.
func GetNewMethod(channel string) string { return PrefixGetNew + channel }

// splitAccessor parses a per-channel method name.
func splitAccessor(method string) (prefix, channel string, ok bool) {
	for _, p := range []string{PrefixGetLatest, PrefixGetNew} {
		if name, found := strings.CutPrefix(method, p); found && name != "" {
			return p, name, true
		}
	}
	return "", "", false
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/binrelay/binrelay.sock, falling back to
// ~/.local/state/binrelay/binrelay.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "binrelay", "binrelay.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/binrelay.sock"
	}
	return filepath.Join(home, ".local", "state", "binrelay", "binrelay.sock")
}
