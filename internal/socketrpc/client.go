package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/binrelay/internal/model"
)

const (
	// defaultCallTimeout bounds calls that never wait for a value.
	defaultCallTimeout = 30 * time.Second
	// waitGrace is added to a wait timeout to cover the round trip.
	waitGrace = 5 * time.Second
)

// Client calls a socket RPC server over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs a JSON-RPC call and unmarshals the result into dest.
// A zero deadline disables the connection deadline.
func (c *Client) Call(method string, params interface{}, dest interface{}, deadline time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	var paramsData json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("socketrpc: marshal params: %w", err)
		}
		paramsData = data
	}

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsData,
	}

	if deadline > 0 {
		c.conn.SetDeadline(time.Now().Add(deadline))
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) Ping() (bool, error) {
	var ok bool
	err := c.Call(MethodPing, nil, &ok, defaultCallTimeout)
	return ok, err
}

func (c *Client) ListChannels() ([]model.ChannelInfo, error) {
	var result []model.ChannelInfo
	err := c.Call(MethodListChannels, nil, &result, defaultCallTimeout)
	return result, err
}

// GetLatest returns the channel's latest value. A zero timeout waits
// indefinitely if the channel has not seen a value yet.
func (c *Client) GetLatest(channel string, timeout time.Duration) (float64, error) {
	return c.wait(GetLatestMethod(channel), timeout)
}

// GetNew waits for the channel's next value. A zero timeout waits indefinitely.
func (c *Client) GetNew(channel string, timeout time.Duration) (float64, error) {
	return c.wait(GetNewMethod(channel), timeout)
}

func (c *Client) wait(method string, timeout time.Duration) (float64, error) {
	var (
		v        float64
		params   interface{}
		deadline time.Duration
	)
	if timeout > 0 {
		params = WaitParams{TimeoutMS: timeout.Milliseconds()}
		deadline = timeout + waitGrace
	}
	err := c.Call(method, params, &v, deadline)
	return v, err
}
