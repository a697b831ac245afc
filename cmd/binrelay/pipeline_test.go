package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	lineprotocol "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/binrelay/internal/channel"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/ingest"
	"github.com/tinytelemetry/binrelay/internal/socketrpc"
	"github.com/tinytelemetry/binrelay/internal/source"
	"github.com/tinytelemetry/binrelay/internal/stats"
	"github.com/tinytelemetry/binrelay/internal/tcpserver"
)

// influxStub records write bodies and answers 204.
type influxStub struct {
	mu     sync.Mutex
	bodies []string
}

func (s *influxStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *influxStub) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

// TestPipeline_TCPToInflux drives samples from a TCP client through the
// registry and pusher to a stub write endpoint.
func TestPipeline_TCPToInflux(t *testing.T) {
	logger, _ := test.NewNullLogger()

	stub := &influxStub{}
	influxSrv := httptest.NewServer(stub)
	defer influxSrv.Close()

	pusher, err := influx.FromConfig(influx.Config{
		Endpoint: influxSrv.URL + "/write?db=lab",
		Tags:     "host=lab1",
	}, influx.WithLogger(logger))
	require.NoError(t, err)
	require.NotNil(t, pusher)
	pusher.Start()
	defer pusher.Stop()

	registry := channel.NewRegistry(channel.RegistryConfig{
		Publisher: pusher,
		Logger:    logger,
	})
	defer registry.Close()
	_, err = registry.Register(channel.Config{Name: "pmt", BinSize: 4, BinDuration: time.Hour})
	require.NoError(t, err)

	tcp := tcpserver.NewServer("127.0.0.1:0", tcpserver.ServerConfig{Logger: logger})
	require.NoError(t, tcp.Start())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux := newSampleMux([]source.Source{source.NewTCPSource(tcp)}, 0)
	go mux.run(ctx)

	processor := ingest.NewProcessor(registry, logger)
	go processor.Run(ctx, mux.lines())

	sockPath := filepath.Join(t.TempDir(), "binrelay.sock")
	sock := socketrpc.NewServer(sockPath, registry, logger)
	require.NoError(t, sock.Start())
	defer sock.Stop()

	conn, err := net.Dial("tcp", tcp.Addr())
	require.NoError(t, err)
	defer conn.Close()
	for _, line := range []string{"pmt 10", "# calibration", "pmt 20", "bogus", "pmt 30", "pmt 40"} {
		_, err := fmt.Fprintln(conn, line)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(stub.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	dec := lineprotocol.NewDecoderWithBytes([]byte(stub.snapshot()[0]))
	require.True(t, dec.Next())
	m, err := dec.Measurement()
	require.NoError(t, err)
	assert.Equal(t, "pmt", string(m))

	key, val, err := dec.NextTag()
	require.NoError(t, err)
	assert.Equal(t, "host", string(key))
	assert.Equal(t, "lab1", string(val))

	fields := map[string]float64{}
	for {
		k, v, err := dec.NextField()
		require.NoError(t, err)
		if k == nil {
			break
		}
		switch v.Kind() {
		case lineprotocol.Float:
			fields[string(k)] = v.FloatV()
		case lineprotocol.Int:
			fields[string(k)] = float64(v.IntV())
		}
	}
	assert.Equal(t, 10.0, fields[stats.FieldMin])
	assert.Equal(t, 25.0, fields[stats.FieldMean])
	assert.Equal(t, 40.0, fields[stats.FieldMax])
	assert.InDelta(t, 11.5, fields[stats.FieldP05], 1e-9)
	assert.InDelta(t, 38.5, fields[stats.FieldP95], 1e-9)
	assert.Equal(t, 4.0, fields[stats.FieldCount])

	client, err := socketrpc.Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()
	latest, err := client.GetLatest("pmt", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 40.0, latest)

	require.Eventually(t, func() bool {
		return processor.Stats().Accepted == 4 && pusher.Stats().Sent == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), processor.Stats().Malformed)
	require.Eventually(t, func() bool {
		return mux.counts()["tcp"].Forwarded == 6
	}, 2*time.Second, 10*time.Millisecond)
}
