package influx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

type postCall struct {
	url  string
	body string
}

// stubPoster records calls and answers with the scripted responses in order,
// repeating the last one.
type stubPoster struct {
	mu        sync.Mutex
	calls     []postCall
	responses []stubResponse
}

type stubResponse struct {
	status int
	body   string
	err    error
	panic  bool
}

func (s *stubPoster) Post(_ context.Context, url string, body []byte) (int, []byte, error) {
	s.mu.Lock()
	idx := len(s.calls)
	s.calls = append(s.calls, postCall{url: url, body: string(body)})
	resp := stubResponse{status: http.StatusNoContent}
	if len(s.responses) > 0 {
		resp = s.responses[min(idx, len(s.responses)-1)]
	}
	s.mu.Unlock()

	if resp.panic {
		panic("boom")
	}
	return resp.status, []byte(resp.body), resp.err
}

func (s *stubPoster) snapshot() []postCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]postCall(nil), s.calls...)
}

func newTestPusher(t *testing.T, queueSize int, poster Poster) (*Pusher, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	p, err := NewPusher(Config{
		Endpoint:  "http://influx.invalid/write?db=lab",
		Tags:      "loc=lab1",
		QueueSize: queueSize,
	},
		WithPoster(poster),
		WithClock(clockz.NewFakeClockAt(time.Unix(100, 0))),
		WithLogger(logger),
	)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p, hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

func TestFromConfig(t *testing.T) {
	t.Run("disabled without endpoint", func(t *testing.T) {
		p, err := FromConfig(Config{Tags: "a=b"})
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("endpoint without tags is fatal", func(t *testing.T) {
		p, err := FromConfig(Config{Endpoint: "http://localhost:8086/write?db=x"})
		assert.Nil(t, p)
		assert.True(t, errors.Is(err, ErrMissingTags))
	})

	t.Run("enabled", func(t *testing.T) {
		p, err := FromConfig(Config{Endpoint: "http://localhost:8086/write?db=x", Tags: "a=b"})
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, DefaultQueueSize, p.queue.Cap())
	})
}

func TestNewPusherRequiresEndpoint(t *testing.T) {
	_, err := NewPusher(Config{Tags: "a=b"})
	assert.ErrorIs(t, err, ErrMissingEndpoint)
}

func TestPushOverflowDropsExcess(t *testing.T) {
	poster := &stubPoster{}
	p, hook := newTestPusher(t, 4, poster)

	for i := 0; i < 7; i++ {
		p.Push("temp", map[string]any{"value": i})
	}

	stats := p.Stats()
	assert.Equal(t, uint64(4), stats.Enqueued)
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Equal(t, 4, stats.Queued)

	w := warnings(hook)
	require.Len(t, w, 3)
	assert.Equal(t, "temp", w[0].Data["field"])
	assert.Equal(t, p.Endpoint(), w[0].Data["endpoint"])

	p.Start()
	require.Eventually(t, func() bool { return p.Stats().Sent == 4 }, 2*time.Second, time.Millisecond)
	assert.Zero(t, p.Stats().Queued)

	calls := poster.snapshot()
	require.Len(t, calls, 4)
	for i, c := range calls {
		assert.Equal(t, "temp,loc=lab1 value="+string(rune('0'+i))+" 100000000000", c.body)
		assert.Equal(t, p.Endpoint(), c.url)
	}
}

func TestPushCopiesValues(t *testing.T) {
	poster := &stubPoster{}
	p, _ := newTestPusher(t, 4, poster)

	values := map[string]any{"value": 1}
	p.Push("temp", values)
	values["value"] = 2

	p.Start()
	require.Eventually(t, func() bool { return p.Stats().Sent == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "temp,loc=lab1 value=1 100000000000", poster.snapshot()[0].body)
}

func TestDeliveryFailuresAreLoggedAndSkipped(t *testing.T) {
	poster := &stubPoster{responses: []stubResponse{
		{status: http.StatusBadRequest, body: "  unable to parse  \n"},
		{err: errors.New("connection refused")},
		{panic: true},
		{status: http.StatusOK},
		{status: http.StatusNoContent},
	}}
	p, hook := newTestPusher(t, 8, poster)

	for i := 0; i < 5; i++ {
		p.Push("temp", map[string]any{"value": i})
	}
	p.Start()

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Sent+s.Failed == 5
	}, 2*time.Second, time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(4), stats.Failed)

	w := warnings(hook)
	require.Len(t, w, 3)
	assert.Equal(t, http.StatusBadRequest, w[0].Data["status"])
	assert.Equal(t, "unable to parse", w[0].Data["body"])
	assert.Contains(t, w[1].Message, "connection refused")
	assert.Equal(t, http.StatusOK, w[2].Data["status"])
}

// blockingPoster holds every request until its context is cancelled.
type blockingPoster struct {
	started chan struct{}
}

func (b *blockingPoster) Post(ctx context.Context, _ string, _ []byte) (int, []byte, error) {
	close(b.started)
	<-ctx.Done()
	return 0, nil, ctx.Err()
}

func TestStopAbortsInFlightRequest(t *testing.T) {
	poster := &blockingPoster{started: make(chan struct{})}
	p, hook := newTestPusher(t, 4, poster)

	p.Push("temp", map[string]any{"value": 1})
	p.Start()
	<-poster.started

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Empty(t, warnings(hook))
	assert.Equal(t, uint64(0), p.Stats().Failed)

	// Pushing after Stop still never blocks.
	for i := 0; i < 10; i++ {
		p.Push("temp", map[string]any{"value": i})
	}
	p.Stop()
}

func TestHTTPPosterAgainstServer(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()

		if r.Method != http.MethodPost || r.URL.Query().Get("db") != "lab" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.HasPrefix(string(b), "bad") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"unable to parse"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	p, err := NewPusher(Config{Endpoint: srv.URL + "/write?db=lab", Tags: "loc=lab1", Timeout: time.Second}, WithLogger(logger))
	require.NoError(t, err)
	p.Start()
	defer p.Stop()

	p.Push("bad", map[string]any{"value": 1})
	p.Push("temp", map[string]any{"value": 42})

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.Sent == 1 && s.Failed == 1
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.True(t, strings.HasPrefix(bodies[1], "temp,loc=lab1 value=42 "))

	w := warnings(hook)
	require.Len(t, w, 1)
	assert.Equal(t, `{"error":"unable to parse"}`, w[0].Data["body"])
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		ok := q.TryEnqueue(Point{Field: string(rune('a' + i))})
		assert.Equal(t, i < 3, ok)
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		pt, ok := q.Dequeue(ctx)
		require.True(t, ok)
		assert.Equal(t, want, pt.Field)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, ok := q.Dequeue(cctx)
	assert.False(t, ok)
}

func TestNewQueueDefaultSize(t *testing.T) {
	assert.Equal(t, DefaultQueueSize, NewQueue(0).Cap())
}
