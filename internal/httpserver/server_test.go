package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tinytelemetry/binrelay/internal/channel"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedStats influx.Stats

func (f fixedStats) Stats() influx.Stats { return influx.Stats(f) }

func newTestServer(t *testing.T, pusher PusherStats) (*Server, *channel.Registry, *gin.Engine) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := channel.NewRegistry(channel.RegistryConfig{Logger: logger})
	t.Cleanup(reg.Close)
	if _, err := reg.Register(channel.Config{Name: "temp", BinSize: 100, BinDuration: time.Minute}); err != nil {
		t.Fatalf("register: %v", err)
	}

	srv := NewServer("", reg, pusher)
	srv.startTime = time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	srv.routes(r)

	return srv, reg, r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, fixedStats{Enqueued: 5, Dropped: 1, Sent: 3, Failed: 1, Queued: 1})

	w := do(r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Status   string `json:"status"`
		Channels int    `json:"channels"`
		Pusher   struct {
			Enabled bool   `json:"enabled"`
			Dropped uint64 `json:"dropped"`
			Sent    uint64 `json:"sent"`
			Queued  int    `json:"queued"`
		} `json:"pusher"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("health status = %v, want ok", body.Status)
	}
	if body.Channels != 1 {
		t.Errorf("channels = %d, want 1", body.Channels)
	}
	if !body.Pusher.Enabled || body.Pusher.Dropped != 1 || body.Pusher.Sent != 3 || body.Pusher.Queued != 1 {
		t.Errorf("unexpected pusher stats: %+v", body.Pusher)
	}
}

func TestHealthEndpoint_PusherDisabled(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := do(r, http.MethodGet, "/api/health", "")
	var body struct {
		Pusher map[string]any `json:"pusher"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body.Pusher["enabled"] != false {
		t.Errorf("pusher = %v, want disabled", body.Pusher)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := do(r, http.MethodPost, "/api/health", "")

	// Gin returns 405 for method not allowed when a route exists but not for this method
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestChannelsEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := do(r, http.MethodGet, "/api/channels", "")
	if w.Code != http.StatusOK {
		t.Fatalf("channels status = %d, want %d", w.Code, http.StatusOK)
	}
	var infos []model.ChannelInfo
	if err := json.Unmarshal(w.Body.Bytes(), &infos); err != nil {
		t.Fatalf("unmarshal channels: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "temp" || infos[0].TargetSize != 100 {
		t.Errorf("unexpected channels: %+v", infos)
	}
}

func TestSamplesThenLatest(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	w := do(r, http.MethodPost, "/api/channels/temp/samples", `{"values":[1.5, 2.5, 4]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("samples status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/channels/temp/latest?timeout=1s", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var body struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal latest: %v", err)
	}
	if body.Name != "temp" || body.Value != 4 {
		t.Errorf("latest = %+v, want temp=4", body)
	}
}

func TestNextResolvesOnPush(t *testing.T) {
	_, reg, r := newTestServer(t, nil)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- do(r, http.MethodGet, "/api/channels/temp/next?timeout=5s", "")
	}()

	deadline := time.After(5 * time.Second)
	for {
		if err := reg.PushSample(model.Sample{Channel: "temp", Value: 9}); err != nil {
			t.Fatal(err)
		}
		select {
		case w := <-done:
			if w.Code != http.StatusOK {
				t.Fatalf("next status = %d; body: %s", w.Code, w.Body.String())
			}
			return
		case <-deadline:
			t.Fatal("next never resolved")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWaitErrors(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown channel", "/api/channels/missing/latest?timeout=1s", http.StatusNotFound},
		{"timeout", "/api/channels/temp/next?timeout=20ms", http.StatusGatewayTimeout},
		{"bad timeout", "/api/channels/temp/next?timeout=soon", http.StatusBadRequest},
		{"negative timeout", "/api/channels/temp/latest?timeout=-1s", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSamplesErrors(t *testing.T) {
	_, _, r := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown channel", "/api/channels/missing/samples", `{"values":[1]}`, http.StatusNotFound},
		{"empty values", "/api/channels/temp/samples", `{"values":[]}`, http.StatusBadRequest},
		{"missing values", "/api/channels/temp/samples", `{}`, http.StatusBadRequest},
		{"not json", "/api/channels/temp/samples", `nope`, http.StatusBadRequest},
		{"non-numeric", "/api/channels/temp/samples", `{"values":["x"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := channel.NewRegistry(channel.RegistryConfig{Logger: logger})
	defer reg.Close()

	srv := NewServer("127.0.0.1:0", reg, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
