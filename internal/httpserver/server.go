package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/binrelay/internal/influx"
	"github.com/tinytelemetry/binrelay/internal/model"
)

const (
	// DefaultWaitTimeout bounds latest/next requests that carry no timeout.
	DefaultWaitTimeout = 30 * time.Second
	// maxWaitTimeout stays below the server's write timeout.
	maxWaitTimeout = 55 * time.Second
)

// PusherStats reports delivery counters for the health endpoint.
type PusherStats interface {
	Stats() influx.Stats
}

// Server provides an HTTP API over the channel registry.
type Server struct {
	addr      string
	channels  model.ChannelAPI
	pusher    PusherStats
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server. pusher may be nil when
// publishing is disabled.
func NewServer(addr string, channels model.ChannelAPI, pusher PusherStats) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		channels: channels,
		pusher:   pusher,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/api/health", s.handleHealth)
	r.GET("/api/channels", s.handleChannels)
	r.GET("/api/channels/:name/latest", s.handleLatest)
	r.GET("/api/channels/:name/next", s.handleNext)
	r.POST("/api/channels/:name/samples", s.handleSamples)
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s.routes(r)

	s.server = &http.Server{
		Handler:           r,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop cancels pending waits and gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	pusher := gin.H{"enabled": false}
	if s.pusher != nil {
		st := s.pusher.Stats()
		pusher = gin.H{
			"enabled":  true,
			"enqueued": st.Enqueued,
			"dropped":  st.Dropped,
			"sent":     st.Sent,
			"failed":   st.Failed,
			"queued":   st.Queued,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.startTime).String(),
		"channels": len(s.channels.Channels()),
		"pusher":   pusher,
	})
}

func (s *Server) handleChannels(c *gin.Context) {
	c.JSON(http.StatusOK, s.channels.Channels())
}

func (s *Server) handleLatest(c *gin.Context) {
	s.handleWait(c, s.channels.GetLatest)
}

func (s *Server) handleNext(c *gin.Context) {
	s.handleWait(c, s.channels.GetNew)
}

func (s *Server) handleWait(c *gin.Context, get func(context.Context, string) (float64, error)) {
	name := c.Param("name")

	timeout := DefaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout must be a positive duration such as 5s"})
			return
		}
		timeout = min(d, maxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	v, err := get(ctx, name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"name": name, "value": v})
	case errors.Is(err, model.ErrUnknownChannel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "no value within " + timeout.String()})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleSamples(c *gin.Context) {
	var req struct {
		Values []float64 `json:"values" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing values field"})
		return
	}

	name := c.Param("name")
	for i, v := range req.Values {
		if err := s.channels.PushSample(model.Sample{Channel: name, Value: v}); err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, model.ErrUnknownChannel) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error(), "accepted": i})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(req.Values)})
}
