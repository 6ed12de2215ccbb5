package livereload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/dshills/taskforge/internal/logging"
)

// DefaultAddr is the classic livereload port.
const DefaultAddr = "127.0.0.1:35729"

// Server exposes a Hub over HTTP:
//
//	GET  /livereload            Server-Sent Events stream of "reload" events
//	GET  /changed?files=a,b     trigger a reload (also POST, with an optional
//	                            JSON body {"files": [...]} or {"files": "a,b"})
//	GET  /healthz               liveness and client count
type Server struct {
	hub    *Hub
	addr   string
	engine *gin.Engine
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server for hub listening on addr.
func NewServer(addr string, hub *Hub, logger *logging.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = logging.Nop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		hub:    hub,
		addr:   addr,
		engine: gin.New(),
		logger: logger.WithComponent("livereload"),
	}
	s.engine.Use(gin.Recovery(), s.logRequests())
	s.engine.GET("/livereload", s.stream)
	s.engine.GET("/changed", s.changed)
	s.engine.POST("/changed", s.changed)
	s.engine.GET("/healthz", s.health)
	return s
}

// Name identifies the server as a group member.
func (s *Server) Name() string { return "livereload" }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the address the server listens on once Run has called
// ready, or the configured address before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Run serves until ctx is cancelled. ready is called once the listener is
// bound.
func (s *Server) Run(ctx context.Context, out io.Writer, ready func()) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("livereload listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if out != nil {
		fmt.Fprintf(out, "Live reload server listening on %s\n", ln.Addr())
	}
	if ready != nil {
		ready()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) stream(c *gin.Context) {
	client := s.hub.Subscribe()
	defer s.hub.Unsubscribe(client)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.SSEvent("hello", gin.H{"clients": s.hub.Clients()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return false
			}
			c.SSEvent("reload", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) changed(c *gin.Context) {
	var files []string
	for _, v := range c.QueryArray("files") {
		files = appendSplit(files, v)
	}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(body) > 0 {
			if !gjson.ValidBytes(body) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
				return
			}
			field := gjson.GetBytes(body, "files")
			if field.IsArray() {
				for _, f := range field.Array() {
					files = appendSplit(files, f.String())
				}
			} else if field.Exists() {
				files = appendSplit(files, field.String())
			}
		}
	}

	ev := s.hub.Reload(files)
	c.JSON(http.StatusOK, gin.H{"id": ev.ID, "files": ev.Files, "clients": s.hub.Clients()})
}

// appendSplit appends the non-empty comma separated names in v.
func appendSplit(files []string, v string) []string {
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Clients()})
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
