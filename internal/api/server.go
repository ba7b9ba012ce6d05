// Package api exposes flow runs over HTTP: start, inspect, follow the event
// stream and terminate.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BDNK1/blockflow/flow"
	"github.com/BDNK1/blockflow/internal/constants"
)

// ErrRunNotFound is returned for run ids the server does not know.
var ErrRunNotFound = errors.New("run not found")

// Server keeps an in-memory table of runs and serves it over HTTP. Runs
// execute submitted action code, so the server has no business listening
// beyond the local host unless something in front of it authenticates.
type Server struct {
	launcher Launcher
	l        *slog.Logger
	router   *gin.Engine

	mu     sync.RWMutex
	runs   map[string]*record
	active map[string]string // flow id -> reserved or running run id
}

// NewServer creates a server that starts runs through launcher.
func NewServer(launcher Launcher, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}
	s := &Server{
		launcher: launcher,
		l:        l,
		runs:     make(map[string]*record),
		active:   make(map[string]string),
	}

	g := gin.New()
	g.Use(gin.Recovery(), s.logRequests())
	s.routes(g)
	s.router = g
	return s
}

func (s *Server) routes(g *gin.Engine) {
	api := g.Group("/api")
	api.GET("/health", s.health)
	api.GET("/runs", s.listRuns)
	api.POST("/runs", s.startRun)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/events", s.streamEvents)
	api.DELETE("/runs/:id", s.terminateRun)
}

// Mount serves h for GET requests on path, next to the API routes.
func (s *Server) Mount(path string, h http.Handler) {
	s.router.GET(path, gin.WrapH(h))
}

// Handler returns the routes as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then terminates active runs and
// shuts down. An empty addr listens on the loopback default.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = constants.DefaultServerAddress
	}
	if !loopbackOnly(addr) {
		s.l.Warn("API server is reachable from other hosts and runs submitted code without authentication", "address", addr)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.l.Info("API server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.l.Info("Shutting down API server")
	s.TerminateAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loopbackOnly reports whether addr binds to a loopback interface only.
func loopbackOnly(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// TerminateAll stops every run that has not resolved.
func (s *Server) TerminateAll() {
	s.mu.RLock()
	var pending []Run
	for _, rec := range s.runs {
		if _, done := rec.run.Result(); !done {
			pending = append(pending, rec.run)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range pending {
		wg.Add(1)
		go func(r Run) {
			defer wg.Done()
			r.Terminate()
		}(r)
	}
	wg.Wait()
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.l.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) lookup(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return rec, nil
}

func (s *Server) startRun(c *gin.Context) {
	var req flow.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Wrong request body format: " + err.Error()})
		return
	}
	if req.Flow.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "flow.id is required"})
		return
	}

	if !s.reserve(req.Flow.ID) {
		c.JSON(http.StatusConflict, gin.H{"message": "flow " + req.Flow.ID + " already has an active run"})
		return
	}

	run, warnings, err := s.launcher.Launch(context.WithoutCancel(c.Request.Context()), req)
	if err != nil {
		s.release(req.Flow.ID, "")
		var compileErr *CompileError
		status := http.StatusInternalServerError
		if errors.As(err, &compileErr) {
			status = http.StatusBadRequest
		}
		s.l.Error("Failed to start run", "flow_id", req.Flow.ID, "error", err)
		c.JSON(status, gin.H{"message": err.Error(), "warnings": warnings})
		return
	}

	rec := newRecord(req.Flow.ID, run, warnings)
	s.mu.Lock()
	s.runs[rec.id] = rec
	s.active[req.Flow.ID] = rec.id
	s.mu.Unlock()

	go func() {
		rec.consume()
		<-run.Done()
		s.release(req.Flow.ID, rec.id)
	}()

	c.JSON(http.StatusCreated, rec.view())
}

// reserve claims the flow's single active slot.
func (s *Server) reserve(flowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[flowID]; busy {
		return false
	}
	s.active[flowID] = ""
	return true
}

// release frees the flow's slot if it still belongs to runID.
func (s *Server) release(flowID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.active[flowID]; ok && current == runID {
		delete(s.active, flowID)
	}
}

func (s *Server) listRuns(c *gin.Context) {
	s.mu.RLock()
	views := make([]runView, 0, len(s.runs))
	for _, rec := range s.runs {
		views = append(views, rec.view())
	}
	s.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].StartedAt.Before(views[j].StartedAt) })
	c.JSON(http.StatusOK, views)
}

func (s *Server) getRun(c *gin.Context) {
	rec, err := s.lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec.view())
}

func (s *Server) terminateRun(c *gin.Context) {
	rec, err := s.lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}
	if _, done := rec.run.Result(); done {
		c.JSON(http.StatusOK, rec.view())
		return
	}

	go rec.run.Terminate()
	c.JSON(http.StatusAccepted, gin.H{"id": rec.id, "state": "terminating"})
}

// streamEvents replays the run's events as server-sent events and follows
// new ones until the run ends or the client leaves.
func (s *Server) streamEvents(c *gin.Context) {
	rec, err := s.lookup(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
		return
	}

	next := 0
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		events, changed, closed := rec.since(next)
		for _, ev := range events {
			c.SSEvent(string(ev.Type), ev)
		}
		next += len(events)
		if len(events) > 0 {
			return true
		}
		if closed {
			<-rec.run.Done()
			c.SSEvent("end", rec.view())
			return false
		}

		select {
		case <-changed:
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
