// Package server exposes the engine over HTTP/JSON.
//
// The surface is the control plane only: tasks, jobs, logs, analytics,
// engine status, and a WebSocket feed of log transitions. Handlers talk
// to the engine and its store; no SQL lives here. Routes are registered
// on a private mux behind a CORS and optional Basic-auth middleware
// chain, so a Server never touches the process-global http.DefaultServeMux.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maximiliancw/homeworq/config"
	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq"
	"github.com/maximiliancw/homeworq/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients.
	MaxClients = 100

	// ShutdownTimeout bounds how long Stop waits for handler and pump
	// goroutines after the HTTP listener has drained.
	ShutdownTimeout = 10 * time.Second

	// readTimeout and writeTimeout guard the HTTP server against stuck
	// peers. WebSocket connections are hijacked and keep their own
	// deadlines, so these only apply to the JSON routes.
	readTimeout  = 15 * time.Second
	writeTimeout = 30 * time.Second

	// Ad-hoc task runs are rate limited per task name.
	runRatePerSecond = 1
	runBurst         = 3
)

// Server serves the control-plane API for one engine.
type Server struct {
	engine   *hq.Engine
	settings config.Settings

	httpServer *http.Server
	listener   net.Listener

	// WebSocket hub state
	clients        map[*Client]bool
	mu             sync.RWMutex
	broadcastDrops atomic.Int64

	// Per-task limiters for POST /api/tasks/{name}/run, created on first use
	limiters  map[string]*rate.Limiter
	limiterMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

// New creates a Server for the given engine. The engine does not need to
// be running yet; handlers reject operations on a stopped engine with the
// engine's own ErrEngineStopped.
func New(engine *hq.Engine, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.ComponentLogger("api")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:   engine,
		settings: engine.Settings(),
		clients:  make(map[*Client]bool),
		limiters: make(map[string]*rate.Limiter),
		ctx:      ctx,
		cancel:   cancel,
		logger:   log,
	}
}

// routes builds the request mux. Every route goes through the CORS
// middleware; auth wraps inside CORS so preflight requests pass without
// credentials.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks", s.wrap(s.HandleTasks))
	mux.HandleFunc("/api/tasks/", s.wrap(s.HandleTask))
	mux.HandleFunc("/api/jobs", s.wrap(s.HandleJobs))
	mux.HandleFunc("/api/jobs/", s.wrap(s.HandleJob))
	mux.HandleFunc("/api/logs", s.wrap(s.HandleLogs))
	mux.HandleFunc("/api/analytics/recent-activity", s.wrap(s.HandleRecentActivity))
	mux.HandleFunc("/api/analytics/upcoming-executions", s.wrap(s.HandleUpcomingExecutions))
	mux.HandleFunc("/api/analytics/execution-history", s.wrap(s.HandleExecutionHistory))
	mux.HandleFunc("/api/analytics/task-distribution", s.wrap(s.HandleTaskDistribution))
	mux.HandleFunc("/api/analytics/error-rate", s.wrap(s.HandleErrorRate))
	mux.HandleFunc("/api/status", s.wrap(s.HandleStatus))
	mux.HandleFunc("/api/events", s.wrap(s.HandleEvents))
	return mux
}

func (s *Server) wrap(next http.HandlerFunc) http.HandlerFunc {
	return s.corsMiddleware(s.authMiddleware(next))
}

// Start binds the configured address and begins serving. The listener is
// bound synchronously so the port is taken (or the error surfaced) before
// Start returns; requests are served on a background goroutine.
func (s *Server) Start() error {
	addr := s.settings.APIAddr()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to bind API address %s", addr)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Wire the live feed: every log transition the engine records is
	// pushed to connected WebSocket clients.
	s.engine.SetBroadcaster(s)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("API server terminated",
				logger.FieldError, err,
			)
		}
	}()

	s.logger.Infow("API server listening",
		logger.FieldAddress, s.Addr(),
		"auth", s.settings.APIAuth,
	)
	return nil
}

// Addr returns the bound address, which differs from the configured one
// when the config asked for port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.settings.APIAddr()
	}
	return s.listener.Addr().String()
}

// Stop drains the HTTP listener, closes WebSocket clients, and waits for
// all server goroutines, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Stopping API server")

	// Detach from the engine first so no new broadcasts arrive while the
	// hub is torn down.
	s.engine.SetBroadcaster(nil)

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnw("HTTP shutdown did not drain cleanly",
				logger.FieldError, err,
			)
		}
	}

	// Shutdown does not track hijacked connections; close WebSocket
	// clients directly so their read pumps unblock.
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()
	for _, client := range clients {
		client.conn.Close()
		client.close()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("API goroutine shutdown timed out")
	}

	s.logger.Infow("API server stopped",
		"broadcast_drops", s.broadcastDrops.Load(),
	)
	return nil
}

// limiter returns the rate limiter for a task, creating it on first use.
func (s *Server) limiter(taskName string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[taskName]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(runRatePerSecond), runBurst)
		s.limiters[taskName] = lim
	}
	return lim
}
