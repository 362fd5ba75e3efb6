package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/autoscale"
	"github.com/teranos/fnpulse/pulse/trigger"
)

const (
	// ShutdownTimeout bounds how long Stop waits for in-flight requests
	ShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// ScaleReporter exposes autoscaler state to the metrics surface.
// *autoscale.Autoscaler satisfies it.
type ScaleReporter interface {
	Status() autoscale.Status
	Workers(ctx context.Context) []autoscale.WorkerInfo
}

// Options wires the server to the rest of the process
type Options struct {
	Queue          *async.Queue
	Dispatcher     *trigger.Dispatcher
	Scaler         ScaleReporter // nil when this process does not run the autoscaler
	FunctionsDir   string        // POST /upload writes here
	MaxUploadSize  int64
	AllowedOrigins []string
	Logs           *logger.StreamCore // Source for /ws/logs; defaults to logger.Stream
	Logger         *zap.SugaredLogger
}

// Server is the HTTP front door: job submission, status, triggers, events
// and metrics
type Server struct {
	queue          *async.Queue
	dispatcher     *trigger.Dispatcher
	scaler         ScaleReporter
	functionsDir   string
	maxUpload      int64
	allowedOrigins []string
	logs           *logger.StreamCore
	logger         *zap.SugaredLogger

	registry *prometheus.Registry
	metrics  *httpMetrics
	handler  http.Handler

	httpServer *http.Server
	stopped    bool
	mu         sync.Mutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a server and its routes. Nothing listens until Start.
func New(opts Options) (*Server, error) {
	if opts.Queue == nil {
		return nil, errors.New("server requires a queue")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("server requires a trigger dispatcher")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Logger
	}
	logs := opts.Logs
	if logs == nil {
		logs = logger.Stream
	}
	maxUpload := opts.MaxUploadSize
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		queue:          opts.Queue,
		dispatcher:     opts.Dispatcher,
		scaler:         opts.Scaler,
		functionsDir:   opts.FunctionsDir,
		maxUpload:      maxUpload,
		allowedOrigins: opts.AllowedOrigins,
		logs:           logs,
		logger:         log.Named("server"),
		registry:       prometheus.NewRegistry(),
		ctx:            ctx,
		cancel:         cancel,
	}

	metrics, err := s.registerMetrics()
	if err != nil {
		cancel()
		return nil, err
	}
	s.metrics = metrics
	s.handler = s.setupHTTPRoutes()
	return s, nil
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Stop. It returns
// http.ErrServerClosed after a clean Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	logger.AddPulseOpenSymbol(s.logger).Infow("HTTP server listening", "addr", ln.Addr().String())
	return srv.Serve(ln)
}

// Stop closes websocket streams and drains in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")

	// Log streams exit on cancel; hijacked connections are not tracked by Shutdown
	s.cancel()

	s.mu.Lock()
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			err = errors.Wrap(shutdownErr, "http shutdown")
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Log streams did not stop in time", "timeout", ShutdownTimeout)
	}

	logger.AddPulseCloseSymbol(s.logger).Infow("Server shutdown complete")
	return err
}
