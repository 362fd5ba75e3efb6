package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
)

// gaugeTimeout bounds each database read made during a scrape
const gaugeTimeout = 2 * time.Second

// httpMetrics records request counts and latencies per route pattern
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// registerMetrics registers HTTP instrumentation and the platform gauges
// on the server's own registry
func (s *Server) registerMetrics() (*httpMetrics, error) {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fnpulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fnpulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	collectors := []prometheus.Collector{
		m.requests,
		m.duration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fnpulse_queue_size",
			Help: "Jobs waiting in the queue",
		}, s.gauge(func(ctx context.Context) (float64, error) {
			n, err := s.queue.Size(ctx)
			return float64(n), err
		})),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fnpulse_total_cost",
			Help: "Cost accumulated over all terminal jobs",
		}, s.gauge(s.queue.TotalCost)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "fnpulse_active_workers",
			Help: "Worker processes under supervision",
		}, func() float64 {
			return float64(s.activeWorkers())
		}),
		newJobStatusCollector(s.queue, s.logger),
	}
	for _, c := range collectors {
		if err := s.registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register metrics")
		}
	}
	return m, nil
}

// gauge adapts a context-taking read into a GaugeFunc callback. Read
// failures are logged and reported as zero.
func (s *Server) gauge(read func(ctx context.Context) (float64, error)) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(s.ctx, gaugeTimeout)
		defer cancel()
		v, err := read(ctx)
		if err != nil {
			s.logger.Warnw("Metrics read failed", logger.FieldError, err)
			return 0
		}
		return v
	}
}

func (s *Server) activeWorkers() int {
	if s.scaler == nil {
		return 0
	}
	return s.scaler.Status().Workers
}

// jobStatusCollector exports job counts per status from one query per scrape
type jobStatusCollector struct {
	queue *async.Queue
	desc  *prometheus.Desc
	log   *zap.SugaredLogger
}

func newJobStatusCollector(q *async.Queue, log *zap.SugaredLogger) *jobStatusCollector {
	return &jobStatusCollector{
		queue: q,
		desc: prometheus.NewDesc(
			"fnpulse_jobs",
			"Jobs by status",
			[]string{"status"}, nil,
		),
		log: log,
	}
}

func (c *jobStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *jobStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
	defer cancel()

	stats, err := c.queue.GetStats(ctx)
	if err != nil {
		c.log.Warnw("Metrics read failed", logger.FieldError, err)
		return
	}
	for status, n := range map[async.JobStatus]int{
		async.JobStatusQueued:   stats.Queued,
		async.JobStatusRunning:  stats.Running,
		async.JobStatusFinished: stats.Finished,
		async.JobStatusFailed:   stats.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(status))
	}
}

// instrument wraps h, recording the route pattern rather than the raw path
// so /status/{job_id} stays one series
func (m *httpMetrics) instrument(pattern string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(ww, r)

		m.requests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.status)).Inc()
		m.duration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack implements http.Hijacker so WebSocket upgrades work through middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
}
