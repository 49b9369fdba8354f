package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/PageGate/internal/gate"
	"github.com/AlexKimmel/PageGate/internal/ratelimit"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheWriteErrs  prometheus.Counter
	RateLimited     *prometheus.CounterVec
	ProduceDuration prometheus.Histogram
	ProduceFailures prometheus.Counter
	SweptRecords    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagegate_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"path", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagegate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagegate_cache_hits_total",
			Help: "Summaries served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagegate_cache_misses_total",
			Help: "Requests that missed the cache",
		}),
		CacheWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagegate_cache_write_errors_total",
			Help: "Failed cache writes (served anyway)",
		}),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagegate_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"reason"},
		),
		ProduceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagegate_produce_duration_seconds",
			Help:    "Upstream crawl+summarize duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ProduceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagegate_produce_failures_total",
			Help: "Upstream pipeline failures (quota already spent)",
		}),
		SweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagegate_swept_records_total",
			Help: "Stale records removed by the janitor",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.CacheHits, m.CacheMisses, m.CacheWriteErrs,
		m.RateLimited, m.ProduceDuration, m.ProduceFailures, m.SweptRecords,
	)
	return m
}

// GateHooks adapts the metrics to the gate's callback surface.
func (m *Metrics) GateHooks() gate.Hooks {
	return gate.Hooks{
		OnCacheHit:  m.CacheHits.Inc,
		OnCacheMiss: m.CacheMisses.Inc,
		OnDenied: func(kind ratelimit.Kind) {
			m.RateLimited.WithLabelValues(kind.String()).Inc()
		},
		OnProduced: func(d time.Duration, err error) {
			m.ProduceDuration.Observe(d.Seconds())
			if err != nil {
				m.ProduceFailures.Inc()
			}
		},
		OnCacheWrite: func(error) { m.CacheWriteErrs.Inc() },
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// otherPath is the path label for requests outside the served routes.
// Arbitrary request paths must never become label values, or every probe
// for /wp-admin and friends mints a new time series.
const otherPath = "other"

// Middleware records per-request metrics, skipping ops endpoints. Only
// paths listed in routes are used as label values; everything else is
// folded into a single bucket.
func (m *Metrics) Middleware(skip, routes map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			path := r.URL.Path
			if _, ok := routes[path]; !ok {
				path = otherPath
			}

			m.RequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
