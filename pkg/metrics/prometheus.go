package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics глобальный контейнер метрик
type Metrics struct {
	// HTTP (внешний JSON entry point)
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Фазы обработки запроса (C1-C9, по границам)
	PhaseDuration *prometheus.HistogramVec

	// Scatter/gather
	ServersScattered      *prometheus.HistogramVec
	SegmentsScattered     *prometheus.HistogramVec
	SpeculativeDispatches prometheus.Counter
	ShardFailuresTotal    *prometheus.CounterVec
	ShardTimeoutsTotal    prometheus.Counter

	// Hybrid routing
	HybridTimeBoundaryMissingTotal prometheus.Counter

	// Reduce
	RowsReturned    *prometheus.HistogramVec
	ExceptionsTotal *prometheus.CounterVec

	// Query lifecycle outcomes
	QueriesTotal *prometheus.CounterVec

	// Информация о сервисе
	ServiceInfo *prometheus.GaugeVec

	// In-flight HTTP requests, kept by method so a stuck handler for one
	// route is visible separately from overall load.
	InFlight *RequestTracker
}

var defaultMetrics *Metrics

// InitMetrics инициализирует метрики
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP query requests",
			},
			[]string{"status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP query requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of query requests being processed",
			},
		),

		PhaseDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "query_phase_duration_seconds",
				Help:      "Duration of each broker query phase (compile, validate, route, scatter, gather, deserialize, reduce)",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"phase"},
		),

		ServersScattered: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "scatter_servers",
				Help:      "Number of servers contacted per query",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{"table"},
		),

		SegmentsScattered: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "scatter_segments",
				Help:      "Number of segments dispatched per query",
				Buckets:   []float64{1, 4, 16, 64, 256, 1024, 4096},
			},
			[]string{"table"},
		),

		SpeculativeDispatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "speculative_dispatches_total",
				Help:      "Total number of speculative duplicate shard requests actually issued",
			},
		),

		ShardFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shard_failures_total",
				Help:      "Total number of shard requests that failed or errored, by reason",
			},
			[]string{"reason"},
		),

		ShardTimeoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shard_timeouts_total",
				Help:      "Total number of shard requests that did not complete before the query deadline",
			},
		),

		HybridTimeBoundaryMissingTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "hybrid_time_boundary_missing_total",
				Help:      "Total number of hybrid-table queries dispatched without a time boundary",
			},
		),

		RowsReturned: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rows_returned",
				Help:      "Number of rows in the reduced response",
				Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"query_type"},
		),

		ExceptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "exceptions_total",
				Help:      "Total number of exceptions attached to responses, by error code",
			},
			[]string{"code"},
		),

		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queries_total",
				Help:      "Total number of queries processed, by terminal state",
			},
			[]string{"state"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	m.InFlight = NewRequestTracker(m.HTTPRequestsInFlight)
	prometheus.MustRegister(NewRuntimeCollector(namespace, subsystem))

	defaultMetrics = m
	return m
}

// Get возвращает глобальные метрики
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("broker", "")
	}
	return defaultMetrics
}

// RecordHTTPRequest записывает метрики HTTP запроса к внешнему entry point
func (m *Metrics) RecordHTTPRequest(status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(status).Inc()
	m.HTTPRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPhase записывает длительность одной фазы обработки запроса (C1-C9)
func (m *Metrics) RecordPhase(phase string, duration time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordScatter записывает размер fan-out одного запроса
func (m *Metrics) RecordScatter(table string, servers, segments int) {
	m.ServersScattered.WithLabelValues(table).Observe(float64(servers))
	m.SegmentsScattered.WithLabelValues(table).Observe(float64(segments))
}

// RecordShardFailure увеличивает счётчик отказов шардов по причине
func (m *Metrics) RecordShardFailure(reason string) {
	m.ShardFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordQueryOutcome записывает терминальное состояние запроса и число строк/исключений
func (m *Metrics) RecordQueryOutcome(state, queryType string, rows int, exceptionCodes []int) {
	m.QueriesTotal.WithLabelValues(state).Inc()
	m.RowsReturned.WithLabelValues(queryType).Observe(float64(rows))
	for _, code := range exceptionCodes {
		m.ExceptionsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// SetServiceInfo устанавливает информацию о сервисе
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler возвращает HTTP handler для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer запускает HTTP сервер для метрик
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, ошибка записи не критична
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}

// RuntimeCollector reports Go runtime stats (goroutines, heap, GC pauses)
// alongside the broker's own metrics. Registered once from InitMetrics so
// /metrics carries process health next to query-lifecycle counters without
// a caller having to poll runtime.ReadMemStats itself.
type RuntimeCollector struct {
	goroutines *prometheus.Desc
	memAlloc   *prometheus.Desc
	memTotal   *prometheus.Desc
	memSys     *prometheus.Desc
	gcPause    *prometheus.Desc
	gcRuns     *prometheus.Desc
}

// NewRuntimeCollector creates a runtime stats collector under namespace/subsystem.
func NewRuntimeCollector(namespace, subsystem string) *RuntimeCollector {
	return &RuntimeCollector{
		goroutines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_goroutines"),
			"Number of goroutines",
			nil, nil,
		),
		memAlloc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_memory_alloc_bytes"),
			"Bytes allocated and still in use",
			nil, nil,
		),
		memTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_memory_total_alloc_bytes"),
			"Total bytes allocated (even if freed)",
			nil, nil,
		),
		memSys: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_memory_sys_bytes"),
			"Bytes obtained from system",
			nil, nil,
		),
		gcPause: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_gc_pause_seconds"),
			"GC pause duration",
			nil, nil,
		),
		gcRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "runtime_gc_runs_total"),
			"Total number of completed GC cycles",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.goroutines
	ch <- c.memAlloc
	ch <- c.memTotal
	ch <- c.memSys
	ch <- c.gcPause
	ch <- c.gcRuns
}

// Collect implements prometheus.Collector.
func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))
	ch <- prometheus.MustNewConstMetric(c.memAlloc, prometheus.GaugeValue, float64(stats.Alloc))
	ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.CounterValue, float64(stats.TotalAlloc))
	ch <- prometheus.MustNewConstMetric(c.memSys, prometheus.GaugeValue, float64(stats.Sys))
	ch <- prometheus.MustNewConstMetric(c.gcRuns, prometheus.CounterValue, float64(stats.NumGC))

	if stats.NumGC > 0 {
		ch <- prometheus.MustNewConstMetric(c.gcPause, prometheus.GaugeValue, float64(stats.PauseNs[(stats.NumGC-1)%256])/1e9)
	}
}

// RequestTracker backs Metrics.InFlight: MetricsMiddleware calls Start/End
// around each handler invocation so HTTPRequestsInFlight reflects requests
// actually in progress, broken down by route for per-method visibility.
type RequestTracker struct {
	mu       sync.Mutex
	active   map[string]int
	inFlight prometheus.Gauge
}

// NewRequestTracker builds a tracker that drives inFlight as requests start and end.
func NewRequestTracker(inFlight prometheus.Gauge) *RequestTracker {
	return &RequestTracker{
		active:   make(map[string]int),
		inFlight: inFlight,
	}
}

// Start records the beginning of a request for the given route.
func (t *RequestTracker) Start(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[route]++
	t.inFlight.Inc()
}

// End records the completion of a request for the given route.
func (t *RequestTracker) End(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active[route] > 0 {
		t.active[route]--
		t.inFlight.Dec()
	}
}
