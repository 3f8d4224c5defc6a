package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful deliveries and requests.
	OutcomeSuccess = "success"
	// OutcomeError labels failed deliveries and requests.
	OutcomeError = "error"
)

var (
	analysesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "medimage",
			Name:      "analyses_started_total",
			Help:      "Total number of analyses accepted by the lifecycle engine.",
		},
	)

	analysesFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medimage",
			Name:      "analyses_finished_total",
			Help:      "Analyses that reached a terminal state, partitioned by status and error code.",
		},
		[]string{"status", "code"},
	)

	analysesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medimage",
			Name:      "analyses_running",
			Help:      "Workloads currently in flight.",
		},
	)

	workloadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "medimage",
			Name:      "workload_seconds",
			Help:      "Wall-clock duration of analysis workloads.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90},
		},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medimage",
			Name:      "ws_connections",
			Help:      "Live websocket connections in the registry.",
		},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medimage",
			Name:      "notifications_total",
			Help:      "Notification deliveries, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medimage",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medimage",
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesStarted,
		analysesFinished,
		analysesRunning,
		workloadSeconds,
		wsConnections,
		deliveries,
		httpRequests,
		httpInFlight,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func AnalysisStarted() { analysesStarted.Inc() }

// AnalysisFinished records a terminal transition.
func AnalysisFinished(status, code string) {
	analysesFinished.WithLabelValues(status, code).Inc()
}

// WorkloadStarted marks a workload in flight and returns the func that ends it.
func WorkloadStarted() func() {
	start := time.Now()
	analysesRunning.Inc()
	return func() {
		analysesRunning.Dec()
		workloadSeconds.Observe(time.Since(start).Seconds())
	}
}

func SetConnections(n int) { wsConnections.Set(float64(n)) }

// ObserveDelivery counts one notification write.
func ObserveDelivery(outcome string) {
	if outcome != OutcomeSuccess {
		outcome = OutcomeError
	}
	deliveries.WithLabelValues(outcome).Inc()
}

// ObserveRequest counts one finished HTTP request by status code.
func ObserveRequest(status int) {
	outcome := OutcomeSuccess
	if status >= 400 {
		outcome = OutcomeError
	}
	httpRequests.WithLabelValues(outcome).Inc()
}

// RequestStarted marks one request in flight and returns the func that ends it.
func RequestStarted() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}
