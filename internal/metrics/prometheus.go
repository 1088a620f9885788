package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_enqueued_total",
			Help: "Total number of messages enqueued by type",
		},
		[]string{"type"},
	)

	MessagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_dispatched_total",
			Help: "Total number of dispatched messages by terminal status",
		},
		[]string{"status"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_dispatch_batch_duration_seconds",
			Help:    "Duration of one dispatch batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	TokensMinted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_report_tokens_minted_total",
			Help: "Total number of report tokens minted by report type",
		},
		[]string{"report_type"},
	)

	TokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_report_token_validations_total",
			Help: "Total number of report token validations by outcome",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Init registers metrics with Prometheus. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(MessagesEnqueued)
		prometheus.MustRegister(MessagesDispatched)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(TokensMinted)
		prometheus.MustRegister(TokenValidations)
	})
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
