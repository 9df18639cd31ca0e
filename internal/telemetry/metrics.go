package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TicksTotal         = prometheus.NewCounter(prometheus.CounterOpts{Name: "teesched_ticks_total", Help: "Scheduler ticks executed"})
	SlotsFound         = prometheus.NewCounter(prometheus.CounterOpts{Name: "teesched_slots_found_total", Help: "Eligible slots returned by availability checks"})
	BookingsSucceeded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "teesched_bookings_succeeded_total", Help: "Booking transactions that completed"})
	TickFailures       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "teesched_tick_failures_total", Help: "Tick failures by error kind"}, []string{"kind"})
	NotifyFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "teesched_notify_failures_total", Help: "Notification channel deliveries that failed"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "teesched_queue_depth", Help: "Ready tick entries across priorities"})
	DelayedDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "teesched_queue_delayed", Help: "Scheduled (delayed) tick entries"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "teesched_ticks_inflight", Help: "Ticks currently leased by the worker"})
	BackoffSecondsHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "teesched_retry_backoff_seconds",
		Help:    "Computed retry backoff delays",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Handler exposes the /metrics handler behind a singleton registration.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TicksTotal,
			SlotsFound,
			BookingsSucceeded,
			TickFailures,
			NotifyFailures,
			QueueDepthGauge,
			DelayedDepthGauge,
			InFlightGauge,
			BackoffSecondsHist,
		)
	})
	return promhttp.Handler()
}
