package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_requests_total",
	Help: "Total number of requests labelled by path and status",
}, []string{"path", "status"})

var documentsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "documents_ingested_total",
	Help: "Documents that finished ingestion, by source (upload, url) and final status",
}, []string{"source", "status"})

var conversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "conversion_duration_seconds",
	Help:    "Time spent in the conversion engine.",
	Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 180, 600},
}, []string{"engine", "outcome"})

var activeConversions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "active_conversions",
	Help: "Number of conversions currently running",
})

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(path, status string) {
	httpRequestsTotal.WithLabelValues(path, status).Inc()
}

func ObserveIngest(source, status string) {
	documentsIngested.WithLabelValues(source, status).Inc()
}

func ObserveConversion(engine, outcome string, elapsed time.Duration) {
	conversionDuration.WithLabelValues(engine, outcome).Observe(elapsed.Seconds())
}

func ConversionStarted() {
	activeConversions.Inc()
}

func ConversionFinished() {
	activeConversions.Dec()
}
