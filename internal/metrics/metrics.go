// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pantry_score"

var (
	// Registry хранит коллекторы сервиса.
	Registry = prometheus.NewRegistry()

	scoreDeltas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "deltas_total",
			Help:      "Number of score deltas applied to user inventories.",
		},
		[]string{"direction"},
	)

	scorePoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Absolute points moved by score deltas.",
		},
		[]string{"direction"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Number of batch job runs.",
		},
		[]string{"job", "success"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "run_duration_seconds",
			Help:      "Duration of batch job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)

	jobItemFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "item_failures_total",
			Help:      "Items skipped by batch jobs because of errors.",
		},
		[]string{"job"},
	)

	productsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "products",
			Name:      "expired_total",
			Help:      "Products transitioned to expired by reconciliation.",
		},
	)

	productsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "products",
			Name:      "purged_total",
			Help:      "Expired and consumed products removed by cleanup.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		scoreDeltas,
		scorePoints,
		jobRuns,
		jobDuration,
		jobItemFailures,
		productsExpired,
		productsPurged,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler возвращает HTTP-обработчик с зарегистрированными метриками.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordScoreDelta учитывает применённое изменение счёта.
func RecordScoreDelta(delta int64) {
	direction := "credit"
	if delta < 0 {
		direction = "debit"
		delta = -delta
	}
	scoreDeltas.WithLabelValues(direction).Inc()
	scorePoints.WithLabelValues(direction).Add(float64(delta))
}

// RecordJobRun учитывает запуск пакетной задачи.
func RecordJobRun(job string, duration time.Duration, success bool) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordJobItemFailure учитывает пропущенный из-за ошибки элемент задачи.
func RecordJobItemFailure(job string) {
	jobItemFailures.WithLabelValues(job).Inc()
}

// RecordProductsExpired учитывает продукты, переведённые в статус expired.
func RecordProductsExpired(n int) {
	productsExpired.Add(float64(n))
}

// RecordProductsPurged учитывает удалённые при очистке продукты.
func RecordProductsPurged(n int64) {
	productsPurged.Add(float64(n))
}

// RecordHTTPRequest учитывает обработанный HTTP-запрос.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
