// Package metrics exposes Prometheus counters for gateway calls, saga
// failures and mapping jobs.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redirector"

// Recorder is what billing and jobqueue report into.
type Recorder interface {
	ObserveGatewayCall(operation string, d time.Duration, err error)
	RecordSagaFailure(operation, step string)
	RecordJobSubmitted(queue, source string)
	RecordJobFinished(queue, status string)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	gatewayCalls   *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	sagaFailures   *prometheus.CounterVec
	jobsSubmitted  *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		sagaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_saga_failures_total",
			Help:      "Billing operations that stopped at a step.",
		}, []string{"operation", "step"}),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_jobs_submitted_total",
			Help:      "Redirect mapping jobs accepted.",
		}, []string{"queue", "source"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_jobs_finished_total",
			Help:      "Redirect mapping jobs that reached a terminal status.",
		}, []string{"queue", "status"}),
	}

	reg.MustRegister(
		c.gatewayCalls,
		c.gatewayLatency,
		c.sagaFailures,
		c.jobsSubmitted,
		c.jobsFinished,
	)
	return c
}

func (c *Collector) ObserveGatewayCall(operation string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.gatewayCalls.WithLabelValues(operation, outcome).Inc()
	c.gatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (c *Collector) RecordSagaFailure(operation, step string) {
	c.sagaFailures.WithLabelValues(operation, step).Inc()
}

func (c *Collector) RecordJobSubmitted(queue, source string) {
	c.jobsSubmitted.WithLabelValues(queue, source).Inc()
}

func (c *Collector) RecordJobFinished(queue, status string) {
	c.jobsFinished.WithLabelValues(queue, status).Inc()
}

// Nop discards everything; used when metrics are disabled and in tests.
type Nop struct{}

func (Nop) ObserveGatewayCall(string, time.Duration, error) {}
func (Nop) RecordSagaFailure(string, string)                {}
func (Nop) RecordJobSubmitted(string, string)               {}
func (Nop) RecordJobFinished(string, string)                {}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
