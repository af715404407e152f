// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the service emits.
type Metrics struct {
	JobsTotal    *prometheus.CounterVec
	ModulesTotal *prometheus.CounterVec
	TokensTotal  prometheus.Counter
	PagesCrawled prometheus.Counter
	JobDuration  prometheus.Histogram
}

// New registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit",
			Name:      "jobs_total",
			Help:      "Audit jobs by terminal status.",
		}, []string{"status"}),
		ModulesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audit",
			Name:      "modules_total",
			Help:      "Analysis modules by terminal status.",
		}, []string{"status"}),
		TokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit",
			Name:      "model_tokens_total",
			Help:      "Model tokens consumed across all modules.",
		}),
		PagesCrawled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "audit",
			Name:      "pages_crawled_total",
			Help:      "Pages fetched by the crawler.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "audit",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of finished jobs.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}

// ObserveJob records a finished job and its runtime.
func (m *Metrics) ObserveJob(status string, seconds float64) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.Observe(seconds)
}

// ObserveModules records module outcomes and token spend for one job.
func (m *Metrics) ObserveModules(completed, failed, tokens int) {
	m.ModulesTotal.WithLabelValues("completed").Add(float64(completed))
	m.ModulesTotal.WithLabelValues("failed").Add(float64(failed))
	m.TokensTotal.Add(float64(tokens))
}
