// Package metrics defines the Prometheus instruments the gateway updates
// as requests flow through the pipeline (C1-C11). It deliberately does not
// expose an HTTP handler or registry wiring for a /metrics endpoint: scrape
// exposition is an outer-surface concern left to the operator's deployment,
// not something this module owns.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestsTotal counts each candidate provider the pipeline tried for a
	// request, labeled by the model requested, that candidate's name, and
	// outcome ("success" or "error").
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unigate",
		Name:      "requests_total",
		Help:      "Total chat completion requests processed, by model and serving provider.",
	}, []string{"model", "provider", "outcome"})

	// RequestDuration observes the latency of each candidate provider call
	// (all of its retries included), labeled by model and provider.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "unigate",
		Name:      "request_duration_seconds",
		Help:      "Latency of each candidate provider call, retries included, by model and provider.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model", "provider"})

	// ProviderCallsTotal counts each individual provider call attempt
	// (including retries and fallback hops), labeled by outcome.
	ProviderCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unigate",
		Name:      "provider_calls_total",
		Help:      "Individual provider call attempts, including retries and fallback hops.",
	}, []string{"provider", "outcome"})

	// BreakerState reports each provider's current circuit breaker state as
	// a gauge: 0=closed, 0.5=half_open, 1=open.
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "unigate",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per provider (0=closed, 0.5=half_open, 1=open).",
	}, []string{"provider"})

	// HealthStatus reports each provider's health monitor status as a
	// gauge: 0=unknown, 1=healthy, -1=unhealthy.
	HealthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "unigate",
		Name:      "health_status",
		Help:      "Health monitor status per provider (1=healthy, -1=unhealthy, 0=unknown).",
	}, []string{"provider"})

	// CacheLookupsTotal is labeled by tier ("memory", "redis", "semantic")
	// and outcome ("hit", "miss"). It is registered with the other
	// collectors, but no code path in the gateway increments it.
	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unigate",
		Name:      "cache_lookups_total",
		Help:      "Cache tier lookups, by tier and outcome.",
	}, []string{"tier", "outcome"})

	// RateLimitRejectionsTotal counts admission rejections, labeled by the
	// quota that was exceeded.
	RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unigate",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the rate limiter, by limit type.",
	}, []string{"limit_type"})

	// RetryAttemptsTotal counts provider call attempts that failed inside
	// the retry engine, labeled by provider; the pipeline always sets
	// outcome to "retry".
	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unigate",
		Name:      "retry_attempts_total",
		Help:      "Retry attempts made by the retry engine, by provider and outcome.",
	}, []string{"provider", "outcome"})
)

// Register registers every collector above with an
// operator-supplied prometheus.Registerer, so main.go can choose whether
// and how to wire up exposition without this package importing net/http.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		RequestsTotal,
		RequestDuration,
		ProviderCallsTotal,
		BreakerState,
		HealthStatus,
		CacheLookupsTotal,
		RateLimitRejectionsTotal,
		RetryAttemptsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// BreakerStateValue maps a breaker.State string to the gauge value
// BreakerState expects.
func BreakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 0.5
	default:
		return 0
	}
}

// HealthStatusValue maps a health.Status string to the gauge value
// HealthStatus expects.
func HealthStatusValue(status string) float64 {
	switch status {
	case "healthy":
		return 1
	case "unhealthy":
		return -1
	default:
		return 0
	}
}
