package tokensource

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	refreshSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mb_oauth_refresh_success_total",
		Help: "Successful refresh-token grants against the vendor token endpoint.",
	})

	refreshFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mb_oauth_refresh_failure_total",
		Help: "Failed refresh-token grants, by failure class (transient or terminal).",
	}, []string{"class"})

	scopeMismatch = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mb_oauth_scope_mismatch_total",
		Help: "Token responses that granted fewer scopes than requested.",
	})

	tokenValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mb_oauth_token_valid",
		Help: "Whether the in-memory access token is currently valid (1) or absent/expired (0).",
	})
)

// MetricsCollectors returns the token lifecycle collectors for registration
// alongside the vehicle metrics.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{refreshSuccess, refreshFailure, scopeMismatch, tokenValid}
}
