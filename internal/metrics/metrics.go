// Package metrics holds the gateway's Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Device flow metrics
	DeviceAuthorizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_gateway_device_authorizations_total",
		Help: "Total number of device authorization requests sent to the provider",
	}, []string{"result"})
	PollRounds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_gateway_poll_rounds_total",
		Help: "Total number of token endpoint round trips grouped by provider outcome",
	}, []string{"outcome"})
	PollDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "copilot_gateway_poll_duration_seconds",
		Help:    "Time spent in a blocking poll until it resolved",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 900},
	}, []string{"result"})

	// Credential exchange metrics
	CredentialExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_gateway_credential_exchanges_total",
		Help: "Total number of access token to Copilot token exchanges",
	}, []string{"result"})

	// Session lifecycle metrics
	SessionCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copilot_gateway_session_created_total",
		Help: "Total number of sessions created",
	})
	SessionInvalidated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copilot_gateway_session_invalidated_total",
		Help: "Total number of sessions removed by logout",
	})
	SessionExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copilot_gateway_session_expired_total",
		Help: "Total number of sessions found expired on use",
	})

	// Chat metrics
	ChatRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_gateway_chat_requests_total",
		Help: "Total number of chat completion requests",
	}, []string{"result"})
	ChatDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "copilot_gateway_chat_duration_seconds",
		Help:    "Latency of chat completion calls",
		Buckets: prometheus.DefBuckets,
	})

	// HTTP API metrics
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_gateway_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "route", "status"})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copilot_gateway_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(DeviceAuthorizations)
	prometheus.MustRegister(PollRounds)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(CredentialExchanges)
	prometheus.MustRegister(SessionCreated)
	prometheus.MustRegister(SessionInvalidated)
	prometheus.MustRegister(SessionExpired)
	prometheus.MustRegister(ChatRequests)
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(HTTPRequests)
	prometheus.MustRegister(RateLimited)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
