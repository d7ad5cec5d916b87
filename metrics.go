/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package msglimit

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelAlg        = "alg"
	metricsLabelBacklogged = "backlogged"
)

const (
	metricsValYes = "yes"
	metricsValNo  = "no"
)

// MetricsCollector represents collector of metrics for message admission decisions.
type MetricsCollector struct {
	AdmittedMessages *prometheus.CounterVec
	RejectedMessages *prometheus.CounterVec
}

// NewMetricsCollector creates a new instance of MetricsCollector.
func NewMetricsCollector(namespace string) *MetricsCollector {
	admittedMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admitted_messages_total",
		Help:      "Number of messages admitted by the rate limiter.",
	}, []string{metricsLabelAlg})

	rejectedMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejected_messages_total",
		Help:      "Number of messages rejected due to the rate limit exceeded.",
	}, []string{metricsLabelAlg, metricsLabelBacklogged})

	return &MetricsCollector{
		AdmittedMessages: admittedMessages,
		RejectedMessages: rejectedMessages,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (mc *MetricsCollector) MustCurryWith(labels prometheus.Labels) *MetricsCollector {
	return &MetricsCollector{
		AdmittedMessages: mc.AdmittedMessages.MustCurryWith(labels),
		RejectedMessages: mc.RejectedMessages.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (mc *MetricsCollector) MustRegister() {
	prometheus.MustRegister(
		mc.AdmittedMessages,
		mc.RejectedMessages,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (mc *MetricsCollector) Unregister() {
	prometheus.Unregister(mc.AdmittedMessages)
	prometheus.Unregister(mc.RejectedMessages)
}

func makePromLabelsForAdmit(alg string) prometheus.Labels {
	return prometheus.Labels{metricsLabelAlg: alg}
}

func makePromLabelsForReject(alg string, backlogged bool) prometheus.Labels {
	backloggedVal := metricsValNo
	if backlogged {
		backloggedVal = metricsValYes
	}
	return prometheus.Labels{metricsLabelAlg: alg, metricsLabelBacklogged: backloggedVal}
}
