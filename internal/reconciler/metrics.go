package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	omegaCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omega_chain_cycles_total",
		Help: "Total reconciliation cycles completed.",
	})

	omegaCycleCounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omega_chain_cycle_items_total",
		Help: "Total items processed by reconciliation cycles, by step.",
	}, []string{"step"})

	omegaSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omega_chain_submissions_total",
		Help: "Total chain submissions resolved, by outcome.",
	}, []string{"outcome"})

	omegaRPCLatency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omega_chain_rpc_latency_ms",
		Help: "Latency of the most recent chain RPC ping in milliseconds.",
	})
)

func observeCycle(m *CycleMetrics) {
	omegaCyclesTotal.Inc()
	omegaCycleCounts.WithLabelValues("enqueued").Add(float64(m.Enqueued))
	omegaCycleCounts.WithLabelValues("submitted").Add(float64(m.Submitted))
	omegaCycleCounts.WithLabelValues("confirmed").Add(float64(m.Confirmed))
	if m.RPCOk {
		omegaRPCLatency.Set(float64(m.RPCLatencyMS))
	}
}

func observeSubmission(outcome string) {
	omegaSubmissionsTotal.WithLabelValues(outcome).Inc()
}
