package chain

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wyvernnet/sncore/metrics"
)

// Metrics holds the Prometheus collectors the core updates as it admits
// blocks, switches forks, and runs maintenance. All fields are safe for
// concurrent use, matching the underlying prometheus types.
type Metrics struct {
	BlocksAdmitted   prometheus.Counter
	ChainHeight      prometheus.Gauge
	MonetaryMass     prometheus.Gauge
	ForkSwitches     *prometheus.CounterVec // labeled "result": success|rollback
	AdmissionErrors  *prometheus.CounterVec // labeled "kind"
	PoWCancellations prometheus.Counter
	MemoryCleanRuns  prometheus.Counter
}

// NewMetrics registers the core's collectors against reg, creating them on
// first access so repeated calls with the same registry are idempotent.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		BlocksAdmitted:   reg.Counter("sncore_blocks_admitted_total", "Blocks applied to the canonical chain.").WithLabelValues(),
		ChainHeight:      reg.Gauge("sncore_chain_height", "Current canonical chain height."),
		MonetaryMass:     reg.Gauge("sncore_monetary_mass", "Current total monetary mass."),
		ForkSwitches:     reg.Counter("sncore_fork_switches_total", "Fork switch attempts by outcome.", "result"),
		AdmissionErrors:  reg.Counter("sncore_admission_errors_total", "Block admission failures by kind.", "kind"),
		PoWCancellations: reg.Counter("sncore_pow_cancellations_total", "Proof-of-work runs canceled before completion.").WithLabelValues(),
		MemoryCleanRuns:  reg.Counter("sncore_memory_clean_runs_total", "Completed periodic memory cleanup runs.").WithLabelValues(),
	}
}
