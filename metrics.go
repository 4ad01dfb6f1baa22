package fluid

import "github.com/prometheus/client_golang/prometheus"

// Collectors for pending-state telemetry. Hosts register them with their own
// registry.
var (
	batchInfoMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluid_pending_batch_info_mismatch_total",
		Help: "Cumulative number of batch info mismatches observed on local batch begin.",
	})
	contentMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluid_pending_content_mismatch_total",
		Help: "Cumulative number of pending messages whose content did not match the inbound ack.",
	})
	replayedMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluid_pending_replayed_messages_total",
		Help: "Cumulative number of pending messages replayed on reconnection.",
	})
	stashedOpsAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluid_pending_stashed_ops_applied_total",
		Help: "Cumulative number of stashed ops reapplied during rehydration.",
	})
)

// Collectors returns every collector of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		batchInfoMismatchTotal,
		contentMismatchTotal,
		replayedMessagesTotal,
		stashedOpsAppliedTotal,
	}
}
