// Package metrics exposes the runtime's internal counters through
// github.com/prometheus/client_golang, the metrics stack grounded in
// ghjramos-aistore's heavy subsystem-instrumentation use of the same
// library. It turns imdb_stat_t and svcs_service_info_t counters,
// plus UDPCTL/scheduler bookkeeping, into first-class observable
// metrics instead of opaque structs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the runtime publishes. One Registry is
// constructed per process and passed to the components that populate it.
type Registry struct {
	Registerer prometheus.Registerer

	IMDBBytesAllocated   prometheus.Gauge
	IMDBBytesFreed       prometheus.Gauge
	IMDBPagesAllocated   prometheus.Gauge
	IMDBBlockRecycles    prometheus.Counter
	IMDBSkipScans        prometheus.Counter

	ServiceState         *prometheus.GaugeVec
	ServiceMessagesTotal *prometheus.CounterVec

	UDPCTLClientsActive prometheus.Gauge
	UDPCTLSessionsTotal prometheus.Counter
	UDPCTLAuthFailures  prometheus.Counter

	SchedulerRunsTotal prometheus.Counter
	SchedulerFailsTotal prometheus.Counter
}

// New constructs a Registry and registers every metric against reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Registerer: reg,
		IMDBBytesAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tshd", Subsystem: "imdb", Name: "bytes_allocated",
			Help: "Running total of bytes allocated across all IMDB classes.",
		}),
		IMDBBytesFreed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tshd", Subsystem: "imdb", Name: "bytes_freed",
			Help: "Total bytes freed across all IMDB classes.",
		}),
		IMDBPagesAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tshd", Subsystem: "imdb", Name: "pages_allocated",
			Help: "Running total of pages allocated across all IMDB classes.",
		}),
		IMDBBlockRecycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "imdb", Name: "block_recycles_total",
			Help: "Number of forced block reformats on recycling-class ring wraparound.",
		}),
		IMDBSkipScans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "imdb", Name: "skip_scans_total",
			Help: "Number of free-slot skip-count increments on ds_type 4 classes.",
		}),
		ServiceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tshd", Subsystem: "svcctl", Name: "service_state",
			Help: "Current lifecycle state of a service (1 = that state is active).",
		}, []string{"service", "state"}),
		ServiceMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "svcctl", Name: "service_message_total",
			Help: "Messages routed through the service controller.",
		}, []string{"dest", "msg_type"}),
		UDPCTLClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tshd", Subsystem: "udpctl", Name: "clients_active",
			Help: "Client slots currently in AUTH or OPEN state.",
		}),
		UDPCTLSessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "udpctl", Name: "sessions_total",
			Help: "Client slots that have completed an AUTH handshake.",
		}),
		UDPCTLAuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "udpctl", Name: "auth_failures_total",
			Help: "Rejected AUTH attempts (bad digest, disallowed state, or table full).",
		}),
		SchedulerRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "sched", Name: "runs_total",
			Help: "Scheduler entries dispatched to LSH evaluation.",
		}),
		SchedulerFailsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tshd", Subsystem: "sched", Name: "fails_total",
			Help: "Scheduler entries whose dispatch failed.",
		}),
	}
	for _, c := range []prometheus.Collector{
		r.IMDBBytesAllocated, r.IMDBBytesFreed, r.IMDBPagesAllocated,
		r.IMDBBlockRecycles, r.IMDBSkipScans, r.ServiceState,
		r.ServiceMessagesTotal, r.UDPCTLClientsActive, r.UDPCTLSessionsTotal,
		r.UDPCTLAuthFailures, r.SchedulerRunsTotal, r.SchedulerFailsTotal,
	} {
		_ = reg.Register(c)
	}
	return r
}

// NewUnregistered builds a Registry against a fresh, private
// prometheus.Registry, for tests that don't want to touch the global
// default registerer.
func NewUnregistered() *Registry {
	return New(prometheus.NewRegistry())
}
