// Package metrics holds our prometheus collectors. They live in their own
// package so that the controller and the HTTP server can share them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nfsgw_dispatch_total",
		Help: "Observer runs by fact kind, observer and outcome",
	}, []string{"kind", "observer", "outcome"})

	DispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nfsgw_dispatch_latency_ms",
		Help:    "Time spent dispatching one fact, in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"kind"})

	Deferred = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nfsgw_deferred_observers",
		Help: "Observers waiting for redelivery",
	})

	ServiceRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nfsgw_service_restarts_total",
		Help: "Service restarts caused by configuration changes",
	}, []string{"service"})

	ExportReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nfsgw_export_reloads_total",
		Help: "Export reloads triggered by the peer reload nonce",
	})

	PeerDepartures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nfsgw_peer_departures_total",
		Help: "Departure announcements received from peers",
	})

	Phase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nfsgw_phase",
		Help: "Current node phase (1 for the active phase label)",
	}, []string{"phase"})

	Leader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nfsgw_leader",
		Help: "1 when this node holds the leader lock",
	})
)

// Register registers our collectors on reg (or the default registerer if
// nil). Collectors already registered are not an error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	for _, c := range []prometheus.Collector{
		Dispatches,
		DispatchLatency,
		Deferred,
		ServiceRestarts,
		ExportReloads,
		PeerDepartures,
		Phase,
		Leader,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	return nil
}
