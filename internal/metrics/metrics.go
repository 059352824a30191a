// Package metrics declares the broker's Prometheus collectors: link
// count, open list/invoke streams, and hub cache sizes. Grounded on the
// teacher's consistent use of client_golang gauges/counters registered
// against prometheus.DefaultRegisterer (see pkg/admin, which serves
// promhttp.Handler() for whatever is registered here).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups the broker-wide gauges and counters. The zero value
// is not usable; construct with NewCollectors.
type Collectors struct {
	LinksConnected    prometheus.Gauge
	ListStreamsOpen   prometheus.Gauge
	InvokeStreamsOpen prometheus.Gauge
	HubCacheEntries   prometheus.Gauge
	FramesHandled     *prometheus.CounterVec
	InvokeErrors      *prometheus.CounterVec
}

// NewCollectors builds and registers the broker's collectors against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		LinksConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_links_connected",
			Help: "Number of currently connected DSLinks.",
		}),
		ListStreamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_list_streams_open",
			Help: "Number of open list streams (local, across all links).",
		}),
		InvokeStreamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_invoke_streams_open",
			Help: "Number of in-flight invoke streams.",
		}),
		HubCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_hub_cache_entries",
			Help: "Total cached child-descriptor entries across every ListStreamHub.",
		}),
		FramesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_frames_handled_total",
			Help: "Frames processed by the dispatcher, by peer role.",
		}, []string{"role"}),
		InvokeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_invoke_errors_total",
			Help: "Invoke requests that ended in a peer-visible error, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.LinksConnected,
		c.ListStreamsOpen,
		c.InvokeStreamsOpen,
		c.HubCacheEntries,
		c.FramesHandled,
		c.InvokeErrors,
	)
	return c
}
