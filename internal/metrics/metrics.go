// Package metrics holds the Prometheus collectors exported by the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons recorded on DroppedFrames and HubDropped.
const (
	DropOversized   = "oversized"
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropMissingType = "missing_type"
	DropClosed      = "closed"
	DropSlow        = "slow_consumer"
)

type Metrics struct {
	HubPublished   prometheus.Counter
	HubDelivered   prometheus.Counter
	HubDropped     *prometheus.CounterVec
	HubGroups      prometheus.Gauge
	Sessions       *prometheus.GaugeVec
	DroppedFrames  *prometheus.CounterVec
	RequestChanges *prometheus.CounterVec
	RoomJoins      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HubPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peerlink", Subsystem: "hub", Name: "published_total",
			Help: "Messages published to a group.",
		}),
		HubDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "peerlink", Subsystem: "hub", Name: "delivered_total",
			Help: "Messages enqueued for a subscriber.",
		}),
		HubDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerlink", Subsystem: "hub", Name: "dropped_total",
			Help: "Deliveries that failed for one subscriber.",
		}, []string{"reason"}),
		HubGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "peerlink", Subsystem: "hub", Name: "groups",
			Help: "Groups with at least one member.",
		}),
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peerlink", Name: "sessions",
			Help: "Open websocket sessions per endpoint.",
		}, []string{"endpoint"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerlink", Name: "dropped_frames_total",
			Help: "Inbound frames dropped before handling.",
		}, []string{"reason"}),
		RequestChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerlink", Subsystem: "matchmaking", Name: "request_transitions_total",
			Help: "Matchmaking request status changes.",
		}, []string{"status"}),
		RoomJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerlink", Subsystem: "rooms", Name: "entries_total",
			Help: "Room joins split by fresh join and re-entry.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.HubPublished, m.HubDelivered, m.HubDropped, m.HubGroups,
			m.Sessions, m.DroppedFrames, m.RequestChanges, m.RoomJoins)
	}
	return m
}

// Nop returns unregistered collectors, used when no registry is wired.
func Nop() *Metrics { return New(nil) }
