// Package metrics holds the prometheus instrumentation shared by the tasks.
// The library only increments; serving an exposition endpoint is up to the
// embedding binary (cmd/prolink-watch does when asked).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsParsed counts successfully decoded datagrams by port role and
	// packet kind.
	PacketsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prolink_packets_parsed_total",
		Help: "Datagrams decoded successfully, by listener and packet kind.",
	}, []string{"listener", "kind"})

	// ParseErrors counts dropped datagrams by listener.
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prolink_parse_errors_total",
		Help: "Datagrams dropped because they failed to decode, by listener.",
	}, []string{"listener"})

	// Peers tracks the number of devices currently present.
	Peers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prolink_peers",
		Help: "Devices currently visible on the network.",
	})

	// MetadataLookups counts metadata resolutions by outcome.
	MetadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prolink_metadata_lookups_total",
		Help: "Track metadata lookups, by outcome (ok, error).",
	}, []string{"outcome"})

	// Events counts public messages emitted to the consumer.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prolink_events_total",
		Help: "Events delivered on the public queue, by type.",
	}, []string{"type"})
)
