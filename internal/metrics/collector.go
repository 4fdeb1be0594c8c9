// Package metrics subscribes to the Observer Bus and turns cluster events
// into Prometheus counters/gauges. It is grounded on the teacher's
// internal/server/metrics.go (mutex-guarded counters queried through an
// HTTP status endpoint), repointed from per-request throughput/latency at a
// KV workload (a non-goal here — no client commands are ever submitted) to
// cluster-health counters: elections started, leader changes, messages
// delivered, and the latest term observed per node.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mathdee/raft-cluster-sim/internal/election"
	"github.com/mathdee/raft-cluster-sim/internal/observer"
)

// Collector accumulates cluster-health counters. It is an
// observer.Callback: wire it up with cluster.RegisterObserver(c.Observe).
type Collector struct {
	electionsStarted  prometheus.Counter
	leaderChanges     prometheus.Counter
	messagesDelivered prometheus.Counter
	nodeFailures      prometheus.Counter
	nodeRestorations  prometheus.Counter
	partitionsCreated prometheus.Counter

	currentTerm *prometheus.GaugeVec
}

// NewCollector registers its metrics on reg and returns the Collector.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		electionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raftsim_elections_started_total",
			Help: "Number of times any node began a new election.",
		}),
		leaderChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raftsim_leader_changes_total",
			Help: "Number of times any node transitioned into the Leader role.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raftsim_messages_delivered_total",
			Help: "Number of envelopes the transport delivered (post partition filter).",
		}),
		nodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raftsim_node_failures_total",
			Help: "Number of simulated node failures.",
		}),
		nodeRestorations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raftsim_node_restorations_total",
			Help: "Number of simulated node restorations.",
		}),
		partitionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raftsim_partitions_created_total",
			Help: "Number of times a network partition was installed.",
		}),
		currentTerm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raftsim_node_current_term",
			Help: "Latest current_term observed for a node.",
		}, []string{"node_id"}),
	}

	reg.MustRegister(
		c.electionsStarted,
		c.leaderChanges,
		c.messagesDelivered,
		c.nodeFailures,
		c.nodeRestorations,
		c.partitionsCreated,
		c.currentTerm,
	)
	return c
}

// Observe is the observer.Callback wired to a node or cluster bus.
func (c *Collector) Observe(eventType string, data observer.Data) {
	switch eventType {
	case "state_change":
		c.observeStateChange(data)
	case "message_delivered":
		c.messagesDelivered.Inc()
	case "node_failed":
		c.nodeFailures.Inc()
	case "node_restored":
		c.nodeRestorations.Inc()
	case "network_partition":
		c.partitionsCreated.Inc()
	}
}

func (c *Collector) observeStateChange(data observer.Data) {
	role, _ := data["role"].(string)
	switch role {
	case election.Candidate.String():
		c.electionsStarted.Inc()
	case election.Leader.String():
		c.leaderChanges.Inc()
	}

	nodeID, idOK := data["node_id"].(int)
	term, termOK := data["term"].(uint64)
	if idOK && termOK {
		c.currentTerm.WithLabelValues(strconv.Itoa(nodeID)).Set(float64(term))
	}
}
