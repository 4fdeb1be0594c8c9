package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathdee/raft-cluster-sim/internal/election"
	"github.com/mathdee/raft-cluster-sim/internal/observer"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestObserveCountsElectionsAndLeaderChanges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe("state_change", observer.Data{"node_id": 0, "role": election.Candidate.String(), "term": uint64(1)})
	c.Observe("state_change", observer.Data{"node_id": 0, "role": election.Leader.String(), "term": uint64(1)})
	c.Observe("state_change", observer.Data{"node_id": 1, "role": election.Follower.String(), "term": uint64(1)})

	assert.Equal(t, float64(1), counterValue(t, c.electionsStarted))
	assert.Equal(t, float64(1), counterValue(t, c.leaderChanges))
}

func TestObserveIncrementsCountersForClusterEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Observe("message_delivered", observer.Data{})
	c.Observe("message_delivered", observer.Data{})
	c.Observe("node_failed", observer.Data{"node_id": 0})
	c.Observe("node_restored", observer.Data{"node_id": 0})
	c.Observe("network_partition", observer.Data{})

	assert.Equal(t, float64(2), counterValue(t, c.messagesDelivered))
	assert.Equal(t, float64(1), counterValue(t, c.nodeFailures))
	assert.Equal(t, float64(1), counterValue(t, c.nodeRestorations))
	assert.Equal(t, float64(1), counterValue(t, c.partitionsCreated))
}

func TestObserveIgnoresUnknownEventTypes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	assert.NotPanics(t, func() {
		c.Observe("some_future_event", observer.Data{"anything": "goes"})
	})
}
