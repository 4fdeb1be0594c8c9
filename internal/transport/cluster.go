// Package transport owns the set of nodes in a simulated cluster, routes
// every outbound message with a simulated delay, and enforces a partition
// filter. It is grounded on the teacher's internal/server accept-loop shape
// (internal/server/server.go's Server.Start/handleConnection), reworked
// from a blocking TCP line protocol into an in-process swap-and-drain pump.
package transport

import (
	"sync"
	"time"

	"github.com/mathdee/raft-cluster-sim/internal/election"
	"github.com/mathdee/raft-cluster-sim/internal/observer"
)

const (
	// hopDelay simulates per-message network latency in the pump.
	hopDelay = 10 * time.Millisecond
	// pumpInterval is the pause between pump iterations.
	pumpInterval = 10 * time.Millisecond
	// stopGrace bounds how long Stop waits for the pump to drain.
	stopGrace = 500 * time.Millisecond
)

// Cluster owns every Node, the pending-message buffer shared between node
// send paths and the pump, and the partition configuration.
type Cluster struct {
	nodes []*election.Node
	bus   *observer.Bus

	mu          sync.Mutex // guards partitioned/groups
	partitioned bool
	groups      [][]int

	pendingMu sync.Mutex // guards pending/seq: the swap-and-drain buffer
	pending   []election.Envelope
	seq       uint64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCluster builds a Cluster of nodeCount nodes, each drawing its election
// timeout from timeoutRange. Nodes are not started; call Start for that.
func NewCluster(nodeCount int, timeoutRange election.TimeoutRange) (*Cluster, error) {
	if nodeCount < 1 {
		return nil, election.ErrInvalidConfiguration
	}
	if err := timeoutRange.Validate(); err != nil {
		return nil, err
	}

	c := &Cluster{
		bus: observer.NewBus(),
	}

	nodes := make([]*election.Node, nodeCount)
	for i := 0; i < nodeCount; i++ {
		node, err := election.NewNode(i, nodeCount, timeoutRange)
		if err != nil {
			return nil, err
		}
		node.RegisterObserver(c.onNodeEvent)
		nodes[i] = node
	}
	c.nodes = nodes

	return c, nil
}

// NodeCount returns N, the fixed cluster size.
func (c *Cluster) NodeCount() int { return len(c.nodes) }

// Node returns the node at id, or nil if id is out of range.
func (c *Cluster) Node(id int) *election.Node {
	if id < 0 || id >= len(c.nodes) {
		return nil
	}
	return c.nodes[id]
}

// RegisterObserver subscribes cb to every cluster-level and forwarded
// node-level event.
func (c *Cluster) RegisterObserver(cb observer.Callback) {
	c.bus.Subscribe(cb)
}

// onNodeEvent is registered on every node at construction. It forwards the
// event verbatim to the cluster's own bus and, for message_sent, buffers
// the envelope for the pump to drain. This append is the only thing that
// happens synchronously inside a node's observer callback: it never calls
// back into any node directly, so it cannot deadlock against a node's
// internal lock (see spec.md's design note on observer re-entrancy).
func (c *Cluster) onNodeEvent(eventType string, data observer.Data) {
	c.bus.Publish(eventType, data)

	if eventType != "message_sent" {
		return
	}
	env, ok := data["envelope"].(election.Envelope)
	if !ok {
		return
	}

	c.pendingMu.Lock()
	c.seq++
	env.Seq = c.seq
	c.pending = append(c.pending, env)
	c.pendingMu.Unlock()
}

// Start starts every node and the transport pump.
func (c *Cluster) Start() {
	c.runMu.Lock()
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.runMu.Unlock()

	for _, node := range c.nodes {
		node.Start()
	}

	go c.pump()
}

// Stop stops the pump and every node. It waits up to stopGrace for the pump
// to notice and exit; anything still in flight after that is discarded.
func (c *Cluster) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.runMu.Unlock()

	for _, node := range c.nodes {
		node.Stop()
	}

	select {
	case <-done:
	case <-time.After(stopGrace):
	}
}

// pump drains the pending buffer on a cadence, applying per-hop delay and
// the partition filter before delivering each envelope.
func (c *Cluster) pump() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		for _, env := range c.drain() {
			time.Sleep(hopDelay)

			select {
			case <-c.stopCh:
				return
			default:
			}

			if !c.canDeliver(env.From, env.To) {
				continue // partitioned or otherwise unreachable: drop silently
			}
			dest := c.Node(env.To)
			if dest == nil {
				continue
			}
			dest.ReceiveMessage(env)
			c.bus.Publish("message_delivered", observer.Data{"envelope": env})
		}

		select {
		case <-c.stopCh:
			return
		case <-time.After(pumpInterval):
		}
	}
}

// drain atomically swaps the pending buffer for an empty one, so producers
// appending after the swap land in the new buffer rather than the one
// being processed.
func (c *Cluster) drain() []election.Envelope {
	c.pendingMu.Lock()
	batch := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	return batch
}

// canDeliver is the partition filter: always true when not partitioned;
// otherwise true iff from and to both appear in some configured group.
// Groups need not be disjoint or cover every node id — a node omitted from
// every group is unreachable from everyone, and overlapping groups widen
// reachability (spec.md's open question adopts this as-is).
func (c *Cluster) canDeliver(from, to int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.partitioned {
		return true
	}
	for _, group := range c.groups {
		if containsID(group, from) && containsID(group, to) {
			return true
		}
	}
	return false
}

// CreatePartition installs a partition configuration and emits
// network_partition.
func (c *Cluster) CreatePartition(groups [][]int) {
	copied := make([][]int, len(groups))
	for i, g := range groups {
		gc := make([]int, len(g))
		copy(gc, g)
		copied[i] = gc
	}

	c.mu.Lock()
	c.partitioned = true
	c.groups = copied
	c.mu.Unlock()

	c.bus.Publish("network_partition", observer.Data{"groups": copied})
}

// HealPartition clears partitioning. It is always safe to call, and
// idempotent when not partitioned.
func (c *Cluster) HealPartition() {
	c.mu.Lock()
	c.partitioned = false
	c.groups = nil
	c.mu.Unlock()

	c.bus.Publish("network_healed", observer.Data{})
}

// FailNode stops the node and emits the cluster-level node_failed event.
// An out-of-range id is a silent no-op.
func (c *Cluster) FailNode(id int) {
	node := c.Node(id)
	if node == nil {
		return
	}
	node.SimulateFailure()
	c.bus.Publish("node_failed", observer.Data{"node_id": id})
}

// RestoreNode restores the node and emits the cluster-level node_restored
// event. An out-of-range id is a silent no-op.
func (c *Cluster) RestoreNode(id int) {
	node := c.Node(id)
	if node == nil {
		return
	}
	node.Restore()
	c.bus.Publish("node_restored", observer.Data{"node_id": id})
}

func containsID(group []int, id int) bool {
	for _, g := range group {
		if g == id {
			return true
		}
	}
	return false
}
