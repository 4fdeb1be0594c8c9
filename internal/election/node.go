package election

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mathdee/raft-cluster-sim/internal/observer"
)

const (
	tickInterval      = 10 * time.Millisecond
	heartbeatInterval = 50 * time.Millisecond
)

// Node runs the election state machine for a single cluster member. All
// mutable election state (term, vote, role, timers, liveness) is owned by
// the Node and guarded by its own mutex; outbound messages and state
// transitions are reported only as Observer Bus events, never by a direct
// call into any other Node or the transport (see spec.md's design note on
// observer re-entrancy).
type Node struct {
	id        int
	peerCount int

	mu                sync.Mutex
	role              Role
	currentTerm       uint64
	votedFor          int // -1 means "none"
	votesReceived     int
	lastHeartbeatTime time.Time
	lastHeartbeatSent time.Time
	electionTimeout   time.Duration
	timeoutRange      TimeoutRange
	running           bool

	bus *observer.Bus

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewNode builds a Node with id in [0, peerCount), starting as a Follower at
// term 0 with no vote cast. It does not start the tick loop; call Start for
// that.
func NewNode(id, peerCount int, timeoutRange TimeoutRange) (*Node, error) {
	if peerCount < 1 {
		return nil, ErrInvalidConfiguration
	}
	if id < 0 || id >= peerCount {
		return nil, ErrInvalidConfiguration
	}
	if err := timeoutRange.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		id:           id,
		peerCount:    peerCount,
		votedFor:     -1,
		timeoutRange: timeoutRange,
		bus:          observer.NewBus(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
	n.electionTimeout = n.drawTimeout()
	n.lastHeartbeatTime = time.Now()
	return n, nil
}

// ID returns this node's identifier.
func (n *Node) ID() int { return n.id }

// RegisterObserver subscribes cb to every event this node publishes.
func (n *Node) RegisterObserver(cb observer.Callback) {
	n.bus.Subscribe(cb)
}

// Role reports the current role. Per spec.md's concurrency model, callers
// outside the node must tolerate torn reads across Role/Term/Running and
// never rely on them for correctness.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Term reports the current term.
func (n *Node) Term() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// Running reports the node's liveness flag.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *Node) drawTimeout() time.Duration {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	lo, hi := n.timeoutRange.MinMs, n.timeoutRange.MaxMs
	d := lo
	if hi > lo {
		d += n.rng.Intn(hi - lo + 1)
	}
	return time.Duration(d) * time.Millisecond
}

// Start begins the node's periodic tick loop on its own goroutine.
func (n *Node) Start() {
	n.mu.Lock()
	n.running = true
	n.mu.Unlock()
	go n.loop()
}

// Stop sets running to false. It is idempotent and cooperative: the tick
// loop observes the flag at its next checkpoint (within tickInterval) and
// exits on its own.
func (n *Node) Stop() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

// SimulateFailure is Stop plus a node_failure observation (I7: a node with
// running=false neither sends nor receives and contributes no events beyond
// this one).
func (n *Node) SimulateFailure() {
	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
	n.emit("node_failure", observer.Data{"node_id": n.id})
}

// Restore is only effective if the node is not running. It resumes as a
// Follower, increments current_term by one (a local convention, not
// required by Raft — see spec.md's design notes), clears the vote, redraws
// the election timeout, and forces the next tick to trigger an election by
// setting last_heartbeat_time into the past.
func (n *Node) Restore() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.role = Follower
	n.currentTerm++
	n.votedFor = -1
	n.mu.Unlock()

	timeout := n.drawTimeout()

	n.mu.Lock()
	n.electionTimeout = timeout
	n.lastHeartbeatTime = time.Now().Add(-(timeout + time.Second))
	n.mu.Unlock()

	go n.loop()
	n.emit("node_restore", observer.Data{"node_id": n.id})
}

func (n *Node) loop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for range ticker.C {
		n.mu.Lock()
		running := n.running
		n.mu.Unlock()
		if !running {
			return
		}
		n.tick()
	}
}

func (n *Node) tick() {
	n.mu.Lock()
	role := n.role
	n.mu.Unlock()

	if role == Leader {
		n.mu.Lock()
		due := time.Since(n.lastHeartbeatSent) >= heartbeatInterval
		if due {
			n.lastHeartbeatSent = time.Now()
		}
		n.mu.Unlock()
		if due {
			n.sendHeartbeats()
		}
		return
	}

	n.mu.Lock()
	timedOut := time.Since(n.lastHeartbeatTime) > n.electionTimeout
	n.mu.Unlock()
	if timedOut {
		n.beginElection()
	}
}

// beginElection implements spec.md's "Begin election" steps 1-7.
func (n *Node) beginElection() {
	n.mu.Lock()
	n.role = Candidate
	n.currentTerm++
	n.votedFor = n.id
	n.votesReceived = 1
	n.electionTimeout = n.drawTimeout()
	n.lastHeartbeatTime = time.Now()
	term := n.currentTerm
	peerCount := n.peerCount
	n.mu.Unlock()

	n.emit("state_change", observer.Data{"node_id": n.id, "role": Candidate.String(), "term": term})

	for peer := 0; peer < peerCount; peer++ {
		if peer == n.id {
			continue
		}
		n.send(Envelope{Type: RequestVote, From: n.id, To: peer, Term: term})
	}
}

func (n *Node) sendHeartbeats() {
	n.mu.Lock()
	term := n.currentTerm
	peerCount := n.peerCount
	n.mu.Unlock()

	for peer := 0; peer < peerCount; peer++ {
		if peer == n.id {
			continue
		}
		n.send(Envelope{Type: AppendEntries, From: n.id, To: peer, Term: term})
	}
}

// ReceiveMessage delivers one envelope for this node to process. A node
// that is not running drops everything addressed to it, silently.
func (n *Node) ReceiveMessage(env Envelope) {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()
	if !running {
		return
	}

	switch env.Type {
	case RequestVote:
		n.handleRequestVote(env)
	case VoteResponse:
		n.handleVoteResponse(env)
	case AppendEntries:
		n.handleAppendEntries(env)
	case AppendEntriesResponse:
		// Accepted and ignored: no log replication is modeled.
	}
}

func (n *Node) handleRequestVote(env Envelope) {
	n.mu.Lock()
	adopted := false
	if env.Term > n.currentTerm {
		n.currentTerm = env.Term
		n.votedFor = -1
		n.role = Follower
		adopted = true
	}

	grant := env.Term >= n.currentTerm && (n.votedFor == -1 || n.votedFor == env.From)
	if grant {
		n.votedFor = env.From
		n.lastHeartbeatTime = time.Now()
	}
	term := n.currentTerm
	role := n.role
	n.mu.Unlock()

	if adopted {
		n.emit("state_change", observer.Data{"node_id": n.id, "role": role.String(), "term": term})
	}

	n.send(Envelope{Type: VoteResponse, From: n.id, To: env.From, Term: term, VoteGranted: grant})
}

func (n *Node) handleVoteResponse(env Envelope) {
	n.mu.Lock()
	if n.role != Candidate {
		n.mu.Unlock()
		return
	}

	if env.Term > n.currentTerm {
		n.currentTerm = env.Term
		n.votedFor = -1
		n.role = Follower
		term := n.currentTerm
		n.mu.Unlock()
		n.emit("state_change", observer.Data{"node_id": n.id, "role": Follower.String(), "term": term})
		return
	}

	becameLeader := false
	if env.VoteGranted && env.Term == n.currentTerm {
		n.votesReceived++
		if n.votesReceived > n.peerCount/2 {
			n.role = Leader
			n.lastHeartbeatSent = time.Now()
			becameLeader = true
		}
	}
	term := n.currentTerm
	n.mu.Unlock()

	if becameLeader {
		n.emit("state_change", observer.Data{"node_id": n.id, "role": Leader.String(), "term": term})
		n.sendHeartbeats() // reset followers' timeouts immediately
	}
}

func (n *Node) handleAppendEntries(env Envelope) {
	n.mu.Lock()
	stateChanged := false
	if env.Term > n.currentTerm {
		n.currentTerm = env.Term
		n.votedFor = -1
		n.role = Follower
		stateChanged = true
	}

	accept := env.Term >= n.currentTerm
	if accept {
		n.lastHeartbeatTime = time.Now()
		if n.role == Candidate {
			n.role = Follower
			stateChanged = true
		}
	}
	term := n.currentTerm
	role := n.role
	n.mu.Unlock()

	if stateChanged {
		n.emit("state_change", observer.Data{"node_id": n.id, "role": role.String(), "term": term})
	}

	n.send(Envelope{Type: AppendEntriesResponse, From: n.id, To: env.From, Term: term, Success: accept})
}

// send publishes a message_sent event; it never queues or delivers the
// envelope itself. The cluster transport is the only consumer of
// message_sent that turns it into delivery (spec.md §2's data-flow note).
func (n *Node) send(env Envelope) {
	n.emit("message_sent", observer.Data{
		"envelope": env,
		"from":     env.From,
		"to":       env.To,
		"type":     string(env.Type),
		"term":     env.Term,
	})
}

func (n *Node) emit(eventType string, data observer.Data) {
	n.bus.Publish(eventType, data)
}
