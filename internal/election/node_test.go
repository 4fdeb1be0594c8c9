package election

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathdee/raft-cluster-sim/internal/observer"
)

// recorder collects every event a Node publishes, for assertions without
// racing against the node's own tick loop (most tests never call Start, and
// those that do finish well inside the first election timeout).
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	eventType string
	data      observer.Data
}

func (r *recorder) observe(eventType string, data observer.Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType: eventType, data: data})
}

func (r *recorder) of(eventType string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestNode(t *testing.T, id, peerCount int) (*Node, *recorder) {
	t.Helper()
	n, err := NewNode(id, peerCount, TimeoutRange{MinMs: 150, MaxMs: 300})
	require.NoError(t, err)
	rec := &recorder{}
	n.RegisterObserver(rec.observe)
	return n, rec
}

func TestNewNodeRejectsInvalidConfiguration(t *testing.T) {
	_, err := NewNode(0, 0, DefaultTimeoutRange)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewNode(5, 3, DefaultTimeoutRange)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewNode(0, 3, TimeoutRange{MinMs: 300, MaxMs: 150})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewNodeStartsAsFollowerAtTermZero(t *testing.T) {
	n, _ := newTestNode(t, 0, 3)
	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(0), n.Term())
}

func TestBeginElectionBecomesCandidateAndRequestsVotesFromEveryPeer(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)

	n.beginElection()

	assert.Equal(t, Candidate, n.Role())
	assert.Equal(t, uint64(1), n.Term())
	assert.Equal(t, 1, n.votesReceived)

	sent := rec.of("message_sent")
	require.Len(t, sent, 2)
	dests := map[int]bool{}
	for _, e := range sent {
		env := e.data["envelope"].(Envelope)
		assert.Equal(t, RequestVote, env.Type)
		assert.Equal(t, 0, env.From)
		dests[env.To] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, dests)

	changes := rec.of("state_change")
	require.Len(t, changes, 1)
	assert.Equal(t, Candidate.String(), changes[0].data["role"])
}

func TestHandleRequestVoteGrantsOncePerTerm(t *testing.T) {
	n, _ := newTestNode(t, 0, 3)

	n.handleRequestVote(Envelope{Type: RequestVote, From: 1, To: 0, Term: 1})
	assert.Equal(t, 1, n.votedFor)

	// A second candidate for the same term must be denied.
	granted := false
	n.RegisterObserver(func(eventType string, data observer.Data) {
		if eventType == "message_sent" {
			env := data["envelope"].(Envelope)
			if env.Type == VoteResponse && env.To == 2 {
				granted = env.VoteGranted
			}
		}
	})
	n.handleRequestVote(Envelope{Type: RequestVote, From: 2, To: 0, Term: 1})
	assert.False(t, granted)
	assert.Equal(t, 1, n.votedFor)
}

func TestHandleRequestVoteAdoptsHigherTerm(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)
	n.beginElection() // term 1, role Candidate

	n.handleRequestVote(Envelope{Type: RequestVote, From: 1, To: 0, Term: 5})

	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(5), n.Term())
	assert.Equal(t, 1, n.votedFor)

	changes := rec.of("state_change")
	last := changes[len(changes)-1]
	assert.Equal(t, Follower.String(), last.data["role"])
}

func TestHandleVoteResponseBecomesLeaderOnMajority(t *testing.T) {
	n, rec := newTestNode(t, 0, 5)
	n.beginElection() // term 1, votesReceived = 1 (self)

	n.handleVoteResponse(Envelope{Type: VoteResponse, From: 1, To: 0, Term: 1, VoteGranted: true})
	assert.Equal(t, Candidate, n.Role(), "two of five votes is not yet a majority")

	n.handleVoteResponse(Envelope{Type: VoteResponse, From: 2, To: 0, Term: 1, VoteGranted: true})
	assert.Equal(t, Leader, n.Role(), "three of five votes is a strict majority")

	heartbeats := rec.of("message_sent")
	var appendEntriesCount int
	for _, e := range heartbeats {
		if e.data["envelope"].(Envelope).Type == AppendEntries {
			appendEntriesCount++
		}
	}
	assert.Equal(t, 4, appendEntriesCount, "becoming leader must immediately broadcast heartbeats to all peers")
}

func TestHandleVoteResponseStepsDownOnHigherTerm(t *testing.T) {
	n, _ := newTestNode(t, 0, 3)
	n.beginElection()

	n.handleVoteResponse(Envelope{Type: VoteResponse, From: 1, To: 0, Term: 9, VoteGranted: false})

	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, uint64(9), n.Term())
}

func TestHandleAppendEntriesStepsCandidateDownToFollower(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)
	n.beginElection() // term 1, Candidate

	n.handleAppendEntries(Envelope{Type: AppendEntries, From: 1, To: 0, Term: 1})

	assert.Equal(t, Follower, n.Role())

	responses := rec.of("message_sent")
	last := responses[len(responses)-1].data["envelope"].(Envelope)
	assert.Equal(t, AppendEntriesResponse, last.Type)
	assert.True(t, last.Success)
}

func TestHandleAppendEntriesRejectsStaleTerm(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)
	n.mu.Lock()
	n.currentTerm = 5
	n.mu.Unlock()

	n.handleAppendEntries(Envelope{Type: AppendEntries, From: 1, To: 0, Term: 2})

	responses := rec.of("message_sent")
	last := responses[len(responses)-1].data["envelope"].(Envelope)
	assert.False(t, last.Success)
}

func TestSimulateFailureStopsAndEmitsNodeFailure(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)
	n.Start()

	n.SimulateFailure()

	assert.False(t, n.Running())
	failures := rec.of("node_failure")
	require.Len(t, failures, 1)
	assert.Equal(t, 0, failures[0].data["node_id"])
}

func TestRestoreIsOnlyEffectiveWhenStopped(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)
	n.Start()

	n.Restore() // node is running, so Restore is a no-op
	assert.Empty(t, rec.of("node_restore"))

	n.SimulateFailure()
	startTerm := n.Term()

	n.Restore()

	assert.True(t, n.Running())
	assert.Equal(t, Follower, n.Role())
	assert.Equal(t, startTerm+1, n.Term())

	restores := rec.of("node_restore")
	require.Len(t, restores, 1)
	assert.Empty(t, rec.of("state_change"), "Restore reports node_restore only, never state_change")

	n.Stop()
}

func TestReceiveMessageDropsEverythingWhileNotRunning(t *testing.T) {
	n, rec := newTestNode(t, 0, 3)
	// running is false by construction; Start/Stop never called.
	n.ReceiveMessage(Envelope{Type: RequestVote, From: 1, To: 0, Term: 1})
	assert.Empty(t, rec.events)
}
