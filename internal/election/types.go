// Package election implements the per-node leader-election state machine: a
// simplified Raft that models term progression, vote requests, vote
// counting, and leader heartbeats, but never replicates or persists a log.
package election

import "errors"

// Role is the tagged variant a Node occupies at any moment.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// MessageType identifies the kind of RPC carried by an Envelope.
type MessageType string

const (
	RequestVote           MessageType = "RequestVote"
	VoteResponse          MessageType = "VoteResponse"
	AppendEntries         MessageType = "AppendEntries"
	AppendEntriesResponse MessageType = "AppendEntriesResponse"
)

// LogEntry is a placeholder. The log is required to exist as an ordered
// sequence, but election never appends to it: replication, persistence and
// snapshotting are non-goals here.
type LogEntry struct{}

// Envelope is the message record routed by the cluster transport. Payload
// fields not relevant to Type are left at their zero value.
type Envelope struct {
	Type MessageType
	From int
	To   int
	Term uint64

	// VoteResponse only.
	VoteGranted bool

	// AppendEntries only; always empty (heartbeat-only).
	Entries []LogEntry

	// AppendEntriesResponse only.
	Success bool

	// Seq is stamped by the transport when the envelope is buffered, giving
	// the event journal a total order to replay even though wall-clock
	// timestamps across goroutines are not themselves totally ordered.
	Seq uint64
}

// TimeoutRange is the closed interval [MinMs, MaxMs] election timeouts are
// drawn from, uniformly, per node.
type TimeoutRange struct {
	MinMs int
	MaxMs int
}

// DefaultTimeoutRange matches spec.md's default of 150-300ms.
var DefaultTimeoutRange = TimeoutRange{MinMs: 150, MaxMs: 300}

// ErrInvalidConfiguration is returned by NewNode/cluster construction when a
// construction parameter is out of range. Construction errors are the only
// errors this package's runtime surface ever returns; everything else
// manifests as an observer event or a silent no-op.
var ErrInvalidConfiguration = errors.New("election: invalid configuration")

// Validate reports whether the range is usable: non-negative and ordered.
func (tr TimeoutRange) Validate() error {
	if tr.MinMs < 0 || tr.MaxMs < tr.MinMs {
		return ErrInvalidConfiguration
	}
	return nil
}
