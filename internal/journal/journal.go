// Package journal persists the Observer Bus's event stream to an
// append-only file for later replay and audit. It is grounded on the
// teacher's internal/wal package — the same pendingWrite/flushLoop
// group-commit shape, one fsync per batch — repointed from write-ahead
// logging of KV SET entries to write-ahead logging of simulation events.
//
// This is the non-UI half of the scrolling log widget in
// original_source/src/visualizer.py: the rendering is out of scope, but the
// ordered, replayable event history it displays is not.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/mathdee/raft-cluster-sim/internal/observer"
)

// Entry is one recorded Observer Bus event.
type Entry struct {
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	EventType string        `json:"eventType"`
	Data      observer.Data `json:"data"`
}

type pendingWrite struct {
	line string
	done chan error
}

// Journal is an append-only record of events, flushed in batches so a burst
// of events costs one fsync instead of one per event.
type Journal struct {
	file *os.File
	mu   sync.Mutex // guards writes to file

	pendingMu   sync.Mutex
	pending     []pendingWrite
	seq         uint64
	flushTicker *time.Ticker
	closeCh     chan struct{}
	closeOnce   sync.Once
}

// Open creates or appends to the journal file at path and starts its
// background flush loop.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		file:        f,
		pending:     make([]pendingWrite, 0, 256),
		flushTicker: time.NewTicker(5 * time.Millisecond),
		closeCh:     make(chan struct{}),
	}
	go j.flushLoop()
	return j, nil
}

func (j *Journal) flushLoop() {
	for {
		select {
		case <-j.flushTicker.C:
			j.flush()
		case <-j.closeCh:
			j.flush()
			return
		}
	}
}

// flush writes every pending entry and issues a single fsync for the batch.
func (j *Journal) flush() {
	j.pendingMu.Lock()
	if len(j.pending) == 0 {
		j.pendingMu.Unlock()
		return
	}
	toFlush := j.pending
	j.pending = make([]pendingWrite, 0, 256)
	j.pendingMu.Unlock()

	j.mu.Lock()
	var writeErr error
	for _, pw := range toFlush {
		if _, err := j.file.WriteString(pw.line); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		writeErr = j.file.Sync()
	}
	j.mu.Unlock()

	for _, pw := range toFlush {
		pw.done <- writeErr
		close(pw.done)
	}
}

// Record is an observer.Callback: subscribe a Journal to any Bus with
// bus.Subscribe(j.Record). It blocks its caller until the entry's batch is
// durably flushed, by design — the same group-commit trade-off the
// teacher's WAL.WriteEntry makes. Because this can take a few milliseconds,
// it should only be wired up as an explicit, opt-in recorder (e.g. behind
// --record), never as a default subscriber every run pays for.
func (j *Journal) Record(eventType string, data observer.Data) {
	j.pendingMu.Lock()
	j.seq++
	seq := j.seq
	j.pendingMu.Unlock()

	entry := Entry{Seq: seq, Timestamp: time.Now(), EventType: eventType, Data: data}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return // a non-serializable payload must not crash the producer
	}

	done := make(chan error, 1)
	j.pendingMu.Lock()
	j.pending = append(j.pending, pendingWrite{line: string(encoded) + "\n", done: done})
	j.pendingMu.Unlock()

	<-done
}

// Close flushes any remaining entries and closes the file.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		// Queue an empty marker behind every entry already pending and wait
		// for the flush loop to write it, so those entries reach the file
		// before it is closed.
		done := make(chan error, 1)
		j.pendingMu.Lock()
		j.pending = append(j.pending, pendingWrite{done: done})
		j.pendingMu.Unlock()
		<-done

		close(j.closeCh)
		j.flushTicker.Stop()
	})
	return j.file.Close()
}

// Replay reads every entry previously recorded to path, in the order they
// were flushed. A missing file replays as an empty, non-error history.
func Replay(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
