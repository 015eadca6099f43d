package lifecycle

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/domain/bridge"
)

// EntryKind tells how a captured message is replayed.
type EntryKind uint8

const (
	// EntryInvoke is an invocation issued by the logic context.
	EntryInvoke EntryKind = iota + 1
	// EntryPublish is a publication issued by the logic context.
	EntryPublish
	// EntryDeliver is a frame (reply or subscription) addressed to the
	// logic context.
	EntryDeliver
)

func (k EntryKind) String() string {
	switch k {
	case EntryInvoke:
		return "invoke"
	case EntryPublish:
		return "publish"
	case EntryDeliver:
		return "deliver"
	}
	return "unknown"
}

// Entry is one message captured while suspended.
type Entry struct {
	Kind    EntryKind
	Invoke  bridge.InvokeArgs
	Publish bridge.PublishArgs
	Frame   bridge.Frame
	At      time.Time
}

// Queue holds messages captured during suspension, in arrival order.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Append captures e.
func (q *Queue) Append(e Entry) {
	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()
}

// Drain removes every entry and hands each to replay in arrival order.
// Entries appended by replay itself are kept for the next drain.
func (q *Queue) Drain(replay func(Entry)) int {
	q.mu.Lock()
	batch := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range batch {
		replay(e)
	}
	return len(batch)
}

// Discard drops every entry without replaying it.
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	return n
}

// Len returns the number of captured entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the captured entries.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}
