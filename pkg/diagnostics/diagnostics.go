// Package diagnostics exposes a read-only introspection snapshot of kernel
// activity: counts of scheduled, running, completed, retried and
// dead-lettered tasks, plus a capped ring of the most recent errors. Nothing
// here changes dispatch behavior; it only observes it.
package diagnostics

import (
	"sync"
	"time"
)

// ErrorEntry is one recent failure recorded for diagnostics.
type ErrorEntry struct {
	NodeID      string
	Tag         string
	Err         string
	TimestampMS int64
}

// Snapshot is a point-in-time, immutable copy of the recorder's counters.
type Snapshot struct {
	Status       string
	Scheduled    int64
	Running      int64
	Completed    int64
	Failed       int64
	Retried      int64
	DeadLettered int64
	RecentErrors []ErrorEntry
	Timestamp    time.Time
}

// Recorder accumulates counters as the dispatcher and bus emit lifecycle
// events. Safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	scheduled    int64
	running      int64
	completed    int64
	failed       int64
	retried      int64
	deadLettered int64

	maxErrors int
	errors    []ErrorEntry
}

// DefaultMaxErrors bounds the recent-errors ring when New is called with 0.
const DefaultMaxErrors = 100

// New creates a Recorder that keeps at most maxErrors recent error entries.
// maxErrors <= 0 uses DefaultMaxErrors.
func New(maxErrors int) *Recorder {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Recorder{maxErrors: maxErrors}
}

func (r *Recorder) RecordScheduled() {
	r.mu.Lock()
	r.scheduled++
	r.mu.Unlock()
}

func (r *Recorder) RecordRunning() {
	r.mu.Lock()
	r.running++
	r.mu.Unlock()
}

func (r *Recorder) RecordCompleted() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
}

func (r *Recorder) RecordRetried() {
	r.mu.Lock()
	r.retried++
	r.mu.Unlock()
}

func (r *Recorder) RecordDeadLettered() {
	r.mu.Lock()
	r.deadLettered++
	r.mu.Unlock()
}

// RecordFailed increments the failure counter and appends err to the
// recent-errors ring, evicting the oldest entry once full.
func (r *Recorder) RecordFailed(nodeID, tag string, err error, timestampMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed++
	if err == nil {
		return
	}
	entry := ErrorEntry{NodeID: nodeID, Tag: tag, Err: err.Error(), TimestampMS: timestampMS}
	if len(r.errors) >= r.maxErrors {
		r.errors = append(r.errors[1:], entry)
		return
	}
	r.errors = append(r.errors, entry)
}

// Snapshot returns a copy of the current counters. Status is "healthy"
// until any work has been dead-lettered, and "degraded" from then on.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "healthy"
	if r.deadLettered > 0 {
		status = "degraded"
	}

	return Snapshot{
		Status:       status,
		Scheduled:    r.scheduled,
		Running:      r.running,
		Completed:    r.completed,
		Failed:       r.failed,
		Retried:      r.retried,
		DeadLettered: r.deadLettered,
		RecentErrors: append([]ErrorEntry(nil), r.errors...),
		Timestamp:    time.Now(),
	}
}
