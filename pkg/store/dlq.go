package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/evkernel/evkernel/pkg/eventcontext"
	"github.com/evkernel/evkernel/pkg/statemachine"
)

// EmitOutcome is the minimal surface RequeueDLQ needs from an emission
// result. pkg/eventbus.EmitResult implements this so store never imports
// eventbus: eventbus depends on store, not the other way around.
type EmitOutcome interface {
	Err() error
}

// Emitter re-runs an event context through the bus. RequeueDLQ takes one as
// a parameter instead of depending on *eventbus.Bus directly.
type Emitter func(ctx context.Context, evCtx eventcontext.Context) ([]EmitOutcome, error)

// DLQ wraps an EventStore with dead-letter queue operations. Dead-lettered
// records are stored as ordinary Records with State == statemachine.DeadLetter,
// keyed by the trace id they failed under plus a running requeue count kept
// in Record.Result.
type DLQ struct {
	store      EventStore
	maxRequeue int
}

// dlqMeta is the shape stashed in Record.Result for dead-lettered records.
type dlqMeta struct {
	RequeueCount int
	Reason       string
}

// decodeDLQMeta recovers dlqMeta from record.Result. A store that round-trips
// Result through JSON (e.g. pkg/storeadapters/postgres) hands it back as a
// map[string]any rather than the original struct, so both shapes are
// accepted; anything else yields a zero-value dlqMeta.
func decodeDLQMeta(v any) dlqMeta {
	switch m := v.(type) {
	case dlqMeta:
		return m
	case map[string]any:
		var meta dlqMeta
		if rc, ok := m["RequeueCount"].(float64); ok {
			meta.RequeueCount = int(rc)
		}
		if reason, ok := m["Reason"].(string); ok {
			meta.Reason = reason
		}
		return meta
	default:
		return dlqMeta{}
	}
}

// NewDLQ wraps store with DLQ operations. maxRequeue <= 0 means unlimited.
func NewDLQ(store EventStore, maxRequeue int) *DLQ {
	return &DLQ{store: store, maxRequeue: maxRequeue}
}

// MoveToDLQ persists record with State forced to DeadLetter and records the
// failure reason. It is called by the bus when a handler exhausts its
// retries and autoDLQ has not been disabled.
func (d *DLQ) MoveToDLQ(ctx context.Context, record Record, reason error) error {
	origID := record.ID
	record.ID = fmt.Sprintf("dlq_%s_%d", origID, record.TimestampMS)
	record.State = statemachine.DeadLetter
	meta := dlqMeta{RequeueCount: 0}
	if reason != nil {
		meta.Reason = reason.Error()
	}
	record.Result = meta

	if err := d.store.Save(ctx, record); err != nil {
		return &Error{Op: "MoveToDLQ", Err: err}
	}
	return nil
}

// ListDLQ returns every dead-lettered record for traceID, newest first.
func (d *DLQ) ListDLQ(ctx context.Context, traceID string) ([]Record, error) {
	records, err := d.store.Load(ctx, traceID)
	if err != nil {
		return nil, &Error{Op: "ListDLQ", Err: err}
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.State == statemachine.DeadLetter {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMS > out[j].TimestampMS })
	return out, nil
}

// PurgeDLQ deletes the dead-lettered record dlqID (or every dead-lettered
// record for traceID when dlqID is empty) and, when store also implements
// ErrorRecordSaver, saves a small audit record naming reason.
func (d *DLQ) PurgeDLQ(ctx context.Context, traceID, dlqID string, reason error) (int, error) {
	dead, err := d.ListDLQ(ctx, traceID)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, r := range dead {
		if dlqID != "" && r.ID != dlqID {
			continue
		}
		if err := d.store.Delete(ctx, traceID, r.ID); err != nil {
			return purged, &Error{Op: "PurgeDLQ", Err: err}
		}
		purged++
	}

	if saver, ok := d.store.(ErrorRecordSaver); ok && reason != nil {
		_ = saver.SaveErrorRecord(ctx, reason, traceID, "cleanup")
	}
	return purged, nil
}

// RequeueDLQ re-emits the dead-lettered record identified by id through
// emit. On a successful outcome (every EmitOutcome.Err() == nil) the
// original DLQ record is deleted and nothing new is saved, leaving the
// emit call's own Save to record the success. On failure the DLQ record's
// requeue count is incremented and re-saved. Before emitting, a record whose
// requeue count has already reached maxRequeue (when maxRequeue > 0) is not
// re-emitted: MaxRequeueExceededError is returned and the record is left
// untouched.
func (d *DLQ) RequeueDLQ(ctx context.Context, traceID, id string, emit Emitter) error {
	records, err := d.store.Load(ctx, traceID)
	if err != nil {
		return &Error{Op: "RequeueDLQ", Err: err}
	}

	var record Record
	found := false
	for _, r := range records {
		if r.ID == id && r.State == statemachine.DeadLetter {
			record = r
			found = true
			break
		}
	}
	if !found {
		return &NotFoundError{ID: id}
	}

	meta := decodeDLQMeta(record.Result)
	if d.maxRequeue > 0 && meta.RequeueCount >= d.maxRequeue {
		return &MaxRequeueExceededError{ID: id, RequeueCount: meta.RequeueCount, MaxRequeue: d.maxRequeue}
	}

	requeueCtx := record.Context
	requeueCtx.DisableAutoDLQ = true
	requeueCtx.ParentID = record.ID
	requeueCtx.RequeueCount = meta.RequeueCount + 1
	requeueCtx.TimestampMS = time.Now().UnixMilli()

	outcomes, emitErr := emit(ctx, requeueCtx)
	if emitErr == nil {
		allOK := true
		for _, o := range outcomes {
			if o.Err() != nil {
				allOK = false
				break
			}
		}
		if allOK {
			return d.store.Delete(ctx, traceID, id)
		}
	}

	meta.RequeueCount++
	record.Result = meta
	if err := d.store.Save(ctx, record); err != nil {
		return &Error{Op: "RequeueDLQ", Err: err}
	}
	return nil
}
