package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/evkernel/evkernel/pkg/eventcontext"
	"github.com/evkernel/evkernel/pkg/statemachine"
	"github.com/evkernel/evkernel/pkg/store"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveLoad(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, store.Record{ID: "1", TraceID: "t1", Name: "order.created", TimestampMS: 10}))
	require.NoError(t, s.Save(ctx, store.Record{ID: "2", TraceID: "t1", Name: "order.created", TimestampMS: 20}))
	require.NoError(t, s.Save(ctx, store.Record{ID: "3", TraceID: "t2", Name: "order.shipped", TimestampMS: 15}))

	byTrace, err := s.Load(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, byTrace, 2)

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	byName, err := s.LoadByName(ctx, "order.shipped")
	require.NoError(t, err)
	require.Len(t, byName, 1)

	byRange, err := s.LoadByTimeRange(ctx, 12, 20)
	require.NoError(t, err)
	require.Len(t, byRange, 2)

	require.NoError(t, s.Delete(ctx, "t1", "1"))
	byTrace, _ = s.Load(ctx, "t1")
	require.Len(t, byTrace, 1)

	health, err := s.HealthCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
}

func TestMemoryStore_Clear(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, store.Record{ID: "1", TraceID: "t1"}))
	require.NoError(t, s.Clear(ctx))
	all, _ := s.LoadAll(ctx)
	require.Empty(t, all)
}

// fakeOutcome implements store.EmitOutcome.
type fakeOutcome struct{ err error }

func (f fakeOutcome) Err() error { return f.err }

// TestDLQ_MoveListRequeue covers S7: a handler dead-letters a record,
// ListDLQ surfaces it, and a successful RequeueDLQ deletes it without
// leaving a new record behind (a real re-emit would Save its own success
// record through the bus, not through RequeueDLQ).
func TestDLQ_MoveListRequeue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dlq := store.NewDLQ(s, 3)

	record := store.Record{
		ID:      "orig-1",
		TraceID: "trace-1",
		Name:    "order.created",
		State:   statemachine.Failed,
		Context: eventcontext.Context{Name: "order.created", Version: 1},
	}
	require.NoError(t, dlq.MoveToDLQ(ctx, record, errors.New("handler exploded")))

	dead, err := dlq.ListDLQ(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, statemachine.DeadLetter, dead[0].State)

	succeed := store.Emitter(func(ctx context.Context, evCtx eventcontext.Context) ([]store.EmitOutcome, error) {
		return []store.EmitOutcome{fakeOutcome{err: nil}}, nil
	})
	require.NoError(t, dlq.RequeueDLQ(ctx, "trace-1", dead[0].ID, succeed))

	dead, err = dlq.ListDLQ(ctx, "trace-1")
	require.NoError(t, err)
	require.Empty(t, dead)
}

func TestDLQ_RequeueStillFailingIncrementsCount(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dlq := store.NewDLQ(s, 2)

	require.NoError(t, dlq.MoveToDLQ(ctx, store.Record{ID: "orig-2", TraceID: "t"}, errors.New("boom")))
	dead, err := dlq.ListDLQ(ctx, "t")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	dlqID := dead[0].ID

	stillFails := store.Emitter(func(ctx context.Context, evCtx eventcontext.Context) ([]store.EmitOutcome, error) {
		return []store.EmitOutcome{fakeOutcome{err: errors.New("boom again")}}, nil
	})

	require.NoError(t, dlq.RequeueDLQ(ctx, "t", dlqID, stillFails))
	require.NoError(t, dlq.RequeueDLQ(ctx, "t", dlqID, stillFails))

	err = dlq.RequeueDLQ(ctx, "t", dlqID, stillFails)
	var maxErr *store.MaxRequeueExceededError
	require.ErrorAs(t, err, &maxErr)
}

func TestDLQ_RequeueNotFound(t *testing.T) {
	ctx := context.Background()
	dlq := store.NewDLQ(store.NewMemoryStore(), 0)

	err := dlq.RequeueDLQ(ctx, "t", "missing", nil)
	var notFound *store.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDLQ_Purge(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	dlq := store.NewDLQ(s, 0)

	require.NoError(t, dlq.MoveToDLQ(ctx, store.Record{ID: "a", TraceID: "t"}, nil))
	require.NoError(t, dlq.MoveToDLQ(ctx, store.Record{ID: "b", TraceID: "t"}, nil))

	n, err := dlq.PurgeDLQ(ctx, "t", "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	dead, _ := dlq.ListDLQ(ctx, "t")
	require.Empty(t, dead)
}
