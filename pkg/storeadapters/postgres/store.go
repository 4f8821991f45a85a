// Package postgres is the reference durable EventStore backend: a
// pgx-pooled Postgres implementation of store.EventStore plus the schema
// migrations it depends on.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evkernel/evkernel/pkg/eventcontext"
	"github.com/evkernel/evkernel/pkg/observability"
	"github.com/evkernel/evkernel/pkg/statemachine"
	"github.com/evkernel/evkernel/pkg/store"
	"github.com/jackc/pgx/v5"
)

// Store is a durable store.EventStore backed by Postgres. Records are
// upserted by id so Save doubles as an update for a record whose state
// advances (e.g. scheduled -> running -> succeeded) without growing the
// table per transition.
type Store struct {
	pool *Pool
	o11y observability.Observability
}

// NewStore wraps pool as a store.EventStore. o11y is used only to log query
// failures at Error level; it may be nil, in which case nothing is logged.
// No spans are opened.
func NewStore(pool *Pool, o11y observability.Observability) *Store {
	return &Store{pool: pool, o11y: o11y}
}

var _ store.EventStore = (*Store)(nil)
var _ store.ErrorRecordSaver = (*Store)(nil)

// contextDTO is the JSON-serializable projection of eventcontext.Context;
// Signal (a context.Context) carries no durable state and is dropped.
type contextDTO struct {
	TraceID           string   `json:"trace_id"`
	ID                string   `json:"id"`
	ParentID          string   `json:"parent_id,omitempty"`
	Name              string   `json:"name"`
	Version           int      `json:"version"`
	TimestampMS       int64    `json:"timestamp_ms"`
	Meta              any      `json:"meta,omitempty"`
	Broadcast         bool     `json:"broadcast,omitempty"`
	BroadcastID       string   `json:"broadcast_id,omitempty"`
	BroadcastSource   string   `json:"broadcast_source,omitempty"`
	BroadcastChannels []string `json:"broadcast_channels,omitempty"`
	ExcludeSelf       bool     `json:"exclude_self,omitempty"`
	ReceivedAtMS      int64    `json:"received_at_ms,omitempty"`
	DisableAutoDLQ    bool     `json:"disable_auto_dlq,omitempty"`
	RequeueCount      int      `json:"requeue_count,omitempty"`
	MaxRequeue        int      `json:"max_requeue,omitempty"`
}

func toDTO(c eventcontext.Context) contextDTO {
	return contextDTO{
		TraceID: c.TraceID, ID: c.ID, ParentID: c.ParentID, Name: c.Name,
		Version: c.Version, TimestampMS: c.TimestampMS, Meta: c.Meta,
		Broadcast: c.Broadcast, BroadcastID: c.BroadcastID, BroadcastSource: c.BroadcastSource,
		BroadcastChannels: c.BroadcastChannels, ExcludeSelf: c.ExcludeSelf, ReceivedAtMS: c.ReceivedAtMS,
		DisableAutoDLQ: c.DisableAutoDLQ, RequeueCount: c.RequeueCount, MaxRequeue: c.MaxRequeue,
	}
}

func fromDTO(d contextDTO) eventcontext.Context {
	return eventcontext.Context{
		TraceID: d.TraceID, ID: d.ID, ParentID: d.ParentID, Name: d.Name,
		Version: d.Version, TimestampMS: d.TimestampMS, Meta: d.Meta,
		Broadcast: d.Broadcast, BroadcastID: d.BroadcastID, BroadcastSource: d.BroadcastSource,
		BroadcastChannels: d.BroadcastChannels, ExcludeSelf: d.ExcludeSelf, ReceivedAtMS: d.ReceivedAtMS,
		DisableAutoDLQ: d.DisableAutoDLQ, RequeueCount: d.RequeueCount, MaxRequeue: d.MaxRequeue,
	}
}

func (s *Store) Save(ctx context.Context, record store.Record) error {
	ctxJSON, err := json.Marshal(toDTO(record.Context))
	if err != nil {
		return &store.Error{Op: "Save", Err: fmt.Errorf("marshal context: %w", err)}
	}

	var resultJSON []byte
	if record.Result != nil {
		resultJSON, err = json.Marshal(record.Result)
		if err != nil {
			return &store.Error{Op: "Save", Err: fmt.Errorf("marshal result: %w", err)}
		}
	}

	var errText *string
	if record.Err != nil {
		msg := record.Err.Error()
		errText = &msg
	}

	const q = `
		INSERT INTO event_records (id, trace_id, name, version, state, timestamp_ms, context, result, err)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			trace_id = EXCLUDED.trace_id,
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			timestamp_ms = EXCLUDED.timestamp_ms,
			context = EXCLUDED.context,
			result = EXCLUDED.result,
			err = EXCLUDED.err`

	_, err = s.pool.Raw().Exec(ctx, q,
		record.ID, record.TraceID, record.Name, record.Version, string(record.State),
		record.TimestampMS, string(ctxJSON), nullableJSON(resultJSON), errText)
	if err != nil {
		s.logError(ctx, "save record failed", err)
		return &store.Error{Op: "Save", Err: err}
	}
	return nil
}

func (s *Store) Load(ctx context.Context, traceID string) ([]store.Record, error) {
	return s.query(ctx, "Load", `SELECT id, trace_id, name, version, state, timestamp_ms, context, result, err
		FROM event_records WHERE trace_id = $1 ORDER BY timestamp_ms ASC`, traceID)
}

func (s *Store) LoadAll(ctx context.Context) ([]store.Record, error) {
	return s.query(ctx, "LoadAll", `SELECT id, trace_id, name, version, state, timestamp_ms, context, result, err
		FROM event_records ORDER BY timestamp_ms ASC`)
}

func (s *Store) LoadByName(ctx context.Context, name string) ([]store.Record, error) {
	return s.query(ctx, "LoadByName", `SELECT id, trace_id, name, version, state, timestamp_ms, context, result, err
		FROM event_records WHERE name = $1 ORDER BY timestamp_ms ASC`, name)
}

func (s *Store) LoadByTimeRange(ctx context.Context, startMS, endMS int64) ([]store.Record, error) {
	return s.query(ctx, "LoadByTimeRange", `SELECT id, trace_id, name, version, state, timestamp_ms, context, result, err
		FROM event_records WHERE timestamp_ms BETWEEN $1 AND $2 ORDER BY timestamp_ms ASC`, startMS, endMS)
}

func (s *Store) Delete(ctx context.Context, traceID, id string) error {
	_, err := s.pool.Raw().Exec(ctx, `DELETE FROM event_records WHERE trace_id = $1 AND id = $2`, traceID, id)
	if err != nil {
		return &store.Error{Op: "Delete", Err: err}
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Raw().Exec(ctx, `TRUNCATE event_records, event_error_records`); err != nil {
		return &store.Error{Op: "Clear", Err: err}
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) (store.HealthStatus, error) {
	if err := s.pool.Ping(ctx); err != nil {
		s.logError(ctx, "health check ping failed", err)
		return store.HealthStatus{Status: "unhealthy", Message: err.Error()}, &store.Error{Op: "HealthCheck", Err: err}
	}

	var count int64
	if err := s.pool.Raw().QueryRow(ctx, `SELECT count(*) FROM event_records`).Scan(&count); err != nil {
		s.logError(ctx, "health check count query failed", err)
		return store.HealthStatus{Status: "unhealthy", Message: err.Error()}, &store.Error{Op: "HealthCheck", Err: err}
	}

	return store.HealthStatus{Status: "ok", Details: map[string]int64{"records": count}}, nil
}

func (s *Store) logError(ctx context.Context, msg string, err error) {
	if s.o11y == nil {
		return
	}
	s.o11y.Logger().Error(ctx, msg, observability.Error(err))
}

// SaveErrorRecord implements store.ErrorRecordSaver: out-of-band
// store/adapter/broadcast failures are kept separately from EventRecords.
func (s *Store) SaveErrorRecord(ctx context.Context, recErr error, evCtx any, kind string) error {
	var ctxJSON []byte
	var traceID string
	if ec, ok := evCtx.(eventcontext.Context); ok {
		traceID = ec.TraceID
		if b, err := json.Marshal(toDTO(ec)); err == nil {
			ctxJSON = b
		}
	}

	const q = `INSERT INTO event_error_records (trace_id, kind, err, context, timestamp_ms)
		VALUES ($1, $2, $3, $4, extract(epoch from now()) * 1000)`
	if _, err := s.pool.Raw().Exec(ctx, q, traceID, kind, recErr.Error(), nullableJSON(ctxJSON)); err != nil {
		return &store.Error{Op: "SaveErrorRecord", Err: err}
	}
	return nil
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]store.Record, error) {
	rows, err := s.pool.Raw().Query(ctx, sql, args...)
	if err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, &store.Error{Op: op, Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	return out, nil
}

func scanRecord(rows pgx.Rows) (store.Record, error) {
	var (
		id, traceID, name, state string
		version                  int
		timestampMS              int64
		ctxJSON, resultJSON      []byte
		errText                  *string
	)

	if err := rows.Scan(&id, &traceID, &name, &version, &state, &timestampMS, &ctxJSON, &resultJSON, &errText); err != nil {
		return store.Record{}, err
	}

	var dto contextDTO
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &dto); err != nil {
			return store.Record{}, fmt.Errorf("unmarshal context: %w", err)
		}
	}

	var result any
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return store.Record{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}

	var recErr error
	if errText != nil {
		recErr = fmt.Errorf("%s", *errText)
	}

	return store.Record{
		ID:          id,
		TraceID:     traceID,
		Name:        name,
		Version:     version,
		State:       statemachine.State(state),
		TimestampMS: timestampMS,
		Context:     fromDTO(dto),
		Result:      result,
		Err:         recErr,
	}, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
