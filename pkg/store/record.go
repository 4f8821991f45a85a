package store

import (
	"github.com/evkernel/evkernel/pkg/eventcontext"
	"github.com/evkernel/evkernel/pkg/statemachine"
)

// Record is an EventRecord: a persisted snapshot of one handler's execution
// within an emission.
type Record struct {
	ID          string
	TraceID     string
	Name        string
	Version     int
	State       statemachine.State
	TimestampMS int64
	Context     eventcontext.Context
	Result      any
	Err         error
}

// HealthStatus is the result of an EventStore health check.
type HealthStatus struct {
	Status  string
	Details any
	Message string
}
