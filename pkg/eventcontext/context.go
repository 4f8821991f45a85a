// Package eventcontext defines the EventContext envelope carried through a
// single emission: normalization, version defaults, and the broadcast/DLQ
// control fields layered on top by the bus and the DLQ.
package eventcontext

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context is the message envelope that flows through an emission. Stable
// keys are typed fields; Meta is an opaque payload the kernel never
// inspects.
type Context struct {
	TraceID  string
	ID       string
	ParentID string
	Name     string
	Version  int
	// TimestampMS is the envelope's creation time in epoch milliseconds.
	TimestampMS int64
	Meta        any

	// Signal carries the caller's cancellation handle, honored by EventTask
	// in addition to any timeout it is given.
	Signal context.Context

	// Broadcast fields, populated only for inbound broadcast deliveries.
	Broadcast         bool
	BroadcastID       string
	BroadcastSource   string
	BroadcastChannels []string
	ExcludeSelf       bool
	ReceivedAtMS      int64

	// DLQ control fields.
	DisableAutoDLQ bool
	RequeueCount   int
	MaxRequeue     int
}

// Clone returns a shallow copy of the context. Meta is carried through by
// reference; callers that mutate Meta across emissions must copy it
// themselves.
func (c Context) Clone() Context {
	clone := c
	clone.BroadcastChannels = append([]string(nil), c.BroadcastChannels...)
	return clone
}

// Normalize returns c with its name, timestamp, trace id, id, version and
// MaxRequeue defaults filled in, matching EventBus.emit step 1. Name is
// always set to name; the other fields are filled only when unset, so a
// second call with the same name changes nothing.
func Normalize(c Context, name string) Context {
	c.Name = name
	if c.TimestampMS == 0 {
		c.TimestampMS = time.Now().UnixMilli()
	}
	if c.TraceID == "" {
		c.TraceID = uuid.NewString()
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.MaxRequeue == 0 {
		c.MaxRequeue = 5
	}
	return c
}
