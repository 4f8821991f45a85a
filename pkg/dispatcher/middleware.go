package dispatcher

import (
	"context"
	"sync/atomic"
)

// Handler runs one node's action. deps holds the deep-cloned result
// registered by every direct dependency, keyed by node id.
type Handler func(ctx context.Context, deps map[string]any) (any, error)

// Middleware wraps a Handler in the classic onion pattern: mw[0] runs first
// before and last after. A middleware that calls next() more than once in a
// single invocation is a programming error; a middleware that never calls
// next() short-circuits the chain.
type Middleware func(next Handler) Handler

// chain composes mws around final for node, freshly guarding each
// middleware's next() against multiple calls. Built once per invocation so
// the guard's call counter cannot leak across separate Run calls.
func chain(node string, mws []Middleware, final Handler) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](guardNext(node, h))
	}
	return h
}

func guardNext(node string, next Handler) Handler {
	var calls int32
	return func(ctx context.Context, deps map[string]any) (any, error) {
		if atomic.AddInt32(&calls, 1) > 1 {
			panic(&NextCalledTwiceError{Node: node})
		}
		return next(ctx, deps)
	}
}
