package registry

import "github.com/evkernel/evkernel/pkg/eventcontext"

// Handler processes one emission for one handler slot.
type Handler func(ctx eventcontext.Context) (any, error)

// Middleware wraps a Handler in the classic onion pattern: middleware[0]
// runs first before and last after. A middleware that does not invoke next
// short-circuits the chain.
type Middleware func(next Handler) Handler

// Chain composes middlewares around final in registration order: mw[0] is
// outermost.
func Chain(mws []Middleware, final Handler) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
