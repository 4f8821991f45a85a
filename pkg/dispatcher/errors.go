package dispatcher

import "fmt"

// NextCalledTwiceError is the fatal, fail-fast error raised when a
// MiddlewarePipeline middleware invokes next() more than once in a single
// invocation.
type NextCalledTwiceError struct {
	Node string
}

func (e *NextCalledTwiceError) Error() string {
	return fmt.Sprintf("dispatcher: node %q: next() called multiple times", e.Node)
}

// NotHandledError is returned by Run when node has no registered handler.
type NotHandledError struct {
	Node string
}

func (e *NotHandledError) Error() string {
	return fmt.Sprintf("dispatcher: node %q has no registered handler", e.Node)
}
