package postgres

import "fmt"

// ConnectError wraps a pool-construction or ping failure.
type ConnectError struct {
	Op  string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("storeadapters/postgres: %s: %v", e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
