package registry

import "fmt"

// Error is returned for bad registration arguments or when a registration
// cap is exceeded.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry: %s: %s", e.Op, e.Message)
}
