package injector

import "fmt"

// AlreadyRegisteredError is returned by Register when id already has a
// result: registration is write-once.
type AlreadyRegisteredError struct {
	ID string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("injector: %q already registered", e.ID)
}

// NotFoundError is returned by Resolve when id has no registered result.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("injector: %q not registered", e.ID)
}

// UnclonableError is returned when the clone walk reaches a function or
// host-resource value (channel, unsafe pointer) that cannot be meaningfully
// copied.
type UnclonableError struct {
	Path string
	Kind string
}

func (e *UnclonableError) Error() string {
	return fmt.Sprintf("injector: cannot clone %s at %q: rejected kind", e.Kind, e.Path)
}
