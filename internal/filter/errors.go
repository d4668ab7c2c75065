package filter

import "fmt"

// panicError wraps a recovered filter panic for the observability path.
type panicError struct {
	filter string
	value  any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("filter %s panicked: %v", e.filter, e.value)
}
