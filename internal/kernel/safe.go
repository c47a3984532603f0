package kernel

import (
	"errors"
	"fmt"
)

var errPanicRecovered = errors.New("panic recovered")

// runSafely executes fn and converts panics into errors tagged with scope.
// It guards every handler call and every event processing step.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("%s: %w: %v", scope, errPanicRecovered, recovered)
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
