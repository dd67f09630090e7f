package actor

import "fmt"

// panicToError normalizes a recover() value into an error so the
// failure sink always deals in errors, never bare interface{} values.
func panicToError(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("actor step panicked: %w", err)
	}
	return fmt.Errorf("actor step panicked: %v", rec)
}
