package dispatch

import "fmt"

// TaskError is the typed failure payload of one computation task. It never
// affects sibling tasks of the same batch.
type TaskError struct {
	Tag      string
	Err      error
	Panicked bool
	TimedOut bool
}

func (e *TaskError) Error() string {
	switch {
	case e.Panicked:
		return fmt.Sprintf("task %s panicked: %v", e.Tag, e.Err)
	case e.TimedOut:
		return fmt.Sprintf("task %s timed out: %v", e.Tag, e.Err)
	}
	return fmt.Sprintf("task %s failed: %v", e.Tag, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
