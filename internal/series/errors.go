package series

import "fmt"

// InvalidInputError reports a selection that cannot be turned into a clean
// window: an unknown column, a hole inside a series, or unequal lengths.
type InvalidInputError struct {
	Column string
	// Row is the 0-based dataset row, or -1 when the problem is not tied to a row.
	Row    int
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("invalid input in column %q at row %d: %s", e.Column, e.Row+1, e.Reason)
	}
	if e.Column != "" {
		return fmt.Sprintf("invalid input in column %q: %s", e.Column, e.Reason)
	}
	return "invalid input: " + e.Reason
}

// ValidationError reports the first precondition a window failed.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}
