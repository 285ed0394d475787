package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/dispatch"
	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/series"
	"go.uber.org/multierr"
)

// SelectionError reports a missing or unusable variable selection. It is
// raised before anything is read from the dataset.
type SelectionError struct {
	Field   string
	Message string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("selection %s: %s", e.Field, e.Message)
}

// Category groups errors by how the workbench reacts to them.
type Category string

const (
	CategoryNone         Category = ""
	CategorySelection    Category = "selection"
	CategoryInvalidInput Category = "invalid_input"
	CategoryValidation   Category = "validation"
	CategoryTask         Category = "task"
	CategoryPersistence  Category = "persistence"
	CategoryCanceled     Category = "canceled"
	CategoryInternal     Category = "internal"
)

// Classify maps err to its category. Persistence wins over everything else
// because it aborts the run.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var (
		pe  *ledger.PersistenceError
		se  *dataset.StoreError
		sel *SelectionError
		ie  *series.InvalidInputError
		ve  *series.ValidationError
		te  *dispatch.TaskError
	)
	switch {
	case errors.As(err, &pe), errors.As(err, &se):
		return CategoryPersistence
	case errors.As(err, &sel):
		return CategorySelection
	case errors.As(err, &ie):
		return CategoryInvalidInput
	case errors.As(err, &ve):
		return CategoryValidation
	case errors.As(err, &te):
		return CategoryTask
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CategoryCanceled
	}
	return CategoryInternal
}

// UserMessage renders err as a user-readable sentence naming the step that failed.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		sel *SelectionError
		ie  *series.InvalidInputError
		ve  *series.ValidationError
	)
	switch Classify(err) {
	case CategorySelection:
		if errors.As(err, &sel) {
			return "Selection: " + sel.Message
		}
	case CategoryInvalidInput:
		if errors.As(err, &ie) {
			if ie.Row >= 0 {
				return fmt.Sprintf("Invalid data in %q at row %d: %s.", ie.Column, ie.Row+1, ie.Reason)
			}
			if ie.Column != "" {
				return fmt.Sprintf("Invalid data in %q: %s.", ie.Column, ie.Reason)
			}
			return "Invalid data: " + ie.Reason + "."
		}
	case CategoryValidation:
		if errors.As(err, &ve) {
			return fmt.Sprintf("Precondition %s failed: %s.", ve.Rule, ve.Message)
		}
	case CategoryTask:
		var msgs []string
		for _, e := range multierr.Errors(err) {
			msgs = append(msgs, taskMessage(e))
		}
		return strings.Join(msgs, "; ")
	case CategoryPersistence:
		if errors.As(err, new(*dataset.StoreError)) {
			return "Could not write columns back: " + err.Error()
		}
		return "Could not save results: " + err.Error()
	case CategoryCanceled:
		return "The analysis was canceled."
	}
	return err.Error()
}

func taskMessage(err error) string {
	var te *dispatch.TaskError
	if !errors.As(err, &te) {
		return err.Error()
	}
	var um *engine.UnsupportedMethodError
	switch {
	case errors.As(te.Err, &um):
		return fmt.Sprintf("%s: %s", te.Tag, um.Error())
	case te.Panicked:
		return fmt.Sprintf("%s: computation crashed (%v)", te.Tag, te.Err)
	case te.TimedOut:
		return fmt.Sprintf("%s: computation timed out", te.Tag)
	}
	return fmt.Sprintf("%s: %v", te.Tag, te.Err)
}
