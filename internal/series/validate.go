package series

import "fmt"

// Rule is one precondition checked against a window before computation.
type Rule struct {
	name  string
	check func(w *Window) string
}

// Name identifies the rule in a ValidationError.
func (r Rule) Name() string { return r.name }

// MinLength fails when the window is shorter than n.
func MinLength(n int) Rule {
	return Rule{name: "minLength", check: func(w *Window) string {
		if w.Len() < n {
			return fmt.Sprintf("at least %d observations are required, got %d", n, w.Len())
		}
		return ""
	}}
}

// EqualLength fails when the two named series differ in length or are not in the window.
func EqualLength(a, b string) Rule {
	return Rule{name: "equalLength", check: func(w *Window) string {
		la, ok := w.has(a)
		if !ok {
			return fmt.Sprintf("series %q is not part of the analysis", a)
		}
		lb, ok := w.has(b)
		if !ok {
			return fmt.Sprintf("series %q is not part of the analysis", b)
		}
		if la != lb {
			return fmt.Sprintf("series %q (%d values) and %q (%d values) must have the same length", a, la, b, lb)
		}
		return ""
	}}
}

// Periodicity fails when the window does not hold at least four whole periods of p.
func Periodicity(p int) Rule {
	return Rule{name: "periodicity", check: func(w *Window) string {
		l := w.Len()
		switch {
		case p <= 0:
			return fmt.Sprintf("periodicity must be positive, got %d", p)
		case l < 4*p:
			return fmt.Sprintf("length less than 4× periodicity (%d < %d)", l, 4*p)
		case l%p != 0:
			return fmt.Sprintf("length %d is not a multiple of periodicity %d", l, p)
		}
		return ""
	}}
}

// Validate applies rules in order and returns the first failure as a *ValidationError.
func Validate(w *Window, rules ...Rule) error {
	if w == nil {
		return &ValidationError{Rule: "window", Message: "no analysis window"}
	}
	for _, r := range rules {
		if r.check == nil {
			continue
		}
		if msg := r.check(w); msg != "" {
			return &ValidationError{Rule: r.name, Message: msg}
		}
	}
	return nil
}
