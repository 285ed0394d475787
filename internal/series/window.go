package series

import "strings"

// Window is the clean, same-length set of series extracted for one analysis.
// Accessors return copies so a Window can be shared read-only across tasks.
type Window struct {
	names   []string
	label   string
	numbers map[string][]float64
	labels  map[string][]string
	length  int
}

// NewWindow builds a window from already clean series. The label series may be nil.
// It is mainly useful for tests and engines that synthesize windows.
func NewWindow(numbers map[string][]float64, order []string, label string, labels []string) *Window {
	w := &Window{numbers: map[string][]float64{}, labels: map[string][]string{}, label: label}
	for _, n := range order {
		if v, ok := numbers[n]; ok {
			w.names = append(w.names, n)
			w.numbers[n] = append([]float64(nil), v...)
			w.length = len(v)
		}
	}
	if label != "" {
		w.labels[label] = append([]string(nil), labels...)
		if len(order) == 0 {
			w.length = len(labels)
		}
	}
	return w
}

// Len is the common length of every series in the window.
func (w *Window) Len() int { return w.length }

// Names lists the numeric series in selection order.
func (w *Window) Names() []string { return append([]string(nil), w.names...) }

// Label is the name of the label series, or "" when none was selected.
func (w *Window) Label() string { return w.label }

// Numbers returns a copy of the named numeric series. Names match
// case-insensitively, like dataset column lookups.
func (w *Window) Numbers(name string) ([]float64, bool) {
	v, ok := w.numbers[w.resolve(name)]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

// Labels returns a copy of the named label series.
func (w *Window) Labels(name string) ([]string, bool) {
	v, ok := w.labels[w.resolve(name)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), v...), true
}

// resolve maps name to the stored series name, or returns it unchanged.
func (w *Window) resolve(name string) string {
	if _, ok := w.numbers[name]; ok {
		return name
	}
	if _, ok := w.labels[name]; ok {
		return name
	}
	for _, n := range w.names {
		if strings.EqualFold(n, name) {
			return n
		}
	}
	if w.label != "" && strings.EqualFold(w.label, name) {
		return w.label
	}
	return name
}

func (w *Window) has(name string) (int, bool) {
	name = w.resolve(name)
	if v, ok := w.numbers[name]; ok {
		return len(v), true
	}
	if v, ok := w.labels[name]; ok {
		return len(v), true
	}
	return 0, false
}

// Clone returns a deep copy.
func (w *Window) Clone() *Window {
	c := &Window{
		names:   append([]string(nil), w.names...),
		label:   w.label,
		numbers: make(map[string][]float64, len(w.numbers)),
		labels:  make(map[string][]string, len(w.labels)),
		length:  w.length,
	}
	for k, v := range w.numbers {
		c.numbers[k] = append([]float64(nil), v...)
	}
	for k, v := range w.labels {
		c.labels[k] = append([]string(nil), v...)
	}
	return c
}
