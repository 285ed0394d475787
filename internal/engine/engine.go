package engine

import (
	"context"
	"fmt"
	"strconv"
)

// Methods understood by the local engine. A remote engine may support more.
const (
	MethodDescribe       = "describe"
	MethodMovingAverage  = "smooth.moving_average"
	MethodExponential    = "smooth.exponential"
	MethodAdditive       = "decompose.additive"
	MethodMultiplicative = "decompose.multiplicative"
	MethodACF            = "acf"
	MethodPACF           = "pacf"
	MethodARIMA          = "arima"
	MethodLinear         = "regression.linear"
	MethodDiscriminant   = "discriminant"
)

// NamedSeries is a computed series. Values start at row Offset of the analysis
// window; earlier rows have no value.
type NamedSeries struct {
	Name   string    `json:"name"`
	Offset int       `json:"offset,omitempty"`
	Values []float64 `json:"values"`
}

// End is the row index just past the last value.
func (s NamedSeries) End() int { return s.Offset + len(s.Values) }

// Request is one call into the engine. Series is the dependent series; it is a
// private copy owned by the request.
type Request struct {
	Method     string             `json:"method"`
	Name       string             `json:"name"`
	Series     []float64          `json:"series"`
	Label      string             `json:"label,omitempty"`
	Labels     []string           `json:"labels,omitempty"`
	Covariates []NamedSeries      `json:"covariates,omitempty"`
	Params     map[string]float64 `json:"params,omitempty"`
	Options    map[string]string  `json:"options,omitempty"`
}

// Param returns the named parameter or def when absent.
func (r Request) Param(name string, def float64) float64 {
	if v, ok := r.Params[name]; ok {
		return v
	}
	return def
}

// IntParam is Param rounded to an int.
func (r Request) IntParam(name string, def int) int {
	return int(r.Param(name, float64(def)))
}

// Output is the structured result of one computation.
type Output struct {
	Summary string        `json:"summary"`
	Tables  []Table       `json:"tables"`
	Series  []NamedSeries `json:"series,omitempty"`
}

// Find returns the series with the given name.
func (o *Output) Find(name string) (NamedSeries, bool) {
	for _, s := range o.Series {
		if s.Name == name {
			return s, true
		}
	}
	return NamedSeries{}, false
}

// Engine is the external computation engine. Implementations must treat the
// request as read-only and be safe for concurrent use.
type Engine interface {
	Compute(ctx context.Context, req Request) (*Output, error)
}

// Func adapts a function to the Engine interface.
type Func func(ctx context.Context, req Request) (*Output, error)

func (f Func) Compute(ctx context.Context, req Request) (*Output, error) { return f(ctx, req) }

// ParamError reports an invalid method parameter.
type ParamError struct {
	Method string
	Param  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: parameter %s %s", e.Method, e.Param, e.Reason)
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
