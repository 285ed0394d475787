package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/series"
)

// Kind names an analysis of the catalog.
type Kind string

const (
	KindDescribe        Kind = "describe"
	KindSmoothing       Kind = "smoothing"
	KindDecomposition   Kind = "decomposition"
	KindAutocorrelation Kind = "autocorrelation"
	KindARIMA           Kind = "arima"
	KindRegression      Kind = "regression"
	KindDiscriminant    Kind = "discriminant"
)

// Selection is what the user picked: dependent variables, an optional label
// (time/period or grouping) variable and independent variables.
type Selection struct {
	Dependent   []string `json:"dependent"`
	Label       string   `json:"label,omitempty"`
	Independent []string `json:"independent,omitempty"`
}

// Options configures an analysis. Zero values pick the defaults of each kind.
type Options struct {
	// Method picks a variant: moving_average|exponential, additive|multiplicative.
	Method  string  `json:"method,omitempty"`
	Window  int     `json:"window,omitempty"`
	Alpha   float64 `json:"alpha,omitempty"`
	Period  int     `json:"period,omitempty"`
	Lags    int     `json:"lags,omitempty"`
	P       int     `json:"p,omitempty"`
	D       int     `json:"d,omitempty"`
	Q       int     `json:"q,omitempty"`
	Horizon int     `json:"horizon,omitempty"`
	// Save writes the derived series back to the dataset as new columns.
	Save bool `json:"save,omitempty"`
}

// writeBack maps an output series to a new dataset column.
type writeBack struct {
	series string
	suffix string
	extend bool
}

type taskPlan struct {
	tag        string
	title      string
	method     string
	dependent  string
	covariates []string
	params     map[string]float64
	writeBack  []writeBack
}

type groupPlan struct {
	title string
	note  string
	tasks []taskPlan
}

// plan is everything the workbench needs to run one analysis.
type plan struct {
	description string
	extract     series.Selection
	rules       []series.Rule
	groups      []groupPlan
}

type planner func(sel Selection, opt Options) (*plan, error)

var catalog = map[Kind]planner{
	KindDescribe:        planDescribe,
	KindSmoothing:       planSmoothing,
	KindDecomposition:   planDecomposition,
	KindAutocorrelation: planAutocorrelation,
	KindARIMA:           planARIMA,
	KindRegression:      planRegression,
	KindDiscriminant:    planDiscriminant,
}

// Kinds lists the catalog.
func Kinds() []Kind {
	out := make([]Kind, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func planFor(kind Kind, sel Selection, opt Options) (*plan, error) {
	p, ok := catalog[Kind(strings.ToLower(string(kind)))]
	if !ok {
		return nil, &SelectionError{Field: "analysis", Message: fmt.Sprintf("unknown analysis %q", kind)}
	}
	sel.Dependent = unique(trimAll(sel.Dependent))
	sel.Independent = unique(trimAll(sel.Independent))
	sel.Label = strings.TrimSpace(sel.Label)
	return p(sel, opt)
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// unique drops repeated names, compared case-insensitively, keeping the first.
func unique(in []string) []string {
	var out []string
	for _, s := range in {
		dup := false
		for _, o := range out {
			if strings.EqualFold(o, s) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

func needDependent(sel Selection) error {
	if len(sel.Dependent) == 0 {
		return &SelectionError{Field: "dependent", Message: "select at least one dependent variable"}
	}
	return nil
}

func needLabel(sel Selection, what string) error {
	if sel.Label == "" {
		return &SelectionError{Field: "label", Message: "select a " + what + " variable"}
	}
	return nil
}

// timeSeries checks the selection shared by the time-series analyses.
func timeSeries(sel Selection) error {
	if err := needDependent(sel); err != nil {
		return err
	}
	return needLabel(sel, "time (label)")
}

func equalToLabel(sel Selection) []series.Rule {
	var rules []series.Rule
	for _, d := range sel.Dependent {
		rules = append(rules, series.EqualLength(d, sel.Label))
	}
	return rules
}

func describeTask(dep string) taskPlan {
	return taskPlan{tag: "90-describe", title: "Descriptives", method: engine.MethodDescribe, dependent: dep}
}

func planDescribe(sel Selection, _ Options) (*plan, error) {
	if err := needDependent(sel); err != nil {
		return nil, err
	}
	p := &plan{
		description: "Descriptives of " + strings.Join(sel.Dependent, ", "),
		extract:     series.Selection{Numeric: sel.Dependent, Label: sel.Label},
		rules:       []series.Rule{series.MinLength(1)},
	}
	for _, d := range sel.Dependent {
		p.groups = append(p.groups, groupPlan{title: "Descriptives: " + d, tasks: []taskPlan{describeTask(d)}})
	}
	return p, nil
}

func planSmoothing(sel Selection, opt Options) (*plan, error) {
	if err := timeSeries(sel); err != nil {
		return nil, err
	}
	method, title, suffix := engine.MethodMovingAverage, "", "ma"
	params := map[string]float64{}
	minLen := 2
	switch strings.ToLower(opt.Method) {
	case "", "moving_average", "ma":
		w := opt.Window
		if w == 0 {
			w = 3
		}
		params["window"] = float64(w)
		title = fmt.Sprintf("Moving average (%d)", w)
		if w > minLen {
			minLen = w
		}
	case "exponential", "es":
		method, suffix = engine.MethodExponential, "es"
		a := opt.Alpha
		if a == 0 {
			a = 0.3
		}
		params["alpha"] = a
		params["horizon"] = float64(opt.Horizon)
		title = fmt.Sprintf("Exponential smoothing (α=%g)", a)
	default:
		return nil, &SelectionError{Field: "method", Message: fmt.Sprintf("unknown smoothing method %q", opt.Method)}
	}
	p := &plan{
		description: fmt.Sprintf("%s of %s by %s", title, strings.Join(sel.Dependent, ", "), sel.Label),
		extract:     series.Selection{Numeric: sel.Dependent, Label: sel.Label},
		rules:       append([]series.Rule{series.MinLength(minLen)}, equalToLabel(sel)...),
	}
	for _, d := range sel.Dependent {
		p.groups = append(p.groups, groupPlan{
			title: title + ": " + d,
			note:  "Label: " + sel.Label,
			tasks: []taskPlan{
				{tag: "10-smooth", title: title, method: method, dependent: d, params: params,
					writeBack: []writeBack{{series: "smoothed", suffix: suffix}, {series: "forecast", suffix: suffix + "_fc", extend: true}}},
				describeTask(d),
			},
		})
	}
	return p, nil
}

func planDecomposition(sel Selection, opt Options) (*plan, error) {
	if err := timeSeries(sel); err != nil {
		return nil, err
	}
	if opt.Period <= 0 {
		return nil, &SelectionError{Field: "period", Message: "set the periodicity (e.g. 12 for monthly data)"}
	}
	method, model := engine.MethodAdditive, "Additive"
	switch strings.ToLower(opt.Method) {
	case "", "additive":
	case "multiplicative":
		method, model = engine.MethodMultiplicative, "Multiplicative"
	default:
		return nil, &SelectionError{Field: "method", Message: fmt.Sprintf("unknown decomposition model %q", opt.Method)}
	}
	period := float64(opt.Period)
	p := &plan{
		description: fmt.Sprintf("%s decomposition (period %d) of %s by %s", model, opt.Period, strings.Join(sel.Dependent, ", "), sel.Label),
		extract:     series.Selection{Numeric: sel.Dependent, Label: sel.Label},
		rules:       append([]series.Rule{series.MinLength(2), series.Periodicity(opt.Period)}, equalToLabel(sel)...),
	}
	for _, d := range sel.Dependent {
		p.groups = append(p.groups, groupPlan{
			title: fmt.Sprintf("%s decomposition: %s", model, d),
			note:  fmt.Sprintf("Period %d, label %s", opt.Period, sel.Label),
			tasks: []taskPlan{
				{tag: "10-decompose", title: model + " decomposition", method: method, dependent: d,
					params: map[string]float64{"period": period},
					writeBack: []writeBack{
						{series: "seasonal", suffix: "seasonal"},
						{series: "trend", suffix: "trend"},
						{series: "irregular", suffix: "irregular"},
					}},
				{tag: "20-acf", title: "Autocorrelation", method: engine.MethodACF, dependent: d,
					params: map[string]float64{"lags": float64(2 * opt.Period)}},
			},
		})
	}
	return p, nil
}

func planAutocorrelation(sel Selection, opt Options) (*plan, error) {
	if err := timeSeries(sel); err != nil {
		return nil, err
	}
	params := map[string]float64{}
	if opt.Lags > 0 {
		params["lags"] = float64(opt.Lags)
	}
	minLen := 3
	if opt.Lags+1 > minLen {
		minLen = opt.Lags + 1
	}
	p := &plan{
		description: fmt.Sprintf("Autocorrelation of %s by %s", strings.Join(sel.Dependent, ", "), sel.Label),
		extract:     series.Selection{Numeric: sel.Dependent, Label: sel.Label},
		rules:       append([]series.Rule{series.MinLength(minLen)}, equalToLabel(sel)...),
	}
	for _, d := range sel.Dependent {
		p.groups = append(p.groups, groupPlan{
			title: "Autocorrelation: " + d,
			tasks: []taskPlan{
				{tag: "10-acf", title: "ACF", method: engine.MethodACF, dependent: d, params: params},
				{tag: "20-pacf", title: "PACF", method: engine.MethodPACF, dependent: d, params: params},
			},
		})
	}
	return p, nil
}

func planARIMA(sel Selection, opt Options) (*plan, error) {
	if err := timeSeries(sel); err != nil {
		return nil, err
	}
	if opt.P < 0 || opt.D < 0 || opt.Q < 0 {
		return nil, &SelectionError{Field: "order", Message: "ARIMA orders must not be negative"}
	}
	if opt.P == 0 && opt.D == 0 && opt.Q == 0 {
		opt.P = 1
	}
	order := fmt.Sprintf("ARIMA(%d,%d,%d)", opt.P, opt.D, opt.Q)
	params := map[string]float64{"p": float64(opt.P), "d": float64(opt.D), "q": float64(opt.Q), "horizon": float64(opt.Horizon)}
	p := &plan{
		description: fmt.Sprintf("%s of %s by %s", order, strings.Join(sel.Dependent, ", "), sel.Label),
		extract:     series.Selection{Numeric: sel.Dependent, Label: sel.Label},
		rules:       append([]series.Rule{series.MinLength(2*opt.P + opt.D + 3)}, equalToLabel(sel)...),
	}
	for _, d := range sel.Dependent {
		p.groups = append(p.groups, groupPlan{
			title: order + ": " + d,
			note:  fmt.Sprintf("Forecast horizon %d", opt.Horizon),
			tasks: []taskPlan{
				{tag: "10-arima", title: order, method: engine.MethodARIMA, dependent: d, params: params,
					writeBack: []writeBack{{series: "fitted", suffix: "fit"}, {series: "forecast", suffix: "fc", extend: true}}},
				describeTask(d),
			},
		})
	}
	return p, nil
}

func planRegression(sel Selection, _ Options) (*plan, error) {
	if err := needDependent(sel); err != nil {
		return nil, err
	}
	if len(sel.Independent) == 0 {
		return nil, &SelectionError{Field: "independent", Message: "select at least one independent variable"}
	}
	numeric := append(append([]string(nil), sel.Dependent...), sel.Independent...)
	var rules []series.Rule
	rules = append(rules, series.MinLength(len(sel.Independent)+2))
	for _, d := range sel.Dependent {
		for _, x := range sel.Independent {
			rules = append(rules, series.EqualLength(d, x))
		}
	}
	p := &plan{
		description: fmt.Sprintf("Linear regression of %s on %s", strings.Join(sel.Dependent, ", "), strings.Join(sel.Independent, ", ")),
		extract:     series.Selection{Numeric: numeric, Label: sel.Label},
		rules:       rules,
	}
	for _, d := range sel.Dependent {
		p.groups = append(p.groups, groupPlan{
			title: "Linear regression: " + d,
			note:  "Predictors: " + strings.Join(sel.Independent, ", "),
			tasks: []taskPlan{
				{tag: "10-ols", title: "OLS", method: engine.MethodLinear, dependent: d, covariates: sel.Independent,
					writeBack: []writeBack{{series: "predicted", suffix: "pred"}, {series: "residual", suffix: "resid"}}},
				describeTask(d),
			},
		})
	}
	return p, nil
}

func planDiscriminant(sel Selection, _ Options) (*plan, error) {
	if err := needDependent(sel); err != nil {
		return nil, err
	}
	if err := needLabel(sel, "grouping"); err != nil {
		return nil, err
	}
	p := &plan{
		description: fmt.Sprintf("Discriminant analysis of %s by %s", sel.Label, strings.Join(sel.Dependent, ", ")),
		extract:     series.Selection{Numeric: sel.Dependent, Label: sel.Label},
		rules:       append([]series.Rule{series.MinLength(len(sel.Dependent) + 2)}, equalToLabel(sel)...),
	}
	g := groupPlan{title: "Discriminant analysis: " + sel.Label, note: "Predictors: " + strings.Join(sel.Dependent, ", ")}
	g.tasks = append(g.tasks, taskPlan{tag: "10-discriminant", title: "Discriminant functions", method: engine.MethodDiscriminant,
		dependent: sel.Dependent[0], covariates: sel.Dependent})
	for i, d := range sel.Dependent {
		t := describeTask(d)
		t.tag = fmt.Sprintf("%s-%02d", t.tag, i+1)
		g.tasks = append(g.tasks, t)
	}
	p.groups = []groupPlan{g}
	return p, nil
}
