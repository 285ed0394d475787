package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Local computes the built-in methods in process. It is stateless and
// deterministic for identical requests.
type Local struct{}

var _ Engine = Local{}

// NewLocal returns the in-process engine.
func NewLocal() Local { return Local{} }

var errConstant = errors.New("series is constant")

func (Local) Compute(ctx context.Context, req Request) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Series) == 0 {
		return nil, &ParamError{Method: req.Method, Param: "series", Reason: "is empty"}
	}
	switch req.Method {
	case MethodDescribe:
		return describe(req)
	case MethodMovingAverage:
		return movingAverage(req)
	case MethodExponential:
		return exponential(req)
	case MethodAdditive:
		return decompose(req, false)
	case MethodMultiplicative:
		return decompose(req, true)
	case MethodACF:
		return correlogram(req, false)
	case MethodPACF:
		return correlogram(req, true)
	case MethodARIMA:
		return arima(req)
	case MethodLinear:
		return linear(req)
	}
	return nil, &UnsupportedMethodError{Method: req.Method, Engine: "local"}
}

func describe(req Request) (*Output, error) {
	x := req.Series
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	t := Table{Title: "Descriptive statistics", Columns: []string{"Statistic", "Value"}}
	t.AddRow("N", fmt.Sprint(len(x)))
	t.AddRow("Mean", num(mean))
	t.AddRow("Std. deviation", num(std))
	t.AddRow("Minimum", num(sorted[0]))
	t.AddRow("Median", num(stat.Quantile(0.5, stat.Empirical, sorted, nil)))
	t.AddRow("Maximum", num(sorted[len(sorted)-1]))
	if len(x) > 2 && std > 0 {
		t.AddRow("Skewness", num(stat.Skew(x, nil)))
		t.AddRow("Excess kurtosis", num(stat.ExKurtosis(x, nil)))
	}
	return &Output{
		Summary: fmt.Sprintf("%s: n=%d mean=%s sd=%s", req.Name, len(x), num(mean), num(std)),
		Tables:  []Table{t},
	}, nil
}

func movingAverage(req Request) (*Output, error) {
	x := req.Series
	w := req.IntParam("window", 3)
	if w < 1 || w > len(x) {
		return nil, &ParamError{Method: req.Method, Param: "window", Reason: fmt.Sprintf("must be between 1 and %d", len(x))}
	}
	out := make([]float64, 0, len(x)-w+1)
	for i := w - 1; i < len(x); i++ {
		out = append(out, stat.Mean(x[i-w+1:i+1], nil))
	}
	fit := fitTable(x, NamedSeries{Offset: w - 1, Values: out})
	fit.Title = fmt.Sprintf("Moving average (window %d)", w)
	return &Output{
		Summary: fmt.Sprintf("Moving average of %s, window %d", req.Name, w),
		Tables:  []Table{fit},
		Series:  []NamedSeries{{Name: "smoothed", Offset: w - 1, Values: out}},
	}, nil
}

func exponential(req Request) (*Output, error) {
	x := req.Series
	alpha := req.Param("alpha", 0.3)
	if alpha <= 0 || alpha > 1 {
		return nil, &ParamError{Method: req.Method, Param: "alpha", Reason: "must be in (0, 1]"}
	}
	h := req.IntParam("horizon", 0)
	if h < 0 {
		return nil, &ParamError{Method: req.Method, Param: "horizon", Reason: "must not be negative"}
	}
	s := make([]float64, len(x))
	s[0] = x[0]
	for i := 1; i < len(x); i++ {
		s[i] = alpha*x[i] + (1-alpha)*s[i-1]
	}
	fit := fitTable(x, NamedSeries{Values: s})
	fit.Title = fmt.Sprintf("Exponential smoothing (alpha %s)", num(alpha))
	o := &Output{
		Summary: fmt.Sprintf("Exponential smoothing of %s, alpha %s", req.Name, num(alpha)),
		Tables:  []Table{fit},
		Series:  []NamedSeries{{Name: "smoothed", Values: s}},
	}
	if h > 0 {
		f := make([]float64, h)
		for i := range f {
			f[i] = s[len(s)-1]
		}
		o.Series = append(o.Series, NamedSeries{Name: "forecast", Offset: len(x), Values: f})
	}
	return o, nil
}

// fitTable reports error measures of a fitted series against x.
func fitTable(x []float64, fitted NamedSeries) Table {
	var sse, sae float64
	n := 0
	for i, v := range fitted.Values {
		r := fitted.Offset + i
		if r >= len(x) {
			break
		}
		e := x[r] - v
		sse += e * e
		sae += math.Abs(e)
		n++
	}
	t := Table{Columns: []string{"Measure", "Value"}}
	t.AddRow("Fitted points", fmt.Sprint(n))
	if n > 0 {
		t.AddRow("MSE", num(sse/float64(n)))
		t.AddRow("RMSE", num(math.Sqrt(sse/float64(n))))
		t.AddRow("MAE", num(sae/float64(n)))
	}
	return t
}

func decompose(req Request, multiplicative bool) (*Output, error) {
	x := req.Series
	p := req.IntParam("period", 0)
	if p < 2 {
		return nil, &ParamError{Method: req.Method, Param: "period", Reason: "must be at least 2"}
	}
	if len(x) < 2*p {
		return nil, &ParamError{Method: req.Method, Param: "period", Reason: fmt.Sprintf("needs at least %d observations", 2*p)}
	}
	if multiplicative {
		for _, v := range x {
			if v <= 0 {
				return nil, &ParamError{Method: req.Method, Param: "series", Reason: "must be strictly positive for a multiplicative model"}
			}
		}
	}
	half := p / 2
	trend := make([]float64, 0, len(x)-2*half)
	for t := half; t < len(x)-half; t++ {
		var sum float64
		if p%2 == 0 {
			sum = 0.5*x[t-half] + 0.5*x[t+half]
			for k := t - half + 1; k < t+half; k++ {
				sum += x[k]
			}
		} else {
			for k := t - half; k <= t+half; k++ {
				sum += x[k]
			}
		}
		trend = append(trend, sum/float64(p))
	}

	idx := make([]float64, p)
	cnt := make([]int, p)
	for i, tr := range trend {
		t := i + half
		d := x[t] - tr
		if multiplicative {
			d = x[t] / tr
		}
		idx[t%p] += d
		cnt[t%p]++
	}
	for i := range idx {
		idx[i] /= float64(cnt[i])
	}
	m := stat.Mean(idx, nil)
	for i := range idx {
		if multiplicative {
			idx[i] /= m
		} else {
			idx[i] -= m
		}
	}

	seasonal := make([]float64, len(x))
	for i := range x {
		seasonal[i] = idx[i%p]
	}
	irregular := make([]float64, len(trend))
	for i, tr := range trend {
		t := i + half
		if multiplicative {
			irregular[i] = x[t] / (tr * seasonal[t])
		} else {
			irregular[i] = x[t] - tr - seasonal[t]
		}
	}

	model := "Additive"
	if multiplicative {
		model = "Multiplicative"
	}
	tbl := Table{Title: "Seasonal indices", Columns: []string{"Position", "Index"}}
	for i, v := range idx {
		pos := fmt.Sprint(i + 1)
		if i < len(req.Labels) {
			pos = req.Labels[i]
		}
		tbl.AddRow(pos, num(v))
	}
	return &Output{
		Summary: fmt.Sprintf("%s decomposition of %s, period %d", model, req.Name, p),
		Tables:  []Table{tbl},
		Series: []NamedSeries{
			{Name: "seasonal", Values: seasonal},
			{Name: "trend", Offset: half, Values: trend},
			{Name: "irregular", Offset: half, Values: irregular},
		},
	}, nil
}

// acf returns autocorrelations for lags 1..maxLag.
func acf(x []float64, maxLag int) ([]float64, error) {
	m := stat.Mean(x, nil)
	var denom float64
	for _, v := range x {
		denom += (v - m) * (v - m)
	}
	if denom == 0 {
		return nil, errConstant
	}
	out := make([]float64, maxLag)
	for k := 1; k <= maxLag; k++ {
		var s float64
		for t := k; t < len(x); t++ {
			s += (x[t] - m) * (x[t-k] - m)
		}
		out[k-1] = s / denom
	}
	return out, nil
}

// pacf derives partial autocorrelations from r with the Durbin-Levinson recursion.
func pacf(r []float64) []float64 {
	n := len(r)
	out := make([]float64, n)
	phi := make([]float64, n+1)
	prev := make([]float64, n+1)
	for k := 1; k <= n; k++ {
		top, den := r[k-1], 1.0
		for j := 1; j < k; j++ {
			top -= prev[j] * r[k-j-1]
			den -= prev[j] * r[j-1]
		}
		phi[k] = top / den
		for j := 1; j < k; j++ {
			phi[j] = prev[j] - phi[k]*prev[k-j]
		}
		out[k-1] = phi[k]
		copy(prev, phi)
	}
	return out
}

func correlogram(req Request, partial bool) (*Output, error) {
	x := req.Series
	if len(x) < 3 {
		return nil, &ParamError{Method: req.Method, Param: "series", Reason: "needs at least 3 observations"}
	}
	def := int(10 * math.Log10(float64(len(x))))
	if def > len(x)-1 {
		def = len(x) - 1
	}
	lags := req.IntParam("lags", def)
	if lags < 1 || lags >= len(x) {
		return nil, &ParamError{Method: req.Method, Param: "lags", Reason: fmt.Sprintf("must be between 1 and %d", len(x)-1)}
	}
	r, err := acf(x, lags)
	if err != nil {
		return nil, &ParamError{Method: req.Method, Param: "series", Reason: err.Error()}
	}
	name := "Autocorrelation"
	vals := r
	if partial {
		name = "Partial autocorrelation"
		vals = pacf(r)
	}
	bound := 1.96 / math.Sqrt(float64(len(x)))
	t := Table{Title: name, Columns: []string{"Lag", name, "Lower bound", "Upper bound"}}
	sig := 0
	for i, v := range vals {
		t.AddRow(fmt.Sprint(i+1), num(v), num(-bound), num(bound))
		if math.Abs(v) > bound {
			sig++
		}
	}
	return &Output{
		Summary: fmt.Sprintf("%s of %s, %d lags, %d outside ±%s", name, req.Name, lags, sig, num(bound)),
		Tables:  []Table{t},
	}, nil
}

// ols fits y = Xb by least squares and returns b, residuals and the coefficient standard errors.
func ols(X *mat.Dense, y []float64) (b, resid, se []float64, err error) {
	n, k := X.Dims()
	if n <= k {
		return nil, nil, nil, fmt.Errorf("%d observations are not enough for %d coefficients", n, k)
	}
	var beta mat.VecDense
	if err := beta.SolveVec(X, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return nil, nil, nil, fmt.Errorf("solve: %w", err)
	}
	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	resid = make([]float64, n)
	var ssr float64
	for i := range resid {
		resid[i] = y[i] - fitted.AtVec(i)
		ssr += resid[i] * resid[i]
	}
	sigma2 := ssr / float64(n-k)
	var xtx, inv mat.Dense
	xtx.Mul(X.T(), X)
	se = make([]float64, k)
	if err := inv.Inverse(&xtx); err == nil {
		for j := range se {
			se[j] = math.Sqrt(sigma2 * inv.At(j, j))
		}
	} else {
		for j := range se {
			se[j] = math.NaN()
		}
	}
	b = make([]float64, k)
	for j := range b {
		b[j] = beta.AtVec(j)
	}
	return b, resid, se, nil
}

func coefTable(terms []string, b, se []float64) Table {
	t := Table{Title: "Coefficients", Columns: []string{"Term", "Estimate", "Std. error", "t"}}
	for j, term := range terms {
		tv := "-"
		s := "-"
		if !math.IsNaN(se[j]) {
			s = num(se[j])
			if se[j] > 0 {
				tv = num(b[j] / se[j])
			}
		}
		t.AddRow(term, num(b[j]), s, tv)
	}
	return t
}

func diff(x []float64) []float64 {
	out := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		out[i-1] = x[i] - x[i-1]
	}
	return out
}

func arima(req Request) (*Output, error) {
	x := req.Series
	p := req.IntParam("p", 1)
	d := req.IntParam("d", 0)
	q := req.IntParam("q", 0)
	h := req.IntParam("horizon", 0)
	switch {
	case q != 0:
		return nil, &ParamError{Method: req.Method, Param: "q", Reason: "moving-average terms are not supported by the local engine"}
	case p < 0 || p > 10:
		return nil, &ParamError{Method: req.Method, Param: "p", Reason: "must be between 0 and 10"}
	case d < 0 || d > 2:
		return nil, &ParamError{Method: req.Method, Param: "d", Reason: "must be between 0 and 2"}
	case h < 0:
		return nil, &ParamError{Method: req.Method, Param: "horizon", Reason: "must not be negative"}
	}
	levels := [][]float64{x}
	for i := 0; i < d; i++ {
		if len(levels[i]) < 2 {
			return nil, &ParamError{Method: req.Method, Param: "d", Reason: "differencing leaves no observations"}
		}
		levels = append(levels, diff(levels[i]))
	}
	y := levels[d]
	rows := len(y) - p
	if rows <= p+1 {
		return nil, &ParamError{Method: req.Method, Param: "p", Reason: fmt.Sprintf("%d observations are not enough for order %d", len(x), p)}
	}
	X := mat.NewDense(rows, p+1, nil)
	target := make([]float64, rows)
	for i := 0; i < rows; i++ {
		t := i + p
		X.Set(i, 0, 1)
		for j := 1; j <= p; j++ {
			X.Set(i, j, y[t-j])
		}
		target[i] = y[t]
	}
	b, resid, se, err := ols(X, target)
	if err != nil {
		return nil, &ParamError{Method: req.Method, Param: "series", Reason: err.Error()}
	}
	var ssr float64
	for _, e := range resid {
		ssr += e * e
	}
	k := float64(p + 1)
	nobs := float64(rows)
	sigma2 := ssr / nobs
	aic := nobs*math.Log(sigma2) + 2*k
	bic := nobs*math.Log(sigma2) + k*math.Log(nobs)

	offset := p + d
	fitted := make([]float64, rows)
	for i, e := range resid {
		fitted[i] = x[offset+i] - e
	}

	terms := []string{"constant"}
	for j := 1; j <= p; j++ {
		terms = append(terms, fmt.Sprintf("AR(%d)", j))
	}
	fit := Table{Title: "Model fit", Columns: []string{"Measure", "Value"}}
	fit.AddRow("Observations", fmt.Sprint(rows))
	fit.AddRow("Sigma²", num(sigma2))
	fit.AddRow("AIC", num(aic))
	fit.AddRow("BIC", num(bic))

	o := &Output{
		Summary: fmt.Sprintf("ARIMA(%d,%d,0) on %s: n=%d AIC=%s", p, d, req.Name, rows, num(aic)),
		Tables:  []Table{coefTable(terms, b, se), fit},
		Series: []NamedSeries{
			{Name: "fitted", Offset: offset, Values: fitted},
			{Name: "residual", Offset: offset, Values: resid},
		},
	}
	if h > 0 {
		for i := range levels {
			levels[i] = append([]float64(nil), levels[i]...)
		}
		forecast := make([]float64, h)
		for s := 0; s < h; s++ {
			yl := levels[d]
			v := b[0]
			for j := 1; j <= p; j++ {
				v += b[j] * yl[len(yl)-j]
			}
			levels[d] = append(levels[d], v)
			for lv := d - 1; lv >= 0; lv-- {
				cur := levels[lv]
				next := levels[lv+1]
				levels[lv] = append(cur, cur[len(cur)-1]+next[len(next)-1])
			}
			forecast[s] = levels[0][len(levels[0])-1]
		}
		ft := Table{Title: "Forecast", Columns: []string{"Step", "Forecast"}}
		for s, v := range forecast {
			ft.AddRow(fmt.Sprint(s+1), num(v))
		}
		o.Tables = append(o.Tables, ft)
		o.Series = append(o.Series, NamedSeries{Name: "forecast", Offset: len(x), Values: forecast})
	}
	return o, nil
}

func linear(req Request) (*Output, error) {
	y := req.Series
	if len(req.Covariates) == 0 {
		return nil, &ParamError{Method: req.Method, Param: "covariates", Reason: "at least one independent variable is required"}
	}
	k := len(req.Covariates) + 1
	X := mat.NewDense(len(y), k, nil)
	terms := []string{"constant"}
	for i := range y {
		X.Set(i, 0, 1)
	}
	for j, c := range req.Covariates {
		if len(c.Values) != len(y) {
			return nil, &ParamError{Method: req.Method, Param: c.Name, Reason: "length differs from the dependent series"}
		}
		terms = append(terms, c.Name)
		for i, v := range c.Values {
			X.Set(i, j+1, v)
		}
	}
	b, resid, se, err := ols(X, y)
	if err != nil {
		return nil, &ParamError{Method: req.Method, Param: "series", Reason: err.Error()}
	}
	m := stat.Mean(y, nil)
	var sst, ssr float64
	predicted := make([]float64, len(y))
	for i := range y {
		sst += (y[i] - m) * (y[i] - m)
		ssr += resid[i] * resid[i]
		predicted[i] = y[i] - resid[i]
	}
	n := float64(len(y))
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - ssr/sst
	}
	adj := 1 - (1-r2)*(n-1)/(n-float64(k))
	fit := Table{Title: "Model summary", Columns: []string{"Measure", "Value"}}
	fit.AddRow("Observations", fmt.Sprint(len(y)))
	fit.AddRow("R²", num(r2))
	fit.AddRow("Adjusted R²", num(adj))
	fit.AddRow("Residual std. error", num(math.Sqrt(ssr/(n-float64(k)))))
	return &Output{
		Summary: fmt.Sprintf("Linear regression of %s on %d predictor(s): R²=%s", req.Name, k-1, num(r2)),
		Tables:  []Table{coefTable(terms, b, se), fit},
		Series: []NamedSeries{
			{Name: "predicted", Values: predicted},
			{Name: "residual", Values: resid},
		},
	}, nil
}
