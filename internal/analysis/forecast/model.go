package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/analysis/features"

	"gonum.org/v1/gonum/mat"
)

const yearDays = 365.25

var errNonFinite = errors.New("non-finite coefficient")

// design describes how to turn a week-ending date into a regressor row.
// It is fitted on history and reused unchanged for future weeks.
type design struct {
	start       time.Time
	span        float64 // days covered by history, used to scale t to [0,1]
	changepoint []float64
	order       int
	holidays    []string
	calendar    HolidayCalendar
	penalty     []float64
}

// row builds the regressor vector for week w into dst.
func (d *design) row(w time.Time, hol map[string]bool, dst []float64) {
	t := w.Sub(d.start).Hours() / 24 / d.span
	dst[0] = 1
	dst[1] = t
	i := 2
	for _, s := range d.changepoint {
		dst[i] = math.Max(0, t-s)
		i++
	}
	days := float64(w.Unix()) / 86400
	for k := 1; k <= d.order; k++ {
		x := 2 * math.Pi * float64(k) * days / yearDays
		dst[i] = math.Sin(x)
		dst[i+1] = math.Cos(x)
		i += 2
	}
	for _, h := range d.holidays {
		if hol[h] {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
		i++
	}
}

func (d *design) width() int {
	return 2 + len(d.changepoint) + 2*d.order + len(d.holidays)
}

// holidaysInWeek returns the names of holidays whose date falls inside the
// Monday..Sunday week ending on w.
func holidaysInWeek(calendar HolidayCalendar, w time.Time) map[string]bool {
	out := map[string]bool{}
	if calendar == nil {
		return out
	}
	years := []int{w.Year()}
	if w.AddDate(0, 0, -6).Year() != w.Year() {
		years = append(years, w.Year()-1)
	}
	for _, y := range years {
		for _, h := range calendar(y) {
			if features.WeekEnding(h.Date).Equal(w) {
				out[h.Name] = true
			}
		}
	}
	return out
}

// model is a fitted penalized linear regression on the scaled target.
type model struct {
	design *design
	beta   *mat.VecDense
	cov    mat.Matrix // (XᵀX + Λ)⁻¹
	sigma  float64    // residual std on the scaled target
	yScale float64
}

// fitModel fits y over weeks with ridge penalties per column.
func (e *Engine) fitModel(weeks []time.Time, y []float64) (*model, error) {
	n := len(weeks)

	d := &design{
		start:    weeks[0],
		span:     weeks[n-1].Sub(weeks[0]).Hours() / 24,
		calendar: e.Holidays,
	}
	if d.span <= 0 {
		d.span = 1
	}

	// Changepoints sit on history dates within the first ChangepointRange.
	histSize := int(math.Floor(float64(n) * e.ChangepointRange))
	nc := min(e.NChangepoints, histSize-1)
	for j := 1; j <= nc; j++ {
		idx := int(math.Round(float64(j) * float64(histSize-1) / float64(nc)))
		d.changepoint = append(d.changepoint, weeks[idx].Sub(d.start).Hours()/24/d.span)
	}

	// Short histories cannot support many Fourier pairs.
	d.order = min(e.FourierOrder, max(1, n/4))

	weekHolidays := make([]map[string]bool, n)
	seen := map[string]bool{}
	for i, w := range weeks {
		weekHolidays[i] = holidaysInWeek(e.Holidays, w)
		for h := range weekHolidays[i] {
			if !seen[h] {
				seen[h] = true
				d.holidays = append(d.holidays, h)
			}
		}
	}

	p := d.width()
	d.penalty = make([]float64, p)
	i := 2
	for range d.changepoint {
		d.penalty[i] = 1 / (e.ChangepointPriorScale * e.ChangepointPriorScale)
		i++
	}
	for k := 0; k < 2*d.order; k++ {
		d.penalty[i] = 1 / (e.SeasonalityPriorScale * e.SeasonalityPriorScale)
		i++
	}
	for range d.holidays {
		d.penalty[i] = 1 / (e.HolidayPriorScale * e.HolidayPriorScale)
		i++
	}

	yScale := 0.0
	for _, v := range y {
		yScale = math.Max(yScale, math.Abs(v))
	}
	if yScale == 0 {
		yScale = 1
	}

	X := mat.NewDense(n, p, nil)
	ys := mat.NewVecDense(n, nil)
	for r, w := range weeks {
		d.row(w, weekHolidays[r], X.RawRowView(r))
		ys.SetVec(r, y[r]/yScale)
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	a := mat.DenseCopyOf(&xtx)
	for j, l := range d.penalty {
		a.Set(j, j, a.At(j, j)+l)
	}
	var xty mat.VecDense
	xty.MulVec(X.T(), ys)

	beta := mat.NewVecDense(p, nil)
	var cov mat.Matrix

	var chol mat.Cholesky
	if chol.Factorize(mat.NewSymDense(p, a.RawMatrix().Data)) {
		if err := chol.SolveVecTo(beta, &xty); err != nil {
			return nil, fmt.Errorf("cholesky solve: %w", err)
		}
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			return nil, fmt.Errorf("cholesky inverse: %w", err)
		}
		cov = &inv
	} else {
		if err := beta.SolveVec(a, &xty); err != nil {
			return nil, fmt.Errorf("least squares solve: %w", err)
		}
		var inv mat.Dense
		if err := inv.Inverse(a); err != nil {
			return nil, fmt.Errorf("inverse: %w", err)
		}
		cov = &inv
	}
	for j := 0; j < p; j++ {
		if v := beta.AtVec(j); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errNonFinite
		}
	}

	var fitted mat.VecDense
	fitted.MulVec(X, beta)
	var ssr float64
	for r := 0; r < n; r++ {
		res := ys.AtVec(r) - fitted.AtVec(r)
		ssr += res * res
	}

	// Effective degrees of freedom of a ridge fit: tr((XᵀX+Λ)⁻¹ XᵀX).
	var hat mat.Dense
	hat.Mul(cov, &xtx)
	dof := math.Max(float64(n)-mat.Trace(&hat), 1)

	return &model{
		design: d,
		beta:   beta,
		cov:    cov,
		sigma:  math.Sqrt(ssr / dof),
		yScale: yScale,
	}, nil
}

// predict returns the point estimate and half-width scale (in target units)
// for week w. The half-width must still be multiplied by the interval's z.
func (m *model) predict(w time.Time) (yhat, se float64) {
	x := mat.NewVecDense(m.design.width(), nil)
	m.design.row(w, holidaysInWeek(m.design.calendar, w), x.RawVector().Data)

	yhat = mat.Dot(x, m.beta) * m.yScale
	q := mat.Inner(x, m.cov, x)
	se = m.sigma * math.Sqrt(1+math.Max(q, 0)) * m.yScale
	return yhat, se
}
