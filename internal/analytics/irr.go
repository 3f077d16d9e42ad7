package analytics

import (
	"math"
	"sort"
	"time"
)

// CashFlow is one dated flow for money-weighted return. Contributions are
// negative, distributions and the final portfolio value positive.
type CashFlow struct {
	At     time.Time
	Amount float64
}

const (
	xirrMaxIterations = 200
	xirrStepTolerance = 1e-10
	xirrRateFloor     = -1.0 + 1e-9
	xirrRateCeiling   = 100.0
	daysPerYear       = 365.0
)

// XIRR computes the annualized internal rate of return of irregular cash
// flows via Newton-Raphson, falling back to bisection when the iteration
// diverges. The second return value is false when no rate in
// (-100%, 10000%] makes the net present value vanish.
func XIRR(flows []CashFlow) (float64, bool) {
	if len(flows) < 2 {
		return 0, false
	}

	ordered := make([]CashFlow, len(flows))
	copy(ordered, flows)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	// A root requires flows of both signs.
	hasNegative, hasPositive := false, false
	for _, f := range ordered {
		if f.Amount < 0 {
			hasNegative = true
		}
		if f.Amount > 0 {
			hasPositive = true
		}
	}
	if !hasNegative || !hasPositive {
		return 0, false
	}

	t0 := ordered[0].At
	years := make([]float64, len(ordered))
	for i, f := range ordered {
		years[i] = f.At.Sub(t0).Hours() / 24 / daysPerYear
	}

	npv := func(rate float64) float64 {
		total := 0.0
		for i, f := range ordered {
			total += f.Amount / math.Pow(1+rate, years[i])
		}
		return total
	}
	npvDerivative := func(rate float64) float64 {
		total := 0.0
		for i, f := range ordered {
			if years[i] == 0 {
				continue
			}
			total -= years[i] * f.Amount / math.Pow(1+rate, years[i]+1)
		}
		return total
	}

	rate := 0.1
	for i := 0; i < xirrMaxIterations; i++ {
		value := npv(rate)
		derivative := npvDerivative(rate)
		if derivative == 0 || math.IsNaN(derivative) {
			break
		}

		next := rate - value/derivative
		if next <= xirrRateFloor {
			next = (rate + xirrRateFloor) / 2
		}
		if next > xirrRateCeiling {
			next = (rate + xirrRateCeiling) / 2
		}

		if math.Abs(next-rate) < xirrStepTolerance {
			if math.IsNaN(next) || math.IsInf(next, 0) {
				break
			}
			return next, true
		}
		rate = next
	}

	return xirrBisect(npv)
}

// xirrBisect brackets a sign change on the valid rate interval and narrows
// it down. Slower than Newton but immune to bad derivatives.
func xirrBisect(npv func(float64) float64) (float64, bool) {
	lo, hi := xirrRateFloor, xirrRateCeiling
	fLo, fHi := npv(lo), npv(hi)
	if math.IsNaN(fLo) || math.IsNaN(fHi) || fLo*fHi > 0 {
		return 0, false
	}

	for i := 0; i < xirrMaxIterations; i++ {
		mid := (lo + hi) / 2
		fMid := npv(mid)
		if math.Abs(fMid) < xirrStepTolerance || (hi-lo)/2 < xirrStepTolerance {
			return mid, true
		}
		if fLo*fMid < 0 {
			hi = mid
		} else {
			lo, fLo = mid, fMid
		}
	}
	return (lo + hi) / 2, true
}
