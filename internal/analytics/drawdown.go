package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuePoint is one dated observation of portfolio value.
type ValuePoint struct {
	At    time.Time
	Value decimal.Decimal
}

// Drawdown is the deepest peak-to-trough decline of a value series. Value is
// (trough - peak) / peak and lies in [-1, 0]; zero means the series never
// declined and the peak/trough fields are unset.
type Drawdown struct {
	Value       decimal.Decimal `json:"value"`
	PeakDate    time.Time       `json:"peakDate"`
	PeakValue   decimal.Decimal `json:"peakValue"`
	TroughDate  time.Time       `json:"troughDate"`
	TroughValue decimal.Decimal `json:"troughValue"`
}

// MaxDrawdown scans the series against its running maximum and returns the
// most negative decline.
func MaxDrawdown(series []ValuePoint) Drawdown {
	var dd Drawdown
	var peak ValuePoint

	for _, p := range series {
		if p.Value.GreaterThan(peak.Value) {
			peak = p
		}
		if !peak.Value.IsPositive() {
			continue
		}
		decline := p.Value.Sub(peak.Value).Div(peak.Value)
		if decline.LessThan(dd.Value) {
			dd = Drawdown{
				Value:       decline,
				PeakDate:    peak.At,
				PeakValue:   peak.Value,
				TroughDate:  p.At,
				TroughValue: p.Value,
			}
		}
	}
	return dd
}
