package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/models"
)

func buyTx(qty, usdValue float64) models.Transaction {
	usd := decimal.NewFromFloat(usdValue)
	return models.Transaction{
		Quantity: decimal.NewFromFloat(qty),
		USDValue: &usd,
	}
}

func TestVWAP(t *testing.T) {
	txns := []models.Transaction{
		buyTx(1, 10000),
		buyTx(3, 60000),
	}

	// (10000 + 60000) / 4 = 17500
	assert.True(t, VWAP(txns).Equal(decimal.NewFromInt(17500)))
}

func TestVWAPSkipsUnvaluedRows(t *testing.T) {
	noValue := models.Transaction{Quantity: decimal.NewFromInt(5)}
	txns := []models.Transaction{buyTx(1, 10000), noValue}

	assert.True(t, VWAP(txns).Equal(decimal.NewFromInt(10000)))
}

func TestVWAPEmpty(t *testing.T) {
	assert.True(t, VWAP(nil).IsZero())
}

func TestROI(t *testing.T) {
	r := ROI(decimal.NewFromInt(150), decimal.NewFromInt(100))
	require.NotNil(t, r)
	assert.True(t, r.Equal(decimal.NewFromFloat(0.5)))

	r = ROI(decimal.NewFromInt(50), decimal.NewFromInt(100))
	require.NotNil(t, r)
	assert.True(t, r.Equal(decimal.NewFromFloat(-0.5)))

	assert.Nil(t, ROI(decimal.NewFromInt(100), decimal.Zero))
}

func points(start time.Time, vals ...float64) []ValuePoint {
	out := make([]ValuePoint, len(vals))
	for i, v := range vals {
		out[i] = ValuePoint{At: start.AddDate(0, 0, i), Value: decimal.NewFromFloat(v)}
	}
	return out
}

func TestMaxDrawdown(t *testing.T) {
	start := date(2024, time.January, 1)
	tests := []struct {
		name   string
		series []ValuePoint
		want   float64
	}{
		{"empty", nil, 0},
		{"monotone rise", points(start, 1, 2, 3, 4), 0},
		{"half loss", points(start, 100, 50, 120), -0.5},
		{"later deeper trough", points(start, 100, 80, 200, 50), -0.75},
		{"flat", points(start, 10, 10, 10), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxDrawdown(tt.series)
			assert.True(t, got.Value.Equal(decimal.NewFromFloat(tt.want)), "got %s", got.Value)
		})
	}
}

func TestMaxDrawdownReportsPeakAndTrough(t *testing.T) {
	start := date(2024, time.January, 1)

	dd := MaxDrawdown(points(start, 100, 80, 200, 50))

	assert.True(t, dd.Value.Equal(decimal.NewFromFloat(-0.75)))
	assert.Equal(t, start.AddDate(0, 0, 2), dd.PeakDate)
	assert.True(t, dd.PeakValue.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, start.AddDate(0, 0, 3), dd.TroughDate)
	assert.True(t, dd.TroughValue.Equal(decimal.NewFromInt(50)))
}

func TestMaxDrawdownProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	genSeries := gen.SliceOf(gen.Float64Range(0.01, 1e6)).Map(func(vals []float64) []ValuePoint {
		return points(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), vals...)
	})

	properties.Property("drawdown stays within [-1, 0]", prop.ForAll(
		func(series []ValuePoint) bool {
			dd := MaxDrawdown(series)
			return !dd.Value.IsPositive() && dd.Value.GreaterThanOrEqual(decimal.NewFromInt(-1))
		},
		genSeries,
	))

	properties.TestingRun(t)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestXIRRSingleYearDouble(t *testing.T) {
	flows := []CashFlow{
		{At: date(2023, 1, 1), Amount: -1000},
		{At: date(2024, 1, 1), Amount: 2000},
	}

	rate, ok := XIRR(flows)
	require.True(t, ok)
	assert.InDelta(t, 1.0, rate, 1e-6)
}

func TestXIRRMultipleContributions(t *testing.T) {
	flows := []CashFlow{
		{At: date(2023, 1, 1), Amount: -1000},
		{At: date(2023, 7, 1), Amount: -1000},
		{At: date(2024, 1, 1), Amount: 2500},
	}

	rate, ok := XIRR(flows)
	require.True(t, ok)
	assert.Greater(t, rate, 0.0)

	// The rate must zero out the net present value.
	t0 := date(2023, 1, 1)
	npv := 0.0
	for _, f := range flows {
		years := f.At.Sub(t0).Hours() / 24 / 365
		npv += f.Amount / math.Pow(1+rate, years)
	}
	assert.InDelta(t, 0.0, npv, 1e-4)
}

func TestXIRRNegativeReturn(t *testing.T) {
	flows := []CashFlow{
		{At: date(2023, 1, 1), Amount: -1000},
		{At: date(2024, 1, 1), Amount: 600},
	}

	rate, ok := XIRR(flows)
	require.True(t, ok)
	assert.InDelta(t, -0.4, rate, 1e-6)
}

func TestXIRRRejectsOneSidedFlows(t *testing.T) {
	_, ok := XIRR([]CashFlow{
		{At: date(2023, 1, 1), Amount: -1000},
		{At: date(2024, 1, 1), Amount: -500},
	})
	assert.False(t, ok)

	_, ok = XIRR([]CashFlow{{At: date(2023, 1, 1), Amount: -1000}})
	assert.False(t, ok)
}
