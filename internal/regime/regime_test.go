package regime

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"marketsync/internal/market"
	"marketsync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMovingAverageExpandsBeforeFullWindow(t *testing.T) {
	got := MovingAverage([]float64{2, 4, 6, 8, 10}, 3)
	assert.InDeltaSlice(t, []float64{2, 3, 4, 6, 8}, got, 1e-9)

	short := MovingAverage([]float64{1, 3}, 5)
	assert.InDeltaSlice(t, []float64{1, 2}, short, 1e-9)

	assert.Empty(t, MovingAverage(nil, 3))
}

func TestComputeFlatThenDropThenRecover(t *testing.T) {
	closes := []float64{10, 10, 10, 9, 9, 9, 11}
	sig := Compute(closes, 2, 3)

	require.NotNil(t, sig.Resistance)
	require.NotNil(t, sig.Support)
	// bearish cross at i=3: short 9.5, long 29/3
	assert.InDelta(t, 29.0/3, *sig.Resistance, 1e-9)
	assert.Equal(t, 3, sig.ResistanceIdx)
	// bullish cross at i=6: short 10, long 29/3
	assert.InDelta(t, 29.0/3, *sig.Support, 1e-9)
	assert.Equal(t, 6, sig.SupportIdx)
	assert.Equal(t, StrongBullish, sig.Status)
	assert.Equal(t, 11.0, sig.LastPrice)
	assert.InDelta(t, (11.0-9.0)/9.0*100, sig.ChangePercent, 1e-9)
}

func TestComputeKeepsMostRecentCrossover(t *testing.T) {
	// short=1 is the close itself; long=2 pairs neighbours.
	// crosses: bearish@1 (4), bullish@2 (5), bearish@3 (4.5), bullish@4 (5)
	sig := Compute([]float64{5, 3, 7, 2, 8}, 1, 2)

	require.NotNil(t, sig.Resistance)
	require.NotNil(t, sig.Support)
	assert.InDelta(t, 4.5, *sig.Resistance, 1e-9)
	assert.Equal(t, 3, sig.ResistanceIdx)
	assert.InDelta(t, 5.0, *sig.Support, 1e-9)
	assert.Equal(t, 4, sig.SupportIdx)
}

func TestComputeEmptySeries(t *testing.T) {
	sig := Compute(nil, 20, 200)
	assert.Nil(t, sig.Support)
	assert.Nil(t, sig.Resistance)
	assert.Equal(t, Unknown, sig.Status)
	assert.Zero(t, sig.LastPrice)
}

func TestComputeNoCrossover(t *testing.T) {
	sig := Compute([]float64{1, 2, 3, 4, 5, 6}, 2, 4)
	assert.Nil(t, sig.Resistance)
	// short equals long up to i=1, then stays above from i=2
	require.NotNil(t, sig.Support)
	assert.Equal(t, 2, sig.SupportIdx)
	assert.InDelta(t, 2.0, *sig.Support, 1e-9)

	flat := Compute([]float64{7, 7, 7}, 2, 3)
	assert.Nil(t, flat.Support)
	assert.Nil(t, flat.Resistance)
	assert.Equal(t, Neutral, flat.Status)
}

func TestComputeSingleBar(t *testing.T) {
	sig := Compute([]float64{42}, 20, 200)
	assert.Nil(t, sig.Support)
	assert.Nil(t, sig.Resistance)
	assert.Equal(t, Neutral, sig.Status)
	assert.Equal(t, 42.0, sig.LastPrice)
	assert.Zero(t, sig.ChangePercent)
}

func TestChangePercentZeroPrevious(t *testing.T) {
	sig := Compute([]float64{0, 5}, 1, 2)
	assert.Zero(t, sig.ChangePercent)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name               string
		close, short, long float64
		want               Liquidity
	}{
		{"above both", 12, 11, 10, StrongBullish},
		{"above long only", 12, 9, 10, Bullish},
		{"below both", 8, 9, 10, StrongBearish},
		{"below long only", 8, 11, 10, Bearish},
		{"equal", 10, 11, 10, Neutral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.close, tc.short, tc.long))
		})
	}
}

type mockStore struct{ mock.Mock }

func (m *mockStore) RangeBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	args := m.Called(ctx, asset, symbol, tf, start, end)
	bars, _ := args.Get(0).([]market.Bar)
	return bars, args.Error(1)
}

func (m *mockStore) UpsertRegime(ctx context.Context, rec store.RegimeRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func TestCalculatorReadErrorDoesNotWrite(t *testing.T) {
	st := new(mockStore)
	tf, _ := market.ParseTimeframe("1h")
	st.On("RangeBars", mock.Anything, market.AssetStock, "AAPL", tf, mock.Anything, mock.Anything).
		Return(nil, errors.New("disk gone"))

	res := NewCalculator(st, Config{}).Update(context.Background(), market.AssetStock, "AAPL", tf)
	assert.Error(t, res.Err)
	assert.Equal(t, Unknown, res.Signal.Status)
	st.AssertNotCalled(t, "UpsertRegime", mock.Anything, mock.Anything)
}

func TestCalculatorUsesLookbackWindow(t *testing.T) {
	st := new(mockStore)
	tf, _ := market.ParseTimeframe("1d")
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	st.On("RangeBars", mock.Anything, market.AssetForex, "EURUSD", tf, now.Add(-DefaultLookback), now).
		Return([]market.Bar{}, nil)
	st.On("UpsertRegime", mock.Anything, mock.MatchedBy(func(r store.RegimeRecord) bool {
		return r.LiquidityStatus == string(Unknown) && r.Support == nil && r.Resistance == nil && r.Bars == 0
	})).Return(nil)

	c := NewCalculator(st, Config{})
	c.nowFn = func() time.Time { return now }
	res := c.Update(context.Background(), market.AssetForex, "EURUSD", tf)
	assert.NoError(t, res.Err)
	st.AssertExpectations(t)
}

func TestCalculatorAgainstRealStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "regime.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.SeedCatalog(ctx, []market.AssetType{market.AssetCrypto}, market.Timeframes()))

	tf, _ := market.ParseTimeframe("1h")
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	closes := []float64{10, 10, 10, 9, 9, 9, 11}
	bars := make([]market.Bar, len(closes))
	start := now.Add(-time.Duration(len(closes)) * time.Hour)
	for i, c := range closes {
		bars[i] = market.Bar{Symbol: "BTC/USDT", Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	_, err = st.MergeBars(ctx, market.AssetCrypto, tf, bars)
	require.NoError(t, err)

	calc := NewCalculator(st, Config{ShortWindow: 2, LongWindow: 3})
	calc.nowFn = func() time.Time { return now }
	results := calc.UpdateAll(ctx, market.AssetCrypto, []string{"BTC/USDT", "ETH/USDT"}, []market.Timeframe{tf})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 7, results[0].Bars)

	rec, ok, err := st.GetRegime(ctx, market.AssetCrypto, "BTC/USDT", tf.Name)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.Support)
	assert.InDelta(t, 29.0/3, *rec.Support, 1e-9)
	assert.Equal(t, string(StrongBullish), rec.LiquidityStatus)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Snapshot, &snap))
	assert.Contains(t, snap, "support_at")
	assert.EqualValues(t, 2, snap["short_window"])

	// no bars for ETH: recorded as UNKNOWN rather than skipped
	eth, ok, err := st.GetRegime(ctx, market.AssetCrypto, "ETH/USDT", tf.Name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(Unknown), eth.LiquidityStatus)
	assert.Nil(t, eth.Support)
}

func TestUpdateAllStopsOnCancel(t *testing.T) {
	st := new(mockStore)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tf, _ := market.ParseTimeframe("1h")
	out := NewCalculator(st, Config{}).UpdateAll(ctx, market.AssetStock, []string{"A", "B"}, []market.Timeframe{tf})
	assert.Empty(t, out)
	st.AssertNotCalled(t, "RangeBars", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
