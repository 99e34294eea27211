package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"marketsync/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bars.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SeedCatalog(context.Background(),
		[]market.AssetType{market.AssetCrypto, market.AssetStock},
		market.Timeframes()))
	return s
}

func hourTF(t *testing.T) market.Timeframe {
	tf, err := market.ParseTimeframe("1 hour")
	require.NoError(t, err)
	return tf
}

func hourlyBars(symbol string, start time.Time, n int, base float64) []market.Bar {
	out := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		px := base + float64(i)
		out[i] = market.Bar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      px, High: px + 1, Low: px - 1, Close: px, Volume: 10,
		}
	}
	return out
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tf := hourTF(t)
	id1, err := s.TimeframeID(ctx, tf)
	require.NoError(t, err)

	require.NoError(t, s.SeedCatalog(ctx, []market.AssetType{market.AssetCrypto}, market.Timeframes()))
	id2, err := s.TimeframeID(ctx, tf)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var n int64
	require.NoError(t, s.db.Model(&TimeframeTypeModel{}).Count(&n).Error)
	assert.Equal(t, int64(len(market.Timeframes())), n)
}

func TestUnknownCatalogEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, err := s.LatestTimestamp(ctx, market.AssetBond, "US10Y", hourTF(t))
	assert.True(t, errors.Is(err, ErrUnknownAssetType))

	_, _, err = s.LatestTimestamp(ctx, market.AssetCrypto, "BTCUSDT", market.Timeframe{Name: "3 hours"})
	assert.True(t, errors.Is(err, ErrUnknownTimeframe))
}

func TestMergeBarsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tf := hourTF(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars("ABCUSDT", start, 5, 100)

	n, err := s.MergeBars(ctx, market.AssetCrypto, tf, bars)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = s.MergeBars(ctx, market.AssetCrypto, tf, bars)
	require.NoError(t, err)

	count, err := s.CountBars(ctx, market.AssetCrypto, "ABCUSDT", tf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	got, err := s.RangeBars(ctx, market.AssetCrypto, "ABCUSDT", tf, start, start.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestMergeBarsOverwritesByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tf := hourTF(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.MergeBars(ctx, market.AssetCrypto, tf, hourlyBars("ABCUSDT", start, 3, 100))
	require.NoError(t, err)

	update := []market.Bar{{Symbol: "ABCUSDT", Timestamp: start.Add(time.Hour), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 7}}
	_, err = s.MergeBars(ctx, market.AssetCrypto, tf, update)
	require.NoError(t, err)

	got, err := s.RangeBars(ctx, market.AssetCrypto, "ABCUSDT", tf, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, update[0], got[1])
	assert.Equal(t, 100.0, got[0].Close)
}

func TestBarsAreScopedBySymbolTimeframeAndAsset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tf := hourTF(t)
	day, err := market.ParseTimeframe("1 day")
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err = s.MergeBars(ctx, market.AssetCrypto, tf, hourlyBars("AAA", start, 2, 1))
	require.NoError(t, err)
	_, err = s.MergeBars(ctx, market.AssetCrypto, day, hourlyBars("AAA", start, 1, 1))
	require.NoError(t, err)
	_, err = s.MergeBars(ctx, market.AssetStock, tf, hourlyBars("AAA", start, 4, 1))
	require.NoError(t, err)

	n, _ := s.CountBars(ctx, market.AssetCrypto, "AAA", tf)
	assert.Equal(t, int64(2), n)
	n, _ = s.CountBars(ctx, market.AssetCrypto, "AAA", day)
	assert.Equal(t, int64(1), n)
	n, _ = s.CountBars(ctx, market.AssetStock, "AAA", tf)
	assert.Equal(t, int64(4), n)
}

func TestLatestTimestampAndPurge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tf := hourTF(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok, err := s.LatestTimestamp(ctx, market.AssetCrypto, "ABCUSDT", tf)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.MergeBars(ctx, market.AssetCrypto, tf, hourlyBars("ABCUSDT", start, 10, 1))
	require.NoError(t, err)
	latest, ok, err := s.LatestTimestamp(ctx, market.AssetCrypto, "ABCUSDT", tf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, start.Add(9*time.Hour), latest)

	deleted, err := s.PurgeBefore(ctx, market.AssetCrypto, "ABCUSDT", tf, start.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	got, err := s.LatestBars(ctx, market.AssetCrypto, "ABCUSDT", tf, 100)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, start.Add(4*time.Hour), got[0].Timestamp)

	tail, err := s.LatestBars(ctx, market.AssetCrypto, "ABCUSDT", tf, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, start.Add(9*time.Hour), tail[1].Timestamp)
}

func TestRegimeUpsertOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	support := 10.0
	rec := RegimeRecord{
		Symbol:          "ABCUSDT",
		Asset:           market.AssetCrypto,
		Timeframe:       "1 hour",
		Support:         &support,
		LiquidityStatus: "BULLISH",
		LastPrice:       11,
		Snapshot:        []byte(`{"short":10.5}`),
	}
	require.NoError(t, s.UpsertRegime(ctx, rec))

	resistance := 12.0
	rec.Support = nil
	rec.Resistance = &resistance
	rec.LiquidityStatus = "STRONG_BEARISH"
	require.NoError(t, s.UpsertRegime(ctx, rec))

	got, ok, err := s.GetRegime(ctx, market.AssetCrypto, "ABCUSDT", "1 hour")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, got.Support)
	require.NotNil(t, got.Resistance)
	assert.Equal(t, 12.0, *got.Resistance)
	assert.Equal(t, "STRONG_BEARISH", got.LiquidityStatus)
	assert.Equal(t, "1 hour", got.Timeframe)
	assert.JSONEq(t, `{"short":10.5}`, string(got.Snapshot))

	list, err := s.ListRegimes(ctx, RegimeFilter{Asset: market.AssetCrypto})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, ok, err = s.GetRegime(ctx, market.AssetStock, "ABCUSDT", "1 hour")
	require.NoError(t, err)
	assert.False(t, ok)
}
