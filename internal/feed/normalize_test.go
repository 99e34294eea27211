package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSortsAndDedupes(t *testing.T) {
	raws := []RawBar{
		{Timestamp: t0.Add(2 * time.Hour), Open: F(3), High: F(3), Low: F(3), Close: F(3), Volume: F(1)},
		{Timestamp: t0, Open: F(1), High: F(1), Low: F(1), Close: F(1), Volume: F(1)},
		{Timestamp: t0.Add(time.Hour), Open: F(2), High: F(2), Low: F(2), Close: F(2), Volume: F(1)},
		{Timestamp: t0, Open: F(9), High: F(9), Low: F(9), Close: F(9), Volume: F(2)},
	}
	bars := Normalize("abcusdt", time.Time{}, time.Time{}, raws)
	require.Len(t, bars, 3)
	assert.Equal(t, "ABCUSDT", bars[0].Symbol)
	assert.Equal(t, 9.0, bars[0].Close, "later duplicate wins")
	assert.Equal(t, 2.0, bars[0].Volume)
	assert.Equal(t, 2.0, bars[1].Close)
	assert.Equal(t, 3.0, bars[2].Close)
}

func TestNormalizeFillsMissingValues(t *testing.T) {
	raws := []RawBar{
		{Timestamp: t0, Open: F(10), High: F(12), Low: F(9), Close: F(11), Volume: F(-1)},
		{Timestamp: t0.Add(time.Hour), Close: F(13)},
		{Timestamp: t0.Add(2 * time.Hour)},
	}
	bars := Normalize("X", time.Time{}, time.Time{}, raws)
	require.Len(t, bars, 3)

	assert.Equal(t, 0.0, bars[0].Volume, "negative sentinel volume becomes 0")
	assert.Equal(t, 10.0, bars[1].Open)
	assert.Equal(t, 12.0, bars[1].High)
	assert.Equal(t, 9.0, bars[1].Low)
	assert.Equal(t, 13.0, bars[1].Close)
	assert.Equal(t, 0.0, bars[1].Volume)
	assert.Equal(t, 13.0, bars[2].Close)
	assert.Equal(t, 10.0, bars[2].Open)
}

func TestNormalizeFirstBarWithoutHistory(t *testing.T) {
	bars := Normalize("X", time.Time{}, time.Time{}, []RawBar{
		{Timestamp: t0, Close: F(5)},
		{Timestamp: t0.Add(time.Hour)},
	})
	require.Len(t, bars, 2)
	assert.Equal(t, 5.0, bars[0].Open)
	assert.Equal(t, 5.0, bars[0].High)

	empty := Normalize("X", time.Time{}, time.Time{}, []RawBar{{Timestamp: t0}})
	require.Len(t, empty, 1)
	assert.Equal(t, 0.0, empty[0].Close)
}

func TestNormalizeClipsToRangeAndUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	raws := []RawBar{
		{Timestamp: t0.Add(-time.Hour), Close: F(1)},
		{Timestamp: t0.In(loc), Close: F(2)},
		{Timestamp: t0.Add(time.Hour), Close: F(3)},
		{Timestamp: t0.Add(5 * time.Hour), Close: F(4)},
	}
	bars := Normalize("X", t0, t0.Add(time.Hour), raws)
	require.Len(t, bars, 2)
	assert.Equal(t, time.UTC, bars[0].Timestamp.Location())
	assert.Equal(t, 2.0, bars[0].Close)
	assert.Equal(t, 3.0, bars[1].Close)

	assert.Empty(t, Normalize("X", t0, t0.Add(time.Hour), nil))
}
