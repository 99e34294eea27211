package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("1 hour")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tf.Duration)
	assert.Equal(t, "1h", tf.Key)

	tf, err = ParseTimeframe(" 4  HOURS ")
	require.NoError(t, err)
	assert.Equal(t, "4 hours", tf.Name)

	tf, err = ParseTimeframe("1d")
	require.NoError(t, err)
	assert.Equal(t, "1 day", tf.Name)

	_, err = ParseTimeframe("2 fortnights")
	assert.True(t, errors.Is(err, ErrUnknownTimeframe))
}

func TestTimeframeAlign(t *testing.T) {
	tf, _ := ParseTimeframe("1 hour")
	ts := time.Date(2024, 3, 1, 10, 37, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), tf.AlignDown(ts))
	assert.Equal(t, int64(3), tf.ExpectedBars(ts, ts.Add(2*time.Hour)))
	assert.Equal(t, int64(0), tf.ExpectedBars(ts, ts.Add(-time.Hour)))
}

func TestParseAssetType(t *testing.T) {
	a, err := ParseAssetType("crypto")
	require.NoError(t, err)
	assert.Equal(t, AssetCrypto, a)
	assert.Equal(t, "crypto_mtf_bar", a.BarTable())

	_, err = ParseAssetType("tulips")
	assert.True(t, errors.Is(err, ErrUnknownAssetType))
	assert.Len(t, AssetTypes(), 9)
}

func TestCloses(t *testing.T) {
	bars := []Bar{{Close: 1}, {Close: 2.5}}
	assert.Equal(t, []float64{1, 2.5}, Closes(bars))
}
