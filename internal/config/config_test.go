package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, defaultStorePath, cfg.Store.Path)
	assert.Len(t, cfg.Timeframes, 8)

	crypto, ok := cfg.Assets["crypto"]
	require.True(t, ok)
	assert.True(t, crypto.Enabled)
	assert.Equal(t, SourceBinance, crypto.Source)
	assert.Equal(t, "5m", crypto.Schedule.Interval)
	assert.Zero(t, crypto.DaysBack)
	assert.Equal(t, []string{"crypto"}, cfg.EnabledAssets())

	assert.Equal(t, 5.0, cfg.Sources.AlphaVantage.RatePerMinute)
	assert.Equal(t, defaultBreakerThreshold, cfg.Sources.Binance.Breaker.Threshold)
	assert.Equal(t, defaultBreakerCooldown, cfg.Sources.Binance.Breaker.CooldownSeconds)
	assert.Equal(t, 20, cfg.Regime.ShortWindow)
	assert.Equal(t, 200, cfg.Regime.LongWindow)
	assert.True(t, cfg.Regime.Enabled)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "config.yaml", `
app:
  log_path: ""
  log_format: JSON
sources:
  alphavantage:
    api_key: demo
assets:
  stock:
    symbols: [aapl, msft]
    timeframes: ["1 day", "1w"]
    days_back: 0
  forex:
    enabled: false
regime:
  enabled: false
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Empty(t, cfg.App.LogPath)
	assert.Equal(t, "json", cfg.App.LogFormat)

	stock := cfg.Assets["stock"]
	assert.True(t, stock.Enabled)
	assert.Equal(t, SourceAlphaVantage, stock.Source)
	assert.Equal(t, defaultMarketCron, stock.Schedule.Cron)
	assert.Zero(t, stock.DaysBack, "explicit zero must not be replaced")
	tfs, err := stock.TimeframeList()
	require.NoError(t, err)
	require.Len(t, tfs, 2)
	assert.Equal(t, "1 week", tfs[1].Name)

	assert.False(t, cfg.Assets["forex"].Enabled)
	assert.Equal(t, defaultMarketDaysBack, cfg.Assets["forex"].DaysBack)
	assert.Equal(t, []string{"stock"}, cfg.EnabledAssets())
	assert.False(t, cfg.Regime.Enabled)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", "store:\n  path: /tmp/base.db\napp:\n  env: base\n")
	p := writeConfig(t, dir, "config.yaml", "include: [base.yaml]\napp:\n  env: prod\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "/tmp/base.db", cfg.Store.Path)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestRetentionOverrides(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "config.yaml", "retention:\n  1h: 90d\n  \"1 min\": 36h\n")
	cfg, err := Load(p)
	require.NoError(t, err)

	windows, err := cfg.RetentionWindows()
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, windows["1 hour"])
	assert.Equal(t, 36*time.Hour, windows["1 min"])
	assert.Equal(t, 250*24*time.Hour, windows["4 hours"])
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"bad log format":     "app:\n  log_format: xml\n",
		"unknown retention":  "retention:\n  2h: 10d\n",
		"bad retention span": "retention:\n  1h: forever\n",
		"unknown timeframe":  "timeframes: [\"3 mins\"]\n",
		"unknown asset":      "assets:\n  gold:\n    symbols: [XAU]\n",
		"missing api key":    "assets:\n  stock:\n    symbols: [AAPL]\n",
		"no symbols":         "assets:\n  crypto:\n    source: binance\n",
		"bad source":         "assets:\n  crypto:\n    source: kraken\n    symbols: [BTC]\n",
		"two schedules":      "assets:\n  crypto:\n    symbols: [BTC]\n    schedule:\n      interval: 5m\n      cron: \"* * * * *\"\n",
		"bad cron":           "assets:\n  crypto:\n    symbols: [BTC]\n    schedule:\n      cron: \"every day\"\n",
		"offset too large":   "assets:\n  crypto:\n    symbols: [BTC]\n    schedule:\n      align: 1h\n      offset: 2h\n",
		"bad timezone":       "assets:\n  crypto:\n    symbols: [BTC]\n    schedule:\n      interval: 5m\n      timezone: Mars/Base\n",
		"regime windows":     "regime:\n  short_window: 50\n  long_window: 20\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeConfig(t, t.TempDir(), "config.yaml", body)
			_, err := Load(p)
			assert.Error(t, err)
		})
	}
}

func TestParseSpan(t *testing.T) {
	cases := map[string]time.Duration{
		"60d":   60 * 24 * time.Hour,
		"2w":    14 * 24 * time.Hour,
		"90s":   90 * time.Second,
		"1h30m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseSpan(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0d", "-5m", "xd", "soon"} {
		_, err := ParseSpan(bad)
		assert.Error(t, err, bad)
	}
}
