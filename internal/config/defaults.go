package config

import (
	"strings"

	"marketsync/internal/market"
)

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogFormat  = "text"
	defaultAppLogPath    = "logs/marketsync.log"
	defaultAppHTTPAddr   = ":9992"
	defaultStorePath     = "data/market.db"
	defaultStoreMaxConns = 2

	defaultBinanceURL       = "https://api.binance.com"
	defaultBinanceTimeout   = 15
	defaultBinanceRate      = 1200
	defaultBinanceBurst     = 10
	defaultBinanceBackoff   = 2
	defaultAlphaURL         = "https://www.alphavantage.co"
	defaultAlphaTimeout     = 30
	defaultAlphaRate        = 5
	defaultAlphaBurst       = 1
	defaultAlphaBackoff     = 15
	defaultSourceAttempts   = 3
	defaultSourceIdleSecond = 60
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 300

	defaultCryptoInterval = "5m"
	defaultMarketCron     = "0 17 * * 1-5"
	defaultMarketDaysBack = 1
	defaultCryptoSymbols  = "symbols/crypto.txt"

	defaultRegimeShort    = 20
	defaultRegimeLong     = 200
	defaultRegimeLookback = 60
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	if len(c.Timeframes) == 0 {
		for _, tf := range market.Timeframes() {
			c.Timeframes = append(c.Timeframes, tf.Name)
		}
	}
	c.Sources.Binance.applyDefaults(keys, "sources.binance", defaultBinanceURL, defaultBinanceTimeout, defaultBinanceRate, defaultBinanceBurst, defaultBinanceBackoff)
	c.Sources.AlphaVantage.applyDefaults(keys, "sources.alphavantage", defaultAlphaURL, defaultAlphaTimeout, defaultAlphaRate, defaultAlphaBurst, defaultAlphaBackoff)
	if len(c.Assets) == 0 {
		c.Assets = map[string]AssetConfig{
			"crypto": {SymbolsFile: defaultCryptoSymbols},
		}
	}
	for name, asset := range c.Assets {
		asset.applyDefaults(keys, strings.ToLower(name), c.Timeframes)
		c.Assets[name] = asset
	}
	c.Regime.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	a.LogFormat = strings.ToLower(strings.TrimSpace(a.LogFormat))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		fieldDefault{
			key:   "store.max_open_conns",
			need:  func() bool { return s.MaxOpenConns <= 0 },
			apply: func() { s.MaxOpenConns = defaultStoreMaxConns },
		},
	)
}

func (s *SourceConfig) applyDefaults(keys keySet, prefix, url string, timeout int, rate float64, burst, backoff int) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault(prefix+".base_url", &s.BaseURL, url),
		fieldDefault{
			key:   prefix + ".timeout_seconds",
			need:  func() bool { return s.TimeoutSeconds <= 0 },
			apply: func() { s.TimeoutSeconds = timeout },
		},
		fieldDefault{
			key:   prefix + ".rate_per_minute",
			need:  func() bool { return s.RatePerMinute <= 0 },
			apply: func() { s.RatePerMinute = rate },
		},
		fieldDefault{
			key:   prefix + ".burst",
			need:  func() bool { return s.Burst <= 0 },
			apply: func() { s.Burst = burst },
		},
		fieldDefault{
			key:   prefix + ".max_attempts",
			need:  func() bool { return s.MaxAttempts <= 0 },
			apply: func() { s.MaxAttempts = defaultSourceAttempts },
		},
		fieldDefault{
			key:   prefix + ".backoff_seconds",
			need:  func() bool { return s.BackoffSeconds <= 0 },
			apply: func() { s.BackoffSeconds = backoff },
		},
		fieldDefault{
			key:   prefix + ".idle_check_seconds",
			need:  func() bool { return s.IdleCheckSeconds <= 0 },
			apply: func() { s.IdleCheckSeconds = defaultSourceIdleSecond },
		},
		fieldDefault{
			key:   prefix + ".breaker.threshold",
			need:  func() bool { return s.Breaker.Threshold == 0 },
			apply: func() { s.Breaker.Threshold = defaultBreakerThreshold },
		},
		fieldDefault{
			key:   prefix + ".breaker.cooldown_seconds",
			need:  func() bool { return s.Breaker.CooldownSeconds <= 0 },
			apply: func() { s.Breaker.CooldownSeconds = defaultBreakerCooldown },
		},
	)
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Proxy.normalize()
}

// 加密货币默认每 5 分钟增量同步；其余资产默认工作日收盘后回补 1 天。
func (a *AssetConfig) applyDefaults(keys keySet, name string, timeframes []string) {
	if a == nil {
		return
	}
	prefix := "assets." + name
	crypto := strings.EqualFold(name, string(market.AssetCrypto))
	source := SourceAlphaVantage
	if crypto {
		source = SourceBinance
	}
	applyFieldDefaults(keys,
		boolFieldDefault(prefix+".enabled", &a.Enabled, true),
		stringFieldDefault(prefix+".source", &a.Source, source),
	)
	a.Source = strings.ToLower(strings.TrimSpace(a.Source))
	a.SymbolsFile = strings.TrimSpace(a.SymbolsFile)
	if len(a.Timeframes) == 0 {
		a.Timeframes = append([]string(nil), timeframes...)
	}
	sch := &a.Schedule
	if strings.TrimSpace(sch.Interval) == "" && strings.TrimSpace(sch.Cron) == "" && strings.TrimSpace(sch.Align) == "" {
		if crypto {
			sch.Interval = defaultCryptoInterval
		} else {
			sch.Cron = defaultMarketCron
		}
	}
	if !crypto {
		applyFieldDefaults(keys, fieldDefault{
			key:   prefix + ".days_back",
			need:  func() bool { return a.DaysBack == 0 },
			apply: func() { a.DaysBack = defaultMarketDaysBack },
		})
	}
}

func (r *RegimeConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("regime.enabled", &r.Enabled, true),
		fieldDefault{
			key:   "regime.short_window",
			need:  func() bool { return r.ShortWindow <= 0 },
			apply: func() { r.ShortWindow = defaultRegimeShort },
		},
		fieldDefault{
			key:   "regime.long_window",
			need:  func() bool { return r.LongWindow <= 0 },
			apply: func() { r.LongWindow = defaultRegimeLong },
		},
		fieldDefault{
			key:   "regime.lookback_days",
			need:  func() bool { return r.LookbackDays <= 0 },
			apply: func() { r.LookbackDays = defaultRegimeLookback },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
