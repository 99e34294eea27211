package config

import "strings"

// Config 是 marketsync 的主配置载体。
type Config struct {
	App        AppConfig              `toml:"app"`
	Store      StoreConfig            `toml:"store"`
	Retention  map[string]string      `toml:"retention"`
	Timeframes []string               `toml:"timeframes"`
	Sources    SourcesConfig          `toml:"sources"`
	Assets     map[string]AssetConfig `toml:"assets"`
	Regime     RegimeConfig           `toml:"regime"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

type StoreConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

type SourcesConfig struct {
	Binance      SourceConfig `toml:"binance"`
	AlphaVantage SourceConfig `toml:"alphavantage"`
}

// SourceConfig 同时描述上游连接参数和 Adapter 的重试/限速参数。
type SourceConfig struct {
	BaseURL          string        `toml:"base_url"`
	APIKey           string        `toml:"api_key"`
	TimeoutSeconds   int           `toml:"timeout_seconds"`
	RatePerMinute    float64       `toml:"rate_per_minute"`
	Burst            int           `toml:"burst"`
	MaxAttempts      int           `toml:"max_attempts"`
	BackoffSeconds   int           `toml:"backoff_seconds"`
	IdleCheckSeconds int           `toml:"idle_check_seconds"`
	Breaker          BreakerConfig `toml:"breaker"`
	Proxy            ProxyConfig   `toml:"proxy"`
}

// BreakerConfig: threshold 为 0 表示关闭熔断。
type BreakerConfig struct {
	Threshold       int `toml:"threshold"`
	CooldownSeconds int `toml:"cooldown_seconds"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// AssetConfig 对应一个资产类别的同步任务。
type AssetConfig struct {
	Enabled     bool           `toml:"enabled"`
	Source      string         `toml:"source"`
	Symbols     []string       `toml:"symbols"`
	SymbolsFile string         `toml:"symbols_file"`
	Timeframes  []string       `toml:"timeframes"`
	Schedule    ScheduleConfig `toml:"schedule"`
	// DaysBack > 0 ignores the retention table for every run of this asset.
	DaysBack int `toml:"days_back"`
}

// ScheduleConfig: exactly one of Interval, Cron or Align is set.
type ScheduleConfig struct {
	Interval   string `toml:"interval"`
	Cron       string `toml:"cron"`
	Timezone   string `toml:"timezone"`
	Align      string `toml:"align"`
	Offset     string `toml:"offset"`
	RunOnStart bool   `toml:"run_on_start"`
}

type RegimeConfig struct {
	Enabled      bool `toml:"enabled"`
	ShortWindow  int  `toml:"short_window"`
	LongWindow   int  `toml:"long_window"`
	LookbackDays int  `toml:"lookback_days"`
}

const (
	SourceBinance      = "binance"
	SourceAlphaVantage = "alphavantage"
)

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
