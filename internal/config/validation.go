package config

import (
	"fmt"
	"strings"
	"time"

	"marketsync/internal/market"

	"github.com/robfig/cron/v3"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if _, err := c.RetentionWindows(); err != nil {
		return err
	}
	if _, err := c.TimeframeList(); err != nil {
		return err
	}
	if c.Sources.Binance.Breaker.Threshold < 0 || c.Sources.AlphaVantage.Breaker.Threshold < 0 {
		return fmt.Errorf("sources.*.breaker.threshold must be >= 0")
	}
	for name, asset := range c.Assets {
		if err := asset.validate(name, c.Sources); err != nil {
			return err
		}
	}
	if err := c.Regime.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	return nil
}

func (a AssetConfig) validate(name string, sources SourcesConfig) error {
	prefix := "assets." + name
	if _, err := market.ParseAssetType(name); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	if !a.Enabled {
		return nil
	}
	switch a.Source {
	case SourceBinance:
	case SourceAlphaVantage:
		if sources.AlphaVantage.APIKey == "" {
			return fmt.Errorf("%s uses alphavantage but sources.alphavantage.api_key is empty", prefix)
		}
	default:
		return fmt.Errorf("%s.source must be %s or %s, got %q", prefix, SourceBinance, SourceAlphaVantage, a.Source)
	}
	if len(a.Symbols) == 0 && a.SymbolsFile == "" {
		return fmt.Errorf("%s requires symbols or symbols_file", prefix)
	}
	if _, err := a.TimeframeList(); err != nil {
		return fmt.Errorf("%s.timeframes: %w", prefix, err)
	}
	if a.DaysBack < 0 {
		return fmt.Errorf("%s.days_back must be >= 0", prefix)
	}
	return a.Schedule.validate(prefix + ".schedule")
}

func (s ScheduleConfig) validate(prefix string) error {
	set := 0
	for _, v := range []string{s.Interval, s.Cron, s.Align} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s requires exactly one of interval, cron, align", prefix)
	}
	switch {
	case s.Interval != "":
		if _, err := ParseSpan(s.Interval); err != nil {
			return fmt.Errorf("%s.interval: %w", prefix, err)
		}
	case s.Cron != "":
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return fmt.Errorf("%s.cron: %w", prefix, err)
		}
	default:
		align, err := ParseSpan(s.Align)
		if err != nil {
			return fmt.Errorf("%s.align: %w", prefix, err)
		}
		if s.Offset != "" {
			off, err := ParseSpan(s.Offset)
			if err != nil {
				return fmt.Errorf("%s.offset: %w", prefix, err)
			}
			if off >= align {
				return fmt.Errorf("%s.offset must be shorter than align", prefix)
			}
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%s.timezone: %w", prefix, err)
		}
	}
	return nil
}

func (r *RegimeConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.ShortWindow >= r.LongWindow {
		return fmt.Errorf("regime.short_window (%d) must be smaller than regime.long_window (%d)", r.ShortWindow, r.LongWindow)
	}
	return nil
}
