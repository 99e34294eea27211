package app

import (
	"fmt"
	"io"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/feed"
	"marketsync/internal/feed/alphavantage"
	"marketsync/internal/feed/binance"
	"marketsync/internal/market"
	"marketsync/internal/pkg/symbol"
	"marketsync/internal/symbols"
)

func buildProvider(source string, asset market.AssetType, cfg config.SourceConfig) (feed.Provider, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch source {
	case config.SourceBinance:
		return binance.New(binance.Config{
			RESTBaseURL:  cfg.BaseURL,
			HTTPTimeout:  timeout,
			ProxyEnabled: cfg.Proxy.Enabled,
			RESTProxyURL: cfg.Proxy.RESTURL,
		})
	case config.SourceAlphaVantage:
		kind := alphavantage.KindEquity
		if asset == market.AssetForex {
			kind = alphavantage.KindFX
		}
		return alphavantage.New(alphavantage.Config{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Kind:        kind,
			HTTPTimeout: timeout,
		})
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// SymbolSource 在每次任务执行时给出当前标的列表。
type SymbolSource interface {
	Symbols() []string
}

type staticSymbols []string

func (s staticSymbols) Symbols() []string { return append([]string(nil), s...) }

// mergedSymbols = 配置内联列表 + 文件列表（文件变更后自动生效）。
type mergedSymbols struct {
	inline  []string
	watcher *symbols.Watcher
}

func (m mergedSymbols) Symbols() []string {
	return symbol.NormalizeList(append(append([]string(nil), m.inline...), m.watcher.Symbols()...))
}

func buildSymbolSource(asset config.AssetConfig) (SymbolSource, io.Closer, error) {
	inline := symbol.NormalizeList(asset.Symbols)
	if asset.SymbolsFile == "" {
		return staticSymbols(inline), nil, nil
	}
	w, err := symbols.NewWatcher(asset.SymbolsFile)
	if err != nil {
		return nil, nil, err
	}
	return mergedSymbols{inline: inline, watcher: w}, w, nil
}
