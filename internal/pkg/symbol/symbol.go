package symbol

import (
	"strings"
)

// Symbol 是拆分后的交易对。股票等单腿标的只有 Base。
type Symbol struct {
	Base  string
	Quote string
}

// Binance 返回交易所写法，例如 BTCUSDT。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	quote := s.Quote
	if quote == "USD" {
		quote = "USDT"
	}
	return s.Base + quote
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB", "USD"}

// Parse accepts "BTC/USDT", "BTC-USD", "btcusdt", "BTCUSDT:USDT" or a bare ticker like "AAPL".
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Symbol{
				Base:  strings.TrimSpace(parts[0]),
				Quote: strings.TrimSpace(parts[1]),
			}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{Base: s}
}

// ForBinance maps any accepted spelling to the Binance spot symbol; USD quotes become USDT.
func ForBinance(s string) string {
	if b := Parse(s).Binance(); b != "" {
		return b
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// FXPair splits a six-letter currency pair such as EURUSD or EUR/USD.
func FXPair(s string) (from, to string, ok bool) {
	clean := strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"/", "-", "_", "."} {
		clean = strings.ReplaceAll(clean, sep, "")
	}
	if len(clean) != 6 {
		return "", "", false
	}
	return clean[:3], clean[3:], true
}

// NormalizeList 去空、转大写并按首次出现顺序去重。
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := strings.ToUpper(strings.TrimSpace(s))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
