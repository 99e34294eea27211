package feed

import (
	"sort"
	"strings"
	"time"

	"marketsync/internal/market"
)

// Normalize 把上游原始 K 线整理成可直接入库的序列：
// 过滤区间外的行，按时间升序排列，同一时间戳保留最后一次出现的值，
// 负成交量视为缺失并置 0，缺失的 OHLC 用前一根 K 线的值补齐。
func Normalize(symbol string, start, end time.Time, raws []RawBar) []market.Bar {
	if len(raws) == 0 {
		return []market.Bar{}
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	filtered := make([]RawBar, 0, len(raws))
	for _, r := range raws {
		ts := r.Timestamp.UTC()
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}
		r.Timestamp = ts
		filtered = append(filtered, r)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})
	deduped := filtered[:0]
	for _, r := range filtered {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(r.Timestamp) {
			deduped[n-1] = r
			continue
		}
		deduped = append(deduped, r)
	}

	out := make([]market.Bar, 0, len(deduped))
	var prev *market.Bar
	for _, r := range deduped {
		seed := firstPresent(r.Open, r.Close, r.High, r.Low)
		pick := func(v *float64, carry func(*market.Bar) float64) float64 {
			if v != nil {
				return *v
			}
			if prev != nil {
				return carry(prev)
			}
			return seed
		}
		bar := market.Bar{
			Symbol:    symbol,
			Timestamp: r.Timestamp,
			Open:      pick(r.Open, func(b *market.Bar) float64 { return b.Open }),
			High:      pick(r.High, func(b *market.Bar) float64 { return b.High }),
			Low:       pick(r.Low, func(b *market.Bar) float64 { return b.Low }),
			Close:     pick(r.Close, func(b *market.Bar) float64 { return b.Close }),
		}
		if r.Volume != nil && *r.Volume >= 0 {
			bar.Volume = *r.Volume
		}
		out = append(out, bar)
		prev = &out[len(out)-1]
	}
	return out
}

func firstPresent(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
