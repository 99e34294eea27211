package regime

import (
	"context"
	"encoding/json"
	"time"

	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/store"
)

const DefaultLookback = 60 * 24 * time.Hour

// Store is the subset of *store.Store the calculator reads and writes.
type Store interface {
	RangeBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error)
	UpsertRegime(ctx context.Context, rec store.RegimeRecord) error
}

type Config struct {
	ShortWindow int
	LongWindow  int
	Lookback    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShortWindow <= 0 {
		c.ShortWindow = DefaultShortWindow
	}
	if c.LongWindow <= 0 {
		c.LongWindow = DefaultLongWindow
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	return c
}

// Result 是一次计算的对外结果；Err 仅用于观测，不会向调用方抛出。
type Result struct {
	Symbol    string
	Asset     market.AssetType
	Timeframe string
	Signal    Signal
	Bars      int
	Err       error
}

type Calculator struct {
	store Store
	cfg   Config
	nowFn func() time.Time
}

func NewCalculator(st Store, cfg Config) *Calculator {
	return &Calculator{store: st, cfg: cfg.withDefaults(), nowFn: time.Now}
}

type snapshot struct {
	ShortWindow  int        `json:"short_window"`
	LongWindow   int        `json:"long_window"`
	ShortMA      float64    `json:"short_ma"`
	LongMA       float64    `json:"long_ma"`
	SupportAt    *time.Time `json:"support_at,omitempty"`
	ResistanceAt *time.Time `json:"resistance_at,omitempty"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
}

// Update 读取回看窗口内的 K 线，计算并覆盖写入 regime 记录。
// 读失败时不写库，返回 UNKNOWN；序列为空时写入 UNKNOWN 记录。
func (c *Calculator) Update(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe) Result {
	res := Result{Symbol: symbol, Asset: asset, Timeframe: tf.Name, Signal: Compute(nil, 0, 0)}
	now := c.nowFn().UTC()
	bars, err := c.store.RangeBars(ctx, asset, symbol, tf, now.Add(-c.cfg.Lookback), now)
	if err != nil {
		logger.Errorf("[regime] %s %s %s: read bars: %v", asset, symbol, tf.Name, err)
		res.Err = err
		return res
	}
	res.Bars = len(bars)
	res.Signal = Compute(market.Closes(bars), c.cfg.ShortWindow, c.cfg.LongWindow)

	snap := snapshot{
		ShortWindow: c.cfg.ShortWindow,
		LongWindow:  c.cfg.LongWindow,
		ShortMA:     res.Signal.ShortMA,
		LongMA:      res.Signal.LongMA,
	}
	if len(bars) > 0 {
		snap.From = &bars[0].Timestamp
		snap.To = &bars[len(bars)-1].Timestamp
	}
	if i := res.Signal.SupportIdx; i >= 0 {
		snap.SupportAt = &bars[i].Timestamp
	}
	if i := res.Signal.ResistanceIdx; i >= 0 {
		snap.ResistanceAt = &bars[i].Timestamp
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		raw = nil
	}

	rec := store.RegimeRecord{
		Symbol:          symbol,
		Asset:           asset,
		Timeframe:       tf.Name,
		Support:         res.Signal.Support,
		Resistance:      res.Signal.Resistance,
		LiquidityStatus: string(res.Signal.Status),
		LastPrice:       res.Signal.LastPrice,
		ChangePercent:   res.Signal.ChangePercent,
		Bars:            len(bars),
		Snapshot:        raw,
		ComputedAt:      now,
	}
	if err := c.store.UpsertRegime(ctx, rec); err != nil {
		logger.Errorf("[regime] %s %s %s: upsert: %v", asset, symbol, tf.Name, err)
		res.Err = err
		return res
	}
	logger.Debugf("[regime] %s %s %s: status=%s support=%s resistance=%s bars=%d",
		asset, symbol, tf.Name, res.Signal.Status, fmtLevel(res.Signal.Support), fmtLevel(res.Signal.Resistance), len(bars))
	return res
}

// UpdateAll recomputes every symbol × timeframe pair in order and stops early on cancellation.
func (c *Calculator) UpdateAll(ctx context.Context, asset market.AssetType, symbols []string, timeframes []market.Timeframe) []Result {
	out := make([]Result, 0, len(symbols)*len(timeframes))
	for _, tf := range timeframes {
		for _, sym := range symbols {
			if ctx.Err() != nil {
				return out
			}
			out = append(out, c.Update(ctx, asset, sym, tf))
		}
	}
	return out
}

func fmtLevel(v *float64) string {
	if v == nil {
		return "none"
	}
	b, _ := json.Marshal(*v)
	return string(b)
}
