package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/retention"
)

// BarStore 是同步器需要的存储能力。
type BarStore interface {
	LatestTimestamp(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe) (time.Time, bool, error)
	PurgeBefore(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, cutoff time.Time) (int64, error)
	MergeBars(ctx context.Context, asset market.AssetType, tf market.Timeframe, bars []market.Bar) (int, error)
}

// Fetcher is satisfied by *feed.Adapter.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error)
}

// Observer receives one call per processed symbol.
type Observer interface {
	ObserveSymbol(asset market.AssetType, tf market.Timeframe, res SymbolResult)
}

// Unit 是一次同步的最小调度单元：一个资产类别 × 一个周期 × 一组标的。
type Unit struct {
	Asset     market.AssetType
	Timeframe market.Timeframe
	Symbols   []string
	// DaysBack > 0 overrides the retention table for this unit.
	DaysBack int
}

type SymbolResult struct {
	Symbol  string
	Plan    retention.Plan
	Purged  int64
	Fetched int
	Merged  int
	Err     error
}

type UnitReport struct {
	Unit     Unit
	Results  []SymbolResult
	Started  time.Time
	Finished time.Time
}

func (r UnitReport) Failed() []SymbolResult {
	var out []SymbolResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// UnitError aggregates per-symbol failures of one unit.
type UnitError struct {
	Asset     market.AssetType
	Timeframe string
	Failures  map[string]error
}

func (e *UnitError) Error() string {
	syms := make([]string, 0, len(e.Failures))
	for s := range e.Failures {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return fmt.Sprintf("sync %s %s: %d symbol(s) failed: %s", e.Asset, e.Timeframe, len(syms), strings.Join(syms, ", "))
}

func (e *UnitError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

type Synchronizer struct {
	store    BarStore
	fetcher  Fetcher
	policy   *retention.Policy
	observer Observer
}

func New(store BarStore, fetcher Fetcher, policy *retention.Policy) *Synchronizer {
	return &Synchronizer{store: store, fetcher: fetcher, policy: policy}
}

func (s *Synchronizer) SetObserver(o Observer) { s.observer = o }

// SyncUnit 逐个标的执行：读最新时间 → 计划区间 → 清理过期行 → 拉取 → 合并。
// 单个标的失败只记录，不影响其他标的；配置错误（未知资产/周期）直接终止本单元。
// 取消只在标的之间生效，当前标的会完成自己的拉取与写入。
func (s *Synchronizer) SyncUnit(ctx context.Context, u Unit) (UnitReport, error) {
	report := UnitReport{Unit: u, Started: time.Now()}
	// 周期校验用基础窗口表，days_back 覆盖不能掩盖未知周期。
	if _, err := s.policy.Window(u.Timeframe.Name); err != nil {
		report.Finished = report.Started
		return report, err
	}
	policy := s.policy.WithDaysBack(u.DaysBack)

	failures := make(map[string]error)
	for _, symbol := range u.Symbols {
		if err := ctx.Err(); err != nil {
			logger.Warnf("[sync] %s %s cancelled before %s", u.Asset, u.Timeframe.Name, symbol)
			report.Finished = time.Now()
			return report, err
		}
		res := s.syncSymbol(context.WithoutCancel(ctx), policy, u, symbol)
		report.Results = append(report.Results, res)
		if s.observer != nil {
			s.observer.ObserveSymbol(u.Asset, u.Timeframe, res)
		}
		if res.Err == nil {
			continue
		}
		if isConfigError(res.Err) {
			report.Finished = time.Now()
			return report, res.Err
		}
		failures[symbol] = res.Err
	}
	report.Finished = time.Now()
	logger.Infof("[sync] %s %s done: symbols=%d failed=%d in %s",
		u.Asset, u.Timeframe.Name, len(u.Symbols), len(failures), report.Finished.Sub(report.Started).Round(time.Millisecond))
	if len(failures) > 0 {
		return report, &UnitError{Asset: u.Asset, Timeframe: u.Timeframe.Name, Failures: failures}
	}
	return report, nil
}

func (s *Synchronizer) syncSymbol(ctx context.Context, policy *retention.Policy, u Unit, symbol string) SymbolResult {
	res := SymbolResult{Symbol: symbol}
	var latestPtr *time.Time
	latest, ok, err := s.store.LatestTimestamp(ctx, u.Asset, symbol, u.Timeframe)
	if err != nil {
		res.Err = fmt.Errorf("latest timestamp: %w", err)
		logger.Errorf("[sync] %s %s %s: %v", u.Asset, symbol, u.Timeframe.Name, res.Err)
		return res
	}
	if ok {
		latestPtr = &latest
	}
	plan, err := policy.Plan(latestPtr, u.Timeframe.Name)
	if err != nil {
		res.Err = err
		return res
	}
	res.Plan = plan

	// 清理只删除窗口外的行，先于拉取执行不会在窗口内留下空洞。
	purged, err := s.store.PurgeBefore(ctx, u.Asset, symbol, u.Timeframe, plan.Cutoff)
	if err != nil {
		res.Err = fmt.Errorf("purge: %w", err)
		logger.Errorf("[sync] %s %s %s: %v", u.Asset, symbol, u.Timeframe.Name, res.Err)
		if isConfigError(err) {
			return res
		}
	}
	res.Purged = purged

	bars, err := s.fetcher.Fetch(ctx, symbol, u.Timeframe, plan.Start, plan.End)
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("fetch: %w", err))
		logger.Warnf("[sync] %s %s %s: fetch via %s failed, skipping: %v",
			u.Asset, symbol, u.Timeframe.Name, s.fetcher.Name(), err)
		return res
	}
	res.Fetched = len(bars)
	if len(bars) == 0 {
		logger.Infof("[sync] %s %s %s: no data in [%s, %s]", u.Asset, symbol, u.Timeframe.Name,
			plan.Start.Format(time.RFC3339), plan.End.Format(time.RFC3339))
		return res
	}
	merged, err := s.store.MergeBars(ctx, u.Asset, u.Timeframe, bars)
	if err != nil {
		res.Err = errors.Join(res.Err, fmt.Errorf("merge: %w", err))
		logger.Errorf("[sync] %s %s %s: merge rolled back: %v", u.Asset, symbol, u.Timeframe.Name, err)
		return res
	}
	res.Merged = merged
	logger.Infof("[sync] %s %s %s: full=%v purged=%d merged=%d/%d range=[%s, %s]",
		u.Asset, symbol, u.Timeframe.Name, plan.FullRefresh, purged, merged, u.Timeframe.ExpectedBars(plan.Start, plan.End),
		plan.Start.Format(time.RFC3339), plan.End.Format(time.RFC3339))
	return res
}

// Run 对同一资产类别按顺序同步多个周期。
func (s *Synchronizer) Run(ctx context.Context, asset market.AssetType, timeframes []market.Timeframe, symbols []string, daysBack int) ([]UnitReport, error) {
	reports := make([]UnitReport, 0, len(timeframes))
	var errs []error
	for _, tf := range timeframes {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := s.SyncUnit(ctx, Unit{Asset: asset, Timeframe: tf, Symbols: symbols, DaysBack: daysBack})
		reports = append(reports, rep)
		if err == nil {
			continue
		}
		var unitErr *UnitError
		if !errors.As(err, &unitErr) {
			return reports, err
		}
		errs = append(errs, err)
	}
	return reports, errors.Join(errs...)
}

func isConfigError(err error) bool {
	return errors.Is(err, market.ErrUnknownAssetType) || errors.Is(err, market.ErrUnknownTimeframe)
}
