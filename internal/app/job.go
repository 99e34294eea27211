package app

import (
	"context"
	"errors"
	"strings"

	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/metrics"
	"marketsync/internal/regime"
	"marketsync/internal/scheduler"
	"marketsync/internal/syncer"
)

// AssetJob 是一个资产类别的定时任务：先同步全部周期的 K 线，再重算 regime。
type AssetJob struct {
	ID         string
	Asset      market.AssetType
	Timeframes []market.Timeframe
	DaysBack   int
	Trigger    scheduler.Trigger
	RunOnStart bool

	symbols  SymbolSource
	syncer   *syncer.Synchronizer
	regime   *regime.Calculator
	recorder *metrics.Recorder
}

func jobID(asset market.AssetType) string {
	return strings.ToLower(string(asset)) + "_update"
}

// Run 的返回值只汇总单元级失败；单个标的失败不会中断其余标的。
func (j *AssetJob) Run(ctx context.Context) error {
	syms := j.symbols.Symbols()
	if len(syms) == 0 {
		logger.Warnf("[%s] symbol list is empty, nothing to do", j.ID)
		return nil
	}
	reports, err := j.syncer.Run(ctx, j.Asset, j.Timeframes, syms, j.DaysBack)
	merged, failed := 0, 0
	for _, rep := range reports {
		for _, res := range rep.Results {
			merged += res.Merged
		}
		failed += len(rep.Failed())
	}
	logger.Infof("[%s] sync done: units=%d symbols=%d merged=%d failed=%d", j.ID, len(reports), len(syms), merged, failed)

	var unitErr *syncer.UnitError
	if err != nil && !errors.As(err, &unitErr) {
		return err
	}
	if j.regime != nil && ctx.Err() == nil {
		for _, res := range j.regime.UpdateAll(ctx, j.Asset, syms, j.Timeframes) {
			j.recorder.ObserveRegime(res)
		}
	}
	return err
}
