package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/feed"
	"marketsync/internal/logger"
	"marketsync/internal/market"
	"marketsync/internal/metrics"
	"marketsync/internal/pkg/circuit"
	"marketsync/internal/regime"
	"marketsync/internal/retention"
	"marketsync/internal/scheduler"
	"marketsync/internal/store"
	"marketsync/internal/syncer"
	adminhttp "marketsync/internal/transport/http/admin"

	"golang.org/x/time/rate"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (*store.Store, error)
	providerFn func(source string, asset market.AssetType, cfg config.SourceConfig) (feed.Provider, error)
	symbolsFn  func(asset config.AssetConfig) (SymbolSource, io.Closer, error)
	adminFn    func(config.AppConfig, adminhttp.JobControl, adminhttp.DataReader, http.Handler) (*adminhttp.Server, error)
	nowFn      func() time.Time
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    openStore,
		providerFn: buildProvider,
		symbolsFn:  buildSymbolSource,
		adminFn:    buildAdminServer,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 打开存储、登记目录、为每个启用的资产类别装配 Adapter/Synchronizer/任务。
// 任务在 Run 时才注册到调度器。
func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)

	var closers []io.Closer
	defer func() {
		if err != nil {
			closeAll(closers)
		}
	}()

	windows, err := cfg.RetentionWindows()
	if err != nil {
		return nil, err
	}
	policy, err := retention.New(windows)
	if err != nil {
		return nil, err
	}

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, st)
	if err := st.SeedCatalog(ctx, market.AssetTypes(), market.Timeframes()); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	logger.Infof("✓ 存储已就绪: %s", cfg.Store.Path)

	recorder := metrics.New()
	sched := scheduler.New()

	var calc *regime.Calculator
	if cfg.Regime.Enabled {
		calc = regime.NewCalculator(st, regime.Config{
			ShortWindow: cfg.Regime.ShortWindow,
			LongWindow:  cfg.Regime.LongWindow,
			Lookback:    time.Duration(cfg.Regime.LookbackDays) * 24 * time.Hour,
		})
	}

	// 同一上游的配额按 API key 计，多个资产共享一个限速器和熔断器。
	limiters := map[string]*rate.Limiter{
		config.SourceBinance:      newLimiter(cfg.Sources.Binance),
		config.SourceAlphaVantage: newLimiter(cfg.Sources.AlphaVantage),
	}
	breakers := map[string]*circuit.Breaker{
		config.SourceBinance:      newBreaker(config.SourceBinance, cfg.Sources.Binance.Breaker),
		config.SourceAlphaVantage: newBreaker(config.SourceAlphaVantage, cfg.Sources.AlphaVantage.Breaker),
	}
	for _, br := range breakers {
		br.OnStateChange(recorder.ObserveBreaker)
	}

	summary := &StartupSummary{StorePath: cfg.Store.Path, HTTPAddr: cfg.App.HTTPAddr}
	var jobs []*AssetJob
	for _, name := range cfg.EnabledAssets() {
		assetCfg := cfg.Assets[name]
		asset, err := market.ParseAssetType(name)
		if err != nil {
			return nil, err
		}
		tfs, err := assetCfg.TimeframeList()
		if err != nil {
			return nil, fmt.Errorf("assets.%s: %w", name, err)
		}
		srcCfg := sourceConfig(cfg.Sources, assetCfg.Source)
		provider, err := b.providerFn(assetCfg.Source, asset, srcCfg)
		if err != nil {
			return nil, fmt.Errorf("assets.%s: build %s provider: %w", name, assetCfg.Source, err)
		}
		adapter := feed.NewAdapter(provider, feed.Options{
			Timeout:     time.Duration(srcCfg.TimeoutSeconds) * time.Second,
			MaxAttempts: srcCfg.MaxAttempts,
			Backoff:     time.Duration(srcCfg.BackoffSeconds) * time.Second,
			IdleCheck:   time.Duration(srcCfg.IdleCheckSeconds) * time.Second,
			Limiter:     limiters[assetCfg.Source],
			Breaker:     breakers[assetCfg.Source],
			Observer:    recorder,
		})
		closers = append(closers, adapter)

		syms, closer, err := b.symbolsFn(assetCfg)
		if err != nil {
			return nil, fmt.Errorf("assets.%s: %w", name, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}

		trigger, err := scheduler.BuildTrigger(triggerSpec(assetCfg.Schedule), b.nowFn())
		if err != nil {
			return nil, fmt.Errorf("assets.%s.schedule: %w", name, err)
		}
		synchronizer := syncer.New(st, adapter, policy)
		synchronizer.SetObserver(recorder)

		job := &AssetJob{
			ID:         jobID(asset),
			Asset:      asset,
			Timeframes: tfs,
			DaysBack:   assetCfg.DaysBack,
			Trigger:    trigger,
			RunOnStart: assetCfg.Schedule.RunOnStart,
			symbols:    syms,
			syncer:     synchronizer,
			regime:     calc,
			recorder:   recorder,
		}
		jobs = append(jobs, job)
		summary.Assets = append(summary.Assets, AssetSummary{
			Name:       job.ID,
			Source:     adapter.Name(),
			Symbols:    syms.Symbols(),
			Timeframes: timeframeNames(tfs),
			Trigger:    trigger.String(),
			DaysBack:   assetCfg.DaysBack,
		})
	}
	if len(jobs) == 0 {
		logger.Warnf("没有启用的资产类别，只提供查询接口")
	}

	server, err := b.adminFn(cfg.App, sched, st, recorder.Handler())
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		store:    st,
		sched:    sched,
		server:   server,
		recorder: recorder,
		jobs:     jobs,
		closers:  closers,
		Summary:  summary,
	}, nil
}

func openStore(cfg config.StoreConfig) (*store.Store, error) {
	return store.Open(cfg.Path, store.Options{MaxOpenConns: cfg.MaxOpenConns})
}

func buildAdminServer(cfg config.AppConfig, jobs adminhttp.JobControl, data adminhttp.DataReader, metricsHandler http.Handler) (*adminhttp.Server, error) {
	server, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:    cfg.HTTPAddr,
		Jobs:    jobs,
		Data:    data,
		Metrics: metricsHandler,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 admin HTTP 失败: %w", err)
	}
	return server, nil
}

func newLimiter(cfg config.SourceConfig) *rate.Limiter {
	if cfg.RatePerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), burst)
}

func newBreaker(name string, cfg config.BreakerConfig) *circuit.Breaker {
	return circuit.New(name, cfg.Threshold, time.Duration(cfg.CooldownSeconds)*time.Second)
}

func sourceConfig(sources config.SourcesConfig, name string) config.SourceConfig {
	if name == config.SourceAlphaVantage {
		return sources.AlphaVantage
	}
	return sources.Binance
}

func triggerSpec(s config.ScheduleConfig) scheduler.TriggerSpec {
	return scheduler.TriggerSpec{
		Interval: s.Interval,
		Cron:     s.Cron,
		Timezone: s.Timezone,
		Align:    s.Align,
		Offset:   s.Offset,
	}
}

func timeframeNames(tfs []market.Timeframe) []string {
	out := make([]string, len(tfs))
	for i, tf := range tfs {
		out[i] = tf.Name
	}
	return out
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}
}

func WithStore(fn func(config.StoreConfig) (*store.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithProviders(fn func(string, market.AssetType, config.SourceConfig) (feed.Provider, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.providerFn = fn
		}
	}
}

func WithSymbolSources(fn func(config.AssetConfig) (SymbolSource, io.Closer, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.symbolsFn = fn
		}
	}
}

func WithAdminHTTP(fn func(config.AppConfig, adminhttp.JobControl, adminhttp.DataReader, http.Handler) (*adminhttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.adminFn = fn
		}
	}
}

func WithClock(nowFn func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if nowFn != nil {
			b.nowFn = nowFn
		}
	}
}
