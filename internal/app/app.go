package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"marketsync/internal/config"
	"marketsync/internal/logger"
	"marketsync/internal/metrics"
	"marketsync/internal/scheduler"
	"marketsync/internal/store"
	"marketsync/internal/syncer"
	adminhttp "marketsync/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：注册定时任务、启动 admin HTTP、消费任务事件。
type App struct {
	cfg      *config.Config
	store    *store.Store
	sched    *scheduler.Scheduler
	server   *adminhttp.Server
	recorder *metrics.Recorder
	jobs     []*AssetJob
	closers  []io.Closer
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 注册任务并阻塞到 ctx 取消；返回前等待正在执行的任务结束并释放资源。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()
	defer a.sched.Stop(true)

	if a.Summary != nil {
		a.Summary.Print()
	}
	for _, job := range a.jobs {
		if err := a.sched.Schedule(job.ID, job.Trigger, job.Run); err != nil {
			return fmt.Errorf("schedule %s: %w", job.ID, err)
		}
		if job.RunOnStart {
			if err := a.sched.RunNow(job.ID); err != nil {
				logger.Warnf("[app] run %s on start: %v", job.ID, err)
			}
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		group.Go(func() error {
			if err := a.server.Start(gctx); err != nil {
				return fmt.Errorf("admin http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		a.consumeEvents(gctx)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		a.sched.Stop(true)
		return nil
	})
	return group.Wait()
}

func (a *App) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.sched.Completions():
			a.recorder.ObserveJob(ev)
		case ev := <-a.sched.Failures():
			a.recorder.ObserveJob(ev)
			var unitErr *syncer.UnitError
			if errors.As(ev.Err, &unitErr) {
				logger.Warnf("[app] job %s run %s partially failed: %d symbols in %s %s",
					ev.JobID, ev.RunID, len(unitErr.Failures), unitErr.Asset, unitErr.Timeframe)
				continue
			}
			logger.Errorf("[app] job %s run %s failed: %v", ev.JobID, ev.RunID, ev.Err)
		}
	}
}

func (a *App) close() {
	closeAll(a.closers)
}

// Scheduler exposes the job scheduler (for tests and embedding).
func (a *App) Scheduler() *scheduler.Scheduler {
	if a == nil {
		return nil
	}
	return a.sched
}

func (a *App) Jobs() []*AssetJob {
	if a == nil {
		return nil
	}
	return a.jobs
}
