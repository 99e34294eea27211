package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketsync/internal/logger"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is already running")
	ErrStopped     = errors.New("scheduler stopped")
)

const defaultEventBuffer = 64

// JobFunc 是一次任务执行；返回错误或 panic 都记为失败事件。
type JobFunc func(ctx context.Context) error

type JobState int

const (
	JobIdle JobState = iota
	JobRunning
	JobPaused
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobRunning:
		return "running"
	case JobPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Event 描述一次执行的结果。Err 为空即成功。
type Event struct {
	JobID    string
	RunID    string
	Started  time.Time
	Finished time.Time
	Err      error
}

// JobInfo is a read-only snapshot for the control surface.
type JobInfo struct {
	ID       string    `json:"id"`
	Trigger  string    `json:"trigger"`
	State    string    `json:"state"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
	Skipped  int       `json:"skipped"`
}

type job struct {
	id      string
	trigger Trigger
	fn      JobFunc
	paused  bool
	next    time.Time

	wake   chan struct{}
	cancel context.CancelFunc

	lastRun  time.Time
	lastErr  string
	runs     int
	failures int
	skipped  int
}

// Scheduler 每个任务一条定时循环；同一任务最多一个执行实例，
// 执行中到点的触发直接丢弃。不同任务之间互不阻塞。
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	stopped  bool
	// inflight 按 jobID 记录正在执行的实例，Remove 后重新注册同名任务也受其约束。
	inflight map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
	loops  sync.WaitGroup

	completions chan Event
	failures    chan Event
	nowFn       func() time.Time
}

type Option func(*Scheduler)

// WithClock overrides the time source used to compute next fire times.
func WithClock(nowFn func() time.Time) Option {
	return func(s *Scheduler) { s.nowFn = nowFn }
}

// WithEventBuffer sets the capacity of the completion and failure channels.
func WithEventBuffer(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.completions = make(chan Event, n)
			s.failures = make(chan Event, n)
		}
	}
}

func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		jobs:        make(map[string]*job),
		inflight:    make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		completions: make(chan Event, defaultEventBuffer),
		failures:    make(chan Event, defaultEventBuffer),
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Completions delivers one event per successful run.
func (s *Scheduler) Completions() <-chan Event { return s.completions }

// Failures delivers one event per failed or panicked run.
func (s *Scheduler) Failures() <-chan Event { return s.failures }

func (s *Scheduler) now() time.Time { return s.nowFn().UTC() }

// Schedule 注册或替换 jobID 的触发器。fn 为 nil 时沿用原任务函数。
func (s *Scheduler) Schedule(jobID string, trigger Trigger, fn JobFunc) error {
	if jobID == "" {
		return fmt.Errorf("schedule: job id is required")
	}
	if trigger == nil {
		return fmt.Errorf("schedule %s: trigger is required", jobID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if j, ok := s.jobs[jobID]; ok {
		j.trigger = trigger
		if fn != nil {
			j.fn = fn
		}
		j.next = trigger.Next(s.now())
		s.poke(j)
		logger.Infof("[scheduler] job %s rescheduled %s next=%s", jobID, trigger, fmtTime(j.next))
		return nil
	}
	if fn == nil {
		return fmt.Errorf("schedule %s: job func is required", jobID)
	}
	loopCtx, cancel := context.WithCancel(s.ctx)
	j := &job{
		id:      jobID,
		trigger: trigger,
		fn:      fn,
		next:    trigger.Next(s.now()),
		wake:    make(chan struct{}, 1),
		cancel:  cancel,
	}
	s.jobs[jobID] = j
	s.loops.Add(1)
	go s.loop(loopCtx, j)
	logger.Infof("[scheduler] job %s scheduled %s next=%s", jobID, trigger, fmtTime(j.next))
	return nil
}

func (s *Scheduler) Pause(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	j.paused = true
	s.poke(j)
	logger.Infof("[scheduler] job %s paused", jobID)
	return nil
}

func (s *Scheduler) Resume(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if !j.paused {
		return nil
	}
	j.paused = false
	j.next = j.trigger.Next(s.now())
	s.poke(j)
	logger.Infof("[scheduler] job %s resumed next=%s", jobID, fmtTime(j.next))
	return nil
}

// Remove 删除任务；正在进行的执行会自然结束。
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	delete(s.jobs, jobID)
	j.cancel()
	logger.Infof("[scheduler] job %s removed", jobID)
	return nil
}

// NextRunTime 返回下一次触发时间；暂停中的任务返回零值。
func (s *Scheduler) NextRunTime(jobID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if j.paused {
		return time.Time{}, nil
	}
	return j.next, nil
}

// RunNow fires jobID immediately under the same no-overlap rule.
func (s *Scheduler) RunNow(jobID string) error {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return s.fire(j, "manual")
}

func (s *Scheduler) State(jobID string) (JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return JobIdle, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return s.stateOf(j), nil
}

// stateOf 需持有 s.mu。
func (s *Scheduler) stateOf(j *job) JobState {
	_, running := s.inflight[j.id]
	switch {
	case running:
		return JobRunning
	case j.paused:
		return JobPaused
	default:
		return JobIdle
	}
}

func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{
			ID:       j.id,
			Trigger:  j.trigger.String(),
			State:    s.stateOf(j).String(),
			LastRun:  j.lastRun,
			LastErr:  j.lastErr,
			Runs:     j.runs,
			Failures: j.failures,
			Skipped:  j.skipped,
		}
		if !j.paused {
			info.NextRun = j.next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Stop 取消之后的所有触发；wait=true 时阻塞到正在执行的任务返回。可重复调用。
func (s *Scheduler) Stop(wait bool) {
	s.mu.Lock()
	first := !s.stopped
	s.stopped = true
	s.mu.Unlock()
	if first {
		s.cancel()
		logger.Infof("[scheduler] stopping (wait=%v)", wait)
	}
	s.loops.Wait()
	if wait {
		s.runs.Wait()
	}
}

func (s *Scheduler) poke(j *job) {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.loops.Done()
	for {
		s.mu.Lock()
		next, paused := j.next, j.paused
		s.mu.Unlock()

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if !paused && !next.IsZero() {
			wait := next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-j.wake:
			stopTimer(timer)
			continue
		case <-timerC:
		}

		if err := s.fire(j, "trigger"); err != nil && !errors.Is(err, ErrJobRunning) {
			return
		}
		s.mu.Lock()
		from := s.now()
		if next.After(from) {
			from = next
		}
		if j.next.Equal(next) {
			j.next = j.trigger.Next(from)
		}
		s.mu.Unlock()
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// fire 保证同一 jobID 只有一个执行实例。
func (s *Scheduler) fire(j *job, reason string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, busy := s.inflight[j.id]; busy {
		j.skipped++
		s.mu.Unlock()
		logger.Warnf("[scheduler] job %s still running, %s firing dropped", j.id, reason)
		return ErrJobRunning
	}
	s.inflight[j.id] = struct{}{}
	fn := j.fn
	s.runs.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.runs.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, j.id)
			s.mu.Unlock()
		}()
		s.execute(j, fn)
	}()
	return nil
}

func (s *Scheduler) execute(j *job, fn JobFunc) {
	ev := Event{JobID: j.id, RunID: uuid.NewString(), Started: s.now()}
	logger.Infof("[scheduler] job %s run %s started", j.id, ev.RunID)
	ev.Err = safeRun(s.ctx, fn)
	ev.Finished = s.now()

	s.mu.Lock()
	j.lastRun = ev.Started
	j.runs++
	if ev.Err != nil {
		j.failures++
		j.lastErr = ev.Err.Error()
	} else {
		j.lastErr = ""
	}
	s.mu.Unlock()

	if ev.Err != nil {
		logger.Errorf("[scheduler] job %s run %s failed after %s: %v", j.id, ev.RunID, ev.Finished.Sub(ev.Started), ev.Err)
		s.emit(s.failures, ev, "failure")
		return
	}
	logger.Infof("[scheduler] job %s run %s completed in %s", j.id, ev.RunID, ev.Finished.Sub(ev.Started))
	s.emit(s.completions, ev, "completion")
}

func safeRun(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) emit(ch chan Event, ev Event, kind string) {
	select {
	case ch <- ev:
	default:
		logger.Warnf("[scheduler] %s channel full, dropping event for job %s run %s", kind, ev.JobID, ev.RunID)
	}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
