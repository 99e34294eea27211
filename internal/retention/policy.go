package retention

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"marketsync/internal/market"
)

var ErrUnknownTimeframe = market.ErrUnknownTimeframe

const day = 24 * time.Hour

// DefaultWindows 各周期最大回看时长。
var DefaultWindows = map[string]time.Duration{
	"1 min":   7 * day,
	"5 mins":  30 * day,
	"15 mins": 30 * day,
	"30 mins": 30 * day,
	"1 hour":  60 * day,
	"4 hours": 250 * day,
	"1 day":   4 * 365 * day,
	"1 week":  4 * 365 * day,
}

// Plan is the outcome of one evaluation: what to fetch and what to purge.
type Plan struct {
	FullRefresh bool
	Start       time.Time
	End         time.Time
	Cutoff      time.Time
}

// Policy 按周期决定全量刷新还是增量拉取，并给出清理截止时间。
type Policy struct {
	windows  map[string]time.Duration
	daysBack int
	nowFn    func() time.Time
}

// New builds a policy; windows are keyed by timeframe name and must be positive.
func New(windows map[string]time.Duration) (*Policy, error) {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	out := make(map[string]time.Duration, len(windows))
	for name, d := range windows {
		key := normalize(name)
		if d <= 0 {
			return nil, fmt.Errorf("retention window for %q must be positive, got %s", name, d)
		}
		out[key] = d
	}
	return &Policy{windows: out, nowFn: time.Now}, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// WithDaysBack returns a copy that ignores the table: fetch start and purge
// cutoff both become now minus n days. n <= 0 returns the policy unchanged.
func (p *Policy) WithDaysBack(n int) *Policy {
	if n <= 0 {
		return p
	}
	cp := *p
	cp.daysBack = n
	return &cp
}

// WithClock returns a copy evaluated against nowFn.
func (p *Policy) WithClock(nowFn func() time.Time) *Policy {
	cp := *p
	cp.nowFn = nowFn
	return &cp
}

// Window 返回周期对应的保留时长；override 生效时返回 override。
func (p *Policy) Window(tf string) (time.Duration, error) {
	if p.daysBack > 0 {
		return time.Duration(p.daysBack) * day, nil
	}
	d, ok := p.windows[normalize(tf)]
	if !ok {
		return 0, fmt.Errorf("%w: no retention window for %q", ErrUnknownTimeframe, tf)
	}
	return d, nil
}

// Timeframes lists configured timeframe names in window order.
func (p *Policy) Timeframes() []string {
	out := make([]string, 0, len(p.windows))
	for k := range p.windows {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if p.windows[out[i]] == p.windows[out[j]] {
			return out[i] < out[j]
		}
		return p.windows[out[i]] < p.windows[out[j]]
	})
	return out
}

func (p *Policy) now() time.Time {
	return p.nowFn().UTC()
}

// ShouldFullRefresh: 无数据或最新数据早于 now-window 时需要全量刷新。
func (p *Policy) ShouldFullRefresh(latest *time.Time, tf string) (bool, error) {
	plan, err := p.Plan(latest, tf)
	if err != nil {
		return false, err
	}
	return plan.FullRefresh, nil
}

// UpdateRange 返回本次应拉取的 [start, end]。
func (p *Policy) UpdateRange(latest *time.Time, tf string) (time.Time, time.Time, error) {
	plan, err := p.Plan(latest, tf)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return plan.Start, plan.End, nil
}

// PurgeCutoff 返回清理截止时间，严格早于它的行应被删除。
func (p *Policy) PurgeCutoff(tf string) (time.Time, error) {
	plan, err := p.Plan(nil, tf)
	if err != nil {
		return time.Time{}, err
	}
	return plan.Cutoff, nil
}

// Plan evaluates range and cutoff against a single "now".
func (p *Policy) Plan(latest *time.Time, tf string) (Plan, error) {
	window, err := p.Window(tf)
	if err != nil {
		return Plan{}, err
	}
	now := p.now()
	cutoff := now.Add(-window)
	plan := Plan{End: now, Cutoff: cutoff}
	switch {
	case p.daysBack > 0, latest == nil, latest.UTC().Before(cutoff):
		plan.FullRefresh = true
		plan.Start = cutoff
	default:
		plan.Start = latest.UTC()
	}
	return plan, nil
}
