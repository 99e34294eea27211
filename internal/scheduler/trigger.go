package scheduler

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// Trigger 计算严格晚于 after 的下一次触发时间；返回零值表示不再触发。
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// IntervalTrigger fires every Period, anchored at Anchor.
type IntervalTrigger struct {
	Period time.Duration
	Anchor time.Time
}

func NewIntervalTrigger(period time.Duration, anchor time.Time) (*IntervalTrigger, error) {
	if period <= 0 {
		return nil, fmt.Errorf("interval trigger: period must be positive, got %s", period)
	}
	return &IntervalTrigger{Period: period, Anchor: anchor.UTC()}, nil
}

func (t *IntervalTrigger) Next(after time.Time) time.Time {
	return nextFixedTimeAfter(t.Anchor, t.Period, after)
}

func (t *IntervalTrigger) String() string { return "interval[" + t.Period.String() + "]" }

// CronTrigger 使用标准 5 段 cron 表达式（分 时 日 月 周）。
type CronTrigger struct {
	Expr     string
	Location *time.Location
	schedule cron.Schedule
}

func NewCronTrigger(expr string, loc *time.Location) (*CronTrigger, error) {
	expr = strings.TrimSpace(expr)
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("cron trigger %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CronTrigger{Expr: expr, Location: loc, schedule: sched}, nil
}

func (t *CronTrigger) Next(after time.Time) time.Time {
	next := t.schedule.Next(after.In(t.Location))
	if next.IsZero() {
		return next
	}
	return next.UTC()
}

func (t *CronTrigger) String() string {
	return "cron[" + t.Expr + " " + t.Location.String() + "]"
}

// AlignedTrigger 在每个 Interval 边界之后 Offset 触发，例如 K 线收盘后 30 秒。
type AlignedTrigger struct {
	Interval time.Duration
	Offset   time.Duration
}

func NewAlignedTrigger(interval, offset time.Duration) (*AlignedTrigger, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("aligned trigger: interval must be positive, got %s", interval)
	}
	if offset < 0 || offset >= interval {
		return nil, fmt.Errorf("aligned trigger: offset %s must be within [0, %s)", offset, interval)
	}
	return &AlignedTrigger{Interval: interval, Offset: offset}, nil
}

func (t *AlignedTrigger) Next(after time.Time) time.Time {
	after = after.UTC()
	at := after.Truncate(t.Interval).Add(t.Offset)
	if !at.After(after) {
		at = at.Add(t.Interval)
	}
	return at
}

func (t *AlignedTrigger) String() string {
	return "aligned[" + t.Interval.String() + "+" + t.Offset.String() + "]"
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}

// TriggerSpec 是触发器的文本描述，Interval、Cron、Align 三选一。
type TriggerSpec struct {
	Interval string `json:"interval,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Align    string `json:"align,omitempty"`
	Offset   string `json:"offset,omitempty"`
}

// BuildTrigger turns a spec into a Trigger; interval triggers are anchored at anchor.
func BuildTrigger(spec TriggerSpec, anchor time.Time) (Trigger, error) {
	interval := strings.TrimSpace(spec.Interval)
	expr := strings.TrimSpace(spec.Cron)
	align := strings.TrimSpace(spec.Align)
	set := 0
	for _, v := range []string{interval, expr, align} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("trigger spec requires exactly one of interval, cron, align")
	}
	switch {
	case interval != "":
		d, err := parseSpan(interval)
		if err != nil {
			return nil, err
		}
		t, err := NewIntervalTrigger(d, anchor)
		if err != nil {
			return nil, err
		}
		return t, nil
	case expr != "":
		loc := time.UTC
		if tz := strings.TrimSpace(spec.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("cron trigger timezone %q: %w", tz, err)
			}
			loc = l
		}
		t, err := NewCronTrigger(expr, loc)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		iv, err := parseSpan(align)
		if err != nil {
			return nil, err
		}
		var off time.Duration
		if o := strings.TrimSpace(spec.Offset); o != "" {
			if off, err = parseSpan(o); err != nil {
				return nil, err
			}
		}
		t, err := NewAlignedTrigger(iv, off)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func parseSpan(s string) (time.Duration, error) {
	if d, ok := ParseIntervalDuration(s); ok {
		return d, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
