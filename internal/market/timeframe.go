package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownTimeframe = errors.New("unknown timeframe")

// Timeframe 描述一个周期：目录名（入库用）、时长、以及上游 interval 写法。
type Timeframe struct {
	Name     string
	Key      string
	Duration time.Duration
}

var supportedTimeframes = []Timeframe{
	{Name: "1 min", Key: "1m", Duration: time.Minute},
	{Name: "5 mins", Key: "5m", Duration: 5 * time.Minute},
	{Name: "15 mins", Key: "15m", Duration: 15 * time.Minute},
	{Name: "30 mins", Key: "30m", Duration: 30 * time.Minute},
	{Name: "1 hour", Key: "1h", Duration: time.Hour},
	{Name: "4 hours", Key: "4h", Duration: 4 * time.Hour},
	{Name: "1 day", Key: "1d", Duration: 24 * time.Hour},
	{Name: "1 week", Key: "1w", Duration: 7 * 24 * time.Hour},
}

// ParseTimeframe accepts either the catalog name ("1 hour") or the short key ("1h").
func ParseTimeframe(input string) (Timeframe, error) {
	needle := strings.ToLower(strings.Join(strings.Fields(input), " "))
	for _, tf := range supportedTimeframes {
		if needle == tf.Name || needle == tf.Key {
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("%w: %q", ErrUnknownTimeframe, input)
}

// Timeframes 返回全部支持的周期（按时长升序）。
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(supportedTimeframes))
	copy(out, supportedTimeframes)
	return out
}

func (tf Timeframe) String() string { return tf.Name }

// AlignDown 将时间对齐到周期网格。
func (tf Timeframe) AlignDown(t time.Time) time.Time {
	t = t.UTC()
	if tf.Duration <= 0 {
		return t
	}
	ms := t.UnixMilli()
	step := tf.Duration.Milliseconds()
	rem := ms % step
	if rem < 0 {
		rem += step
	}
	return time.UnixMilli(ms - rem).UTC()
}

// ExpectedBars 计算 [start, end] 区间（含端点）应存在的 K 线数量。
func (tf Timeframe) ExpectedBars(start, end time.Time) int64 {
	if end.Before(start) || tf.Duration <= 0 {
		return 0
	}
	s := tf.AlignDown(start)
	e := tf.AlignDown(end)
	return int64(e.Sub(s)/tf.Duration) + 1
}
