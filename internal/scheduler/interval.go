package scheduler

import (
	"strconv"
	"strings"
	"time"

	"marketsync/internal/market"
)

var spanUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseIntervalDuration 解析调度间隔：单位写法 "30s"、"5m"、"4h"、"1d"、"2w"，
// 或周期目录名 "1 hour"、"15 mins"。无法识别返回 (0, false)。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	if tf, err := market.ParseTimeframe(interval); err == nil {
		return tf.Duration, true
	}
	unit, ok := spanUnits[interval[len(interval)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(interval[:len(interval)-1]))
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
