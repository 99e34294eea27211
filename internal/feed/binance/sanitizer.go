package binance

import (
	"time"

	"marketsync/internal/feed"
)

const defaultKlineGrace = 10 * time.Second

// dropUnclosedKline drops the last element if it is still in-progress:
// Binance returns the current, not-yet-closed candle at the tail.
func dropUnclosedKline(bars []feed.RawBar, interval time.Duration, now time.Time, grace time.Duration) []feed.RawBar {
	if len(bars) == 0 || interval <= 0 {
		return bars
	}
	if grace < 0 {
		grace = 0
	}
	last := bars[len(bars)-1]
	if last.Timestamp.IsZero() {
		return bars
	}
	cutoff := last.Timestamp.Add(interval).Add(grace)
	if now.Before(cutoff) {
		return bars[:len(bars)-1]
	}
	return bars
}
