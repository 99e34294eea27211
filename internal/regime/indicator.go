package regime

import "github.com/markcheno/go-talib"

// MovingAverage 返回 window 期简单均线；前 window-1 个点用已有数据的均值（expanding），
// 不会出现 NaN 或 0 占位。
func MovingAverage(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || window <= 0 {
		return out
	}
	warm := window - 1
	if warm > len(values) {
		warm = len(values)
	}
	sum := 0.0
	for i := 0; i < warm; i++ {
		sum += values[i]
		out[i] = sum / float64(i+1)
	}
	// talib.Sma indexes past the end when len < window.
	if len(values) >= window {
		full := talib.Sma(values, window)
		copy(out[warm:], full[warm:])
	}
	return out
}
