package regime

// Liquidity 描述最新收盘价相对长短均线的位置。
type Liquidity string

const (
	StrongBullish Liquidity = "STRONG_BULLISH"
	Bullish       Liquidity = "BULLISH"
	StrongBearish Liquidity = "STRONG_BEARISH"
	Bearish       Liquidity = "BEARISH"
	Neutral       Liquidity = "NEUTRAL"
	Unknown       Liquidity = "UNKNOWN"
)

const (
	DefaultShortWindow = 20
	DefaultLongWindow  = 200
)

// Signal is the pure output of Compute over a close series.
type Signal struct {
	Support    *float64
	Resistance *float64
	Status     Liquidity
	// Index of the crossover bar each level came from, -1 when absent.
	SupportIdx    int
	ResistanceIdx int
	ShortMA       float64
	LongMA        float64
	LastPrice     float64
	ChangePercent float64
}

// Compute 计算长短均线并自最新一根向前扫描：第一个下穿记为阻力位，
// 第一个上穿记为支撑位，两者都找到即停止。
func Compute(closes []float64, shortWindow, longWindow int) Signal {
	sig := Signal{Status: Unknown, SupportIdx: -1, ResistanceIdx: -1}
	n := len(closes)
	if n == 0 {
		return sig
	}
	short := MovingAverage(closes, shortWindow)
	long := MovingAverage(closes, longWindow)

	for i := n - 1; i >= 1; i-- {
		if sig.Resistance == nil && short[i] < long[i] && short[i-1] >= long[i-1] {
			v := max(short[i], long[i])
			sig.Resistance = &v
			sig.ResistanceIdx = i
		}
		if sig.Support == nil && short[i] > long[i] && short[i-1] <= long[i-1] {
			v := min(short[i], long[i])
			sig.Support = &v
			sig.SupportIdx = i
		}
		if sig.Support != nil && sig.Resistance != nil {
			break
		}
	}

	last := closes[n-1]
	sig.LastPrice = last
	sig.ShortMA = short[n-1]
	sig.LongMA = long[n-1]
	sig.Status = classify(last, sig.ShortMA, sig.LongMA)
	if n >= 2 && closes[n-2] != 0 {
		sig.ChangePercent = (last - closes[n-2]) / closes[n-2] * 100
	}
	return sig
}

func classify(close, short, long float64) Liquidity {
	switch {
	case close > long && short > long:
		return StrongBullish
	case close > long:
		return Bullish
	case close < long && short < long:
		return StrongBearish
	case close < long:
		return Bearish
	default:
		return Neutral
	}
}
