package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/market"
)

var (
	// ErrPermanent marks failures that retrying with the same parameters cannot fix.
	ErrPermanent = errors.New("permanent feed error")
	ErrTimeout   = errors.New("feed request timed out")
)

// FetchRequest 描述一次历史 K 线拉取。
type FetchRequest struct {
	Symbol    string
	Timeframe market.Timeframe
	Start     time.Time
	End       time.Time
}

// RawBar 是上游返回、尚未归一化的 K 线；nil 表示该字段缺失。
type RawBar struct {
	Timestamp time.Time
	Open      *float64
	High      *float64
	Low       *float64
	Close     *float64
	Volume    *float64
}

// Provider 是具体上游（Binance、Alpha Vantage…）需要实现的最小契约。
// 实现不需要自带重试与限速，这些由 Adapter 统一负责。
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	// Ping reports whether an established connection is still usable.
	Ping(ctx context.Context) error
	Fetch(ctx context.Context, req FetchRequest) ([]RawBar, error)
	Disconnect() error
}

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent) ||
		errors.Is(err, market.ErrUnknownTimeframe) ||
		errors.Is(err, market.ErrUnknownAssetType)
}

// F is a small helper for building RawBar fields.
func F(v float64) *float64 { return &v }
