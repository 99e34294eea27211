package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketsync/internal/feed"
	"marketsync/internal/logger"
	symbolpkg "marketsync/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

const maxPageLimit = 1000

// Source 基于 go-binance 现货 SDK 实现 feed.Provider。
type Source struct {
	cfg    Config
	client *gobinance.Client
	nowFn  func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	return &Source{cfg: final, client: newClient(final, httpClient), nowFn: time.Now}, nil
}

func newClient(cfg Config, httpClient *http.Client) *gobinance.Client {
	client := gobinance.NewClient("", "")
	client.BaseURL = cfg.RESTBaseURL
	client.HTTPClient = httpClient
	return client
}

func (s *Source) Name() string { return "binance" }

// Connect 公共行情接口无需会话，这里只做一次连通性检查。
func (s *Source) Connect(ctx context.Context) error {
	return s.Ping(ctx)
}

func (s *Source) Ping(ctx context.Context) error {
	return s.client.NewPingService().Do(ctx)
}

func (s *Source) Disconnect() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}

// Fetch 分页拉取 [Start, End] 的 K 线，丢弃尚未收盘的最后一根。
func (s *Source) Fetch(ctx context.Context, req feed.FetchRequest) ([]feed.RawBar, error) {
	sym := symbolpkg.ForBinance(req.Symbol)
	if sym == "" {
		return nil, feed.Permanent(fmt.Errorf("symbol is required"))
	}
	interval := strings.TrimSpace(req.Timeframe.Key)
	if interval == "" || req.Timeframe.Duration <= 0 {
		return nil, feed.Permanent(fmt.Errorf("timeframe %q has no binance interval", req.Timeframe.Name))
	}
	step := req.Timeframe.Duration.Milliseconds()
	startMs := req.Start.UnixMilli()
	endMs := req.End.UnixMilli()

	var out []feed.RawBar
	for startMs <= endMs {
		kls, err := s.client.NewKlinesService().
			Symbol(sym).
			Interval(interval).
			StartTime(startMs).
			EndTime(endMs).
			Limit(s.cfg.PageLimit).
			Do(ctx)
		if err != nil {
			return nil, classify(err)
		}
		if len(kls) == 0 {
			break
		}
		lastOpen := startMs
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, feed.RawBar{
				Timestamp: time.UnixMilli(kl.OpenTime).UTC(),
				Open:      parseDecimal(kl.Open),
				High:      parseDecimal(kl.High),
				Low:       parseDecimal(kl.Low),
				Close:     parseDecimal(kl.Close),
				Volume:    parseDecimal(kl.Volume),
			})
			lastOpen = kl.OpenTime
		}
		if len(kls) < s.cfg.PageLimit {
			break
		}
		startMs = lastOpen + step
	}
	out = dropUnclosedKline(out, req.Timeframe.Duration, s.nowFn().UTC(), defaultKlineGrace)
	logger.Debugf("[feed] binance %s %s fetched %d klines", sym, interval, len(out))
	return out, nil
}

// classify marks request-shape errors (-11xx, e.g. invalid symbol or interval) as permanent.
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code <= -1100 && apiErr.Code > -1200 {
		return feed.Permanent(err)
	}
	return err
}

func parseDecimal(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	v := d.InexactFloat64()
	return &v
}
