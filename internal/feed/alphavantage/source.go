package alphavantage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"marketsync/internal/feed"
	"marketsync/internal/logger"
	symbolpkg "marketsync/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const defaultBaseURL = "https://www.alphavantage.co"

// Kind selects the API family: equities (TIME_SERIES_*) or currencies (FX_*).
type Kind string

const (
	KindEquity Kind = "equity"
	KindFX     Kind = "fx"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Kind        Kind
	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if out.Kind == "" {
		out.Kind = KindEquity
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 30 * time.Second
	}
	return out
}

// Source 通过 Alpha Vantage REST 拉取股票 / 外汇历史 K 线。
type Source struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	if strings.TrimSpace(final.APIKey) == "" {
		return nil, fmt.Errorf("alphavantage: api key is required")
	}
	if final.Kind != KindEquity && final.Kind != KindFX {
		return nil, fmt.Errorf("alphavantage: unknown kind %q", final.Kind)
	}
	return &Source{cfg: final, client: &http.Client{Timeout: final.HTTPTimeout}}, nil
}

func (s *Source) Name() string { return "alphavantage-" + string(s.cfg.Kind) }

func (s *Source) Connect(ctx context.Context) error { return nil }

// Ping is a no-op: every call counts against the daily quota.
func (s *Source) Ping(ctx context.Context) error { return nil }

func (s *Source) Disconnect() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Source) Fetch(ctx context.Context, req feed.FetchRequest) ([]feed.RawBar, error) {
	params, err := s.queryFor(req)
	if err != nil {
		return nil, err
	}
	params.Set("apikey", s.cfg.APIKey)
	endpoint := s.cfg.BaseURL + "/query?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, feed.Permanent(err)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("alphavantage: status %d: %s", resp.StatusCode, truncate(body, 200))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, feed.Permanent(err)
		}
		return nil, err
	}
	bars, err := parseSeries(body)
	if err != nil {
		return nil, err
	}
	logger.Debugf("[feed] alphavantage %s %s parsed %d rows", req.Symbol, req.Timeframe.Name, len(bars))
	return bars, nil
}

var intradayIntervals = map[string]string{
	"1m":  "1min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "60min",
}

func (s *Source) queryFor(req feed.FetchRequest) (url.Values, error) {
	q := url.Values{}
	q.Set("outputsize", "full")
	key := req.Timeframe.Key
	intraday, isIntraday := intradayIntervals[key]
	if !isIntraday && key != "1d" && key != "1w" {
		return nil, feed.Permanent(fmt.Errorf("alphavantage: timeframe %q not supported", req.Timeframe.Name))
	}

	if s.cfg.Kind == KindFX {
		from, to, ok := symbolpkg.FXPair(req.Symbol)
		if !ok {
			return nil, feed.Permanent(fmt.Errorf("alphavantage: %q is not a currency pair", req.Symbol))
		}
		q.Set("from_symbol", from)
		q.Set("to_symbol", to)
		switch {
		case isIntraday:
			q.Set("function", "FX_INTRADAY")
			q.Set("interval", intraday)
		case key == "1d":
			q.Set("function", "FX_DAILY")
		default:
			q.Set("function", "FX_WEEKLY")
		}
		return q, nil
	}

	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if sym == "" {
		return nil, feed.Permanent(fmt.Errorf("alphavantage: symbol is required"))
	}
	q.Set("symbol", sym)
	switch {
	case isIntraday:
		q.Set("function", "TIME_SERIES_INTRADAY")
		q.Set("interval", intraday)
	case key == "1d":
		q.Set("function", "TIME_SERIES_DAILY")
	default:
		q.Set("function", "TIME_SERIES_WEEKLY")
	}
	return q, nil
}

// parseSeries 定位 "Time Series ..." 对象（键名随接口变化），逐行解析 OHLCV。
func parseSeries(body []byte) ([]feed.RawBar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("alphavantage: invalid json: %s", truncate(body, 200))
	}
	doc := gjson.ParseBytes(body)
	if msg := doc.Get("Error Message"); msg.Exists() {
		return nil, feed.Permanent(fmt.Errorf("alphavantage: %s", msg.String()))
	}
	for _, key := range []string{"Note", "Information"} {
		if msg := doc.Get(key); msg.Exists() {
			return nil, fmt.Errorf("alphavantage throttled: %s", msg.String())
		}
	}

	loc := time.UTC
	var series gjson.Result
	doc.ForEach(func(k, v gjson.Result) bool {
		name := k.String()
		switch {
		case strings.HasPrefix(name, "Time Series"):
			series = v
		case name == "Meta Data":
			v.ForEach(func(mk, mv gjson.Result) bool {
				if strings.Contains(mk.String(), "Time Zone") {
					if l, err := time.LoadLocation(strings.TrimSpace(mv.String())); err == nil {
						loc = l
					}
					return false
				}
				return true
			})
		}
		return true
	})
	if !series.Exists() {
		return []feed.RawBar{}, nil
	}

	var out []feed.RawBar
	var parseErr error
	series.ForEach(func(k, v gjson.Result) bool {
		ts, err := parseTimestamp(k.String(), loc)
		if err != nil {
			parseErr = err
			return false
		}
		out = append(out, feed.RawBar{
			Timestamp: ts,
			Open:      field(v, "open"),
			High:      field(v, "high"),
			Low:       field(v, "low"),
			Close:     field(v, "close"),
			Volume:    field(v, "volume"),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("alphavantage: bad timestamp %q", raw)
}

// field matches keys like "1. open" / "4. close" regardless of their numbering.
func field(row gjson.Result, name string) *float64 {
	var out *float64
	row.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if idx := strings.Index(key, ". "); idx >= 0 {
			key = key[idx+2:]
		}
		if key != name {
			return true
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
		if err == nil {
			f := d.InexactFloat64()
			out = &f
		}
		return false
	})
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
