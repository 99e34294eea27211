package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketsync/internal/market"
	"marketsync/internal/scheduler"
	"marketsync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockData struct{ mock.Mock }

func (m *mockData) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockData) ListRegimes(ctx context.Context, f store.RegimeFilter) ([]store.RegimeRecord, error) {
	args := m.Called(ctx, f)
	recs, _ := args.Get(0).([]store.RegimeRecord)
	return recs, args.Error(1)
}

func (m *mockData) LatestBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	args := m.Called(ctx, asset, symbol, tf, limit)
	bars, _ := args.Get(0).([]market.Bar)
	return bars, args.Error(1)
}

type fixture struct {
	sched *scheduler.Scheduler
	data  *mockData
	srv   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(func() { sched.Stop(true) })
	trig, err := scheduler.NewIntervalTrigger(time.Hour, time.Now())
	require.NoError(t, err)
	require.NoError(t, sched.Schedule("crypto_update", trig, func(ctx context.Context) error { return nil }))

	data := new(mockData)
	srv, err := NewServer(ServerConfig{
		Jobs:    sched,
		Data:    data,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
	})
	require.NoError(t, err)
	return &fixture{sched: sched, data: data, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestNewServerRequiresDeps(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	f.data.On("Ping", mock.Anything).Return(nil).Once()
	rec, body := f.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	f.data.On("Ping", mock.Anything).Return(errors.New("db locked")).Once()
	rec, _ = f.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestJobLifecycle(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, "GET", "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, "crypto_update", jobs[0].(map[string]any)["id"])

	rec, body = f.do(t, "POST", "/api/jobs/crypto_update/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", body["state"])
	next, err := f.sched.NextRunTime("crypto_update")
	require.NoError(t, err)
	assert.True(t, next.IsZero())

	rec, body = f.do(t, "POST", "/api/jobs/crypto_update/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "next_run")

	rec, body = f.do(t, "PUT", "/api/jobs/crypto_update/schedule", `{"interval":"10m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "interval[10m0s]", body["trigger"])

	rec, _ = f.do(t, "PUT", "/api/jobs/crypto_update/schedule", `{"cron":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, "DELETE", "/api/jobs/crypto_update", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, "GET", "/api/jobs/crypto_update", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownJobIs404(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path, body string }{
		{"POST", "/api/jobs/nope/pause", ""},
		{"POST", "/api/jobs/nope/resume", ""},
		{"POST", "/api/jobs/nope/run", ""},
		{"DELETE", "/api/jobs/nope", ""},
		{"PUT", "/api/jobs/nope/schedule", `{"interval":"5m"}`},
	} {
		rec, _ := f.do(t, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.path)
	}
}

func TestRunNowWhileRunningConflicts(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	started := make(chan struct{})
	trig, err := scheduler.NewIntervalTrigger(time.Hour, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.sched.Schedule("slow", trig, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	defer close(release)

	rec, _ := f.do(t, "POST", "/api/jobs/slow/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	<-started
	rec, _ = f.do(t, "POST", "/api/jobs/slow/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegimesRoute(t *testing.T) {
	f := newFixture(t)
	support := 101.5
	f.data.On("ListRegimes", mock.Anything, store.RegimeFilter{Asset: market.AssetCrypto, Timeframe: "1 hour"}).
		Return([]store.RegimeRecord{{Symbol: "BTC/USDT", Asset: market.AssetCrypto, Timeframe: "1 hour", Support: &support, LiquidityStatus: "BULLISH"}}, nil)

	rec, body := f.do(t, "GET", "/api/regimes?asset=crypto&timeframe=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
	first := body["regimes"].([]any)[0].(map[string]any)
	assert.Equal(t, "BTC/USDT", first["symbol"])
	assert.Equal(t, 101.5, first["support"])
	assert.Nil(t, first["resistance"])

	rec, _ = f.do(t, "GET", "/api/regimes?asset=gold", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, "GET", "/api/regimes?timeframe=3m", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.data.AssertExpectations(t)
}

func TestBarsRoute(t *testing.T) {
	f := newFixture(t)
	tf, _ := market.ParseTimeframe("1d")
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	f.data.On("LatestBars", mock.Anything, market.AssetCrypto, "BTC/USDT", tf, 2).
		Return([]market.Bar{{Symbol: "BTC/USDT", Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}, nil)

	rec, body := f.do(t, "GET", "/api/bars/crypto/btc/usdt?timeframe=1d&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC/USDT", body["symbol"])
	assert.Equal(t, "1 day", body["timeframe"])
	bars := body["bars"].([]any)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.5, bars[0].(map[string]any)["close"])

	rec, _ = f.do(t, "GET", "/api/bars/gold/XAU", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, "GET", "/api/bars/crypto/BTC?timeframe=2h", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.data.AssertExpectations(t)
}
