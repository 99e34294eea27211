package metrics

import (
	"net/http"
	"time"

	"marketsync/internal/feed"
	"marketsync/internal/market"
	"marketsync/internal/pkg/circuit"
	"marketsync/internal/regime"
	"marketsync/internal/scheduler"
	"marketsync/internal/syncer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 把各组件的观测回调落到 Prometheus 指标上。
// nil *Recorder 上的所有方法都是空操作。
type Recorder struct {
	reg *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchAttempts *prometheus.HistogramVec
	fetchLatency  *prometheus.HistogramVec
	feedState     *prometheus.GaugeVec
	breakerState  *prometheus.GaugeVec
	breakerTrips  *prometheus.CounterVec

	symbolSyncs *prometheus.CounterVec
	barsMerged  *prometheus.CounterVec
	barsPurged  *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	regimeUpdates *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
}

// New registers every collector on a private registry so tests can build many recorders.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		fetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_fetch_total",
			Help: "Provider fetches by outcome",
		}, []string{"provider", "result"}),
		fetchAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_fetch_attempts",
			Help:    "Attempts used per fetch",
			Buckets: []float64{1, 2, 3, 5, 8},
		}, []string{"provider"}),
		fetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_fetch_duration_seconds",
			Help:    "Wall time per fetch including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		feedState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_feed_state",
			Help: "Adapter connection state (0 disconnected, 1 connecting, 2 connected, 3 degraded)",
		}, []string{"provider"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_breaker_state",
			Help: "Source circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"source"}),
		breakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_breaker_transitions_total",
			Help: "Circuit breaker state changes by target state",
		}, []string{"source", "to"}),
		symbolSyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_symbol_sync_total",
			Help: "Per-symbol synchronisations by outcome",
		}, []string{"asset", "timeframe", "result"}),
		barsMerged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_bars_merged_total",
			Help: "Bars written by merge",
		}, []string{"asset", "timeframe"}),
		barsPurged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_bars_purged_total",
			Help: "Bars deleted by retention purge",
		}, []string{"asset", "timeframe"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_job_runs_total",
			Help: "Scheduled job executions by outcome",
		}, []string{"job", "result"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketsync_job_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"job"}),
		regimeUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketsync_regime_updates_total",
			Help: "Regime recomputations by liquidity status",
		}, []string{"asset", "timeframe", "status"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketsync_last_price",
			Help: "Last close seen by the regime calculator",
		}, []string{"asset", "symbol", "timeframe"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the private registry; a nil recorder serves an empty one.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveFetch(provider string, attempts int, bars int, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.fetchTotal.WithLabelValues(provider, outcome(err)).Inc()
	r.fetchAttempts.WithLabelValues(provider).Observe(float64(attempts))
	r.fetchLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveState(provider string, state feed.State) {
	if r == nil {
		return
	}
	r.feedState.WithLabelValues(provider).Set(float64(state))
}

// ObserveBreaker matches circuit.Breaker.OnStateChange.
func (r *Recorder) ObserveBreaker(source string, from, to circuit.State) {
	if r == nil {
		return
	}
	r.breakerState.WithLabelValues(source).Set(float64(to))
	r.breakerTrips.WithLabelValues(source, to.String()).Inc()
}

func (r *Recorder) ObserveSymbol(asset market.AssetType, tf market.Timeframe, res syncer.SymbolResult) {
	if r == nil {
		return
	}
	r.symbolSyncs.WithLabelValues(asset.String(), tf.Name, outcome(res.Err)).Inc()
	if res.Merged > 0 {
		r.barsMerged.WithLabelValues(asset.String(), tf.Name).Add(float64(res.Merged))
	}
	if res.Purged > 0 {
		r.barsPurged.WithLabelValues(asset.String(), tf.Name).Add(float64(res.Purged))
	}
}

// ObserveJob is fed from the scheduler's completion and failure channels.
func (r *Recorder) ObserveJob(ev scheduler.Event) {
	if r == nil {
		return
	}
	r.jobRuns.WithLabelValues(ev.JobID, outcome(ev.Err)).Inc()
	if !ev.Finished.IsZero() && !ev.Started.IsZero() {
		r.jobDuration.WithLabelValues(ev.JobID).Observe(ev.Finished.Sub(ev.Started).Seconds())
	}
}

func (r *Recorder) ObserveRegime(res regime.Result) {
	if r == nil {
		return
	}
	status := string(res.Signal.Status)
	if res.Err != nil {
		status = "error"
	}
	r.regimeUpdates.WithLabelValues(res.Asset.String(), res.Timeframe, status).Inc()
	if res.Err == nil && res.Bars > 0 {
		r.lastPrice.WithLabelValues(res.Asset.String(), res.Symbol, res.Timeframe).Set(res.Signal.LastPrice)
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
