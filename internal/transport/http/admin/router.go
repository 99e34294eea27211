package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketsync/internal/market"
	"marketsync/internal/scheduler"
	"marketsync/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	defaultBarLimit = 200
	maxBarLimit     = 5000
)

// JobControl is satisfied by *scheduler.Scheduler.
type JobControl interface {
	Jobs() []scheduler.JobInfo
	State(jobID string) (scheduler.JobState, error)
	Schedule(jobID string, trigger scheduler.Trigger, fn scheduler.JobFunc) error
	Pause(jobID string) error
	Resume(jobID string) error
	RunNow(jobID string) error
	Remove(jobID string) error
	NextRunTime(jobID string) (time.Time, error)
}

// DataReader is satisfied by *store.Store.
type DataReader interface {
	Ping(ctx context.Context) error
	ListRegimes(ctx context.Context, f store.RegimeFilter) ([]store.RegimeRecord, error)
	LatestBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error)
}

type Router struct {
	jobs  JobControl
	data  DataReader
	nowFn func() time.Time
}

func NewRouter(jobs JobControl, data DataReader) *Router {
	return &Router{jobs: jobs, data: data, nowFn: time.Now}
}

// Register 将任务与数据接口挂到 /api 分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/jobs", r.handleJobs)
	group.GET("/jobs/:id", r.handleJob)
	group.POST("/jobs/:id/pause", r.jobAction(r.jobs.Pause))
	group.POST("/jobs/:id/resume", r.jobAction(r.jobs.Resume))
	group.POST("/jobs/:id/run", r.jobAction(r.jobs.RunNow))
	group.PUT("/jobs/:id/schedule", r.handleReschedule)
	group.DELETE("/jobs/:id", r.jobAction(r.jobs.Remove))
	group.GET("/regimes", r.handleRegimes)
	group.GET("/bars/:asset/*symbol", r.handleBars)
}

func (r *Router) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": r.jobs.Jobs()})
}

func (r *Router) handleJob(c *gin.Context) {
	id := c.Param("id")
	for _, info := range r.jobs.Jobs() {
		if info.ID == id {
			c.JSON(http.StatusOK, info)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found: " + id})
}

func (r *Router) jobAction(fn func(string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := fn(id); err != nil {
			writeJobError(c, err)
			return
		}
		resp := gin.H{"id": id, "ok": true}
		if st, err := r.jobs.State(id); err == nil {
			resp["state"] = st.String()
			if next, err := r.jobs.NextRunTime(id); err == nil && !next.IsZero() {
				resp["next_run"] = next
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (r *Router) handleReschedule(c *gin.Context) {
	id := c.Param("id")
	if _, err := r.jobs.State(id); err != nil {
		writeJobError(c, err)
		return
	}
	var spec scheduler.TriggerSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trig, err := scheduler.BuildTrigger(spec, r.nowFn())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.jobs.Schedule(id, trig, nil); err != nil {
		writeJobError(c, err)
		return
	}
	next, _ := r.jobs.NextRunTime(id)
	c.JSON(http.StatusOK, gin.H{"id": id, "trigger": trig.String(), "next_run": next})
}

func writeJobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrJobRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (r *Router) handleRegimes(c *gin.Context) {
	var f store.RegimeFilter
	if raw := strings.TrimSpace(c.Query("asset")); raw != "" {
		asset, err := market.ParseAssetType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Asset = asset
	}
	if raw := strings.TrimSpace(c.Query("timeframe")); raw != "" {
		tf, err := market.ParseTimeframe(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Timeframe = tf.Name
	}
	f.Symbol = strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	recs, err := r.data.ListRegimes(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regimes": recs, "count": len(recs)})
}

// handleBars: 标的可能带斜杠（BTC/USDT），因此用通配参数。
func (r *Router) handleBars(c *gin.Context) {
	asset, err := market.ParseAssetType(c.Param("asset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.Trim(c.Param("symbol"), "/ "))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "1 hour"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultBarLimit)))
	if limit <= 0 {
		limit = defaultBarLimit
	}
	if limit > maxBarLimit {
		limit = maxBarLimit
	}
	bars, err := r.data.LatestBars(c.Request.Context(), asset, symbol, tf, limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, market.ErrUnknownAssetType) || errors.Is(err, market.ErrUnknownTimeframe) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":     asset,
		"symbol":    symbol,
		"timeframe": tf.Name,
		"bars":      bars,
	})
}
