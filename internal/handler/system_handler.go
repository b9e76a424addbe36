package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	metricsInterval = 7 * time.Second
	healthTimeout   = 2 * time.Second
)

// SystemHandler reports liveness and streams runtime metrics.
type SystemHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sessions  *service.SessionService
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, sessions *service.SessionService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool:      pool,
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status   string `json:"status"`
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
	Uptime   string `json:"uptime"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	st := HealthStatus{
		Status:   "ok",
		Postgres: checkStatus(database.PingPostgres(ctx, h.pool, healthTimeout)),
		Redis:    checkStatus(database.PingRedis(ctx, h.rdb, healthTimeout)),
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}

	code := http.StatusOK
	if st.Postgres == "down" || st.Redis == "down" {
		st.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	response.Success(c, code, st)
}

func checkStatus(err error) string {
	switch {
	case err == nil:
		return "up"
	case errors.Is(err, database.ErrNotConfigured):
		return "disabled"
	default:
		return "down"
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	SessionsHeld   int `json:"sessions_held"`
	SessionsActive int `json:"sessions_active"`

	QueueIntegrity int64 `json:"queue_integrity"`
	QueueAnswers   int64 `json:"queue_answers"`
	QueueResults   int64 `json:"queue_results"`
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Admin connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	h.writeMetrics(c)
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	writeSSEData(c, data)
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.StackInuse = ms.StackInuse
	m.NumGC = ms.NumGC

	m.SessionsHeld, m.SessionsActive = h.sessions.Counts()

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	depths, err := database.QueueDepths(ctx, h.rdb,
		config.WorkerKey.PersistIntegrityQueue,
		config.WorkerKey.PersistAnswersQueue,
		config.WorkerKey.PersistResultsQueue,
	)
	if err == nil {
		m.QueueIntegrity = depths[config.WorkerKey.PersistIntegrityQueue]
		m.QueueAnswers = depths[config.WorkerKey.PersistAnswersQueue]
		m.QueueResults = depths[config.WorkerKey.PersistResultsQueue]
	}

	return m
}
