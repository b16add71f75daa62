package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

const healthTimeout = 2 * time.Second

// SystemHandler reports dependency health and queue depths.
type SystemHandler struct {
	pingDB    func(ctx context.Context) error
	dbDriver  string
	rdb       *redis.Client
	registry  *service.SessionRegistry
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(pingDB func(ctx context.Context) error, dbDriver string, rdb *redis.Client, registry *service.SessionRegistry, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pingDB:    pingDB,
		dbDriver:  dbDriver,
		rdb:       rdb,
		registry:  registry,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status       string           `json:"status"`
	Uptime       string           `json:"uptime"`
	Database     string           `json:"database"`
	DBDriver     string           `json:"db_driver"`
	Redis        string           `json:"redis"`
	LiveSessions int              `json:"live_sessions"`
	Queues       map[string]int64 `json:"queues,omitempty"`
}

// Health godoc
// GET /health
// Pings the record store and Redis. Responds 503 when either is down.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Database:     "ok",
		DBDriver:     h.dbDriver,
		Redis:        "ok",
		LiveSessions: h.registry.Len(),
	}

	if err := h.pingDB(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Database ping failed")
		report.Status, report.Database = "degraded", "down"
	}

	pipe := h.rdb.Pipeline()
	persist := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	score := pipe.LLen(ctx, config.WorkerKey.ScoreAttemptsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Redis ping failed")
		report.Status, report.Redis = "degraded", "down"
	} else {
		report.Queues = map[string]int64{
			config.WorkerKey.PersistAnswersQueue: persist.Val(),
			config.WorkerKey.ScoreAttemptsQueue:  score.Val(),
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
