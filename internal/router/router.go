package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Assessment    *handler.AssessmentHandler
	Grading       *handler.GradingHandler
	WS            *handler.WSHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata
	// and every request gets one access log line.
	router.Use(response.RequestIDMiddleware(log))

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT) ─────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.GET("/assessments/:assessment_id/state", handlers.StudentPortal.GetAssessmentState)
		studentAPI.GET("/assessments/:assessment_id/timer", handlers.StudentPortal.GetRemainingTime)
		studentAPI.GET("/attempts/:attempt_id/review", handlers.StudentPortal.GetAttemptReview)
	}

	// Reconnect storms hit the upgrade route first: 30 handshakes per minute per student.
	wsLimiter := middleware.NewRateLimiter(30, time.Minute, nil)

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService), wsLimiter.Middleware())
	{
		ws.GET("/student/assessments/:assessment_id/session", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		// Assessment authoring
		adminAPI.POST("/assessments",
			middleware.RequirePermission(model.PermissionAssessmentsWrite),
			handlers.Assessment.CreateAssessment,
		)
		adminAPI.GET("/assessments/:assessment_id",
			middleware.RequirePermission(model.PermissionAssessmentsRead),
			handlers.Assessment.GetAssessment,
		)
		adminAPI.POST("/assessments/:assessment_id/questions",
			middleware.RequirePermission(model.PermissionAssessmentsWrite),
			handlers.Assessment.AddQuestion,
		)
		adminAPI.DELETE("/assessments/:assessment_id/questions/:question_id",
			middleware.RequirePermission(model.PermissionAssessmentsWrite),
			handlers.Assessment.DeleteQuestion,
		)
		adminAPI.POST("/assessments/:assessment_id/publish",
			middleware.RequirePermission(model.PermissionAssessmentsWrite),
			handlers.Assessment.PublishAssessment,
		)
		adminAPI.POST("/assessments/:assessment_id/close",
			middleware.RequirePermission(model.PermissionAssessmentsClose),
			handlers.Assessment.CloseAssessment,
		)

		// Grading
		adminAPI.GET("/assessments/:assessment_id/attempts",
			middleware.RequirePermission(model.PermissionAttemptsRead),
			handlers.Grading.ListAttempts,
		)
		adminAPI.GET("/attempts/:attempt_id",
			middleware.RequirePermission(model.PermissionAttemptsRead),
			handlers.Grading.GetAttempt,
		)
		adminAPI.PUT("/attempts/:attempt_id/grades",
			middleware.RequirePermission(model.PermissionAttemptsGrade),
			handlers.Grading.SaveGrades,
		)
		adminAPI.POST("/attempts/:attempt_id/rescore",
			middleware.RequirePermission(model.PermissionAttemptsGrade),
			handlers.Grading.Rescore,
		)
	}

	return router
}
