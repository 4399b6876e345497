package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/coachdesk-api/api/swagger"
	"github.com/noah-isme/coachdesk-api/internal/handler"
	"github.com/noah-isme/coachdesk-api/internal/middleware"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/config"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/coachdesk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/coachdesk-api/pkg/middleware/requestid"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

// Handlers groups every HTTP handler mounted by the router.
type Handlers struct {
	Capacity    *handler.CapacityHandler
	Transitions *handler.TransitionHandler
	Plans       *handler.PlanHandler
	Students    *handler.StudentHandler
	Units       *handler.UnitHandler
	Scheduler   *handler.SchedulerHandler
	Metrics     *handler.MetricsHandler
}

// Dependencies are the cross-cutting collaborators of the router.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Verifier middleware.TokenVerifier
	Observer middleware.RequestObserver
	Handlers Handlers
}

// New builds the gin engine with the middleware chain and every route.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	logr := deps.Logger
	if logr == nil {
		logr = zap.NewNop()
	}
	h := deps.Handlers

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(deps.Observer))
	r.Use(middleware.WithResponseMeta())

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "route not found"))
	})

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.Verifier))

	api.GET("/capacity", h.Capacity.Status)
	api.GET("/transitions/preview", h.Transitions.Preview)
	api.GET("/transitions/history", h.Capacity.History)
	api.GET("/transitions/history/export", h.Capacity.Export)

	api.GET("/plans", h.Plans.List)
	api.GET("/plans/:id", h.Plans.Get)

	students := api.Group("/students")
	students.GET("", h.Students.List)
	students.POST("", h.Students.Create)
	students.GET("/reactivation-candidates", h.Transitions.Candidates)
	students.POST("/reactivate", h.Transitions.Reactivate)
	students.GET("/:id", h.Students.Get)
	students.POST("/:id/activate", h.Students.Activate)
	students.POST("/:id/deactivate", h.Students.Deactivate)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/plans", middleware.Audit(logr, "create", "plan"), h.Plans.Create)
	admin.DELETE("/plans/:id", middleware.Audit(logr, "deactivate", "plan"), h.Plans.Deactivate)
	admin.POST("/trainers/:trainerId/plan", middleware.Audit(logr, "transition", "plan_grant"), h.Transitions.Process)
	admin.POST("/trainers/:trainerId/units", middleware.Audit(logr, "issue", "capacity_unit"), h.Units.Issue)
	admin.GET("/trainers/:trainerId/units", h.Units.List)
	admin.POST("/units/:id/release", middleware.Audit(logr, "release", "capacity_unit"), h.Units.Release)
	admin.POST("/scheduler/run", middleware.Audit(logr, "run", "expiration_sweep"), h.Scheduler.Run)

	return r
}
