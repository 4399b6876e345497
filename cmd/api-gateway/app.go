package main

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/handler"
	"github.com/noah-isme/coachdesk-api/internal/repository"
	"github.com/noah-isme/coachdesk-api/internal/router"
	"github.com/noah-isme/coachdesk-api/internal/scheduler"
	"github.com/noah-isme/coachdesk-api/internal/service"
	"github.com/noah-isme/coachdesk-api/pkg/cache"
	"github.com/noah-isme/coachdesk-api/pkg/config"
	"github.com/noah-isme/coachdesk-api/pkg/database"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

// application holds every long-lived component built from configuration.
type application struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	redis  *redis.Client

	metrics       *service.MetricsService
	notifications *service.NotificationService
	sweeper       *service.ExpirationSweeper
	scheduler     *scheduler.ExpirationScheduler
	handlers      router.Handlers
	auth          *service.AuthService
}

func loadBase() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

func bootstrap(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*application, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logr); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	app := &application{cfg: cfg, logger: logr, db: db}

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.redis = client
		cacheRepo = repository.NewCacheRepository(client, "coachdesk")
	} else {
		logr.Warn("redis disabled: caching, pub/sub notifications and the sweep lease are off")
	}

	validate := validator.New()
	app.metrics = service.NewMetricsService()
	policy := service.NewExpirationPolicy(cfg.Capacity)
	cacheSvc := service.NewCacheService(cacheRepo, app.metrics, cfg.Cache.StatusTTL, logr, cfg.Cache.Enabled)

	tx := repository.NewTxManager(db)
	plans := repository.NewPlanRepository(db)
	grants := repository.NewPlanGrantRepository(db)
	units := repository.NewCapacityUnitRepository(db)
	students := repository.NewStudentRepository(db)
	records := repository.NewTransitionRepository(db)

	sinks := []service.NotificationSink{service.NewLogNotificationSink(logr)}
	if app.redis != nil && cfg.Notifications.RedisChannel != "" {
		sinks = append(sinks, repository.NewNotificationPublisher(app.redis, cfg.Notifications.RedisChannel))
	}
	app.notifications = service.NewNotificationService(sinks, cfg.Notifications, app.metrics, logr)

	ledger := service.NewCapacityLedger(grants, plans, units, policy)
	assignments := service.NewUnitAssignmentService(tx, students, units, ledger, records, policy, cfg.Capacity.AssignRetries, cacheSvc, app.metrics, logr)
	transitions := service.NewPlanTransitionService(service.PlanTransitionDeps{
		Tx:       tx,
		Plans:    plans,
		Grants:   grants,
		Units:    units,
		Students: students,
		Records:  records,
		Assigner: assignments,
		Ledger:   ledger,
		Notifier: app.notifications,
		Cache:    cacheSvc,
		Metrics:  app.metrics,
	}, policy, validate, logr)
	app.sweeper = service.NewExpirationSweeper(tx, grants, units, students, assignments, policy, app.notifications, cacheSvc, app.metrics, logr)
	app.scheduler = scheduler.New(app.sweeper, cache.NewLocker(app.redis), cfg.Scheduler, logr)

	planSvc := service.NewPlanService(plans, cacheSvc, cfg.Cache.CatalogueTTL, validate, logr)
	studentSvc := service.NewStudentService(students, assignments, cacheSvc, validate, logr)
	unitSvc := service.NewUnitAdminService(tx, units, students, policy, cacheSvc, validate, logr)
	querySvc := service.NewCapacityQueryService(ledger, students, records, cacheSvc, cfg.Cache.StatusTTL, logr)
	exportSvc := service.NewHistoryExportService(records, logr)

	app.auth = service.NewAuthService(service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	app.handlers = router.Handlers{
		Capacity:    handler.NewCapacityHandler(querySvc, exportSvc),
		Transitions: handler.NewTransitionHandler(transitions, cfg.Capacity.DefaultExcludeRecentDays),
		Plans:       handler.NewPlanHandler(planSvc),
		Students:    handler.NewStudentHandler(studentSvc, assignments),
		Units:       handler.NewUnitHandler(unitSvc),
		Scheduler:   handler.NewSchedulerHandler(app.scheduler),
		Metrics:     handler.NewMetricsHandler(app.metrics, db),
	}
	return app, nil
}

// Close releases connections. Workers must already be stopped.
func (a *application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close postgres", zap.Error(err))
		}
	}
}
