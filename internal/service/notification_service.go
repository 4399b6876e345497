package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/config"
	"github.com/noah-isme/coachdesk-api/pkg/jobs"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

// Notifier receives the warning, expired and reactivated hooks. Delivery is
// fire-and-forget: implementations never report failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}

// NotificationSink delivers a notification to one destination.
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, n models.Notification) error
}

// LogNotificationSink writes notifications to the structured log.
type LogNotificationSink struct {
	logger *zap.Logger
}

// NewLogNotificationSink constructs the sink.
func NewLogNotificationSink(logger *zap.Logger) *LogNotificationSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSink{logger: logger}
}

// Name identifies the sink in logs.
func (s *LogNotificationSink) Name() string { return "log" }

// Deliver logs the notification.
func (s *LogNotificationSink) Deliver(ctx context.Context, n models.Notification) error {
	fields := []zap.Field{
		zap.String("notification_id", n.ID),
		zap.String("trainer_id", n.TrainerID),
		zap.String("kind", string(n.Kind)),
		zap.Any("payload", n.Payload),
	}
	if n.StudentID != nil {
		fields = append(fields, zap.String("student_id", *n.StudentID))
	}
	s.logger.Info("notification", fields...)
	return nil
}

// NotificationService fans notifications out to its sinks on a background
// queue, one job per sink so a failing sink is retried alone.
type NotificationService struct {
	queue   *jobs.Queue[models.Notification]
	sinks   map[string]NotificationSink
	names   []string
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService wires the dispatcher. Call Start before Notify.
func NewNotificationService(sinks []NotificationSink, cfg config.NotificationsConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		sinks:   make(map[string]NotificationSink, len(sinks)),
		metrics: metrics,
		logger:  logger,
	}
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		svc.sinks[sink.Name()] = sink
		svc.names = append(svc.names, sink.Name())
	}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for in-flight deliveries to finish.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues n for every sink. A full or stopped queue drops the
// notification with a warning.
func (s *NotificationService) Notify(ctx context.Context, n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	for _, name := range s.names {
		job := jobs.Job[models.Notification]{ID: n.ID, Type: name, Payload: n}
		if err := s.queue.Enqueue(job); err != nil {
			s.metrics.RecordNotification(n.Kind, "dropped")
			logger.WithContext(ctx, s.logger).Warn("notification dropped",
				zap.String("sink", name), zap.String("kind", string(n.Kind)), zap.Error(err))
		}
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job[models.Notification]) error {
	sink, ok := s.sinks[job.Type]
	if !ok {
		return nil
	}
	if err := sink.Deliver(ctx, job.Payload); err != nil {
		s.metrics.RecordNotification(job.Payload.Kind, "failed")
		return err
	}
	s.metrics.RecordNotification(job.Payload.Kind, "delivered")
	return nil
}
