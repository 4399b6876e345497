package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/config"
)

type flakySink struct {
	name     string
	mu       sync.Mutex
	failures int
	got      []models.Notification
}

func (s *flakySink) Name() string { return s.name }

func (s *flakySink) Deliver(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, n)
	return nil
}

func (s *flakySink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestNotificationServiceFansOutToSinks(t *testing.T) {
	first := &flakySink{name: "first"}
	second := &flakySink{name: "second"}
	metrics := NewMetricsService()
	svc := NewNotificationService([]NotificationSink{first, second, nil}, config.NotificationsConfig{Workers: 2, BufferSize: 8}, metrics, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify(context.Background(), models.Notification{TrainerID: "trainer-1", Kind: models.NotificationWarning})

	assert.Eventually(t, func() bool {
		return first.delivered() == 1 && second.delivered() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues("warning", "delivered")) == 2
	}, time.Second, 10*time.Millisecond)

	first.mu.Lock()
	defer first.mu.Unlock()
	assert.NotEmpty(t, first.got[0].ID)
	assert.False(t, first.got[0].CreatedAt.IsZero())
}

func TestNotificationServiceRetriesFailingSink(t *testing.T) {
	sink := &flakySink{name: "flaky", failures: 1}
	metrics := NewMetricsService()
	svc := NewNotificationService([]NotificationSink{sink}, config.NotificationsConfig{Workers: 1, BufferSize: 4, Retries: 2, RetryDelay: 10 * time.Millisecond}, metrics, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify(context.Background(), models.Notification{TrainerID: "trainer-1", Kind: models.NotificationExpired})

	assert.Eventually(t, func() bool { return sink.delivered() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.notifications.WithLabelValues("expired", "failed")))
}

func TestNotificationServiceDropsWhenNotStarted(t *testing.T) {
	sink := &flakySink{name: "log"}
	metrics := NewMetricsService()
	svc := NewNotificationService([]NotificationSink{sink}, config.NotificationsConfig{}, metrics, nil)

	svc.Notify(context.Background(), models.Notification{TrainerID: "trainer-1", Kind: models.NotificationReactivated})

	assert.Equal(t, 0, sink.delivered())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.notifications.WithLabelValues("reactivated", "dropped")))
}

func TestLogNotificationSinkNeverFails(t *testing.T) {
	sink := NewLogNotificationSink(nil)
	student := "student-1"
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Deliver(context.Background(), models.Notification{TrainerID: "trainer-1", StudentID: &student, Kind: models.NotificationWarning}))
}
