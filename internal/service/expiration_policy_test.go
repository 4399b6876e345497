package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/config"
)

func TestExpirationPolicyClassifyBoundaries(t *testing.T) {
	policy := DefaultExpirationPolicy()
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		days int
		want models.ExpirationStatus
	}{
		{"six days out", 6, models.ExpirationActive},
		{"five days out", 5, models.ExpirationExpiring},
		{"expires today", 0, models.ExpirationExpiring},
		{"one day past", -1, models.ExpirationExpired},
		{"two days past", -2, models.ExpirationExpired},
		{"three days past", -3, models.ExpirationInactive},
		{"long gone", -40, models.ExpirationInactive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, policy.Classify(now.AddDate(0, 0, tc.days), now))
		})
	}
}

func TestExpirationPolicyUsesCalendarDays(t *testing.T) {
	policy := DefaultExpirationPolicy()
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	expiresAt := time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 6, policy.DaysUntil(expiresAt, now))
	assert.Equal(t, models.ExpirationActive, policy.Classify(expiresAt, now))
}

func TestExpirationPolicyNormalisesTimezones(t *testing.T) {
	policy := DefaultExpirationPolicy()
	saoPaulo := time.FixedZone("BRT", -3*3600)
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, saoPaulo)
	expiresAt := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, policy.DaysUntil(expiresAt, now))
}

func TestExpirationPolicyConfigurableWindows(t *testing.T) {
	policy := NewExpirationPolicy(config.CapacityConfig{ExpiringWindowDays: 10, GraceDays: 0})
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, models.ExpirationExpiring, policy.Classify(now.AddDate(0, 0, 8), now))
	assert.Equal(t, models.ExpirationInactive, policy.Classify(now.AddDate(0, 0, -1), now))
}

func TestExpirationPolicyUsable(t *testing.T) {
	policy := DefaultExpirationPolicy()
	now := time.Now().UTC()

	assert.True(t, policy.Usable(now.AddDate(0, 0, 30), now))
	assert.True(t, policy.Usable(now, now))
	assert.False(t, policy.Usable(now.AddDate(0, 0, -1), now))
}

func TestExpirationPolicyRenew(t *testing.T) {
	policy := DefaultExpirationPolicy()
	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

	renewal := policy.Renew(now, 30)
	assert.Equal(t, now, renewal.StartsAt)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), renewal.ExpiresAt)
	assert.Nil(t, renewal.WarningNotifiedAt)
	assert.Nil(t, renewal.ExpiredNotifiedAt)
}
