package service

import (
	"time"

	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/config"
)

const (
	defaultExpiringWindowDays = 5
	defaultGraceDays          = 2
)

// ExpirationPolicy classifies time-bound grants and units. It is a value
// type with no side effects.
type ExpirationPolicy struct {
	ExpiringWindowDays int
	GraceDays          int
}

// Renewal is the outcome of renewing a grant. Callers persist it.
type Renewal struct {
	StartsAt          time.Time
	ExpiresAt         time.Time
	WarningNotifiedAt *time.Time
	ExpiredNotifiedAt *time.Time
}

// NewExpirationPolicy builds a policy from configuration.
func NewExpirationPolicy(cfg config.CapacityConfig) ExpirationPolicy {
	return ExpirationPolicy{ExpiringWindowDays: cfg.ExpiringWindowDays, GraceDays: cfg.GraceDays}
}

// DefaultExpirationPolicy uses a five day warning window and a two day grace period.
func DefaultExpirationPolicy() ExpirationPolicy {
	return ExpirationPolicy{ExpiringWindowDays: defaultExpiringWindowDays, GraceDays: defaultGraceDays}
}

// DaysUntil counts whole UTC calendar days from now to expiresAt. It is
// negative once the expiry date has passed.
func (p ExpirationPolicy) DaysUntil(expiresAt, now time.Time) int {
	return int(utcDate(expiresAt).Sub(utcDate(now)).Hours() / 24)
}

// Classify maps an expiry to its status at now.
func (p ExpirationPolicy) Classify(expiresAt, now time.Time) models.ExpirationStatus {
	days := p.DaysUntil(expiresAt, now)
	switch {
	case days > p.ExpiringWindowDays:
		return models.ExpirationActive
	case days >= 0:
		return models.ExpirationExpiring
	case days >= -p.GraceDays:
		return models.ExpirationExpired
	default:
		return models.ExpirationInactive
	}
}

// Usable reports whether capacity expiring at expiresAt can back a new or
// reused binding at now.
func (p ExpirationPolicy) Usable(expiresAt, now time.Time) bool {
	return StatusUsable(p.Classify(expiresAt, now))
}

// Renew starts a fresh validity period at now with cleared notification marks.
func (p ExpirationPolicy) Renew(now time.Time, validityDays int) Renewal {
	start := now.UTC()
	return Renewal{
		StartsAt:  start,
		ExpiresAt: start.AddDate(0, 0, validityDays),
	}
}

// StatusUsable is true for active and expiring.
func StatusUsable(status models.ExpirationStatus) bool {
	return status == models.ExpirationActive || status == models.ExpirationExpiring
}

func utcDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
