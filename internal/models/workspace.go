package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is a subscription plan code
type Plan string

const (
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Workspace is the tenant; it owns a plan and its quota
type Workspace struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Plan      Plan      `json:"plan" db:"plan"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Metric is a metered usage counter
type Metric string

const (
	MetricCommentsCollected Metric = "comments_collected"
	MetricDMSent            Metric = "dm_sent"
)

// Valid reports whether m names a metered counter
func (m Metric) Valid() bool {
	return m == MetricCommentsCollected || m == MetricDMSent
}

// LimitKey returns the plan-limit key for the metric
func (m Metric) LimitKey() string {
	return string(m) + "_per_month"
}

// UsageCounter holds one workspace's usage for one calendar month
type UsageCounter struct {
	ID                uuid.UUID `json:"id" db:"id"`
	WorkspaceID       uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Year              int       `json:"year" db:"year"`
	Month             int       `json:"month" db:"month"`
	CommentsCollected int       `json:"comments_collected" db:"comments_collected"`
	DMSent            int       `json:"dm_sent" db:"dm_sent"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Value returns the counter for metric
func (u *UsageCounter) Value(metric Metric) int {
	switch metric {
	case MetricCommentsCollected:
		return u.CommentsCollected
	case MetricDMSent:
		return u.DMSent
	}
	return 0
}
