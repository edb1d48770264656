package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commentflow/internal/metrics"
	"commentflow/internal/models"
	"commentflow/internal/repository"
)

// Unlimited marks a plan limit without a ceiling
const Unlimited = -1

// PlanLimitTable maps plan -> limit key -> limit
type PlanLimitTable map[models.Plan]map[string]int

// DefaultPlanLimits returns the standard subscription limits
func DefaultPlanLimits() PlanLimitTable {
	return PlanLimitTable{
		models.PlanStarter: {
			"comments_collected_per_month": 1000,
			"dm_sent_per_month":            100,
			"workspaces":                   1,
			"team_members":                 3,
			"automations":                  5,
		},
		models.PlanPro: {
			"comments_collected_per_month": 10000,
			"dm_sent_per_month":            1000,
			"workspaces":                   5,
			"team_members":                 10,
			"automations":                  50,
		},
		models.PlanEnterprise: {
			"comments_collected_per_month": Unlimited,
			"dm_sent_per_month":            Unlimited,
			"workspaces":                   Unlimited,
			"team_members":                 Unlimited,
			"automations":                  Unlimited,
		},
	}
}

// Limits returns every limit of plan; unknown plans fall back to starter
func (t PlanLimitTable) Limits(plan models.Plan) map[string]int {
	if limits, ok := t[plan]; ok {
		return limits
	}
	return t[models.PlanStarter]
}

// Limit returns one limit of plan; unknown keys are 0
func (t PlanLimitTable) Limit(plan models.Plan, key string) int {
	return t.Limits(plan)[key]
}

// Period is a calendar month
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// UsageSnapshot is the read model of one workspace's usage in one period
type UsageSnapshot struct {
	Period    Period         `json:"period"`
	Plan      models.Plan    `json:"plan"`
	Usage     map[string]int `json:"usage"`
	Limits    map[string]int `json:"limits"`
	Remaining map[string]int `json:"remaining"`
}

// PlanSnapshot is a workspace's plan with all its limits
type PlanSnapshot struct {
	Plan   models.Plan    `json:"plan"`
	Limits map[string]int `json:"limits"`
}

// QuotaService tracks and enforces monthly usage per workspace
type QuotaService struct {
	workspaces repository.WorkspaceRepository
	usage      repository.UsageRepository
	limits     PlanLimitTable
	now        func() time.Time
	log        *zap.SugaredLogger
}

// NewQuotaService creates a quota service using the given limit table
func NewQuotaService(workspaces repository.WorkspaceRepository, usage repository.UsageRepository, limits PlanLimitTable, log *zap.SugaredLogger) *QuotaService {
	if limits == nil {
		limits = DefaultPlanLimits()
	}
	return &QuotaService{
		workspaces: workspaces,
		usage:      usage,
		limits:     limits,
		now:        time.Now,
		log:        log,
	}
}

// GetOrCreateCurrentPeriod returns the counter of the current UTC month
func (s *QuotaService) GetOrCreateCurrentPeriod(ctx context.Context, workspaceID uuid.UUID) (*models.UsageCounter, error) {
	if _, err := s.loadWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}

	period := s.currentPeriod()
	counter, err := s.usage.GetOrCreate(ctx, workspaceID, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage counter: %w", err)
	}
	return counter, nil
}

// CheckLimit reports whether adding amount to metric stays within the plan limit
func (s *QuotaService) CheckLimit(ctx context.Context, workspaceID uuid.UUID, metric models.Metric, amount int) (bool, error) {
	if err := validateIncrement(metric, amount); err != nil {
		return false, err
	}

	workspace, err := s.loadWorkspace(ctx, workspaceID)
	if err != nil {
		return false, err
	}

	limit := s.limits.Limit(workspace.Plan, metric.LimitKey())
	if limit == Unlimited {
		return true, nil
	}

	period := s.currentPeriod()
	counter, err := s.usage.GetOrCreate(ctx, workspaceID, period.Year, period.Month)
	if err != nil {
		return false, fmt.Errorf("failed to load usage counter: %w", err)
	}

	return counter.Value(metric)+amount <= limit, nil
}

// CheckAndIncrement atomically verifies the limit against the locked counter and
// increments it. On rejection nothing is written and a *QuotaExceededError is returned.
func (s *QuotaService) CheckAndIncrement(ctx context.Context, workspaceID uuid.UUID, metric models.Metric, amount int) (*models.UsageCounter, error) {
	if err := validateIncrement(metric, amount); err != nil {
		return nil, err
	}

	workspace, err := s.loadWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	limit := s.limits.Limit(workspace.Plan, metric.LimitKey())
	period := s.currentPeriod()

	counter, applied, err := s.usage.IncrementWithinLimit(ctx, workspaceID, period.Year, period.Month, metric, amount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to increment usage: %w", err)
	}

	if !applied {
		metrics.QuotaRejections.WithLabelValues(string(metric)).Inc()
		s.log.Infow("plan limit reached",
			"workspace_id", workspaceID,
			"metric", metric,
			"current", counter.Value(metric),
			"limit", limit,
			"plan", workspace.Plan,
		)
		return nil, &QuotaExceededError{
			Metric:  string(metric),
			Limit:   limit,
			Current: counter.Value(metric),
			Plan:    string(workspace.Plan),
		}
	}

	return counter, nil
}

// Release gives back units taken by CheckAndIncrement for work that did not
// happen. The period is the one of the counter CheckAndIncrement returned.
func (s *QuotaService) Release(ctx context.Context, workspaceID uuid.UUID, period Period, metric models.Metric, amount int) error {
	if err := validateIncrement(metric, amount); err != nil {
		return err
	}

	if err := s.usage.Decrement(ctx, workspaceID, period.Year, period.Month, metric, amount); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}

	s.log.Debugw("usage released",
		"workspace_id", workspaceID,
		"metric", metric,
		"amount", amount,
		"period", fmt.Sprintf("%04d-%02d", period.Year, period.Month),
	)
	return nil
}

// GetUsage returns usage, limits and remaining headroom. Without year and month
// the current period is used; an explicit period is created on first query.
// Year and month must be given together.
func (s *QuotaService) GetUsage(ctx context.Context, workspaceID uuid.UUID, year, month *int) (*UsageSnapshot, error) {
	if (year == nil) != (month == nil) {
		return nil, &ValidationError{Message: "year and month must be given together"}
	}

	workspace, err := s.loadWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	period := s.currentPeriod()
	if year != nil && month != nil {
		if *month < 1 || *month > 12 {
			return nil, &ValidationError{Message: "month must be between 1 and 12"}
		}
		if *year < 2000 || *year > 9999 {
			return nil, &ValidationError{Message: "year is out of range"}
		}
		period = Period{Year: *year, Month: *month}
	}

	counter, err := s.usage.GetOrCreate(ctx, workspaceID, period.Year, period.Month)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage counter: %w", err)
	}

	return s.snapshot(workspace, counter), nil
}

// GetPlan returns the workspace plan and all of its limits
func (s *QuotaService) GetPlan(ctx context.Context, workspaceID uuid.UUID) (*PlanSnapshot, error) {
	workspace, err := s.loadWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	limits := make(map[string]int)
	for k, v := range s.limits.Limits(workspace.Plan) {
		limits[k] = v
	}

	return &PlanSnapshot{Plan: workspace.Plan, Limits: limits}, nil
}

func (s *QuotaService) snapshot(workspace *models.Workspace, counter *models.UsageCounter) *UsageSnapshot {
	snap := &UsageSnapshot{
		Period:    Period{Year: counter.Year, Month: counter.Month},
		Plan:      workspace.Plan,
		Usage:     make(map[string]int),
		Limits:    make(map[string]int),
		Remaining: make(map[string]int),
	}

	for _, metric := range []models.Metric{models.MetricCommentsCollected, models.MetricDMSent} {
		current := counter.Value(metric)
		limit := s.limits.Limit(workspace.Plan, metric.LimitKey())

		snap.Usage[string(metric)] = current
		snap.Limits[metric.LimitKey()] = limit
		snap.Remaining[string(metric)] = remaining(limit, current)
	}

	return snap
}

func (s *QuotaService) loadWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.Workspace, error) {
	workspace, err := s.workspaces.GetByID(ctx, workspaceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "workspace", ID: workspaceID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	return workspace, nil
}

func (s *QuotaService) currentPeriod() Period {
	now := s.now().UTC()
	return Period{Year: now.Year(), Month: int(now.Month())}
}

func remaining(limit, current int) int {
	if limit == Unlimited {
		return Unlimited
	}
	if current >= limit {
		return 0
	}
	return limit - current
}

func validateIncrement(metric models.Metric, amount int) error {
	if !metric.Valid() {
		return &ValidationError{Message: fmt.Sprintf("invalid metric: %s", metric)}
	}
	if amount < 1 {
		return &ValidationError{Message: "amount must be a positive integer"}
	}
	return nil
}
