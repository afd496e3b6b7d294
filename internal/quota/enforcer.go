package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"limitgate/internal/storage"
	"limitgate/pkg/errors"
	"limitgate/pkg/metrics"
)

// upgradeSuggestion maps a plan to the next tier worth offering when the
// caller hits a ceiling
func upgradeSuggestion(plan storage.Plan) string {
	switch plan {
	case storage.PlanFree:
		return "upgrade to pro for higher limits"
	case storage.PlanPro:
		return "upgrade to growth for higher limits"
	case storage.PlanGrowth:
		return "contact sales for enterprise limits"
	default:
		return ""
	}
}

// Permit is an approved reservation for one metered action. It carries no
// storage state; the counter only moves on Commit.
type Permit struct {
	ID     string
	UserID string
	Action Action
}

// Enforcer applies per-plan usage ceilings. Unlike the rate limiter it fails
// closed: a storage error denies the action, because granting unmetered work
// is worse than a transient 500.
type Enforcer struct {
	usage   storage.UsageStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEnforcer creates a quota enforcer over the usage store
func NewEnforcer(usage storage.UsageStore, logger *slog.Logger, m *metrics.Metrics) *Enforcer {
	return &Enforcer{
		usage:   usage,
		logger:  logger.With("component", "quota"),
		metrics: m,
	}
}

// Reserve checks whether the user may perform the action under their plan.
// On success it returns a permit the caller must Commit after the action
// succeeds; abandoning the permit consumes nothing.
func (e *Enforcer) Reserve(ctx context.Context, userID string, plan storage.Plan, action Action) (*Permit, error) {
	limitType, ok := action.LimitType()
	if !ok {
		return nil, errors.NewError(errors.ErrorTypeBadRequest,
			fmt.Sprintf("unmetered action: %s", action))
	}

	start := time.Now()
	under, err := e.usage.UnderLimit(ctx, userID, limitType)
	if e.metrics != nil {
		e.metrics.StorageDuration.WithLabelValues("usage", "under_limit").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Error("Quota check failed, denying action",
			"user_id", userID,
			"action", action.String(),
			"error", err)
		if e.metrics != nil {
			e.metrics.StorageErrors.WithLabelValues("usage", "under_limit").Inc()
			e.metrics.QuotaErrors.WithLabelValues(action.String()).Inc()
		}
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to verify usage limits").WithCause(err)
	}

	if !under {
		if e.metrics != nil {
			e.metrics.QuotaDenied.WithLabelValues(action.String(), string(plan)).Inc()
		}
		e.logger.Info("Usage limit reached",
			"user_id", userID,
			"action", action.String(),
			"plan", plan)

		message := fmt.Sprintf("%s limit reached for the %s plan", limitType, plan)
		deny := errors.NewError(errors.ErrorTypeQuota, message).
			WithDetail("action", action.String()).
			WithDetail("limit_type", limitType.String()).
			WithDetail("current_plan", string(plan)).
			WithDetail("message", message)
		if hint := upgradeSuggestion(plan); hint != "" {
			deny = deny.WithDetail("upgrade_suggestion", hint)
		}
		return nil, deny
	}

	if e.metrics != nil {
		e.metrics.QuotaAllowed.WithLabelValues(action.String()).Inc()
	}

	return &Permit{
		ID:     uuid.NewString(),
		UserID: userID,
		Action: action,
	}, nil
}

// Commit records the completed action against the user's counters. Call only
// after the action itself succeeded; the increment is atomic in the store.
func (e *Enforcer) Commit(ctx context.Context, permit *Permit) (int, error) {
	if permit == nil {
		return 0, errors.NewError(errors.ErrorTypeInternal, "nil permit")
	}

	limitType, ok := permit.Action.LimitType()
	if !ok {
		return 0, errors.NewError(errors.ErrorTypeInternal,
			fmt.Sprintf("unmetered action: %s", permit.Action))
	}

	start := time.Now()
	count, err := e.usage.Increment(ctx, permit.UserID, limitType)
	if e.metrics != nil {
		e.metrics.StorageDuration.WithLabelValues("usage", "increment").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Error("Usage increment failed",
			"user_id", permit.UserID,
			"action", permit.Action.String(),
			"permit_id", permit.ID,
			"error", err)
		if e.metrics != nil {
			e.metrics.StorageErrors.WithLabelValues("usage", "increment").Inc()
		}
		return 0, errors.NewError(errors.ErrorTypeInternal, "failed to record usage").WithCause(err)
	}

	e.logger.Debug("Usage recorded",
		"user_id", permit.UserID,
		"action", permit.Action.String(),
		"count", count)

	return count, nil
}

// Usage returns the user's current counters
func (e *Enforcer) Usage(ctx context.Context, userID string) (*storage.UsageMetrics, error) {
	m, err := e.usage.Usage(ctx, userID)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load usage").WithCause(err)
	}
	return m, nil
}

// Limits returns the ceilings for a plan
func (e *Enforcer) Limits(ctx context.Context, plan storage.Plan) (*storage.PlanLimits, error) {
	limits, err := e.usage.PlanLimits(ctx, plan)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load plan limits").WithCause(err)
	}
	return limits, nil
}
