package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	database "github.com/rooftops-ai/entitlements/app/db"
	"github.com/rooftops-ai/entitlements/app/observability/metrics"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Repository = (*PostgresSubscriptionRepo)(nil)

// Repository is the one-row-per-user subscription store. Absence of a row is
// the free tier, so GetByUserID returning ErrNotFound is a valid domain state.
type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*types.Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error)

	// Create inserts the row at first successful paid checkout.
	// Returns ErrConflict if the user already has a subscription.
	Create(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, error)

	// Update applies a partial mutation keyed by stripe_subscription_id.
	// Returns ErrNotFound if no such subscription exists.
	Update(ctx context.Context, stripeSubscriptionID string, params types.UpdateSubscriptionParams) (*types.Subscription, error)

	// Upsert is the idempotent create-or-replace keyed on user_id, used when
	// webhook delivery order is uncertain.
	Upsert(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, error)

	// ClearScheduledPlan cancels a pending downgrade.
	ClearScheduledPlan(ctx context.Context, userID uuid.UUID) (*types.Subscription, error)
}

type PostgresSubscriptionRepo struct {
	logger *slog.Logger
	pgpool database.Querier
}

func NewPostgresSubscriptionRepo(pgpool database.Querier, logger *slog.Logger) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const subscriptionColumns = `id, user_id, stripe_customer_id, stripe_subscription_id, status,
	plan_type, scheduled_plan_type, current_period_start, current_period_end,
	cancel_at_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var s types.Subscription
	var status, planType string
	var scheduled *string
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.StripeCustomerID,
		&s.StripeSubscriptionID,
		&status,
		&planType,
		&scheduled,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = types.SubscriptionStatus(status)
	s.PlanType = types.PlanTier(planType)
	if scheduled != nil {
		tier := types.PlanTier(*scheduled)
		s.ScheduledPlanType = &tier
	}
	return &s, nil
}

func (r *PostgresSubscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "GetByUserID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetByUserID"), slog.String("userID", userID.String()))

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`

	// This is the read on every gated request, so it is the one query timed.
	start := time.Now()
	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, userID))
	if m := metrics.Get(); m != nil {
		m.DbQueryDurationSeconds.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("query", "subscriptions_get_by_user")))
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not an error: no row means free tier.
			span.SetStatus(codes.Ok, "No subscription row")
			return nil, fmt.Errorf("subscription for user %s: %w", userID, types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching subscription: %w", err)
	}

	span.SetStatus(codes.Ok, "Subscription fetched")
	return s, nil
}

func (r *PostgresSubscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "GetByStripeID", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("stripe.subscription.id", stripeSubscriptionID),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetByStripeID"), slog.String("stripeSubscriptionID", stripeSubscriptionID))

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "No subscription row")
			return nil, fmt.Errorf("subscription %s: %w", stripeSubscriptionID, types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching subscription: %w", err)
	}

	span.SetStatus(codes.Ok, "Subscription fetched")
	return s, nil
}

func (r *PostgresSubscriptionRepo) Create(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Create", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.user.id", params.UserID.String()),
		attribute.String("subscription.plan", string(params.PlanType)),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Create"), slog.String("userID", params.UserID.String()))

	query := `
		INSERT INTO subscriptions (user_id, stripe_customer_id, stripe_subscription_id,
			status, plan_type, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + subscriptionColumns

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query,
		params.UserID,
		params.StripeCustomerID,
		params.StripeSubscriptionID,
		string(params.Status),
		string(params.PlanType),
		params.CurrentPeriodStart,
		params.CurrentPeriodEnd,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			l.WarnContext(ctx, "Subscription already exists", slog.Any("error", err))
			span.SetStatus(codes.Error, "Duplicate subscription")
			return nil, fmt.Errorf("subscription for user %s: %w", params.UserID, types.ErrConflict)
		}
		l.ErrorContext(ctx, "Failed to create subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB INSERT failed")
		return nil, fmt.Errorf("database error creating subscription: %w", err)
	}

	l.InfoContext(ctx, "Subscription created", slog.String("plan", string(params.PlanType)))
	span.SetStatus(codes.Ok, "Subscription created")
	return s, nil
}

func (r *PostgresSubscriptionRepo) Update(ctx context.Context, stripeSubscriptionID string, params types.UpdateSubscriptionParams) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Update", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("stripe.subscription.id", stripeSubscriptionID),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Update"), slog.String("stripeSubscriptionID", stripeSubscriptionID))

	// Build query dynamically from the fields present.
	var setClauses []string
	var args []interface{}
	argID := 1

	if params.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argID))
		args = append(args, string(*params.Status))
		argID++
	}
	if params.PlanType != nil {
		setClauses = append(setClauses, fmt.Sprintf("plan_type = $%d", argID))
		args = append(args, string(*params.PlanType))
		argID++
	}
	if params.ClearScheduledPlan {
		setClauses = append(setClauses, "scheduled_plan_type = NULL")
	} else if params.ScheduledPlanType != nil {
		setClauses = append(setClauses, fmt.Sprintf("scheduled_plan_type = $%d", argID))
		args = append(args, string(*params.ScheduledPlanType))
		argID++
	}
	if params.CurrentPeriodStart != nil {
		setClauses = append(setClauses, fmt.Sprintf("current_period_start = $%d", argID))
		args = append(args, *params.CurrentPeriodStart)
		argID++
	}
	if params.CurrentPeriodEnd != nil {
		setClauses = append(setClauses, fmt.Sprintf("current_period_end = $%d", argID))
		args = append(args, *params.CurrentPeriodEnd)
		argID++
	}
	if params.CancelAtPeriodEnd != nil {
		setClauses = append(setClauses, fmt.Sprintf("cancel_at_period_end = $%d", argID))
		args = append(args, *params.CancelAtPeriodEnd)
		argID++
	}

	if len(setClauses) == 0 {
		span.SetStatus(codes.Ok, "No update fields provided")
		return r.GetByStripeID(ctx, stripeSubscriptionID)
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argID))
	args = append(args, time.Now())
	argID++

	args = append(args, stripeSubscriptionID)
	query := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE stripe_subscription_id = $%d RETURNING %s`,
		strings.Join(setClauses, ", "), argID, subscriptionColumns)

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l.WarnContext(ctx, "Subscription not found for update")
			span.SetStatus(codes.Error, "Subscription not found")
			return nil, fmt.Errorf("subscription %s: %w", stripeSubscriptionID, types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to update subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("database error updating subscription: %w", err)
	}

	span.SetStatus(codes.Ok, "Subscription updated")
	return s, nil
}

func (r *PostgresSubscriptionRepo) Upsert(ctx context.Context, params types.CreateSubscriptionParams) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "Upsert", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.user.id", params.UserID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Upsert"), slog.String("userID", params.UserID.String()))

	query := `
		INSERT INTO subscriptions (user_id, stripe_customer_id, stripe_subscription_id,
			status, plan_type, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id     = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status                 = EXCLUDED.status,
			plan_type              = EXCLUDED.plan_type,
			current_period_start   = EXCLUDED.current_period_start,
			current_period_end     = EXCLUDED.current_period_end,
			updated_at             = now()
		RETURNING ` + subscriptionColumns

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query,
		params.UserID,
		params.StripeCustomerID,
		params.StripeSubscriptionID,
		string(params.Status),
		string(params.PlanType),
		params.CurrentPeriodStart,
		params.CurrentPeriodEnd,
	))
	if err != nil {
		l.ErrorContext(ctx, "Failed to upsert subscription", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return nil, fmt.Errorf("database error upserting subscription: %w", err)
	}

	l.InfoContext(ctx, "Subscription upserted", slog.String("plan", string(params.PlanType)))
	span.SetStatus(codes.Ok, "Subscription upserted")
	return s, nil
}

func (r *PostgresSubscriptionRepo) ClearScheduledPlan(ctx context.Context, userID uuid.UUID) (*types.Subscription, error) {
	ctx, span := otel.Tracer("SubscriptionRepo").Start(ctx, "ClearScheduledPlan", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "subscriptions"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ClearScheduledPlan"), slog.String("userID", userID.String()))

	query := `UPDATE subscriptions SET scheduled_plan_type = NULL, updated_at = now()
		WHERE user_id = $1 RETURNING ` + subscriptionColumns

	s, err := scanSubscription(r.pgpool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Subscription not found")
			return nil, fmt.Errorf("subscription for user %s: %w", userID, types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to clear scheduled plan", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPDATE failed")
		return nil, fmt.Errorf("database error clearing scheduled plan: %w", err)
	}

	l.InfoContext(ctx, "Scheduled downgrade cleared")
	span.SetStatus(codes.Ok, "Scheduled plan cleared")
	return s, nil
}
