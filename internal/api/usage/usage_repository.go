package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	database "github.com/rooftops-ai/entitlements/app/db"
	"github.com/rooftops-ai/entitlements/internal/types"
)

var _ Repository = (*PostgresUsageRepo)(nil)

// Repository is the month-bucketed usage store. All increments are single
// upsert statements so concurrent first-of-month requests cannot race a
// read-then-insert into duplicate rows, and counters stay exact under
// concurrent increments.
type Repository interface {
	// Get retrieves the usage row for a specific month.
	// Returns ErrNotFound when the user has no usage yet for that month.
	Get(ctx context.Context, userID uuid.UUID, month types.Month) (*types.UserUsage, error)

	// GetOrCreate returns the month's row, creating a zeroed one if absent.
	GetOrCreate(ctx context.Context, userID uuid.UUID, month types.Month) (*types.UserUsage, error)

	// IncrementReport adds one generated report to the current month.
	IncrementReport(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error)

	// IncrementChat adds one chat message to the premium or free counter and
	// maintains the daily counter: the first increment after a UTC day
	// rollover resets it to 1, otherwise it increments.
	IncrementChat(ctx context.Context, userID uuid.UUID, tier types.ModelTier) (*types.UserUsage, error)

	// IncrementWebSearch adds one web search to the current month.
	IncrementWebSearch(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error)

	// ResetDailyChatCount zeroes the daily counter. Scheduled-job fallback to
	// the lazy reset performed by IncrementChat.
	ResetDailyChatCount(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error)
}

type PostgresUsageRepo struct {
	logger *slog.Logger
	pgpool database.Querier
	now    func() time.Time
}

func NewPostgresUsageRepo(pgpool database.Querier, logger *slog.Logger) *PostgresUsageRepo {
	return &PostgresUsageRepo{
		logger: logger,
		pgpool: pgpool,
		now:    time.Now,
	}
}

const usageColumns = `id, user_id, month, reports_generated, chat_messages_premium,
	chat_messages_free, web_searches, daily_chat_count, last_chat_date, created_at, updated_at`

func scanUsage(row pgx.Row) (*types.UserUsage, error) {
	var u types.UserUsage
	var month time.Time
	err := row.Scan(
		&u.ID,
		&u.UserID,
		&month,
		&u.ReportsGenerated,
		&u.ChatMessagesPremium,
		&u.ChatMessagesFree,
		&u.WebSearches,
		&u.DailyChatCount,
		&u.LastChatDate,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Month = types.MonthOf(month)
	return &u, nil
}

func (r *PostgresUsageRepo) Get(ctx context.Context, userID uuid.UUID, month types.Month) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageRepo").Start(ctx, "Get", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "user_usage"),
		attribute.String("db.user.id", userID.String()),
		attribute.String("usage.month", month.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "Get"), slog.String("userID", userID.String()), slog.String("month", month.String()))

	query := `SELECT ` + usageColumns + ` FROM user_usage WHERE user_id = $1 AND month = $2`

	u, err := scanUsage(r.pgpool.QueryRow(ctx, query, userID, month.Time()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "No usage yet")
			return nil, fmt.Errorf("usage for %s: %w", month, types.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to query usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error fetching usage: %w", err)
	}

	span.SetStatus(codes.Ok, "Usage fetched")
	return u, nil
}

func (r *PostgresUsageRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, month types.Month) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageRepo").Start(ctx, "GetOrCreate", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "user_usage"),
		attribute.String("db.user.id", userID.String()),
		attribute.String("usage.month", month.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "GetOrCreate"), slog.String("userID", userID.String()), slog.String("month", month.String()))

	// Upsert-on-conflict rather than read-then-insert: two concurrent
	// first-of-month requests both land on the same single row.
	query := `
		INSERT INTO user_usage (user_id, month)
		VALUES ($1, $2)
		ON CONFLICT ON CONSTRAINT user_usage_user_month_key
		DO UPDATE SET updated_at = now()
		RETURNING ` + usageColumns

	u, err := scanUsage(r.pgpool.QueryRow(ctx, query, userID, month.Time()))
	if err != nil {
		l.ErrorContext(ctx, "Failed to get or create usage row", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return nil, fmt.Errorf("database error creating usage row: %w", err)
	}

	span.SetStatus(codes.Ok, "Usage row ready")
	return u, nil
}

func (r *PostgresUsageRepo) IncrementReport(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageRepo").Start(ctx, "IncrementReport", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "user_usage"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "IncrementReport"), slog.String("userID", userID.String()))

	query := `
		INSERT INTO user_usage (user_id, month, reports_generated)
		VALUES ($1, $2, 1)
		ON CONFLICT ON CONSTRAINT user_usage_user_month_key
		DO UPDATE SET reports_generated = user_usage.reports_generated + 1, updated_at = now()
		RETURNING ` + usageColumns

	u, err := scanUsage(r.pgpool.QueryRow(ctx, query, userID, types.MonthOf(r.now()).Time()))
	if err != nil {
		l.ErrorContext(ctx, "Failed to increment report usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return nil, fmt.Errorf("database error incrementing report usage: %w", err)
	}

	span.SetStatus(codes.Ok, "Report usage incremented")
	return u, nil
}

func (r *PostgresUsageRepo) IncrementChat(ctx context.Context, userID uuid.UUID, tier types.ModelTier) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageRepo").Start(ctx, "IncrementChat", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "user_usage"),
		attribute.String("db.user.id", userID.String()),
		attribute.String("usage.model_tier", string(tier)),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "IncrementChat"), slog.String("userID", userID.String()))

	now := r.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	isPremium := tier == types.ModelTierPremium

	// The daily counter reset is date-boundary-triggered inside the same
	// statement: IS DISTINCT FROM also covers the NULL first-ever-chat case.
	query := `
		INSERT INTO user_usage (user_id, month, chat_messages_premium, chat_messages_free, daily_chat_count, last_chat_date)
		VALUES ($1, $2,
			CASE WHEN $3 THEN 1 ELSE 0 END,
			CASE WHEN $3 THEN 0 ELSE 1 END,
			1, $4::date)
		ON CONFLICT ON CONSTRAINT user_usage_user_month_key
		DO UPDATE SET
			chat_messages_premium = user_usage.chat_messages_premium + CASE WHEN $3 THEN 1 ELSE 0 END,
			chat_messages_free    = user_usage.chat_messages_free + CASE WHEN $3 THEN 0 ELSE 1 END,
			daily_chat_count      = CASE WHEN user_usage.last_chat_date IS DISTINCT FROM $4::date THEN 1 ELSE user_usage.daily_chat_count + 1 END,
			last_chat_date        = $4::date,
			updated_at            = now()
		RETURNING ` + usageColumns

	u, err := scanUsage(r.pgpool.QueryRow(ctx, query, userID, types.MonthOf(now).Time(), isPremium, today))
	if err != nil {
		l.ErrorContext(ctx, "Failed to increment chat usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return nil, fmt.Errorf("database error incrementing chat usage: %w", err)
	}

	span.SetStatus(codes.Ok, "Chat usage incremented")
	return u, nil
}

func (r *PostgresUsageRepo) IncrementWebSearch(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageRepo").Start(ctx, "IncrementWebSearch", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "user_usage"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "IncrementWebSearch"), slog.String("userID", userID.String()))

	query := `
		INSERT INTO user_usage (user_id, month, web_searches)
		VALUES ($1, $2, 1)
		ON CONFLICT ON CONSTRAINT user_usage_user_month_key
		DO UPDATE SET web_searches = user_usage.web_searches + 1, updated_at = now()
		RETURNING ` + usageColumns

	u, err := scanUsage(r.pgpool.QueryRow(ctx, query, userID, types.MonthOf(r.now()).Time()))
	if err != nil {
		l.ErrorContext(ctx, "Failed to increment web search usage", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return nil, fmt.Errorf("database error incrementing web search usage: %w", err)
	}

	span.SetStatus(codes.Ok, "Web search usage incremented")
	return u, nil
}

func (r *PostgresUsageRepo) ResetDailyChatCount(ctx context.Context, userID uuid.UUID) (*types.UserUsage, error) {
	ctx, span := otel.Tracer("UsageRepo").Start(ctx, "ResetDailyChatCount", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "user_usage"),
		attribute.String("db.user.id", userID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ResetDailyChatCount"), slog.String("userID", userID.String()))

	query := `
		INSERT INTO user_usage (user_id, month, daily_chat_count)
		VALUES ($1, $2, 0)
		ON CONFLICT ON CONSTRAINT user_usage_user_month_key
		DO UPDATE SET daily_chat_count = 0, updated_at = now()
		RETURNING ` + usageColumns

	u, err := scanUsage(r.pgpool.QueryRow(ctx, query, userID, types.MonthOf(r.now()).Time()))
	if err != nil {
		l.ErrorContext(ctx, "Failed to reset daily chat count", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return nil, fmt.Errorf("database error resetting daily chat count: %w", err)
	}

	span.SetStatus(codes.Ok, "Daily chat count reset")
	return u, nil
}
