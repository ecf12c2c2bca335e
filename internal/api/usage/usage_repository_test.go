package usage

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooftops-ai/entitlements/internal/types"
)

var usageRowColumns = []string{
	"id", "user_id", "month", "reports_generated", "chat_messages_premium",
	"chat_messages_free", "web_searches", "daily_chat_count", "last_chat_date",
	"created_at", "updated_at",
}

func newUsageRepoWithMock(t *testing.T, now time.Time) (*PostgresUsageRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	repo := NewPostgresUsageRepo(mockPool, slog.Default())
	repo.now = func() time.Time { return now }
	return repo, mockPool
}

func TestGetReturnsNotFoundForMissingMonth(t *testing.T) {
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	mockPool.ExpectQuery(`SELECT .+ FROM user_usage WHERE user_id = \$1 AND month = \$2`).
		WithArgs(userID, month.Time()).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), userID, month)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetOrCreateUpsertsSingleRow(t *testing.T) {
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	mockPool.ExpectQuery(`INSERT INTO user_usage \(user_id, month\)`).
		WithArgs(userID, month.Time()).
		WillReturnRows(pgxmock.NewRows(usageRowColumns).
			AddRow(uuid.New(), userID, month.Time(), 0, 0, 0, 0, 0, nil, now, now))

	u, err := repo.GetOrCreate(context.Background(), userID, month)
	require.NoError(t, err)
	assert.Equal(t, userID, u.UserID)
	assert.Equal(t, month, u.Month)
	assert.Zero(t, u.ReportsGenerated)
	assert.Nil(t, u.LastChatDate)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestIncrementReportBucketsByCurrentMonth(t *testing.T) {
	now := time.Date(2025, time.July, 3, 8, 30, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	mockPool.ExpectQuery(`INSERT INTO user_usage \(user_id, month, reports_generated\)`).
		WithArgs(userID, month.Time()).
		WillReturnRows(pgxmock.NewRows(usageRowColumns).
			AddRow(uuid.New(), userID, month.Time(), 3, 0, 0, 0, 0, nil, now, now))

	u, err := repo.IncrementReport(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, u.ReportsGenerated)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestIncrementChatPassesModelTierAndToday(t *testing.T) {
	now := time.Date(2025, time.July, 3, 23, 45, 0, 0, time.UTC)
	today := time.Date(2025, time.July, 3, 0, 0, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	mockPool.ExpectQuery(`INSERT INTO user_usage \(user_id, month, chat_messages_premium, chat_messages_free, daily_chat_count, last_chat_date\)`).
		WithArgs(userID, month.Time(), true, today).
		WillReturnRows(pgxmock.NewRows(usageRowColumns).
			AddRow(uuid.New(), userID, month.Time(), 0, 12, 0, 0, 4, &today, now, now))

	u, err := repo.IncrementChat(context.Background(), userID, types.ModelTierPremium)
	require.NoError(t, err)
	assert.Equal(t, 12, u.ChatMessagesPremium)
	assert.Equal(t, 0, u.ChatMessagesFree)
	assert.Equal(t, 4, u.DailyChatCount)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestIncrementChatFreeTierTargetsFreeCounter(t *testing.T) {
	now := time.Date(2025, time.July, 4, 1, 0, 0, 0, time.UTC)
	today := time.Date(2025, time.July, 4, 0, 0, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	mockPool.ExpectQuery(`INSERT INTO user_usage`).
		WithArgs(userID, month.Time(), false, today).
		WillReturnRows(pgxmock.NewRows(usageRowColumns).
			AddRow(uuid.New(), userID, month.Time(), 0, 0, 5, 0, 1, &today, now, now))

	u, err := repo.IncrementChat(context.Background(), userID, types.ModelTierFree)
	require.NoError(t, err)
	assert.Equal(t, 5, u.ChatMessagesFree)
	assert.Equal(t, 1, u.DailyChatCount)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestResetDailyChatCountZeroesCounter(t *testing.T) {
	now := time.Date(2025, time.July, 4, 0, 5, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	mockPool.ExpectQuery(`INSERT INTO user_usage \(user_id, month, daily_chat_count\)`).
		WithArgs(userID, month.Time()).
		WillReturnRows(pgxmock.NewRows(usageRowColumns).
			AddRow(uuid.New(), userID, month.Time(), 2, 40, 0, 1, 0, nil, now, now))

	u, err := repo.ResetDailyChatCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, u.DailyChatCount)
	// Monthly counters are untouched by the daily reset.
	assert.Equal(t, 40, u.ChatMessagesPremium)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestGetPropagatesDatabaseError(t *testing.T) {
	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	repo, mockPool := newUsageRepoWithMock(t, now)
	userID := uuid.New()
	month := types.MonthOf(now)

	dbErr := errors.New("connection refused")
	mockPool.ExpectQuery(`SELECT .+ FROM user_usage`).
		WithArgs(userID, month.Time()).
		WillReturnError(dbErr)

	_, err := repo.Get(context.Background(), userID, month)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
