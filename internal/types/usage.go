package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Month is a UTC calendar-month bucket. It replaces the string-keyed
// "YYYY-MM" scheme of the original schema with a value type so comparisons
// are explicit and timezone handling lives in exactly one place.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf buckets t into its UTC calendar month.
func MonthOf(t time.Time) Month {
	u := t.UTC()
	return Month{Year: u.Year(), Month: u.Month()}
}

// CurrentMonth is the bucket for the current UTC time.
func CurrentMonth() Month {
	return MonthOf(time.Now())
}

// Time returns the first instant of the month, which is how the bucket is
// stored in the month DATE column.
func (m Month) Time() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Before reports whether m is an earlier bucket than other.
func (m Month) Before(other Month) bool {
	return m.Year < other.Year || (m.Year == other.Year && m.Month < other.Month)
}

// SameDay reports whether a and b fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// ModelTier classifies a chat model for usage accounting.
type ModelTier string

const (
	ModelTierFree    ModelTier = "free"
	ModelTierPremium ModelTier = "premium"
)

// UserUsage is one user's consumption counters for one calendar month.
// Counters only ever increase within a bucket; a new month creates a fresh
// zeroed row. The daily chat counter resets lazily on the first increment
// after a UTC day rollover.
type UserUsage struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              uuid.UUID  `json:"user_id"`
	Month               Month      `json:"month"`
	ReportsGenerated    int        `json:"reports_generated"`
	ChatMessagesPremium int        `json:"chat_messages_premium"`
	ChatMessagesFree    int        `json:"chat_messages_free"`
	WebSearches         int        `json:"web_searches"`
	DailyChatCount      int        `json:"daily_chat_count"`
	LastChatDate        *time.Time `json:"last_chat_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}
