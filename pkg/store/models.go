package store

import "time"

// User is the persisted internal identity for an upstream account.
// ExternalID is the upstream identifier; InternalID is minted once on
// first login and never changes, and is the handle every other
// subsystem (profile, social, leaderboard) keys on.
//
// The aggregate columns are denormalized caches written by the
// opportunistic refresh; they never feed back into the upstream.
type User struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	ExternalID string `gorm:"uniqueIndex;not null" json:"-"`
	InternalID string `gorm:"uniqueIndex;not null" json:"internal_id"`

	DisplayName *string `gorm:"uniqueIndex" json:"display_name"`
	Bio         string  `json:"bio"`
	School      string  `json:"school"`

	Average      *float64   `json:"average"`
	AbsenceHours *float64   `json:"absence_hours"`
	DelayCount   *float64   `json:"delay_count"`
	LastRefresh  *time.Time `json:"last_refresh"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// Ranks holds 1-based leaderboard positions over the cached aggregates.
type Ranks struct {
	Average      int `json:"average_rank"`
	AbsenceHours int `json:"absences_rank"`
	DelayCount   int `json:"delays_rank"`
}

// AggregateUpdate carries the refreshed cached fields. Nil fields are
// left untouched.
type AggregateUpdate struct {
	School       *string
	Average      *float64
	AbsenceHours *float64
	DelayCount   *float64
}
