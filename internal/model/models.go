// Package model defines the data models for the greenloop gamification engine.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VerificationStatus is the admin review state of an action.
type VerificationStatus string

// Verification states.
const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusRejected VerificationStatus = "rejected"
)

// ImpactUnit is the unit an action's impact value is measured in.
type ImpactUnit string

// Supported impact units.
const (
	UnitKgCO2  ImpactUnit = "kg_co2"
	UnitKWh    ImpactUnit = "kwh"
	UnitLiters ImpactUnit = "liters"
	UnitKm     ImpactUnit = "km"
)

// User is a platform account. Only active users appear on leaderboards.
type User struct {
	ID          uuid.UUID `db:"id"`
	Email       string    `db:"email" validate:"required,email"`
	DisplayName string    `db:"display_name" validate:"max=100"`
	Department  *string   `db:"department"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
}

// Category groups actions and carries the points multiplier used for scoring.
type Category struct {
	ID               uuid.UUID       `db:"id"`
	Name             string          `db:"name" validate:"required,max=100"`
	PointsMultiplier decimal.Decimal `db:"points_multiplier"`
	IsActive         bool            `db:"is_active"`
}

// Action is a sustainability action logged by a user.
// It is mutated only by verification and by the scoring step (PointsEarned).
type Action struct {
	ID                 uuid.UUID          `db:"id"`
	UserID             uuid.UUID          `db:"user_id" validate:"required"`
	CategoryID         uuid.UUID          `db:"category_id" validate:"required"`
	Title              string             `db:"title" validate:"min=3,max=200"`
	ImpactValue        *decimal.Decimal   `db:"impact_value"`
	ImpactUnit         *ImpactUnit        `db:"impact_unit" validate:"omitempty,oneof=kg_co2 kwh liters km"`
	ActionDate         time.Time          `db:"action_date" validate:"required"`
	PointsEarned       int64              `db:"points_earned"`
	VerificationStatus VerificationStatus `db:"verification_status" validate:"oneof=pending verified rejected"`
	VerifiedBy         *uuid.UUID         `db:"verified_by"`
	VerifiedAt         *time.Time         `db:"verified_at"`
	VerificationNotes  *string            `db:"verification_notes" validate:"omitempty,max=500"`
	CreatedAt          time.Time          `db:"created_at"`
}

// IsVerified reports whether the action passed admin review.
func (a *Action) IsVerified() bool {
	return a.VerificationStatus == StatusVerified
}

// TxType categorizes ledger entries.
type TxType string

// Ledger entry types.
const (
	TxTypeActionCredit    TxType = "action_credit"    // Points for a verified action
	TxTypeAdminAdjustment TxType = "admin_adjustment" // Administrative correction
)

// PointTransaction is one append-only ledger entry.
type PointTransaction struct {
	ID              int64      `db:"id"`
	UserID          uuid.UUID  `db:"user_id"`
	Points          int64      `db:"points"`
	Type            TxType     `db:"transaction_type"`
	Description     *string    `db:"description"`
	RelatedActionID *uuid.UUID `db:"related_action_id"`
	CreatedAt       time.Time  `db:"created_at"`
}

// UserPoints is the per-user aggregate derived from the ledger.
// TotalPoints always equals the sum of the user's PointTransaction points.
// LastActionDate holds a calendar date (midnight UTC) in the configured zone.
type UserPoints struct {
	UserID         uuid.UUID  `db:"user_id"`
	TotalPoints    int64      `db:"total_points"`
	CurrentStreak  int        `db:"current_streak"`
	LongestStreak  int        `db:"longest_streak"`
	LastActionDate *time.Time `db:"last_action_date"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// CriteriaType is the rule a badge uses to decide eligibility.
type CriteriaType string

// Badge criteria.
const (
	CriteriaActionCount    CriteriaType = "action_count"
	CriteriaPointsTotal    CriteriaType = "points_total"
	CriteriaStreakDays     CriteriaType = "streak_days"
	CriteriaCategoryMaster CriteriaType = "category_master"
)

// Rarity is a cosmetic badge tier.
type Rarity string

// Badge rarities.
const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Badge is a static badge definition.
type Badge struct {
	ID            uuid.UUID    `db:"id"`
	Name          string       `db:"name" validate:"min=3,max=100"`
	Description   string       `db:"description" validate:"max=500"`
	CriteriaType  CriteriaType `db:"criteria_type" validate:"oneof=action_count points_total streak_days category_master"`
	CriteriaValue int64        `db:"criteria_value" validate:"gt=0"`
	CategoryID    *uuid.UUID   `db:"category_id" validate:"required_if=CriteriaType category_master"`
	Rarity        Rarity       `db:"rarity" validate:"oneof=common rare epic legendary"`
	IsActive      bool         `db:"is_active"`
	CreatedAt     time.Time    `db:"created_at"`
}

// UserBadge records that a user earned a badge. At most one row exists per pair.
type UserBadge struct {
	UserID   uuid.UUID `db:"user_id"`
	BadgeID  uuid.UUID `db:"badge_id"`
	EarnedAt time.Time `db:"earned_at"`
}

// Timeframe is the rolling window a leaderboard aggregates over.
type Timeframe string

// Leaderboard timeframes.
const (
	TimeframeWeekly  Timeframe = "weekly"
	TimeframeMonthly Timeframe = "monthly"
	TimeframeAll     Timeframe = "all"
)

// ParseTimeframe converts user input into a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(s); tf {
	case TimeframeWeekly, TimeframeMonthly, TimeframeAll:
		return tf, nil
	default:
		return "", fmt.Errorf("%w: unknown timeframe %q", ErrValidation, s)
	}
}

// Window returns the trailing duration of the timeframe, or 0 for unbounded.
func (tf Timeframe) Window() time.Duration {
	switch tf {
	case TimeframeWeekly:
		return 7 * 24 * time.Hour
	case TimeframeMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// LeaderboardEntry is one derived leaderboard row. Never persisted.
type LeaderboardEntry struct {
	UserID         uuid.UUID  `db:"user_id" msgpack:"user_id"`
	DisplayName    string     `db:"display_name" msgpack:"display_name"`
	Points         int64      `db:"points" msgpack:"points"`
	Rank           int        `msgpack:"rank"`
	LastActionDate *time.Time `db:"last_action_date" msgpack:"last_action_date"`
}

// StatsSnapshot is a point-in-time read of a user's stats used for badge evaluation.
type StatsSnapshot struct {
	UserID          uuid.UUID
	TotalPoints     int64
	CurrentStreak   int
	LongestStreak   int
	VerifiedActions int64
	CategoryActions map[uuid.UUID]int64
	OwnedBadges     map[uuid.UUID]time.Time
}

// Owns reports whether the snapshot already holds badgeID.
func (s *StatsSnapshot) Owns(badgeID uuid.UUID) bool {
	_, ok := s.OwnedBadges[badgeID]
	return ok
}

// CategoryBreakdown summarizes a user's verified actions in one category.
type CategoryBreakdown struct {
	CategoryID   uuid.UUID `db:"category_id"`
	CategoryName string    `db:"name"`
	ActionCount  int64     `db:"action_count"`
	Points       int64     `db:"total_points"`
}
