package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
)

// AlertState is the lifecycle state of a threshold rule. Triggering is
// one-way: a triggered rule is retained for history but never re-armed.
type AlertState string

const (
	AlertArmed     AlertState = "armed"
	AlertTriggered AlertState = "triggered"
)

// Direction selects which side of the target price fires the rule.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// ParseDirection validates a user-supplied direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionAbove:
		return DirectionAbove, nil
	case DirectionBelow:
		return DirectionBelow, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// AlertRule is a one-shot threshold rule. OwnerID is the creating user;
// ChatID is the destination the trigger notification is routed to (equal
// to OwnerID for private rules, the group chat for group rules).
type AlertRule struct {
	ID          int64
	OwnerID     int64
	ChatID      int64
	Slug        string
	Category    market.Category
	Direction   Direction
	TargetPrice decimal.Decimal
	State       AlertState
	CreatedAt   time.Time
	TriggeredAt *time.Time
}

// Validate checks the invariants enforced at creation time.
func (r AlertRule) Validate() error {
	if r.Slug == "" {
		return errors.New("alert rule: slug is required")
	}
	if _, err := market.ParseCategory(string(r.Category)); err != nil {
		return fmt.Errorf("alert rule: %w", err)
	}
	if r.Direction != DirectionAbove && r.Direction != DirectionBelow {
		return fmt.Errorf("alert rule: unknown direction %q", r.Direction)
	}
	if r.TargetPrice.Sign() <= 0 {
		return errors.New("alert rule: target price must be positive")
	}
	return nil
}

// SummarySubscription is a per-destination recurring summary send.
type SummarySubscription struct {
	ChatID          int64
	IntervalMinutes int
	LastSentAt      *time.Time
	Enabled         bool
}

// Interval returns the subscription interval as a duration.
func (s SummarySubscription) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// PortfolioEntry is one owned amount of an asset. At most one entry per
// (owner, slug); writing a non-positive amount deletes the entry.
type PortfolioEntry struct {
	OwnerID  int64
	Slug     string
	Category market.Category
	Amount   decimal.Decimal
}

// PricePoint is one appended history observation for an asset.
type PricePoint struct {
	ID         int64
	Category   market.Category
	Slug       string
	Name       string
	Price      decimal.Decimal
	RecordedAt time.Time
}
