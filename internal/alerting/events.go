package alerting

import (
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
	"marketwatch/internal/storage"
)

// Kind discriminates outbound event payloads.
type Kind string

const (
	KindAlertTriggered Kind = "alert_triggered"
	KindSummary        Kind = "summary"
)

// Event is one outbound notification. The core emits events; the
// delivery transport owns formatting and its own retry policy. Delivery
// failure never re-arms a rule or re-emits an event.
type Event struct {
	Kind          Kind
	DestinationID int64
	Alert         *AlertPayload
	Summary       *SummaryPayload
}

// AlertPayload carries a fired rule and the price that fired it.
type AlertPayload struct {
	Rule          storage.AlertRule
	ObservedPrice decimal.Decimal
	ObservedAt    time.Time
}

// SummaryPayload carries the snapshot a summary is rendered from.
type SummaryPayload struct {
	Snapshot    market.Snapshot
	GeneratedAt time.Time
}
