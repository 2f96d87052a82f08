package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketwatch/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// AlertStore defines persistence for threshold rules.
type AlertStore interface {
	CreateAlert(ctx context.Context, rule AlertRule) (AlertRule, error)
	ListActiveAlerts(ctx context.Context) ([]AlertRule, error)
	ListAlertsByOwner(ctx context.Context, ownerID int64) ([]AlertRule, error)
	// MarkAlertTriggered conditionally transitions a rule from armed to
	// triggered and reports whether this call performed the transition.
	MarkAlertTriggered(ctx context.Context, id int64, at time.Time) (bool, error)
	// DeleteAlert removes a rule only when the requester matches the
	// rule's owner or its destination chat; returns rows removed.
	DeleteAlert(ctx context.Context, id, requesterID int64) (int64, error)
	ListRecentTriggered(ctx context.Context, limit int) ([]AlertRule, error)
}

// SubscriptionStore defines persistence for summary subscriptions.
type SubscriptionStore interface {
	// UpsertSubscription creates or overwrites the destination's
	// subscription, re-enabling it if it was disabled.
	UpsertSubscription(ctx context.Context, chatID int64, intervalMinutes int) error
	DisableSubscription(ctx context.Context, chatID int64) error
	ListEnabledSubscriptions(ctx context.Context) ([]SummarySubscription, error)
	TouchSubscription(ctx context.Context, chatID int64, at time.Time) error
}

// PortfolioStore defines persistence for portfolio entries.
type PortfolioStore interface {
	SetPortfolioItem(ctx context.Context, entry PortfolioEntry) error
	GetPortfolio(ctx context.Context, ownerID int64) ([]PortfolioEntry, error)
}

// PriceHistoryStore defines append-only price history persistence.
type PriceHistoryStore interface {
	AppendPricePoints(ctx context.Context, points []PricePoint) error
	ListPriceHistory(ctx context.Context, slug string, from, to time.Time) ([]PricePoint, error)
	DeletePricesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RuleStore aggregates everything the service needs from persistence.
type RuleStore interface {
	AlertStore
	SubscriptionStore
	PortfolioStore
	PriceHistoryStore
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
