package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"marketwatch/internal/market"
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        owner_id, chat_id, slug, category, direction, target_price, state, created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id;`

	alertColumns = `id, owner_id, chat_id, slug, category, direction, target_price, state, created_at, triggered_at`

	listActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE state = 'armed'
    ORDER BY id;`

	listAlertsByOwnerSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE owner_id = $1
    ORDER BY id;`

	markAlertTriggeredSQL = `UPDATE alerts
    SET state = 'triggered', triggered_at = $2
    WHERE id = $1 AND state = 'armed';`

	deleteAlertSQL = `DELETE FROM alerts
    WHERE id = $1 AND (owner_id = $2 OR chat_id = $2);`

	listRecentTriggeredSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE state = 'triggered'
    ORDER BY triggered_at DESC
    LIMIT $1;`

	upsertSubscriptionSQL = `INSERT INTO summary_subscriptions (chat_id, interval_minutes, enabled)
    VALUES ($1, $2, TRUE)
    ON CONFLICT (chat_id) DO UPDATE
    SET interval_minutes = EXCLUDED.interval_minutes,
        enabled          = TRUE;`

	disableSubscriptionSQL = `UPDATE summary_subscriptions SET enabled = FALSE WHERE chat_id = $1;`

	listEnabledSubscriptionsSQL = `SELECT chat_id, interval_minutes, last_sent_at, enabled
    FROM summary_subscriptions
    WHERE enabled = TRUE AND interval_minutes > 0
    ORDER BY chat_id;`

	touchSubscriptionSQL = `UPDATE summary_subscriptions SET last_sent_at = $2 WHERE chat_id = $1;`

	upsertPortfolioSQL = `INSERT INTO portfolios (owner_id, slug, category, amount)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (owner_id, slug) DO UPDATE
    SET category = EXCLUDED.category,
        amount   = EXCLUDED.amount;`

	deletePortfolioItemSQL = `DELETE FROM portfolios WHERE owner_id = $1 AND slug = $2;`

	getPortfolioSQL = `SELECT owner_id, slug, category, amount
    FROM portfolios
    WHERE owner_id = $1
    ORDER BY slug;`

	insertPricePointSQL = `INSERT INTO price_history (category, slug, name, price, recorded_at)
    VALUES ($1, $2, $3, $4, $5);`

	listPriceHistorySQL = `SELECT id, category, slug, name, price, recorded_at
    FROM price_history
    WHERE slug = $1
      AND recorded_at >= $2
      AND recorded_at < $3
    ORDER BY recorded_at;`

	deletePricesBeforeSQL = `DELETE FROM price_history WHERE recorded_at < $1;`
)

// Store is the PostgreSQL-backed RuleStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateAlert validates and persists a new rule, returning it with its id.
func (s *Store) CreateAlert(ctx context.Context, rule AlertRule) (AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRule{}, err
	}
	if err := rule.Validate(); err != nil {
		return AlertRule{}, err
	}

	rule.Slug = market.NormalizeSlug(rule.Slug)
	rule.State = AlertArmed
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		rule.OwnerID,
		rule.ChatID,
		rule.Slug,
		string(rule.Category),
		string(rule.Direction),
		rule.TargetPrice.String(),
		string(rule.State),
		rule.CreatedAt,
	)
	if err := row.Scan(&rule.ID); err != nil {
		return AlertRule{}, fmt.Errorf("insert alert: %w", err)
	}
	return rule, nil
}

// ListActiveAlerts returns all armed rules.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]AlertRule, error) {
	return s.listAlerts(ctx, listActiveAlertsSQL)
}

// ListAlertsByOwner returns every rule created by the owner, any state.
func (s *Store) ListAlertsByOwner(ctx context.Context, ownerID int64) ([]AlertRule, error) {
	return s.listAlerts(ctx, listAlertsByOwnerSQL, ownerID)
}

// ListRecentTriggered returns the most recently fired rules.
func (s *Store) ListRecentTriggered(ctx context.Context, limit int) ([]AlertRule, error) {
	return s.listAlerts(ctx, listRecentTriggeredSQL, limit)
}

func (s *Store) listAlerts(ctx context.Context, sql string, args ...any) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		rule, scanErr := scanAlertRule(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// MarkAlertTriggered performs the armed-to-triggered transition. The WHERE
// clause on state makes the transition exactly-once: a second caller sees
// zero rows affected.
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64, at time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markAlertTriggeredSQL, id, at)
	if execErr != nil {
		return false, fmt.Errorf("mark alert triggered: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAlert removes a rule when the requester is authorized for it.
func (s *Store) DeleteAlert(ctx context.Context, id, requesterID int64) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertSQL, id, requesterID)
	if execErr != nil {
		return 0, fmt.Errorf("delete alert: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// UpsertSubscription creates or overwrites a destination's subscription.
func (s *Store) UpsertSubscription(ctx context.Context, chatID int64, intervalMinutes int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if intervalMinutes <= 0 {
		return fmt.Errorf("subscription interval must be positive, got %d", intervalMinutes)
	}
	if _, execErr := pool.Exec(ctx, upsertSubscriptionSQL, chatID, intervalMinutes); execErr != nil {
		return fmt.Errorf("upsert subscription: %w", execErr)
	}
	return nil
}

// DisableSubscription turns a destination's summaries off without
// forgetting its interval.
func (s *Store) DisableSubscription(ctx context.Context, chatID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, disableSubscriptionSQL, chatID); execErr != nil {
		return fmt.Errorf("disable subscription: %w", execErr)
	}
	return nil
}

// ListEnabledSubscriptions returns subscriptions eligible for evaluation.
func (s *Store) ListEnabledSubscriptions(ctx context.Context) ([]SummarySubscription, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEnabledSubscriptionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscriptions: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]SummarySubscription, 0)
	for rows.Next() {
		var sub SummarySubscription
		if err := rows.Scan(&sub.ChatID, &sub.IntervalMinutes, &sub.LastSentAt, &sub.Enabled); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// TouchSubscription stamps the destination's last send time.
func (s *Store) TouchSubscription(ctx context.Context, chatID int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, touchSubscriptionSQL, chatID, at); execErr != nil {
		return fmt.Errorf("touch subscription: %w", execErr)
	}
	return nil
}

// SetPortfolioItem upserts an entry; a non-positive amount deletes it.
func (s *Store) SetPortfolioItem(ctx context.Context, entry PortfolioEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	slug := market.NormalizeSlug(entry.Slug)
	if entry.Amount.Sign() <= 0 {
		if _, execErr := pool.Exec(ctx, deletePortfolioItemSQL, entry.OwnerID, slug); execErr != nil {
			return fmt.Errorf("delete portfolio item: %w", execErr)
		}
		return nil
	}

	if _, execErr := pool.Exec(ctx, upsertPortfolioSQL, entry.OwnerID, slug, string(entry.Category), entry.Amount.String()); execErr != nil {
		return fmt.Errorf("upsert portfolio item: %w", execErr)
	}
	return nil
}

// GetPortfolio lists the owner's entries.
func (s *Store) GetPortfolio(ctx context.Context, ownerID int64) ([]PortfolioEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getPortfolioSQL, ownerID)
	if queryErr != nil {
		return nil, fmt.Errorf("get portfolio: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]PortfolioEntry, 0)
	for rows.Next() {
		var entry PortfolioEntry
		var category, amountStr string
		if err := rows.Scan(&entry.OwnerID, &entry.Slug, &category, &amountStr); err != nil {
			return nil, err
		}
		entry.Category = market.Category(category)
		amount, convErr := decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse portfolio amount: %w", convErr)
		}
		entry.Amount = amount
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// AppendPricePoints inserts history rows in one batch.
func (s *Store) AppendPricePoints(ctx context.Context, points []PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, point := range points {
		batch.Queue(insertPricePointSQL,
			string(point.Category),
			market.NormalizeSlug(point.Slug),
			point.Name,
			point.Price.String(),
			point.RecordedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("append price point: %w", execErr)
		}
	}
	return nil
}

// ListPriceHistory returns one asset's points within [from, to).
func (s *Store) ListPriceHistory(ctx context.Context, slug string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceHistorySQL, market.NormalizeSlug(slug), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var point PricePoint
		var category, priceStr string
		if err := rows.Scan(&point.ID, &category, &point.Slug, &point.Name, &priceStr, &point.RecordedAt); err != nil {
			return nil, err
		}
		point.Category = market.Category(category)
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price point: %w", convErr)
		}
		point.Price = price
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// DeletePricesBefore prunes history rows older than the cutoff.
func (s *Store) DeletePricesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deletePricesBeforeSQL, cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("delete prices before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanAlertRule(rows pgx.Rows) (AlertRule, error) {
	var (
		rule        AlertRule
		category    string
		direction   string
		targetStr   string
		state       string
		triggeredAt *time.Time
	)

	if err := rows.Scan(
		&rule.ID,
		&rule.OwnerID,
		&rule.ChatID,
		&rule.Slug,
		&category,
		&direction,
		&targetStr,
		&state,
		&rule.CreatedAt,
		&triggeredAt,
	); err != nil {
		return AlertRule{}, err
	}

	rule.Category = market.Category(category)
	rule.Direction = Direction(direction)
	rule.State = AlertState(state)
	rule.TriggeredAt = triggeredAt

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return AlertRule{}, fmt.Errorf("parse target price: %w", err)
	}
	rule.TargetPrice = target

	return rule, nil
}

var _ RuleStore = (*Store)(nil)
