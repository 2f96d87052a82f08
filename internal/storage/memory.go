package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketwatch/internal/market"
)

// MemoryStore is the in-memory RuleStore used when no database is
// configured and as the reference implementation in tests. Rules are
// indexed by id with a secondary owner index, so lookups and the
// owner-checked delete are O(1).
type MemoryStore struct {
	mu sync.Mutex

	nextAlertID int64
	alerts      map[int64]*AlertRule
	alertsOwned map[int64]map[int64]struct{}

	subs map[int64]*SummarySubscription

	portfolios map[int64]map[string]PortfolioEntry

	nextPriceID int64
	prices      []PricePoint
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:      make(map[int64]*AlertRule),
		alertsOwned: make(map[int64]map[int64]struct{}),
		subs:        make(map[int64]*SummarySubscription),
		portfolios:  make(map[int64]map[string]PortfolioEntry),
	}
}

// CreateAlert validates and stores a rule, assigning a monotonic id.
func (m *MemoryStore) CreateAlert(_ context.Context, rule AlertRule) (AlertRule, error) {
	if err := rule.Validate(); err != nil {
		return AlertRule{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAlertID++
	rule.ID = m.nextAlertID
	rule.Slug = market.NormalizeSlug(rule.Slug)
	rule.State = AlertArmed
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	stored := rule
	m.alerts[rule.ID] = &stored
	owned, ok := m.alertsOwned[rule.OwnerID]
	if !ok {
		owned = make(map[int64]struct{})
		m.alertsOwned[rule.OwnerID] = owned
	}
	owned[rule.ID] = struct{}{}

	return rule, nil
}

// ListActiveAlerts returns all armed rules ordered by id.
func (m *MemoryStore) ListActiveAlerts(_ context.Context) ([]AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := make([]AlertRule, 0)
	for _, rule := range m.alerts {
		if rule.State == AlertArmed {
			rules = append(rules, *rule)
		}
	}
	sortRulesByID(rules)
	return rules, nil
}

// ListAlertsByOwner returns the owner's rules in any state.
func (m *MemoryStore) ListAlertsByOwner(_ context.Context, ownerID int64) ([]AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := make([]AlertRule, 0)
	for id := range m.alertsOwned[ownerID] {
		if rule, ok := m.alerts[id]; ok {
			rules = append(rules, *rule)
		}
	}
	sortRulesByID(rules)
	return rules, nil
}

// MarkAlertTriggered transitions armed to triggered, reporting whether
// this call performed the transition.
func (m *MemoryStore) MarkAlertTriggered(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.alerts[id]
	if !ok || rule.State != AlertArmed {
		return false, nil
	}

	rule.State = AlertTriggered
	ts := at
	rule.TriggeredAt = &ts
	return true, nil
}

// DeleteAlert removes the rule only when the requester matches its owner
// or destination chat; a mismatch leaves it intact and reports zero rows.
func (m *MemoryStore) DeleteAlert(_ context.Context, id, requesterID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.alerts[id]
	if !ok {
		return 0, nil
	}
	if rule.OwnerID != requesterID && rule.ChatID != requesterID {
		return 0, nil
	}

	delete(m.alerts, id)
	if owned, ok := m.alertsOwned[rule.OwnerID]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(m.alertsOwned, rule.OwnerID)
		}
	}
	return 1, nil
}

// ListRecentTriggered returns fired rules, most recent first.
func (m *MemoryStore) ListRecentTriggered(_ context.Context, limit int) ([]AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rules := make([]AlertRule, 0)
	for _, rule := range m.alerts {
		if rule.State == AlertTriggered {
			rules = append(rules, *rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool {
		ti, tj := rules[i].TriggeredAt, rules[j].TriggeredAt
		if ti == nil || tj == nil {
			return rules[i].ID > rules[j].ID
		}
		return ti.After(*tj)
	})
	if limit > 0 && len(rules) > limit {
		rules = rules[:limit]
	}
	return rules, nil
}

// UpsertSubscription creates or overwrites the destination's
// subscription and re-enables it.
func (m *MemoryStore) UpsertSubscription(_ context.Context, chatID int64, intervalMinutes int) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("subscription interval must be positive, got %d", intervalMinutes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[chatID]
	if !ok {
		m.subs[chatID] = &SummarySubscription{
			ChatID:          chatID,
			IntervalMinutes: intervalMinutes,
			Enabled:         true,
		}
		return nil
	}
	sub.IntervalMinutes = intervalMinutes
	sub.Enabled = true
	return nil
}

// DisableSubscription turns summaries off, retaining the interval.
func (m *MemoryStore) DisableSubscription(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[chatID]; ok {
		sub.Enabled = false
	}
	return nil
}

// ListEnabledSubscriptions returns active subscriptions ordered by chat.
func (m *MemoryStore) ListEnabledSubscriptions(_ context.Context) ([]SummarySubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := make([]SummarySubscription, 0)
	for _, sub := range m.subs {
		if sub.Enabled && sub.IntervalMinutes > 0 {
			subs = append(subs, *sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ChatID < subs[j].ChatID })
	return subs, nil
}

// TouchSubscription stamps the destination's last send time.
func (m *MemoryStore) TouchSubscription(_ context.Context, chatID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[chatID]; ok {
		ts := at
		sub.LastSentAt = &ts
	}
	return nil
}

// SetPortfolioItem upserts an entry; a non-positive amount deletes it.
func (m *MemoryStore) SetPortfolioItem(_ context.Context, entry PortfolioEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slug := market.NormalizeSlug(entry.Slug)
	owned, ok := m.portfolios[entry.OwnerID]

	if entry.Amount.Sign() <= 0 {
		if ok {
			delete(owned, slug)
			if len(owned) == 0 {
				delete(m.portfolios, entry.OwnerID)
			}
		}
		return nil
	}

	if !ok {
		owned = make(map[string]PortfolioEntry)
		m.portfolios[entry.OwnerID] = owned
	}
	entry.Slug = slug
	owned[slug] = entry
	return nil
}

// GetPortfolio lists the owner's entries ordered by slug.
func (m *MemoryStore) GetPortfolio(_ context.Context, ownerID int64) ([]PortfolioEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]PortfolioEntry, 0)
	for _, entry := range m.portfolios[ownerID] {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Slug < entries[j].Slug })
	return entries, nil
}

// AppendPricePoints appends history rows, assigning ids.
func (m *MemoryStore) AppendPricePoints(_ context.Context, points []PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, point := range points {
		m.nextPriceID++
		point.ID = m.nextPriceID
		point.Slug = market.NormalizeSlug(point.Slug)
		m.prices = append(m.prices, point)
	}
	return nil
}

// ListPriceHistory returns one asset's points within [from, to).
func (m *MemoryStore) ListPriceHistory(_ context.Context, slug string, from, to time.Time) ([]PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slug = market.NormalizeSlug(slug)
	points := make([]PricePoint, 0)
	for _, point := range m.prices {
		if point.Slug != slug {
			continue
		}
		if point.RecordedAt.Before(from) || !point.RecordedAt.Before(to) {
			continue
		}
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].RecordedAt.Before(points[j].RecordedAt) })
	return points, nil
}

// DeletePricesBefore prunes history older than the cutoff.
func (m *MemoryStore) DeletePricesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.prices[:0]
	var removed int64
	for _, point := range m.prices {
		if point.RecordedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, point)
	}
	m.prices = kept
	return removed, nil
}

func sortRulesByID(rules []AlertRule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}

var _ RuleStore = (*MemoryStore)(nil)
