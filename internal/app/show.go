package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"marketwatch/internal/market"
	"marketwatch/internal/storage"
)

type alertLister interface {
	ListRecentTriggered(ctx context.Context, limit int) ([]storage.AlertRule, error)
}

type historyLister interface {
	ListPriceHistory(ctx context.Context, slug string, from, to time.Time) ([]storage.PricePoint, error)
}

// Show prints recently triggered alerts, or one asset's recent price
// points when a slug is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openPersistentStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Triggered || opts.Slug == "" {
		return a.showTriggered(ctx, store, opts.Limit)
	}
	return a.showHistory(ctx, store, opts)
}

func (a *App) showTriggered(ctx context.Context, store alertLister, limit int) error {
	rules, err := store.ListRecentTriggered(ctx, limit)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		fmt.Fprintln(os.Stdout, "no triggered alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Triggered (UTC)\tOwner\tCategory\tAsset\tDirection\tTarget")

	for _, rule := range rules {
		triggeredAt := ""
		if rule.TriggeredAt != nil {
			triggeredAt = rule.TriggeredAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\n",
			triggeredAt,
			rule.OwnerID,
			rule.Category,
			sanitizeInline(rule.Slug),
			rule.Direction,
			formatDecimal(rule.TargetPrice, 0),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showHistory(ctx context.Context, store historyLister, opts ShowOptions) error {
	to := time.Now().UTC()
	from := to.Add(-a.Config.History.Retention)

	slug := market.NormalizeSlug(opts.Slug)
	points, err := store.ListPriceHistory(ctx, slug, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stdout, "no price points found")
		return nil
	}

	if opts.Limit > 0 && len(points) > opts.Limit {
		points = points[len(points)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCategory\tAsset\tPrice")

	for _, point := range points {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			point.RecordedAt.UTC().Format(time.RFC3339),
			point.Category,
			sanitizeInline(point.Slug),
			formatDecimal(point.Price, 0),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
