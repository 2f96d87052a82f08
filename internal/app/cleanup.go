package app

import (
	"context"
	"errors"
	"time"
)

// Cleanup deletes price history older than the retention window.
func (a *App) Cleanup(ctx context.Context, opts CleanupOptions) error {
	retention := opts.Retention
	if retention <= 0 {
		retention = a.Config.History.Retention
	}
	if retention <= 0 {
		return errors.New("retention must be greater than zero")
	}

	store, closeStore, err := a.openPersistentStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := store.DeletePricesBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("price history cleanup complete")
	return nil
}
