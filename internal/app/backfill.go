package app

import (
	"context"
	"errors"
	"time"

	"poolwatcher/internal/labcom"
	"poolwatcher/internal/storage"
)

// Backfill pulls historical readings for every discovered device into the
// database via the measurement-history query.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Hours <= 0 {
		return errors.New("--hours must be greater than zero")
	}

	var store *storage.Store
	var closeStore func()
	var err error

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
	}

	client := a.newClient()
	cache := labcom.NewCache(client, a.Config.Labcom.CacheTTL, a.Logger)

	devices, err := a.validateSetup(ctx, cache)
	if err != nil {
		return err
	}

	written := 0
	skipped := 0
	failed := 0
	for _, device := range devices {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		history, err := client.MeasurementHistory(ctx, device.ID, opts.Hours)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("device", device.ID).Msg("history fetch failed")
			continue
		}

		a.Logger.Info().Str("device", device.ID).Int("count", len(history)).Msg("history fetched")
		for _, m := range history {
			if !m.TimestampValid {
				skipped++
				continue
			}
			if opts.DryRun {
				written++
				continue
			}
			reading := storage.Reading{
				DeviceSerial:  device.ID,
				Account:       m.Account,
				Parameter:     m.Parameter,
				MeasurementID: m.ID,
				Value:         m.Value,
				Unit:          m.Unit,
				MeasuredAt:    time.Unix(m.MeasuredAt, 0).UTC(),
				OperatorName:  m.OperatorName,
				Comment:       m.Comment,
			}
			if err := store.UpsertReading(ctx, reading); err != nil {
				failed++
				a.Logger.Error().Err(err).Str("device", device.ID).Msg("upsert reading failed")
				continue
			}
			written++
		}
	}

	a.Logger.Info().
		Int("written", written).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("backfill complete")
	if failed > 0 {
		return errors.New("some readings failed to backfill, check logs")
	}
	return nil
}
