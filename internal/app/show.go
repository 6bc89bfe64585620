package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"poolwatcher/internal/storage"
)

// Show prints recent readings, or recent alerts with --alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show readings")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}

	readings, err := store.ListRecentReadings(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Measured (UTC)\tDevice\tParameter\tValue\tUnit\tOperator\tComment")

	for _, r := range readings {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			r.MeasuredAt.UTC().Format(time.RFC3339),
			r.DeviceSerial,
			r.Parameter,
			r.Value,
			r.Unit,
			r.OperatorName,
			sanitizeInline(r.Comment),
		)
	}

	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tDevice\tMetric\tValue\tThreshold\tChannels")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.DeviceSerial,
			alert.Metric,
			alert.Value,
			alert.Threshold,
			strings.Join(alert.Channels, ","),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
