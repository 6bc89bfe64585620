package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"poolwatcher/internal/storage"
)

// defaultExportWindow is used when --from is not provided.
const defaultExportWindow = 30 * 24 * time.Hour

// Export renders one device's parameter history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Device == "" || opts.Parameter == "" {
		return errors.New("--device and --parameter are required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	readings, err := store.ListReadingsBetween(ctx, opts.Device, opts.Parameter, from, to, opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(readings) == 0 {
		a.Logger.Info().Msg("no readings found for export window")
		return nil
	}

	downsampled := downsampleReadings(readings, opts.MaxPoints)
	a.Logger.Info().Int("total", len(readings)).Int("exported", len(downsampled)).Msg("exporting readings")

	if opts.CSVPath != "" {
		if err := writeReadingsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeReadingsPNG(opts.PNGPath, opts.Parameter, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleReadings(readings []storage.Reading, max int) []storage.Reading {
	if max <= 0 || len(readings) <= max {
		return readings
	}

	result := make([]storage.Reading, 0, max)
	step := float64(len(readings)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(readings) {
			idx = len(readings) - 1
		}
		result = append(result, readings[idx])
	}
	return result
}

func writeReadingsCSV(path string, readings []storage.Reading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"measured_at", "device_serial", "account", "parameter", "value", "unit", "operator_name", "comment"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range readings {
		record := []string{
			r.MeasuredAt.UTC().Format(time.RFC3339),
			r.DeviceSerial,
			r.Account,
			r.Parameter,
			fmt.Sprintf("%.3f", r.Value),
			r.Unit,
			r.OperatorName,
			sanitizeInline(r.Comment),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeReadingsPNG(path, parameter string, readings []storage.Reading) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(readings))
	values := make([]float64, len(readings))
	for i, r := range readings {
		x[i] = r.MeasuredAt
		values[i] = r.Value
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	axisName := parameter
	if unit := readings[0].Unit; unit != "" {
		axisName = fmt.Sprintf("%s (%s)", parameter, unit)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           axisName,
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    parameter,
				XValues: x,
				YValues: values,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
