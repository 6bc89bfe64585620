package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertReadingSQL = `INSERT INTO readings (
        device_serial,
        account,
        parameter,
        measurement_id,
        value,
        unit,
        measured_at,
        operator_name,
        comment
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    ON CONFLICT (device_serial, parameter, measured_at) DO UPDATE
    SET
        account        = EXCLUDED.account,
        measurement_id = EXCLUDED.measurement_id,
        value          = EXCLUDED.value,
        unit           = EXCLUDED.unit,
        operator_name  = EXCLUDED.operator_name,
        comment        = EXCLUDED.comment;`

	listReadingsBetweenSQL = `SELECT
        device_serial,
        account,
        parameter,
        measurement_id,
        value,
        unit,
        measured_at,
        operator_name,
        comment,
        created_at
    FROM readings
    WHERE device_serial = $1
      AND parameter = $2
      AND measured_at >= $3
      AND measured_at < $4
    ORDER BY measured_at
    LIMIT $5;`

	listRecentReadingsSQL = `SELECT
        device_serial,
        account,
        parameter,
        measurement_id,
        value,
        unit,
        measured_at,
        operator_name,
        comment,
        created_at
    FROM readings
    ORDER BY measured_at DESC
    LIMIT $1;`

	countReadingsSQL = `SELECT COUNT(*) FROM readings;`

	insertAlertSQL = `INSERT INTO alerts (
        device_serial,
        metric,
        value,
        threshold,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, device_serial, metric, value, threshold, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        device_serial,
        metric,
        value,
        threshold,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReadingStore defines operations for measurement persistence.
type ReadingStore interface {
	UpsertReading(ctx context.Context, reading Reading) error
	ListReadingsBetween(ctx context.Context, serial, parameter string, from, to time.Time, limit int) ([]Reading, error)
	ListRecentReadings(ctx context.Context, limit int) ([]Reading, error)
	CountReadings(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to readings and alerts.
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

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort; the lock dies with the session either way.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertReading persists or updates one measurement.
func (s *Store) UpsertReading(ctx context.Context, reading Reading) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertReadingSQL,
		reading.DeviceSerial,
		reading.Account,
		reading.Parameter,
		reading.MeasurementID,
		reading.Value,
		reading.Unit,
		reading.MeasuredAt,
		reading.OperatorName,
		reading.Comment,
	)
	if execErr != nil {
		return fmt.Errorf("upsert reading: %w", execErr)
	}
	return nil
}

// ListReadingsBetween lists readings for one device and parameter within a
// time window, oldest first.
func (s *Store) ListReadingsBetween(ctx context.Context, serial, parameter string, from, to time.Time, limit int) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReadingsBetweenSQL, serial, parameter, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list readings between: %w", queryErr)
	}
	defer rows.Close()

	return collectReadings(rows, limit)
}

// ListRecentReadings lists the most recent readings across all devices.
func (s *Store) ListRecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReadingsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent readings: %w", queryErr)
	}
	defer rows.Close()

	return collectReadings(rows, limit)
}

// CountReadings counts stored readings.
func (s *Store) CountReadings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReadingsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count readings: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.DeviceSerial,
		alert.Metric,
		alert.Value,
		alert.Threshold,
		alert.Channels,
	)

	var rec AlertRecord
	if scanErr := row.Scan(
		&rec.ID,
		&rec.DeviceSerial,
		&rec.Metric,
		&rec.Value,
		&rec.Threshold,
		&rec.Channels,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.DeviceSerial,
			&rec.Metric,
			&rec.Value,
			&rec.Threshold,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectReadings(rows pgx.Rows, capacity int) ([]Reading, error) {
	if capacity < 0 {
		capacity = 0
	}
	readings := make([]Reading, 0, capacity)
	for rows.Next() {
		var r Reading
		if err := rows.Scan(
			&r.DeviceSerial,
			&r.Account,
			&r.Parameter,
			&r.MeasurementID,
			&r.Value,
			&r.Unit,
			&r.MeasuredAt,
			&r.OperatorName,
			&r.Comment,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return readings, nil
}
