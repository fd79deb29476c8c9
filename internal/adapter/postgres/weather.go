package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
)

const insertWeatherSQL = `
	INSERT INTO weather_data (
		timestamp, city, temperature, humidity, rainfall, wind_speed, pressure, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at, processed
`

// InsertRecord persists rec as a new row in its own transaction. The row is
// visible to other sessions only once this returns without error.
func (d *DB) InsertRecord(ctx context.Context, rec domain.Record, createdAt time.Time) (domain.Row, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Row{}, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := domain.Row{Record: rec}
	err = tx.QueryRowContext(ctx, insertWeatherSQL,
		rec.Timestamp,
		rec.City,
		rec.Temperature,
		rec.Humidity,
		rec.Rainfall,
		rec.WindSpeed,
		rec.Pressure,
		createdAt,
	).Scan(&row.ID, &row.CreatedAt, &row.Processed)
	if err != nil {
		return domain.Row{}, fmt.Errorf("insert weather row for %s: %w", rec.City, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Row{}, fmt.Errorf("commit weather row for %s: %w", rec.City, err)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return row, nil
}

// CountRows returns the number of rows in weather_data.
func (d *DB) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM weather_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// CountUnprocessed returns the number of rows whose processed flag is false.
func (d *DB) CountUnprocessed(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM weather_data WHERE NOT processed`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unprocessed rows: %w", err)
	}
	return n, nil
}

// DeleteProcessedBefore removes processed rows created before cutoff and
// returns how many were deleted.
func (d *DB) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM weather_data WHERE processed AND created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete processed rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete processed rows: %w", err)
	}
	return n, nil
}
