package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
)

const selectRowColumns = `id, timestamp, city, temperature, humidity, rainfall, wind_speed, pressure, created_at, processed`

const summaryColumns = `
	COUNT(*),
	COALESCE(AVG(temperature), 0),
	COALESCE(MIN(temperature), 0),
	COALESCE(MAX(temperature), 0),
	COALESCE(AVG(humidity), 0),
	COALESCE(SUM(rainfall), 0),
	COALESCE(AVG(wind_speed), 0),
	COALESCE(AVG(pressure), 0),
	MIN(timestamp),
	MAX(timestamp)`

type scanner interface {
	Scan(dest ...any) error
}

// Cities lists every distinct city, compared case-insensitively, with its row
// count. The spelling returned is the lexically smallest one stored.
func (d *DB) Cities(ctx context.Context) ([]domain.CityCount, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT MIN(city), COUNT(*)
		FROM weather_data
		GROUP BY lower(city)
		ORDER BY lower(city)`)
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	defer rows.Close()

	var out []domain.CityCount
	for rows.Next() {
		var c domain.CityCount
		if err := rows.Scan(&c.City, &c.Rows); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RowsByCity returns one page of a city's rows, newest observation first.
// page is zero-based.
func (d *DB) RowsByCity(ctx context.Context, city string, page, size int) (domain.Page, error) {
	result := domain.Page{Page: page, Size: size, Rows: []domain.Row{}}

	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM weather_data WHERE lower(city) = lower($1)`, city).Scan(&result.Total)
	if err != nil {
		return domain.Page{}, fmt.Errorf("count rows for %s: %w", city, err)
	}
	if result.Total == 0 {
		return result, nil
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectRowColumns+`
		FROM weather_data
		WHERE lower(city) = lower($1)
		ORDER BY timestamp DESC, id DESC
		LIMIT $2 OFFSET $3`, city, size, page*size)
	if err != nil {
		return domain.Page{}, fmt.Errorf("query rows for %s: %w", city, err)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return domain.Page{}, err
		}
		result.Rows = append(result.Rows, row)
	}
	return result, rows.Err()
}

// LatestRows returns the limit most recent observations across all cities.
func (d *DB) LatestRows(ctx context.Context, limit int) ([]domain.Row, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectRowColumns+`
		FROM weather_data
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest rows: %w", err)
	}
	defer rows.Close()

	out := []domain.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Summary aggregates every stored row in the database.
func (d *DB) Summary(ctx context.Context) (domain.Summary, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM weather_data`)
	s, err := scanSummary(row)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	return s, nil
}

// CitySummaries aggregates rows per city, compared case-insensitively.
func (d *DB) CitySummaries(ctx context.Context) ([]domain.Summary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT MIN(city), `+summaryColumns+`
		FROM weather_data
		GROUP BY lower(city)
		ORDER BY lower(city)`)
	if err != nil {
		return nil, fmt.Errorf("query city summaries: %w", err)
	}
	defer rows.Close()

	var out []domain.Summary
	for rows.Next() {
		var city string
		s, err := scanSummary(rows, &city)
		if err != nil {
			return nil, fmt.Errorf("scan city summary: %w", err)
		}
		s.City = city
		out = append(out, s)
	}
	return out, rows.Err()
}

// OutOfOrderRows counts rows whose observation time is earlier than that of
// the row inserted just before it for the same city. Zero means per-city
// insert order matches timestamp order.
func (d *DB) OutOfOrderRows(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT timestamp < LAG(timestamp) OVER (PARTITION BY lower(city) ORDER BY id) AS regressed
			FROM weather_data
		) ordered
		WHERE regressed`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("check insert order: %w", err)
	}
	return n, nil
}

func scanRow(s scanner) (domain.Row, error) {
	var r domain.Row
	err := s.Scan(
		&r.ID,
		&r.Timestamp,
		&r.City,
		&r.Temperature,
		&r.Humidity,
		&r.Rainfall,
		&r.WindSpeed,
		&r.Pressure,
		&r.CreatedAt,
		&r.Processed,
	)
	if err != nil {
		return domain.Row{}, fmt.Errorf("scan weather row: %w", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// scanSummary reads the summaryColumns projection, after any leading columns
// named in prefix.
func scanSummary(s scanner, prefix ...any) (domain.Summary, error) {
	var (
		out      domain.Summary
		from, to sql.NullTime
	)
	dest := append(prefix,
		&out.Rows,
		&out.AvgTemperature,
		&out.MinTemperature,
		&out.MaxTemperature,
		&out.AvgHumidity,
		&out.TotalRainfall,
		&out.AvgWindSpeed,
		&out.AvgPressure,
		&from,
		&to,
	)
	if err := s.Scan(dest...); err != nil {
		return domain.Summary{}, err
	}
	if from.Valid {
		t := from.Time.UTC()
		out.From = &t
	}
	if to.Valid {
		t := to.Time.UTC()
		out.To = &t
	}
	return out, nil
}
