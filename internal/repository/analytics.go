package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vectaconvert/api/internal/model"
)

// AnalyticsRepository records per-conversion events. Writes are issued
// fire-and-forget from the worker; a failed insert is logged, never fatal.
type AnalyticsRepository struct {
	pool *pgxpool.Pool
}

func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{pool: pool}
}

func (r *AnalyticsRepository) LogConversionEvent(ctx context.Context, ev *model.ConversionEvent) error {
	query := `
		INSERT INTO conversion_events
			(input_format, output_format, input_size, output_size, savings_percent, duration_ms, quality)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := r.pool.Exec(ctx, query,
		ev.InputFormat, ev.OutputFormat, ev.InputSize, ev.OutputSize,
		ev.SavingsPercent, ev.DurationMs, ev.Quality,
	)
	if err != nil {
		return fmt.Errorf("insert conversion event: %w", err)
	}
	return nil
}

func (r *AnalyticsRepository) GetStats(ctx context.Context) (*model.StatsResponse, error) {
	stats := &model.StatsResponse{ByOutputFormat: map[string]int64{}}

	query := `SELECT COUNT(*), COALESCE(SUM(input_size), 0), COALESCE(SUM(output_size), 0),
		COALESCE(AVG(savings_percent), 0) FROM conversion_events`
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.TotalConversions, &stats.TotalInputBytes, &stats.TotalOutputBytes,
		&stats.AvgSavingsPercent,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversion events: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT output_format, COUNT(*) FROM conversion_events GROUP BY output_format`)
	if err != nil {
		return nil, fmt.Errorf("count events by format: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var format string
		var count int64
		if err := rows.Scan(&format, &count); err != nil {
			return nil, fmt.Errorf("scan format count: %w", err)
		}
		stats.ByOutputFormat[format] = count
	}
	return stats, rows.Err()
}
