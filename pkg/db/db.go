// Package db runs guarded read-only queries against the football database.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/config"
	"github.com/pitchql/pitchql/pkg/models"
)

// Runner executes SELECT statements over a connection pool.
type Runner struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	maxRows int
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Runner, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Runner{pool: pool, timeout: cfg.Timeout, maxRows: cfg.MaxRows}, nil
}

// Ping checks connectivity.
func (r *Runner) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (r *Runner) Close() {
	r.pool.Close()
}

// RunQuery executes sql inside a read-only transaction with a statement
// timeout. It keeps at most maxRows records keyed by column name and counts
// the rest.
func (r *Runner) RunQuery(ctx context.Context, sql string) (models.ResultSet, error) {
	const op = "run query"

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.ResultSet{}, queryError(op, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if r.timeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", r.timeout.Milliseconds())); err != nil {
			return models.ResultSet{}, queryError(op, err)
		}
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return models.ResultSet{}, queryError(op, err)
	}
	defer rows.Close()

	cols := rows.FieldDescriptions()
	rs := models.ResultSet{Records: []models.Record{}}
	for rows.Next() {
		rs.Total++
		if r.maxRows > 0 && len(rs.Records) >= r.maxRows {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return models.ResultSet{}, queryError(op, err)
		}
		rec := make(models.Record, len(cols))
		for i, col := range cols {
			rec[col.Name] = normalize(values[i])
		}
		rs.Records = append(rs.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return models.ResultSet{}, queryError(op, err)
	}
	return rs, nil
}

func queryError(op string, err error) error {
	return &apperr.Error{Kind: apperr.KindInternal, Op: op, Msg: "query failed", Err: err}
}

// normalize converts driver values that do not encode to plain JSON.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		return (time.Duration(x.Microseconds)*time.Microsecond + time.Duration(x.Days)*24*time.Hour).String()
	default:
		return v
	}
}
