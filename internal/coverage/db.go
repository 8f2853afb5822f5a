package coverage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbLedger struct {
	pool *pgxpool.Pool
}

// NewDBLedger creates a Postgres-backed coverage ledger.
func NewDBLedger(pool *pgxpool.Pool) Ledger {
	return &dbLedger{pool: pool}
}

func (d *dbLedger) Register(ctx context.Context, identifier, coverageType string, now time.Time) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO coverage_records (identifier, coverage_type, status, attempt_count, exception_detail, updated_at)
		 VALUES ($1, $2, $3, 0, '', $4)
		 ON CONFLICT (identifier, coverage_type) DO NOTHING`,
		identifier, coverageType, string(StatusPending), now,
	)
	return err
}

func (d *dbLedger) Get(ctx context.Context, identifier, coverageType string) (Record, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT status, attempt_count, exception_detail, updated_at
		   FROM coverage_records
		  WHERE identifier = $1 AND coverage_type = $2`,
		identifier, coverageType,
	)

	record := Record{Identifier: identifier, CoverageType: coverageType}
	var status string
	if err := row.Scan(&status, &record.AttemptCount, &record.ExceptionDetail, &record.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	record.Status = Status(status)
	return record, nil
}

func (d *dbLedger) Update(ctx context.Context, record Record) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE coverage_records
		    SET status = $3, attempt_count = $4, exception_detail = $5, updated_at = $6
		  WHERE identifier = $1 AND coverage_type = $2`,
		record.Identifier, record.CoverageType,
		string(record.Status), record.AttemptCount, record.ExceptionDetail, record.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *dbLedger) NeedingCoverage(ctx context.Context, coverageType string, maxAttempts, limit int) ([]Record, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT identifier, status, attempt_count, exception_detail, updated_at
		   FROM coverage_records
		  WHERE coverage_type = $1
		    AND (status = $2 OR (status = $3 AND attempt_count < $4))
		  ORDER BY updated_at ASC, identifier ASC
		  LIMIT $5`,
		coverageType, string(StatusPending), string(StatusTransientFailure), maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var selected []Record
	for rows.Next() {
		record := Record{CoverageType: coverageType}
		var status string
		if err := rows.Scan(&record.Identifier, &status, &record.AttemptCount, &record.ExceptionDetail, &record.UpdatedAt); err != nil {
			return nil, err
		}
		record.Status = Status(status)
		selected = append(selected, record)
	}
	return selected, rows.Err()
}

func (d *dbLedger) ForceRefresh(ctx context.Context, identifier, coverageType string, now time.Time) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE coverage_records
		    SET status = $3, attempt_count = 0, exception_detail = '', updated_at = $4
		  WHERE identifier = $1 AND coverage_type = $2`,
		identifier, coverageType, string(StatusPending), now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
