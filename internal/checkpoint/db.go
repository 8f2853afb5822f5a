package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a Postgres-backed checkpoint store.
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool}
}

func (d *dbStore) Load(ctx context.Context, kind, collectionID string) (Checkpoint, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT cursor, last_success_at
		   FROM checkpoints
		  WHERE monitor_kind = $1 AND collection_id = $2`,
		kind, collectionID,
	)

	cp := Checkpoint{MonitorKind: kind, CollectionID: collectionID}
	if err := row.Scan(&cp.Cursor, &cp.LastSuccessAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return cp, nil
}

func (d *dbStore) Advance(ctx context.Context, kind, collectionID, cursor string, at time.Time) error {
	// Read-modify-write in a transaction so that the regression check and
	// the upsert are atomic against concurrent advances.
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT cursor FROM checkpoints
		  WHERE monitor_kind = $1 AND collection_id = $2
		    FOR UPDATE`,
		kind, collectionID,
	).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First checkpoint for this key.
	case err != nil:
		return err
	default:
		if CompareCursors(cursor, existing) < 0 {
			return ErrCursorRegression
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO checkpoints (monitor_kind, collection_id, cursor, last_success_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (monitor_kind, collection_id)
		 DO UPDATE SET cursor = EXCLUDED.cursor, last_success_at = EXCLUDED.last_success_at`,
		kind, collectionID, cursor, at,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *dbStore) Reset(ctx context.Context, kind, collectionID string) error {
	_, err := d.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE monitor_kind = $1 AND collection_id = $2`,
		kind, collectionID,
	)
	return err
}
