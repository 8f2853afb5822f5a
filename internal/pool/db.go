package pool

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// mutateRetries bounds retries of serialization failures before the
// conflict is surfaced as ErrConflict.
const mutateRetries = 3

type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a Postgres-backed pool store. Per-pool exclusivity
// comes from row locks on license_pools.
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool}
}

func (d *dbStore) Ensure(ctx context.Context, id ID) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO license_pools (collection_id, title_id, copies_owned, copies_available)
		 VALUES ($1, $2, 0, 0)
		 ON CONFLICT (collection_id, title_id) DO NOTHING`,
		id.CollectionID, id.TitleID,
	)
	return err
}

func (d *dbStore) Get(ctx context.Context, id ID) (LicensePool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return LicensePool{}, err
	}
	defer tx.Rollback(ctx)

	p, err := loadPool(ctx, tx, id, false)
	if err != nil {
		return LicensePool{}, err
	}
	return p, tx.Commit(ctx)
}

func (d *dbStore) Mutate(ctx context.Context, id ID, fn func(p *LicensePool) error) error {
	var lastErr error
	for attempt := 0; attempt < mutateRetries; attempt++ {
		err := d.mutateOnce(ctx, id, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return errors.Join(ErrConflict, lastErr)
}

func (d *dbStore) mutateOnce(ctx context.Context, id ID, fn func(p *LicensePool) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := loadPool(ctx, tx, id, true)
	if err != nil {
		return err
	}

	if err := fn(&p); err != nil {
		return err
	}

	if err := savePool(ctx, tx, &p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *dbStore) List(ctx context.Context, collectionID string) ([]ID, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT collection_id, title_id FROM license_pools
		  WHERE $1 = '' OR collection_id = $1
		  ORDER BY collection_id, title_id`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ID
	for rows.Next() {
		var id ID
		if err := rows.Scan(&id.CollectionID, &id.TitleID); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *dbStore) Remove(ctx context.Context, id ID) error {
	// Loans and holds are removed by ON DELETE CASCADE.
	_, err := d.pool.Exec(ctx,
		`DELETE FROM license_pools WHERE collection_id = $1 AND title_id = $2`,
		id.CollectionID, id.TitleID,
	)
	return err
}

func loadPool(ctx context.Context, tx pgx.Tx, id ID, forUpdate bool) (LicensePool, error) {
	query := `SELECT copies_owned, copies_available
	            FROM license_pools
	           WHERE collection_id = $1 AND title_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p := LicensePool{ID: id}
	err := tx.QueryRow(ctx, query, id.CollectionID, id.TitleID).
		Scan(&p.CopiesOwned, &p.CopiesAvailable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LicensePool{}, ErrPoolNotFound
		}
		return LicensePool{}, err
	}

	loanRows, err := tx.Query(ctx,
		`SELECT id, patron_id, started_at, expires_at
		   FROM loans
		  WHERE collection_id = $1 AND title_id = $2`,
		id.CollectionID, id.TitleID,
	)
	if err != nil {
		return LicensePool{}, err
	}
	defer loanRows.Close()
	for loanRows.Next() {
		var loan Loan
		if err := loanRows.Scan(&loan.ID, &loan.PatronID, &loan.StartedAt, &loan.ExpiresAt); err != nil {
			return LicensePool{}, err
		}
		p.Loans = append(p.Loans, loan)
	}
	if err := loanRows.Err(); err != nil {
		return LicensePool{}, err
	}

	holdRows, err := tx.Query(ctx,
		`SELECT id, patron_id, position, placed_at, reserved_at, reservation_expires_at
		   FROM holds
		  WHERE collection_id = $1 AND title_id = $2
		  ORDER BY position`,
		id.CollectionID, id.TitleID,
	)
	if err != nil {
		return LicensePool{}, err
	}
	defer holdRows.Close()
	for holdRows.Next() {
		var hold Hold
		if err := holdRows.Scan(&hold.ID, &hold.PatronID, &hold.Position,
			&hold.PlacedAt, &hold.ReservedAt, &hold.ReservationExpiresAt); err != nil {
			return LicensePool{}, err
		}
		p.Holds = append(p.Holds, hold)
	}
	return p, holdRows.Err()
}

func savePool(ctx context.Context, tx pgx.Tx, p *LicensePool) error {
	_, err := tx.Exec(ctx,
		`UPDATE license_pools
		    SET copies_owned = $3, copies_available = $4
		  WHERE collection_id = $1 AND title_id = $2`,
		p.ID.CollectionID, p.ID.TitleID, p.CopiesOwned, p.CopiesAvailable,
	)
	if err != nil {
		return err
	}

	// Loans and holds per pool are small; rewriting them keeps the store
	// free of per-row diffing.
	if _, err := tx.Exec(ctx,
		`DELETE FROM loans WHERE collection_id = $1 AND title_id = $2`,
		p.ID.CollectionID, p.ID.TitleID); err != nil {
		return err
	}
	for _, loan := range p.Loans {
		if _, err := tx.Exec(ctx,
			`INSERT INTO loans (id, collection_id, title_id, patron_id, started_at, expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			loan.ID, p.ID.CollectionID, p.ID.TitleID, loan.PatronID, loan.StartedAt, loan.ExpiresAt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM holds WHERE collection_id = $1 AND title_id = $2`,
		p.ID.CollectionID, p.ID.TitleID); err != nil {
		return err
	}
	for _, hold := range p.Holds {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holds (id, collection_id, title_id, patron_id, position, placed_at, reserved_at, reservation_expires_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			hold.ID, p.ID.CollectionID, p.ID.TitleID, hold.PatronID,
			hold.Position, hold.PlacedAt, hold.ReservedAt, hold.ReservationExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// isSerializationFailure reports whether err is a Postgres serialization
// or deadlock error worth retrying.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
