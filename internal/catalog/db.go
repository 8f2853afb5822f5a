package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a Postgres-backed catalog store.
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool}
}

func (d *dbStore) Upsert(ctx context.Context, entry Entry) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO catalog_entries (collection_id, identifier, title, author, medium, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (collection_id, identifier)
		 DO UPDATE SET title = EXCLUDED.title,
		               author = EXCLUDED.author,
		               medium = EXCLUDED.medium,
		               updated_at = EXCLUDED.updated_at`,
		entry.CollectionID, entry.Identifier, entry.Title, entry.Author, entry.Medium, entry.UpdatedAt,
	)
	return err
}

func (d *dbStore) Remove(ctx context.Context, collectionID, identifier string) error {
	_, err := d.pool.Exec(ctx,
		`DELETE FROM catalog_entries WHERE collection_id = $1 AND identifier = $2`,
		collectionID, identifier,
	)
	return err
}

func (d *dbStore) Get(ctx context.Context, collectionID, identifier string) (Entry, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT title, author, medium, updated_at
		   FROM catalog_entries
		  WHERE collection_id = $1 AND identifier = $2`,
		collectionID, identifier,
	)

	entry := Entry{CollectionID: collectionID, Identifier: identifier}
	if err := row.Scan(&entry.Title, &entry.Author, &entry.Medium, &entry.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return entry, nil
}

func (d *dbStore) Count(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM catalog_entries WHERE collection_id = $1`,
		collectionID,
	).Scan(&count)
	return count, err
}
