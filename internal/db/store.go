package db

import (
	"context"
	"database/sql"
)

// Store is the unit of work over the sqlite database. Its embedded Repository
// runs outside any transaction; WithTx hands out one bound to a transaction.
type Store struct {
	*Repository
	db *sql.DB
}

// NewStore creates a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{Repository: NewRepository(db), db: db}
}

// WithTx runs fn inside one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repo SyncRepository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(&Repository{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr("commit transaction", err)
	}
	return nil
}
