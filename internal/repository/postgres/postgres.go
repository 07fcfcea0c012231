package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
)

// queryer is satisfied by both *sql.DB and *sql.Tx so every repository can run
// inside or outside a transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  queryer
	repository.PersonRepository
	repository.RoleRepository
	repository.HouseholdRepository
	repository.GroupRepository
	repository.InvoiceRepository
	repository.NoteRepository
}

func NewStore(db *sql.DB) *Store {
	return newStore(db, db)
}

func newStore(db *sql.DB, q queryer) *Store {
	return &Store{
		db:                  db,
		q:                   q,
		PersonRepository:    &personRepository{q: q},
		RoleRepository:      &roleRepository{q: q},
		HouseholdRepository: &householdRepository{q: q},
		GroupRepository:     &groupRepository{q: q},
		InvoiceRepository:   &invoiceRepository{q: q},
		NoteRepository:      &noteRepository{q: q},
	}
}

func (s *Store) People() repository.PersonRepository       { return s.PersonRepository }
func (s *Store) Roles() repository.RoleRepository          { return s.RoleRepository }
func (s *Store) Households() repository.HouseholdRepository { return s.HouseholdRepository }
func (s *Store) Groups() repository.GroupRepository        { return s.GroupRepository }
func (s *Store) Invoices() repository.InvoiceRepository    { return s.InvoiceRepository }
func (s *Store) Notes() repository.NoteRepository          { return s.NoteRepository }

// RunInTx begins a transaction, hands fn a store bound to it and commits when
// fn returns nil. Nested calls reuse the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(ctx, s)
	}

	logger.EnterMethod("Store.RunInTx")
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logger.ExitMethodWithError("Store.RunInTx", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, newStore(s.db, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		logger.ExitMethodWithError("Store.RunInTx", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.ExitMethodWithError("Store.RunInTx", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	logger.ExitMethod("Store.RunInTx")
	return nil
}

func notFound(err error, entity string, id int32) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Entity: entity, ID: id}
	}
	return err
}

// scanner lets row mapping helpers accept *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
