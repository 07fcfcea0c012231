package postgres

import (
	"context"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

type invoiceRepository struct {
	q queryer
}

const invoiceColumns = `id, person_id, section_id, link_role_id, year, kind, state, total, issued_on, payed_on, created_at`

func scanInvoice(s scanner) (*domain.Invoice, error) {
	i := &domain.Invoice{}
	err := s.Scan(&i.ID, &i.PersonID, &i.SectionID, &i.LinkRoleID, &i.Year, &i.Kind, &i.State,
		&i.Total, &i.IssuedOn, &i.PayedOn, &i.CreatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *invoiceRepository) Create(ctx context.Context, i *domain.Invoice) error {
	query := `INSERT INTO invoices (person_id, section_id, link_role_id, year, kind, state, total, issued_on, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	i.CreatedAt = time.Now()
	return r.q.QueryRowContext(ctx, query, i.PersonID, i.SectionID, i.LinkRoleID, i.Year, i.Kind, i.State,
		i.Total, i.IssuedOn, i.CreatedAt).Scan(&i.ID)
}

func (r *invoiceRepository) GetByID(ctx context.Context, id int32) (*domain.Invoice, error) {
	i, err := scanInvoice(r.q.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}
	return i, nil
}

func (r *invoiceRepository) ListByRole(ctx context.Context, roleID int32) ([]domain.Invoice, error) {
	return r.list(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE link_role_id = $1 ORDER BY id`, roleID)
}

func (r *invoiceRepository) ListPayedByYear(ctx context.Context, year int) ([]domain.Invoice, error) {
	logger.EnterMethod("invoiceRepository.ListPayedByYear", "year", year)
	invoices, err := r.list(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE year = $1 AND state = $2 ORDER BY id`,
		year, domain.InvoiceStatePayed)
	if err != nil {
		logger.ExitMethodWithError("invoiceRepository.ListPayedByYear", err, "year", year)
		return nil, err
	}
	logger.ExitMethod("invoiceRepository.ListPayedByYear", "year", year, "count", len(invoices))
	return invoices, nil
}

func (r *invoiceRepository) Update(ctx context.Context, i *domain.Invoice) error {
	query := `UPDATE invoices SET state = $1, payed_on = $2, updated_at = $3 WHERE id = $4`
	_, err := r.q.ExecContext(ctx, query, i.State, i.PayedOn, time.Now(), i.ID)
	return err
}

func (r *invoiceRepository) list(ctx context.Context, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []domain.Invoice{}
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *i)
	}
	return invoices, rows.Err()
}
