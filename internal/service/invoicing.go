package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/fees"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
)

// StoreInvoicer records invoices in the invoices table, where the invoicing
// system picks them up and reports state changes back.
type StoreInvoicer struct {
	store repository.Store
	now   clock
}

func NewStoreInvoicer(store repository.Store) *StoreInvoicer {
	return &StoreInvoicer{store: store, now: systemClock}
}

func (i *StoreInvoicer) CreateInvoice(ctx context.Context, person *domain.Person, positions []fees.Position, year int, linkRole *domain.Role) (*domain.Invoice, error) {
	summary := fees.Summarize(positions)
	if !summary.InvoiceAmount.IsPositive() {
		logger.Debug("Nothing to invoice", "person_id", person.ID, "year", year)
		return nil, nil
	}

	issued := i.now()
	invoice := &domain.Invoice{
		PersonID: person.ID,
		Year:     year,
		Kind:     domain.InvoiceKindMembership,
		State:    domain.InvoiceStateOpen,
		Total:    summary.InvoiceAmount,
		IssuedOn: &issued,
	}
	if linkRole != nil {
		id := linkRole.ID
		invoice.LinkRoleID = &id
		invoice.SectionID = linkRole.SectionID
		if linkRole.IsApplication() && hasEntryFee(positions) {
			invoice.Kind = domain.InvoiceKindEntry
		}
	}

	if err := i.store.Invoices().Create(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	logger.Info("Invoice created", "invoice_id", invoice.ID, "person_id", person.ID,
		"total", invoice.Total.StringFixed(2), "section_debits", len(summary.SectionDebits))
	return invoice, nil
}

func hasEntryFee(positions []fees.Position) bool {
	for _, p := range positions {
		if p.Grouping == "entry_fee" && p.Amount.GreaterThan(decimal.Zero) {
			return true
		}
	}
	return false
}

// CancelInvoice cancels invoices that are not settled yet. Paid and already
// cancelled invoices are left alone.
func (i *StoreInvoicer) CancelInvoice(ctx context.Context, invoice *domain.Invoice) error {
	if !invoice.Open() {
		return nil
	}
	invoice.State = domain.InvoiceStateCancelled
	if err := i.store.Invoices().Update(ctx, invoice); err != nil {
		return fmt.Errorf("failed to cancel invoice %d: %w", invoice.ID, err)
	}
	return nil
}
