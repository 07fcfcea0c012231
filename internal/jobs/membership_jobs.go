package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

// SyncReport summarizes one synchronization run
type SyncReport struct {
	Invoices int
	Changed  int
	Failed   int
}

// SyncCurrentYear replays the paid invoices of the running year
func (jr *JobRunner) SyncCurrentYear() {
	jr.SyncMemberships(jr.now().Year())
}

// SyncMemberships replays every paid invoice of the year through the
// membership status synchronizer. Running it twice changes nothing.
func (jr *JobRunner) SyncMemberships(year int) {
	jr.runWithRecovery("SyncMemberships", func() {
		report, err := jr.syncMemberships(context.Background(), year)
		if err != nil {
			logger.Error("Failed to sync memberships", "year", year, "error", err)
			return
		}
		logger.Info("Synced memberships",
			"year", year,
			"invoices", report.Invoices,
			"changed", report.Changed,
			"failed", report.Failed)
	})
}

func (jr *JobRunner) syncMemberships(ctx context.Context, year int) (*SyncReport, error) {
	invoices, err := jr.store.Invoices().ListPayedByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list paid invoices: %w", err)
	}

	report := &SyncReport{Invoices: len(invoices)}
	batches, skipped := jr.batchByHousehold(ctx, invoices)
	report.Failed += skipped

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(jr.config.Membership.SyncConcurrency)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			// a household is handled by one goroutine, main person first
			for i := range batch {
				invoice := &batch[i]
				changed, err := jr.services.Status.HandleInvoiceEvent(ctx, invoice)

				mu.Lock()
				if err != nil {
					report.Failed++
				} else {
					report.Changed += changed
				}
				mu.Unlock()

				if err != nil {
					logger.Error("Failed to sync membership",
						"invoice_id", invoice.ID,
						"person_id", invoice.PersonID,
						"section_id", invoice.SectionID,
						"error", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

type batchKey struct {
	household bool
	id        int32
}

// batchByHousehold groups invoices so that people sharing a household are
// synchronized sequentially. Invoices of unknown people are counted as
// skipped.
func (jr *JobRunner) batchByHousehold(ctx context.Context, invoices []domain.Invoice) ([][]domain.Invoice, int) {
	people := map[int32]*domain.Person{}
	index := map[batchKey]int{}
	var batches [][]domain.Invoice
	skipped := 0

	for _, invoice := range invoices {
		person, ok := people[invoice.PersonID]
		if !ok {
			p, err := jr.store.People().GetByID(ctx, invoice.PersonID)
			if err != nil {
				skipped++
				logger.Warn("Skipping invoice of unknown person", "invoice_id", invoice.ID, "person_id", invoice.PersonID, "error", err)
				continue
			}
			person = p
			people[invoice.PersonID] = p
		}

		key := batchKey{id: person.ID}
		if person.HouseholdID != nil {
			key = batchKey{household: true, id: *person.HouseholdID}
		}
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, nil)
		}
		batches[i] = append(batches[i], invoice)
	}

	for _, batch := range batches {
		sort.SliceStable(batch, func(a, b int) bool {
			return people[batch[a].PersonID].FamilyMainPerson && !people[batch[b].PersonID].FamilyMainPerson
		})
	}
	return batches, skipped
}
