package jobs

import (
	"context"
	"fmt"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

// SweepStaleApplications deletes pending applications older than the
// configured number of days and cancels their open invoices
func (jr *JobRunner) SweepStaleApplications() {
	jr.runWithRecovery("SweepStaleApplications", func() {
		swept, failed, err := jr.sweepStaleApplications(context.Background())
		if err != nil {
			logger.Error("Failed to sweep stale applications", "error", err)
			return
		}
		logger.Info("Swept stale applications", "count", swept, "failed", failed)
	})
}

func (jr *JobRunner) sweepStaleApplications(ctx context.Context) (swept, failed int, err error) {
	now := jr.now()
	cutoff := now.AddDate(0, 0, -jr.config.Membership.StaleApplicationDays)

	stale, err := jr.store.Roles().ListApplicationsCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list stale applications: %w", err)
	}

	for i := range stale {
		role := &stale[i]
		if err := jr.sweepApplication(ctx, role); err != nil {
			failed++
			logger.Error("Failed to sweep stale application",
				"role_id", role.ID,
				"person_id", role.PersonID,
				"created_at", role.CreatedAt,
				"error", err)
			continue
		}
		swept++
		logger.Debug("Swept stale application", "role_id", role.ID, "person_id", role.PersonID)
	}
	return swept, failed, nil
}

func (jr *JobRunner) sweepApplication(ctx context.Context, application *domain.Role) error {
	now := jr.now()
	err := jr.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		role, err := store.Roles().GetByID(ctx, application.ID)
		if err != nil {
			return err
		}
		if !domain.CanTransition(role.State(), domain.RoleStateDeleted) {
			return &domain.TransitionError{RoleID: role.ID, From: role.State(), To: domain.RoleStateDeleted}
		}

		previous := role.EndOn
		end := utils.Day(now)
		if end.Before(role.StartOn) {
			end = role.StartOn
		}
		role.EndOn = &end
		role.DeletedAt = &now
		if err := store.Roles().Update(ctx, role); err != nil {
			return err
		}
		return store.Roles().RecordEvent(ctx, &domain.RoleEvent{
			RoleID:        role.ID,
			Type:          domain.RoleEventDeleted,
			PreviousEndOn: previous,
			NewEndOn:      role.EndOn,
			CascadeRootID: role.ID,
		})
	})
	if err != nil {
		return err
	}

	invoices, err := jr.store.Invoices().ListByRole(ctx, application.ID)
	if err != nil {
		return fmt.Errorf("failed to list invoices: %w", err)
	}
	for i := range invoices {
		if !invoices[i].Open() {
			continue
		}
		logger.ExternalServiceCall("invoicing", "CancelInvoice", "invoice_id", invoices[i].ID)
		err := jr.services.Invoices.CancelInvoice(ctx, &invoices[i])
		logger.ExternalServiceResult("invoicing", "CancelInvoice", err, "invoice_id", invoices[i].ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// PromoteApplications promotes every approved application whose conditions
// are met
func (jr *JobRunner) PromoteApplications() {
	jr.runWithRecovery("PromoteApplications", func() {
		result, err := jr.services.Promotion.PromoteAll(context.Background())
		if err != nil {
			logger.Error("Failed to promote applications", "error", err)
			return
		}
		logger.Info("Promoted applications",
			"run_id", result.RunID,
			"succeeded", result.Succeeded(),
			"skipped", result.Skipped(),
			"failed", result.Failed())
	})
}
