package service

import (
	"context"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/fees"
)

type TerminationService interface {
	Terminate(ctx context.Context, roleID int32, terminateOn time.Time, opts TerminateOptions) (*TerminationResult, error)
	AffectedPeople(ctx context.Context, roleID int32) ([]domain.Person, error)
	UndoTermination(ctx context.Context, roleID int32) (*TerminationResult, error)
}

type PromotionService interface {
	Approve(ctx context.Context, groupID int32, personIDs []int32) (*BatchResult, error)
	Promote(ctx context.Context, roleID int32) (bool, error)
	PromoteAll(ctx context.Context) (*BatchResult, error)
	Reject(ctx context.Context, roleID int32, note string) error
}

type MembershipStatusService interface {
	UpdateMembershipStatus(ctx context.Context, personID, sectionID int32, year int) (int, error)
	HandleInvoiceEvent(ctx context.Context, invoice *domain.Invoice) (int, error)
}

type FeeService interface {
	PositionsFor(ctx context.Context, personID, sectionID int32, referenceDate time.Time, newEntry bool) ([]fees.Position, error)
}

// Collaborators owned by other systems.

type Notifier interface {
	Send(ctx context.Context, templateKey string, recipient *domain.Person, data map[string]any) error
}

type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, person *domain.Person, positions []fees.Position, year int, linkRole *domain.Role) (*domain.Invoice, error)
}

type InvoiceCanceller interface {
	CancelInvoice(ctx context.Context, invoice *domain.Invoice) error
}

type DuplicateChecker interface {
	EnqueueDuplicateCheck(ctx context.Context, personID int32) error
}

const (
	TemplateApplicationApproved = "application_approved"
	TemplateApplicationRejected = "application_rejected"
	TemplateMembershipConfirmed = "membership_confirmed"
)
