package repository

import (
	"context"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
)

type PersonRepository interface {
	Create(ctx context.Context, person *domain.Person) error
	GetByID(ctx context.Context, id int32) (*domain.Person, error)
	ListByIDs(ctx context.Context, ids []int32) ([]domain.Person, error)
	Update(ctx context.Context, person *domain.Person) error
	Delete(ctx context.Context, id int32) error
	// FindSimilar returns other people with the same name and birthday.
	FindSimilar(ctx context.Context, person *domain.Person) ([]domain.Person, error)
}

// RoleRepository returns soft-deleted roles only where a method says so.
type RoleRepository interface {
	Create(ctx context.Context, role *domain.Role) error
	GetByID(ctx context.Context, id int32) (*domain.Role, error)
	Update(ctx context.Context, role *domain.Role) error
	// Destroy removes the row. Only used for roles that never took part in billing.
	Destroy(ctx context.Context, id int32) error
	ListByPerson(ctx context.Context, personID int32, withDeleted bool) ([]domain.Role, error)
	ListByPeople(ctx context.Context, personIDs []int32) ([]domain.Role, error)
	ListByGroup(ctx context.Context, groupID int32) ([]domain.Role, error)
	ListApplicationsCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Role, error)
	RecordEvent(ctx context.Context, event *domain.RoleEvent) error
	ListEvents(ctx context.Context, roleID int32) ([]domain.RoleEvent, error)
	ListEventsByCascade(ctx context.Context, rootRoleID int32, eventType domain.RoleEventType) ([]domain.RoleEvent, error)
}

type HouseholdRepository interface {
	Create(ctx context.Context, household *domain.Household) error
	GetByID(ctx context.Context, id int32) (*domain.Household, error)
	Update(ctx context.Context, household *domain.Household) error
}

type GroupRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Group, error)
	FindBySectionAndType(ctx context.Context, sectionID int32, groupType domain.GroupType) (*domain.Group, error)
	ListByType(ctx context.Context, groupType domain.GroupType) ([]domain.Group, error)
	GetSection(ctx context.Context, id int32) (*domain.Section, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *domain.Invoice) error
	GetByID(ctx context.Context, id int32) (*domain.Invoice, error)
	ListByRole(ctx context.Context, roleID int32) ([]domain.Invoice, error)
	ListPayedByYear(ctx context.Context, year int) ([]domain.Invoice, error)
	Update(ctx context.Context, invoice *domain.Invoice) error
}

type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	ListByPerson(ctx context.Context, personID int32) ([]domain.Note, error)
}

// Store bundles all repositories sharing one connection or transaction.
type Store interface {
	People() PersonRepository
	Roles() RoleRepository
	Households() HouseholdRepository
	Groups() GroupRepository
	Invoices() InvoiceRepository
	Notes() NoteRepository
}

// TxManager runs fn inside one transaction. Every write made through the
// store handed to fn is committed together or not at all.
type TxManager interface {
	Store
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
