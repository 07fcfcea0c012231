package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/config"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository/memory"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/service"
)

const (
	membersGroup int32 = 11
	appliedGroup int32 = 13
)

var now = time.Date(2024, time.June, 15, 2, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type MockPromotionService struct {
	mock.Mock
}

func (m *MockPromotionService) Approve(ctx context.Context, groupID int32, personIDs []int32) (*service.BatchResult, error) {
	args := m.Called(ctx, groupID, personIDs)
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockPromotionService) Promote(ctx context.Context, roleID int32) (bool, error) {
	args := m.Called(ctx, roleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPromotionService) PromoteAll(ctx context.Context) (*service.BatchResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockPromotionService) Reject(ctx context.Context, roleID int32, note string) error {
	args := m.Called(ctx, roleID, note)
	return args.Error(0)
}

func newStore() *memory.Store {
	store := memory.NewStore()
	store.AddSection(domain.Section{ID: 1, Name: "Bern"})
	store.AddGroup(domain.Group{ID: membersGroup, Type: domain.GroupTypeMembers, SectionID: 1, Path: "SAC > Bern > Members"})
	store.AddGroup(domain.Group{ID: appliedGroup, Type: domain.GroupTypeApplications, SectionID: 1, Path: "SAC > Bern > Applications"})
	return store
}

func newRunner(store *memory.Store, services *Services) *JobRunner {
	cfg := &config.Config{Membership: config.MembershipConfig{StaleApplicationDays: 90, SyncConcurrency: 2}}
	jr := NewJobRunner(store, services, cfg)
	jr.now = func() time.Time { return now }
	return jr
}

func createPerson(t *testing.T, store *memory.Store, name string) *domain.Person {
	birthday := day(1980, time.March, 1)
	p := &domain.Person{FirstName: name, LastName: "Muster", Birthday: &birthday}
	require.NoError(t, store.People().Create(context.Background(), p))
	return p
}

func createApplication(t *testing.T, store *memory.Store, p *domain.Person, created time.Time) *domain.Role {
	r := &domain.Role{
		Type:      domain.RoleTypeApplication,
		PersonID:  p.ID,
		GroupID:   appliedGroup,
		Category:  domain.CategoryAdult,
		StartOn:   day(created.Year(), created.Month(), created.Day()),
		CreatedAt: created,
	}
	require.NoError(t, store.Roles().Create(context.Background(), r))
	return r
}

func TestSweepStaleApplications(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	stale := createApplication(t, store, createPerson(t, store, "Dora"), day(2024, time.January, 10))
	fresh := createApplication(t, store, createPerson(t, store, "Emil"), day(2024, time.May, 1))

	staleID := stale.ID
	open := &domain.Invoice{PersonID: stale.PersonID, LinkRoleID: &staleID, Year: 2024, State: domain.InvoiceStateOpen, Total: decimal.NewFromInt(140)}
	store.AddInvoice(open)

	jr := newRunner(store, &Services{Invoices: service.NewStoreInvoicer(store)})
	swept, failed, err := jr.sweepStaleApplications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Zero(t, failed)

	got, err := store.Roles().GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStateDeleted, got.State())
	assert.Equal(t, day(2024, time.June, 15), *got.EndOn)

	invoice, err := store.Invoices().GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStateCancelled, invoice.State)

	got, err = store.Roles().GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStatePending, got.State())

	swept, _, err = jr.sweepStaleApplications(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestSweepStaleApplications_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	broken := createApplication(t, store, createPerson(t, store, "Dora"), day(2024, time.January, 10))
	other := createApplication(t, store, createPerson(t, store, "Emil"), day(2024, time.January, 11))
	store.FailRoleUpdate = func(r *domain.Role) error {
		if r.ID == broken.ID {
			return errors.New("locked")
		}
		return nil
	}

	jr := newRunner(store, &Services{Invoices: service.NewStoreInvoicer(store)})
	swept, failed, err := jr.sweepStaleApplications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, failed)

	got, err := store.Roles().GetByID(ctx, broken.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	got, err = store.Roles().GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)
}

func TestPromoteApplications(t *testing.T) {
	promotion := new(MockPromotionService)
	promotion.On("PromoteAll", mock.Anything).Return(&service.BatchResult{RunID: "run"}, nil).Once()
	promotion.On("PromoteAll", mock.Anything).Return(nil, errors.New("db down")).Once()
	jr := newRunner(newStore(), &Services{Promotion: promotion})

	jr.PromoteApplications()
	jr.PromoteApplications()

	promotion.AssertNumberOfCalls(t, "PromoteAll", 2)
}

func TestRunWithRecovery(t *testing.T) {
	jr := newRunner(newStore(), &Services{})
	ran := false

	assert.NotPanics(t, func() {
		jr.runWithRecovery("panicking", func() {
			ran = true
			panic("boom")
		})
	})
	assert.True(t, ran)
}

func TestSyncMemberships(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	main, partner := createPerson(t, store, "Anna"), createPerson(t, store, "Beat")
	mainID := main.ID
	require.NoError(t, store.Households().Create(ctx, &domain.Household{MainPersonID: &mainID, MemberIDs: []int32{main.ID, partner.ID}}))
	single := createPerson(t, store, "Dora")

	lastYear := day(2023, time.December, 31)
	var roles []*domain.Role
	for _, p := range []*domain.Person{main, partner, single} {
		cat := domain.CategoryFamily
		if p.ID == single.ID {
			cat = domain.CategoryAdult
		}
		end := lastYear
		r := &domain.Role{Type: domain.RoleTypeMember, PersonID: p.ID, GroupID: membersGroup, Category: cat, StartOn: day(2020, time.January, 1), EndOn: &end}
		require.NoError(t, store.Roles().Create(ctx, r))
		roles = append(roles, r)
	}

	for _, p := range []*domain.Person{partner, main, single} {
		store.AddInvoice(&domain.Invoice{PersonID: p.ID, SectionID: 1, Year: 2024, State: domain.InvoiceStatePayed})
	}
	store.AddInvoice(&domain.Invoice{PersonID: 999, SectionID: 1, Year: 2024, State: domain.InvoiceStatePayed})
	store.AddInvoice(&domain.Invoice{PersonID: single.ID, SectionID: 1, Year: 2023, State: domain.InvoiceStatePayed})

	jr := newRunner(store, &Services{Status: service.NewMembershipStatusService(store, nil)})
	report, err := jr.syncMemberships(ctx, 2024)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Invoices)
	assert.Equal(t, 3, report.Changed)
	assert.Equal(t, 1, report.Failed)

	for _, r := range roles {
		got, err := store.Roles().GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, day(2024, time.December, 31), *got.EndOn)
	}

	report, err = jr.syncMemberships(ctx, 2024)
	require.NoError(t, err)
	assert.Zero(t, report.Changed)
}

func TestBatchByHousehold(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	main, partner, single := createPerson(t, store, "Anna"), createPerson(t, store, "Beat"), createPerson(t, store, "Dora")
	mainID := main.ID
	require.NoError(t, store.Households().Create(ctx, &domain.Household{MainPersonID: &mainID, MemberIDs: []int32{main.ID, partner.ID}}))

	invoices := []domain.Invoice{
		{ID: 1, PersonID: partner.ID},
		{ID: 2, PersonID: single.ID},
		{ID: 3, PersonID: main.ID},
	}
	batches, skipped := newRunner(store, &Services{}).batchByHousehold(ctx, invoices)
	assert.Zero(t, skipped)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	assert.Equal(t, main.ID, batches[0][0].PersonID)
	assert.Equal(t, partner.ID, batches[0][1].PersonID)
	assert.Equal(t, single.ID, batches[1][0].PersonID)
}
