package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/fees"
)

func newPromotionService(f *fixture, feeSvc FeeService, invoices InvoiceCreator, notifier Notifier, duplicates DuplicateChecker) *promotionService {
	return &promotionService{
		store:      f.store,
		fees:       feeSvc,
		invoices:   invoices,
		conditions: DefaultPromotionConditions(),
		effects:    sideEffects{notifier: notifier, duplicates: duplicates},
		now:        fixedClock,
	}
}

func matchPerson(id int32) interface{} {
	return mock.MatchedBy(func(p *domain.Person) bool { return p.ID == id })
}

func (f *fixture) pay(role *domain.Role) {
	id := role.ID
	f.store.AddInvoice(&domain.Invoice{
		PersonID:   role.PersonID,
		SectionID:  role.SectionID,
		LinkRoleID: &id,
		Year:       today.Year(),
		Kind:       domain.InvoiceKindEntry,
		State:      domain.InvoiceStatePayed,
		Total:      decimal.NewFromInt(140),
	})
}

func (f *fixture) approved(p *domain.Person, typ domain.RoleType, section int32, cat domain.Category) *domain.Role {
	return f.role(p, typ, groupID(section, groupApplied), cat, "2024-06-01", nil)
}

func TestApproveAndPromote(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	f.member(dora, sectionBern, domain.CategoryAdult)
	pending := f.role(dora, domain.RoleTypeAdditionalApplication, groupID(sectionThun, groupReview), domain.CategoryAdult, "2024-06-01", nil)

	positions := []fees.Position{{Name: fees.SectionFee, Amount: decimal.NewFromInt(30), InvoiceAmount: decimal.NewFromInt(30)}}
	feeSvc := new(MockFeeService)
	feeSvc.On("PositionsFor", mock.Anything, dora.ID, sectionThun, today, true).Return(positions, nil)
	invoices := new(MockInvoiceCreator)
	invoices.On("CreateInvoice", mock.Anything, matchPerson(dora.ID), positions, 2024, mock.AnythingOfType("*domain.Role")).
		Return(&domain.Invoice{ID: 99}, nil)
	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, TemplateApplicationApproved, matchPerson(dora.ID), mock.Anything).Return(nil).Once()
	notifier.On("Send", mock.Anything, TemplateMembershipConfirmed, matchPerson(dora.ID), mock.Anything).Return(nil).Once()
	duplicates := new(MockDuplicateChecker)
	duplicates.On("EnqueueDuplicateCheck", mock.Anything, dora.ID).Return(nil).Once()

	svc := newPromotionService(f, feeSvc, invoices, notifier, duplicates)

	result, err := svc.Approve(f.ctx, groupID(sectionThun, groupApplied), []int32{dora.ID})
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded())
	assert.NotEmpty(t, result.RunID)
	assert.True(t, f.gone(pending.ID))

	approved := f.get(result.Outcomes[0].RoleID)
	assert.Equal(t, groupID(sectionThun, groupApplied), approved.GroupID)
	assert.Equal(t, domain.RoleStatePending, approved.State())
	assert.Equal(t, pending.CreatedAt, approved.CreatedAt)

	promoted, err := svc.Promote(f.ctx, approved.ID)
	require.NoError(t, err)
	assert.False(t, promoted, "unpaid application stays pending")
	assert.False(t, f.gone(approved.ID))

	f.pay(approved)
	promoted, err = svc.Promote(f.ctx, approved.ID)
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.True(t, f.gone(approved.ID))

	memberships := f.rolesOf(dora, domain.RoleTypeAdditionalMember)
	require.Len(t, memberships, 1)
	assert.Equal(t, groupID(sectionThun, groupMembers), memberships[0].GroupID)
	assert.Equal(t, today, memberships[0].StartOn)
	assert.Equal(t, date("2024-12-31"), *memberships[0].EndOn)
	assert.Equal(t, domain.CategoryAdult, memberships[0].Category)
	assert.Empty(t, f.rolesOf(dora, domain.RoleTypeAdditionalApplication))

	feeSvc.AssertExpectations(t)
	invoices.AssertExpectations(t)
	notifier.AssertExpectations(t)
	duplicates.AssertExpectations(t)
}

func TestApprove_Failures(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	svc := newPromotionService(f, nil, nil, nil, nil)

	_, err := svc.Approve(f.ctx, groupID(sectionBern, groupMembers), []int32{dora.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	result, err := svc.Approve(f.ctx, groupID(sectionBern, groupApplied), []int32{dora.ID})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed())
	assert.ErrorIs(t, result.Outcomes[0].Err, domain.ErrNotFound)
}

func TestApprove_FamilyMemberIsNotInvoiced(t *testing.T) {
	f := newFixture(t)
	anna, beat := f.person("Anna"), f.person("Beat")
	f.household(anna, beat)
	f.role(beat, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryFamily, "2024-06-01", nil)
	invoices := new(MockInvoiceCreator)
	feeSvc := new(MockFeeService)
	notifier := new(MockNotifier)
	svc := newPromotionService(f, feeSvc, invoices, notifier, nil)

	result, err := svc.Approve(f.ctx, groupID(sectionBern, groupApplied), []int32{beat.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded())
	invoices.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	feeSvc.AssertNotCalled(t, "PositionsFor", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "Send", mock.Anything, TemplateApplicationApproved, mock.Anything, mock.Anything)
}

func TestFamilyCategoryIsEnforced(t *testing.T) {
	newHousehold := func(t *testing.T) (*fixture, *domain.Person) {
		f := newFixture(t)
		anna, beat := f.person("Anna"), f.person("Beat")
		f.household(anna, beat)
		f.member(anna, sectionBern, domain.CategoryFamily)
		return f, beat
	}

	t.Run("approve", func(t *testing.T) {
		f, beat := newHousehold(t)
		pending := f.role(beat, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryAdult, "2024-06-01", nil)

		result, err := newPromotionService(f, nil, nil, nil, nil).Approve(f.ctx, groupID(sectionBern, groupApplied), []int32{beat.ID})
		require.NoError(t, err)
		require.Equal(t, 1, result.Failed())
		assert.ErrorIs(t, result.Outcomes[0].Err, domain.ErrValidation)
		assert.False(t, f.gone(pending.ID))
	})

	t.Run("promote", func(t *testing.T) {
		f, beat := newHousehold(t)
		application := f.approved(beat, domain.RoleTypeApplication, sectionBern, domain.CategoryAdult)
		f.pay(application)

		_, err := newPromotionService(f, nil, nil, nil, nil).Promote(f.ctx, application.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.False(t, f.gone(application.ID))
		assert.Empty(t, f.rolesOf(beat, domain.RoleTypeMember))
	})

	t.Run("materialize", func(t *testing.T) {
		f, beat := newHousehold(t)
		application := f.approved(beat, domain.RoleTypeApplication, sectionBern, domain.CategoryAdult)

		_, err := newMembershipStatusService(f, nil).UpdateMembershipStatus(f.ctx, beat.ID, sectionBern, 2024)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.False(t, f.gone(application.ID))
	})

	t.Run("other section is unaffected", func(t *testing.T) {
		f, beat := newHousehold(t)
		application := f.approved(beat, domain.RoleTypeApplication, sectionThun, domain.CategoryAdult)
		f.pay(application)

		promoted, err := newPromotionService(f, nil, nil, nil, nil).Promote(f.ctx, application.ID)
		require.NoError(t, err)
		assert.True(t, promoted)
	})
}

func TestPromote_Conditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, p *domain.Person, application *domain.Role)
		want  bool
	}{
		{name: "all met", setup: func(f *fixture, _ *domain.Person, a *domain.Role) { f.pay(a) }, want: true},
		{name: "unpaid", setup: func(*fixture, *domain.Person, *domain.Role) {}},
		{name: "email not verified", setup: func(f *fixture, p *domain.Person, a *domain.Role) {
			f.pay(a)
			p.EmailConfirmedAt = nil
			require.NoError(f.t, f.store.People().Update(f.ctx, p))
		}},
		{name: "duplicate suspected", setup: func(f *fixture, p *domain.Person, a *domain.Role) {
			f.pay(a)
			p.DuplicateSuspected = true
			require.NoError(f.t, f.store.People().Update(f.ctx, p))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			dora := f.person("Dora")
			application := f.approved(dora, domain.RoleTypeApplication, sectionBern, domain.CategoryAdult)
			tt.setup(f, dora, application)

			promoted, err := newPromotionService(f, nil, nil, nil, nil).Promote(f.ctx, application.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, promoted)
			assert.Equal(t, tt.want, f.gone(application.ID))
			wantMembers := 0
			if tt.want {
				wantMembers = 1
			}
			assert.Len(t, f.rolesOf(dora, domain.RoleTypeMember), wantMembers)
		})
	}
}

func TestPromote_FamilyMemberReliesOnMainPersonInvoice(t *testing.T) {
	f := newFixture(t)
	anna, beat := f.person("Anna"), f.person("Beat")
	f.household(anna, beat)
	annaApplication := f.approved(anna, domain.RoleTypeApplication, sectionBern, domain.CategoryFamily)
	beatApplication := f.approved(beat, domain.RoleTypeApplication, sectionBern, domain.CategoryFamily)
	svc := newPromotionService(f, nil, nil, nil, nil)

	promoted, err := svc.Promote(f.ctx, beatApplication.ID)
	require.NoError(t, err)
	assert.False(t, promoted)

	f.pay(annaApplication)
	promoted, err = svc.Promote(f.ctx, beatApplication.ID)
	require.NoError(t, err)
	assert.True(t, promoted)

	promoted, err = svc.Promote(f.ctx, annaApplication.ID)
	require.NoError(t, err)
	assert.True(t, promoted)
}

func TestPromote_Subscriptions(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	create := func(typ domain.RoleType, group int32, created string) *domain.Role {
		r := &domain.Role{
			Type:      typ,
			PersonID:  dora.ID,
			GroupID:   group,
			Category:  domain.CategoryAdult,
			StartOn:   date("2024-01-01"),
			CreatedAt: date(created),
		}
		require.NoError(t, f.store.Roles().Create(f.ctx, r))
		return r
	}
	older := create(domain.RoleTypeMagazineSubscriber, groupID(sectionBern, groupSubs), "2024-01-01")
	application := create(domain.RoleTypeApplication, groupID(sectionBern, groupApplied), "2024-06-05")
	newer := create(domain.RoleTypeSelfRegistered, groupID(sectionBern, groupSubs), "2024-06-10")
	f.pay(application)

	promoted, err := newPromotionService(f, nil, nil, nil, nil).Promote(f.ctx, application.ID)
	require.NoError(t, err)
	require.True(t, promoted)

	assert.True(t, f.gone(newer.ID))
	got := f.get(older.ID)
	assert.True(t, got.Terminated)
	assert.Equal(t, today.AddDate(0, 0, -1), *got.EndOn)
}

func TestPromote_KeepsNonSubscriptionRoles(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	honorary := f.role(dora, domain.RoleTypeHonoraryMember, groupID(sectionBern, groupHonor), domain.CategoryAdult, "2010-01-01", nil)
	subscription := f.role(dora, domain.RoleTypeMagazineSubscriber, groupID(sectionBern, groupSubs), domain.CategoryAdult, "2023-01-01", nil)
	application := f.approved(dora, domain.RoleTypeApplication, sectionBern, domain.CategoryAdult)
	f.pay(application)

	promoted, err := newPromotionService(f, nil, nil, nil, nil).Promote(f.ctx, application.ID)
	require.NoError(t, err)
	require.True(t, promoted)

	assert.True(t, f.get(subscription.ID).Terminated)
	got := f.get(honorary.ID)
	assert.False(t, got.Terminated)
	assert.Nil(t, got.EndOn)
}

func TestPromote_SecondPrimaryMembership(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	f.member(dora, sectionBern, domain.CategoryAdult)
	application := f.approved(dora, domain.RoleTypeApplication, sectionThun, domain.CategoryAdult)
	f.pay(application)

	_, err := newPromotionService(f, nil, nil, nil, nil).Promote(f.ctx, application.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.False(t, f.gone(application.ID))
	assert.Len(t, f.rolesOf(dora, domain.RoleTypeMember), 1)
}

func TestPromote_RequiresApproval(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	pending := f.role(dora, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryAdult, "2024-06-01", nil)
	f.pay(pending)
	member := f.member(f.person("Emil"), sectionBern, domain.CategoryAdult)
	svc := newPromotionService(f, nil, nil, nil, nil)

	_, err := svc.Promote(f.ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Promote(f.ctx, member.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPromoteAll(t *testing.T) {
	f := newFixture(t)

	dora := f.person("Dora")
	f.member(dora, sectionBern, domain.CategoryAdult)
	conflicting := f.approved(dora, domain.RoleTypeApplication, sectionThun, domain.CategoryAdult)
	f.pay(conflicting)

	emil := f.person("Emil")
	promotable := f.approved(emil, domain.RoleTypeAdditionalApplication, sectionBern, domain.CategoryYouth)
	f.pay(promotable)

	fritz := f.person("Fritz")
	unpaid := f.approved(fritz, domain.RoleTypeApplication, sectionBern, domain.CategoryAdult)

	duplicates := new(MockDuplicateChecker)
	duplicates.On("EnqueueDuplicateCheck", mock.Anything, emil.ID).Return(nil)

	result, err := newPromotionService(f, nil, nil, nil, duplicates).PromoteAll(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded())
	assert.Equal(t, 1, result.Skipped())
	assert.Equal(t, 1, result.Failed())

	byRole := map[int32]Outcome{}
	for _, o := range result.Outcomes {
		byRole[o.RoleID] = o
	}
	assert.Equal(t, OutcomeFailed, byRole[conflicting.ID].Status)
	assert.ErrorIs(t, byRole[conflicting.ID].Err, domain.ErrConflict)
	assert.Equal(t, OutcomeSucceeded, byRole[promotable.ID].Status)
	assert.Equal(t, OutcomeSkipped, byRole[unpaid.ID].Status)
	assert.Len(t, f.rolesOf(emil, domain.RoleTypeAdditionalMember), 1)
	duplicates.AssertExpectations(t)
}

func TestReject_DeletesPersonWithoutOtherRoles(t *testing.T) {
	f := newFixture(t)
	dora := f.person("Dora")
	application := f.role(dora, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryAdult, "2024-06-01", nil)
	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, TemplateApplicationRejected, matchPerson(dora.ID), mock.Anything).Return(nil).Once()

	require.NoError(t, newPromotionService(f, nil, nil, notifier, nil).Reject(f.ctx, application.ID, ""))

	_, err := f.store.People().GetByID(f.ctx, dora.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, f.gone(application.ID))
	notifier.AssertExpectations(t)
}

func TestReject_KeepsPersonWithOtherRoles(t *testing.T) {
	f := newFixture(t)
	emil := f.person("Emil")
	f.role(emil, domain.RoleTypeMagazineSubscriber, groupID(sectionBern, groupSubs), "", "2023-01-01", nil)
	application := f.role(emil, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryAdult, "2024-06-01", nil)
	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, TemplateApplicationRejected, matchPerson(emil.ID), mock.Anything).Return(nil).Once()

	require.NoError(t, newPromotionService(f, nil, nil, notifier, nil).Reject(f.ctx, application.ID, "no references"))

	got := f.get(application.ID)
	assert.Equal(t, domain.RoleStateDeleted, got.State())
	assert.Equal(t, today, *got.EndOn)
	notes, err := f.store.Notes().ListByPerson(f.ctx, emil.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "no references", notes[0].Text)
	notifier.AssertExpectations(t)
}

func TestReject_NotifiesOnlyMainPerson(t *testing.T) {
	f := newFixture(t)
	anna, beat := f.person("Anna"), f.person("Beat")
	f.household(anna, beat)
	f.role(beat, domain.RoleTypeMagazineSubscriber, groupID(sectionBern, groupSubs), "", "2023-01-01", nil)
	application := f.role(beat, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryFamily, "2024-06-01", nil)
	notifier := new(MockNotifier)

	require.NoError(t, newPromotionService(f, nil, nil, notifier, nil).Reject(f.ctx, application.ID, ""))

	notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notes, err := f.store.Notes().ListByPerson(f.ctx, beat.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestReject_FutureApplicationEndsOnStart(t *testing.T) {
	f := newFixture(t)
	emil := f.person("Emil")
	f.role(emil, domain.RoleTypeMagazineSubscriber, groupID(sectionBern, groupSubs), "", "2023-01-01", nil)
	start := today.AddDate(0, 1, 0).Format(time.DateOnly)
	application := f.role(emil, domain.RoleTypeApplication, groupID(sectionBern, groupReview), domain.CategoryAdult, start, nil)

	require.NoError(t, newPromotionService(f, nil, nil, nil, nil).Reject(f.ctx, application.ID, ""))
	assert.Equal(t, date(start), *f.get(application.ID).EndOn)
}

func TestReject_Membership(t *testing.T) {
	f := newFixture(t)
	member := f.member(f.person("Dora"), sectionBern, domain.CategoryAdult)

	err := newPromotionService(f, nil, nil, nil, nil).Reject(f.ctx, member.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
