package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

type membershipStatusService struct {
	store   repository.TxManager
	effects sideEffects
	now     clock
}

func NewMembershipStatusService(store repository.TxManager, duplicates DuplicateChecker) MembershipStatusService {
	return &membershipStatusService{
		store:   store,
		effects: sideEffects{duplicates: duplicates},
		now:     systemClock,
	}
}

// UpdateMembershipStatus makes the person a member of the section until the
// end of year: an existing primary membership is extended, otherwise a pending
// application is turned into a membership. Only a family main person carries
// the change over to the household. It returns the number of roles changed.
func (s *membershipStatusService) UpdateMembershipStatus(ctx context.Context, personID, sectionID int32, year int) (int, error) {
	return s.sync(ctx, personID, sectionID, year, true)
}

// HandleInvoiceEvent reacts to invoices reported by the invoicing system.
// Open invoices only extend running memberships, paid invoices also
// materialize applications.
func (s *membershipStatusService) HandleInvoiceEvent(ctx context.Context, invoice *domain.Invoice) (int, error) {
	switch invoice.State {
	case domain.InvoiceStateOpen:
		return s.sync(ctx, invoice.PersonID, invoice.SectionID, invoice.Year, false)
	case domain.InvoiceStatePayed:
		return s.sync(ctx, invoice.PersonID, invoice.SectionID, invoice.Year, true)
	}
	return 0, nil
}

func (s *membershipStatusService) sync(ctx context.Context, personID, sectionID int32, year int, materialize bool) (int, error) {
	logger.EnterMethod("membershipStatusService.sync", "personID", personID, "sectionID", sectionID, "year", year)

	changed := 0
	var created []int32
	err := s.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		changed, created = 0, nil

		person, err := store.People().GetByID(ctx, personID)
		if err != nil {
			return err
		}
		roles, err := store.Roles().ListByPerson(ctx, personID, false)
		if err != nil {
			return err
		}
		target := utils.EndOfYear(year)
		// memberships lapsed before the previous year are not renewed
		renewable := utils.EndOfYear(year - 1)
		cascade := person.HouseholdID != nil && person.FamilyMainPerson

		for _, match := range []func(*domain.Role) bool{
			(*domain.Role).IsPrimaryMember,
			(*domain.Role).IsAdditionalMember,
		} {
			member := findRole(roles, sectionID, func(r *domain.Role) bool {
				return match(r) && !r.Terminated && (r.EndOn == nil || !r.EndOn.Before(renewable))
			})
			if member == nil {
				continue
			}
			n, err := s.extend(ctx, store, member, target, cascade && member.IsFamily(), person)
			changed += n
			return err
		}
		if !materialize {
			return nil
		}

		for _, typ := range []domain.RoleType{domain.RoleTypeApplication, domain.RoleTypeAdditionalApplication} {
			application := findRole(roles, sectionID, func(r *domain.Role) bool {
				return r.Type == typ && r.State() == domain.RoleStatePending
			})
			if application == nil {
				continue
			}
			ids, n, err := s.materializeAll(ctx, store, application, person, target, cascade && application.IsFamily())
			changed += n
			created = append(created, ids...)
			return err
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("membershipStatusService.sync", err, "personID", personID)
		return 0, err
	}

	for _, id := range created {
		s.effects.checkDuplicates(ctx, id)
	}
	logger.ExitMethod("membershipStatusService.sync", "personID", personID, "changed", changed)
	return changed, nil
}

func findRole(roles []domain.Role, sectionID int32, match func(*domain.Role) bool) *domain.Role {
	var found *domain.Role
	for i := range roles {
		r := &roles[i]
		if r.SectionID != sectionID || !match(r) {
			continue
		}
		if found == nil || r.StartOn.After(found.StartOn) {
			found = r
		}
	}
	return found
}

// extend moves end_on of the membership and, for a family main person, of
// the household's memberships ending on or before it, to target.
func (s *membershipStatusService) extend(ctx context.Context, store repository.Store, member *domain.Role, target time.Time, cascade bool, person *domain.Person) (int, error) {
	previous := member.EndOn
	changed, err := extendRole(ctx, store, member, target, member.ID)
	if err != nil || !cascade {
		return changed, err
	}

	closure, err := affectedRoles(ctx, store, member, person)
	if err != nil {
		return changed, err
	}
	for i := range closure {
		r := &closure[i]
		if r.PersonID == person.ID || r.Terminated || r.EndOn == nil {
			continue
		}
		if previous != nil && r.EndOn.After(*previous) {
			continue
		}
		n, err := extendRole(ctx, store, r, target, member.ID)
		if err != nil {
			return changed, &domain.CascadeFailure{RoleID: r.ID, Err: err}
		}
		changed += n
	}
	return changed, nil
}

func extendRole(ctx context.Context, store repository.Store, r *domain.Role, target time.Time, rootID int32) (int, error) {
	if r.Terminated || r.EndOn == nil || !r.EndOn.Before(target) {
		return 0, nil
	}
	previous := r.EndOn
	end := target
	r.EndOn = &end
	if err := store.Roles().Update(ctx, r); err != nil {
		return 0, fmt.Errorf("failed to extend role %d: %w", r.ID, err)
	}
	if err := store.Roles().RecordEvent(ctx, &domain.RoleEvent{
		RoleID:        r.ID,
		Type:          domain.RoleEventExtended,
		PreviousEndOn: previous,
		NewEndOn:      r.EndOn,
		CascadeRootID: rootID,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// materializeAll turns the application into a membership together with the
// person's pending additional applications and, when cascading, the pending
// applications of the rest of the household. It returns the people who became
// members and the number of memberships created.
func (s *membershipStatusService) materializeAll(ctx context.Context, store repository.Store, application *domain.Role, person *domain.Person, target time.Time, cascade bool) ([]int32, int, error) {
	var rootID int32
	if err := s.materialize(ctx, store, application, target, &rootID); err != nil {
		return nil, 0, err
	}
	people := []int32{person.ID}
	created := 1

	closure, err := affectedRoles(ctx, store, application, person)
	if err != nil {
		return people, created, err
	}
	// primary applications first, the additional ones build on them
	sort.SliceStable(closure, func(a, b int) bool {
		return closure[a].Type == domain.RoleTypeApplication && closure[b].Type != domain.RoleTypeApplication
	})
	for i := range closure {
		r := &closure[i]
		if r.State() != domain.RoleStatePending || (!cascade && r.PersonID != person.ID) {
			continue
		}
		if err := s.materialize(ctx, store, r, target, &rootID); err != nil {
			return people, created, &domain.CascadeFailure{RoleID: r.ID, Err: err}
		}
		created++
		if !slices.Contains(people, r.PersonID) {
			people = append(people, r.PersonID)
		}
	}
	return people, created, nil
}

func (s *membershipStatusService) materialize(ctx context.Context, store repository.Store, application *domain.Role, target time.Time, rootID *int32) error {
	memberType, _ := application.MembershipType()
	members, err := store.Groups().FindBySectionAndType(ctx, application.SectionID, domain.GroupTypeMembers)
	if err != nil {
		return err
	}

	start := utils.Day(s.now())
	if start.After(target) {
		start = time.Date(target.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	end := target
	membership := &domain.Role{
		Type:      memberType,
		PersonID:  application.PersonID,
		GroupID:   members.ID,
		SectionID: members.SectionID,
		Category:  application.Category,
		StartOn:   start,
		EndOn:     &end,
	}
	if err := membership.Validate(); err != nil {
		return err
	}
	if err := ensureFamilyCategory(ctx, store, membership); err != nil {
		return err
	}
	if membership.IsPrimaryMember() {
		if err := ensureSinglePrimary(ctx, store, membership); err != nil {
			return err
		}
	}
	if err := store.Roles().Destroy(ctx, application.ID); err != nil {
		return fmt.Errorf("failed to remove application %d: %w", application.ID, err)
	}
	if err := store.Roles().Create(ctx, membership); err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	if *rootID == 0 {
		*rootID = membership.ID
	}
	return store.Roles().RecordEvent(ctx, &domain.RoleEvent{
		RoleID:        membership.ID,
		Type:          domain.RoleEventPromoted,
		NewEndOn:      membership.EndOn,
		CascadeRootID: *rootID,
	})
}
