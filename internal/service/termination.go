package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

type TerminateOptions struct {
	// SkipTerminateOnValidation accepts any date. The end date is still
	// never moved forward.
	SkipTerminateOnValidation bool
	// Force terminates even when role or person records are invalid.
	Force bool
}

type TerminationResult struct {
	Role     *domain.Role
	Affected []domain.Role
	// Household is set when the termination ended the household's family
	// billing (dissolved) or an undo re-formed it.
	Household *domain.Household
}

type terminationService struct {
	store repository.TxManager
	now   clock
}

func NewTerminationService(store repository.TxManager) TerminationService {
	return &terminationService{store: store, now: systemClock}
}

func (s *terminationService) Terminate(ctx context.Context, roleID int32, terminateOn time.Time, opts TerminateOptions) (*TerminationResult, error) {
	logger.EnterMethod("terminationService.Terminate", "roleID", roleID, "terminateOn", terminateOn, "force", opts.Force)

	var result *TerminationResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		result, err = terminate(ctx, store, roleID, utils.Day(terminateOn), opts)
		return err
	})
	if err != nil {
		logger.ExitMethodWithError("terminationService.Terminate", err, "roleID", roleID)
		return nil, err
	}

	logger.ExitMethod("terminationService.Terminate", "roleID", roleID, "affected", len(result.Affected))
	return result, nil
}

// terminate validates the whole affected set before the first write so a
// rejected cascade leaves nothing behind even outside a transaction.
func terminate(ctx context.Context, store repository.Store, roleID int32, on time.Time, opts TerminateOptions) (*TerminationResult, error) {
	role, err := store.Roles().GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(role.State(), domain.RoleStateTerminated) {
		return nil, &domain.TransitionError{RoleID: role.ID, From: role.State(), To: domain.RoleStateTerminated}
	}
	if !opts.SkipTerminateOnValidation {
		if err := validateTerminateOn(role, on); err != nil {
			return nil, err
		}
	}

	person, err := store.People().GetByID(ctx, role.PersonID)
	if err != nil {
		return nil, err
	}

	var affected []domain.Role
	if role.IsMembership() {
		closure, err := affectedRoles(ctx, store, role, person)
		if err != nil {
			return nil, err
		}
		for _, r := range closure {
			if r.State() != domain.RoleStateActive || (r.EndOn != nil && r.EndOn.Before(on)) {
				continue
			}
			affected = append(affected, r)
		}
	}

	target := terminated(*role, on)
	if !opts.Force {
		if err := validateForTermination(ctx, store, &target, person); err != nil {
			return nil, err
		}
		for i := range affected {
			next := terminated(affected[i], on)
			if err := validateForTermination(ctx, store, &next, nil); err != nil {
				return nil, &domain.CascadeFailure{RoleID: next.ID, Err: err}
			}
		}
	}

	household, err := dissolvedHousehold(ctx, store, person, role, affected, on)
	if err != nil {
		return nil, err
	}

	if err := applyTermination(ctx, store, role, on, role.ID, household); err != nil {
		return nil, err
	}
	for i := range affected {
		if err := applyTermination(ctx, store, &affected[i], on, role.ID, household); err != nil {
			return nil, &domain.CascadeFailure{RoleID: affected[i].ID, Err: err}
		}
	}

	if household != nil {
		former := household.Dissolve()
		if err := store.Households().Update(ctx, household); err != nil {
			return nil, fmt.Errorf("failed to dissolve household %d: %w", household.ID, err)
		}
		logger.Info("Dissolved household", "household_id", household.ID, "members", former, "root_role_id", role.ID)
	}
	return &TerminationResult{Role: role, Affected: affected, Household: household}, nil
}

// dissolvedHousehold returns the person's household when terminating role
// and affected leaves no member with a family membership, nil otherwise.
func dissolvedHousehold(ctx context.Context, store repository.Store, person *domain.Person, role *domain.Role, affected []domain.Role, on time.Time) (*domain.Household, error) {
	if !role.IsFamily() || person.HouseholdID == nil {
		return nil, nil
	}
	household, err := store.Households().GetByID(ctx, *person.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("failed to load household of person %d: %w", person.ID, err)
	}
	roles, err := store.Roles().ListByPeople(ctx, household.Members())
	if err != nil {
		return nil, fmt.Errorf("failed to load household roles: %w", err)
	}

	ending := map[int32]bool{role.ID: true}
	for _, r := range affected {
		ending[r.ID] = true
	}
	remaining := roles[:0]
	for _, r := range roles {
		if r.DeletedAt != nil {
			continue
		}
		if ending[r.ID] {
			r = terminated(r, on)
		}
		remaining = append(remaining, r)
	}
	if household.HasFamilyBilling(remaining, on) {
		return nil, nil
	}
	return household, nil
}

func validateTerminateOn(role *domain.Role, on time.Time) error {
	if on.Before(utils.Day(role.StartOn)) {
		return domain.NewValidationError("terminate_on", "must not be before the role starts")
	}
	if role.EndOn != nil && on.After(*role.EndOn) {
		return domain.NewValidationError("terminate_on", "must not be after the current end date")
	}
	return nil
}

// terminated returns a copy of r as it would be stored after termination.
// end_on only ever moves backwards.
func terminated(r domain.Role, on time.Time) domain.Role {
	r.Terminated = true
	if r.EndOn == nil || on.Before(*r.EndOn) {
		end := on
		r.EndOn = &end
	}
	return r
}

func validateForTermination(ctx context.Context, store repository.Store, r *domain.Role, person *domain.Person) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if person == nil {
		var err error
		if person, err = store.People().GetByID(ctx, r.PersonID); err != nil {
			return err
		}
	}
	if err := person.Validate(); err != nil {
		return fmt.Errorf("person %d: %w", person.ID, err)
	}
	return nil
}

func applyTermination(ctx context.Context, store repository.Store, r *domain.Role, on time.Time, rootID int32, dissolved *domain.Household) error {
	previous := r.EndOn
	*r = terminated(*r, on)
	if err := store.Roles().Update(ctx, r); err != nil {
		return fmt.Errorf("failed to terminate role %d: %w", r.ID, err)
	}
	event := &domain.RoleEvent{
		RoleID:        r.ID,
		Type:          domain.RoleEventTerminated,
		PreviousEndOn: previous,
		NewEndOn:      r.EndOn,
		CascadeRootID: rootID,
	}
	// the family primaries remember the household so an undo can re-form it
	if dissolved != nil && r.IsPrimaryMember() && r.IsFamily() && dissolved.Includes(r.PersonID) {
		id := dissolved.ID
		event.HouseholdID = &id
		main, ok := dissolved.MainPerson()
		event.FamilyMainPerson = ok && main == r.PersonID
	}
	return store.Roles().RecordEvent(ctx, event)
}

func (s *terminationService) AffectedPeople(ctx context.Context, roleID int32) ([]domain.Person, error) {
	role, err := s.store.Roles().GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	person, err := s.store.People().GetByID(ctx, role.PersonID)
	if err != nil {
		return nil, err
	}
	closure, err := affectedRoles(ctx, s.store, role, person)
	if err != nil {
		return nil, err
	}

	seen := map[int32]bool{}
	var ids []int32
	for _, r := range closure {
		if r.PersonID != person.ID && !seen[r.PersonID] && r.State() == domain.RoleStateActive {
			seen[r.PersonID] = true
			ids = append(ids, r.PersonID)
		}
	}
	if len(ids) == 0 {
		return []domain.Person{}, nil
	}
	return s.store.People().ListByIDs(ctx, ids)
}

// UndoTermination reverses a whole termination cascade. The terminated roles
// are soft-deleted and replaced by active copies carrying the end date they
// had before, so the terminated flag of a stored role never flips back.
func (s *terminationService) UndoTermination(ctx context.Context, roleID int32) (*TerminationResult, error) {
	logger.EnterMethod("terminationService.UndoTermination", "roleID", roleID)

	var result *TerminationResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		root, err := store.Roles().GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if root.State() != domain.RoleStateTerminated {
			return &domain.TransitionError{RoleID: root.ID, From: root.State(), To: domain.RoleStateActive}
		}

		events, err := store.Roles().ListEventsByCascade(ctx, root.ID, domain.RoleEventTerminated)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return domain.NewValidationError("role", "was not terminated as the root of a cascade")
		}

		now := s.now()
		result = &TerminationResult{}
		var former *domain.Household
		for _, e := range events {
			if e.HouseholdID == nil {
				continue
			}
			r, err := store.Roles().GetByID(ctx, e.RoleID)
			if err != nil {
				return err
			}
			if former == nil {
				former = &domain.Household{ID: *e.HouseholdID}
			}
			former.MemberIDs = append(former.MemberIDs, r.PersonID)
			if e.FamilyMainPerson {
				main := r.PersonID
				former.MainPersonID = &main
			}
		}
		for _, e := range events {
			role, err := store.Roles().GetByID(ctx, e.RoleID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if role.State() != domain.RoleStateTerminated {
				continue
			}
			restored, err := restore(ctx, store, role, e, now)
			if err != nil {
				if role.ID == root.ID {
					return err
				}
				return &domain.CascadeFailure{RoleID: role.ID, Err: err}
			}
			if role.ID == root.ID {
				result.Role = restored
			} else {
				result.Affected = append(result.Affected, *restored)
			}
		}
		if former != nil {
			household, err := reform(ctx, store, former)
			if err != nil {
				return err
			}
			result.Household = household
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("terminationService.UndoTermination", err, "roleID", roleID)
		return nil, err
	}

	logger.ExitMethod("terminationService.UndoTermination", "roleID", roleID, "affected", len(result.Affected))
	return result, nil
}

// reform gives a household dissolved by a termination its members back. A
// household that has members again in the meantime is left alone.
func reform(ctx context.Context, store repository.Store, former *domain.Household) (*domain.Household, error) {
	household, err := store.Households().GetByID(ctx, former.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load household %d: %w", former.ID, err)
	}
	if len(household.MemberIDs) > 0 {
		logger.Warn("Household not re-formed, it has members", "household_id", household.ID, "members", household.MemberIDs)
		return nil, nil
	}
	people, err := store.People().ListByIDs(ctx, former.MemberIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range people {
		if p.HouseholdID != nil {
			return nil, fmt.Errorf("person %d joined household %d: %w", p.ID, *p.HouseholdID, domain.ErrConflict)
		}
	}
	household.MemberIDs = former.MemberIDs
	household.MainPersonID = former.MainPersonID
	if err := store.Households().Update(ctx, household); err != nil {
		return nil, fmt.Errorf("failed to re-form household %d: %w", household.ID, err)
	}
	return household, nil
}

func restore(ctx context.Context, store repository.Store, role *domain.Role, e domain.RoleEvent, now time.Time) (*domain.Role, error) {
	deletedAt := now
	role.DeletedAt = &deletedAt
	if err := store.Roles().Update(ctx, role); err != nil {
		return nil, err
	}
	if err := store.Roles().RecordEvent(ctx, &domain.RoleEvent{
		RoleID:        role.ID,
		Type:          domain.RoleEventDeleted,
		PreviousEndOn: role.EndOn,
		NewEndOn:      role.EndOn,
		CascadeRootID: e.CascadeRootID,
	}); err != nil {
		return nil, err
	}

	replacement := &domain.Role{
		Type:     role.Type,
		PersonID: role.PersonID,
		GroupID:  role.GroupID,
		Category: role.Category,
		StartOn:  role.StartOn,
		EndOn:    e.PreviousEndOn,
	}
	if err := replacement.Validate(); err != nil {
		return nil, err
	}
	if replacement.IsPrimaryMember() {
		if err := ensureSinglePrimary(ctx, store, replacement); err != nil {
			return nil, err
		}
	}
	if err := store.Roles().Create(ctx, replacement); err != nil {
		return nil, err
	}
	if err := store.Roles().RecordEvent(ctx, &domain.RoleEvent{
		RoleID:        replacement.ID,
		Type:          domain.RoleEventUndoTermination,
		PreviousEndOn: role.EndOn,
		NewEndOn:      replacement.EndOn,
		CascadeRootID: e.CascadeRootID,
	}); err != nil {
		return nil, err
	}
	return replacement, nil
}

// ensureSinglePrimary rejects a primary membership overlapping another active
// primary membership of the same person.
func ensureSinglePrimary(ctx context.Context, store repository.Store, candidate *domain.Role) error {
	roles, err := store.Roles().ListByPerson(ctx, candidate.PersonID, false)
	if err != nil {
		return err
	}
	for i := range roles {
		r := &roles[i]
		if r.ID == candidate.ID || !r.IsPrimaryMember() {
			continue
		}
		if r.Overlaps(candidate) {
			return fmt.Errorf("person %d already holds primary membership %d: %w", candidate.PersonID, r.ID, domain.ErrConflict)
		}
	}
	return nil
}
