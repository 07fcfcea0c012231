package service

import (
	"context"
	"fmt"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
)

// householdOthers returns the other members of the person's household.
func householdOthers(ctx context.Context, store repository.Store, person *domain.Person) ([]int32, error) {
	if person.HouseholdID == nil {
		return nil, nil
	}
	h, err := store.Households().GetByID(ctx, *person.HouseholdID)
	if err != nil {
		return nil, fmt.Errorf("failed to load household of person %d: %w", person.ID, err)
	}
	return h.Others(person.ID), nil
}

// affectedRoles returns the household closure of a role: the roles a
// lifecycle change of role carries over to. role itself is not part of it and
// deleted roles never are.
//
//	family MEMBER                 own additional memberships, all memberships of the other members
//	family ADDITIONAL_MEMBER      the other members' additional memberships in the same section
//	MEMBER                        own additional memberships
//	family APPLICATION            own additional applications, all applications of the other members
//	APPLICATION                   own additional applications
//	family ADDITIONAL_APPLICATION the other members' additional applications in the same section
//	anything else                 nothing
func affectedRoles(ctx context.Context, store repository.Store, role *domain.Role, person *domain.Person) ([]domain.Role, error) {
	family := role.IsFamily() && person.HouseholdID != nil

	var others []int32
	if family {
		var err error
		if others, err = householdOthers(ctx, store, person); err != nil {
			return nil, err
		}
	}

	var (
		ownMatch   func(*domain.Role) bool
		otherMatch func(*domain.Role) bool
	)
	switch role.Type {
	case domain.RoleTypeMember:
		ownMatch = (*domain.Role).IsAdditionalMember
		if family {
			otherMatch = (*domain.Role).IsMembership
		}
	case domain.RoleTypeAdditionalMember:
		if family {
			otherMatch = func(r *domain.Role) bool { return r.IsAdditionalMember() && r.SectionID == role.SectionID }
		}
	case domain.RoleTypeApplication:
		ownMatch = func(r *domain.Role) bool { return r.Type == domain.RoleTypeAdditionalApplication }
		if family {
			otherMatch = (*domain.Role).IsApplication
		}
	case domain.RoleTypeAdditionalApplication:
		if family {
			otherMatch = func(r *domain.Role) bool {
				return r.Type == domain.RoleTypeAdditionalApplication && r.SectionID == role.SectionID
			}
		}
	}

	ids := []int32{}
	if ownMatch != nil {
		ids = append(ids, person.ID)
	}
	if otherMatch != nil {
		ids = append(ids, others...)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	roles, err := store.Roles().ListByPeople(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load household roles: %w", err)
	}

	var affected []domain.Role
	for i := range roles {
		r := &roles[i]
		if r.ID == role.ID || r.DeletedAt != nil {
			continue
		}
		if r.PersonID == person.ID {
			if ownMatch != nil && ownMatch(r) {
				affected = append(affected, *r)
			}
			continue
		}
		if otherMatch != nil && otherMatch(r) {
			affected = append(affected, *r)
		}
	}
	return affected, nil
}

func primaryKind(r *domain.Role) bool {
	return r.Type == domain.RoleTypeMember || r.Type == domain.RoleTypeApplication
}

// ensureFamilyCategory rejects a non-family membership or application while
// other household members hold family roles of the same kind in the
// candidate's section. candidate.SectionID must be set.
func ensureFamilyCategory(ctx context.Context, store repository.Store, candidate *domain.Role) error {
	if candidate.IsFamily() || !(candidate.IsMembership() || candidate.IsApplication()) {
		return nil
	}
	person, err := store.People().GetByID(ctx, candidate.PersonID)
	if err != nil {
		return err
	}
	others, err := householdOthers(ctx, store, person)
	if err != nil || len(others) == 0 {
		return err
	}
	roles, err := store.Roles().ListByPeople(ctx, others)
	if err != nil {
		return fmt.Errorf("failed to load household roles: %w", err)
	}

	for i := range roles {
		r := &roles[i]
		if !r.IsFamily() || r.DeletedAt != nil || r.Terminated {
			continue
		}
		if !(r.IsMembership() || r.IsApplication()) || r.SectionID != candidate.SectionID || primaryKind(r) != primaryKind(candidate) {
			continue
		}
		if r.EndOn != nil && r.EndOn.Before(candidate.StartOn) {
			continue
		}
		return domain.NewValidationError("category",
			fmt.Sprintf("must be %s, household member %d holds a family role in section %d", domain.CategoryFamily, r.PersonID, candidate.SectionID))
	}
	return nil
}
