package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/fees"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

type feeService struct {
	store       repository.Store
	rates       fees.RateProvider
	pipeline    *fees.Pipeline
	homeCountry string
}

func NewFeeService(store repository.Store, rates fees.RateProvider, homeCountry string) FeeService {
	return &feeService{
		store:       store,
		rates:       rates,
		pipeline:    fees.NewPipeline(),
		homeCountry: homeCountry,
	}
}

// PositionsFor loads the person's memberships in force on referenceDate and
// runs the pipeline. A non-zero sectionID restricts billing to that section.
// newEntry marks applications as joining, which adds entry fees.
func (s *feeService) PositionsFor(ctx context.Context, personID, sectionID int32, referenceDate time.Time, newEntry bool) ([]fees.Position, error) {
	logger.EnterMethod("feeService.PositionsFor", "personID", personID, "sectionID", sectionID)

	positions, err := s.positionsFor(ctx, personID, sectionID, utils.Day(referenceDate), newEntry)
	if err != nil {
		logger.ExitMethodWithError("feeService.PositionsFor", err, "personID", personID)
		return nil, err
	}

	logger.ExitMethod("feeService.PositionsFor", "personID", personID, "positions", len(positions))
	return positions, nil
}

func (s *feeService) positionsFor(ctx context.Context, personID, sectionID int32, ref time.Time, newEntry bool) ([]fees.Position, error) {
	billing, err := fees.NewContext(s.rates, ref, s.homeCountry)
	if err != nil {
		return nil, err
	}

	person, err := s.store.People().GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.Roles().ListByPerson(ctx, personID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	subject := &fees.Subject{
		Person:          person,
		MembershipYears: domain.MembershipYears(roles, ref),
	}
	for i := range roles {
		r := &roles[i]
		if r.Type == domain.RoleTypeHonoraryMember && r.ActiveOn(ref) {
			subject.Honorary = true
		}
		if !billable(r, ref) || (sectionID != 0 && r.SectionID != sectionID) {
			continue
		}

		section, err := s.store.Groups().GetSection(ctx, r.SectionID)
		if err != nil {
			return nil, err
		}
		rates, err := billing.SectionRates(r.SectionID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve rates of section %d: %w", r.SectionID, err)
		}
		subject.Memberships = append(subject.Memberships, fees.Membership{
			Role:     r,
			Section:  section,
			Rates:    rates,
			NewEntry: newEntry && r.IsApplication(),
		})
	}

	return s.pipeline.Positions(billing, subject), nil
}

// billable selects memberships in force on ref and pending applications.
func billable(r *domain.Role, ref time.Time) bool {
	switch {
	case r.IsApplication():
		return r.State() == domain.RoleStatePending
	case r.IsMembership():
		return r.ActiveOn(ref)
	}
	return false
}
