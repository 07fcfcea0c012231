package service

import (
	"context"
	"fmt"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

// PromotionCondition is one check an approved application must pass before it
// becomes a membership. Conditions are independent of each other.
type PromotionCondition interface {
	Name() string
	Satisfied(ctx context.Context, store repository.Store, person *domain.Person, role *domain.Role) (bool, error)
}

type noDuplicate struct{}

func (noDuplicate) Name() string { return "no_duplicate" }

func (noDuplicate) Satisfied(_ context.Context, _ repository.Store, person *domain.Person, _ *domain.Role) (bool, error) {
	return !person.DuplicateSuspected, nil
}

type emailVerified struct{}

func (emailVerified) Name() string { return "email_verified" }

func (emailVerified) Satisfied(_ context.Context, _ repository.Store, person *domain.Person, _ *domain.Role) (bool, error) {
	return person.EmailConfirmedAt != nil, nil
}

// paidInvoice looks at the invoice linked to the application. Family members
// who do not pay themselves rely on the main person's application invoice.
type paidInvoice struct{}

func (paidInvoice) Name() string { return "paid_invoice" }

func (paidInvoice) Satisfied(ctx context.Context, store repository.Store, person *domain.Person, role *domain.Role) (bool, error) {
	paid, err := hasPaidInvoice(ctx, store, role.ID)
	if err != nil || paid || person.Paying(role.Category) {
		return paid, err
	}

	others, err := householdOthers(ctx, store, person)
	if err != nil {
		return false, err
	}
	people, err := store.People().ListByIDs(ctx, others)
	if err != nil {
		return false, err
	}
	for _, other := range people {
		if !other.FamilyMainPerson {
			continue
		}
		roles, err := store.Roles().ListByPerson(ctx, other.ID, false)
		if err != nil {
			return false, err
		}
		for _, r := range roles {
			if r.Type == role.Type && r.SectionID == role.SectionID {
				return hasPaidInvoice(ctx, store, r.ID)
			}
		}
		// the main person may already have been promoted
		for _, r := range roles {
			if mt, _ := role.MembershipType(); r.Type == mt && r.SectionID == role.SectionID && !r.Terminated {
				return true, nil
			}
		}
	}
	return false, nil
}

func hasPaidInvoice(ctx context.Context, store repository.Store, roleID int32) (bool, error) {
	invoices, err := store.Invoices().ListByRole(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, inv := range invoices {
		if inv.State == domain.InvoiceStatePayed {
			return true, nil
		}
	}
	return false, nil
}

func DefaultPromotionConditions() []PromotionCondition {
	return []PromotionCondition{noDuplicate{}, emailVerified{}, paidInvoice{}}
}

type promotionService struct {
	store      repository.TxManager
	fees       FeeService
	invoices   InvoiceCreator
	conditions []PromotionCondition
	effects    sideEffects
	now        clock
}

func NewPromotionService(
	store repository.TxManager,
	feeSvc FeeService,
	invoices InvoiceCreator,
	notifier Notifier,
	duplicates DuplicateChecker,
	conditions ...PromotionCondition,
) PromotionService {
	if len(conditions) == 0 {
		conditions = DefaultPromotionConditions()
	}
	return &promotionService{
		store:      store,
		fees:       feeSvc,
		invoices:   invoices,
		conditions: conditions,
		effects:    sideEffects{notifier: notifier, duplicates: duplicates},
		now:        systemClock,
	}
}

// Approve moves each person's application from the section's review group to
// the approving group. Every person is handled in its own transaction.
func (s *promotionService) Approve(ctx context.Context, groupID int32, personIDs []int32) (*BatchResult, error) {
	logger.EnterMethod("promotionService.Approve", "groupID", groupID, "count", len(personIDs))

	group, err := s.store.Groups().GetByID(ctx, groupID)
	if err != nil {
		logger.ExitMethodWithError("promotionService.Approve", err, "groupID", groupID)
		return nil, err
	}
	if group.Type != domain.GroupTypeApplications {
		err := domain.NewValidationError("group", fmt.Sprintf("%s does not accept approved applications", group.Path))
		logger.ExitMethodWithError("promotionService.Approve", err, "groupID", groupID)
		return nil, err
	}
	review, err := s.store.Groups().FindBySectionAndType(ctx, group.SectionID, domain.GroupTypeApplicationsReview)
	if err != nil {
		logger.ExitMethodWithError("promotionService.Approve", err, "groupID", groupID)
		return nil, err
	}

	result := newBatchResult()
	for _, personID := range personIDs {
		role, err := s.approve(ctx, group, review, personID)
		outcome := Outcome{PersonID: personID, Status: OutcomeSucceeded}
		if err != nil {
			outcome.Status, outcome.Err = OutcomeFailed, err
			logger.Error("Failed to approve application", "run_id", result.RunID, "person_id", personID,
				"group_id", group.ID, "group_path", group.Path, "error", err)
		} else {
			outcome.RoleID = role.ID
		}
		result.add(outcome)
	}

	logger.ExitMethod("promotionService.Approve", "groupID", groupID,
		"succeeded", result.Succeeded(), "failed", result.Failed())
	return result, nil
}

func (s *promotionService) approve(ctx context.Context, group, review *domain.Group, personID int32) (*domain.Role, error) {
	var moved *domain.Role
	err := s.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		pending, err := store.Roles().ListByGroup(ctx, review.ID)
		if err != nil {
			return err
		}
		var application *domain.Role
		for i := range pending {
			if pending[i].PersonID == personID && pending[i].State() == domain.RoleStatePending {
				application = &pending[i]
				break
			}
		}
		if application == nil {
			return &domain.NotFoundError{Entity: "pending application of person", ID: personID}
		}

		if err := store.Roles().Destroy(ctx, application.ID); err != nil {
			return fmt.Errorf("failed to remove reviewed application: %w", err)
		}
		moved = &domain.Role{
			Type:      application.Type,
			PersonID:  application.PersonID,
			GroupID:   group.ID,
			SectionID: group.SectionID,
			Category:  application.Category,
			StartOn:   application.StartOn,
			EndOn:     application.EndOn,
			CreatedAt: application.CreatedAt,
		}
		if err := moved.Validate(); err != nil {
			return err
		}
		if err := ensureFamilyCategory(ctx, store, moved); err != nil {
			return err
		}
		if err := store.Roles().Create(ctx, moved); err != nil {
			return fmt.Errorf("failed to create approved application: %w", err)
		}
		return store.Roles().RecordEvent(ctx, &domain.RoleEvent{
			RoleID:        moved.ID,
			Type:          domain.RoleEventApplicationMoved,
			NewEndOn:      moved.EndOn,
			CascadeRootID: moved.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	person, err := s.store.People().GetByID(ctx, personID)
	if err != nil {
		logger.Warn("Approved application of unknown person", "person_id", personID, "error", err)
		return moved, nil
	}
	// non-paying family members are covered by the main person's invoice
	if person.Paying(moved.Category) {
		s.invoiceApplication(ctx, person, moved)
		s.effects.notify(ctx, TemplateApplicationApproved, person, map[string]any{
			"person_name": person.FullName(),
			"group_path":  group.Path,
		})
	}
	return moved, nil
}

func (s *promotionService) invoiceApplication(ctx context.Context, person *domain.Person, role *domain.Role) {
	if s.fees == nil || s.invoices == nil {
		return
	}
	today := utils.Day(s.now())
	positions, err := s.fees.PositionsFor(ctx, person.ID, role.SectionID, today, true)
	if err != nil {
		logger.Error("Failed to compute application fees", "person_id", person.ID, "role_id", role.ID, "error", err)
		return
	}
	logger.ExternalServiceCall("invoicing", "CreateInvoice", "person_id", person.ID, "positions", len(positions))
	_, err = s.invoices.CreateInvoice(ctx, person, positions, today.Year(), role)
	logger.ExternalServiceResult("invoicing", "CreateInvoice", err, "person_id", person.ID)
}

// Promote turns an approved application into a membership once every
// condition holds. It returns false when the application stays pending.
func (s *promotionService) Promote(ctx context.Context, roleID int32) (bool, error) {
	logger.EnterMethod("promotionService.Promote", "roleID", roleID)

	var (
		promoted bool
		person   *domain.Person
		created  *domain.Role
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		role, err := store.Roles().GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if role.State() != domain.RoleStatePending {
			return &domain.TransitionError{RoleID: role.ID, From: role.State(), To: domain.RoleStateActive}
		}
		group, err := store.Groups().GetByID(ctx, role.GroupID)
		if err != nil {
			return err
		}
		if group.Type != domain.GroupTypeApplications {
			return domain.NewValidationError("role", "has not been approved yet")
		}
		if person, err = store.People().GetByID(ctx, role.PersonID); err != nil {
			return err
		}

		for _, c := range s.conditions {
			ok, err := c.Satisfied(ctx, store, person, role)
			if err != nil {
				return fmt.Errorf("condition %s: %w", c.Name(), err)
			}
			if !ok {
				logger.Debug("Application not promotable", "role_id", role.ID, "condition", c.Name())
				return nil
			}
		}

		created, err = s.promote(ctx, store, role)
		if err != nil {
			return err
		}
		promoted = true
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("promotionService.Promote", err, "roleID", roleID)
		return false, err
	}

	if promoted {
		s.effects.checkDuplicates(ctx, person.ID)
		s.effects.notify(ctx, TemplateMembershipConfirmed, person, map[string]any{
			"person_name": person.FullName(),
			"role_type":   string(created.Type),
			"end_on":      created.EndOn.Format(utils.DateLayout),
		})
	}
	logger.ExitMethod("promotionService.Promote", "roleID", roleID, "promoted", promoted)
	return promoted, nil
}

func (s *promotionService) promote(ctx context.Context, store repository.Store, application *domain.Role) (*domain.Role, error) {
	today := utils.Day(s.now())
	yesterday := today.AddDate(0, 0, -1)
	memberType, _ := application.MembershipType()

	members, err := store.Groups().FindBySectionAndType(ctx, application.SectionID, domain.GroupTypeMembers)
	if err != nil {
		return nil, err
	}
	if err := store.Roles().Destroy(ctx, application.ID); err != nil {
		return nil, fmt.Errorf("failed to remove application: %w", err)
	}

	roles, err := store.Roles().ListByPerson(ctx, application.PersonID, false)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		r := &roles[i]
		if !r.IsSubscription() || r.State() != domain.RoleStateActive {
			continue
		}
		if r.CreatedAt.After(application.CreatedAt) {
			if err := store.Roles().Destroy(ctx, r.ID); err != nil {
				return nil, fmt.Errorf("failed to remove obsolete role %d: %w", r.ID, err)
			}
			continue
		}
		end := yesterday
		if end.Before(r.StartOn) {
			end = r.StartOn
		}
		if err := applyTermination(ctx, store, r, end, application.ID, nil); err != nil {
			return nil, err
		}
	}

	endOn := utils.EndOfYear(today.Year())
	membership := &domain.Role{
		Type:      memberType,
		PersonID:  application.PersonID,
		GroupID:   members.ID,
		SectionID: members.SectionID,
		Category:  application.Category,
		StartOn:   today,
		EndOn:     &endOn,
	}
	if err := membership.Validate(); err != nil {
		return nil, err
	}
	if err := ensureFamilyCategory(ctx, store, membership); err != nil {
		return nil, err
	}
	if membership.IsPrimaryMember() {
		if err := ensureSinglePrimary(ctx, store, membership); err != nil {
			return nil, err
		}
	}
	if err := store.Roles().Create(ctx, membership); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	if err := store.Roles().RecordEvent(ctx, &domain.RoleEvent{
		RoleID:        membership.ID,
		Type:          domain.RoleEventPromoted,
		NewEndOn:      membership.EndOn,
		CascadeRootID: membership.ID,
	}); err != nil {
		return nil, err
	}
	return membership, nil
}

// PromoteAll tries every approved application. A failing candidate is logged
// and skipped.
func (s *promotionService) PromoteAll(ctx context.Context) (*BatchResult, error) {
	logger.EnterMethod("promotionService.PromoteAll")

	groups, err := s.store.Groups().ListByType(ctx, domain.GroupTypeApplications)
	if err != nil {
		logger.ExitMethodWithError("promotionService.PromoteAll", err)
		return nil, err
	}

	result := newBatchResult()
	for i := range groups {
		group := &groups[i]
		roles, err := s.store.Roles().ListByGroup(ctx, group.ID)
		if err != nil {
			logger.Error("Failed to list approved applications", "run_id", result.RunID,
				"group_id", group.ID, "group_path", group.Path, "error", err)
			continue
		}
		for j := range roles {
			role := &roles[j]
			if role.State() != domain.RoleStatePending {
				continue
			}
			result.add(s.promoteCandidate(ctx, result.RunID, group, role))
		}
	}

	logger.ExitMethod("promotionService.PromoteAll", "run_id", result.RunID,
		"succeeded", result.Succeeded(), "skipped", result.Skipped(), "failed", result.Failed())
	return result, nil
}

func (s *promotionService) promoteCandidate(ctx context.Context, runID string, group *domain.Group, role *domain.Role) (outcome Outcome) {
	outcome = Outcome{PersonID: role.PersonID, RoleID: role.ID}
	defer func() {
		if r := recover(); r != nil {
			outcome.Status, outcome.Err = OutcomeFailed, fmt.Errorf("panic: %v", r)
		}
		if outcome.Status == OutcomeFailed {
			s.logSkipped(ctx, runID, group, role, outcome.Err)
		}
	}()

	promoted, err := s.Promote(ctx, role.ID)
	switch {
	case err != nil:
		outcome.Status, outcome.Err = OutcomeFailed, err
	case promoted:
		outcome.Status = OutcomeSucceeded
	default:
		outcome.Status = OutcomeSkipped
	}
	return outcome
}

func (s *promotionService) logSkipped(ctx context.Context, runID string, group *domain.Group, role *domain.Role, err error) {
	name := ""
	if person, perr := s.store.People().GetByID(ctx, role.PersonID); perr == nil {
		name = person.FullName()
	}
	logger.ErrorContext(ctx, "Skipped promotion candidate",
		"run_id", runID,
		"person_id", role.PersonID,
		"person_name", name,
		"role_id", role.ID,
		"role_type", role.Type,
		"group_id", group.ID,
		"group_path", group.Path,
		"error", err)
}

// Reject ends the application today. A person known only through this
// application is deleted entirely, anyone else keeps a soft-deleted role and
// the optional note.
func (s *promotionService) Reject(ctx context.Context, roleID int32, note string) error {
	logger.EnterMethod("promotionService.Reject", "roleID", roleID)

	var person *domain.Person
	err := s.store.RunInTx(ctx, func(ctx context.Context, store repository.Store) error {
		role, err := store.Roles().GetByID(ctx, roleID)
		if err != nil {
			return err
		}
		if !role.IsApplication() || !domain.CanTransition(role.State(), domain.RoleStateDeleted) {
			return &domain.TransitionError{RoleID: role.ID, From: role.State(), To: domain.RoleStateDeleted}
		}
		if person, err = store.People().GetByID(ctx, role.PersonID); err != nil {
			return err
		}

		now := s.now()
		end := utils.Day(now)
		if end.Before(role.StartOn) {
			end = role.StartOn
		}
		previous := role.EndOn
		role.EndOn = &end

		all, err := store.Roles().ListByPerson(ctx, person.ID, true)
		if err != nil {
			return err
		}
		others := 0
		for _, r := range all {
			if r.ID != role.ID && r.Type != role.Type {
				others++
			}
		}
		if others == 0 {
			return store.People().Delete(ctx, person.ID)
		}

		role.DeletedAt = &now
		if err := store.Roles().Update(ctx, role); err != nil {
			return err
		}
		if err := store.Roles().RecordEvent(ctx, &domain.RoleEvent{
			RoleID:        role.ID,
			Type:          domain.RoleEventDeleted,
			PreviousEndOn: previous,
			NewEndOn:      role.EndOn,
			CascadeRootID: role.ID,
		}); err != nil {
			return err
		}
		if note == "" {
			return nil
		}
		return store.Notes().Create(ctx, &domain.Note{PersonID: person.ID, Text: note})
	})
	if err != nil {
		logger.ExitMethodWithError("promotionService.Reject", err, "roleID", roleID)
		return err
	}

	if person.MainPersonOfHousehold() {
		s.effects.notify(ctx, TemplateApplicationRejected, person, map[string]any{
			"person_name": person.FullName(),
		})
	}
	logger.ExitMethod("promotionService.Reject", "roleID", roleID)
	return nil
}
