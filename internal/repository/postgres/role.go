package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

type roleRepository struct {
	q queryer
}

const roleColumns = `r.id, r.type, r.person_id, r.group_id, g.section_id, COALESCE(r.category, ''),
	r.start_on, r.end_on, r.terminated, r.deleted_at, r.created_at`

const roleFrom = ` FROM roles r JOIN groups g ON g.id = r.group_id`

func scanRole(s scanner) (*domain.Role, error) {
	role := &domain.Role{}
	err := s.Scan(&role.ID, &role.Type, &role.PersonID, &role.GroupID, &role.SectionID, &role.Category,
		&role.StartOn, &role.EndOn, &role.Terminated, &role.DeletedAt, &role.CreatedAt)
	if err != nil {
		return nil, err
	}
	return role, nil
}

func collectRoles(rows *sql.Rows) ([]domain.Role, error) {
	defer rows.Close()
	roles := []domain.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

func (r *roleRepository) Create(ctx context.Context, role *domain.Role) error {
	logger.EnterMethod("roleRepository.Create", "personID", role.PersonID, "groupID", role.GroupID, "type", role.Type)

	query := `INSERT INTO roles (type, person_id, group_id, category, start_on, end_on, terminated, deleted_at, created_at)
	          VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
	          RETURNING id, (SELECT section_id FROM groups WHERE id = $3)`
	// moved roles keep the creation time of the role they replace
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now()
	}
	err := r.q.QueryRowContext(ctx, query, role.Type, role.PersonID, role.GroupID, role.Category,
		role.StartOn, role.EndOn, role.Terminated, role.DeletedAt, role.CreatedAt).Scan(&role.ID, &role.SectionID)
	if err != nil {
		logger.ExitMethodWithError("roleRepository.Create", err, "personID", role.PersonID)
		return err
	}

	logger.ExitMethod("roleRepository.Create", "roleID", role.ID)
	return nil
}

func (r *roleRepository) GetByID(ctx context.Context, id int32) (*domain.Role, error) {
	query := `SELECT ` + roleColumns + roleFrom + ` WHERE r.id = $1`
	role, err := scanRole(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "role", id)
	}
	return role, nil
}

func (r *roleRepository) Update(ctx context.Context, role *domain.Role) error {
	logger.EnterMethod("roleRepository.Update", "roleID", role.ID, "terminated", role.Terminated)

	query := `UPDATE roles SET group_id=$1, category=NULLIF($2, ''), start_on=$3, end_on=$4, terminated=$5, deleted_at=$6
	          WHERE id=$7`
	res, err := r.q.ExecContext(ctx, query, role.GroupID, role.Category, role.StartOn, role.EndOn,
		role.Terminated, role.DeletedAt, role.ID)
	if err != nil {
		logger.ExitMethodWithError("roleRepository.Update", err, "roleID", role.ID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "role", ID: role.ID}
	}

	logger.ExitMethod("roleRepository.Update", "roleID", role.ID)
	return nil
}

func (r *roleRepository) Destroy(ctx context.Context, id int32) error {
	logger.EnterMethod("roleRepository.Destroy", "roleID", id)

	if _, err := r.q.ExecContext(ctx, `DELETE FROM role_events WHERE role_id = $1`, id); err != nil {
		logger.ExitMethodWithError("roleRepository.Destroy", err, "roleID", id)
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		logger.ExitMethodWithError("roleRepository.Destroy", err, "roleID", id)
		return err
	}

	logger.ExitMethod("roleRepository.Destroy", "roleID", id)
	return nil
}

func (r *roleRepository) ListByPerson(ctx context.Context, personID int32, withDeleted bool) ([]domain.Role, error) {
	query := `SELECT ` + roleColumns + roleFrom + ` WHERE r.person_id = $1`
	if !withDeleted {
		query += ` AND r.deleted_at IS NULL`
	}
	query += ` ORDER BY r.start_on, r.id`

	rows, err := r.q.QueryContext(ctx, query, personID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (r *roleRepository) ListByPeople(ctx context.Context, personIDs []int32) ([]domain.Role, error) {
	logger.EnterMethod("roleRepository.ListByPeople", "count", len(personIDs))

	query := `SELECT ` + roleColumns + roleFrom + `
	          WHERE r.person_id = ANY($1) AND r.deleted_at IS NULL
	          ORDER BY r.person_id, r.start_on, r.id`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(personIDs))
	if err != nil {
		logger.ExitMethodWithError("roleRepository.ListByPeople", err)
		return nil, err
	}
	roles, err := collectRoles(rows)
	if err != nil {
		logger.ExitMethodWithError("roleRepository.ListByPeople", err)
		return nil, err
	}

	logger.ExitMethod("roleRepository.ListByPeople", "roles", len(roles))
	return roles, nil
}

func (r *roleRepository) ListByGroup(ctx context.Context, groupID int32) ([]domain.Role, error) {
	query := `SELECT ` + roleColumns + roleFrom + ` WHERE r.group_id = $1 AND r.deleted_at IS NULL ORDER BY r.id`
	rows, err := r.q.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (r *roleRepository) ListApplicationsCreatedBefore(ctx context.Context, cutoff time.Time) ([]domain.Role, error) {
	query := `SELECT ` + roleColumns + roleFrom + `
	          WHERE r.type = ANY($1) AND r.deleted_at IS NULL AND r.created_at < $2
	          ORDER BY r.created_at, r.id`
	types := []string{string(domain.RoleTypeApplication), string(domain.RoleTypeAdditionalApplication)}
	rows, err := r.q.QueryContext(ctx, query, pq.Array(types), cutoff)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

func (r *roleRepository) RecordEvent(ctx context.Context, e *domain.RoleEvent) error {
	query := `INSERT INTO role_events (role_id, type, previous_end_on, new_end_on, cascade_root_id,
	                                     household_id, family_main_person, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	e.CreatedAt = time.Now()
	return r.q.QueryRowContext(ctx, query, e.RoleID, e.Type, e.PreviousEndOn, e.NewEndOn,
		e.CascadeRootID, e.HouseholdID, e.FamilyMainPerson, e.CreatedAt).Scan(&e.ID)
}

func (r *roleRepository) ListEvents(ctx context.Context, roleID int32) ([]domain.RoleEvent, error) {
	query := `SELECT id, role_id, type, previous_end_on, new_end_on, cascade_root_id,
	                 household_id, family_main_person, created_at
	          FROM role_events WHERE role_id = $1 ORDER BY created_at, id`
	return r.queryEvents(ctx, query, roleID)
}

func (r *roleRepository) ListEventsByCascade(ctx context.Context, rootRoleID int32, eventType domain.RoleEventType) ([]domain.RoleEvent, error) {
	query := `SELECT id, role_id, type, previous_end_on, new_end_on, cascade_root_id,
	                 household_id, family_main_person, created_at
	          FROM role_events WHERE cascade_root_id = $1 AND type = $2 ORDER BY id`
	return r.queryEvents(ctx, query, rootRoleID, eventType)
}

func (r *roleRepository) queryEvents(ctx context.Context, query string, args ...any) ([]domain.RoleEvent, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.RoleEvent{}
	for rows.Next() {
		var e domain.RoleEvent
		if err := rows.Scan(&e.ID, &e.RoleID, &e.Type, &e.PreviousEndOn, &e.NewEndOn, &e.CascadeRootID,
			&e.HouseholdID, &e.FamilyMainPerson, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
