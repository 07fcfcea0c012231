package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

type householdRepository struct {
	q queryer
}

func (r *householdRepository) Create(ctx context.Context, h *domain.Household) error {
	if h.Key == "" {
		h.Key = uuid.NewString()
	}
	h.CreatedAt = time.Now()
	query := `INSERT INTO households (key, main_person_id, created_at) VALUES ($1, $2, $3) RETURNING id`
	if err := r.q.QueryRowContext(ctx, query, h.Key, h.MainPersonID, h.CreatedAt).Scan(&h.ID); err != nil {
		return err
	}
	return r.syncMembers(ctx, h)
}

// GetByID loads the household with its members, derived from people.household_id.
func (r *householdRepository) GetByID(ctx context.Context, id int32) (*domain.Household, error) {
	h := &domain.Household{}
	var members pq.Int32Array
	query := `SELECT h.id, h.key, h.main_person_id, h.created_at,
	                 COALESCE(ARRAY(SELECT p.id FROM people p WHERE p.household_id = h.id ORDER BY p.id), '{}')
	          FROM households h WHERE h.id = $1`
	err := r.q.QueryRowContext(ctx, query, id).Scan(&h.ID, &h.Key, &h.MainPersonID, &h.CreatedAt, &members)
	if err != nil {
		return nil, notFound(err, "household", id)
	}
	h.MemberIDs = []int32(members)
	return h, nil
}

func (r *householdRepository) Update(ctx context.Context, h *domain.Household) error {
	logger.EnterMethod("householdRepository.Update", "householdID", h.ID, "members", len(h.MemberIDs))

	if _, err := r.q.ExecContext(ctx, `UPDATE households SET main_person_id = $1 WHERE id = $2`, h.MainPersonID, h.ID); err != nil {
		logger.ExitMethodWithError("householdRepository.Update", err, "householdID", h.ID)
		return err
	}
	if err := r.syncMembers(ctx, h); err != nil {
		logger.ExitMethodWithError("householdRepository.Update", err, "householdID", h.ID)
		return err
	}

	logger.ExitMethod("householdRepository.Update", "householdID", h.ID)
	return nil
}

// syncMembers points exactly MemberIDs at the household and keeps the main
// person flag in line with main_person_id.
func (r *householdRepository) syncMembers(ctx context.Context, h *domain.Household) error {
	query := `UPDATE people SET household_id = NULL, family_main_person = FALSE
	          WHERE household_id = $1 AND NOT (id = ANY($2))`
	if _, err := r.q.ExecContext(ctx, query, h.ID, pq.Array(h.MemberIDs)); err != nil {
		return err
	}
	query = `UPDATE people SET household_id = $1, family_main_person = (id = $3)
	         WHERE id = ANY($2)`
	var mainID int32
	if h.MainPersonID != nil {
		mainID = *h.MainPersonID
	}
	_, err := r.q.ExecContext(ctx, query, h.ID, pq.Array(h.MemberIDs), mainID)
	return err
}
