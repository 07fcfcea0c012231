package postgres

import (
	"context"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
)

type noteRepository struct {
	q queryer
}

func (r *noteRepository) Create(ctx context.Context, n *domain.Note) error {
	n.CreatedAt = time.Now()
	query := `INSERT INTO notes (person_id, text, created_at) VALUES ($1, $2, $3) RETURNING id`
	return r.q.QueryRowContext(ctx, query, n.PersonID, n.Text, n.CreatedAt).Scan(&n.ID)
}

func (r *noteRepository) ListByPerson(ctx context.Context, personID int32) ([]domain.Note, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, person_id, text, created_at FROM notes WHERE person_id = $1 ORDER BY id`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.PersonID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
