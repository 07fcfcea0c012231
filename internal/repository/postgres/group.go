package postgres

import (
	"context"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
)

type groupRepository struct {
	q queryer
}

const groupColumns = `id, name, type, section_id, COALESCE(path, '')`

func scanGroup(s scanner) (*domain.Group, error) {
	g := &domain.Group{}
	if err := s.Scan(&g.ID, &g.Name, &g.Type, &g.SectionID, &g.Path); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *groupRepository) GetByID(ctx context.Context, id int32) (*domain.Group, error) {
	g, err := scanGroup(r.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "group", id)
	}
	return g, nil
}

func (r *groupRepository) FindBySectionAndType(ctx context.Context, sectionID int32, t domain.GroupType) (*domain.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE section_id = $1 AND type = $2 ORDER BY id LIMIT 1`
	g, err := scanGroup(r.q.QueryRowContext(ctx, query, sectionID, t))
	if err != nil {
		return nil, notFound(err, "group of section", sectionID)
	}
	return g, nil
}

func (r *groupRepository) ListByType(ctx context.Context, t domain.GroupType) ([]domain.Group, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE type = $1 ORDER BY id`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (r *groupRepository) GetSection(ctx context.Context, id int32) (*domain.Section, error) {
	s := &domain.Section{}
	query := `SELECT id, name, has_huts, bulletin_paper_mailing FROM sections WHERE id = $1`
	err := r.q.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Name, &s.HasHuts, &s.BulletinPaperMailing)
	if err != nil {
		return nil, notFound(err, "section", id)
	}
	return s, nil
}
