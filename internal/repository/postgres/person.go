package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

type personRepository struct {
	q queryer
}

const personColumns = `id, first_name, last_name, COALESCE(email, ''), email_confirmed_at, birthday,
	COALESCE(country, ''), household_id, family_main_person, magazine_paper,
	bulletin_opt_out_section_ids, duplicate_suspected, created_at`

func scanPerson(s scanner) (*domain.Person, error) {
	p := &domain.Person{}
	var householdID *int32
	var optOut pq.Int32Array
	err := s.Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.EmailConfirmedAt, &p.Birthday,
		&p.Country, &householdID, &p.FamilyMainPerson, &p.MagazinePaper,
		&optOut, &p.DuplicateSuspected, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.HouseholdID = householdID
	p.BulletinOptOutSectionIDs = []int32(optOut)
	return p, nil
}

func (r *personRepository) Create(ctx context.Context, p *domain.Person) error {
	query := `INSERT INTO people (first_name, last_name, email, email_confirmed_at, birthday, country,
	            household_id, family_main_person, magazine_paper, bulletin_opt_out_section_ids,
	            duplicate_suspected, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	p.CreatedAt = time.Now()
	return r.q.QueryRowContext(ctx, query, p.FirstName, p.LastName, p.Email, p.EmailConfirmedAt, p.Birthday,
		p.Country, p.HouseholdID, p.FamilyMainPerson, p.MagazinePaper, pq.Array(p.BulletinOptOutSectionIDs),
		p.DuplicateSuspected, p.CreatedAt).Scan(&p.ID)
}

func (r *personRepository) GetByID(ctx context.Context, id int32) (*domain.Person, error) {
	query := `SELECT ` + personColumns + ` FROM people WHERE id = $1`
	p, err := scanPerson(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "person", id)
	}
	return p, nil
}

func (r *personRepository) ListByIDs(ctx context.Context, ids []int32) ([]domain.Person, error) {
	logger.EnterMethod("personRepository.ListByIDs", "count", len(ids))

	query := `SELECT ` + personColumns + ` FROM people WHERE id = ANY($1) ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		logger.ExitMethodWithError("personRepository.ListByIDs", err)
		return nil, err
	}
	defer rows.Close()

	people := []domain.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logger.ExitMethod("personRepository.ListByIDs", "count", len(people))
	return people, nil
}

func (r *personRepository) FindSimilar(ctx context.Context, p *domain.Person) ([]domain.Person, error) {
	if p.Birthday == nil {
		return []domain.Person{}, nil
	}
	query := `SELECT ` + personColumns + ` FROM people
	          WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2) AND birthday = $3 AND id <> $4
	          ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, p.FirstName, p.LastName, p.Birthday, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	people := []domain.Person{}
	for rows.Next() {
		similar, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, *similar)
	}
	return people, rows.Err()
}

func (r *personRepository) Update(ctx context.Context, p *domain.Person) error {
	query := `UPDATE people SET first_name=$1, last_name=$2, email=$3, email_confirmed_at=$4, birthday=$5,
	            country=$6, household_id=$7, family_main_person=$8, magazine_paper=$9,
	            bulletin_opt_out_section_ids=$10, duplicate_suspected=$11
	          WHERE id=$12`
	_, err := r.q.ExecContext(ctx, query, p.FirstName, p.LastName, p.Email, p.EmailConfirmedAt, p.Birthday,
		p.Country, p.HouseholdID, p.FamilyMainPerson, p.MagazinePaper,
		pq.Array(p.BulletinOptOutSectionIDs), p.DuplicateSuspected, p.ID)
	return err
}

// Delete removes the person together with any roles and notes still
// referencing it.
func (r *personRepository) Delete(ctx context.Context, id int32) error {
	logger.EnterMethod("personRepository.Delete", "personID", id)

	for _, query := range []string{
		`DELETE FROM role_events WHERE role_id IN (SELECT id FROM roles WHERE person_id = $1)`,
		`DELETE FROM roles WHERE person_id = $1`,
		`DELETE FROM notes WHERE person_id = $1`,
		`DELETE FROM people WHERE id = $1`,
	} {
		logger.DatabaseCall("delete", query, "personID", id)
		res, err := r.q.ExecContext(ctx, query, id)
		if err != nil {
			logger.DatabaseResult("delete", 0, err)
			return err
		}
		n, _ := res.RowsAffected()
		logger.DatabaseResult("delete", n, nil)
	}

	logger.ExitMethod("personRepository.Delete", "personID", id)
	return nil
}
