package domain

import "time"

type Person struct {
	ID                       int32      `json:"id"`
	FirstName                string     `json:"first_name"`
	LastName                 string     `json:"last_name"`
	Email                    string     `json:"email"`
	EmailConfirmedAt         *time.Time `json:"email_confirmed_at"`
	Birthday                 *time.Time `json:"birthday"`
	Country                  string     `json:"country"`
	HouseholdID              *int32     `json:"household_id"`
	FamilyMainPerson         bool       `json:"family_main_person"`
	MagazinePaper            bool       `json:"magazine_paper"`
	BulletinOptOutSectionIDs []int32    `json:"bulletin_opt_out_section_ids"`
	DuplicateSuspected       bool       `json:"duplicate_suspected"`
	CreatedAt                time.Time  `json:"created_at"`
}

func (p *Person) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// LivingAbroad is derived from the country; people without a country are
// treated as living at home.
func (p *Person) LivingAbroad(homeCountry string) bool {
	return p.Country != "" && p.Country != homeCountry
}

// MainPersonOfHousehold is true for the household's main person and for
// anyone not belonging to a household.
func (p *Person) MainPersonOfHousehold() bool {
	return p.HouseholdID == nil || p.FamilyMainPerson
}

// Paying reports whether the person is billed for a membership of the given
// category. Family members other than the main person are covered by the main
// person's invoice.
func (p *Person) Paying(c Category) bool {
	if c == CategoryFamily {
		return p.HouseholdID != nil && p.FamilyMainPerson
	}
	return true
}

func (p *Person) OptedOutOfBulletin(sectionID int32) bool {
	for _, id := range p.BulletinOptOutSectionIDs {
		if id == sectionID {
			return true
		}
	}
	return false
}

// Validate checks the data a membership needs. Force-termination skips it.
func (p *Person) Validate() error {
	verr := &ValidationError{}
	if p.FirstName == "" && p.LastName == "" {
		verr.Add("name", "is required")
	}
	if p.Birthday == nil {
		verr.Add("birthday", "is required")
	}
	return verr.OrNil()
}

// Note is a free-text remark attached to a person.
type Note struct {
	ID        int32     `json:"id"`
	PersonID  int32     `json:"person_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
