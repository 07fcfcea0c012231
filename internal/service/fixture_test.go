package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/repository/memory"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

const (
	sectionBern  int32 = 1
	sectionThun  int32 = 2
	groupMembers       = 1
	groupReview        = 2
	groupApplied       = 3
	groupSubs          = 4
	groupHonor         = 5
)

var today = date("2024-06-15")

func date(s string) time.Time {
	d, err := utils.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func datePtr(s string) *time.Time {
	d := date(s)
	return &d
}

func fixedClock() time.Time { return today }

// groupID returns the id of a group of the given kind in a section.
func groupID(section int32, kind int32) int32 {
	return section*10 + kind
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	store := memory.NewStore()
	sections := []domain.Section{
		{ID: sectionBern, Name: "Bern", HasHuts: true},
		{ID: sectionThun, Name: "Thun"},
	}
	kinds := map[int32]domain.GroupType{
		groupMembers: domain.GroupTypeMembers,
		groupReview:  domain.GroupTypeApplicationsReview,
		groupApplied: domain.GroupTypeApplications,
		groupSubs:    domain.GroupTypeSubscribers,
		groupHonor:   domain.GroupTypeHonorary,
	}
	for _, sec := range sections {
		store.AddSection(sec)
		for kind, typ := range kinds {
			store.AddGroup(domain.Group{
				ID:        groupID(sec.ID, kind),
				Name:      string(typ),
				Type:      typ,
				SectionID: sec.ID,
				Path:      fmt.Sprintf("SAC > %s > %s", sec.Name, typ),
			})
		}
	}
	return &fixture{t: t, ctx: context.Background(), store: store}
}

func (f *fixture) person(first string) *domain.Person {
	confirmed := date("2024-01-01")
	p := &domain.Person{
		FirstName:        first,
		LastName:         "Muster",
		Email:            first + "@example.com",
		EmailConfirmedAt: &confirmed,
		Birthday:         datePtr("1980-03-01"),
		Country:          "CH",
	}
	require.NoError(f.t, f.store.People().Create(f.ctx, p))
	return p
}

// household puts the people into one household with the first as main person.
func (f *fixture) household(people ...*domain.Person) *domain.Household {
	main := people[0].ID
	h := &domain.Household{MainPersonID: &main}
	for _, p := range people {
		h.MemberIDs = append(h.MemberIDs, p.ID)
	}
	require.NoError(f.t, f.store.Households().Create(f.ctx, h))
	for _, p := range people {
		reloaded := f.reload(p)
		*p = *reloaded
	}
	return h
}

func (f *fixture) reload(p *domain.Person) *domain.Person {
	got, err := f.store.People().GetByID(f.ctx, p.ID)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) role(p *domain.Person, typ domain.RoleType, group int32, cat domain.Category, start string, end *time.Time) *domain.Role {
	r := &domain.Role{
		Type:     typ,
		PersonID: p.ID,
		GroupID:  group,
		Category: cat,
		StartOn:  date(start),
		EndOn:    end,
	}
	require.NoError(f.t, f.store.Roles().Create(f.ctx, r))
	return r
}

func (f *fixture) member(p *domain.Person, section int32, cat domain.Category) *domain.Role {
	return f.role(p, domain.RoleTypeMember, groupID(section, groupMembers), cat, "2020-01-01", datePtr("2024-12-31"))
}

func (f *fixture) additional(p *domain.Person, section int32, cat domain.Category) *domain.Role {
	return f.role(p, domain.RoleTypeAdditionalMember, groupID(section, groupMembers), cat, "2021-01-01", datePtr("2024-12-31"))
}

func (f *fixture) get(id int32) *domain.Role {
	r, err := f.store.Roles().GetByID(f.ctx, id)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) gone(id int32) bool {
	_, err := f.store.Roles().GetByID(f.ctx, id)
	return err != nil
}

func (f *fixture) rolesOf(p *domain.Person, typ domain.RoleType) []domain.Role {
	roles, err := f.store.Roles().ListByPerson(f.ctx, p.ID, false)
	require.NoError(f.t, err)
	var found []domain.Role
	for _, r := range roles {
		if r.Type == typ {
			found = append(found, r)
		}
	}
	return found
}

// family creates a household of three with family memberships in Bern and
// additional family memberships in Thun.
func (f *fixture) family() (people []*domain.Person, primaries, additionals []*domain.Role) {
	people = []*domain.Person{f.person("Anna"), f.person("Beat"), f.person("Carla")}
	f.household(people...)
	for _, p := range people {
		primaries = append(primaries, f.member(p, sectionBern, domain.CategoryFamily))
		additionals = append(additionals, f.additional(p, sectionThun, domain.CategoryFamily))
	}
	return people, primaries, additionals
}
