package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RoleState
		want     bool
	}{
		{RoleStatePending, RoleStateActive, true},
		{RoleStatePending, RoleStateDeleted, true},
		{RoleStateActive, RoleStateTerminated, true},
		{RoleStateTerminated, RoleStateDeleted, true},
		{RoleStateTerminated, RoleStateActive, false},
		{RoleStateActive, RoleStateDeleted, false},
		{RoleStateDeleted, RoleStateActive, false},
		{RoleStatePending, RoleStateTerminated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRole_State(t *testing.T) {
	member := Role{Type: RoleTypeMember}
	assert.Equal(t, RoleStateActive, member.State())

	app := Role{Type: RoleTypeAdditionalApplication}
	assert.Equal(t, RoleStatePending, app.State())

	member.Terminated = true
	assert.Equal(t, RoleStateTerminated, member.State())

	member.DeletedAt = dayPtr("2024-05-01")
	assert.Equal(t, RoleStateDeleted, member.State())
}

func TestRole_ActiveOn(t *testing.T) {
	r := Role{Type: RoleTypeMember, StartOn: day("2024-01-01"), EndOn: dayPtr("2024-12-31")}

	assert.False(t, r.ActiveOn(day("2023-12-31")))
	assert.True(t, r.ActiveOn(day("2024-01-01")))
	assert.True(t, r.ActiveOn(day("2024-12-31")))
	assert.False(t, r.ActiveOn(day("2025-01-01")))

	r.EndOn = nil
	assert.True(t, r.ActiveOn(day("2030-01-01")))
}

func TestRole_Overlaps(t *testing.T) {
	a := Role{StartOn: day("2024-01-01"), EndOn: dayPtr("2024-06-30")}
	b := Role{StartOn: day("2024-07-01")}
	c := Role{StartOn: day("2024-06-30"), EndOn: dayPtr("2024-12-31")}

	assert.False(t, a.Overlaps(&b))
	assert.True(t, a.Overlaps(&c))
	assert.True(t, b.Overlaps(&c))
}

func TestRole_Validate(t *testing.T) {
	valid := Role{Type: RoleTypeMember, PersonID: 1, GroupID: 2, Category: CategoryAdult, StartOn: day("2024-01-01")}
	assert.NoError(t, valid.Validate())

	invalid := valid
	invalid.Category = ""
	invalid.EndOn = dayPtr("2023-01-01")
	err := invalid.Validate()
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "category")
	assert.Contains(t, verr.Fields, "end_on")

	subscription := Role{Type: RoleTypeMagazineSubscriber, PersonID: 1, GroupID: 2, StartOn: day("2024-01-01")}
	assert.NoError(t, subscription.Validate())
}

func TestRole_MembershipType(t *testing.T) {
	typ, ok := (&Role{Type: RoleTypeApplication}).MembershipType()
	assert.True(t, ok)
	assert.Equal(t, RoleTypeMember, typ)

	typ, ok = (&Role{Type: RoleTypeAdditionalApplication}).MembershipType()
	assert.True(t, ok)
	assert.Equal(t, RoleTypeAdditionalMember, typ)

	_, ok = (&Role{Type: RoleTypeMember}).MembershipType()
	assert.False(t, ok)
}

func TestMembershipYears(t *testing.T) {
	t.Run("Unbroken chain", func(t *testing.T) {
		roles := []Role{
			{Type: RoleTypeMember, StartOn: day("1980-03-01"), EndOn: dayPtr("1999-12-31")},
			{Type: RoleTypeMember, StartOn: day("2000-01-01"), EndOn: dayPtr("2024-12-31")},
		}
		assert.Equal(t, 44, MembershipYears(roles, day("2024-06-01")))
	})

	t.Run("Gap breaks the chain", func(t *testing.T) {
		roles := []Role{
			{Type: RoleTypeMember, StartOn: day("1980-03-01"), EndOn: dayPtr("1998-12-31")},
			{Type: RoleTypeMember, StartOn: day("2000-01-01"), EndOn: dayPtr("2024-12-31")},
		}
		assert.Equal(t, 24, MembershipYears(roles, day("2024-06-01")))
	})

	t.Run("Ignores deleted and non primary roles", func(t *testing.T) {
		roles := []Role{
			{Type: RoleTypeAdditionalMember, StartOn: day("1990-01-01")},
			{Type: RoleTypeMember, StartOn: day("1995-01-01"), DeletedAt: dayPtr("2000-01-01")},
			{Type: RoleTypeMember, StartOn: day("2020-01-01")},
		}
		assert.Equal(t, 4, MembershipYears(roles, day("2024-06-01")))
	})

	t.Run("Ended membership", func(t *testing.T) {
		roles := []Role{{Type: RoleTypeMember, StartOn: day("2000-01-01"), EndOn: dayPtr("2020-12-31")}}
		assert.Equal(t, 0, MembershipYears(roles, day("2024-06-01")))
	})
}
