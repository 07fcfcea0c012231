package domain

import (
	"time"
)

type RoleType string

const (
	RoleTypeMember                RoleType = "MEMBER"
	RoleTypeAdditionalMember      RoleType = "ADDITIONAL_MEMBER"
	RoleTypeApplication           RoleType = "APPLICATION"
	RoleTypeAdditionalApplication RoleType = "ADDITIONAL_APPLICATION"
	RoleTypeHonoraryMember        RoleType = "HONORARY_MEMBER"
	RoleTypeBenefactorMember      RoleType = "BENEFACTOR_MEMBER"
	RoleTypeMagazineSubscriber    RoleType = "MAGAZINE_SUBSCRIBER"
	RoleTypeSelfRegistered        RoleType = "SELF_REGISTERED"
)

// Category is the contribution category a membership is billed with.
type Category string

const (
	CategoryAdult  Category = "ADULT"
	CategoryYouth  Category = "YOUTH"
	CategoryFamily Category = "FAMILY"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAdult, CategoryYouth, CategoryFamily:
		return true
	}
	return false
}

type RoleState string

const (
	RoleStatePending    RoleState = "PENDING"
	RoleStateActive     RoleState = "ACTIVE"
	RoleStateTerminated RoleState = "TERMINATED"
	RoleStateDeleted    RoleState = "DELETED"
)

var roleTransitions = map[RoleState][]RoleState{
	RoleStatePending:    {RoleStateActive, RoleStateDeleted},
	RoleStateActive:     {RoleStateTerminated},
	RoleStateTerminated: {RoleStateDeleted},
}

// CanTransition reports whether a role may move from one lifecycle state to
// another. Terminated roles never become active again.
func CanTransition(from, to RoleState) bool {
	for _, s := range roleTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Role struct {
	ID         int32      `json:"id"`
	Type       RoleType   `json:"type"`
	PersonID   int32      `json:"person_id"`
	GroupID    int32      `json:"group_id"`
	SectionID  int32      `json:"section_id"`
	Category   Category   `json:"category"`
	StartOn    time.Time  `json:"start_on"`
	EndOn      *time.Time `json:"end_on"`
	Terminated bool       `json:"terminated"`
	DeletedAt  *time.Time `json:"deleted_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (r *Role) IsPrimaryMember() bool {
	return r.Type == RoleTypeMember
}

func (r *Role) IsAdditionalMember() bool {
	return r.Type == RoleTypeAdditionalMember
}

func (r *Role) IsMembership() bool {
	return r.IsPrimaryMember() || r.IsAdditionalMember()
}

func (r *Role) IsApplication() bool {
	return r.Type == RoleTypeApplication || r.Type == RoleTypeAdditionalApplication
}

func (r *Role) IsSubscription() bool {
	return r.Type == RoleTypeMagazineSubscriber || r.Type == RoleTypeSelfRegistered
}

func (r *Role) IsFamily() bool {
	return r.Category == CategoryFamily
}

// MembershipType returns the membership role type an application is promoted
// to. ok is false for roles that are not applications.
func (r *Role) MembershipType() (RoleType, bool) {
	switch r.Type {
	case RoleTypeApplication:
		return RoleTypeMember, true
	case RoleTypeAdditionalApplication:
		return RoleTypeAdditionalMember, true
	}
	return "", false
}

// State derives the lifecycle state. Ended but never terminated roles count as
// active; use ActiveOn for date checks.
func (r *Role) State() RoleState {
	switch {
	case r.DeletedAt != nil:
		return RoleStateDeleted
	case r.Terminated:
		return RoleStateTerminated
	case r.IsApplication():
		return RoleStatePending
	default:
		return RoleStateActive
	}
}

// ActiveOn reports whether the role is in force on the given day.
func (r *Role) ActiveOn(day time.Time) bool {
	if r.DeletedAt != nil {
		return false
	}
	if day.Before(r.StartOn) {
		return false
	}
	return r.EndOn == nil || !day.After(*r.EndOn)
}

// Overlaps reports whether both roles share at least one day.
func (r *Role) Overlaps(other *Role) bool {
	if r.EndOn != nil && r.EndOn.Before(other.StartOn) {
		return false
	}
	if other.EndOn != nil && other.EndOn.Before(r.StartOn) {
		return false
	}
	return true
}

// Validate checks the record invariants that hold for every stored role.
func (r *Role) Validate() error {
	verr := &ValidationError{}
	if r.Type == "" {
		verr.Add("type", "is required")
	}
	if r.PersonID == 0 {
		verr.Add("person_id", "is required")
	}
	if r.GroupID == 0 {
		verr.Add("group_id", "is required")
	}
	if r.StartOn.IsZero() {
		verr.Add("start_on", "is required")
	}
	if r.EndOn != nil && r.EndOn.Before(r.StartOn) {
		verr.Add("end_on", "must not be before start_on")
	}
	if (r.IsMembership() || r.IsApplication()) && !r.Category.Valid() {
		verr.Add("category", "is invalid")
	}
	return verr.OrNil()
}

type RoleEventType string

const (
	RoleEventTerminated       RoleEventType = "TERMINATED"
	RoleEventUndoTermination  RoleEventType = "UNDO_TERMINATION"
	RoleEventDeleted          RoleEventType = "DELETED"
	RoleEventPromoted         RoleEventType = "PROMOTED"
	RoleEventExtended         RoleEventType = "EXTENDED"
	RoleEventApplicationMoved RoleEventType = "APPLICATION_MOVED"
)

// RoleEvent is the audit trail of lifecycle changes.
type RoleEvent struct {
	ID               int32         `json:"id"`
	RoleID           int32         `json:"role_id"`
	Type             RoleEventType `json:"type"`
	PreviousEndOn    *time.Time    `json:"previous_end_on"`
	NewEndOn         *time.Time    `json:"new_end_on"`
	CascadeRootID    int32         `json:"cascade_root_id"`              // role that started the cascade
	HouseholdID      *int32        `json:"household_id,omitempty"`       // household dissolved by a termination
	FamilyMainPerson bool          `json:"family_main_person,omitempty"` // main person of that household
	CreatedAt        time.Time     `json:"created_at"`
}
