package domain

import "time"

// Household groups people sharing a family membership.
type Household struct {
	ID           int32     `json:"id"`
	Key          string    `json:"key"`
	MainPersonID *int32    `json:"main_person_id"`
	MemberIDs    []int32   `json:"member_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

func (h *Household) Members() []int32 {
	return append([]int32(nil), h.MemberIDs...)
}

func (h *Household) MainPerson() (int32, bool) {
	if h.MainPersonID == nil {
		return 0, false
	}
	return *h.MainPersonID, true
}

func (h *Household) Includes(personID int32) bool {
	for _, id := range h.MemberIDs {
		if id == personID {
			return true
		}
	}
	return false
}

// Others returns every member except the given person.
func (h *Household) Others(personID int32) []int32 {
	others := make([]int32, 0, len(h.MemberIDs))
	for _, id := range h.MemberIDs {
		if id != personID {
			others = append(others, id)
		}
	}
	return others
}

// HasFamilyBilling is true while at least one member holds a family role
// that is active on the given day.
func (h *Household) HasFamilyBilling(roles []Role, day time.Time) bool {
	for i := range roles {
		r := &roles[i]
		if h.Includes(r.PersonID) && r.IsMembership() && r.IsFamily() && !r.Terminated && r.ActiveOn(day) {
			return true
		}
	}
	return false
}

// Dissolve empties the household. The caller persists the result and clears
// the members' household reference.
func (h *Household) Dissolve() []int32 {
	former := h.MemberIDs
	h.MemberIDs = nil
	h.MainPersonID = nil
	return former
}
