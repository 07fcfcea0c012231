package domain

import (
	"sort"
	"time"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

// MembershipYears returns the tenure on the given day: whole years of the
// unbroken chain of primary memberships that reaches that day. A gap of more
// than one day between two roles breaks the chain.
func MembershipYears(roles []Role, on time.Time) int {
	on = utils.Day(on)
	var chain []Role
	for _, r := range roles {
		if r.IsPrimaryMember() && r.DeletedAt == nil && !r.StartOn.After(on) {
			chain = append(chain, r)
		}
	}
	if len(chain) == 0 {
		return 0
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].StartOn.After(chain[j].StartOn) })

	// the chain must reach the reference day or the day before it
	reach := on.AddDate(0, 0, -1)
	start := time.Time{}
	for _, r := range chain {
		if r.EndOn != nil && r.EndOn.Before(reach) {
			if start.IsZero() {
				return 0
			}
			break
		}
		start = r.StartOn
		reach = r.StartOn.AddDate(0, 0, -1)
	}
	return utils.WholeYearsBetween(start, on)
}
