package domain

type GroupType string

const (
	GroupTypeSection            GroupType = "SECTION"
	GroupTypeMembers            GroupType = "MEMBERS"
	GroupTypeApplicationsReview GroupType = "APPLICATIONS_REVIEW" // awaiting approval by the section
	GroupTypeApplications       GroupType = "APPLICATIONS"        // approved, awaiting promotion
	GroupTypeHonorary           GroupType = "HONORARY"
	GroupTypeSubscribers        GroupType = "SUBSCRIBERS"
)

// Group is an organizational unit below a section (its layer). Roles always
// belong to a group; the section they count for is the group's SectionID.
type Group struct {
	ID        int32     `json:"id"`
	Name      string    `json:"name"`
	Type      GroupType `json:"type"`
	SectionID int32     `json:"section_id"`
	Path      string    `json:"path"` // human readable, used for logging
}

type Section struct {
	ID                   int32  `json:"id"`
	Name                 string `json:"name"`
	HasHuts              bool   `json:"has_huts"`
	BulletinPaperMailing bool   `json:"bulletin_paper_mailing"`
}
