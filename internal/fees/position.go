package fees

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

type Creditor string

const (
	CreditorAssociation Creditor = "ASSOCIATION"
	CreditorSection     Creditor = "SECTION"
)

// Subject is one person with every membership billed in the run.
type Subject struct {
	Person          *domain.Person
	Honorary        bool
	MembershipYears int
	Memberships     []Membership
}

// Membership is a primary or additional section membership (or the
// application for one) with the section data its positions need.
type Membership struct {
	Role     *domain.Role
	Section  *domain.Section
	Rates    *SectionRates
	NewEntry bool
}

func (m *Membership) Additional() bool {
	return m.Role.Type == domain.RoleTypeAdditionalMember || m.Role.Type == domain.RoleTypeAdditionalApplication
}

func (m *Membership) Category() domain.Category {
	return m.Role.Category
}

func (s *Subject) Age(on time.Time) int {
	if s.Person.Birthday == nil {
		return 0
	}
	return utils.AgeOn(*s.Person.Birthday, on)
}

// Paying reports whether the membership is billed to this person.
func (s *Subject) Paying(m *Membership) bool {
	return s.Person.Paying(m.Category())
}

// HasNonFamilyAdditional is true when the person holds an additional
// membership billed on their own.
func (s *Subject) HasNonFamilyAdditional() bool {
	for i := range s.Memberships {
		m := &s.Memberships[i]
		if m.Additional() && m.Category() != domain.CategoryFamily {
			return true
		}
	}
	return false
}

// Position is a computed, immutable fee line.
type Position struct {
	Name          string          `json:"name"`
	Grouping      string          `json:"grouping"`
	Creditor      Creditor        `json:"creditor"`
	ArticleCode   string          `json:"article_code"`
	PersonID      int32           `json:"person_id"`
	SectionID     int32           `json:"section_id"`
	GrossAmount   decimal.Decimal `json:"gross_amount"`
	Amount        decimal.Decimal `json:"amount"`
	InvoiceAmount decimal.Decimal `json:"invoice_amount"`
	SectionDebit  decimal.Decimal `json:"section_debit"`
	SectionPays   bool            `json:"section_pays"`
	Abroad        bool            `json:"abroad"`
}

// PositionType is the capability every fee position implements.
type PositionType interface {
	Name() string
	Grouping() string
	Creditor() Creditor
	ArticleCode() string
	Abroad() bool
	SectionPayable() bool
	Active(ctx *Context, s *Subject, m *Membership) bool
	GrossAmount(ctx *Context, s *Subject, m *Membership) decimal.Decimal
	DiscountFactor(ctx *Context) decimal.Decimal
}

// evaluate applies the shared amount rules to one position type.
func evaluate(pt PositionType, ctx *Context, s *Subject, m *Membership) Position {
	gross := pt.GrossAmount(ctx, s, m)

	amount := decimal.Zero
	if !s.Honorary {
		amount = decimal.Max(gross, decimal.Zero).Mul(pt.DiscountFactor(ctx)).Round(2)
	}

	sectionPays := pt.SectionPayable() && m.Rates != nil && m.Rates.PaysSacFeeFor(m.Category()) && amount.IsPositive()

	p := Position{
		Name:          pt.Name(),
		Grouping:      pt.Grouping(),
		Creditor:      pt.Creditor(),
		ArticleCode:   pt.ArticleCode(),
		PersonID:      s.Person.ID,
		SectionID:     m.Role.SectionID,
		GrossAmount:   gross,
		Amount:        amount,
		InvoiceAmount: amount,
		SectionDebit:  decimal.Zero,
		SectionPays:   sectionPays,
		Abroad:        pt.Abroad(),
	}
	if sectionPays {
		p.InvoiceAmount = decimal.Zero
		p.SectionDebit = amount
	}
	return p
}
