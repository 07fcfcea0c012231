package fees

import (
	"github.com/shopspring/decimal"
)

const (
	SacFee                       = "sac_fee"
	SacEntryFee                  = "sac_entry_fee"
	HutSolidarityFee             = "hut_solidarity_fee"
	SacMagazine                  = "sac_magazine"
	SacMagazinePostageAbroad     = "sac_magazine_postage_abroad"
	SectionFee                   = "section_fee"
	SectionEntryFee              = "section_entry_fee"
	SectionBulletinPostageAbroad = "section_bulletin_postage_abroad"
	ServiceFee                   = "service_fee"
)

var registry = map[string]PositionType{
	SacFee:                       &sacFee{base{SacFee, "sac_fee", CreditorAssociation, "SAC-FEE", false, true}},
	SacEntryFee:                  &sacEntryFee{base: base{SacEntryFee, "entry_fee", CreditorAssociation, "SAC-ENTRY", false, false}},
	HutSolidarityFee:             &hutSolidarityFee{base{HutSolidarityFee, "sac_fee", CreditorAssociation, "SAC-HUT", false, true}},
	SacMagazine:                  &sacMagazine{base{SacMagazine, "sac_fee", CreditorAssociation, "SAC-MAG", false, true}},
	SacMagazinePostageAbroad:     &sacMagazinePostageAbroad{base{SacMagazinePostageAbroad, "postage", CreditorAssociation, "SAC-MAG-ABROAD", true, false}},
	SectionFee:                   &sectionFee{base{SectionFee, "section_fee", CreditorSection, "SEC-FEE", false, false}},
	SectionEntryFee:              &sectionEntryFee{base: base{SectionEntryFee, "entry_fee", CreditorSection, "SEC-ENTRY", false, false}},
	SectionBulletinPostageAbroad: &sectionBulletinPostageAbroad{base{SectionBulletinPostageAbroad, "postage", CreditorSection, "SEC-BULLETIN-ABROAD", true, false}},
	ServiceFee:                   &serviceFee{base{ServiceFee, "service_fee", CreditorAssociation, "SAC-SERVICE", false, false}},
}

// Lookup returns the registered position type of the given name.
func Lookup(name string) (PositionType, bool) {
	pt, ok := registry[name]
	return pt, ok
}

type base struct {
	name           string
	grouping       string
	creditor       Creditor
	articleCode    string
	abroad         bool
	sectionPayable bool
}

func (b *base) Name() string         { return b.name }
func (b *base) Grouping() string     { return b.grouping }
func (b *base) Creditor() Creditor   { return b.creditor }
func (b *base) ArticleCode() string  { return b.articleCode }
func (b *base) Abroad() bool         { return b.abroad }
func (b *base) SectionPayable() bool { return b.sectionPayable }

func (b *base) DiscountFactor(ctx *Context) decimal.Decimal {
	return ctx.DiscountFactor()
}

// entryFee types are one-time and never discounted.
type entryFee struct{}

func (entryFee) DiscountFactor(*Context) decimal.Decimal {
	return decimal.NewFromInt(1)
}

func paying(s *Subject, m *Membership) bool {
	return s.Paying(m) && m.Rates != nil
}

func livingAbroad(ctx *Context, s *Subject) bool {
	return s.Person.LivingAbroad(ctx.HomeCountry)
}

type sacFee struct{ base }

func (p *sacFee) Active(_ *Context, s *Subject, m *Membership) bool {
	return !m.Additional() && paying(s, m)
}

// GrossAmount subtracts the tenure reduction once the member reached the
// required years.
func (p *sacFee) GrossAmount(ctx *Context, s *Subject, m *Membership) decimal.Decimal {
	a := ctx.Association
	gross := a.SacFee.For(m.Category())
	if a.ReductionRequiredMembershipYears > 0 && s.MembershipYears >= a.ReductionRequiredMembershipYears {
		gross = gross.Sub(a.ReductionAmount)
	}
	return gross
}

type sacEntryFee struct {
	base
	entryFee
}

func (p *sacEntryFee) DiscountFactor(ctx *Context) decimal.Decimal {
	return p.entryFee.DiscountFactor(ctx)
}

func (p *sacEntryFee) Active(_ *Context, s *Subject, m *Membership) bool {
	return m.NewEntry && !m.Additional() && paying(s, m)
}

func (p *sacEntryFee) GrossAmount(ctx *Context, _ *Subject, m *Membership) decimal.Decimal {
	return ctx.Association.EntryFee.For(m.Category())
}

type hutSolidarityFee struct{ base }

func (p *hutSolidarityFee) Active(_ *Context, s *Subject, m *Membership) bool {
	return paying(s, m)
}

func (p *hutSolidarityFee) GrossAmount(ctx *Context, _ *Subject, m *Membership) decimal.Decimal {
	if m.Section != nil && m.Section.HasHuts {
		return ctx.Association.HutSolidarityFeeWithHut.For(m.Category())
	}
	return ctx.Association.HutSolidarityFeeWithoutHut.For(m.Category())
}

type sacMagazine struct{ base }

func (p *sacMagazine) Active(_ *Context, s *Subject, m *Membership) bool {
	return !m.Additional() && paying(s, m)
}

func (p *sacMagazine) GrossAmount(ctx *Context, _ *Subject, m *Membership) decimal.Decimal {
	return ctx.Association.MagazineFee.For(m.Category())
}

type sacMagazinePostageAbroad struct{ base }

func (p *sacMagazinePostageAbroad) Active(ctx *Context, s *Subject, m *Membership) bool {
	return !m.Additional() && paying(s, m) &&
		livingAbroad(ctx, s) && s.Person.MagazinePaper &&
		ctx.Association.MagazinePostageAbroad.IsPositive()
}

func (p *sacMagazinePostageAbroad) GrossAmount(ctx *Context, _ *Subject, _ *Membership) decimal.Decimal {
	return ctx.Association.MagazinePostageAbroad
}

type sectionFee struct{ base }

func (p *sectionFee) Active(_ *Context, s *Subject, m *Membership) bool {
	return paying(s, m)
}

func (p *sectionFee) GrossAmount(ctx *Context, s *Subject, m *Membership) decimal.Decimal {
	r := m.Rates
	if r.Exempt(s.MembershipYears) {
		return decimal.Zero
	}
	gross := r.SectionFee.For(m.Category())
	if r.Reduction(s.MembershipYears, s.Age(ctx.ReferenceDate)) {
		gross = gross.Sub(r.ReductionAmount)
	}
	return gross
}

type sectionEntryFee struct {
	base
	entryFee
}

func (p *sectionEntryFee) DiscountFactor(ctx *Context) decimal.Decimal {
	return p.entryFee.DiscountFactor(ctx)
}

func (p *sectionEntryFee) Active(_ *Context, s *Subject, m *Membership) bool {
	return m.NewEntry && paying(s, m)
}

func (p *sectionEntryFee) GrossAmount(_ *Context, _ *Subject, m *Membership) decimal.Decimal {
	return m.Rates.EntryFee.For(m.Category())
}

type sectionBulletinPostageAbroad struct{ base }

func (p *sectionBulletinPostageAbroad) Active(ctx *Context, s *Subject, m *Membership) bool {
	return paying(s, m) && livingAbroad(ctx, s) &&
		m.Section != nil && m.Section.BulletinPaperMailing &&
		!s.Person.OptedOutOfBulletin(m.Section.ID) &&
		m.Rates.BulletinPostageAbroad.IsPositive()
}

func (p *sectionBulletinPostageAbroad) GrossAmount(_ *Context, _ *Subject, m *Membership) decimal.Decimal {
	return m.Rates.BulletinPostageAbroad
}

// serviceFee is billed once per person, against the primary membership.
type serviceFee struct{ base }

func (p *serviceFee) Active(_ *Context, s *Subject, m *Membership) bool {
	if m.Rates == nil {
		return false
	}
	return s.Paying(m) || s.HasNonFamilyAdditional()
}

func (p *serviceFee) GrossAmount(ctx *Context, _ *Subject, _ *Membership) decimal.Decimal {
	return ctx.Association.ServiceFee
}
