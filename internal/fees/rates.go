package fees

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
)

// CategoryAmounts holds one amount per contribution category.
type CategoryAmounts struct {
	Adult  decimal.Decimal `yaml:"adult"`
	Youth  decimal.Decimal `yaml:"youth"`
	Family decimal.Decimal `yaml:"family"`
}

func (a CategoryAmounts) For(c domain.Category) decimal.Decimal {
	switch c {
	case domain.CategoryAdult:
		return a.Adult
	case domain.CategoryYouth:
		return a.Youth
	case domain.CategoryFamily:
		return a.Family
	}
	return decimal.Zero
}

// DiscountTier reduces fees from a day of the year onwards, e.g. members
// joining after 1 July pay half.
type DiscountTier struct {
	From    string          `yaml:"from"` // MM-DD
	Percent decimal.Decimal `yaml:"percent"`
}

func (t DiscountTier) startIn(year int) (time.Time, error) {
	d, err := time.Parse("2006-01-02", fmt.Sprintf("%04d-%s", year, t.From))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid discount tier start %q: %w", t.From, err)
	}
	return d, nil
}

// AssociationRates are the association-wide amounts valid from a given day.
type AssociationRates struct {
	ValidFrom                        time.Time       `yaml:"valid_from"`
	SacFee                           CategoryAmounts `yaml:"sac_fee"`
	EntryFee                         CategoryAmounts `yaml:"entry_fee"`
	HutSolidarityFeeWithHut          CategoryAmounts `yaml:"hut_solidarity_fee_with_hut"`
	HutSolidarityFeeWithoutHut       CategoryAmounts `yaml:"hut_solidarity_fee_without_hut"`
	MagazineFee                      CategoryAmounts `yaml:"magazine_fee"`
	ServiceFee                       decimal.Decimal `yaml:"service_fee"`
	MagazinePostageAbroad            decimal.Decimal `yaml:"magazine_postage_abroad"`
	ReductionAmount                  decimal.Decimal `yaml:"reduction_amount"`
	ReductionRequiredMembershipYears int             `yaml:"reduction_required_membership_years"`
	DiscountSchedule                 []DiscountTier  `yaml:"discount_schedule"`
}

// SectionRates are the amounts a single section charges.
type SectionRates struct {
	SectionID                        int32             `yaml:"section_id"`
	ValidFrom                        time.Time         `yaml:"valid_from"`
	SectionFee                       CategoryAmounts   `yaml:"section_fee"`
	EntryFee                         CategoryAmounts   `yaml:"entry_fee"`
	ReductionAmount                  decimal.Decimal   `yaml:"reduction_amount"`
	ReductionRequiredMembershipYears int               `yaml:"reduction_required_membership_years"`
	ReductionRequiredAge             int               `yaml:"reduction_required_age"`
	ExemptionRequiredMembershipYears int               `yaml:"exemption_required_membership_years"`
	BulletinPostageAbroad            decimal.Decimal   `yaml:"bulletin_postage_abroad"`
	SacFeeExemptionCategories        []domain.Category `yaml:"sac_fee_exemption_categories"`
}

// PaysSacFeeFor reports whether the section took over association fees for
// members of the category.
func (s *SectionRates) PaysSacFeeFor(c domain.Category) bool {
	for _, exempt := range s.SacFeeExemptionCategories {
		if exempt == c {
			return true
		}
	}
	return false
}

// Reduction reports whether a member qualifies for the section's reduced fee.
func (s *SectionRates) Reduction(membershipYears, age int) bool {
	if s.ReductionRequiredMembershipYears > 0 && membershipYears >= s.ReductionRequiredMembershipYears {
		return true
	}
	return s.ReductionRequiredAge > 0 && age >= s.ReductionRequiredAge
}

// Exempt reports whether the member no longer pays the section fee.
func (s *SectionRates) Exempt(membershipYears int) bool {
	return s.ExemptionRequiredMembershipYears > 0 && membershipYears >= s.ExemptionRequiredMembershipYears
}

// RateProvider looks up the rates in force on a day. Implementations return
// the latest table with valid_from <= on.
type RateProvider interface {
	AssociationRates(on time.Time) (*AssociationRates, error)
	SectionRates(sectionID int32, on time.Time) (*SectionRates, error)
}

// RateBook is a RateProvider loaded from YAML.
type RateBook struct {
	Association []AssociationRates `yaml:"association"`
	Sections    []SectionRates     `yaml:"sections"`

	bySection map[int32][]SectionRates
}

func LoadRateBook(path string) (*RateBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rates file: %w", err)
	}
	return ParseRateBook(data)
}

func ParseRateBook(data []byte) (*RateBook, error) {
	var book RateBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("failed to parse rates file: %w", err)
	}
	if err := book.index(); err != nil {
		return nil, err
	}
	return &book, nil
}

func (b *RateBook) index() error {
	sort.Slice(b.Association, func(i, j int) bool {
		return b.Association[i].ValidFrom.Before(b.Association[j].ValidFrom)
	})
	for i := range b.Association {
		if err := validateSchedule(b.Association[i].DiscountSchedule); err != nil {
			return fmt.Errorf("association rates valid from %s: %w", b.Association[i].ValidFrom.Format("2006-01-02"), err)
		}
	}

	b.bySection = make(map[int32][]SectionRates)
	for _, s := range b.Sections {
		for _, c := range s.SacFeeExemptionCategories {
			if !c.Valid() {
				return domain.NewValidationError("sac_fee_exemption_categories", fmt.Sprintf("unknown category %q for section %d", c, s.SectionID))
			}
		}
		b.bySection[s.SectionID] = append(b.bySection[s.SectionID], s)
	}
	for id := range b.bySection {
		tables := b.bySection[id]
		sort.Slice(tables, func(i, j int) bool { return tables[i].ValidFrom.Before(tables[j].ValidFrom) })
	}
	return nil
}

// validateSchedule enforces ascending tier starts with non-decreasing
// percentages between 0 and 100, which keeps later tiers at least as cheap.
func validateSchedule(tiers []DiscountTier) error {
	hundred := decimal.NewFromInt(100)
	var prevStart time.Time
	prevPercent := decimal.Zero
	for i, tier := range tiers {
		start, err := tier.startIn(2001) // non-leap year, rejects 02-29
		if err != nil {
			return domain.NewValidationError("discount_schedule", err.Error())
		}
		if tier.Percent.IsNegative() || tier.Percent.GreaterThan(hundred) {
			return domain.NewValidationError("discount_schedule", fmt.Sprintf("tier %d percent must be between 0 and 100", i))
		}
		if i > 0 && !start.After(prevStart) {
			return domain.NewValidationError("discount_schedule", fmt.Sprintf("tier %d must start after tier %d", i, i-1))
		}
		if tier.Percent.LessThan(prevPercent) {
			return domain.NewValidationError("discount_schedule", fmt.Sprintf("tier %d must not discount less than tier %d", i, i-1))
		}
		prevStart, prevPercent = start, tier.Percent
	}
	return nil
}

func (b *RateBook) AssociationRates(on time.Time) (*AssociationRates, error) {
	for i := len(b.Association) - 1; i >= 0; i-- {
		if !b.Association[i].ValidFrom.After(on) {
			r := b.Association[i]
			return &r, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "association rates", ID: int32(on.Year())}
}

func (b *RateBook) SectionRates(sectionID int32, on time.Time) (*SectionRates, error) {
	tables := b.bySection[sectionID]
	for i := len(tables) - 1; i >= 0; i-- {
		if !tables[i].ValidFrom.After(on) {
			r := tables[i]
			return &r, nil
		}
	}
	return nil, &domain.NotFoundError{Entity: "section rates", ID: sectionID}
}
