package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/utils"
)

// Context is the read-only input shared by every position of one billing run.
type Context struct {
	ReferenceDate time.Time
	HomeCountry   string
	Association   *AssociationRates

	rates          RateProvider
	discountFactor decimal.Decimal
}

// NewContext resolves the association rates in force on the reference date
// and computes the discount factor once for the whole run.
func NewContext(rates RateProvider, referenceDate time.Time, homeCountry string) (*Context, error) {
	ref := utils.Day(referenceDate)
	assoc, err := rates.AssociationRates(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve association rates: %w", err)
	}
	factor, err := discountFactor(assoc.DiscountSchedule, ref)
	if err != nil {
		return nil, err
	}
	return &Context{
		ReferenceDate:  ref,
		HomeCountry:    homeCountry,
		Association:    assoc,
		rates:          rates,
		discountFactor: factor,
	}, nil
}

func (c *Context) Year() int {
	return c.ReferenceDate.Year()
}

func (c *Context) DiscountFactor() decimal.Decimal {
	return c.discountFactor
}

// SectionRates resolves a section's rates for the reference date.
func (c *Context) SectionRates(sectionID int32) (*SectionRates, error) {
	return c.rates.SectionRates(sectionID, c.ReferenceDate)
}

// discountFactor picks the last tier that started on or before ref in ref's
// year: 1 - percent/100, or 1 without a matching tier.
func discountFactor(tiers []DiscountTier, ref time.Time) (decimal.Decimal, error) {
	percent := decimal.Zero
	for _, tier := range tiers {
		start, err := tier.startIn(ref.Year())
		if err != nil {
			return decimal.Zero, err
		}
		if start.After(ref) {
			break
		}
		percent = tier.Percent
	}
	return decimal.NewFromInt(1).Sub(percent.Div(decimal.NewFromInt(100))), nil
}
