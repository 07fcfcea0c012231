package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	defaultMain = []string{
		SacFee, SacEntryFee, HutSolidarityFee, SacMagazine, SacMagazinePostageAbroad,
		SectionFee, SectionEntryFee, SectionBulletinPostageAbroad,
	}
	defaultAdditional = []string{
		SectionFee, SectionEntryFee, HutSolidarityFee, SectionBulletinPostageAbroad,
	}
	defaultPerson = []string{ServiceFee}
)

// Pipeline evaluates position types in a fixed order. It holds no state
// besides the ordering and can be shared between goroutines.
type Pipeline struct {
	main       []PositionType
	additional []PositionType
	person     []PositionType
}

func NewPipeline() *Pipeline {
	p, err := NewPipelineFrom(defaultMain, defaultAdditional, defaultPerson)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPipelineFrom builds a pipeline from registered position names.
func NewPipelineFrom(main, additional, person []string) (*Pipeline, error) {
	resolve := func(names []string) ([]PositionType, error) {
		types := make([]PositionType, 0, len(names))
		for _, name := range names {
			pt, ok := Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown position type %q", name)
			}
			types = append(types, pt)
		}
		return types, nil
	}

	var (
		p   Pipeline
		err error
	)
	if p.main, err = resolve(main); err != nil {
		return nil, err
	}
	if p.additional, err = resolve(additional); err != nil {
		return nil, err
	}
	if p.person, err = resolve(person); err != nil {
		return nil, err
	}
	return &p, nil
}

// Positions computes the fee lines of one person. Main memberships come
// first, then additional memberships in the given order, then person-level
// fees billed against the first main membership (or the first membership).
func (p *Pipeline) Positions(ctx *Context, s *Subject) []Position {
	var positions []Position
	var anchor *Membership

	for i := range s.Memberships {
		m := &s.Memberships[i]
		types := p.main
		if m.Additional() {
			types = p.additional
		} else if anchor == nil {
			anchor = m
		}
		for _, pt := range types {
			if pt.Active(ctx, s, m) {
				positions = append(positions, evaluate(pt, ctx, s, m))
			}
		}
	}

	if anchor == nil && len(s.Memberships) > 0 {
		anchor = &s.Memberships[0]
	}
	if anchor != nil {
		for _, pt := range p.person {
			if pt.Active(ctx, s, anchor) {
				positions = append(positions, evaluate(pt, ctx, s, anchor))
			}
		}
	}
	return positions
}

// Summary totals a list of positions.
type Summary struct {
	Amount        decimal.Decimal              `json:"amount"`
	InvoiceAmount decimal.Decimal              `json:"invoice_amount"`
	SectionDebits map[int32]decimal.Decimal    `json:"section_debits"`
	ByCreditor    map[Creditor]decimal.Decimal `json:"by_creditor"`
}

func Summarize(positions []Position) Summary {
	sum := Summary{
		Amount:        decimal.Zero,
		InvoiceAmount: decimal.Zero,
		SectionDebits: make(map[int32]decimal.Decimal),
		ByCreditor:    make(map[Creditor]decimal.Decimal),
	}
	for _, pos := range positions {
		sum.Amount = sum.Amount.Add(pos.Amount)
		sum.InvoiceAmount = sum.InvoiceAmount.Add(pos.InvoiceAmount)
		sum.ByCreditor[pos.Creditor] = sum.ByCreditor[pos.Creditor].Add(pos.InvoiceAmount)
		if pos.SectionPays {
			sum.SectionDebits[pos.SectionID] = sum.SectionDebits[pos.SectionID].Add(pos.SectionDebit)
		}
	}
	return sum
}
