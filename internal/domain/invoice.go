package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceState string

const (
	InvoiceStateDraft     InvoiceState = "DRAFT"
	InvoiceStateOpen      InvoiceState = "OPEN"
	InvoiceStatePayed     InvoiceState = "PAYED"
	InvoiceStateCancelled InvoiceState = "CANCELLED"
)

type InvoiceKind string

const (
	InvoiceKindMembership InvoiceKind = "MEMBERSHIP"
	InvoiceKindEntry      InvoiceKind = "ENTRY"
)

// Invoice mirrors what the external invoicing system reports back. It links
// to the role it bills for so that payment events can update that role.
type Invoice struct {
	ID         int32           `json:"id"`
	PersonID   int32           `json:"person_id"`
	SectionID  int32           `json:"section_id"`
	LinkRoleID *int32          `json:"link_role_id"`
	Year       int             `json:"year"`
	Kind       InvoiceKind     `json:"kind"`
	State      InvoiceState    `json:"state"`
	Total      decimal.Decimal `json:"total"`
	IssuedOn   *time.Time      `json:"issued_on"`
	PayedOn    *time.Time      `json:"payed_on"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (i *Invoice) Open() bool {
	return i.State == InvoiceStateDraft || i.State == InvoiceStateOpen
}
