package medication

import (
	"time"

	"github.com/lightweightcoder/telehealth-app/pkg/money"
)

// Medication is a catalogue entry a doctor can prescribe.
type Medication struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LineTotalCents is the price of quantity units.
func (m *Medication) LineTotalCents(quantity int) int64 {
	return m.PriceCents * int64(quantity)
}

// View is the presentation form of a Medication.
type View struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Price      string `json:"price"`
}

func (m *Medication) ToView() View {
	return View{
		ID:         m.ID,
		Name:       m.Name,
		PriceCents: m.PriceCents,
		Price:      money.Format(m.PriceCents),
	}
}

func toViews(items []*Medication) []View {
	out := make([]View, 0, len(items))
	for _, m := range items {
		out = append(out, m.ToView())
	}
	return out
}
