package clinic

import (
	"time"

	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/pkg/money"
)

type Clinic struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Photo     string    `json:"photo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Doctor is a doctor practising at a clinic, as shown on the clinic page.
type Doctor struct {
	ID                     int64  `json:"id"`
	Name                   string `json:"name"`
	Photo                  string `json:"photo"`
	ConsultationPriceCents int64  `json:"consultation_price_cents"`
	ConsultationPrice      string `json:"consultation_price"`
}

func (d *Doctor) normalize() {
	d.Photo = auth.NormalizePhoto(d.Photo)
	d.ConsultationPrice = money.Format(d.ConsultationPriceCents)
}

// Detail is a clinic together with its doctors.
type Detail struct {
	*Clinic
	Doctors []Doctor `json:"doctors"`
}
