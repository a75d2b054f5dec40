package user

import (
	"strings"
	"time"

	"github.com/lightweightcoder/telehealth-app/internal/domain/clinic"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/pkg/money"
)

// User is a row of the users table. Doctor fields are empty for patients.
type User struct {
	ID                       int64     `json:"id"`
	Name                     string    `json:"name"`
	Email                    string    `json:"email"`
	Password                 string    `json:"-"`
	IsDoctor                 bool      `json:"is_doctor"`
	DoctorRegistrationNumber string    `json:"doctor_registration_number,omitempty"`
	Photo                    string    `json:"photo"`
	Allergies                string    `json:"allergies"`
	CreditCardNumber         string    `json:"-"`
	CreditCardExpiry         string    `json:"credit_card_expiry"`
	CreditCardCVV            string    `json:"-"`
	BankNumber               string    `json:"bank_number,omitempty"`
	ConsultationPriceCents   int64     `json:"consultation_price_cents,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// SessionUser is the subset of the record attached to authenticated requests.
func (u *User) SessionUser() *auth.User {
	return &auth.User{
		ID:                     u.ID,
		Name:                   u.Name,
		Email:                  u.Email,
		Photo:                  u.Photo,
		IsDoctor:               u.IsDoctor,
		Allergies:              u.Allergies,
		ConsultationPriceCents: u.ConsultationPriceCents,
	}
}

// Profile is the profile page: the user, display values, and for doctors
// the clinics they practise at.
type Profile struct {
	*User
	CardLast4         string           `json:"card_last4,omitempty"`
	ConsultationPrice string           `json:"consultation_price,omitempty"`
	Clinics           []*clinic.Clinic `json:"clinics,omitempty"`
}

func newProfile(u *User, clinics []*clinic.Clinic) *Profile {
	p := &Profile{User: u, Clinics: clinics}
	u.Photo = auth.NormalizePhoto(u.Photo)
	if n := len(u.CreditCardNumber); n >= 4 {
		p.CardLast4 = u.CreditCardNumber[n-4:]
	}
	if u.IsDoctor {
		p.ConsultationPrice = money.Format(u.ConsultationPriceCents)
	}
	return p
}

// SignupInput is the signup form. Doctor fields are required when IsDoctor
// is set and ignored otherwise.
type SignupInput struct {
	Name                     string  `json:"name" form:"name"`
	Email                    string  `json:"email" form:"email"`
	Password                 string  `json:"password" form:"password"`
	IsDoctor                 bool    `json:"is_doctor" form:"is_doctor"`
	Allergies                string  `json:"allergies" form:"allergies"`
	CreditCardNumber         string  `json:"credit_card_number" form:"credit_card_number"`
	CreditCardExpiry         string  `json:"credit_card_expiry" form:"credit_card_expiry"`
	CreditCardCVV            string  `json:"credit_card_cvv" form:"credit_card_cvv"`
	DoctorRegistrationNumber string  `json:"doctor_registration_number" form:"doctor_registration_number"`
	BankNumber               string  `json:"bank_number" form:"bank_number"`
	ConsultationPrice        string  `json:"consultation_price" form:"consultation_price"`
	ClinicIDs                []int64 `json:"clinic_ids" form:"clinic_ids"`
}

// ProfileInput is the profile form. Empty strings leave a field unchanged.
// ClinicIDs replaces a doctor's clinics when non-nil.
type ProfileInput struct {
	Name                     string  `json:"name" form:"name"`
	Allergies                string  `json:"allergies" form:"allergies"`
	CreditCardNumber         string  `json:"credit_card_number" form:"credit_card_number"`
	CreditCardExpiry         string  `json:"credit_card_expiry" form:"credit_card_expiry"`
	CreditCardCVV            string  `json:"credit_card_cvv" form:"credit_card_cvv"`
	DoctorRegistrationNumber string  `json:"doctor_registration_number" form:"doctor_registration_number"`
	BankNumber               string  `json:"bank_number" form:"bank_number"`
	ConsultationPrice        string  `json:"consultation_price" form:"consultation_price"`
	ClinicIDs                []int64 `json:"clinic_ids" form:"clinic_ids"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
