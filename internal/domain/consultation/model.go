package consultation

import (
	"fmt"
	"time"

	"github.com/lightweightcoder/telehealth-app/internal/domain/medication"
	"github.com/lightweightcoder/telehealth-app/internal/domain/messaging"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/pkg/money"
)

// Status is the lifecycle state of a consultation.
type Status string

const (
	StatusRequested Status = "requested"
	StatusUpcoming  Status = "upcoming"
	StatusOngoing   Status = "ongoing"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusUpcoming, StatusOngoing, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

// Money holds a consultation's three price fields in integer cents.
type Money struct {
	ConsultationPriceCents int64 `json:"consultation_price_cents"`
	MedicinesPriceCents    int64 `json:"medicines_price_cents"`
	TotalPriceCents        int64 `json:"total_price_cents"`
}

// Balanced reports whether the total equals the fee plus the medicines.
func (m Money) Balanced() bool {
	return m.TotalPriceCents == m.ConsultationPriceCents+m.MedicinesPriceCents
}

// withMedicines returns m with the medicines sum moved by delta and the total
// recomputed.
func (m Money) withMedicines(delta int64) Money {
	m.MedicinesPriceCents += delta
	m.TotalPriceCents = m.ConsultationPriceCents + m.MedicinesPriceCents
	return m
}

// Display formats the three fields for presentation.
func (m Money) Display() MoneyView {
	return MoneyView{
		ConsultationPrice: money.Format(m.ConsultationPriceCents),
		MedicinesPrice:    money.Format(m.MedicinesPriceCents),
		TotalPrice:        money.Format(m.TotalPriceCents),
	}
}

type MoneyView struct {
	ConsultationPrice string `json:"consultation_price"`
	MedicinesPrice    string `json:"medicines_price"`
	TotalPrice        string `json:"total_price"`
}

// Consultation is a row of the consultations table.
type Consultation struct {
	ID          int64     `json:"id"`
	PatientID   int64     `json:"patient_id"`
	DoctorID    int64     `json:"doctor_id"`
	ClinicID    int64     `json:"clinic_id"`
	Date        time.Time `json:"date"`
	Status      Status    `json:"status"`
	Description string    `json:"description"`
	Diagnosis   string    `json:"diagnosis,omitempty"`
	Money
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PartyRole returns the role userID plays in the consultation, or false if
// the user is not party to it.
func (c *Consultation) PartyRole(userID int64) (auth.Role, bool) {
	switch userID {
	case c.DoctorID:
		return auth.RoleDoctor, true
	case c.PatientID:
		return auth.RolePatient, true
	}
	return "", false
}

// Names holds the display names joined onto a consultation.
type Names struct {
	PatientName  string `json:"patient_name"`
	PatientPhoto string `json:"patient_photo"`
	DoctorName   string `json:"doctor_name"`
	DoctorPhoto  string `json:"doctor_photo"`
	ClinicName   string `json:"clinic_name"`
}

// Prescription is a medication line on a consultation.
type Prescription struct {
	ID             int64     `json:"id"`
	ConsultationID int64     `json:"consultation_id"`
	MedicineID     int64     `json:"medicine_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Instruction    string    `json:"instruction"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Cost is the line total: the unit price the line was prescribed at times
// its quantity.
func (p *Prescription) Cost() int64 {
	return p.UnitPriceCents * int64(p.Quantity)
}

// PrescriptionLine is a prescription joined with its medication name.
type PrescriptionLine struct {
	Prescription
	MedicineName   string `json:"medicine_name"`
	LineTotalCents int64  `json:"line_total_cents"`
	UnitPrice      string `json:"unit_price"`
	LineTotal      string `json:"line_total"`
}

func (l *PrescriptionLine) fill() {
	l.LineTotalCents = l.Cost()
	l.UnitPrice = money.Format(l.UnitPriceCents)
	l.LineTotal = money.Format(l.LineTotalCents)
}

// Detail is the consultation page.
type Detail struct {
	*Consultation
	Names
	MoneyView
	FormattedDate string              `json:"formatted_date"`
	Role          auth.Role           `json:"role"`
	NextAction    *Action             `json:"next_action,omitempty"`
	Messages      []messaging.Message `json:"messages"`
	Prescriptions []PrescriptionLine  `json:"prescriptions"`
}

// EditDetail is the doctor's editing page: the consultation plus the
// medication catalogue for the prescription form.
type EditDetail struct {
	*Detail
	Medications []medication.View `json:"medications"`
}

// Summary is a dashboard row.
type Summary struct {
	ID               int64     `json:"id"`
	Date             time.Time `json:"date"`
	FormattedDate    string    `json:"formatted_date"`
	Status           Status    `json:"status"`
	Description      string    `json:"description"`
	ClinicName       string    `json:"clinic_name"`
	CounterpartID    int64     `json:"counterpart_id"`
	CounterpartName  string    `json:"counterpart_name"`
	CounterpartPhoto string    `json:"counterpart_photo"`
	TotalPriceCents  int64     `json:"total_price_cents"`
	TotalPrice       string    `json:"total_price"`
}

func (s *Summary) fill() {
	s.FormattedDate = FormatDate(s.Date)
	s.CounterpartPhoto = auth.NormalizePhoto(s.CounterpartPhoto)
	s.TotalPrice = money.Format(s.TotalPriceCents)
}

// BookingForm is what the booking page shows before a request is made.
type BookingForm struct {
	PatientID              int64       `json:"patient_id"`
	PatientName            string      `json:"patient_name"`
	DoctorID               int64       `json:"doctor_id"`
	DoctorName             string      `json:"doctor_name"`
	DoctorPhoto            string      `json:"doctor_photo"`
	ConsultationPriceCents int64       `json:"consultation_price_cents"`
	ConsultationPrice      string      `json:"consultation_price"`
	Clinics                []ClinicRef `json:"clinics"`
}

type ClinicRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// BookingInput is a patient's consultation request.
type BookingInput struct {
	DoctorID    int64  `json:"doctor_id" form:"doctor_id"`
	ClinicID    int64  `json:"clinic_id" form:"clinic_id"`
	Date        string `json:"date" form:"date"`
	Description string `json:"description" form:"description"`
}

// PrescriptionInput is the doctor's prescription form.
type PrescriptionInput struct {
	MedicineID  int64  `json:"medicine_id" form:"medicine_id"`
	Quantity    int    `json:"quantity" form:"quantity"`
	Instruction string `json:"instruction" form:"instruction"`
}

// FormatDate renders a consultation date such as "Mon, 5th Oct 2026".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s, %d%s %s", t.Format("Mon"), t.Day(), ordinalSuffix(t.Day()), t.Format("Jan 2006"))
}

func ordinalSuffix(day int) string {
	if day%100 >= 11 && day%100 <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
