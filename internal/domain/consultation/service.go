package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lightweightcoder/telehealth-app/internal/domain/clinic"
	"github.com/lightweightcoder/telehealth-app/internal/domain/medication"
	"github.com/lightweightcoder/telehealth-app/internal/domain/messaging"
	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/internal/platform/middleware"
	"github.com/lightweightcoder/telehealth-app/pkg/money"
)

// UserLookup loads a user by id.
type UserLookup interface {
	FindSessionUser(ctx context.Context, id int64) (*auth.User, error)
}

// ClinicLookup lists the clinics a doctor practises at.
type ClinicLookup interface {
	ClinicsForDoctor(ctx context.Context, doctorID int64) ([]*clinic.Clinic, error)
}

// MessageLister loads a consultation's conversation, oldest first.
type MessageLister interface {
	List(ctx context.Context, consultationID int64) ([]messaging.Message, error)
}

// Catalogue lists every medication a doctor can prescribe.
type Catalogue interface {
	Catalogue(ctx context.Context) ([]*medication.Medication, error)
}

// Deps collects the collaborators of Service.
type Deps struct {
	Consultations Repository
	Ledger        *Ledger
	Users         UserLookup
	Clinics       ClinicLookup
	Messages      MessageLister
	Medications   Catalogue
	Tx            TxRunner
	Logger        zerolog.Logger
}

type Service struct {
	repo     Repository
	ledger   *Ledger
	users    UserLookup
	clinics  ClinicLookup
	messages MessageLister
	meds     Catalogue
	tx       TxRunner
	logger   zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		repo:     d.Consultations,
		ledger:   d.Ledger,
		users:    d.Users,
		clinics:  d.Clinics,
		messages: d.Messages,
		meds:     d.Medications,
		tx:       d.Tx,
		logger:   d.Logger,
	}
}

// dateLayouts are the accepted booking date formats.
var dateLayouts = []string{"2006-01-02", "2006-01-02T15:04", time.RFC3339}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, apperror.Invalid("a date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperror.Invalid("unrecognised date %q", s)
}

// NewConsultationForm returns what the booking page needs for a patient
// about to request a consultation with doctorID.
func (s *Service) NewConsultationForm(ctx context.Context, patient *auth.User, doctorID int64) (*BookingForm, error) {
	doctor, err := s.doctor(ctx, patient, doctorID)
	if err != nil {
		return nil, err
	}
	clinics, err := s.clinics.ClinicsForDoctor(ctx, doctor.ID)
	if err != nil {
		return nil, err
	}
	form := &BookingForm{
		PatientID:              patient.ID,
		PatientName:            patient.Name,
		DoctorID:               doctor.ID,
		DoctorName:             doctor.Name,
		DoctorPhoto:            auth.NormalizePhoto(doctor.Photo),
		ConsultationPriceCents: doctor.ConsultationPriceCents,
		ConsultationPrice:      money.Format(doctor.ConsultationPriceCents),
		Clinics:                make([]ClinicRef, 0, len(clinics)),
	}
	for _, cl := range clinics {
		form.Clinics = append(form.Clinics, ClinicRef{ID: cl.ID, Name: cl.Name})
	}
	return form, nil
}

// Book records a patient's request for a consultation. The doctor's current
// rate is copied onto the consultation and no medicines are charged yet.
func (s *Service) Book(ctx context.Context, patient *auth.User, in BookingInput) (*Consultation, error) {
	doctor, err := s.doctor(ctx, patient, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if doctor.ConsultationPriceCents <= 0 {
		return nil, apperror.Invalid("doctor has no consultation price")
	}
	date, err := parseDate(in.Date)
	if err != nil {
		return nil, err
	}
	description := middleware.SanitizeString(in.Description)
	if description == "" {
		return nil, apperror.Invalid("a description of the symptoms is required")
	}

	clinics, err := s.clinics.ClinicsForDoctor(ctx, doctor.ID)
	if err != nil {
		return nil, err
	}
	if !containsClinic(clinics, in.ClinicID) {
		return nil, apperror.Invalid("doctor does not practise at clinic %d", in.ClinicID)
	}

	c := &Consultation{
		PatientID:   patient.ID,
		DoctorID:    doctor.ID,
		ClinicID:    in.ClinicID,
		Date:        date,
		Status:      StatusRequested,
		Description: description,
		Money: Money{
			ConsultationPriceCents: doctor.ConsultationPriceCents,
			TotalPriceCents:        doctor.ConsultationPriceCents,
		},
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("consultation_id", c.ID).
		Int64("patient_id", c.PatientID).
		Int64("doctor_id", c.DoctorID).
		Msg("consultation requested")
	return c, nil
}

func (s *Service) doctor(ctx context.Context, patient *auth.User, doctorID int64) (*auth.User, error) {
	if doctorID <= 0 {
		return nil, apperror.Invalid("invalid doctor id")
	}
	doctor, err := s.users.FindSessionUser(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.IsDoctor {
		return nil, apperror.NotFound("doctor")
	}
	if doctor.ID == patient.ID {
		return nil, apperror.Invalid("cannot book a consultation with yourself")
	}
	return doctor, nil
}

func containsClinic(clinics []*clinic.Clinic, id int64) bool {
	for _, cl := range clinics {
		if cl.ID == id {
			return true
		}
	}
	return false
}

// Get returns the consultation page for one of its parties.
func (s *Service) Get(ctx context.Context, id, viewerID int64) (*Detail, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	role, ok := c.PartyRole(viewerID)
	if !ok {
		return nil, notParty(id)
	}

	d := &Detail{
		Consultation:  c,
		MoneyView:     c.Money.Display(),
		FormattedDate: FormatDate(c.Date),
		Role:          role,
		NextAction:    NextAction(role, c.Status),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		names, err := s.repo.GetNames(gctx, id)
		if err != nil {
			return err
		}
		names.PatientPhoto = auth.NormalizePhoto(names.PatientPhoto)
		names.DoctorPhoto = auth.NormalizePhoto(names.DoctorPhoto)
		d.Names = names
		return nil
	})
	g.Go(func() error {
		messages, err := s.messages.List(gctx, id)
		d.Messages = messages
		return err
	})
	g.Go(func() error {
		lines, err := s.repo.ListPrescriptions(gctx, id)
		d.Prescriptions = lines
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

// GetForEdit returns the doctor's editing page with the medication
// catalogue.
func (s *Service) GetForEdit(ctx context.Context, id, doctorID int64) (*EditDetail, error) {
	d, err := s.Get(ctx, id, doctorID)
	if err != nil {
		return nil, err
	}
	if d.Role != auth.RoleDoctor {
		return nil, fmt.Errorf("only the consultation's doctor can edit it: %w", apperror.ErrForbidden)
	}
	meds, err := s.meds.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]medication.View, 0, len(meds))
	for _, m := range meds {
		views = append(views, m.ToView())
	}
	return &EditDetail{Detail: d, Medications: views}, nil
}

// Dashboard lists the user's consultations as a patient or as a doctor.
func (s *Service) Dashboard(ctx context.Context, user *auth.User, role auth.Role, limit, offset int) ([]Summary, int, error) {
	var (
		items []Summary
		total int
		err   error
	)
	switch role {
	case auth.RolePatient:
		items, total, err = s.repo.ListByPatient(ctx, user.ID, limit, offset)
	case auth.RoleDoctor:
		if !user.IsDoctor {
			return nil, 0, fmt.Errorf("user %d is not a doctor: %w", user.ID, apperror.ErrForbidden)
		}
		items, total, err = s.repo.ListByDoctor(ctx, user.ID, limit, offset)
	default:
		return nil, 0, apperror.Invalid("unknown role %q", role)
	}
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].fill()
	}
	return items, total, nil
}

// Transition moves a consultation to target on behalf of actorID acting in
// role. The actor must be the consultation's party in that role.
func (s *Service) Transition(ctx context.Context, id int64, role auth.Role, actorID int64, target Status) error {
	if role != auth.RolePatient && role != auth.RoleDoctor {
		return apperror.Invalid("unknown role %q", role)
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.transition(ctx, c, role, actorID, target)
}

// TransitionAsParty is Transition with the role taken from the actor's
// place in the consultation.
func (s *Service) TransitionAsParty(ctx context.Context, id, actorID int64, target Status) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	role, ok := c.PartyRole(actorID)
	if !ok {
		return notParty(id)
	}
	return s.transition(ctx, c, role, actorID, target)
}

func (s *Service) transition(ctx context.Context, c *Consultation, role auth.Role, actorID int64, target Status) error {
	if !target.Valid() {
		return apperror.Invalid("unknown status %q", target)
	}
	if actual, ok := c.PartyRole(actorID); !ok || actual != role {
		return notParty(c.ID)
	}
	if err := CheckTransition(role, c.Status, target); err != nil {
		s.logger.Info().Int64("consultation_id", c.ID).Err(err).Msg("transition refused")
		return err
	}
	if err := s.repo.UpdateStatus(ctx, c.ID, c.Status, target); err != nil {
		return err
	}
	s.logger.Info().
		Int64("consultation_id", c.ID).
		Str("from", string(c.Status)).
		Str("to", string(target)).
		Int64("actor_id", actorID).
		Msg("consultation status changed")
	return nil
}

// AuthorizeParty returns nil if userID is the patient or doctor of the
// consultation.
func (s *Service) AuthorizeParty(ctx context.Context, consultationID, userID int64) error {
	return authorizeParty(ctx, s.repo, consultationID, userID)
}

// Parties answers consultation membership for the messaging service and the
// live feed, which are built before Service.
type Parties struct {
	consultations consultationGetter
}

type consultationGetter interface {
	GetByID(ctx context.Context, id int64) (*Consultation, error)
}

func NewParties(consultations Repository) *Parties {
	return &Parties{consultations: consultations}
}

func (p *Parties) AuthorizeParty(ctx context.Context, consultationID, userID int64) error {
	return authorizeParty(ctx, p.consultations, consultationID, userID)
}

func authorizeParty(ctx context.Context, consultations consultationGetter, consultationID, userID int64) error {
	c, err := consultations.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if _, ok := c.PartyRole(userID); !ok {
		return notParty(consultationID)
	}
	return nil
}

// UpdateDiagnosis records the doctor's diagnosis while the consultation is
// ongoing.
func (s *Service) UpdateDiagnosis(ctx context.Context, id, doctorID int64, diagnosis string) error {
	diagnosis = middleware.SanitizeString(diagnosis)
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockForPrescribing(ctx, id, doctorID); err != nil {
			return err
		}
		return s.repo.UpdateDiagnosis(ctx, id, diagnosis)
	})
}

// AddPrescription adds a line through the ledger once the doctor and the
// consultation status have been checked under the row lock.
func (s *Service) AddPrescription(ctx context.Context, consultationID, doctorID int64, in PrescriptionInput) (*Prescription, Money, error) {
	var (
		p *Prescription
		m Money
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockForPrescribing(ctx, consultationID, doctorID); err != nil {
			return err
		}
		var err error
		p, m, err = s.ledger.AddPrescription(ctx, consultationID, in.MedicineID, in.Quantity, in.Instruction)
		return err
	})
	if err != nil {
		return nil, Money{}, err
	}
	return p, m, nil
}

func (s *Service) UpdatePrescription(ctx context.Context, consultationID, prescriptionID, doctorID int64, in PrescriptionInput) (Money, error) {
	var m Money
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkLine(ctx, consultationID, prescriptionID, doctorID); err != nil {
			return err
		}
		var err error
		m, err = s.ledger.UpdatePrescription(ctx, prescriptionID, in.MedicineID, in.Quantity, in.Instruction)
		return err
	})
	return m, err
}

func (s *Service) DeletePrescription(ctx context.Context, consultationID, prescriptionID, doctorID int64) (Money, error) {
	var m Money
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkLine(ctx, consultationID, prescriptionID, doctorID); err != nil {
			return err
		}
		var err error
		m, err = s.ledger.DeletePrescription(ctx, prescriptionID)
		return err
	})
	return m, err
}

// checkLine locks the consultation and makes sure the prescription belongs
// to it.
func (s *Service) checkLine(ctx context.Context, consultationID, prescriptionID, doctorID int64) error {
	if _, err := s.lockForPrescribing(ctx, consultationID, doctorID); err != nil {
		return err
	}
	p, err := s.repo.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return err
	}
	if p.ConsultationID != consultationID {
		return apperror.NotFound("prescription")
	}
	return nil
}

// lockForPrescribing locks the consultation row and checks that doctorID is
// its doctor and that it is ongoing.
func (s *Service) lockForPrescribing(ctx context.Context, id, doctorID int64) (*Consultation, error) {
	c, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.DoctorID != doctorID {
		return nil, fmt.Errorf("only the consultation's doctor can prescribe: %w", apperror.ErrForbidden)
	}
	if c.Status != StatusOngoing {
		return nil, fmt.Errorf("consultation %d is %s, not ongoing: %w", id, c.Status, apperror.ErrInvalidTransition)
	}
	return c, nil
}

func notParty(consultationID int64) error {
	return fmt.Errorf("not a party to consultation %d: %w", consultationID, apperror.ErrForbidden)
}
