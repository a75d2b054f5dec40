package user

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/domain/clinic"
	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/internal/platform/blobstore"
	"github.com/lightweightcoder/telehealth-app/pkg/money"
)

// ErrInvalidCredentials is returned by Login for an unknown email or a wrong
// password alike.
var ErrInvalidCredentials = fmt.Errorf("incorrect email/password: %w", apperror.ErrUnauthenticated)

// ClinicLinker manages the clinics a doctor practises at.
type ClinicLinker interface {
	ClinicsForDoctor(ctx context.Context, doctorID int64) ([]*clinic.Clinic, error)
	ReplaceDoctorClinics(ctx context.Context, doctorID int64, clinicIDs []int64) error
}

// TxRunner runs fn in one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Photo is an uploaded profile photo.
type Photo struct {
	FileName string
	Content  io.Reader
}

type Service struct {
	users     Repository
	clinics   ClinicLinker
	passwords auth.PasswordVerifier
	photos    blobstore.Store
	tx        TxRunner
	logger    zerolog.Logger
}

func NewService(users Repository, clinics ClinicLinker, passwords auth.PasswordVerifier,
	photos blobstore.Store, tx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		users:     users,
		clinics:   clinics,
		passwords: passwords,
		photos:    photos,
		tx:        tx,
		logger:    logger,
	}
}

// Login checks an email and password pair.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.passwords.Verify(u.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Signup registers a patient or a doctor. A doctor's clinic links are
// written in the same transaction as the user row.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	u := &User{
		Name:             strings.TrimSpace(in.Name),
		Email:            normalizeEmail(in.Email),
		IsDoctor:         in.IsDoctor,
		Allergies:        strings.TrimSpace(in.Allergies),
		CreditCardNumber: strings.TrimSpace(in.CreditCardNumber),
		CreditCardExpiry: strings.TrimSpace(in.CreditCardExpiry),
		CreditCardCVV:    strings.TrimSpace(in.CreditCardCVV),
	}
	if u.Name == "" {
		return nil, apperror.Invalid("name is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return nil, apperror.Invalid("invalid email address")
	}
	if in.Password == "" {
		return nil, apperror.Invalid("password is required")
	}
	if u.IsDoctor {
		u.DoctorRegistrationNumber = strings.TrimSpace(in.DoctorRegistrationNumber)
		u.BankNumber = strings.TrimSpace(in.BankNumber)
		if u.DoctorRegistrationNumber == "" {
			return nil, apperror.Invalid("doctor registration number is required")
		}
		if u.BankNumber == "" {
			return nil, apperror.Invalid("bank number is required")
		}
		cents, err := parsePrice(in.ConsultationPrice)
		if err != nil {
			return nil, err
		}
		u.ConsultationPriceCents = cents
		if len(in.ClinicIDs) == 0 {
			return nil, apperror.Invalid("at least one clinic is required")
		}
	}

	stored, err := s.passwords.Prepare(in.Password)
	if err != nil {
		return nil, apperror.Invalid("%v", err)
	}
	u.Password = stored

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if u.IsDoctor {
			return s.clinics.ReplaceDoctorClinics(ctx, u.ID, in.ClinicIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", u.ID).Bool("is_doctor", u.IsDoctor).Msg("user signed up")
	return u, nil
}

// GetUser returns the stored user record.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, apperror.Invalid("invalid user id")
	}
	return s.users.FindByID(ctx, id)
}

// FindSessionUser loads the user for the session verifier.
func (s *Service) FindSessionUser(ctx context.Context, id int64) (*auth.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.SessionUser(), nil
}

func (s *Service) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	var clinics []*clinic.Clinic
	if u.IsDoctor {
		if clinics, err = s.clinics.ClinicsForDoctor(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	return newProfile(u, clinics), nil
}

// UpdateProfile applies the profile form. A new photo is stored first and
// the previous one removed only after the user row commits. A doctor's
// clinic list, when given, is replaced in the same transaction.
func (s *Service) UpdateProfile(ctx context.Context, id int64, in ProfileInput, photo *Photo) (*Profile, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		u.Name = name
	}
	setIfPresent(&u.Allergies, in.Allergies)
	setIfPresent(&u.CreditCardNumber, in.CreditCardNumber)
	setIfPresent(&u.CreditCardExpiry, in.CreditCardExpiry)
	setIfPresent(&u.CreditCardCVV, in.CreditCardCVV)
	if u.IsDoctor {
		setIfPresent(&u.DoctorRegistrationNumber, in.DoctorRegistrationNumber)
		setIfPresent(&u.BankNumber, in.BankNumber)
		if strings.TrimSpace(in.ConsultationPrice) != "" {
			cents, err := parsePrice(in.ConsultationPrice)
			if err != nil {
				return nil, err
			}
			u.ConsultationPriceCents = cents
		}
		if in.ClinicIDs != nil && len(in.ClinicIDs) == 0 {
			return nil, apperror.Invalid("at least one clinic is required")
		}
	}

	oldPhoto := u.Photo
	var uploaded *blobstore.Object
	if photo != nil {
		uploaded, err = s.photos.Put(ctx, photo.FileName, photo.Content)
		if err != nil {
			return nil, photoError(err)
		}
		u.Photo = uploaded.Ref
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}
		if u.IsDoctor && in.ClinicIDs != nil {
			return s.clinics.ReplaceDoctorClinics(ctx, u.ID, in.ClinicIDs)
		}
		return nil
	})
	if err != nil {
		if uploaded != nil {
			s.removePhoto(ctx, uploaded.Ref)
		}
		return nil, err
	}
	if uploaded != nil && oldPhoto != "" {
		s.removePhoto(ctx, oldPhoto)
	}

	return s.GetProfile(ctx, u.ID)
}

func (s *Service) removePhoto(ctx context.Context, ref string) {
	if err := s.photos.Delete(ctx, ref); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("photo", ref).Msg("failed to remove photo")
	}
}

func photoError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrMissingFileName):
		return apperror.Invalid("photo: %v", err)
	default:
		return apperror.Unavailable("store photo", err)
	}
}

func parsePrice(s string) (int64, error) {
	cents, err := money.Parse(strings.TrimSpace(s))
	if err != nil {
		return 0, apperror.Invalid("consultation price: %v", err)
	}
	if cents <= 0 {
		return 0, apperror.Invalid("consultation price must be positive")
	}
	return cents, nil
}

func setIfPresent(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
