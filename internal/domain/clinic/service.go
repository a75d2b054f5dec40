package clinic

import (
	"context"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

type Service struct {
	clinics Repository
}

func NewService(clinics Repository) *Service {
	return &Service{clinics: clinics}
}

func (s *Service) ListClinics(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	return s.clinics.List(ctx, limit, offset)
}

// GetClinic returns the clinic with the doctors practising there.
func (s *Service) GetClinic(ctx context.Context, id int64) (*Detail, error) {
	if id <= 0 {
		return nil, apperror.Invalid("invalid clinic id")
	}
	c, err := s.clinics.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doctors, err := s.clinics.ListDoctors(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range doctors {
		doctors[i].normalize()
	}
	if doctors == nil {
		doctors = []Doctor{}
	}
	return &Detail{Clinic: c, Doctors: doctors}, nil
}

func (s *Service) ClinicsForDoctor(ctx context.Context, doctorID int64) ([]*Clinic, error) {
	return s.clinics.ListForDoctor(ctx, doctorID)
}

// ReplaceDoctorClinics sets the clinics a doctor practises at. Duplicate ids
// are collapsed; unknown clinics fail with apperror.ErrNotFound.
func (s *Service) ReplaceDoctorClinics(ctx context.Context, doctorID int64, clinicIDs []int64) error {
	seen := make(map[int64]struct{}, len(clinicIDs))
	ids := make([]int64, 0, len(clinicIDs))
	for _, id := range clinicIDs {
		if id <= 0 {
			return apperror.Invalid("invalid clinic id %d", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return s.clinics.ReplaceDoctorClinics(ctx, doctorID, ids)
}
