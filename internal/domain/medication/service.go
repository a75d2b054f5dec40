package medication

import (
	"context"
	"strings"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

type Service struct {
	medications Repository
}

func NewService(meds Repository) *Service {
	return &Service{medications: meds}
}

func (s *Service) GetMedication(ctx context.Context, id int64) (*Medication, error) {
	if id <= 0 {
		return nil, apperror.Invalid("invalid medication id")
	}
	return s.medications.GetByID(ctx, id)
}

func (s *Service) ListMedications(ctx context.Context, name string, limit, offset int) ([]*Medication, int, error) {
	return s.medications.List(ctx, strings.TrimSpace(name), limit, offset)
}

// Catalogue returns every medication, for the prescription form.
func (s *Service) Catalogue(ctx context.Context) ([]*Medication, error) {
	return s.medications.ListAll(ctx)
}
