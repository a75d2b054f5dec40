package clinic

import "context"

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Clinic, error)
	List(ctx context.Context, limit, offset int) ([]*Clinic, int, error)
	ListDoctors(ctx context.Context, clinicID int64) ([]Doctor, error)
	ListForDoctor(ctx context.Context, doctorID int64) ([]*Clinic, error)
	// ReplaceDoctorClinics deletes every link of the doctor and inserts the
	// given ones in the same transaction.
	ReplaceDoctorClinics(ctx context.Context, doctorID int64, clinicIDs []int64) error
}
