package consultation

import "context"

// Repository is the consultation storage. It includes the ledger's store so
// a single Postgres implementation backs both.
type Repository interface {
	LedgerStore

	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id int64) (*Consultation, error)
	// GetForUpdate reads the row and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Consultation, error)
	GetNames(ctx context.Context, id int64) (Names, error)
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Summary, int, error)
	ListByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]Summary, int, error)
	// UpdateStatus moves the consultation from one status to another. It
	// fails with ErrInvalidTransition if the stored status is no longer from.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	UpdateDiagnosis(ctx context.Context, id int64, diagnosis string) error
	ListPrescriptions(ctx context.Context, consultationID int64) ([]PrescriptionLine, error)
}
