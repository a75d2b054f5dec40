package medication

import "context"

type Repository interface {
	GetByID(ctx context.Context, id int64) (*Medication, error)
	List(ctx context.Context, name string, limit, offset int) ([]*Medication, int, error)
	ListAll(ctx context.Context) ([]*Medication, error)
}
