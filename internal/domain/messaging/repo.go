package messaging

import "context"

type Repository interface {
	Create(ctx context.Context, m *Message) error
	// ListByConsultation returns messages oldest first.
	ListByConsultation(ctx context.Context, consultationID int64) ([]Message, error)
}
