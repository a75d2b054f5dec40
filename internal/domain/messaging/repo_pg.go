package messaging

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightweightcoder/telehealth-app/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.ConnFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	err := r.conn(ctx).QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO messages (sender_id, consultation_id, description)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, sender_id
		)
		SELECT i.id, i.created_at, u.name
		FROM inserted i JOIN users u ON u.id = i.sender_id`,
		m.SenderID, m.ConsultationID, m.Description,
	).Scan(&m.ID, &m.CreatedAt, &m.SenderName)
	return db.Classify(err, "message")
}

func (r *repoPG) ListByConsultation(ctx context.Context, consultationID int64) ([]Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT m.id, m.consultation_id, m.sender_id, u.name, m.description, m.created_at
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.consultation_id = $1
		ORDER BY m.created_at, m.id`, consultationID)
	if err != nil {
		return nil, db.Classify(err, "messages")
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConsultationID, &m.SenderID, &m.SenderName, &m.Description, &m.CreatedAt); err != nil {
			return nil, db.Classify(err, "messages")
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "messages")
	}
	return messages, nil
}
