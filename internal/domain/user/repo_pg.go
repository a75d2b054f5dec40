package user

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

const userCols = `id, name, email, password, is_doctor,
	COALESCE(doctor_registration_number, ''), COALESCE(photo, ''), allergies,
	credit_card_number, credit_card_expiry, credit_card_cvv,
	COALESCE(bank_number, ''), COALESCE(consultation_price_cents, 0),
	created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.IsDoctor,
		&u.DoctorRegistrationNumber, &u.Photo, &u.Allergies,
		&u.CreditCardNumber, &u.CreditCardExpiry, &u.CreditCardCVV,
		&u.BankNumber, &u.ConsultationPriceCents,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repoPG) FindByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "user")
	}
	return u, nil
}

func (r *repoPG) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return nil, db.Classify(err, "user")
	}
	return u, nil
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (name, email, password, is_doctor, doctor_registration_number, photo,
			allergies, credit_card_number, credit_card_expiry, credit_card_cvv,
			bank_number, consultation_price_cents)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, 0))
		RETURNING id, created_at, updated_at`,
		u.Name, u.Email, u.Password, u.IsDoctor, u.DoctorRegistrationNumber, u.Photo,
		u.Allergies, u.CreditCardNumber, u.CreditCardExpiry, u.CreditCardCVV,
		u.BankNumber, u.ConsultationPriceCents,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return db.Classify(err, "user")
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET name = $2, doctor_registration_number = NULLIF($3, ''), photo = NULLIF($4, ''),
			allergies = $5, credit_card_number = $6, credit_card_expiry = $7, credit_card_cvv = $8,
			bank_number = NULLIF($9, ''), consultation_price_cents = NULLIF($10, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Name, u.DoctorRegistrationNumber, u.Photo,
		u.Allergies, u.CreditCardNumber, u.CreditCardExpiry, u.CreditCardCVV,
		u.BankNumber, u.ConsultationPriceCents,
	).Scan(&u.UpdatedAt)
	return db.Classify(err, "user")
}
