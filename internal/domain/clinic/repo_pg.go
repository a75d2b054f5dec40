package clinic

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

const clinicCols = `c.id, c.name, c.address, COALESCE(c.photo, ''), c.created_at, c.updated_at`

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	if err := row.Scan(&c.ID, &c.Name, &c.Address, &c.Photo, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Clinic, error) {
	c, err := scanClinic(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics c WHERE c.id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "clinic")
	}
	return c, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinics`).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "clinics")
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+clinicCols+` FROM clinics c ORDER BY c.name, c.id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "clinics")
	}
	items, err := collectClinics(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListForDoctor(ctx context.Context, doctorID int64) ([]*Clinic, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+clinicCols+`
		FROM clinics c JOIN clinic_doctors cd ON cd.clinic_id = c.id
		WHERE cd.doctor_id = $1
		ORDER BY c.name, c.id`, doctorID)
	if err != nil {
		return nil, db.Classify(err, "clinics")
	}
	return collectClinics(rows)
}

func (r *repoPG) ListDoctors(ctx context.Context, clinicID int64) ([]Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT u.id, u.name, COALESCE(u.photo, ''), COALESCE(u.consultation_price_cents, 0)
		FROM users u JOIN clinic_doctors cd ON cd.doctor_id = u.id
		WHERE cd.clinic_id = $1 AND u.is_doctor
		ORDER BY u.name, u.id`, clinicID)
	if err != nil {
		return nil, db.Classify(err, "clinic doctors")
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Photo, &d.ConsultationPriceCents); err != nil {
			return nil, db.Classify(err, "clinic doctors")
		}
		doctors = append(doctors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "clinic doctors")
	}
	return doctors, nil
}

func (r *repoPG) ReplaceDoctorClinics(ctx context.Context, doctorID int64, clinicIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinic_doctors WHERE doctor_id = $1`, doctorID); err != nil {
			return db.Classify(err, "clinic doctors")
		}
		for _, clinicID := range clinicIDs {
			if _, err := r.conn(ctx).Exec(ctx,
				`INSERT INTO clinic_doctors (clinic_id, doctor_id) VALUES ($1, $2)`, clinicID, doctorID); err != nil {
				return db.Classify(err, "clinic")
			}
		}
		return nil
	})
}

func collectClinics(rows pgx.Rows) ([]*Clinic, error) {
	defer rows.Close()
	var items []*Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, db.Classify(err, "clinics")
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "clinics")
	}
	return items, nil
}
