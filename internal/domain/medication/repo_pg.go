package medication

import (
	"context"
	"strconv"

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

const medCols = `id, name, price_cents, created_at, updated_at`

func scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	if err := row.Scan(&m.ID, &m.Name, &m.PriceCents, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Medication, error) {
	m, err := scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medications WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "medication")
	}
	return m, nil
}

func (r *repoPG) List(ctx context.Context, name string, limit, offset int) ([]*Medication, int, error) {
	where := ``
	args := []interface{}{}
	if name != "" {
		where = ` WHERE name ILIKE $1`
		args = append(args, "%"+name+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medications`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "medications")
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications`+where+
		` ORDER BY name, id LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2), args...)
	if err != nil {
		return nil, 0, db.Classify(err, "medications")
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications ORDER BY name, id`)
	if err != nil {
		return nil, db.Classify(err, "medications")
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Medication, error) {
	defer rows.Close()
	var items []*Medication
	for rows.Next() {
		m, err := scanMed(rows)
		if err != nil {
			return nil, db.Classify(err, "medications")
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "medications")
	}
	return items, nil
}
