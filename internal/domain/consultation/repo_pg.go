package consultation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
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

const consultationCols = `id, patient_id, doctor_id, clinic_id, date, status, description,
	COALESCE(diagnosis, ''), consultation_price_cents, medicines_price_cents, total_price_cents,
	created_at, updated_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.ClinicID, &c.Date, &c.Status, &c.Description,
		&c.Diagnosis, &c.ConsultationPriceCents, &c.MedicinesPriceCents, &c.TotalPriceCents,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repoPG) Create(ctx context.Context, c *Consultation) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consultations (patient_id, doctor_id, clinic_id, date, status, description,
			consultation_price_cents, medicines_price_cents, total_price_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		c.PatientID, c.DoctorID, c.ClinicID, c.Date, c.Status, c.Description,
		c.ConsultationPriceCents, c.MedicinesPriceCents, c.TotalPriceCents,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return db.Classify(err, "consultation")
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "consultation")
	}
	return c, nil
}

func (r *repoPG) GetForUpdate(ctx context.Context, id int64) (*Consultation, error) {
	c, err := scanConsultation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, db.Classify(err, "consultation")
	}
	return c, nil
}

func (r *repoPG) GetNames(ctx context.Context, id int64) (Names, error) {
	var n Names
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.name, COALESCE(p.photo, ''), d.name, COALESCE(d.photo, ''), cl.name
		FROM consultations c
		JOIN users p ON p.id = c.patient_id
		JOIN users d ON d.id = c.doctor_id
		JOIN clinics cl ON cl.id = c.clinic_id
		WHERE c.id = $1`, id,
	).Scan(&n.PatientName, &n.PatientPhoto, &n.DoctorName, &n.DoctorPhoto, &n.ClinicName)
	if err != nil {
		return Names{}, db.Classify(err, "consultation")
	}
	return n, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Summary, int, error) {
	return r.listSummaries(ctx, "patient_id", "doctor_id", patientID, limit, offset)
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]Summary, int, error) {
	return r.listSummaries(ctx, "doctor_id", "patient_id", doctorID, limit, offset)
}

// listSummaries lists the consultations where ownerCol matches userID,
// joining the user on the other side as the counterpart. Both column names
// are fixed by the callers above.
func (r *repoPG) listSummaries(ctx context.Context, ownerCol, counterpartCol string, userID int64, limit, offset int) ([]Summary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM consultations WHERE `+ownerCol+` = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.Classify(err, "consultations")
	}

	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`
		SELECT c.id, c.date, c.status, c.description, cl.name, u.id, u.name, COALESCE(u.photo, ''), c.total_price_cents
		FROM consultations c
		JOIN users u ON u.id = c.%s
		JOIN clinics cl ON cl.id = c.clinic_id
		WHERE c.%s = $1
		ORDER BY c.date DESC, c.id DESC
		LIMIT $2 OFFSET $3`, counterpartCol, ownerCol), userID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(err, "consultations")
	}
	defer rows.Close()

	items := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Date, &s.Status, &s.Description, &s.ClinicName,
			&s.CounterpartID, &s.CounterpartName, &s.CounterpartPhoto, &s.TotalPriceCents); err != nil {
			return nil, 0, db.Classify(err, "consultations")
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err, "consultations")
	}
	return items, total, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultations SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return db.Classify(err, "consultation")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM consultations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return db.Classify(err, "consultation")
		}
		if !exists {
			return apperror.NotFound("consultation")
		}
		return fmt.Errorf("consultation %d is no longer %s: %w", id, from, apperror.ErrInvalidTransition)
	}
	return nil
}

func (r *repoPG) UpdateDiagnosis(ctx context.Context, id int64, diagnosis string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultations SET diagnosis = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $1`, id, diagnosis)
	if err != nil {
		return db.Classify(err, "consultation")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("consultation")
	}
	return nil
}

func (r *repoPG) ListPrescriptions(ctx context.Context, consultationID int64) ([]PrescriptionLine, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT p.id, p.consultation_id, p.medicine_id, p.quantity, p.unit_price_cents, p.instruction,
			p.created_at, p.updated_at, m.name
		FROM prescriptions p JOIN medications m ON m.id = p.medicine_id
		WHERE p.consultation_id = $1
		ORDER BY p.id`, consultationID)
	if err != nil {
		return nil, db.Classify(err, "prescriptions")
	}
	defer rows.Close()

	lines := []PrescriptionLine{}
	for rows.Next() {
		var l PrescriptionLine
		if err := rows.Scan(&l.ID, &l.ConsultationID, &l.MedicineID, &l.Quantity, &l.UnitPriceCents,
			&l.Instruction, &l.CreatedAt, &l.UpdatedAt, &l.MedicineName); err != nil {
			return nil, db.Classify(err, "prescriptions")
		}
		l.fill()
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err, "prescriptions")
	}
	return lines, nil
}

// Ledger storage.

func (r *repoPG) LockMoney(ctx context.Context, consultationID int64) (Money, error) {
	var m Money
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT consultation_price_cents, medicines_price_cents, total_price_cents
		FROM consultations WHERE id = $1 FOR UPDATE`, consultationID,
	).Scan(&m.ConsultationPriceCents, &m.MedicinesPriceCents, &m.TotalPriceCents)
	if err != nil {
		return Money{}, db.Classify(err, "consultation")
	}
	return m, nil
}

func (r *repoPG) SaveMoney(ctx context.Context, consultationID int64, m Money) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE consultations
		SET medicines_price_cents = $2, total_price_cents = $3, updated_at = NOW()
		WHERE id = $1`, consultationID, m.MedicinesPriceCents, m.TotalPriceCents)
	if err != nil {
		return db.Classify(err, "consultation")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("consultation")
	}
	return nil
}

const prescriptionCols = `id, consultation_id, medicine_id, quantity, unit_price_cents, instruction, created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	if err := row.Scan(&p.ID, &p.ConsultationID, &p.MedicineID, &p.Quantity, &p.UnitPriceCents,
		&p.Instruction, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) CreatePrescription(ctx context.Context, p *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (consultation_id, medicine_id, quantity, unit_price_cents, instruction)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		p.ConsultationID, p.MedicineID, p.Quantity, p.UnitPriceCents, p.Instruction,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return db.Classify(err, "prescription")
}

func (r *repoPG) GetPrescription(ctx context.Context, id int64) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
	if err != nil {
		return nil, db.Classify(err, "prescription")
	}
	return p, nil
}

func (r *repoPG) UpdatePrescription(ctx context.Context, p *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescriptions
		SET medicine_id = $2, quantity = $3, unit_price_cents = $4, instruction = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.MedicineID, p.Quantity, p.UnitPriceCents, p.Instruction,
	).Scan(&p.UpdatedAt)
	return db.Classify(err, "prescription")
}

func (r *repoPG) DeletePrescription(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return db.Classify(err, "prescription")
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("prescription")
	}
	return nil
}
