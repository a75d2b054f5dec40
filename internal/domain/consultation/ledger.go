package consultation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/domain/medication"
	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/middleware"
)

// LedgerStore is the storage the ledger mutates. LockMoney must lock the
// consultation row until the surrounding transaction ends.
type LedgerStore interface {
	LockMoney(ctx context.Context, consultationID int64) (Money, error)
	SaveMoney(ctx context.Context, consultationID int64, m Money) error
	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescription(ctx context.Context, id int64) (*Prescription, error)
	UpdatePrescription(ctx context.Context, p *Prescription) error
	DeletePrescription(ctx context.Context, id int64) error
}

// PriceLookup resolves a medication's current price.
type PriceLookup interface {
	GetByID(ctx context.Context, id int64) (*medication.Medication, error)
}

// TxRunner runs fn in one database transaction. Nested calls join the
// outer transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Ledger keeps a consultation's medicines and total prices in step with its
// prescriptions. Every operation locks the consultation row, applies the
// change and writes the prescription and money fields in one transaction.
type Ledger struct {
	store  LedgerStore
	meds   PriceLookup
	tx     TxRunner
	logger zerolog.Logger
}

func NewLedger(store LedgerStore, meds PriceLookup, tx TxRunner, logger zerolog.Logger) *Ledger {
	return &Ledger{store: store, meds: meds, tx: tx, logger: logger}
}

// AddPrescription prescribes quantity units of a medication and adds the
// line total to the consultation.
func (l *Ledger) AddPrescription(ctx context.Context, consultationID, medicineID int64, quantity int, instruction string) (*Prescription, Money, error) {
	if err := validateLine(medicineID, quantity); err != nil {
		return nil, Money{}, err
	}
	p := &Prescription{
		ConsultationID: consultationID,
		MedicineID:     medicineID,
		Quantity:       quantity,
		Instruction:    middleware.SanitizeString(instruction),
	}

	var next Money
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := l.store.LockMoney(ctx, consultationID)
		if err != nil {
			return err
		}
		med, err := l.meds.GetByID(ctx, medicineID)
		if err != nil {
			return err
		}
		p.UnitPriceCents = med.PriceCents

		next = current.withMedicines(p.Cost())
		if err := checkBalance(consultationID, next); err != nil {
			return err
		}
		if err := l.store.CreatePrescription(ctx, p); err != nil {
			return err
		}
		return l.store.SaveMoney(ctx, consultationID, next)
	})
	if err != nil {
		return nil, Money{}, err
	}

	l.logger.Debug().
		Int64("consultation_id", consultationID).
		Int64("prescription_id", p.ID).
		Int64("medicines_price_cents", next.MedicinesPriceCents).
		Msg("prescription added")
	return p, next, nil
}

// UpdatePrescription replaces a line's medication, quantity and instruction,
// moving the consultation's medicines price by the difference between the
// new and old line totals. Keeping the same medication keeps the unit price
// it was first prescribed at.
func (l *Ledger) UpdatePrescription(ctx context.Context, prescriptionID, medicineID int64, quantity int, instruction string) (Money, error) {
	if err := validateLine(medicineID, quantity); err != nil {
		return Money{}, err
	}
	instruction = middleware.SanitizeString(instruction)

	var next Money
	var consultationID int64
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := l.store.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		consultationID = existing.ConsultationID
		current, err := l.store.LockMoney(ctx, consultationID)
		if err != nil {
			return err
		}
		// Re-read under the lock so a concurrent update is not lost.
		if existing, err = l.store.GetPrescription(ctx, prescriptionID); err != nil {
			return err
		}

		updated := *existing
		updated.MedicineID = medicineID
		updated.Quantity = quantity
		updated.Instruction = instruction
		if medicineID != existing.MedicineID {
			med, err := l.meds.GetByID(ctx, medicineID)
			if err != nil {
				return err
			}
			updated.UnitPriceCents = med.PriceCents
		}

		next = current.withMedicines(updated.Cost() - existing.Cost())
		if err := checkBalance(consultationID, next); err != nil {
			return err
		}
		if err := l.store.UpdatePrescription(ctx, &updated); err != nil {
			return err
		}
		return l.store.SaveMoney(ctx, consultationID, next)
	})
	if err != nil {
		return Money{}, err
	}

	l.logger.Debug().
		Int64("consultation_id", consultationID).
		Int64("prescription_id", prescriptionID).
		Int64("medicines_price_cents", next.MedicinesPriceCents).
		Msg("prescription updated")
	return next, nil
}

// DeletePrescription removes a line and subtracts its total from the
// consultation.
func (l *Ledger) DeletePrescription(ctx context.Context, prescriptionID int64) (Money, error) {
	var next Money
	var consultationID int64
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := l.store.GetPrescription(ctx, prescriptionID)
		if err != nil {
			return err
		}
		consultationID = existing.ConsultationID
		current, err := l.store.LockMoney(ctx, consultationID)
		if err != nil {
			return err
		}
		if existing, err = l.store.GetPrescription(ctx, prescriptionID); err != nil {
			return err
		}

		next = current.withMedicines(-existing.Cost())
		if err := checkBalance(consultationID, next); err != nil {
			return err
		}
		if err := l.store.SaveMoney(ctx, consultationID, next); err != nil {
			return err
		}
		return l.store.DeletePrescription(ctx, prescriptionID)
	})
	if err != nil {
		return Money{}, err
	}

	l.logger.Debug().
		Int64("consultation_id", consultationID).
		Int64("prescription_id", prescriptionID).
		Int64("medicines_price_cents", next.MedicinesPriceCents).
		Msg("prescription deleted")
	return next, nil
}

func validateLine(medicineID int64, quantity int) error {
	if medicineID <= 0 {
		return apperror.Invalid("a medication is required")
	}
	if quantity <= 0 {
		return apperror.Invalid("quantity must be at least 1")
	}
	return nil
}

// checkBalance guards the stored money fields. A failure means the row was
// already inconsistent and the transaction is rolled back.
func checkBalance(consultationID int64, m Money) error {
	if !m.Balanced() || m.MedicinesPriceCents < 0 {
		return apperror.Unavailable(
			fmt.Sprintf("ledger check for consultation %d", consultationID),
			fmt.Errorf("medicines %d total %d fee %d", m.MedicinesPriceCents, m.TotalPriceCents, m.ConsultationPriceCents),
		)
	}
	return nil
}
