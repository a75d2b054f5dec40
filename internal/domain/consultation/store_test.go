package consultation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lightweightcoder/telehealth-app/internal/domain/medication"
	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

// memStore is an in-memory Repository. failOn names a method that returns
// a storage error.
type memStore struct {
	mu               sync.Mutex
	consultations    map[int64]*Consultation
	prescriptions    map[int64]*Prescription
	names            map[int64]Names
	medNames         map[int64]string
	nextConsultation int64
	nextPrescription int64
	failOn           string
	locks            int
}

func newMemStore() *memStore {
	return &memStore{
		consultations: map[int64]*Consultation{},
		prescriptions: map[int64]*Prescription{},
		names:         map[int64]Names{},
		medNames:      map[int64]string{},
	}
}

func (s *memStore) fail(method string) error {
	if s.failOn == method {
		return apperror.Unavailable(method, errors.New("connection reset"))
	}
	return nil
}

func (s *memStore) put(c Consultation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consultations[c.ID] = &c
	if c.ID > s.nextConsultation {
		s.nextConsultation = c.ID
	}
}

func (s *memStore) money(id int64) Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consultations[id].Money
}

// snapshot and restore back the rollback of memTx.
func (s *memStore) snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := make(map[int64]Consultation, len(s.consultations))
	for id, c := range s.consultations {
		cs[id] = *c
	}
	ps := make(map[int64]Prescription, len(s.prescriptions))
	for id, p := range s.prescriptions {
		ps[id] = *p
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.consultations = map[int64]*Consultation{}
		for id, c := range cs {
			c := c
			s.consultations[id] = &c
		}
		s.prescriptions = map[int64]*Prescription{}
		for id, p := range ps {
			p := p
			s.prescriptions[id] = &p
		}
	}
}

func (s *memStore) Create(_ context.Context, c *Consultation) error {
	if err := s.fail("Create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConsultation++
	c.ID = s.nextConsultation
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	s.consultations[c.ID] = &stored
	return nil
}

func (s *memStore) GetByID(_ context.Context, id int64) (*Consultation, error) {
	if err := s.fail("GetByID"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[id]
	if !ok {
		return nil, apperror.NotFound("consultation")
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetForUpdate(ctx context.Context, id int64) (*Consultation, error) {
	s.mu.Lock()
	s.locks++
	s.mu.Unlock()
	return s.GetByID(ctx, id)
}

func (s *memStore) GetNames(_ context.Context, id int64) (Names, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consultations[id]; !ok {
		return Names{}, apperror.NotFound("consultation")
	}
	return s.names[id], nil
}

func (s *memStore) list(match func(*Consultation) (int64, bool), limit, offset int) ([]Summary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Summary
	for _, c := range s.consultations {
		counterpart, ok := match(c)
		if !ok {
			continue
		}
		all = append(all, Summary{
			ID:              c.ID,
			Date:            c.Date,
			Status:          c.Status,
			Description:     c.Description,
			CounterpartID:   counterpart,
			CounterpartName: fmt.Sprintf("user %d", counterpart),
			TotalPriceCents: c.TotalPriceCents,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]Summary{}, all[offset:end]...), total, nil
}

func (s *memStore) ListByPatient(_ context.Context, patientID int64, limit, offset int) ([]Summary, int, error) {
	return s.list(func(c *Consultation) (int64, bool) { return c.DoctorID, c.PatientID == patientID }, limit, offset)
}

func (s *memStore) ListByDoctor(_ context.Context, doctorID int64, limit, offset int) ([]Summary, int, error) {
	return s.list(func(c *Consultation) (int64, bool) { return c.PatientID, c.DoctorID == doctorID }, limit, offset)
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, from, to Status) error {
	if err := s.fail("UpdateStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[id]
	if !ok {
		return apperror.NotFound("consultation")
	}
	if c.Status != from {
		return fmt.Errorf("consultation %d is no longer %s: %w", id, from, apperror.ErrInvalidTransition)
	}
	c.Status = to
	return nil
}

func (s *memStore) UpdateDiagnosis(_ context.Context, id int64, diagnosis string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[id]
	if !ok {
		return apperror.NotFound("consultation")
	}
	c.Diagnosis = diagnosis
	return nil
}

func (s *memStore) ListPrescriptions(_ context.Context, consultationID int64) ([]PrescriptionLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := []PrescriptionLine{}
	for _, p := range s.prescriptions {
		if p.ConsultationID != consultationID {
			continue
		}
		l := PrescriptionLine{Prescription: *p, MedicineName: s.medNames[p.MedicineID]}
		l.fill()
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (s *memStore) LockMoney(_ context.Context, consultationID int64) (Money, error) {
	if err := s.fail("LockMoney"); err != nil {
		return Money{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[consultationID]
	if !ok {
		return Money{}, apperror.NotFound("consultation")
	}
	s.locks++
	return c.Money, nil
}

func (s *memStore) SaveMoney(_ context.Context, consultationID int64, m Money) error {
	if err := s.fail("SaveMoney"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consultations[consultationID]
	if !ok {
		return apperror.NotFound("consultation")
	}
	c.Money = m
	return nil
}

func (s *memStore) CreatePrescription(_ context.Context, p *Prescription) error {
	if err := s.fail("CreatePrescription"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPrescription++
	p.ID = s.nextPrescription
	stored := *p
	s.prescriptions[p.ID] = &stored
	return nil
}

func (s *memStore) GetPrescription(_ context.Context, id int64) (*Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return nil, apperror.NotFound("prescription")
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) UpdatePrescription(_ context.Context, p *Prescription) error {
	if err := s.fail("UpdatePrescription"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prescriptions[p.ID]; !ok {
		return apperror.NotFound("prescription")
	}
	stored := *p
	s.prescriptions[p.ID] = &stored
	return nil
}

func (s *memStore) DeletePrescription(_ context.Context, id int64) error {
	if err := s.fail("DeletePrescription"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prescriptions[id]; !ok {
		return apperror.NotFound("prescription")
	}
	delete(s.prescriptions, id)
	return nil
}

type txKey struct{}

// memTx serializes transactions the way a row lock would and rolls the
// store back when fn fails. Nested calls join the outer transaction.
type memTx struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	restore := t.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

type memMeds struct {
	mu   sync.Mutex
	meds map[int64]*medication.Medication
}

func newMemMeds() *memMeds {
	return &memMeds{meds: map[int64]*medication.Medication{
		1: {ID: 1, Name: "Paracetamol", PriceCents: 250},
		2: {ID: 2, Name: "Amoxicillin", PriceCents: 500},
		3: {ID: 3, Name: "Cough Syrup", PriceCents: 850},
	}}
}

func (m *memMeds) GetByID(_ context.Context, id int64) (*medication.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.meds[id]
	if !ok {
		return nil, apperror.NotFound("medication")
	}
	cp := *med
	return &cp, nil
}

func (m *memMeds) setPrice(id, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meds[id].PriceCents = cents
}

func (m *memMeds) Catalogue(_ context.Context) ([]*medication.Medication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*medication.Medication, 0, len(m.meds))
	for _, med := range m.meds {
		cp := *med
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
