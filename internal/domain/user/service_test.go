package user

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lightweightcoder/telehealth-app/internal/domain/clinic"
	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
	"github.com/lightweightcoder/telehealth-app/internal/platform/blobstore"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

// -- Mock Repositories --

type mockUserRepo struct {
	mu        sync.Mutex
	users     map[int64]*User
	nextID    int64
	failWrite error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: map[int64]*User{
		1: {ID: 1, Name: "Albert Goh", Email: "doctor1@gmail.com", Password: "doctor1", IsDoctor: true,
			DoctorRegistrationNumber: "1000001", Photo: "doctor1.png", Allergies: "panadol",
			CreditCardNumber: "1234567891011", BankNumber: "1000001", ConsultationPriceCents: 1500},
		8: {ID: 8, Name: "Henry Park", Email: "patient1@gmail.com", Password: "patient1",
			Allergies: "panadol", CreditCardNumber: "1234567891011"},
	}, nextID: 100}
}

func (m *mockUserRepo) FindByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user")
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return apperror.Invalid("user already exists")
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	if _, ok := m.users[u.ID]; !ok {
		return apperror.NotFound("user")
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

type mockClinics struct {
	links map[int64][]int64
	fail  error
}

func (m *mockClinics) ClinicsForDoctor(_ context.Context, doctorID int64) ([]*clinic.Clinic, error) {
	var out []*clinic.Clinic
	for _, id := range m.links[doctorID] {
		out = append(out, &clinic.Clinic{ID: id})
	}
	return out, nil
}

func (m *mockClinics) ReplaceDoctorClinics(_ context.Context, doctorID int64, clinicIDs []int64) error {
	if m.fail != nil {
		return m.fail
	}
	m.links[doctorID] = append([]int64(nil), clinicIDs...)
	return nil
}

// fakeTx runs fn directly and counts units of work.
type fakeTx struct{ calls int }

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	return fn(ctx)
}

type testDeps struct {
	users   *mockUserRepo
	clinics *mockClinics
	photos  *blobstore.InMemoryStore
	tx      *fakeTx
}

func newTestService(t *testing.T) (*Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		users:   newMockUserRepo(),
		clinics: &mockClinics{links: map[int64][]int64{1: {1}}},
		photos:  blobstore.NewInMemoryStore(1 << 20),
		tx:      &fakeTx{},
	}
	passwords, err := auth.NewPasswordVerifier("plain")
	if err != nil {
		t.Fatalf("NewPasswordVerifier: %v", err)
	}
	svc := NewService(deps.users, deps.clinics, passwords, deps.photos, deps.tx, zerolog.Nop())
	return svc, deps
}

func TestService_Login(t *testing.T) {
	svc, _ := newTestService(t)

	u, err := svc.Login(context.Background(), " Doctor1@Gmail.com ", "doctor1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != 1 || !u.IsDoctor {
		t.Fatalf("unexpected user %+v", u)
	}

	for _, tc := range []struct{ email, password string }{
		{"doctor1@gmail.com", "wrong"},
		{"nobody@gmail.com", "doctor1"},
		{"", ""},
	} {
		if _, err := svc.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q): expected ErrInvalidCredentials, got %v", tc.email, err)
		}
	}
}

func TestService_SignupPatient(t *testing.T) {
	svc, deps := newTestService(t)

	u, err := svc.Signup(context.Background(), SignupInput{
		Name: "Kim Lee", Email: "Kim@Example.com", Password: "secret", Allergies: "none",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == 0 || u.Email != "kim@example.com" || u.IsDoctor {
		t.Fatalf("unexpected user %+v", u)
	}
	if deps.tx.calls != 1 {
		t.Errorf("expected one transaction, got %d", deps.tx.calls)
	}
	if _, ok := deps.clinics.links[u.ID]; ok {
		t.Error("patients must not get clinic links")
	}
}

func TestService_SignupDoctor(t *testing.T) {
	svc, deps := newTestService(t)

	u, err := svc.Signup(context.Background(), SignupInput{
		Name: "Dr Who", Email: "who@example.com", Password: "tardis", IsDoctor: true,
		DoctorRegistrationNumber: "2000001", BankNumber: "99", ConsultationPrice: "25.50",
		ClinicIDs: []int64{1, 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ConsultationPriceCents != 2550 {
		t.Errorf("expected 2550 cents, got %d", u.ConsultationPriceCents)
	}
	if got := deps.clinics.links[u.ID]; len(got) != 2 {
		t.Errorf("expected 2 clinic links, got %v", got)
	}
}

func TestService_SignupValidation(t *testing.T) {
	doctor := func(mut func(*SignupInput)) SignupInput {
		in := SignupInput{
			Name: "Dr Who", Email: "who@example.com", Password: "tardis", IsDoctor: true,
			DoctorRegistrationNumber: "2000001", BankNumber: "99", ConsultationPrice: "20",
			ClinicIDs: []int64{1},
		}
		mut(&in)
		return in
	}
	tests := []struct {
		name string
		in   SignupInput
	}{
		{"missing name", doctor(func(in *SignupInput) { in.Name = " " })},
		{"bad email", doctor(func(in *SignupInput) { in.Email = "not-an-email" })},
		{"missing password", doctor(func(in *SignupInput) { in.Password = "" })},
		{"missing registration", doctor(func(in *SignupInput) { in.DoctorRegistrationNumber = "" })},
		{"missing bank", doctor(func(in *SignupInput) { in.BankNumber = "" })},
		{"zero price", doctor(func(in *SignupInput) { in.ConsultationPrice = "0" })},
		{"bad price", doctor(func(in *SignupInput) { in.ConsultationPrice = "1.234" })},
		{"no clinics", doctor(func(in *SignupInput) { in.ClinicIDs = nil })},
		{"duplicate email", doctor(func(in *SignupInput) { in.Email = "PATIENT1@gmail.com" })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			if _, err := svc.Signup(context.Background(), tt.in); !errors.Is(err, apperror.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestService_SignupRollsBackOnClinicFailure(t *testing.T) {
	svc, deps := newTestService(t)
	deps.clinics.fail = apperror.NotFound("clinic reference")

	_, err := svc.Signup(context.Background(), SignupInput{
		Name: "Dr Who", Email: "who@example.com", Password: "tardis", IsDoctor: true,
		DoctorRegistrationNumber: "2000001", BankNumber: "99", ConsultationPrice: "20",
		ClinicIDs: []int64{42},
	})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_FindSessionUser(t *testing.T) {
	svc, _ := newTestService(t)

	var dir auth.UserDirectory = svc
	u, err := dir.FindSessionUser(context.Background(), 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Name != "Henry Park" || u.IsDoctor {
		t.Fatalf("unexpected session user %+v", u)
	}
	if _, err := dir.FindSessionUser(context.Background(), 404); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_GetProfile(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.GetProfile(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Photo != "/profile-photos/doctor1.png" {
		t.Errorf("expected normalized photo, got %s", p.Photo)
	}
	if p.CardLast4 != "1011" {
		t.Errorf("expected card last4 1011, got %s", p.CardLast4)
	}
	if p.ConsultationPrice != "15.00" {
		t.Errorf("expected 15.00, got %s", p.ConsultationPrice)
	}
	if len(p.Clinics) != 1 {
		t.Errorf("expected 1 clinic, got %d", len(p.Clinics))
	}

	patient, _ := svc.GetProfile(context.Background(), 8)
	if patient.Photo != auth.DefaultPhoto || patient.Clinics != nil {
		t.Errorf("unexpected patient profile %+v", patient)
	}
}

func TestService_UpdateProfileReplacesClinics(t *testing.T) {
	svc, deps := newTestService(t)
	deps.clinics.links[1] = []int64{1, 2, 3}

	p, err := svc.UpdateProfile(context.Background(), 1, ProfileInput{
		Name: "Albert G", ConsultationPrice: "18", ClinicIDs: []int64{4},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Albert G" || p.ConsultationPriceCents != 1800 {
		t.Fatalf("unexpected profile %+v", p)
	}
	if got := deps.clinics.links[1]; len(got) != 1 || got[0] != 4 {
		t.Fatalf("expected clinic list replaced with [4], got %v", got)
	}
	if deps.users.users[1].Photo != "doctor1.png" {
		t.Error("stored photo must not be rewritten to its display form")
	}
}

func TestService_UpdateProfileKeepsClinicsWhenOmitted(t *testing.T) {
	svc, deps := newTestService(t)
	deps.clinics.links[1] = []int64{1, 2}

	if _, err := svc.UpdateProfile(context.Background(), 1, ProfileInput{Allergies: "fur"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deps.clinics.links[1]) != 2 {
		t.Fatalf("expected clinics untouched, got %v", deps.clinics.links[1])
	}
	if _, err := svc.UpdateProfile(context.Background(), 1, ProfileInput{ClinicIDs: []int64{}}, nil); !errors.Is(err, apperror.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty clinic list, got %v", err)
	}
}

func TestService_UpdateProfilePhoto(t *testing.T) {
	svc, deps := newTestService(t)

	p, err := svc.UpdateProfile(context.Background(), 8, ProfileInput{},
		&Photo{FileName: "me.png", Content: bytes.NewReader(pngBytes)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(p.Photo, blobstore.PublicPrefix) {
		t.Fatalf("expected photo under %s, got %s", blobstore.PublicPrefix, p.Photo)
	}
	first := deps.users.users[8].Photo
	if deps.photos.Len() != 1 {
		t.Fatalf("expected 1 stored photo, got %d", deps.photos.Len())
	}

	if _, err := svc.UpdateProfile(context.Background(), 8, ProfileInput{},
		&Photo{FileName: "again.png", Content: bytes.NewReader(pngBytes)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.users.users[8].Photo == first {
		t.Fatal("expected photo reference to change")
	}
	if deps.photos.Len() != 1 {
		t.Fatalf("expected previous photo removed, got %d stored", deps.photos.Len())
	}
}

func TestService_UpdateProfilePhotoRejected(t *testing.T) {
	svc, deps := newTestService(t)

	_, err := svc.UpdateProfile(context.Background(), 8, ProfileInput{},
		&Photo{FileName: "notes.txt", Content: strings.NewReader("plain text")})
	if !errors.Is(err, apperror.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if deps.photos.Len() != 0 {
		t.Fatal("rejected upload must not be stored")
	}
}

func TestService_UpdateProfileFailureDropsNewPhoto(t *testing.T) {
	svc, deps := newTestService(t)
	deps.users.failWrite = apperror.Unavailable("update user", errors.New("conn reset"))

	_, err := svc.UpdateProfile(context.Background(), 8, ProfileInput{},
		&Photo{FileName: "me.png", Content: bytes.NewReader(pngBytes)})
	if !errors.Is(err, apperror.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if deps.photos.Len() != 0 {
		t.Fatal("photo of a failed update must be removed")
	}
}
