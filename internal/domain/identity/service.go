package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/auth"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user or
// a wrong password; the two are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid credentials")

const dateLayout = "2006-01-02"

type Service struct {
	users    UserRepository
	patients PatientRepository
	recorder *access.Recorder
	cost     int
}

func NewService(users UserRepository, patients PatientRepository, recorder *access.Recorder) *Service {
	return &Service{users: users, patients: patients, recorder: recorder, cost: bcrypt.DefaultCost}
}

// -- User --

// CreateUser validates u, hashes password into u.PasswordHash and stores it.
func (s *Service) CreateUser(ctx context.Context, u *User, password string) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Name = strings.TrimSpace(u.Name)
	if u.Role == "" {
		u.Role = auth.RoleDoctor
	}

	var errs errsx.Map
	if u.Username == "" {
		errs.Set("username", "username is required")
	}
	if password == "" {
		errs.Set("password", "password is required")
	}
	if u.Name == "" {
		errs.Set("name", "name is required")
	}
	if u.Role != auth.RoleDoctor && u.Role != auth.RolePatient {
		errs.Set("role", fmt.Sprintf("role must be %q or %q", auth.RoleDoctor, auth.RolePatient))
	}
	if !errs.IsEmpty() {
		return apperr.Validation("user", errs.AsError())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.users.GetByUsername(ctx, username)
}

// Authenticate checks the credentials and records the login in the access
// trail.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if apperr.IsNotFound(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if _, err := s.recorder.Record(ctx, u.ID, nil, access.RecordTypeAuthentication, access.ActionLogin); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	return u, nil
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.PatientCode = strings.TrimSpace(p.PatientCode)
	p.Name = strings.TrimSpace(p.Name)

	var errs errsx.Map
	if p.PatientCode == "" {
		errs.Set("patientId", "patientId is required")
	}
	if p.Name == "" {
		errs.Set("name", "name is required")
	}
	if _, err := time.Parse(dateLayout, p.DateOfBirth); err != nil {
		errs.Set("dateOfBirth", "dateOfBirth must be YYYY-MM-DD")
	}
	if strings.TrimSpace(p.Gender) == "" {
		errs.Set("gender", "gender is required")
	}
	if p.UserID != nil {
		u, err := s.users.GetByID(ctx, *p.UserID)
		switch {
		case apperr.IsNotFound(err):
			errs.Set("userId", "userId does not reference a user")
		case err != nil:
			return err
		case u.Role != auth.RolePatient:
			errs.Set("userId", "linked user must have the patient role")
		}
	}
	if !errs.IsEmpty() {
		return apperr.Validation("patient", errs.AsError())
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByCode(ctx context.Context, code string) (*Patient, error) {
	return s.patients.GetByPatientCode(ctx, code)
}

func (s *Service) GetPatientByUser(ctx context.Context, userID int64) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

func (s *Service) ListPatients(ctx context.Context) ([]*Patient, error) {
	return s.patients.List(ctx)
}

// RecentPatients returns up to n patients, newest first.
func (s *Service) RecentPatients(ctx context.Context, n int) ([]*Patient, error) {
	return s.patients.ListRecent(ctx, n)
}

// -- Directory --

// LookupPatient implements access.Directory.
func (s *Service) LookupPatient(ctx context.Context, id int64) (*access.PatientSummary, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &access.PatientSummary{ID: p.ID, Name: p.Name, PatientCode: p.PatientCode, OwnerUserID: p.UserID}, nil
}

// LookupUserName implements access.Directory.
func (s *Service) LookupUserName(ctx context.Context, id int64) (string, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

var _ access.Directory = (*Service)(nil)
