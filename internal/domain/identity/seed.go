package identity

import (
	"context"
	"fmt"

	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/auth"
)

// DemoPassword is the password of the seeded demo accounts.
const DemoPassword = "password"

// SeedResult reports what Seed created.
type SeedResult struct {
	Users    int
	Patients int
}

// Seed loads the demo accounts and patients. It is idempotent: rows that
// already exist (by username or patient code) are left untouched.
func Seed(ctx context.Context, svc *Service) (SeedResult, error) {
	var res SeedResult

	users := []*User{
		{Username: "doctor", Name: "Dr. Sarah Chen", Role: auth.RoleDoctor},
		{Username: "patient", Name: "Emma Wilson", Role: auth.RolePatient},
	}
	for _, u := range users {
		err := svc.CreateUser(ctx, u, DemoPassword)
		switch {
		case err == nil:
			res.Users++
		case apperr.IsConflict(err):
		default:
			return res, fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}

	owner, err := svc.GetUserByUsername(ctx, "patient")
	if err != nil {
		return res, fmt.Errorf("seed: resolve patient account: %w", err)
	}

	patients := []*Patient{
		{PatientCode: "P-2023-0456", Name: "Emma Wilson", DateOfBirth: "1989-05-12", Gender: "Female", UserID: &owner.ID},
		{PatientCode: "P-2023-0421", Name: "James Rodriguez", DateOfBirth: "1978-09-23", Gender: "Male"},
		{PatientCode: "P-2023-0389", Name: "Sophia Chen", DateOfBirth: "1995-02-15", Gender: "Female"},
	}
	for _, p := range patients {
		err := svc.CreatePatient(ctx, p)
		switch {
		case err == nil:
			res.Patients++
		case apperr.IsConflict(err):
		default:
			return res, fmt.Errorf("seed patient %s: %w", p.PatientCode, err)
		}
	}
	return res, nil
}
