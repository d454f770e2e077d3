package identity

import "time"

// User is an account that can sign in. PasswordHash is a bcrypt hash and is
// never serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Patient is a person whose records are kept. PatientCode is the business
// identifier (e.g. P-2023-0456), exposed as "patientId" to match the
// client contract. UserID links the patient to their own login, if any.
type Patient struct {
	ID          int64     `json:"id"`
	PatientCode string    `json:"patientId"`
	Name        string    `json:"name"`
	DateOfBirth string    `json:"dateOfBirth"`
	Gender      string    `json:"gender"`
	UserID      *int64    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func clonePatient(p Patient) Patient {
	if p.UserID != nil {
		id := *p.UserID
		p.UserID = &id
	}
	return p
}
