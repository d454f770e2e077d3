package identity

import "context"

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	GetByPatientCode(ctx context.Context, code string) (*Patient, error)
	GetByUserID(ctx context.Context, userID int64) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
	ListRecent(ctx context.Context, n int) ([]*Patient, error)
}
