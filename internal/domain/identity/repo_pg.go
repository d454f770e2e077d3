package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, username, password_hash, name, role, created_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (username, password_hash, name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		u.Username, u.PasswordHash, u.Name, u.Role,
	).Scan(&u.ID, &u.CreatedAt)
	if _, dup := db.IsUniqueViolation(err); dup {
		return apperr.Conflict("user", "username", u.Username)
	}
	if err != nil {
		return fmt.Errorf("user create: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user", id)
	}
	return u, err
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username = $1`, username))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user", username)
	}
	return u, err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, patient_id, name, date_of_birth, gender, user_id, created_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (patient_id, name, date_of_birth, gender, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		p.PatientCode, p.Name, p.DateOfBirth, p.Gender, p.UserID,
	).Scan(&p.ID, &p.CreatedAt)
	if constraint, dup := db.IsUniqueViolation(err); dup {
		if constraint == "patients_user_id_key" {
			return apperr.Conflict("patient", "userId", *p.UserID)
		}
		return apperr.Conflict("patient", "patientId", p.PatientCode)
	}
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", id)
	}
	return p, err
}

func (r *patientRepoPG) GetByPatientCode(ctx context.Context, code string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, code))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", code)
	}
	return p, err
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE user_id = $1`, userID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient for user", userID)
	}
	return p, err
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	return r.list(ctx, `SELECT `+patientCols+` FROM patients ORDER BY id`)
}

func (r *patientRepoPG) ListRecent(ctx context.Context, n int) ([]*Patient, error) {
	if n <= 0 {
		return []*Patient{}, nil
	}
	return r.list(ctx, `SELECT `+patientCols+` FROM patients ORDER BY created_at DESC, id DESC LIMIT $1`, n)
}

func (r *patientRepoPG) list(ctx context.Context, query string, args ...any) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	out := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.PatientCode, &p.Name, &p.DateOfBirth, &p.Gender, &p.UserID, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
