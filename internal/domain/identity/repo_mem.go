package identity

import (
	"context"
	"strconv"
	"time"

	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/memdb"
)

// -- User (memory) --

type userRepoMem struct {
	t *memdb.Table[User]
}

func NewMemoryUserRepo() UserRepository {
	t := memdb.NewTable[User]("user", nil).
		Unique("username", func(u User) (string, bool) { return u.Username, true })
	return &userRepoMem{t: t}
}

func (r *userRepoMem) Create(_ context.Context, u *User) error {
	row, err := r.t.Insert(*u, func(row *User, id int64) {
		row.ID = id
		row.CreatedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	*u = row
	return nil
}

func (r *userRepoMem) GetByID(_ context.Context, id int64) (*User, error) {
	u, err := r.t.Get(id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoMem) GetByUsername(_ context.Context, username string) (*User, error) {
	u, ok := r.t.LookupUnique("username", username)
	if !ok {
		return nil, apperr.NotFound("user", username)
	}
	return &u, nil
}

// -- Patient (memory) --

type patientRepoMem struct {
	t *memdb.Table[Patient]
}

func NewMemoryPatientRepo() PatientRepository {
	t := memdb.NewTable("patient", clonePatient).
		Unique("patientId", func(p Patient) (string, bool) { return p.PatientCode, true }).
		Unique("userId", func(p Patient) (string, bool) {
			if p.UserID == nil {
				return "", false
			}
			return strconv.FormatInt(*p.UserID, 10), true
		})
	return &patientRepoMem{t: t}
}

func (r *patientRepoMem) Create(_ context.Context, p *Patient) error {
	row, err := r.t.Insert(*p, func(row *Patient, id int64) {
		row.ID = id
		row.CreatedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	*p = row
	return nil
}

func (r *patientRepoMem) GetByID(_ context.Context, id int64) (*Patient, error) {
	p, err := r.t.Get(id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoMem) GetByPatientCode(_ context.Context, code string) (*Patient, error) {
	p, ok := r.t.LookupUnique("patientId", code)
	if !ok {
		return nil, apperr.NotFound("patient", code)
	}
	return &p, nil
}

func (r *patientRepoMem) GetByUserID(_ context.Context, userID int64) (*Patient, error) {
	p, ok := r.t.LookupUnique("userId", strconv.FormatInt(userID, 10))
	if !ok {
		return nil, apperr.NotFound("patient for user", userID)
	}
	return &p, nil
}

func (r *patientRepoMem) List(_ context.Context) ([]*Patient, error) {
	return ptrs(r.t.All()), nil
}

func (r *patientRepoMem) ListRecent(_ context.Context, n int) ([]*Patient, error) {
	return ptrs(r.t.Recent(n, func(p Patient) time.Time { return p.CreatedAt })), nil
}

func ptrs[T any](rows []T) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}
