package access

import (
	"context"
	"time"

	"github.com/ehr/medrecords/internal/platform/memdb"
)

// -- Access Log (memory) --

type logRepoMem struct {
	t *memdb.Table[AccessLog]
}

func NewMemoryLogRepo() LogRepository {
	return &logRepoMem{t: memdb.NewTable("access log", cloneLog)}
}

func (r *logRepoMem) Append(_ context.Context, l *AccessLog) error {
	row, err := r.t.Insert(*l, func(row *AccessLog, id int64) { row.ID = id })
	if err != nil {
		return err
	}
	*l = row
	return nil
}

func (r *logRepoMem) ListRecent(_ context.Context, n int) ([]*AccessLog, error) {
	rows := r.t.Recent(n, func(l AccessLog) time.Time { return l.Timestamp })
	return ptrs(rows), nil
}

func (r *logRepoMem) Count(_ context.Context) (int64, error) {
	return int64(r.t.Len()), nil
}

// -- Access Permission (memory) --

type permissionRepoMem struct {
	t *memdb.Table[AccessPermission]
}

func NewMemoryPermissionRepo() PermissionRepository {
	return &permissionRepoMem{t: memdb.NewTable[AccessPermission]("access permission", nil)}
}

func (r *permissionRepoMem) Create(_ context.Context, p *AccessPermission) error {
	row, err := r.t.Insert(*p, func(row *AccessPermission, id int64) {
		row.ID = id
		row.CreatedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	*p = row
	return nil
}

func (r *permissionRepoMem) GetByID(_ context.Context, id int64) (*AccessPermission, error) {
	p, err := r.t.Get(id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *permissionRepoMem) ListByPatient(_ context.Context, patientID int64) ([]*AccessPermission, error) {
	return ptrs(r.t.Filter(func(p AccessPermission) bool { return p.PatientID == patientID })), nil
}

func (r *permissionRepoMem) List(_ context.Context) ([]*AccessPermission, error) {
	return ptrs(r.t.All()), nil
}

func (r *permissionRepoMem) SetActive(_ context.Context, id int64, active bool) (*AccessPermission, error) {
	p, err := r.t.Update(id, func(row *AccessPermission) error {
		row.IsActive = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *permissionRepoMem) HasActive(_ context.Context, patientID, userID int64, recordType string) (bool, error) {
	_, ok := r.t.Find(func(p AccessPermission) bool {
		return p.IsActive && p.PatientID == patientID && p.UserID == userID && p.RecordType == recordType
	})
	return ok, nil
}

func ptrs[T any](rows []T) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}
