package access

import "context"

// LogRepository stores access log entries. It has no update or delete.
type LogRepository interface {
	Append(ctx context.Context, l *AccessLog) error
	ListRecent(ctx context.Context, n int) ([]*AccessLog, error)
	Count(ctx context.Context) (int64, error)
}

type PermissionRepository interface {
	Create(ctx context.Context, p *AccessPermission) error
	GetByID(ctx context.Context, id int64) (*AccessPermission, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*AccessPermission, error)
	List(ctx context.Context) ([]*AccessPermission, error)
	SetActive(ctx context.Context, id int64, active bool) (*AccessPermission, error)
	HasActive(ctx context.Context, patientID, userID int64, recordType string) (bool, error)
}

// Directory resolves patients and users for authorization and display.
type Directory interface {
	LookupPatient(ctx context.Context, id int64) (*PatientSummary, error)
	LookupUserName(ctx context.Context, id int64) (string, error)
}
