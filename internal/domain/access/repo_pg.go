package access

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/db"
)

// -- Access Log Repository --

type logRepoPG struct {
	pool *pgxpool.Pool
}

func NewLogRepo(pool *pgxpool.Pool) LogRepository {
	return &logRepoPG{pool: pool}
}

func (r *logRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const logCols = `id, user_id, record_id, record_type, action, timestamp`

func (r *logRepoPG) Append(ctx context.Context, l *AccessLog) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO access_logs (user_id, record_id, record_type, action, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		l.UserID, l.RecordID, l.RecordType, l.Action, l.Timestamp,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("access log append: %w", err)
	}
	return nil
}

func (r *logRepoPG) ListRecent(ctx context.Context, n int) ([]*AccessLog, error) {
	if n <= 0 {
		return []*AccessLog{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+logCols+` FROM access_logs ORDER BY timestamp DESC, id DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("access log list: %w", err)
	}
	defer rows.Close()

	out := []*AccessLog{}
	for rows.Next() {
		var l AccessLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.RecordID, &l.RecordType, &l.Action, &l.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

func (r *logRepoPG) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM access_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("access log count: %w", err)
	}
	return n, nil
}

// -- Access Permission Repository --

type permissionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPermissionRepo(pool *pgxpool.Pool) PermissionRepository {
	return &permissionRepoPG{pool: pool}
}

func (r *permissionRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const permissionCols = `id, patient_id, user_id, record_type, is_active, created_at`

func (r *permissionRepoPG) Create(ctx context.Context, p *AccessPermission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO access_permissions (patient_id, user_id, record_type, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		p.PatientID, p.UserID, p.RecordType, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("access permission create: %w", err)
	}
	return nil
}

func (r *permissionRepoPG) GetByID(ctx context.Context, id int64) (*AccessPermission, error) {
	p, err := scanPermission(r.conn(ctx).QueryRow(ctx, `SELECT `+permissionCols+` FROM access_permissions WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("access permission", id)
	}
	return p, err
}

func (r *permissionRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*AccessPermission, error) {
	return r.list(ctx, `SELECT `+permissionCols+` FROM access_permissions WHERE patient_id = $1 ORDER BY id`, patientID)
}

func (r *permissionRepoPG) List(ctx context.Context) ([]*AccessPermission, error) {
	return r.list(ctx, `SELECT `+permissionCols+` FROM access_permissions ORDER BY id`)
}

func (r *permissionRepoPG) SetActive(ctx context.Context, id int64, active bool) (*AccessPermission, error) {
	p, err := scanPermission(r.conn(ctx).QueryRow(ctx, `
		UPDATE access_permissions SET is_active = $2 WHERE id = $1
		RETURNING `+permissionCols, id, active))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("access permission", id)
	}
	return p, err
}

func (r *permissionRepoPG) HasActive(ctx context.Context, patientID, userID int64, recordType string) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM access_permissions
			WHERE patient_id = $1 AND user_id = $2 AND record_type = $3 AND is_active
		)`, patientID, userID, recordType).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("access permission lookup: %w", err)
	}
	return ok, nil
}

func (r *permissionRepoPG) list(ctx context.Context, query string, args ...any) ([]*AccessPermission, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("access permission list: %w", err)
	}
	defer rows.Close()

	out := []*AccessPermission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPermission(row pgx.Row) (*AccessPermission, error) {
	var p AccessPermission
	if err := row.Scan(&p.ID, &p.PatientID, &p.UserID, &p.RecordType, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
