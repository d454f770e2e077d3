package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/db"
	"github.com/ehr/medrecords/internal/platform/docai"
)

// -- Medical Record Repository --

type medicalRecordRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicalRecordRepo(pool *pgxpool.Pool) MedicalRecordRepository {
	return &medicalRecordRepoPG{pool: pool}
}

func (r *medicalRecordRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const medicalRecordCols = `id, patient_id, record_type, content, summary, file_name, file_type, file_url,
	created_by, created_at, updated_at, is_verified, blockchain_hash`

func (r *medicalRecordRepoPG) Create(ctx context.Context, m *MedicalRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_records (patient_id, record_type, content, summary, file_name, file_type, file_url, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		m.PatientID, m.RecordType, string(m.Content), m.Summary, m.FileName, m.FileType, m.FileURL, m.CreatedBy,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("medical record create: %w", err)
	}
	return nil
}

func (r *medicalRecordRepoPG) GetByID(ctx context.Context, id int64) (*MedicalRecord, error) {
	m, err := scanMedicalRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+medicalRecordCols+` FROM medical_records WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("medical record", id)
	}
	return m, err
}

func (r *medicalRecordRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*MedicalRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medicalRecordCols+` FROM medical_records WHERE patient_id = $1 ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("medical record list: %w", err)
	}
	defer rows.Close()

	out := []*MedicalRecord{}
	for rows.Next() {
		m, err := scanMedicalRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *medicalRecordRepoPG) SetSummary(ctx context.Context, id int64, summary string) (*MedicalRecord, error) {
	m, err := scanMedicalRecord(r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_records SET summary = $2, updated_at = NOW() WHERE id = $1
		RETURNING `+medicalRecordCols, id, summary))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("medical record", id)
	}
	return m, err
}

func (r *medicalRecordRepoPG) MarkVerified(ctx context.Context, id int64, hash string) (*MedicalRecord, bool, error) {
	m, err := scanMedicalRecord(r.conn(ctx).QueryRow(ctx, `
		UPDATE medical_records SET is_verified = TRUE, blockchain_hash = $2, updated_at = NOW()
		WHERE id = $1 AND is_verified = FALSE
		RETURNING `+medicalRecordCols, id, hash))
	if err == nil {
		return m, true, nil
	}
	if !db.IsNoRows(err) {
		return nil, false, fmt.Errorf("medical record verify: %w", err)
	}
	// Either the record does not exist or another caller verified it first.
	m, err = r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return m, false, nil
}

func scanMedicalRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	var content []byte
	if err := row.Scan(&m.ID, &m.PatientID, &m.RecordType, &content, &m.Summary, &m.FileName, &m.FileType, &m.FileURL,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt, &m.IsVerified, &m.BlockchainHash); err != nil {
		return nil, err
	}
	m.Content = content
	return &m, nil
}

// -- Prescription Repository --

type prescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrescriptionRepo(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const prescriptionCols = `id, patient_id, prescription_id, image_url, image_type, extracted_text, medications,
	scanned_at, created_by, is_processed`

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	if p.Medications == nil {
		p.Medications = []docai.Medication{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (patient_id, prescription_id, image_url, image_type, extracted_text, medications, created_by, is_processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, scanned_at`,
		p.PatientID, p.PrescriptionCode, p.ImageURL, p.ImageType, p.ExtractedText, p.Medications, p.CreatedBy, p.IsProcessed,
	).Scan(&p.ID, &p.ScannedAt)
	if _, dup := db.IsUniqueViolation(err); dup {
		return apperr.Conflict("prescription", "prescriptionId", p.PrescriptionCode)
	}
	if err != nil {
		return fmt.Errorf("prescription create: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id int64) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("prescription", id)
	}
	return p, err
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*Prescription, error) {
	return r.list(ctx, `SELECT `+prescriptionCols+` FROM prescriptions WHERE patient_id = $1 ORDER BY id`, patientID)
}

func (r *prescriptionRepoPG) ListRecent(ctx context.Context, n int) ([]*Prescription, error) {
	if n <= 0 {
		return []*Prescription{}, nil
	}
	return r.list(ctx, `SELECT `+prescriptionCols+` FROM prescriptions ORDER BY scanned_at DESC, id DESC LIMIT $1`, n)
}

func (r *prescriptionRepoPG) SetExtraction(ctx context.Context, id int64, text string, meds []docai.Medication) (*Prescription, error) {
	if meds == nil {
		meds = []docai.Medication{}
	}
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `
		UPDATE prescriptions SET extracted_text = $2, medications = $3, is_processed = TRUE WHERE id = $1
		RETURNING `+prescriptionCols, id, text, meds))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("prescription", id)
	}
	return p, err
}

func (r *prescriptionRepoPG) list(ctx context.Context, query string, args ...any) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("prescription list: %w", err)
	}
	defer rows.Close()

	out := []*Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	if err := row.Scan(&p.ID, &p.PatientID, &p.PrescriptionCode, &p.ImageURL, &p.ImageType, &p.ExtractedText, &p.Medications,
		&p.ScannedAt, &p.CreatedBy, &p.IsProcessed); err != nil {
		return nil, err
	}
	if p.Medications == nil {
		p.Medications = []docai.Medication{}
	}
	return &p, nil
}

// -- Surgery Document Repository --

type surgeryDocumentRepoPG struct {
	pool *pgxpool.Pool
}

func NewSurgeryDocumentRepo(pool *pgxpool.Pool) SurgeryDocumentRepository {
	return &surgeryDocumentRepoPG{pool: pool}
}

func (r *surgeryDocumentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const surgeryDocumentCols = `id, patient_id, procedure_type, surgery_date, findings, documentation, created_by, created_at`

func (r *surgeryDocumentRepoPG) Create(ctx context.Context, d *SurgeryDocument) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO surgery_documents (patient_id, procedure_type, surgery_date, findings, documentation, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		d.PatientID, d.ProcedureType, d.SurgeryDate, d.Findings, string(d.Documentation), d.CreatedBy,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("surgery document create: %w", err)
	}
	return nil
}

func (r *surgeryDocumentRepoPG) GetByID(ctx context.Context, id int64) (*SurgeryDocument, error) {
	d, err := scanSurgeryDocument(r.conn(ctx).QueryRow(ctx, `SELECT `+surgeryDocumentCols+` FROM surgery_documents WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("surgery document", id)
	}
	return d, err
}

func (r *surgeryDocumentRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*SurgeryDocument, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+surgeryDocumentCols+` FROM surgery_documents WHERE patient_id = $1 ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("surgery document list: %w", err)
	}
	defer rows.Close()

	out := []*SurgeryDocument{}
	for rows.Next() {
		d, err := scanSurgeryDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanSurgeryDocument(row pgx.Row) (*SurgeryDocument, error) {
	var d SurgeryDocument
	var doc []byte
	if err := row.Scan(&d.ID, &d.PatientID, &d.ProcedureType, &d.SurgeryDate, &d.Findings, &doc, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Documentation = doc
	return &d, nil
}
