package records

import (
	"context"

	"github.com/ehr/medrecords/internal/platform/docai"
)

type MedicalRecordRepository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id int64) (*MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*MedicalRecord, error)
	SetSummary(ctx context.Context, id int64, summary string) (*MedicalRecord, error)
	// MarkVerified sets the hash only if the record is still unverified.
	// won reports whether this call did so; either way the stored row is
	// returned.
	MarkVerified(ctx context.Context, id int64, hash string) (r *MedicalRecord, won bool, err error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id int64) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*Prescription, error)
	ListRecent(ctx context.Context, n int) ([]*Prescription, error)
	SetExtraction(ctx context.Context, id int64, text string, meds []docai.Medication) (*Prescription, error)
}

type SurgeryDocumentRepository interface {
	Create(ctx context.Context, d *SurgeryDocument) error
	GetByID(ctx context.Context, id int64) (*SurgeryDocument, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*SurgeryDocument, error)
}
