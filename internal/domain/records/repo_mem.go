package records

import (
	"context"
	"time"

	"github.com/ehr/medrecords/internal/platform/docai"
	"github.com/ehr/medrecords/internal/platform/memdb"
)

// -- Medical Record (memory) --

type medicalRecordRepoMem struct {
	t *memdb.Table[MedicalRecord]
}

func NewMemoryMedicalRecordRepo() MedicalRecordRepository {
	return &medicalRecordRepoMem{t: memdb.NewTable("medical record", cloneMedicalRecord)}
}

func (r *medicalRecordRepoMem) Create(_ context.Context, rec *MedicalRecord) error {
	row, err := r.t.Insert(*rec, func(row *MedicalRecord, id int64) {
		row.ID = id
		row.CreatedAt = time.Now().UTC()
		row.UpdatedAt = row.CreatedAt
	})
	if err != nil {
		return err
	}
	*rec = row
	return nil
}

func (r *medicalRecordRepoMem) GetByID(_ context.Context, id int64) (*MedicalRecord, error) {
	rec, err := r.t.Get(id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *medicalRecordRepoMem) ListByPatient(_ context.Context, patientID int64) ([]*MedicalRecord, error) {
	return ptrs(r.t.Filter(func(m MedicalRecord) bool { return m.PatientID == patientID })), nil
}

func (r *medicalRecordRepoMem) SetSummary(_ context.Context, id int64, summary string) (*MedicalRecord, error) {
	rec, err := r.t.Update(id, func(row *MedicalRecord) error {
		row.Summary = &summary
		row.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *medicalRecordRepoMem) MarkVerified(_ context.Context, id int64, hash string) (*MedicalRecord, bool, error) {
	won := false
	rec, err := r.t.Update(id, func(row *MedicalRecord) error {
		if row.IsVerified {
			return nil
		}
		row.IsVerified = true
		row.BlockchainHash = &hash
		row.UpdatedAt = time.Now().UTC()
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &rec, won, nil
}

// -- Prescription (memory) --

type prescriptionRepoMem struct {
	t *memdb.Table[Prescription]
}

func NewMemoryPrescriptionRepo() PrescriptionRepository {
	t := memdb.NewTable("prescription", clonePrescription).
		Unique("prescriptionId", func(p Prescription) (string, bool) { return p.PrescriptionCode, true })
	return &prescriptionRepoMem{t: t}
}

func (r *prescriptionRepoMem) Create(_ context.Context, p *Prescription) error {
	row, err := r.t.Insert(*p, func(row *Prescription, id int64) {
		row.ID = id
		row.ScannedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	*p = row
	return nil
}

func (r *prescriptionRepoMem) GetByID(_ context.Context, id int64) (*Prescription, error) {
	p, err := r.t.Get(id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *prescriptionRepoMem) ListByPatient(_ context.Context, patientID int64) ([]*Prescription, error) {
	return ptrs(r.t.Filter(func(p Prescription) bool { return p.PatientID == patientID })), nil
}

func (r *prescriptionRepoMem) ListRecent(_ context.Context, n int) ([]*Prescription, error) {
	return ptrs(r.t.Recent(n, func(p Prescription) time.Time { return p.ScannedAt })), nil
}

func (r *prescriptionRepoMem) SetExtraction(_ context.Context, id int64, text string, meds []docai.Medication) (*Prescription, error) {
	p, err := r.t.Update(id, func(row *Prescription) error {
		row.ExtractedText = &text
		row.Medications = meds
		row.IsProcessed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// -- Surgery Document (memory) --

type surgeryDocumentRepoMem struct {
	t *memdb.Table[SurgeryDocument]
}

func NewMemorySurgeryDocumentRepo() SurgeryDocumentRepository {
	return &surgeryDocumentRepoMem{t: memdb.NewTable("surgery document", cloneSurgeryDocument)}
}

func (r *surgeryDocumentRepoMem) Create(_ context.Context, d *SurgeryDocument) error {
	row, err := r.t.Insert(*d, func(row *SurgeryDocument, id int64) {
		row.ID = id
		row.CreatedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}
	*d = row
	return nil
}

func (r *surgeryDocumentRepoMem) GetByID(_ context.Context, id int64) (*SurgeryDocument, error) {
	d, err := r.t.Get(id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *surgeryDocumentRepoMem) ListByPatient(_ context.Context, patientID int64) ([]*SurgeryDocument, error) {
	return ptrs(r.t.Filter(func(d SurgeryDocument) bool { return d.PatientID == patientID })), nil
}

func ptrs[T any](rows []T) []*T {
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}
