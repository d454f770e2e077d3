package store

import (
	"context"
	"testing"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/domain/identity"
	"github.com/ehr/medrecords/internal/domain/records"
	"github.com/ehr/medrecords/internal/platform/apperr"
)

func TestNewMemory_TablesAreIndependent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	p := &identity.Patient{PatientCode: "P-1", Name: "A", DateOfBirth: "2000-01-01", Gender: "F"}
	if err := s.Patients.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	r := &records.MedicalRecord{PatientID: p.ID, RecordType: "Lab", Content: []byte(`{}`), CreatedBy: 1}
	if err := s.MedicalRecords.Create(ctx, r); err != nil {
		t.Fatal(err)
	}
	if p.ID != 1 || r.ID != 1 {
		t.Errorf("each table should start its own sequence, got patient %d record %d", p.ID, r.ID)
	}

	if err := s.Tx.InTx(ctx, func(ctx context.Context) error {
		return s.AccessLogs.Append(ctx, &access.AccessLog{UserID: 1, RecordType: access.RecordTypeMedicalRecord, Action: access.ActionCreate})
	}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.AccessLogs.Count(ctx); n != 1 {
		t.Errorf("expected 1 log entry, got %d", n)
	}

	if _, err := s.Users.GetByID(ctx, 1); !apperr.IsNotFound(err) {
		t.Errorf("expected empty users table, got %v", err)
	}
}

func TestNewMemory_UniqueBusinessIDs(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rx := func() *records.Prescription {
		return &records.Prescription{PatientID: 1, PrescriptionCode: "Rx-123456", ImageURL: "blob://x", CreatedBy: 1}
	}
	if err := s.Prescriptions.Create(ctx, rx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Prescriptions.Create(ctx, rx()); !apperr.IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
	all, _ := s.Prescriptions.ListByPatient(ctx, 1)
	if len(all) != 1 {
		t.Errorf("a rejected create must not change the table, have %d rows", len(all))
	}
}
