// Package store assembles the entity repositories behind one value so the
// rest of the server can switch between the memory and postgres backends
// without knowing which one is in use.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/domain/identity"
	"github.com/ehr/medrecords/internal/domain/records"
	"github.com/ehr/medrecords/internal/platform/db"
)

type Store struct {
	Users            identity.UserRepository
	Patients         identity.PatientRepository
	MedicalRecords   records.MedicalRecordRepository
	Prescriptions    records.PrescriptionRepository
	SurgeryDocuments records.SurgeryDocumentRepository
	AccessLogs       access.LogRepository
	Permissions      access.PermissionRepository

	// Tx groups repository calls made with its context into one unit.
	Tx db.Transactor
}

// NewMemory returns a process-local store. Every table assigns ids from its
// own atomic sequence.
func NewMemory() *Store {
	return &Store{
		Users:            identity.NewMemoryUserRepo(),
		Patients:         identity.NewMemoryPatientRepo(),
		MedicalRecords:   records.NewMemoryMedicalRecordRepo(),
		Prescriptions:    records.NewMemoryPrescriptionRepo(),
		SurgeryDocuments: records.NewMemorySurgeryDocumentRepo(),
		AccessLogs:       access.NewMemoryLogRepo(),
		Permissions:      access.NewMemoryPermissionRepo(),
		Tx:               db.NopTransactor{},
	}
}

// NewPostgres returns a store backed by pool. The schema must have been
// migrated.
func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{
		Users:            identity.NewUserRepo(pool),
		Patients:         identity.NewPatientRepo(pool),
		MedicalRecords:   records.NewMedicalRecordRepo(pool),
		Prescriptions:    records.NewPrescriptionRepo(pool),
		SurgeryDocuments: records.NewSurgeryDocumentRepo(pool),
		AccessLogs:       access.NewLogRepo(pool),
		Permissions:      access.NewPermissionRepo(pool),
		Tx:               db.NewPoolTransactor(pool),
	}
}
