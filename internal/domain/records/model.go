package records

import (
	"encoding/json"
	"time"

	"github.com/ehr/medrecords/internal/platform/docai"
)

// MedicalRecord is a clinical document for a patient. BlockchainHash is set
// exactly when IsVerified is true and never changes afterwards. FileURL is
// a blob reference (blob://<key>) when a file is attached.
type MedicalRecord struct {
	ID             int64           `json:"id"`
	PatientID      int64           `json:"patientId"`
	RecordType     string          `json:"recordType"`
	Content        json.RawMessage `json:"content"`
	Summary        *string         `json:"summary"`
	FileName       *string         `json:"fileName"`
	FileType       *string         `json:"fileType"`
	FileURL        *string         `json:"fileUrl"`
	CreatedBy      int64           `json:"createdBy"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	IsVerified     bool            `json:"isVerified"`
	BlockchainHash *string         `json:"blockchainHash"`
}

// Prescription is a scanned prescription. PrescriptionCode is the
// server-generated business id (Rx-NNNNNN). IsProcessed turns true when
// extracted text is first attached.
type Prescription struct {
	ID               int64              `json:"id"`
	PatientID        int64              `json:"patientId"`
	PrescriptionCode string             `json:"prescriptionId"`
	ImageURL         string             `json:"imageUrl"`
	ImageType        *string            `json:"imageType"`
	ExtractedText    *string            `json:"extractedText"`
	Medications      []docai.Medication `json:"medications"`
	ScannedAt        time.Time          `json:"scannedAt"`
	CreatedBy        int64              `json:"createdBy"`
	IsProcessed      bool               `json:"isProcessed"`
}

type SurgeryDocument struct {
	ID            int64           `json:"id"`
	PatientID     int64           `json:"patientId"`
	ProcedureType string          `json:"procedureType"`
	SurgeryDate   string          `json:"surgeryDate"`
	Findings      *string         `json:"findings"`
	Documentation json.RawMessage `json:"documentation"`
	CreatedBy     int64           `json:"createdBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Attachment is an uploaded file that has not been stored yet.
type Attachment struct {
	FileName    string
	ContentType string
	Data        []byte
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneMedicalRecord(r MedicalRecord) MedicalRecord {
	r.Content = cloneRaw(r.Content)
	r.Summary = cloneString(r.Summary)
	r.FileName = cloneString(r.FileName)
	r.FileType = cloneString(r.FileType)
	r.FileURL = cloneString(r.FileURL)
	r.BlockchainHash = cloneString(r.BlockchainHash)
	return r
}

func clonePrescription(p Prescription) Prescription {
	p.ImageType = cloneString(p.ImageType)
	p.ExtractedText = cloneString(p.ExtractedText)
	p.Medications = append([]docai.Medication{}, p.Medications...)
	return p
}

func cloneSurgeryDocument(d SurgeryDocument) SurgeryDocument {
	d.Findings = cloneString(d.Findings)
	d.Documentation = cloneRaw(d.Documentation)
	return d
}
