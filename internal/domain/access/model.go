package access

import "time"

// Record types used in access log entries and permission scopes.
const (
	RecordTypeMedicalRecord    = "medical_record"
	RecordTypeMedicalRecords   = "medical_records"
	RecordTypePrescription     = "prescription"
	RecordTypeSurgeryDocument  = "surgery_document"
	RecordTypeAuthentication   = "authentication"
	RecordTypeAccessPermission = "access_permission"
	RecordTypePatient          = "patient"
)

// Actions recorded in the access log.
const (
	ActionCreate         = "create"
	ActionSummarize      = "summarize"
	ActionVerify         = "verify"
	ActionProcess        = "process"
	ActionLogin          = "login"
	ActionViewOwnRecords = "view_own_records"
)

// UnknownLabel stands in for a patient or user that cannot be resolved.
const UnknownLabel = "Unknown"

// AccessLog is one immutable audit trail entry. RecordID is nil for actions
// that are not tied to a record, such as login.
type AccessLog struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	RecordID   *int64    `json:"recordId"`
	RecordType string    `json:"recordType"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// AccessPermission grants one user access to one record-type scope of one
// patient while IsActive is set.
type AccessPermission struct {
	ID         int64     `json:"id"`
	PatientID  int64     `json:"patientId"`
	UserID     int64     `json:"userId"`
	RecordType string    `json:"recordType"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PermissionView is a permission joined with display names for
// administrative listings.
type PermissionView struct {
	AccessPermission
	PatientName     string `json:"patientName"`
	PatientIDNumber string `json:"patientIdNumber"`
	UserName        string `json:"userName"`
}

// PatientSummary is the slice of a patient the permission layer needs.
type PatientSummary struct {
	ID          int64
	Name        string
	PatientCode string
	OwnerUserID *int64
}

// RecordRef returns a pointer suitable for AccessLog.RecordID.
func RecordRef(id int64) *int64 {
	return &id
}

func cloneLog(l AccessLog) AccessLog {
	if l.RecordID != nil {
		id := *l.RecordID
		l.RecordID = &id
	}
	return l
}
