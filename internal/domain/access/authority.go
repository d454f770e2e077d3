package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/hengadev/errsx"

	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/auth"
)

// ErrDenied is returned by Require when no rule grants access.
var ErrDenied = errors.New("access denied")

// Basis names the rule that allowed an access.
type Basis string

const (
	BasisNone       Basis = ""
	BasisPermission Basis = "permission"
	BasisOwner      Basis = "owner"
	BasisClinician  Basis = "clinician"
)

// Policy holds the configurable parts of the authorization decision.
type Policy struct {
	// ClinicianBroadAccess lets every doctor read every patient without an
	// explicit grant.
	ClinicianBroadAccess bool
}

// entityScopes are the scopes that cover a whole kind of entity rather than
// one clinical record type.
var entityScopes = map[string]bool{
	RecordTypeMedicalRecord:    true,
	RecordTypeMedicalRecords:   true,
	RecordTypePrescription:     true,
	RecordTypeSurgeryDocument:  true,
	RecordTypePatient:          true,
	RecordTypeAccessPermission: true,
	RecordTypeAuthentication:   true,
}

// Scope folds a record type into its permission scope form: "Lab Results",
// "lab-results" and "lab_results" all become "lab_results".
func Scope(recordType string) string {
	words := strings.FieldsFunc(strings.ToLower(recordType), func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	return strings.Join(words, "_")
}

// IsEntityScope reports whether recordType names an entity-wide scope.
func IsEntityScope(recordType string) bool { return entityScopes[Scope(recordType)] }

type Requester struct {
	UserID int64
	Role   string
}

// RequesterFromContext builds a Requester from the authenticated identity.
func RequesterFromContext(ctx context.Context) (Requester, bool) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return Requester{}, false
	}
	return Requester{UserID: id.UserID, Role: id.Role}, true
}

type Decision struct {
	Allowed bool  `json:"allowed"`
	Basis   Basis `json:"basis,omitempty"`
}

// Authority manages permission rows and answers authorization questions.
type Authority struct {
	perms  PermissionRepository
	dir    Directory
	policy Policy
}

func NewAuthority(perms PermissionRepository, dir Directory, policy Policy) *Authority {
	return &Authority{perms: perms, dir: dir, policy: policy}
}

func (a *Authority) Policy() Policy { return a.policy }

// Grant stores a new active permission. The record type is stored in its
// Scope form. Existing rows for the same (patient, user, record type) are
// left alone, so several may coexist.
func (a *Authority) Grant(ctx context.Context, p *AccessPermission) error {
	p.RecordType = Scope(p.RecordType)

	var errs errsx.Map
	if p.PatientID <= 0 {
		errs.Set("patientId", "patientId is required")
	}
	if p.UserID <= 0 {
		errs.Set("userId", "userId is required")
	}
	if p.RecordType == "" {
		errs.Set("recordType", "recordType is required")
	}
	if !errs.IsEmpty() {
		return apperr.Validation("access permission", errs.AsError())
	}

	p.ID = 0
	p.IsActive = true
	return a.perms.Create(ctx, p)
}

func (a *Authority) SetActive(ctx context.Context, id int64, active bool) (*AccessPermission, error) {
	return a.perms.SetActive(ctx, id, active)
}

func (a *Authority) Get(ctx context.Context, id int64) (*AccessPermission, error) {
	return a.perms.GetByID(ctx, id)
}

// ListByPatient returns active and inactive rows for the patient.
func (a *Authority) ListByPatient(ctx context.Context, patientID int64) ([]*AccessPermission, error) {
	return a.perms.ListByPatient(ctx, patientID)
}

// ClinicalScopes returns the clinical record types userID holds an active
// grant for on patientID. Entity-wide scopes such as medical_record are left
// out.
func (a *Authority) ClinicalScopes(ctx context.Context, patientID, userID int64) (map[string]bool, error) {
	rows, err := a.perms.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, p := range rows {
		scope := Scope(p.RecordType)
		if p.IsActive && p.UserID == userID && !IsEntityScope(scope) {
			out[scope] = true
		}
	}
	return out, nil
}

// Authorize decides whether req may access patientID's records covered by
// any of scopes. Rules are tried in order: an active permission row on one
// of the scopes, patient self-access, then clinician broad access when the
// policy enables it.
func (a *Authority) Authorize(ctx context.Context, req Requester, patientID int64, scopes ...string) (Decision, error) {
	if req.UserID <= 0 {
		return Decision{}, nil
	}

	for _, scope := range scopes {
		ok, err := a.perms.HasActive(ctx, patientID, req.UserID, Scope(scope))
		if err != nil {
			return Decision{}, err
		}
		if ok {
			return Decision{Allowed: true, Basis: BasisPermission}, nil
		}
	}

	if a.dir != nil {
		p, err := a.dir.LookupPatient(ctx, patientID)
		switch {
		case err == nil:
			if p.OwnerUserID != nil && *p.OwnerUserID == req.UserID {
				return Decision{Allowed: true, Basis: BasisOwner}, nil
			}
		case !apperr.IsNotFound(err):
			return Decision{}, err
		}
	}

	if req.Role == auth.RoleDoctor && a.policy.ClinicianBroadAccess {
		return Decision{Allowed: true, Basis: BasisClinician}, nil
	}
	return Decision{}, nil
}

// Require is Authorize folded into an error: nil when allowed, ErrDenied
// otherwise.
func (a *Authority) Require(ctx context.Context, req Requester, patientID int64, scopes ...string) error {
	d, err := a.Authorize(ctx, req, patientID, scopes...)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return fmt.Errorf("%w: %s of patient %d", ErrDenied, strings.Join(scopes, "|"), patientID)
	}
	return nil
}
