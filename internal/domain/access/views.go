package access

import (
	"context"

	"github.com/ehr/medrecords/internal/platform/apperr"
)

// ListAllWithContext joins every permission with its patient's name and
// business id and its user's name. Unresolvable references are shown as
// UnknownLabel; only store failures abort the listing.
func (a *Authority) ListAllWithContext(ctx context.Context) ([]*PermissionView, error) {
	perms, err := a.perms.List(ctx)
	if err != nil {
		return nil, err
	}

	patients := make(map[int64]*PatientSummary)
	users := make(map[int64]string)
	out := make([]*PermissionView, 0, len(perms))
	for _, p := range perms {
		v := &PermissionView{
			AccessPermission: *p,
			PatientName:      UnknownLabel,
			PatientIDNumber:  UnknownLabel,
			UserName:         UnknownLabel,
		}

		ps, seen := patients[p.PatientID]
		if !seen {
			ps, err = a.lookupPatient(ctx, p.PatientID)
			if err != nil {
				return nil, err
			}
			patients[p.PatientID] = ps
		}
		if ps != nil {
			v.PatientName = ps.Name
			v.PatientIDNumber = ps.PatientCode
		}

		name, seen := users[p.UserID]
		if !seen {
			name, err = a.lookupUserName(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			users[p.UserID] = name
		}
		if name != "" {
			v.UserName = name
		}

		out = append(out, v)
	}
	return out, nil
}

func (a *Authority) lookupPatient(ctx context.Context, id int64) (*PatientSummary, error) {
	if a.dir == nil {
		return nil, nil
	}
	p, err := a.dir.LookupPatient(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	return p, err
}

func (a *Authority) lookupUserName(ctx context.Context, id int64) (string, error) {
	if a.dir == nil {
		return "", nil
	}
	name, err := a.dir.LookupUserName(ctx, id)
	if apperr.IsNotFound(err) {
		return "", nil
	}
	return name, err
}
