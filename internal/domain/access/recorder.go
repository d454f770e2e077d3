package access

import (
	"context"
	"time"

	"github.com/hengadev/errsx"

	"github.com/ehr/medrecords/internal/platform/apperr"
)

// Recorder is the append-only access trail. The timestamp of every entry is
// assigned here; whatever the caller put in Timestamp is overwritten.
type Recorder struct {
	logs LogRepository
	now  func() time.Time
}

func NewRecorder(logs LogRepository) *Recorder {
	return &Recorder{logs: logs, now: time.Now}
}

// Record appends an entry attributing action on recordType to userID.
// recordID may be nil.
func (r *Recorder) Record(ctx context.Context, userID int64, recordID *int64, recordType, action string) (*AccessLog, error) {
	l := &AccessLog{
		UserID:     userID,
		RecordID:   recordID,
		RecordType: recordType,
		Action:     action,
	}
	if err := r.Append(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *Recorder) Append(ctx context.Context, l *AccessLog) error {
	var errs errsx.Map
	if l.RecordType == "" {
		errs.Set("recordType", "recordType is required")
	}
	if l.Action == "" {
		errs.Set("action", "action is required")
	}
	if !errs.IsEmpty() {
		return apperr.Validation("access log", errs.AsError())
	}
	l.ID = 0
	l.Timestamp = r.now().UTC()
	return r.logs.Append(ctx, l)
}

// ListRecent returns up to n entries, newest first.
func (r *Recorder) ListRecent(ctx context.Context, n int) ([]*AccessLog, error) {
	return r.logs.ListRecent(ctx, n)
}

func (r *Recorder) Count(ctx context.Context) (int64, error) {
	return r.logs.Count(ctx)
}
