package access

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ehr/medrecords/internal/platform/apperr"
)

func newTestRecorder() *Recorder {
	return NewRecorder(NewMemoryLogRepo())
}

func TestRecorder_AssignsServerTimestamp(t *testing.T) {
	r := newTestRecorder()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	l := &AccessLog{
		ID:         99,
		UserID:     1,
		RecordType: RecordTypeMedicalRecord,
		Action:     ActionCreate,
		Timestamp:  time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := r.Append(context.Background(), l); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.ID != 1 {
		t.Errorf("expected id 1, got %d", l.ID)
	}
	if !l.Timestamp.Equal(fixed) {
		t.Errorf("client timestamp was kept: %v", l.Timestamp)
	}
}

func TestRecorder_RecordNilRecordID(t *testing.T) {
	r := newTestRecorder()
	l, err := r.Record(context.Background(), 7, nil, RecordTypeAuthentication, ActionLogin)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if l.RecordID != nil {
		t.Errorf("expected nil record id, got %v", *l.RecordID)
	}

	logs, _ := r.ListRecent(context.Background(), 1)
	if len(logs) != 1 || logs[0].Action != ActionLogin || logs[0].RecordID != nil {
		t.Errorf("unexpected logs %+v", logs)
	}
}

func TestRecorder_RequiresTypeAndAction(t *testing.T) {
	r := newTestRecorder()
	err := r.Append(context.Background(), &AccessLog{UserID: 1})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n, _ := r.Count(context.Background()); n != 0 {
		t.Errorf("rejected entry was stored, count %d", n)
	}
}

func TestRecorder_CountMonotonic(t *testing.T) {
	r := newTestRecorder()
	ctx := context.Background()

	for _, n := range []int{0, 1, 5} {
		before, _ := r.Count(ctx)
		for i := 0; i < n; i++ {
			if _, err := r.Record(ctx, 1, RecordRef(int64(i+1)), RecordTypePrescription, ActionCreate); err != nil {
				t.Fatal(err)
			}
		}
		after, _ := r.Count(ctx)
		if after != before+int64(n) {
			t.Errorf("after %d appends: count %d, want %d", n, after, before+int64(n))
		}
	}
}

func TestRecorder_ConcurrentAppends(t *testing.T) {
	r := newTestRecorder()
	ctx := context.Background()

	const workers, each = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := r.Record(ctx, uid, nil, RecordTypeMedicalRecord, ActionVerify); err != nil {
					t.Error(err)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	n, _ := r.Count(ctx)
	if n != workers*each {
		t.Fatalf("expected %d entries, got %d", workers*each, n)
	}
	logs, _ := r.ListRecent(ctx, workers*each)
	seen := make(map[int64]bool, len(logs))
	for _, l := range logs {
		if seen[l.ID] {
			t.Fatalf("duplicate id %d", l.ID)
		}
		seen[l.ID] = true
	}
}

func TestRecorder_ListRecentOrdering(t *testing.T) {
	r := newTestRecorder()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(time.Hour), base.Add(time.Hour), base.Add(-time.Hour)}
	for _, ts := range stamps {
		ts := ts
		r.now = func() time.Time { return ts }
		r.Record(ctx, 1, nil, RecordTypeAuthentication, ActionLogin)
	}

	got, _ := r.ListRecent(ctx, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	wantIDs := []int64{3, 2, 1}
	for i, l := range got {
		if l.ID != wantIDs[i] {
			t.Errorf("position %d: id %d, want %d", i, l.ID, wantIDs[i])
		}
	}

	all, _ := r.ListRecent(ctx, 50)
	if len(all) != 4 {
		t.Errorf("expected all 4 entries, got %d", len(all))
	}
	none, _ := r.ListRecent(ctx, 0)
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", none)
	}
}
