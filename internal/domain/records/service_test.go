package records

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/domain/identity"
	"github.com/ehr/medrecords/internal/platform/anchor"
	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/blobstore"
	"github.com/ehr/medrecords/internal/platform/docai"
)

// -- Fakes --

type fakeSummarizer struct {
	summary string
	err     error
	got     docai.Document
}

func (f *fakeSummarizer) Summarize(_ context.Context, doc docai.Document) (string, error) {
	f.got = doc
	return f.summary, f.err
}

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) ExtractText(context.Context, docai.Document) (string, error) {
	return f.text, f.err
}

type countingAnchor struct {
	next  anchor.Anchorer
	err   error
	calls atomic.Int64
}

func (a *countingAnchor) Anchor(ctx context.Context, s anchor.Subject) (string, error) {
	a.calls.Add(1)
	if a.err != nil {
		return "", a.err
	}
	return a.next.Anchor(ctx, s)
}

type failingStore struct {
	*blobstore.InMemory
}

func (failingStore) Put(context.Context, string, string, io.Reader) (*blobstore.Object, error) {
	return nil, errors.New("bucket unavailable")
}

type failingRecords struct {
	MedicalRecordRepository
}

func (failingRecords) Create(context.Context, *MedicalRecord) error {
	return errors.New("connection reset")
}

// -- Fixture --

const (
	doctorID      = int64(1)
	patientUserID = int64(2)
	emmaID        = int64(1)
	jamesID       = int64(2)
)

type fixture struct {
	svc        *Service
	recorder   *access.Recorder
	people     *identity.Service
	files      *blobstore.InMemory
	anchor     *countingAnchor
	summarizer *fakeSummarizer
	ocr        *fakeOCR
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	recorder := access.NewRecorder(access.NewMemoryLogRepo())
	people := identity.NewService(identity.NewMemoryUserRepo(), identity.NewMemoryPatientRepo(), recorder)
	if _, err := identity.Seed(context.Background(), people); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	f := &fixture{
		recorder:   recorder,
		people:     people,
		files:      blobstore.NewInMemory(),
		anchor:     &countingAnchor{next: anchor.NewLedger(anchor.NewMemoryBackend())},
		summarizer: &fakeSummarizer{summary: "Routine checkup, no findings."},
		ocr:        &fakeOCR{text: "Atorvastatin 20mg daily"},
	}
	f.svc = NewService(f.deps())
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		MedicalRecords:      NewMemoryMedicalRecordRepo(),
		Prescriptions:       NewMemoryPrescriptionRepo(),
		SurgeryDocuments:    NewMemorySurgeryDocumentRepo(),
		Patients:            f.people,
		Recorder:            f.recorder,
		Files:               f.files,
		Summarizer:          f.summarizer,
		OCR:                 f.ocr,
		Anchor:              f.anchor,
		Logger:              zerolog.Nop(),
		CollaboratorTimeout: time.Second,
		SurgeryTemplates:    []string{"Appendectomy", "Knee Arthroscopy"},
	}
}

func (f *fixture) logCount(t *testing.T) int64 {
	t.Helper()
	n, err := f.recorder.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func (f *fixture) logs(t *testing.T) []*access.AccessLog {
	t.Helper()
	logs, err := f.recorder.ListRecent(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	return logs
}

func (f *fixture) createRecord(t *testing.T, patientID int64, file *Attachment) *MedicalRecord {
	t.Helper()
	r := &MedicalRecord{
		PatientID:  patientID,
		RecordType: "Lab Results",
		Content:    []byte(`{"glucose":"95 mg/dL"}`),
		CreatedBy:  doctorID,
	}
	if err := f.svc.CreateMedicalRecord(context.Background(), r, file); err != nil {
		t.Fatalf("CreateMedicalRecord: %v", err)
	}
	return r
}

func pdfAttachment() *Attachment {
	return &Attachment{FileName: "labs.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 lab report")}
}

func pngAttachment() *Attachment {
	return &Attachment{FileName: "rx.png", ContentType: "image/png", Data: []byte("\x89PNG fake image")}
}

// -- Medical records --

func TestCreateMedicalRecord_ListByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := &identity.Patient{PatientCode: "P-1", Name: "A", DateOfBirth: "2000-01-01", Gender: "F"}
	if err := f.people.CreatePatient(ctx, p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	created := f.createRecord(t, p.ID, nil)

	got, err := f.svc.ListMedicalRecords(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(got))
	}
	if got[0].ID != created.ID || got[0].IsVerified || got[0].BlockchainHash != nil {
		t.Errorf("unexpected record %+v", got[0])
	}
	if got[0].Summary != nil || got[0].FileURL != nil {
		t.Error("optional fields should be nil")
	}

	logs := f.logs(t)
	if len(logs) != 1 {
		t.Fatalf("expected one access log, got %d", len(logs))
	}
	l := logs[0]
	if l.UserID != doctorID || l.Action != access.ActionCreate || l.RecordType != access.RecordTypeMedicalRecord || *l.RecordID != created.ID {
		t.Errorf("unexpected log %+v", l)
	}
}

func TestCreateMedicalRecord_GetByIDMatchesCreate(t *testing.T) {
	f := newFixture(t)
	created := f.createRecord(t, jamesID, nil)

	got, err := f.svc.GetMedicalRecord(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != created.ID || got.PatientID != created.PatientID || string(got.Content) != string(created.Content) || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("got %+v, want %+v", got, created)
	}
}

func TestCreateMedicalRecord_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  MedicalRecord
		kind apperr.Kind
	}{
		{"missing everything", MedicalRecord{}, apperr.KindValidation},
		{"null content", MedicalRecord{PatientID: jamesID, RecordType: "x", Content: []byte("null"), CreatedBy: doctorID}, apperr.KindValidation},
		{"invalid content", MedicalRecord{PatientID: jamesID, RecordType: "x", Content: []byte("{"), CreatedBy: doctorID}, apperr.KindValidation},
		{"unknown patient", MedicalRecord{PatientID: 99, RecordType: "x", Content: []byte(`"notes"`), CreatedBy: doctorID}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.rec
			err := f.svc.CreateMedicalRecord(ctx, &r, nil)
			if apperr.KindOf(err) != tt.kind {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
	if n := f.logCount(t); n != 0 {
		t.Errorf("rejected creates must not be logged, got %d entries", n)
	}
}

func TestCreateMedicalRecord_WithFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRecord(t, jamesID, pdfAttachment())

	if r.FileURL == nil || !regexp.MustCompile(`^blob://.+\.pdf$`).MatchString(*r.FileURL) {
		t.Fatalf("unexpected file url %v", r.FileURL)
	}
	if *r.FileName != "labs.pdf" || *r.FileType != "application/pdf" {
		t.Errorf("unexpected file metadata %q %q", *r.FileName, *r.FileType)
	}

	rc, obj, err := f.svc.OpenRecordFile(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.4 lab report" || obj.ContentType != "application/pdf" {
		t.Errorf("unexpected file %q (%s)", data, obj.ContentType)
	}
}

func TestCreateMedicalRecord_FileStoreFailure(t *testing.T) {
	f := newFixture(t)
	d := f.deps()
	d.Files = failingStore{blobstore.NewInMemory()}
	svc := NewService(d)
	ctx := context.Background()

	r := &MedicalRecord{PatientID: jamesID, RecordType: "Imaging", Content: []byte(`{}`), CreatedBy: doctorID}
	err := svc.CreateMedicalRecord(ctx, r, pdfAttachment())
	if apperr.KindOf(err) != apperr.KindExternal || apperr.CollaboratorOf(err) != CollaboratorFileStore {
		t.Fatalf("expected file store failure, got %v", err)
	}
	got, _ := svc.ListMedicalRecords(ctx, jamesID)
	if len(got) != 0 {
		t.Error("no record may be created when the file write fails")
	}
	if n := f.logCount(t); n != 0 {
		t.Errorf("expected no log entries, got %d", n)
	}
}

func TestCreateMedicalRecord_RemovesFileWhenCreateFails(t *testing.T) {
	f := newFixture(t)
	d := f.deps()
	d.MedicalRecords = failingRecords{NewMemoryMedicalRecordRepo()}
	svc := NewService(d)

	r := &MedicalRecord{PatientID: jamesID, RecordType: "Imaging", Content: []byte(`{}`), CreatedBy: doctorID}
	if err := svc.CreateMedicalRecord(context.Background(), r, pdfAttachment()); err == nil {
		t.Fatal("expected create failure")
	}
	if n := f.files.Len(); n != 0 {
		t.Errorf("orphaned file left behind: %d blobs", n)
	}
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRecord(t, jamesID, nil)

	for _, text := range []string{"first", "second"} {
		got, err := f.svc.Summarize(ctx, doctorID, r.ID, text)
		if err != nil {
			t.Fatalf("Summarize: %v", err)
		}
		if got.Summary == nil || *got.Summary != text {
			t.Errorf("expected summary %q, got %v", text, got.Summary)
		}
		if got.UpdatedAt.Before(r.CreatedAt) {
			t.Error("updatedAt should move forward")
		}
	}

	if _, err := f.svc.Summarize(ctx, doctorID, 999, "x"); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := f.svc.Summarize(ctx, doctorID, r.ID, "  "); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if n := f.logCount(t); n != 3 {
		t.Errorf("expected create + 2 summarize entries, got %d", n)
	}
}

func TestGenerateSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bare := f.createRecord(t, jamesID, nil)
	if _, err := f.svc.GenerateSummary(ctx, doctorID, bare.ID); apperr.KindOf(err) != apperr.KindInvalidState {
		t.Errorf("expected invalid state without a file, got %v", err)
	}

	r := f.createRecord(t, jamesID, pdfAttachment())
	got, err := f.svc.GenerateSummary(ctx, doctorID, r.ID)
	if err != nil {
		t.Fatalf("GenerateSummary: %v", err)
	}
	if *got.Summary != "Routine checkup, no findings." {
		t.Errorf("unexpected summary %q", *got.Summary)
	}
	if string(f.summarizer.got.Data) != "%PDF-1.4 lab report" || f.summarizer.got.FileName != "labs.pdf" {
		t.Errorf("summarizer received %+v", f.summarizer.got)
	}

	f.summarizer.err = errors.New("model offline")
	_, err = f.svc.GenerateSummary(ctx, doctorID, r.ID)
	if apperr.KindOf(err) != apperr.KindExternal || apperr.CollaboratorOf(err) != CollaboratorSummarizer {
		t.Errorf("expected summarizer failure, got %v", err)
	}
}

func TestVerify_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRecord(t, jamesID, nil)

	first, err := f.svc.Verify(ctx, doctorID, r.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !first.IsVerified || first.BlockchainHash == nil || *first.BlockchainHash == "" {
		t.Fatalf("expected verified record with hash, got %+v", first)
	}

	second, err := f.svc.Verify(ctx, doctorID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *second.BlockchainHash != *first.BlockchainHash || !second.IsVerified {
		t.Errorf("hash changed on repeat verify: %s -> %s", *first.BlockchainHash, *second.BlockchainHash)
	}
	if n := f.anchor.calls.Load(); n != 1 {
		t.Errorf("expected one anchoring call, got %d", n)
	}
	if n := f.logCount(t); n != 2 {
		t.Errorf("expected create + verify entries, got %d", n)
	}
}

func TestVerify_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.createRecord(t, jamesID, nil)

	const workers = 16
	hashes := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := f.svc.Verify(ctx, doctorID, r.ID)
			if err != nil {
				t.Errorf("Verify: %v", err)
				return
			}
			hashes[i] = *got.BlockchainHash
		}(i)
	}
	wg.Wait()

	for _, h := range hashes {
		if h != hashes[0] {
			t.Fatalf("concurrent verify produced different hashes: %v", hashes)
		}
	}
	verifies := 0
	for _, l := range f.logs(t) {
		if l.Action == access.ActionVerify {
			verifies++
		}
	}
	if verifies != 1 {
		t.Errorf("expected one verify entry, got %d", verifies)
	}
}

func TestVerify_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Verify(ctx, doctorID, 404); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	r := f.createRecord(t, jamesID, nil)
	f.anchor.err = errors.New("ledger unreachable")
	_, err := f.svc.Verify(ctx, doctorID, r.ID)
	if apperr.KindOf(err) != apperr.KindExternal || apperr.CollaboratorOf(err) != CollaboratorAnchor {
		t.Fatalf("expected anchor failure, got %v", err)
	}
	got, _ := f.svc.GetMedicalRecord(ctx, r.ID)
	if got.IsVerified || got.BlockchainHash != nil {
		t.Error("record must stay unverified when anchoring fails")
	}
}

func TestMyMedicalRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createRecord(t, emmaID, nil)
	f.createRecord(t, jamesID, nil)

	got, err := f.svc.MyMedicalRecords(ctx, patientUserID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PatientID != emmaID {
		t.Errorf("expected only the caller's record, got %+v", got)
	}
	l := f.logs(t)[0]
	if l.Action != access.ActionViewOwnRecords || l.RecordType != access.RecordTypeMedicalRecords || l.RecordID != nil {
		t.Errorf("unexpected log %+v", l)
	}

	if _, err := f.svc.MyMedicalRecords(ctx, doctorID); !apperr.IsNotFound(err) {
		t.Errorf("expected not found for a user without a patient profile, got %v", err)
	}
}

// -- Prescriptions --

var rxCode = regexp.MustCompile(`^Rx-[1-9][0-9]{5}$`)

func TestPrescription_CreateAndAttachExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	if err := f.svc.CreatePrescription(ctx, p, pngAttachment()); err != nil {
		t.Fatalf("CreatePrescription: %v", err)
	}
	if !rxCode.MatchString(p.PrescriptionCode) {
		t.Errorf("unexpected prescription id %q", p.PrescriptionCode)
	}
	if p.IsProcessed || p.ExtractedText != nil || p.Medications == nil || len(p.Medications) != 0 {
		t.Errorf("unexpected defaults %+v", p)
	}
	if p.ImageType == nil || *p.ImageType != "image/png" {
		t.Errorf("unexpected image type %v", p.ImageType)
	}

	meds := []docai.Medication{{Name: "Atorvastatin", Dosage: "20mg"}}
	if _, err := f.svc.AttachExtraction(ctx, doctorID, p.ID, "Atorvastatin 20mg", meds); err != nil {
		t.Fatalf("AttachExtraction: %v", err)
	}
	got, err := f.svc.GetPrescription(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsProcessed || len(got.Medications) != 1 || *got.ExtractedText != "Atorvastatin 20mg" {
		t.Errorf("unexpected prescription %+v", got)
	}
	if n := f.logCount(t); n != 2 {
		t.Errorf("expected create + process entries, got %d", n)
	}
}

func TestAttachExtraction_DerivesMedications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	if err := f.svc.CreatePrescription(ctx, p, pngAttachment()); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.AttachExtraction(ctx, doctorID, p.ID, "Metformin 500mg twice daily", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := docai.Medication{Name: "Metformin", Dosage: "500mg", Frequency: "twice daily"}
	if len(got.Medications) != 1 || got.Medications[0] != want {
		t.Errorf("expected %+v, got %+v", want, got.Medications)
	}

	// re-running overwrites the earlier result
	got, err = f.svc.AttachExtraction(ctx, doctorID, p.ID, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsProcessed || len(got.Medications) != 0 {
		t.Errorf("unexpected prescription after overwrite %+v", got)
	}

	if _, err := f.svc.AttachExtraction(ctx, doctorID, 77, "x", nil); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestCreatePrescription_RetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	codes := []string{"Rx-100000", "Rx-100000", "Rx-100000", "Rx-200000"}
	var i int
	f.svc.codeGen = func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}

	first := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	if err := f.svc.CreatePrescription(ctx, first, pngAttachment()); err != nil {
		t.Fatal(err)
	}
	second := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	if err := f.svc.CreatePrescription(ctx, second, pngAttachment()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if first.PrescriptionCode != "Rx-100000" || second.PrescriptionCode != "Rx-200000" {
		t.Errorf("unexpected codes %s, %s", first.PrescriptionCode, second.PrescriptionCode)
	}
	if n := f.logCount(t); n != 2 {
		t.Errorf("collisions must not be logged, got %d entries", n)
	}
}

func TestCreatePrescription_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.codeGen = func() (string, error) { return "Rx-123456", nil }

	if err := f.svc.CreatePrescription(ctx, &Prescription{PatientID: jamesID, CreatedBy: doctorID}, pngAttachment()); err != nil {
		t.Fatal(err)
	}
	err := f.svc.CreatePrescription(ctx, &Prescription{PatientID: jamesID, CreatedBy: doctorID}, pngAttachment())
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if n := f.files.Len(); n != 1 {
		t.Errorf("expected the losing image to be removed, have %d blobs", n)
	}
	all, _ := f.svc.ListPrescriptions(ctx, jamesID)
	if len(all) != 1 {
		t.Errorf("expected one prescription, got %d", len(all))
	}
}

func TestCreatePrescription_Validation(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreatePrescription(context.Background(), &Prescription{PatientID: jamesID, CreatedBy: doctorID}, nil)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error without an image, got %v", err)
	}
	if f.files.Len() != 0 {
		t.Error("nothing should be stored")
	}
}

func TestProcessPrescription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	if err := f.svc.CreatePrescription(ctx, p, pngAttachment()); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.ProcessPrescription(ctx, doctorID, p.ID)
	if err != nil {
		t.Fatalf("ProcessPrescription: %v", err)
	}
	if !got.IsProcessed || *got.ExtractedText != "Atorvastatin 20mg daily" || len(got.Medications) != 1 {
		t.Errorf("unexpected prescription %+v", got)
	}

	other := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	if err := f.svc.CreatePrescription(ctx, other, pngAttachment()); err != nil {
		t.Fatal(err)
	}
	f.ocr.err = errors.New("tesseract not installed")
	_, err = f.svc.ProcessPrescription(ctx, doctorID, other.ID)
	if apperr.KindOf(err) != apperr.KindExternal || apperr.CollaboratorOf(err) != CollaboratorOCR {
		t.Fatalf("expected ocr failure, got %v", err)
	}
	stored, _ := f.svc.GetPrescription(ctx, other.ID)
	if stored.IsProcessed {
		t.Error("failed OCR must not mark the prescription processed")
	}
}

func TestRecentPrescriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		p := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
		if err := f.svc.CreatePrescription(ctx, p, pngAttachment()); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}

	got, err := f.svc.RecentPrescriptions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Errorf("expected the two newest prescriptions, got %+v", got)
	}
	got, _ = f.svc.RecentPrescriptions(ctx, 10)
	if len(got) != 3 {
		t.Errorf("expected all 3, got %d", len(got))
	}
}

// -- Surgery documents --

func TestSurgeryDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := &SurgeryDocument{
		PatientID:     jamesID,
		ProcedureType: "Appendectomy",
		SurgeryDate:   "2024-03-02",
		Documentation: []byte(`{"anesthesia":"general"}`),
		CreatedBy:     doctorID,
	}
	if err := f.svc.CreateSurgeryDocument(ctx, d); err != nil {
		t.Fatalf("CreateSurgeryDocument: %v", err)
	}
	got, err := f.svc.GetSurgeryDocument(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcedureType != "Appendectomy" || got.Findings != nil {
		t.Errorf("unexpected document %+v", got)
	}
	list, _ := f.svc.ListSurgeryDocuments(ctx, jamesID)
	if len(list) != 1 {
		t.Errorf("expected one document, got %d", len(list))
	}
	l := f.logs(t)[0]
	if l.RecordType != access.RecordTypeSurgeryDocument || l.Action != access.ActionCreate {
		t.Errorf("unexpected log %+v", l)
	}

	bad := &SurgeryDocument{PatientID: jamesID, ProcedureType: "x", SurgeryDate: "03/02/2024", Documentation: []byte(`{}`), CreatedBy: doctorID}
	if err := f.svc.CreateSurgeryDocument(ctx, bad); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := f.svc.GetSurgeryDocument(ctx, 42); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSurgeryTemplates_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	got := f.svc.SurgeryTemplates()
	got[0] = "changed"
	if f.svc.SurgeryTemplates()[0] != "Appendectomy" {
		t.Error("templates must not be mutable through the returned slice")
	}
}

func TestWrites_LogExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := f.createRecord(t, jamesID, pdfAttachment())
	f.svc.Summarize(ctx, doctorID, r.ID, "s")
	f.svc.Verify(ctx, doctorID, r.ID)
	f.svc.Verify(ctx, doctorID, r.ID)
	p := &Prescription{PatientID: jamesID, CreatedBy: doctorID}
	f.svc.CreatePrescription(ctx, p, pngAttachment())
	f.svc.ProcessPrescription(ctx, doctorID, p.ID)
	f.svc.CreateSurgeryDocument(ctx, &SurgeryDocument{
		PatientID: jamesID, ProcedureType: "x", SurgeryDate: "2024-01-01", Documentation: []byte(`[]`), CreatedBy: doctorID,
	})

	var actions []string
	for _, l := range f.logs(t) {
		actions = append([]string{l.Action}, actions...)
	}
	want := []string{"create", "summarize", "verify", "create", "process", "create"}
	if len(actions) != len(want) {
		t.Fatalf("expected %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], actions[i])
		}
	}
}
