package records

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/domain/identity"
	"github.com/ehr/medrecords/internal/platform/anchor"
	"github.com/ehr/medrecords/internal/platform/apperr"
	"github.com/ehr/medrecords/internal/platform/blobstore"
	"github.com/ehr/medrecords/internal/platform/db"
	"github.com/ehr/medrecords/internal/platform/docai"
)

// Collaborator names carried by external errors.
const (
	CollaboratorFileStore  = "file store"
	CollaboratorSummarizer = "summarizer"
	CollaboratorOCR        = "ocr"
	CollaboratorAnchor     = "anchor"
)

const (
	dateLayout = "2006-01-02"
	// maxCodeAttempts bounds prescription id generation when codes collide.
	maxCodeAttempts = 8
)

// PatientLookup resolves the patients records belong to.
type PatientLookup interface {
	GetPatient(ctx context.Context, id int64) (*identity.Patient, error)
	GetPatientByUser(ctx context.Context, userID int64) (*identity.Patient, error)
}

type Deps struct {
	MedicalRecords   MedicalRecordRepository
	Prescriptions    PrescriptionRepository
	SurgeryDocuments SurgeryDocumentRepository
	Patients         PatientLookup
	Recorder         *access.Recorder
	Tx               db.Transactor

	Files      blobstore.Store
	Summarizer docai.Summarizer
	OCR        docai.OCR
	Anchor     anchor.Anchorer

	Logger              zerolog.Logger
	CollaboratorTimeout time.Duration
	SurgeryTemplates    []string
}

// Service is the lifecycle manager for medical records, prescriptions and
// surgery documents. Every write appends exactly one access log entry in the
// same transaction as the write itself.
type Service struct {
	records    MedicalRecordRepository
	rx         PrescriptionRepository
	surgery    SurgeryDocumentRepository
	patients   PatientLookup
	recorder   *access.Recorder
	tx         db.Transactor
	files      blobstore.Store
	summarizer docai.Summarizer
	ocr        docai.OCR
	anchor     anchor.Anchorer
	logger     zerolog.Logger
	timeout    time.Duration
	templates  []string
	codeGen    func() (string, error)
}

func NewService(d Deps) *Service {
	tx := d.Tx
	if tx == nil {
		tx = db.NopTransactor{}
	}
	return &Service{
		records:    d.MedicalRecords,
		rx:         d.Prescriptions,
		surgery:    d.SurgeryDocuments,
		patients:   d.Patients,
		recorder:   d.Recorder,
		tx:         tx,
		files:      d.Files,
		summarizer: d.Summarizer,
		ocr:        d.OCR,
		anchor:     d.Anchor,
		logger:     d.Logger.With().Str("component", "records").Logger(),
		timeout:    d.CollaboratorTimeout,
		templates:  append([]string(nil), d.SurgeryTemplates...),
		codeGen:    newPrescriptionCode,
	}
}

// -- Medical records --

// CreateMedicalRecord stores r and, when file is non-nil, its attachment.
// The file is written first and removed again if the record cannot be
// committed.
func (s *Service) CreateMedicalRecord(ctx context.Context, r *MedicalRecord, file *Attachment) error {
	r.RecordType = strings.TrimSpace(r.RecordType)

	var errs errsx.Map
	if r.PatientID <= 0 {
		errs.Set("patientId", "patientId is required")
	}
	if r.RecordType == "" {
		errs.Set("recordType", "recordType is required")
	}
	if !hasJSON(r.Content) {
		errs.Set("content", "content must be a JSON value")
	}
	if r.CreatedBy <= 0 {
		errs.Set("createdBy", "createdBy is required")
	}
	if !errs.IsEmpty() {
		return apperr.Validation("medical record", errs.AsError())
	}
	if _, err := s.patients.GetPatient(ctx, r.PatientID); err != nil {
		return err
	}

	r.ID = 0
	r.IsVerified = false
	r.BlockchainHash = nil
	r.FileName, r.FileType, r.FileURL = nil, nil, nil

	var obj *blobstore.Object
	if file != nil {
		var err error
		if obj, err = s.putFile(ctx, file); err != nil {
			return err
		}
		ref := obj.Ref()
		r.FileName = &obj.FileName
		r.FileType = &obj.ContentType
		r.FileURL = &ref
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, r); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, r.CreatedBy, access.RecordRef(r.ID), access.RecordTypeMedicalRecord, access.ActionCreate)
		return err
	})
	if err != nil {
		if obj != nil {
			s.discardFile(ctx, obj.Key)
		}
		return err
	}
	return nil
}

func (s *Service) GetMedicalRecord(ctx context.Context, id int64) (*MedicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) ListMedicalRecords(ctx context.Context, patientID int64) ([]*MedicalRecord, error) {
	return s.records.ListByPatient(ctx, patientID)
}

// Summarize attaches summary to the record, replacing any earlier one.
func (s *Service) Summarize(ctx context.Context, actorID, id int64, summary string) (*MedicalRecord, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		var errs errsx.Map
		errs.Set("summary", "summary is required")
		return nil, apperr.Validation("medical record", errs.AsError())
	}

	var out *MedicalRecord
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		r, err := s.records.SetSummary(ctx, id, summary)
		if err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, actorID, access.RecordRef(id), access.RecordTypeMedicalRecord, access.ActionSummarize); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// GenerateSummary runs the summarizer over the record's attached file and
// attaches the result.
func (s *Service) GenerateSummary(ctx context.Context, actorID, id int64) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.FileURL == nil {
		return nil, apperr.InvalidState("medical record", "record has no attached file to summarize")
	}
	doc, err := s.readFile(ctx, *r.FileURL)
	if err != nil {
		return nil, err
	}

	cctx, cancel := s.collaboratorCtx(ctx)
	summary, err := s.summarizer.Summarize(cctx, doc)
	cancel()
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("record_id", id).Msg("summarizer failed")
		return nil, apperr.External(CollaboratorSummarizer, err)
	}
	return s.Summarize(ctx, actorID, id, summary)
}

// Verify anchors the record and marks it verified. A record that is already
// verified is returned unchanged; its hash is never replaced.
func (s *Service) Verify(ctx context.Context, actorID, id int64) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsVerified {
		return r, nil
	}

	cctx, cancel := s.collaboratorCtx(ctx)
	hash, err := s.anchor.Anchor(cctx, anchor.Subject{
		Kind:   access.RecordTypeMedicalRecord,
		ID:     r.ID,
		Digest: recordDigest(r),
	})
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Int64("record_id", id).Msg("anchoring failed")
		return nil, apperr.External(CollaboratorAnchor, err)
	}

	var out *MedicalRecord
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		r, won, err := s.records.MarkVerified(ctx, id, hash)
		if err != nil {
			return err
		}
		out = r
		if !won {
			s.logger.Debug().Int64("record_id", id).Str("orphaned_anchor", hash).Msg("record verified concurrently")
			return nil
		}
		_, err = s.recorder.Record(ctx, actorID, access.RecordRef(id), access.RecordTypeMedicalRecord, access.ActionVerify)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func recordDigest(r *MedicalRecord) string {
	var file []byte
	if r.FileURL != nil {
		file = []byte(*r.FileURL)
	}
	return anchor.Digest(
		[]byte(strconv.FormatInt(r.ID, 10)),
		[]byte(strconv.FormatInt(r.PatientID, 10)),
		[]byte(r.RecordType),
		r.Content,
		file,
	)
}

// MyMedicalRecords lists the records of the patient owned by userID and
// notes the viewing in the access trail.
func (s *Service) MyMedicalRecords(ctx context.Context, userID int64) ([]*MedicalRecord, error) {
	p, err := s.patients.GetPatientByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out, err := s.records.ListByPatient(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.recorder.Record(ctx, userID, nil, access.RecordTypeMedicalRecords, access.ActionViewOwnRecords); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenRecordFile streams the file attached to r.
func (s *Service) OpenRecordFile(ctx context.Context, r *MedicalRecord) (io.ReadCloser, *blobstore.Object, error) {
	if r.FileURL == nil {
		return nil, nil, apperr.NotFound("file", r.ID)
	}
	return s.openFile(ctx, *r.FileURL)
}

// -- Prescriptions --

// CreatePrescription stores the image and a new prescription with a freshly
// generated prescription id. Colliding ids are regenerated.
func (s *Service) CreatePrescription(ctx context.Context, p *Prescription, image *Attachment) error {
	var errs errsx.Map
	if p.PatientID <= 0 {
		errs.Set("patientId", "patientId is required")
	}
	if p.CreatedBy <= 0 {
		errs.Set("createdBy", "createdBy is required")
	}
	if image == nil {
		errs.Set("imageData", "prescription image is required")
	}
	if !errs.IsEmpty() {
		return apperr.Validation("prescription", errs.AsError())
	}
	if _, err := s.patients.GetPatient(ctx, p.PatientID); err != nil {
		return err
	}

	obj, err := s.putFile(ctx, image)
	if err != nil {
		return err
	}
	p.ID = 0
	p.ImageURL = obj.Ref()
	p.ImageType = &obj.ContentType
	p.ExtractedText = nil
	p.Medications = []docai.Medication{}
	p.IsProcessed = false

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, genErr := s.codeGen()
		if genErr != nil {
			err = fmt.Errorf("generate prescription id: %w", genErr)
			break
		}
		p.PrescriptionCode = code
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.rx.Create(ctx, p); err != nil {
				return err
			}
			_, err := s.recorder.Record(ctx, p.CreatedBy, access.RecordRef(p.ID), access.RecordTypePrescription, access.ActionCreate)
			return err
		})
		if !apperr.IsConflict(err) {
			break
		}
		s.logger.Warn().Str("prescription_id", code).Int("attempt", attempt).Msg("prescription id collision")
	}
	if err != nil {
		s.discardFile(ctx, obj.Key)
		return err
	}
	return nil
}

func (s *Service) GetPrescription(ctx context.Context, id int64) (*Prescription, error) {
	return s.rx.GetByID(ctx, id)
}

func (s *Service) ListPrescriptions(ctx context.Context, patientID int64) ([]*Prescription, error) {
	return s.rx.ListByPatient(ctx, patientID)
}

func (s *Service) RecentPrescriptions(ctx context.Context, n int) ([]*Prescription, error) {
	return s.rx.ListRecent(ctx, n)
}

// AttachExtraction stores OCR output on the prescription and marks it
// processed. It may be called again to overwrite an earlier result. A nil
// meds is derived from text.
func (s *Service) AttachExtraction(ctx context.Context, actorID, id int64, text string, meds []docai.Medication) (*Prescription, error) {
	if meds == nil {
		meds = docai.ExtractMedications(text)
	}

	var out *Prescription
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.rx.SetExtraction(ctx, id, text, meds)
		if err != nil {
			return err
		}
		if _, err := s.recorder.Record(ctx, actorID, access.RecordRef(id), access.RecordTypePrescription, access.ActionProcess); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// ProcessPrescription runs OCR over the stored image and attaches the
// extracted text and the medications parsed from it.
func (s *Service) ProcessPrescription(ctx context.Context, actorID, id int64) (*Prescription, error) {
	p, err := s.rx.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.readFile(ctx, p.ImageURL)
	if err != nil {
		return nil, err
	}

	cctx, cancel := s.collaboratorCtx(ctx)
	text, err := s.ocr.ExtractText(cctx, doc)
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Int64("prescription", id).Msg("ocr failed")
		return nil, apperr.External(CollaboratorOCR, err)
	}
	return s.AttachExtraction(ctx, actorID, id, text, nil)
}

// OpenPrescriptionImage streams the scanned image of p.
func (s *Service) OpenPrescriptionImage(ctx context.Context, p *Prescription) (io.ReadCloser, *blobstore.Object, error) {
	return s.openFile(ctx, p.ImageURL)
}

// newPrescriptionCode returns "Rx-" followed by six digits, the first
// non-zero.
func newPrescriptionCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Rx-%06d", n.Int64()+100000), nil
}

// -- Surgery documents --

func (s *Service) CreateSurgeryDocument(ctx context.Context, d *SurgeryDocument) error {
	d.ProcedureType = strings.TrimSpace(d.ProcedureType)
	d.SurgeryDate = strings.TrimSpace(d.SurgeryDate)

	var errs errsx.Map
	if d.PatientID <= 0 {
		errs.Set("patientId", "patientId is required")
	}
	if d.ProcedureType == "" {
		errs.Set("procedureType", "procedureType is required")
	}
	if _, err := time.Parse(dateLayout, d.SurgeryDate); err != nil {
		errs.Set("surgeryDate", "surgeryDate must be formatted as YYYY-MM-DD")
	}
	if !hasJSON(d.Documentation) {
		errs.Set("documentation", "documentation must be a JSON value")
	}
	if d.CreatedBy <= 0 {
		errs.Set("createdBy", "createdBy is required")
	}
	if !errs.IsEmpty() {
		return apperr.Validation("surgery document", errs.AsError())
	}
	if _, err := s.patients.GetPatient(ctx, d.PatientID); err != nil {
		return err
	}

	d.ID = 0
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.surgery.Create(ctx, d); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, d.CreatedBy, access.RecordRef(d.ID), access.RecordTypeSurgeryDocument, access.ActionCreate)
		return err
	})
}

func (s *Service) GetSurgeryDocument(ctx context.Context, id int64) (*SurgeryDocument, error) {
	return s.surgery.GetByID(ctx, id)
}

func (s *Service) ListSurgeryDocuments(ctx context.Context, patientID int64) ([]*SurgeryDocument, error) {
	return s.surgery.ListByPatient(ctx, patientID)
}

// SurgeryTemplates returns the names of the available documentation
// templates.
func (s *Service) SurgeryTemplates() []string {
	return append([]string{}, s.templates...)
}

// -- Collaborators --

func (s *Service) collaboratorCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) putFile(ctx context.Context, a *Attachment) (*blobstore.Object, error) {
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	obj, err := s.files.Put(cctx, a.FileName, a.ContentType, bytes.NewReader(a.Data))
	if err != nil {
		s.logger.Error().Err(err).Str("file_name", a.FileName).Msg("file store write failed")
		return nil, apperr.External(CollaboratorFileStore, err)
	}
	return obj, nil
}

// discardFile removes a file whose owning row was never committed. It runs
// even if ctx has been cancelled.
func (s *Service) discardFile(ctx context.Context, key string) {
	cctx, cancel := s.collaboratorCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.files.Delete(cctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to delete orphaned blob")
		return
	}
	s.logger.Warn().Str("key", key).Msg("deleted orphaned blob")
}

func (s *Service) openFile(ctx context.Context, ref string) (io.ReadCloser, *blobstore.Object, error) {
	key, ok := blobstore.ParseRef(ref)
	if !ok {
		return nil, nil, apperr.NotFound("file", ref)
	}
	rc, obj, err := s.files.Get(ctx, key)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return nil, nil, apperr.NotFound("file", ref)
	}
	if err != nil {
		return nil, nil, apperr.External(CollaboratorFileStore, err)
	}
	return rc, obj, nil
}

func (s *Service) readFile(ctx context.Context, ref string) (docai.Document, error) {
	cctx, cancel := s.collaboratorCtx(ctx)
	defer cancel()
	rc, obj, err := s.openFile(cctx, ref)
	if err != nil {
		return docai.Document{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return docai.Document{}, apperr.External(CollaboratorFileStore, err)
	}
	return docai.Document{FileName: obj.FileName, ContentType: obj.ContentType, Data: data}, nil
}

func hasJSON(b json.RawMessage) bool {
	t := bytes.TrimSpace(b)
	return len(t) > 0 && !bytes.Equal(t, []byte("null")) && json.Valid(t)
}
