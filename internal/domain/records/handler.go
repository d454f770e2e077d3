package records

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medrecords/internal/domain/access"
	"github.com/ehr/medrecords/internal/platform/auth"
	"github.com/ehr/medrecords/internal/platform/docai"
	"github.com/ehr/medrecords/pkg/pagination"
)

type Handler struct {
	svc   *Service
	authz *access.Authority
}

func NewHandler(svc *Service, authz *access.Authority) *Handler {
	return &Handler{svc: svc, authz: authz}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Write endpoints – doctors only
	write := api.Group("", auth.RequireRole(auth.RoleDoctor))
	write.POST("/medical-records", h.CreateMedicalRecord)
	write.POST("/medical-records/:id/summarize", h.SummarizeMedicalRecord)
	write.POST("/medical-records/:id/verify", h.VerifyMedicalRecord)
	write.POST("/prescriptions", h.CreatePrescription)
	write.POST("/prescriptions/:id/process", h.ProcessPrescription)
	write.GET("/prescriptions/recent", h.RecentPrescriptions)
	write.POST("/surgery-documents", h.CreateSurgeryDocument)

	// Read endpoints – doctors and patients, subject to the access authority
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	read.GET("/patients/:id/records", h.ListMedicalRecords)
	read.GET("/patients/:id/prescriptions", h.ListPrescriptions)
	read.GET("/patients/:id/surgery-documents", h.ListSurgeryDocuments)
	read.GET("/medical-records/:id", h.GetMedicalRecord)
	read.GET("/medical-records/:id/file", h.GetMedicalRecordFile)
	read.GET("/prescriptions/:id", h.GetPrescription)
	read.GET("/prescriptions/:id/image", h.GetPrescriptionImage)
	read.GET("/surgery-documents/:id", h.GetSurgeryDocument)
	read.GET("/surgery-templates", h.SurgeryTemplates)

	self := api.Group("", auth.RequireRole(auth.RolePatient))
	self.GET("/my-medical-records", h.MyMedicalRecords)
}

func actorID(c echo.Context) int64 {
	return auth.UserIDFromContext(c.Request().Context())
}

// -- Medical records --

type createMedicalRecordRequest struct {
	PatientID  int64           `json:"patientId"`
	RecordType string          `json:"recordType"`
	Content    json.RawMessage `json:"content"`
	Summary    *string         `json:"summary"`
	FileName   string          `json:"fileName"`
	FileType   string          `json:"fileType"`
	FileData   string          `json:"fileData"`
}

func (h *Handler) CreateMedicalRecord(c echo.Context) error {
	var req createMedicalRecordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid medical record data")
	}
	if req.PatientID > 0 {
		if err := access.RequirePatientAccess(c, h.authz, req.PatientID, access.RecordTypeMedicalRecord); err != nil {
			return err
		}
	}

	var file *Attachment
	if req.FileData != "" {
		a, err := DecodeUpload(req.FileName, req.FileType, req.FileData)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		file = a
	}

	r := &MedicalRecord{
		PatientID:  req.PatientID,
		RecordType: req.RecordType,
		Content:    req.Content,
		Summary:    req.Summary,
		CreatedBy:  actorID(c),
	}
	if err := h.svc.CreateMedicalRecord(c.Request().Context(), r, file); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, r)
}

// loadMedicalRecord fetches the record named by the id parameter and checks
// the caller may see its patient's records.
func (h *Handler) loadMedicalRecord(c echo.Context) (*MedicalRecord, error) {
	id, err := access.ParseID(c, "id")
	if err != nil {
		return nil, err
	}
	r, err := h.svc.GetMedicalRecord(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	scopes := []string{access.RecordTypeMedicalRecord}
	if !access.IsEntityScope(r.RecordType) {
		scopes = append(scopes, r.RecordType)
	}
	if err := access.RequirePatientAccess(c, h.authz, r.PatientID, scopes...); err != nil {
		return nil, err
	}
	return r, nil
}

func (h *Handler) GetMedicalRecord(c echo.Context) error {
	r, err := h.loadMedicalRecord(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListMedicalRecords(c echo.Context) error {
	patientID, err := access.ParseID(c, "id")
	if err != nil {
		return err
	}
	admit, err := access.PatientRecordFilter(c, h.authz, patientID, access.RecordTypeMedicalRecord)
	if err != nil {
		return err
	}
	out, err := h.svc.ListMedicalRecords(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	if admit != nil {
		visible := make([]*MedicalRecord, 0, len(out))
		for _, r := range out {
			if admit(r.RecordType) {
				visible = append(visible, r)
			}
		}
		out = visible
	}
	return c.JSON(http.StatusOK, out)
}

type summarizeRequest struct {
	Summary *string `json:"summary"`
}

// SummarizeMedicalRecord attaches the given summary, or generates one from
// the attached file when the body carries none.
func (h *Handler) SummarizeMedicalRecord(c echo.Context) error {
	r, err := h.loadMedicalRecord(c)
	if err != nil {
		return err
	}
	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid summary data")
	}

	ctx := c.Request().Context()
	if req.Summary == nil {
		r, err = h.svc.GenerateSummary(ctx, actorID(c), r.ID)
	} else {
		r, err = h.svc.Summarize(ctx, actorID(c), r.ID, *req.Summary)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) VerifyMedicalRecord(c echo.Context) error {
	r, err := h.loadMedicalRecord(c)
	if err != nil {
		return err
	}
	r, err = h.svc.Verify(c.Request().Context(), actorID(c), r.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetMedicalRecordFile(c echo.Context) error {
	r, err := h.loadMedicalRecord(c)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.OpenRecordFile(c.Request().Context(), r)
	if err != nil {
		return err
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", obj.FileName))
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

func (h *Handler) MyMedicalRecords(c echo.Context) error {
	out, err := h.svc.MyMedicalRecords(c.Request().Context(), actorID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// -- Prescriptions --

type createPrescriptionRequest struct {
	PatientID int64  `json:"patientId"`
	ImageData string `json:"imageData"`
	ImageType string `json:"imageType"`
	FileName  string `json:"fileName"`
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	var req createPrescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription data")
	}
	if req.PatientID > 0 {
		if err := access.RequirePatientAccess(c, h.authz, req.PatientID, access.RecordTypePrescription); err != nil {
			return err
		}
	}

	var image *Attachment
	if req.ImageData != "" {
		a, err := DecodeUpload(req.FileName, req.ImageType, req.ImageData)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		image = a
	}

	p := &Prescription{PatientID: req.PatientID, CreatedBy: actorID(c)}
	if err := h.svc.CreatePrescription(c.Request().Context(), p, image); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) loadPrescription(c echo.Context) (*Prescription, error) {
	id, err := access.ParseID(c, "id")
	if err != nil {
		return nil, err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if err := access.RequirePatientAccess(c, h.authz, p.PatientID, access.RecordTypePrescription); err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Handler) GetPrescription(c echo.Context) error {
	p, err := h.loadPrescription(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	patientID, err := access.ParseID(c, "id")
	if err != nil {
		return err
	}
	if err := access.RequirePatientAccess(c, h.authz, patientID, access.RecordTypePrescription); err != nil {
		return err
	}
	out, err := h.svc.ListPrescriptions(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) RecentPrescriptions(c echo.Context) error {
	out, err := h.svc.RecentPrescriptions(c.Request().Context(), pagination.Limit(c, pagination.DefaultRecentPrescriptions))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

type processRequest struct {
	ExtractedText *string            `json:"extractedText"`
	Medications   []docai.Medication `json:"medications"`
}

// ProcessPrescription attaches the given extraction, or runs OCR over the
// stored image when the body carries no text.
func (h *Handler) ProcessPrescription(c echo.Context) error {
	p, err := h.loadPrescription(c)
	if err != nil {
		return err
	}
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid extraction data")
	}

	ctx := c.Request().Context()
	if req.ExtractedText == nil {
		p, err = h.svc.ProcessPrescription(ctx, actorID(c), p.ID)
	} else {
		p, err = h.svc.AttachExtraction(ctx, actorID(c), p.ID, *req.ExtractedText, req.Medications)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPrescriptionImage(c echo.Context) error {
	p, err := h.loadPrescription(c)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.OpenPrescriptionImage(c.Request().Context(), p)
	if err != nil {
		return err
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

// -- Surgery documents --

type createSurgeryDocumentRequest struct {
	PatientID     int64           `json:"patientId"`
	ProcedureType string          `json:"procedureType"`
	SurgeryDate   string          `json:"surgeryDate"`
	Findings      *string         `json:"findings"`
	Documentation json.RawMessage `json:"documentation"`
}

func (h *Handler) CreateSurgeryDocument(c echo.Context) error {
	var req createSurgeryDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid surgery document data")
	}
	if req.PatientID > 0 {
		if err := access.RequirePatientAccess(c, h.authz, req.PatientID, access.RecordTypeSurgeryDocument); err != nil {
			return err
		}
	}

	d := &SurgeryDocument{
		PatientID:     req.PatientID,
		ProcedureType: req.ProcedureType,
		SurgeryDate:   req.SurgeryDate,
		Findings:      req.Findings,
		Documentation: req.Documentation,
		CreatedBy:     actorID(c),
	}
	if err := h.svc.CreateSurgeryDocument(c.Request().Context(), d); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetSurgeryDocument(c echo.Context) error {
	id, err := access.ParseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetSurgeryDocument(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if err := access.RequirePatientAccess(c, h.authz, d.PatientID, access.RecordTypeSurgeryDocument); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListSurgeryDocuments(c echo.Context) error {
	patientID, err := access.ParseID(c, "id")
	if err != nil {
		return err
	}
	if err := access.RequirePatientAccess(c, h.authz, patientID, access.RecordTypeSurgeryDocument); err != nil {
		return err
	}
	out, err := h.svc.ListSurgeryDocuments(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) SurgeryTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.SurgeryTemplates())
}
