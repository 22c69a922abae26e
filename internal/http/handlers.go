package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"pharmacy/internal/domain"
	"pharmacy/internal/repository"
	"pharmacy/internal/service"
)

type Server struct {
	engine        *gin.Engine
	medicines     *service.MedicineService
	prescriptions *service.PrescriptionService
	metrics       http.Handler
}

// NewServer wires routes; metricsHandler may be nil when metrics are not exposed.
func NewServer(medicines *service.MedicineService, prescriptions *service.PrescriptionService, log *zap.Logger, metricsHandler http.Handler) *Server {
	r := gin.New()
	// handlers pass *gin.Context down as context.Context; fall back to the request context for spans and cancellation
	r.ContextWithFallback = true
	r.Use(requestID(), accessLog(log), gin.Recovery())
	s := &Server{engine: r, medicines: medicines, prescriptions: prescriptions, metrics: metricsHandler}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.engine.Group("/api/v1", requireOwner())
	{
		medicines := v1.Group("/medicines")
		medicines.POST("", s.createMedicine)
		medicines.GET(":id", s.getMedicine)
		medicines.PUT(":id", s.updateMedicine)
		medicines.DELETE(":id", s.deleteMedicine)
		medicines.GET("", s.listMedicines)
		medicines.GET("/low-stock", s.lowStockMedicines)

		prescriptions := v1.Group("/prescriptions")
		prescriptions.POST("", s.createPrescription)
		prescriptions.GET("", s.listPrescriptions)
		prescriptions.GET(":id", s.getPrescription)
		prescriptions.POST(":id/complete", s.completePrescription)
		prescriptions.POST(":id/cancel", s.cancelPrescription)
		prescriptions.PUT(":id/status", s.setPrescriptionStatus)
	}
}

// Medicine handlers
type medicineReq struct {
	Name         string          `json:"name"`
	GenericName  string          `json:"generic_name"`
	Category     domain.Category `json:"category"`
	Manufacturer string          `json:"manufacturer"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	Quantity     int64           `json:"quantity"`
	ReorderLevel *int64          `json:"reorder_level"`
	Price        decimal.Decimal `json:"price"`
}

func (r medicineReq) toDomain(owner string) domain.Medicine {
	return domain.Medicine{
		Name:         r.Name,
		GenericName:  r.GenericName,
		Category:     r.Category,
		Manufacturer: r.Manufacturer,
		BatchNumber:  r.BatchNumber,
		ExpiryDate:   r.ExpiryDate,
		Quantity:     r.Quantity,
		Price:        r.Price,
		OwnerID:      owner,
	}
}

// @Summary Create medicine
// @Tags medicines
// @Accept json
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param input body medicineReq true "Medicine"
// @Success 201 {object} domain.Medicine
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /medicines [post]
func (s *Server) createMedicine(c *gin.Context) {
	var req medicineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	m, err := s.medicines.Create(c, req.toDomain(ownerOf(c)), req.ReorderLevel)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// @Summary Get medicine by id
// @Tags medicines
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Medicine ID"
// @Success 200 {object} domain.Medicine
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /medicines/{id} [get]
func (s *Server) getMedicine(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	m, err := s.medicines.GetByID(c, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// updateMedicineReq omitted fields keep their stored values
type updateMedicineReq struct {
	Name         *string          `json:"name"`
	GenericName  *string          `json:"generic_name"`
	Category     *domain.Category `json:"category"`
	Manufacturer *string          `json:"manufacturer"`
	BatchNumber  *string          `json:"batch_number"`
	ExpiryDate   *time.Time       `json:"expiry_date"`
	Quantity     *int64           `json:"quantity"`
	ReorderLevel *int64           `json:"reorder_level"`
	Price        *decimal.Decimal `json:"price"`
}

func (r updateMedicineReq) toPatch() service.MedicinePatch {
	return service.MedicinePatch{
		Name:         r.Name,
		GenericName:  r.GenericName,
		Category:     r.Category,
		Manufacturer: r.Manufacturer,
		BatchNumber:  r.BatchNumber,
		ExpiryDate:   r.ExpiryDate,
		Quantity:     r.Quantity,
		ReorderLevel: r.ReorderLevel,
		Price:        r.Price,
	}
}

// @Summary Update medicine
// @Description Only the fields present in the body are changed.
// @Tags medicines
// @Accept json
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Medicine ID"
// @Param input body updateMedicineReq true "Update"
// @Success 200 {object} domain.Medicine
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /medicines/{id} [put]
func (s *Server) updateMedicine(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req updateMedicineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, err := s.medicines.Update(c, ownerOf(c), id, req.toPatch())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// @Summary Delete medicine
// @Tags medicines
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Medicine ID"
// @Success 204
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /medicines/{id} [delete]
func (s *Server) deleteMedicine(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.medicines.Delete(c, ownerOf(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List medicines
// @Tags medicines
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param q query string false "Name contains"
// @Param category query string false "Category"
// @Param low_stock query bool false "Only quantity <= reorder level"
// @Success 200 {object} medicineList
// @Router /medicines [get]
func (s *Server) listMedicines(c *gin.Context) {
	f := repository.MedicineFilter{
		NameSubstring: c.Query("q"),
		Category:      domain.Category(c.Query("category")),
	}
	if v := c.Query("low_stock"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.LowStockOnly = b
		}
	}
	list, err := s.medicines.List(c, ownerOf(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, medicineList{Count: len(list), Medicines: list})
}

// @Summary Low-stock medicines
// @Description Medicines whose quantity is at or below their reorder level.
// @Tags medicines
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Success 200 {object} medicineList
// @Router /medicines/low-stock [get]
func (s *Server) lowStockMedicines(c *gin.Context) {
	list, err := s.medicines.LowStock(c, ownerOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, medicineList{Count: len(list), Medicines: list})
}

type medicineList struct {
	Count     int               `json:"count"`
	Medicines []domain.Medicine `json:"medicines"`
}

// Prescription handlers
type createPrescriptionReq struct {
	PatientName  string                  `json:"patient_name"`
	PatientAge   int                     `json:"patient_age"`
	PatientPhone string                  `json:"patient_phone"`
	DoctorName   string                  `json:"doctor_name"`
	Items        []service.RequestedItem `json:"items"`
	Notes        string                  `json:"notes"`
}

// @Summary Create prescription
// @Description Matches items against the owner's stock, derives status and total. Nothing is reserved.
// @Tags prescriptions
// @Accept json
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param input body createPrescriptionReq true "Prescription"
// @Success 201 {object} domain.Prescription
// @Failure 400 {object} map[string]string
// @Router /prescriptions [post]
func (s *Server) createPrescription(c *gin.Context) {
	var req createPrescriptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.prescriptions.Create(c, ownerOf(c), service.CreateInput{
		PatientName:  req.PatientName,
		PatientAge:   req.PatientAge,
		PatientPhone: req.PatientPhone,
		DoctorName:   req.DoctorName,
		Items:        req.Items,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type prescriptionList struct {
	Count         int                   `json:"count"`
	Prescriptions []domain.Prescription `json:"prescriptions"`
}

// @Summary List prescriptions
// @Tags prescriptions
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param status query string false "Status filter"
// @Success 200 {object} prescriptionList
// @Failure 400 {object} map[string]string
// @Router /prescriptions [get]
func (s *Server) listPrescriptions(c *gin.Context) {
	list, err := s.prescriptions.ListPrescriptions(c, ownerOf(c), c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, prescriptionList{Count: len(list), Prescriptions: list})
}

// @Summary Get prescription by id
// @Tags prescriptions
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Prescription ID"
// @Success 200 {object} domain.Prescription
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /prescriptions/{id} [get]
func (s *Server) getPrescription(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.prescriptions.GetPrescription(c, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Complete prescription
// @Description Re-validates stock and deducts it for items available at creation, atomically.
// @Tags prescriptions
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Prescription ID"
// @Success 200 {object} domain.Prescription
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /prescriptions/{id}/complete [post]
func (s *Server) completePrescription(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.prescriptions.Complete(c, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Cancel prescription
// @Tags prescriptions
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Prescription ID"
// @Success 200 {object} domain.Prescription
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /prescriptions/{id}/cancel [post]
func (s *Server) cancelPrescription(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.prescriptions.Cancel(c, ownerOf(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type setStatusReq struct {
	Status string `json:"status"`
}

// @Summary Override prescription status
// @Description Administrative override without stock effects; "completed" is refused, use /complete.
// @Tags prescriptions
// @Accept json
// @Produce json
// @Param X-Owner-ID header string true "Owner"
// @Param id path int true "Prescription ID"
// @Param input body setStatusReq true "Status"
// @Success 200 {object} domain.Prescription
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /prescriptions/{id}/status [put]
func (s *Server) setPrescriptionStatus(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.prescriptions.SetStatus(c, ownerOf(c), id, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	var short *service.InsufficientStockError
	if errors.As(err, &short) {
		body["item"] = short.Item
	}
	c.JSON(status, body)
}

func mapErrorToStatus(err error) int {
	var short *service.InsufficientStockError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &short),
		errors.Is(err, repository.ErrInsufficientStock),
		errors.Is(err, service.ErrAlreadyCompleted),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
