/*
handlers.go - HTTP handlers for the overtime time-bank

PURPOSE:
  Exposes the ledger via REST. Handles HTTP request/response, JSON
  serialization, input-shape validation, and delegates everything else to
  the ledger service.

ENDPOINTS:
  Employees:
    GET    /api/employees                     List employees
    POST   /api/employees                     Create employee
    GET    /api/employees/{id}                Get employee
    GET    /api/employees/{id}/balance        Balance + per-record breakdown
    GET    /api/employees/{id}/records        Full ledger listing

  Ledger:
    POST   /api/employees/{id}/earnings       File an overtime earning
    POST   /api/employees/{id}/adjustments    Admin balance adjustment
    POST   /api/employees/{id}/redemptions    Request a redemption
    POST   /api/records/{id}/approve          Approve earning or redemption
    POST   /api/records/{id}/reject           Reject a pending record
    DELETE /api/records/{id}                  Delete (cascade=true to reverse
                                              dependent redemptions)
    GET    /api/redemptions/{id}              Redemption reporting view

ERROR MAPPING:
  400  validation failures (shape or domain)
  404  unknown record/employee
  409  concurrent modification (retryable) / dependent consumption
  422  insufficient balance
  500  persistence failures

SECURITY NOTE:
  No authentication; the surrounding application fronts this API.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/timebank/ledger"
	"github.com/warp/timebank/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   *ledger.Service
	Store    *sqlite.Store
	Log      *zap.Logger
	validate *validator.Validate
}

// NewHandler creates a handler over the ledger service and directory store.
func NewHandler(svc *ledger.Service, store *sqlite.Store, log *zap.Logger) *Handler {
	return &Handler{
		Ledger:   svc,
		Store:    store,
		Log:      log,
		validate: validator.New(),
	}
}

// decodeAndValidate unmarshals the body into req and applies the struct's
// validation tags. Writes the error response itself; callers just return.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return false
	}
	return true
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	emp := sqlite.Employee{
		ID:         req.ID,
		Name:       req.Name,
		Email:      req.Email,
		Department: req.Department,
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// =============================================================================
// BALANCE & LEDGER READS
// =============================================================================

// GetBalance returns the employee's available balance with the per-record
// breakdown the reporting view renders.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	balance, sources, err := h.Ledger.BalanceBreakdown(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dto := BalanceDTO{
		UserID:        string(userID),
		Available:     balance.Available.Float64(),
		TotalEarned:   balance.TotalEarned.Float64(),
		TotalConsumed: balance.TotalConsumed.Float64(),
		AsOf:          time.Now().UTC().Format(time.RFC3339),
	}
	for _, src := range sources {
		dto.Sources = append(dto.Sources, BalanceSourceDTO{
			RecordID:    string(src.Record.ID),
			Date:        src.Record.Date.String(),
			Hours:       src.Record.Hours.Float64(),
			Consumed:    src.Record.Consumed.Float64(),
			Available:   src.Available.Float64(),
			Description: src.Record.Description,
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	records, err := h.Ledger.Records(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dtos := make([]RecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRedemption returns the reporting view: the redemption plus each funding
// record's date, description, hours, exact draw, and remaining availability.
func (h *Handler) GetRedemption(w http.ResponseWriter, r *http.Request) {
	id := ledger.RecordID(chi.URLParam(r, "id"))

	detail, err := h.Ledger.Redemption(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	dto := RedemptionDetailDTO{
		Redemption: toRecordDTO(detail.Redemption),
		TotalDrawn: detail.TotalDrawn().Float64(),
	}
	for _, src := range detail.Sources {
		dto.Sources = append(dto.Sources, RedemptionLinkDTO{
			RecordID:    string(src.Record.ID),
			Date:        src.Record.Date.String(),
			Description: src.Record.Description,
			Hours:       src.Record.Hours.Float64(),
			HoursDrawn:  src.HoursDrawn.Float64(),
			Remaining:   src.Record.Available().Float64(),
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

func (h *Handler) CreateEarning(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var req CreateEarningRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format (use YYYY-MM-DD)", err)
		return
	}

	rec, err := h.Ledger.RecordEarning(r.Context(), userID, date, ledger.NewHours(req.Hours), req.Description)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.Log.Info("earning recorded",
		zap.String("user_id", string(userID)),
		zap.Float64("hours", req.Hours))
	writeJSON(w, http.StatusCreated, MutationResult{
		Success: true,
		Message: "earning recorded, pending approval",
		Record:  toRecordDTO(rec),
	})
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var req CreateEarningRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format (use YYYY-MM-DD)", err)
		return
	}

	rec, err := h.Ledger.RecordAdjustment(r.Context(), userID, date, ledger.NewHours(req.Hours), req.Description)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.Log.Info("adjustment recorded",
		zap.String("user_id", string(userID)),
		zap.Float64("hours", req.Hours))
	writeJSON(w, http.StatusCreated, MutationResult{
		Success: true,
		Message: "adjustment recorded",
		Record:  toRecordDTO(rec),
	})
}

func (h *Handler) CreateRedemption(w http.ResponseWriter, r *http.Request) {
	userID := ledger.UserID(chi.URLParam(r, "id"))

	var req CreateRedemptionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	var candidates []ledger.RecordID
	for _, id := range req.CandidateIDs {
		candidates = append(candidates, ledger.RecordID(id))
	}

	rec, err := h.Ledger.RequestRedemption(
		r.Context(), userID,
		ledger.NewHours(req.Hours),
		ledger.RedemptionType(req.RedemptionType),
		candidates,
		req.AutoApprove,
	)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	msg := "redemption requested, pending approval"
	if req.AutoApprove {
		msg = "redemption approved and allocated"
	}
	h.Log.Info("redemption requested",
		zap.String("user_id", string(userID)),
		zap.Float64("hours", req.Hours),
		zap.String("type", req.RedemptionType),
		zap.Bool("auto_approve", req.AutoApprove))
	writeJSON(w, http.StatusCreated, MutationResult{
		Success: true,
		Message: msg,
		Record:  toRecordDTO(rec),
	})
}

func (h *Handler) ApproveRecord(w http.ResponseWriter, r *http.Request) {
	id := ledger.RecordID(chi.URLParam(r, "id"))

	rec, err := h.Ledger.ApproveRecord(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.Log.Info("record approved", zap.String("record_id", string(id)))
	writeJSON(w, http.StatusOK, MutationResult{
		Success: true,
		Message: "record approved",
		Record:  toRecordDTO(rec),
	})
}

func (h *Handler) RejectRecord(w http.ResponseWriter, r *http.Request) {
	id := ledger.RecordID(chi.URLParam(r, "id"))

	rec, err := h.Ledger.RejectRecord(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.Log.Info("record rejected", zap.String("record_id", string(id)))
	writeJSON(w, http.StatusOK, MutationResult{
		Success: true,
		Message: "record rejected",
		Record:  toRecordDTO(rec),
	})
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := ledger.RecordID(chi.URLParam(r, "id"))
	cascade := r.URL.Query().Get("cascade") == "true"

	var err error
	if cascade {
		err = h.Ledger.DeleteRecordCascade(r.Context(), id)
	} else {
		err = h.Ledger.DeleteRecord(r.Context(), id)
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	h.Log.Info("record deleted",
		zap.String("record_id", string(id)),
		zap.Bool("cascade", cascade))
	writeJSON(w, http.StatusOK, MutationResult{
		Success: true,
		Message: "record deleted",
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeLedgerError maps ledger error taxonomy to HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record not found", err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, "insufficient balance", err)
	case errors.Is(err, ledger.ErrDependentConsumption):
		writeError(w, http.StatusConflict, "record funds approved redemptions", err)
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent modification, retry", err)
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation failed", err)
	default:
		h.Log.Error("ledger operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
