/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request structs carry go-playground/validator tags and are validated in
  one place (Handler.decodeAndValidate) before touching the service. Domain
  rules (sufficiency, status transitions) stay in the ledger; the tags only
  guard shape.

RESULT ENVELOPE:
  Mutations respond with MutationResult - an explicit success/message/payload
  contract - so callers never depend on ambient notification channels.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/timebank/ledger"
	"github.com/warp/timebank/store/sqlite"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type CreateEmployeeRequest struct {
	ID         string `json:"id" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	Department string `json:"department"`
}

func toEmployeeDTO(e sqlite.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:         e.ID,
		Name:       e.Name,
		Email:      e.Email,
		Department: e.Department,
		CreatedAt:  e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// RECORDS
// =============================================================================

type RecordDTO struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Date           string   `json:"date"`
	Hours          float64  `json:"hours"`
	Status         string   `json:"status"`
	Consumed       float64  `json:"consumed"`
	Available      float64  `json:"available,omitempty"`
	RedemptionType string   `json:"redemption_type,omitempty"`
	CandidateIDs   []string `json:"candidate_ids,omitempty"`
	IsAdjustment   bool     `json:"is_adjustment,omitempty"`
	Description    string   `json:"description,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

func toRecordDTO(r *ledger.OvertimeRecord) RecordDTO {
	dto := RecordDTO{
		ID:             string(r.ID),
		UserID:         string(r.UserID),
		Date:           r.Date.String(),
		Hours:          r.Hours.Float64(),
		Status:         string(r.Status),
		Consumed:       r.Consumed.Float64(),
		RedemptionType: string(r.RedemptionType),
		IsAdjustment:   r.IsAdjustment,
		Description:    r.Description,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
	}
	if r.IsEarning() {
		dto.Available = r.Available().Float64()
	}
	for _, id := range r.CandidateIDs {
		dto.CandidateIDs = append(dto.CandidateIDs, string(id))
	}
	return dto
}

type CreateEarningRequest struct {
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Hours       float64 `json:"hours" validate:"required,gt=0"`
	Description string  `json:"description"`
}

type CreateRedemptionRequest struct {
	Hours          float64  `json:"hours" validate:"required,gt=0"`
	RedemptionType string   `json:"redemption_type" validate:"required,oneof=PAYROLL DAYS_EXCHANGE TIME_OFF"`
	CandidateIDs   []string `json:"candidate_ids"`
	AutoApprove    bool     `json:"auto_approve"`
}

// =============================================================================
// BALANCE
// =============================================================================

type BalanceDTO struct {
	UserID        string             `json:"user_id"`
	Available     float64            `json:"available"`
	TotalEarned   float64            `json:"total_earned"`
	TotalConsumed float64            `json:"total_consumed"`
	Sources       []BalanceSourceDTO `json:"sources,omitempty"`
	AsOf          string             `json:"as_of"`
}

type BalanceSourceDTO struct {
	RecordID    string  `json:"record_id"`
	Date        string  `json:"date"`
	Hours       float64 `json:"hours"`
	Consumed    float64 `json:"consumed"`
	Available   float64 `json:"available"`
	Description string  `json:"description,omitempty"`
}

// =============================================================================
// REDEMPTION REPORTING VIEW
// =============================================================================

type RedemptionDetailDTO struct {
	Redemption RecordDTO           `json:"redemption"`
	TotalDrawn float64             `json:"total_drawn"`
	Sources    []RedemptionLinkDTO `json:"sources"`
}

type RedemptionLinkDTO struct {
	RecordID    string  `json:"record_id"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
	Hours       float64 `json:"hours"`
	HoursDrawn  float64 `json:"hours_drawn"`
	Remaining   float64 `json:"remaining"`
}

// =============================================================================
// MUTATION RESULT ENVELOPE
// =============================================================================

// MutationResult is the explicit success/failure contract returned by every
// mutation endpoint.
type MutationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Record  any    `json:"record,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
