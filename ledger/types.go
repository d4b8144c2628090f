/*
Package ledger implements the overtime time-bank: a per-employee running
balance of banked hours, earned through approved overtime entries and spent
through redemption requests.

PURPOSE:
  This package contains the domain types and algorithms for the ledger:
  balance calculation, redemption allocation, and the mutation service that
  owns every state change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Hours: A signed decimal quantity of hours
  - Date: A civil date (the day hours were earned or a redemption requested)
  - OvertimeRecord: One ledger entry - positive (earning) or negative (redemption)
  - RedemptionLink: Traceability row - which earning funded which redemption

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Traceability: Every redemption records exactly what it drew from where
  3. Derived balance: Balance is always computed from record state, never cached
  4. Type safety: Strong typing for IDs prevents mixing user/record IDs

SEE ALSO:
  - balance.go: Available-balance calculation
  - allocator.go: Spreading a redemption across earning records
  - service.go: The only component allowed to mutate records
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HOURS - Signed decimal quantity
// =============================================================================

type Hours struct {
	Value decimal.Decimal
}

func NewHours(v float64) Hours    { return Hours{Value: decimal.NewFromFloat(v)} }
func NewHoursFromInt(v int) Hours { return Hours{Value: decimal.NewFromInt(int64(v))} }
func ZeroHours() Hours            { return Hours{Value: decimal.Zero} }

func ParseHours(s string) (Hours, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Hours{}, err
	}
	return Hours{Value: d}, nil
}

func (h Hours) Add(o Hours) Hours { return Hours{Value: h.Value.Add(o.Value)} }
func (h Hours) Sub(o Hours) Hours { return Hours{Value: h.Value.Sub(o.Value)} }
func (h Hours) Neg() Hours        { return Hours{Value: h.Value.Neg()} }
func (h Hours) Abs() Hours        { return Hours{Value: h.Value.Abs()} }

func (h Hours) IsZero() bool     { return h.Value.IsZero() }
func (h Hours) IsPositive() bool { return h.Value.IsPositive() }
func (h Hours) IsNegative() bool { return h.Value.IsNegative() }

func (h Hours) Equal(o Hours) bool       { return h.Value.Equal(o.Value) }
func (h Hours) GreaterThan(o Hours) bool { return h.Value.GreaterThan(o.Value) }
func (h Hours) LessThan(o Hours) bool    { return h.Value.LessThan(o.Value) }

func (h Hours) String() string { return h.Value.String() }

func (h Hours) Float64() float64 {
	f, _ := h.Value.Float64()
	return f
}

func (h Hours) Min(o Hours) Hours {
	if h.LessThan(o) {
		return h
	}
	return o
}

// =============================================================================
// DATE - Civil date, ISO formatted
// =============================================================================

// Date is a day with no time component. Records carry the day the hours were
// earned or the redemption was requested; ordering by Date gives FIFO.
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), now.Month(), now.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }
func (d Date) IsZero() bool       { return d.Time.IsZero() }
func (d Date) String() string     { return d.Time.Format(dateLayout) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type UserID string

// =============================================================================
// RECORD STATUS - Independent per-record state machine
// =============================================================================

type RecordStatus string

const (
	StatusPending  RecordStatus = "PENDING"
	StatusApproved RecordStatus = "APPROVED"
	StatusRejected RecordStatus = "REJECTED"
)

func (s RecordStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// =============================================================================
// REDEMPTION TYPE - How the employee wants redeemed hours settled
// =============================================================================

// RedemptionType is informational only; it does not automate settlement.
type RedemptionType string

const (
	RedeemPayroll      RedemptionType = "PAYROLL"
	RedeemDaysExchange RedemptionType = "DAYS_EXCHANGE"
	RedeemTimeOff      RedemptionType = "TIME_OFF"
)

func (rt RedemptionType) Valid() bool {
	switch rt {
	case RedeemPayroll, RedeemDaysExchange, RedeemTimeOff:
		return true
	}
	return false
}

// =============================================================================
// OVERTIME RECORD - One entry in the ledger
// =============================================================================

// OvertimeRecord is a single ledger entry.
//
// Positive Hours = an earning (a "source" record that can fund redemptions).
// Negative Hours = a redemption; its magnitude is the amount redeemed.
//
// INVARIANTS:
//   - 0 <= Consumed <= Hours on every positive record
//   - A redemption's |Hours| equals the sum of its links' HoursDrawn once approved
//   - sum(Hours - Consumed) over a user's approved positive records never goes negative
type OvertimeRecord struct {
	ID     RecordID
	UserID UserID
	Date   Date
	Hours  Hours
	Status RecordStatus

	// Consumed is the total already drawn from this record by approved
	// redemptions. Meaningful only on positive records.
	Consumed Hours

	// Redemption-only fields.
	RedemptionType RedemptionType
	// CandidateIDs is the caller-supplied allocation order, persisted while
	// the redemption is pending so approval allocates in the requested order.
	CandidateIDs []RecordID

	// IsAdjustment marks admin-created out-of-band corrections. Audit flag
	// only; no business-rule difference.
	IsAdjustment bool

	Description string

	// Version increments on every write. Consumed-field updates are rejected
	// when the row moved underneath the writer.
	Version int

	CreatedAt time.Time
}

// IsEarning reports whether the record banks hours.
func (r *OvertimeRecord) IsEarning() bool { return r.Hours.IsPositive() }

// IsRedemption reports whether the record spends banked hours.
func (r *OvertimeRecord) IsRedemption() bool { return r.Hours.IsNegative() }

// Available returns the unconsumed remainder of an earning record.
func (r *OvertimeRecord) Available() Hours { return r.Hours.Sub(r.Consumed) }

// RedeemedAmount returns the magnitude of a redemption.
func (r *OvertimeRecord) RedeemedAmount() Hours { return r.Hours.Abs() }

// =============================================================================
// REDEMPTION LINK - Which earning funded which redemption
// =============================================================================

// RedemptionLink records that an approved redemption drew HoursDrawn from a
// specific earning record. The drawn amount is persisted (not re-derived) so
// deleting the redemption restores exactly what was taken. Links are ordered
// by Position, matching the allocation walk.
type RedemptionLink struct {
	RedemptionID RecordID
	SourceID     RecordID
	HoursDrawn   Hours
	Position     int
}
