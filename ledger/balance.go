/*
balance.go - Available-balance calculation

PURPOSE:
  Computes a user's available overtime balance from their records. This is
  the central calculation that answers "how many banked hours can this
  employee still spend?"

THE RULE:
  Available = sum(Hours - Consumed) over APPROVED records with Hours > 0.

  Nothing else contributes:
  - Pending and rejected records are invisible to the balance
  - Redemptions never appear directly; they reduce balance only through
    the Consumed field they stamped onto their source records
  - Adjustments are ordinary positive records (IsAdjustment is audit-only)

GUARANTEES:
  - Pure: no I/O, no side effects, deterministic for a given record set
  - Non-negative: per-record consumed never exceeds hours (enforced by the
    service), so the sum of remainders cannot go below zero
  - Empty input yields zero

SEE ALSO:
  - allocator.go: Decides which records a redemption draws from
  - service.go: Enforces the invariants this calculation relies on
*/
package ledger

// =============================================================================
// BALANCE - Computed, never stored
// =============================================================================

// Balance summarizes a user's time bank.
type Balance struct {
	UserID UserID

	// Available is what can still be redeemed: sum of unconsumed hours
	// across approved earning records.
	Available Hours

	// TotalEarned is the sum of approved earning hours (before consumption).
	TotalEarned Hours

	// TotalConsumed is the sum of consumed hours across approved earnings.
	TotalConsumed Hours
}

// SourceAvailability is one earning record's contribution to the balance,
// used by the reporting view and as allocator input.
type SourceAvailability struct {
	Record    *OvertimeRecord
	Available Hours
}

// =============================================================================
// CALCULATION
// =============================================================================

// AvailableBalance computes the balance from a user's full record set.
// Records belonging to other users are the caller's bug, not filtered here.
func AvailableBalance(records []*OvertimeRecord) Balance {
	b := Balance{
		Available:     ZeroHours(),
		TotalEarned:   ZeroHours(),
		TotalConsumed: ZeroHours(),
	}

	for _, r := range records {
		if r.Status != StatusApproved || !r.IsEarning() {
			continue
		}
		if b.UserID == "" {
			b.UserID = r.UserID
		}
		b.TotalEarned = b.TotalEarned.Add(r.Hours)
		b.TotalConsumed = b.TotalConsumed.Add(r.Consumed)
		b.Available = b.Available.Add(r.Available())
	}

	return b
}

// EligibleSources filters records to approved earnings with unconsumed hours,
// preserving input order. This is the pre-filtering the allocator expects.
func EligibleSources(records []*OvertimeRecord) []SourceAvailability {
	var sources []SourceAvailability
	for _, r := range records {
		if r.Status != StatusApproved || !r.IsEarning() {
			continue
		}
		avail := r.Available()
		if !avail.IsPositive() {
			continue
		}
		sources = append(sources, SourceAvailability{Record: r, Available: avail})
	}
	return sources
}
