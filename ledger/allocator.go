/*
allocator.go - Spreading a redemption across earning records

PURPOSE:
  Given a requested redemption amount and an ordered list of earning records,
  decide how much to draw from each. The walk is greedy and order-respecting:
  drain the first candidate before touching the second.

EXAMPLE:
  Candidates [A(available=5), B(available=3)], request 6 hours:
    draw 5 from A (A fully consumed)
    draw 1 from B (B has 2 left)
    remaining = 0

ORDERING:
  The allocator consumes candidates exactly in the order given. Callers that
  want FIFO sort by date first; callers that want a hand-picked order pass
  it directly. The allocator itself never re-sorts.

SHORTFALL:
  If the candidates cannot cover the request, the result reports the
  uncovered remainder instead of over-drawing. The mutation service rejects
  under-funded redemptions before allocating; the shortfall field exists so
  that decision stays observable and testable.

PURITY:
  Allocate never mutates its inputs. It returns the draws; applying them to
  the records' Consumed fields is the service's job, inside a transaction.

SEE ALSO:
  - balance.go: EligibleSources produces pre-filtered candidates
  - service.go: Applies draws and persists redemption links
*/
package ledger

// =============================================================================
// ALLOCATION RESULT
// =============================================================================

// Draw is one slice of an allocation: the amount taken from a single source.
type Draw struct {
	SourceID RecordID
	Amount   Hours
}

// Allocation is the outcome of spreading a request across candidates.
type Allocation struct {
	Requested Hours
	Draws     []Draw

	// Shortfall is the uncovered remainder; zero when fully satisfied.
	Shortfall Hours
}

// Satisfied reports whether the request was fully covered.
func (a *Allocation) Satisfied() bool { return a.Shortfall.IsZero() }

// TotalDrawn sums the per-source draws.
func (a *Allocation) TotalDrawn() Hours {
	total := ZeroHours()
	for _, d := range a.Draws {
		total = total.Add(d.Amount)
	}
	return total
}

// Links materializes the draws as redemption links for persistence.
func (a *Allocation) Links(redemptionID RecordID) []RedemptionLink {
	links := make([]RedemptionLink, 0, len(a.Draws))
	for i, d := range a.Draws {
		links = append(links, RedemptionLink{
			RedemptionID: redemptionID,
			SourceID:     d.SourceID,
			HoursDrawn:   d.Amount,
			Position:     i,
		})
	}
	return links
}

// =============================================================================
// ALLOCATOR
// =============================================================================

// Allocate walks candidates in order, drawing min(available, remaining) from
// each until the request is covered or candidates run out. Candidates with
// nothing available are skipped; candidates after the request is covered are
// never touched.
func Allocate(requested Hours, candidates []SourceAvailability) *Allocation {
	alloc := &Allocation{Requested: requested, Shortfall: ZeroHours()}
	if !requested.IsPositive() {
		return alloc
	}

	remaining := requested
	for _, c := range candidates {
		if remaining.IsZero() {
			break
		}
		if !c.Available.IsPositive() {
			continue
		}

		draw := c.Available.Min(remaining)
		alloc.Draws = append(alloc.Draws, Draw{SourceID: c.Record.ID, Amount: draw})
		remaining = remaining.Sub(draw)
	}

	alloc.Shortfall = remaining
	return alloc
}
