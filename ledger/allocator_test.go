package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/timebank/ledger"
)

func sources(records ...*ledger.OvertimeRecord) []ledger.SourceAvailability {
	return ledger.EligibleSources(records)
}

// =============================================================================
// GREEDY WALK
// =============================================================================

func TestAllocate_DrainsInOrder(t *testing.T) {
	// GIVEN: Candidates A (5 available) and B (3 available)
	// WHEN: Allocating 6 hours
	// THEN: 5 drawn from A, 1 from B, fully satisfied

	cands := sources(
		earning("A", 5, ledger.StatusApproved),
		earning("B", 3, ledger.StatusApproved),
	)

	alloc := ledger.Allocate(ledger.NewHours(6), cands)

	require.True(t, alloc.Satisfied())
	require.Len(t, alloc.Draws, 2)
	assert.Equal(t, ledger.RecordID("A"), alloc.Draws[0].SourceID)
	assert.True(t, alloc.Draws[0].Amount.Equal(ledger.NewHours(5)))
	assert.Equal(t, ledger.RecordID("B"), alloc.Draws[1].SourceID)
	assert.True(t, alloc.Draws[1].Amount.Equal(ledger.NewHours(1)))
}

func TestAllocate_StopsWhenCovered(t *testing.T) {
	// GIVEN: Three candidates, the first two covering the request
	// WHEN: Allocating
	// THEN: The third candidate is never touched

	cands := sources(
		earning("A", 4, ledger.StatusApproved),
		earning("B", 4, ledger.StatusApproved),
		earning("C", 4, ledger.StatusApproved),
	)

	alloc := ledger.Allocate(ledger.NewHours(8), cands)

	require.True(t, alloc.Satisfied())
	require.Len(t, alloc.Draws, 2)
	for _, d := range alloc.Draws {
		assert.NotEqual(t, ledger.RecordID("C"), d.SourceID)
	}
}

func TestAllocate_ExactBoundary(t *testing.T) {
	// GIVEN: One candidate with exactly the requested amount
	// WHEN: Allocating
	// THEN: A single full draw, zero shortfall

	cands := sources(earning("A", 7.5, ledger.StatusApproved))

	alloc := ledger.Allocate(ledger.NewHours(7.5), cands)

	require.True(t, alloc.Satisfied())
	require.Len(t, alloc.Draws, 1)
	assert.True(t, alloc.Draws[0].Amount.Equal(ledger.NewHours(7.5)))
}

func TestAllocate_Shortfall(t *testing.T) {
	// GIVEN: Candidates covering only 6 of the 10 requested hours
	// WHEN: Allocating
	// THEN: Draws total 6, shortfall is 4, never over-drawn

	cands := sources(
		earning("A", 4, ledger.StatusApproved),
		earning("B", 2, ledger.StatusApproved),
	)

	alloc := ledger.Allocate(ledger.NewHours(10), cands)

	assert.False(t, alloc.Satisfied())
	assert.True(t, alloc.Shortfall.Equal(ledger.NewHours(4)), "expected shortfall 4, got %s", alloc.Shortfall)
	assert.True(t, alloc.TotalDrawn().Equal(ledger.NewHours(6)))
}

func TestAllocate_Conservation(t *testing.T) {
	// GIVEN: Any satisfied allocation
	// THEN: Sum of draws equals the requested amount

	cands := sources(
		earning("A", 3.25, ledger.StatusApproved),
		earning("B", 1.5, ledger.StatusApproved),
		earning("C", 10, ledger.StatusApproved),
	)

	requested := ledger.NewHours(4.75)
	alloc := ledger.Allocate(requested, cands)

	require.True(t, alloc.Satisfied())
	assert.True(t, alloc.TotalDrawn().Equal(requested),
		"drawn %s != requested %s", alloc.TotalDrawn(), requested)
}

func TestAllocate_SkipsExhaustedCandidates(t *testing.T) {
	// GIVEN: The first candidate is fully consumed
	// WHEN: Allocating
	// THEN: The allocator skips it and draws from the next

	cands := sources(
		consumedEarning("spent", 5, 5),
		earning("fresh", 5, ledger.StatusApproved),
	)

	alloc := ledger.Allocate(ledger.NewHours(2), cands)

	require.True(t, alloc.Satisfied())
	require.Len(t, alloc.Draws, 1)
	assert.Equal(t, ledger.RecordID("fresh"), alloc.Draws[0].SourceID)
}

func TestAllocate_ZeroAndNegativeRequest(t *testing.T) {
	// GIVEN: Available candidates
	// WHEN: Allocating zero or a negative amount
	// THEN: No draws, no shortfall

	cands := sources(earning("A", 5, ledger.StatusApproved))

	for _, amount := range []ledger.Hours{ledger.ZeroHours(), ledger.NewHours(-3)} {
		alloc := ledger.Allocate(amount, cands)
		assert.Empty(t, alloc.Draws)
		assert.True(t, alloc.Satisfied())
	}
}

func TestAllocate_DoesNotMutateCandidates(t *testing.T) {
	// GIVEN: A candidate record
	// WHEN: Allocating from it
	// THEN: The record's Consumed is untouched (applying draws is the service's job)

	rec := earning("A", 5, ledger.StatusApproved)
	cands := sources(rec)

	ledger.Allocate(ledger.NewHours(3), cands)

	assert.True(t, rec.Consumed.IsZero(), "allocator must not mutate records")
}

// =============================================================================
// LINK MATERIALIZATION
// =============================================================================

func TestAllocation_Links_PreserveOrder(t *testing.T) {
	// GIVEN: A two-draw allocation
	// WHEN: Materializing links for a redemption
	// THEN: Positions follow the draw order and amounts carry over

	cands := sources(
		earning("A", 5, ledger.StatusApproved),
		earning("B", 3, ledger.StatusApproved),
	)
	alloc := ledger.Allocate(ledger.NewHours(6), cands)

	links := alloc.Links("red-1")

	require.Len(t, links, 2)
	assert.Equal(t, 0, links[0].Position)
	assert.Equal(t, ledger.RecordID("A"), links[0].SourceID)
	assert.True(t, links[0].HoursDrawn.Equal(ledger.NewHours(5)))
	assert.Equal(t, 1, links[1].Position)
	assert.Equal(t, ledger.RecordID("red-1"), links[1].RedemptionID)
}
