package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/timebank/ledger"
	"github.com/warp/timebank/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testRecord(id string, userID string, date ledger.Date, hours float64) *ledger.OvertimeRecord {
	return &ledger.OvertimeRecord{
		ID:        ledger.RecordID(id),
		UserID:    ledger.UserID(userID),
		Date:      date,
		Hours:     ledger.NewHours(hours),
		Status:    ledger.StatusApproved,
		Consumed:  ledger.ZeroHours(),
		CreatedAt: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// RECORD CRUD
// =============================================================================

func TestStore_RecordRoundtrip(t *testing.T) {
	// GIVEN: A record with every field populated
	// WHEN: Creating and reading it back
	// THEN: All fields survive, decimals exactly

	st := newTestStore(t)
	ctx := context.Background()

	r := testRecord("r1", "emp-1", ledger.NewDate(2026, time.March, 2), 10.25)
	r.Status = ledger.StatusPending
	r.RedemptionType = ledger.RedeemTimeOff
	r.CandidateIDs = []ledger.RecordID{"src-1", "src-2"}
	r.IsAdjustment = true
	r.Description = "release weekend"

	require.NoError(t, st.CreateRecord(ctx, r))

	got, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.UserID, got.UserID)
	assert.True(t, got.Date.Equal(ledger.NewDate(2026, time.March, 2)))
	assert.True(t, got.Hours.Equal(ledger.NewHours(10.25)), "decimal hours must roundtrip exactly")
	assert.Equal(t, ledger.StatusPending, got.Status)
	assert.Equal(t, ledger.RedeemTimeOff, got.RedemptionType)
	assert.Equal(t, []ledger.RecordID{"src-1", "src-2"}, got.CandidateIDs)
	assert.True(t, got.IsAdjustment)
	assert.Equal(t, "release weekend", got.Description)
	assert.Equal(t, 1, got.Version)
}

func TestStore_GetRecord_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestStore_UpdateRecord_BumpsVersion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	r := testRecord("r1", "emp-1", ledger.NewDate(2026, time.March, 2), 10)
	require.NoError(t, st.CreateRecord(ctx, r))

	r.Consumed = ledger.NewHours(4)
	require.NoError(t, st.UpdateRecord(ctx, r))
	assert.Equal(t, 2, r.Version)

	got, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.Consumed.Equal(ledger.NewHours(4)))
	assert.Equal(t, 2, got.Version)
}

func TestStore_UpdateRecord_StaleVersion_Conflict(t *testing.T) {
	// GIVEN: Two readers loaded the same record version
	// WHEN: The second writes after the first already bumped the version
	// THEN: The stale write fails with ErrConcurrentModification

	st := newTestStore(t)
	ctx := context.Background()

	r := testRecord("r1", "emp-1", ledger.NewDate(2026, time.March, 2), 10)
	require.NoError(t, st.CreateRecord(ctx, r))

	first, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)
	second, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)

	first.Consumed = ledger.NewHours(4)
	require.NoError(t, st.UpdateRecord(ctx, first))

	second.Consumed = ledger.NewHours(6)
	err = st.UpdateRecord(ctx, second)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	// The first write won.
	got, err := st.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, got.Consumed.Equal(ledger.NewHours(4)))
}

func TestStore_UpdateRecord_Missing_NotFound(t *testing.T) {
	st := newTestStore(t)

	r := testRecord("ghost", "emp-1", ledger.NewDate(2026, time.March, 2), 1)
	r.Version = 1
	err := st.UpdateRecord(context.Background(), r)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestStore_DeleteRecord(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	r := testRecord("r1", "emp-1", ledger.NewDate(2026, time.March, 2), 10)
	require.NoError(t, st.CreateRecord(ctx, r))

	require.NoError(t, st.DeleteRecord(ctx, "r1"))

	_, err := st.GetRecord(ctx, "r1")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	assert.ErrorIs(t, st.DeleteRecord(ctx, "r1"), ledger.ErrRecordNotFound)
}

// =============================================================================
// LISTING & ORDERING
// =============================================================================

func TestStore_ListByUser_OldestFirst(t *testing.T) {
	// GIVEN: Records inserted out of date order, plus another user's record
	// WHEN: Listing for emp-1
	// THEN: Only emp-1's records, ordered by date ascending

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateRecord(ctx, testRecord("mar", "emp-1", ledger.NewDate(2026, time.March, 5), 3)))
	require.NoError(t, st.CreateRecord(ctx, testRecord("jan", "emp-1", ledger.NewDate(2026, time.January, 5), 1)))
	require.NoError(t, st.CreateRecord(ctx, testRecord("feb", "emp-1", ledger.NewDate(2026, time.February, 5), 2)))
	require.NoError(t, st.CreateRecord(ctx, testRecord("other", "emp-2", ledger.NewDate(2026, time.January, 1), 9)))

	records, err := st.ListByUser(ctx, "emp-1")
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, ledger.RecordID("jan"), records[0].ID)
	assert.Equal(t, ledger.RecordID("feb"), records[1].ID)
	assert.Equal(t, ledger.RecordID("mar"), records[2].ID)
}

func TestStore_ListApprovedEarnings_Filters(t *testing.T) {
	// GIVEN: A mix of approved, pending, consumed, and redemption records
	// WHEN: Listing approved earnings
	// THEN: Only approved positives with availability, oldest first

	st := newTestStore(t)
	ctx := context.Background()

	ok := testRecord("ok", "emp-1", ledger.NewDate(2026, time.February, 1), 10)
	require.NoError(t, st.CreateRecord(ctx, ok))

	pending := testRecord("pending", "emp-1", ledger.NewDate(2026, time.January, 1), 5)
	pending.Status = ledger.StatusPending
	require.NoError(t, st.CreateRecord(ctx, pending))

	spent := testRecord("spent", "emp-1", ledger.NewDate(2026, time.January, 2), 4)
	spent.Consumed = ledger.NewHours(4)
	require.NoError(t, st.CreateRecord(ctx, spent))

	redemption := testRecord("red", "emp-1", ledger.NewDate(2026, time.January, 3), 0)
	redemption.Hours = ledger.NewHours(-2)
	redemption.RedemptionType = ledger.RedeemPayroll
	require.NoError(t, st.CreateRecord(ctx, redemption))

	earlier := testRecord("earlier", "emp-1", ledger.NewDate(2026, time.January, 15), 6)
	require.NoError(t, st.CreateRecord(ctx, earlier))

	records, err := st.ListApprovedEarnings(ctx, "emp-1")
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, ledger.RecordID("earlier"), records[0].ID, "oldest eligible first")
	assert.Equal(t, ledger.RecordID("ok"), records[1].ID)
}

// =============================================================================
// REDEMPTION LINKS
// =============================================================================

func TestStore_Links_Roundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	links := []ledger.RedemptionLink{
		{RedemptionID: "red-1", SourceID: "src-a", HoursDrawn: ledger.NewHours(5), Position: 0},
		{RedemptionID: "red-1", SourceID: "src-b", HoursDrawn: ledger.NewHours(1.5), Position: 1},
		{RedemptionID: "red-2", SourceID: "src-b", HoursDrawn: ledger.NewHours(0.5), Position: 0},
	}
	require.NoError(t, st.CreateLinks(ctx, links))

	byRedemption, err := st.LinksByRedemption(ctx, "red-1")
	require.NoError(t, err)
	require.Len(t, byRedemption, 2)
	assert.Equal(t, ledger.RecordID("src-a"), byRedemption[0].SourceID)
	assert.True(t, byRedemption[1].HoursDrawn.Equal(ledger.NewHours(1.5)))

	bySource, err := st.LinksBySource(ctx, "src-b")
	require.NoError(t, err)
	assert.Len(t, bySource, 2)

	require.NoError(t, st.DeleteLinksByRedemption(ctx, "red-1"))
	byRedemption, err = st.LinksByRedemption(ctx, "red-1")
	require.NoError(t, err)
	assert.Empty(t, byRedemption)

	// red-2 untouched
	remaining, err := st.LinksByRedemption(ctx, "red-2")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_Commit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(tx ledger.RecordStore) error {
		if err := tx.CreateRecord(ctx, testRecord("r1", "emp-1", ledger.NewDate(2026, time.March, 2), 10)); err != nil {
			return err
		}
		return tx.CreateLinks(ctx, []ledger.RedemptionLink{
			{RedemptionID: "red-1", SourceID: "r1", HoursDrawn: ledger.NewHours(2), Position: 0},
		})
	})
	require.NoError(t, err)

	_, err = st.GetRecord(ctx, "r1")
	assert.NoError(t, err)
	links, err := st.LinksByRedemption(ctx, "red-1")
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestStore_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that writes a record then fails
	// WHEN: The transaction returns an error
	// THEN: Nothing is visible afterwards

	st := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx ledger.RecordStore) error {
		if err := tx.CreateRecord(ctx, testRecord("r1", "emp-1", ledger.NewDate(2026, time.March, 2), 10)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.GetRecord(ctx, "r1")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound, "rolled-back write must not be visible")
}

// =============================================================================
// SERVICE ON SQLITE - End-to-end against the real store
// =============================================================================

func TestService_OnSQLite_RedemptionAndRollback(t *testing.T) {
	// GIVEN: The ledger service running on sqlite
	// WHEN: Earning 10h, redeeming 4h, then deleting the redemption
	// THEN: Balance goes 10 -> 6 -> 10 with consumed stamped and restored

	st := newTestStore(t)
	svc := ledger.NewService(st)
	ctx := context.Background()

	earning, err := svc.RecordEarning(ctx, "emp-1", ledger.NewDate(2026, time.March, 2), ledger.NewHours(10), "launch crunch")
	require.NoError(t, err)
	_, err = svc.ApproveEarning(ctx, earning.ID)
	require.NoError(t, err)

	red, err := svc.RequestRedemption(ctx, "emp-1", ledger.NewHours(4), ledger.RedeemTimeOff, nil, true)
	require.NoError(t, err)

	b, err := svc.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(ledger.NewHours(6)))

	require.NoError(t, svc.DeleteRecord(ctx, red.ID))

	b, err = svc.Balance(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(ledger.NewHours(10)))

	got, err := st.GetRecord(ctx, earning.ID)
	require.NoError(t, err)
	assert.True(t, got.Consumed.IsZero())
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

func TestStore_Employees(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	emp := sqlite.Employee{ID: "emp-1", Name: "Dana Smith", Email: "dana@example.com", Department: "Platform"}
	require.NoError(t, st.SaveEmployee(ctx, emp))

	got, err := st.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Dana Smith", got.Name)
	assert.Equal(t, "Platform", got.Department)

	// Upsert updates in place.
	emp.Department = "Infra"
	require.NoError(t, st.SaveEmployee(ctx, emp))
	got, err = st.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "Infra", got.Department)

	missing, err := st.GetEmployee(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, st.SaveEmployee(ctx, sqlite.Employee{ID: "emp-2", Name: "Alex Chen"}))
	all, err := st.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alex Chen", all[0].Name, "ordered by name")
}
