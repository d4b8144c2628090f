/*
service.go - Ledger mutation service

PURPOSE:
  The only component permitted to create, approve, or delete records. Owns
  invariant enforcement:
  1. Available balance never goes negative
  2. An approved redemption's magnitude equals the sum of its link draws
  3. Consumed never exceeds Hours on any source record
  4. Deleting an approved redemption restores every source by its exact draw

RECORD LIFECYCLE (independent per record, no cross-record FSM):

      ┌─────────┐   approve   ┌──────────┐
      │ PENDING │────────────▶│ APPROVED │
      └─────────┘             └──────────┘
           │ reject
           ▼
      ┌──────────┐
      │ REJECTED │  (terminal)
      └──────────┘

  Records may also be born APPROVED: admin adjustments and admin-initiated
  redemptions (allocation applied at creation).

ALLOCATION TIMING:
  A pending redemption holds nothing. Allocation happens exactly once, at
  the moment the redemption becomes APPROVED, against the user's approved
  earnings at that instant. Sufficiency is re-checked then - the balance may
  have moved since the request was filed.

CONCURRENCY:
  Mutations for the same user are serialized by a per-user mutex, and every
  multi-write operation runs inside store.WithTx. Consumed updates carry a
  version check; a lost race surfaces ErrConcurrentModification for retry
  rather than double-spending hours.

SEE ALSO:
  - allocator.go: The draw computation applied here
  - balance.go: Sufficiency checks
  - store.go: The transactional persistence contract
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates all ledger mutations.
type Service struct {
	store TxRecordStore

	mu    sync.Mutex
	locks map[UserID]*sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

func NewService(store TxRecordStore) *Service {
	return &Service{
		store: store,
		locks: make(map[UserID]*sync.Mutex),
		now:   time.Now,
	}
}

// userLock returns the mutex serializing mutations for one user.
func (s *Service) userLock(id UserID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func newRecordID() RecordID { return RecordID(uuid.NewString()) }

// storeErr classifies a store failure: domain errors pass through untouched,
// everything else is a persistence failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || IsRetryable(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrPersistence, err)
}

// =============================================================================
// EARNINGS
// =============================================================================

// RecordEarning files a self-reported overtime entry, pending approval.
func (s *Service) RecordEarning(ctx context.Context, userID UserID, date Date, hours Hours, description string) (*OvertimeRecord, error) {
	if err := validateEarningInput(userID, date, hours); err != nil {
		return nil, err
	}

	r := &OvertimeRecord{
		ID:          newRecordID(),
		UserID:      userID,
		Date:        date,
		Hours:       hours,
		Status:      StatusPending,
		Consumed:    ZeroHours(),
		Description: description,
		Version:     1,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.store.CreateRecord(ctx, r); err != nil {
		return nil, storeErr("record earning", err)
	}
	return r, nil
}

// RecordAdjustment creates an administrator correction: a positive record
// born APPROVED and flagged for audit.
func (s *Service) RecordAdjustment(ctx context.Context, userID UserID, date Date, hours Hours, description string) (*OvertimeRecord, error) {
	if err := validateEarningInput(userID, date, hours); err != nil {
		return nil, err
	}

	r := &OvertimeRecord{
		ID:           newRecordID(),
		UserID:       userID,
		Date:         date,
		Hours:        hours,
		Status:       StatusApproved,
		Consumed:     ZeroHours(),
		IsAdjustment: true,
		Description:  description,
		Version:      1,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.CreateRecord(ctx, r); err != nil {
		return nil, storeErr("record adjustment", err)
	}
	return r, nil
}

func validateEarningInput(userID UserID, date Date, hours Hours) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if !hours.IsPositive() {
		return &ValidationError{Field: "hours", Reason: "must be positive"}
	}
	return nil
}

// ApproveEarning transitions a pending earning to APPROVED. No allocation
// side effects; the hours simply become available.
func (s *Service) ApproveEarning(ctx context.Context, id RecordID) (*OvertimeRecord, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeErr("approve earning", err)
	}
	if !r.IsEarning() {
		return nil, &ValidationError{Field: "record", Reason: "not an earning record"}
	}

	lock := s.userLock(r.UserID)
	lock.Lock()
	defer lock.Unlock()

	if r.Status != StatusPending {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("can only approve pending records, current status: %s", r.Status)}
	}

	r.Status = StatusApproved
	if err := s.store.UpdateRecord(ctx, r); err != nil {
		return nil, storeErr("approve earning", err)
	}
	return r, nil
}

// RejectRecord transitions a pending record (earning or redemption) to
// REJECTED. Terminal; no balance effect.
func (s *Service) RejectRecord(ctx context.Context, id RecordID) (*OvertimeRecord, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeErr("reject record", err)
	}

	lock := s.userLock(r.UserID)
	lock.Lock()
	defer lock.Unlock()

	if r.Status != StatusPending {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("can only reject pending records, current status: %s", r.Status)}
	}

	r.Status = StatusRejected
	if err := s.store.UpdateRecord(ctx, r); err != nil {
		return nil, storeErr("reject record", err)
	}
	return r, nil
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

// RequestRedemption files a request to spend banked hours. The record's
// Hours is the negated request amount. candidateIDs pins the allocation
// order; empty means oldest-earning-first at approval time.
//
// With autoApprove the record is born APPROVED and allocation runs
// immediately in the same transaction (admin-initiated redemptions).
// Otherwise the record stays PENDING and holds nothing.
//
// The request is rejected with InsufficientBalanceError when the amount
// exceeds the user's available balance.
func (s *Service) RequestRedemption(ctx context.Context, userID UserID, hours Hours, rt RedemptionType, candidateIDs []RecordID, autoApprove bool) (*OvertimeRecord, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if !hours.IsPositive() {
		return nil, &ValidationError{Field: "hours", Reason: "must be positive"}
	}
	if !rt.Valid() {
		return nil, &ValidationError{Field: "redemption_type", Reason: fmt.Sprintf("unknown type %q", rt)}
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	r := &OvertimeRecord{
		ID:             newRecordID(),
		UserID:         userID,
		Date:           Today(),
		Hours:          hours.Neg(),
		Status:         StatusPending,
		Consumed:       ZeroHours(),
		RedemptionType: rt,
		CandidateIDs:   candidateIDs,
		Version:        1,
		CreatedAt:      s.now().UTC(),
	}

	err := s.store.WithTx(ctx, func(tx RecordStore) error {
		if err := s.checkSufficiency(ctx, tx, userID, hours); err != nil {
			return err
		}
		if err := tx.CreateRecord(ctx, r); err != nil {
			return err
		}
		if autoApprove {
			return s.allocateAndApprove(ctx, tx, r)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("request redemption", err)
	}
	return r, nil
}

// ApproveRedemption transitions a pending redemption to APPROVED, running
// the allocation against the user's current approved earnings. Sufficiency
// is re-checked: the balance may have changed since the request was filed.
func (s *Service) ApproveRedemption(ctx context.Context, id RecordID) (*OvertimeRecord, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeErr("approve redemption", err)
	}
	if !r.IsRedemption() {
		return nil, &ValidationError{Field: "record", Reason: "not a redemption record"}
	}

	lock := s.userLock(r.UserID)
	lock.Lock()
	defer lock.Unlock()

	if r.Status != StatusPending {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("can only approve pending records, current status: %s", r.Status)}
	}

	err = s.store.WithTx(ctx, func(tx RecordStore) error {
		if err := s.checkSufficiency(ctx, tx, r.UserID, r.RedeemedAmount()); err != nil {
			return err
		}
		return s.allocateAndApprove(ctx, tx, r)
	})
	if err != nil {
		return nil, storeErr("approve redemption", err)
	}
	return r, nil
}

// ApproveRecord dispatches approval by record kind.
func (s *Service) ApproveRecord(ctx context.Context, id RecordID) (*OvertimeRecord, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeErr("approve record", err)
	}
	if r.IsRedemption() {
		return s.ApproveRedemption(ctx, id)
	}
	return s.ApproveEarning(ctx, id)
}

// checkSufficiency fails with InsufficientBalanceError when the requested
// amount exceeds the user's available balance.
func (s *Service) checkSufficiency(ctx context.Context, store RecordStore, userID UserID, requested Hours) error {
	records, err := store.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	balance := AvailableBalance(records)
	if requested.GreaterThan(balance.Available) {
		return &InsufficientBalanceError{
			UserID:    userID,
			Available: balance.Available,
			Requested: requested,
		}
	}
	return nil
}

// allocateAndApprove runs the allocation for a redemption and persists the
// consumed updates, the links, and the APPROVED status. Must be called with
// the user lock held, inside a store transaction, after a sufficiency check.
func (s *Service) allocateAndApprove(ctx context.Context, tx RecordStore, r *OvertimeRecord) error {
	candidates, err := s.resolveCandidates(ctx, tx, r.UserID, r.CandidateIDs)
	if err != nil {
		return err
	}

	amount := r.RedeemedAmount()
	alloc := Allocate(amount, candidates)
	if !alloc.Satisfied() {
		// The pinned candidates may cover less than the full balance.
		return &InsufficientBalanceError{
			UserID:    r.UserID,
			Available: amount.Sub(alloc.Shortfall),
			Requested: amount,
		}
	}

	// Stamp the draws onto the sources.
	byID := make(map[RecordID]*OvertimeRecord, len(candidates))
	for _, c := range candidates {
		byID[c.Record.ID] = c.Record
	}
	for _, d := range alloc.Draws {
		src := byID[d.SourceID]
		src.Consumed = src.Consumed.Add(d.Amount)
		if src.Consumed.GreaterThan(src.Hours) {
			return fmt.Errorf("allocation overdrew record %s: %w", src.ID, ErrValidation)
		}
		if err := tx.UpdateRecord(ctx, src); err != nil {
			return err
		}
	}

	if err := tx.CreateLinks(ctx, alloc.Links(r.ID)); err != nil {
		return err
	}

	r.Status = StatusApproved
	return tx.UpdateRecord(ctx, r)
}

// resolveCandidates builds the allocation order. Pinned candidate ids are
// honored in the given order, filtered to the user's approved earnings with
// available hours; ineligible ids are skipped, not errors. No pins means
// oldest-first across all approved earnings.
func (s *Service) resolveCandidates(ctx context.Context, store RecordStore, userID UserID, pinned []RecordID) ([]SourceAvailability, error) {
	if len(pinned) == 0 {
		earnings, err := store.ListApprovedEarnings(ctx, userID)
		if err != nil {
			return nil, err
		}
		return EligibleSources(earnings), nil
	}

	var records []*OvertimeRecord
	for _, id := range pinned {
		r, err := store.GetRecord(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if r.UserID != userID {
			continue
		}
		records = append(records, r)
	}
	return EligibleSources(records), nil
}

// =============================================================================
// DELETION & ROLLBACK
// =============================================================================

// DeleteRecord removes a record with compensating balance restoration:
//   - Approved earning with consumed hours: refused with
//     DependentConsumptionError (use DeleteRecordCascade to reverse the
//     dependent redemptions instead).
//   - Approved redemption: every linked source's Consumed is restored by the
//     exact drawn amount, then the links and the record are removed.
//   - Anything else: plain delete, no side effects.
func (s *Service) DeleteRecord(ctx context.Context, id RecordID) error {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return storeErr("delete record", err)
	}

	lock := s.userLock(r.UserID)
	lock.Lock()
	defer lock.Unlock()

	if r.IsEarning() && r.Status == StatusApproved && r.Consumed.IsPositive() {
		links, err := s.store.LinksBySource(ctx, id)
		if err != nil {
			return storeErr("delete record", err)
		}
		return &DependentConsumptionError{
			RecordID:      id,
			Consumed:      r.Consumed,
			RedemptionIDs: uniqueRedemptionIDs(links),
		}
	}

	err = s.store.WithTx(ctx, func(tx RecordStore) error {
		if r.IsRedemption() && r.Status == StatusApproved {
			if err := s.reverseRedemption(ctx, tx, r.ID); err != nil {
				return err
			}
		}
		return tx.DeleteRecord(ctx, r.ID)
	})
	return storeErr("delete record", err)
}

// DeleteRecordCascade deletes an earning record even when consumed, by first
// reversing every dependent redemption - each dependent's draws are restored
// on ALL of its sources, then the dependent is removed - and finally deleting
// the earning itself. One transaction; all or nothing.
func (s *Service) DeleteRecordCascade(ctx context.Context, id RecordID) error {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return storeErr("delete record", err)
	}
	if !(r.IsEarning() && r.Status == StatusApproved && r.Consumed.IsPositive()) {
		return s.DeleteRecord(ctx, id)
	}

	lock := s.userLock(r.UserID)
	lock.Lock()
	defer lock.Unlock()

	err = s.store.WithTx(ctx, func(tx RecordStore) error {
		links, err := tx.LinksBySource(ctx, id)
		if err != nil {
			return err
		}
		for _, redemptionID := range uniqueRedemptionIDs(links) {
			if err := s.reverseRedemption(ctx, tx, redemptionID); err != nil {
				return err
			}
			if err := tx.DeleteRecord(ctx, redemptionID); err != nil {
				return err
			}
		}
		return tx.DeleteRecord(ctx, id)
	})
	return storeErr("delete record cascade", err)
}

// reverseRedemption restores Consumed on every source by its persisted draw
// and removes the links. The redemption row itself is left to the caller.
func (s *Service) reverseRedemption(ctx context.Context, tx RecordStore, redemptionID RecordID) error {
	links, err := tx.LinksByRedemption(ctx, redemptionID)
	if err != nil {
		return err
	}

	for _, link := range links {
		src, err := tx.GetRecord(ctx, link.SourceID)
		if err != nil {
			if IsNotFound(err) {
				// Source already gone (cascade in progress); nothing to restore.
				continue
			}
			return err
		}
		src.Consumed = src.Consumed.Sub(link.HoursDrawn)
		if src.Consumed.IsNegative() {
			return fmt.Errorf("restore underflow on record %s: %w", src.ID, ErrValidation)
		}
		if err := tx.UpdateRecord(ctx, src); err != nil {
			return err
		}
	}

	return tx.DeleteLinksByRedemption(ctx, redemptionID)
}

func uniqueRedemptionIDs(links []RedemptionLink) []RecordID {
	seen := make(map[RecordID]bool, len(links))
	var ids []RecordID
	for _, l := range links {
		if !seen[l.RedemptionID] {
			seen[l.RedemptionID] = true
			ids = append(ids, l.RedemptionID)
		}
	}
	return ids
}

// =============================================================================
// READ SIDE
// =============================================================================

// Balance computes the user's current available balance on demand.
func (s *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return Balance{}, storeErr("balance", err)
	}
	b := AvailableBalance(records)
	b.UserID = userID
	return b, nil
}

// BalanceBreakdown returns the balance plus each contributing earning's
// remaining availability, oldest first.
func (s *Service) BalanceBreakdown(ctx context.Context, userID UserID) (Balance, []SourceAvailability, error) {
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return Balance{}, nil, storeErr("balance breakdown", err)
	}
	b := AvailableBalance(records)
	b.UserID = userID
	return b, EligibleSources(records), nil
}

// Records returns a user's full ledger, oldest first.
func (s *Service) Records(ctx context.Context, userID UserID) ([]*OvertimeRecord, error) {
	records, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, storeErr("records", err)
	}
	return records, nil
}

// GetRecord returns a single record.
func (s *Service) GetRecord(ctx context.Context, id RecordID) (*OvertimeRecord, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeErr("get record", err)
	}
	return r, nil
}

// RedemptionSource resolves one link for display: the funding record plus
// the amount this redemption drew from it.
type RedemptionSource struct {
	Record     *OvertimeRecord
	HoursDrawn Hours
}

// RedemptionDetail is the reporting view of a redemption: the record and the
// resolved sources it drew from, in allocation order.
type RedemptionDetail struct {
	Redemption *OvertimeRecord
	Sources    []RedemptionSource
}

// TotalDrawn sums the per-source draws; equals the redeemed amount for an
// approved redemption.
func (d *RedemptionDetail) TotalDrawn() Hours {
	total := ZeroHours()
	for _, src := range d.Sources {
		total = total.Add(src.HoursDrawn)
	}
	return total
}

// Redemption returns the reporting view for a redemption record.
func (s *Service) Redemption(ctx context.Context, id RecordID) (*RedemptionDetail, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeErr("redemption detail", err)
	}
	if !r.IsRedemption() {
		return nil, &ValidationError{Field: "record", Reason: "not a redemption record"}
	}

	links, err := s.store.LinksByRedemption(ctx, id)
	if err != nil {
		return nil, storeErr("redemption detail", err)
	}

	detail := &RedemptionDetail{Redemption: r}
	for _, link := range links {
		src, err := s.store.GetRecord(ctx, link.SourceID)
		if err != nil {
			return nil, storeErr("redemption detail", err)
		}
		detail.Sources = append(detail.Sources, RedemptionSource{
			Record:     src,
			HoursDrawn: link.HoursDrawn,
		})
	}
	return detail, nil
}
