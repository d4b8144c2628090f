/*
store.go - Persistence interface for records and redemption links

PURPOSE:
  Defines the interface between the ledger and the database. Unlike an
  append-only event log, overtime records are stateful rows: approval flips
  Status, allocation bumps Consumed, and deletion removes rows after
  compensating writes. The store therefore exposes update and delete - but
  only the mutation service calls them, and only inside WithTx.

VERSION CHECKS:
  UpdateRecord carries the record's last-read Version. Implementations must
  reject the write when the stored version differs (the row moved), returning
  ErrConcurrentModification so the caller can retry.

ATOMICITY:
  WithTx runs a function against a transaction-scoped view of the store.
  If the function errors, every write inside it is rolled back. Approving a
  redemption (N consumed-updates + links + status flip) and deleting one
  (N restores + link removal + row removal) both ride a single transaction.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory for tests and dev

SEE ALSO:
  - service.go: The only caller of the write methods
*/
package ledger

import "context"

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore persists overtime records and their redemption links.
type RecordStore interface {
	// CreateRecord inserts a new record. The record's Version starts at 1.
	CreateRecord(ctx context.Context, r *OvertimeRecord) error

	// GetRecord returns a record by id, or ErrRecordNotFound.
	GetRecord(ctx context.Context, id RecordID) (*OvertimeRecord, error)

	// UpdateRecord writes Status, Consumed, CandidateIDs and bumps Version.
	// Fails with ErrConcurrentModification if the stored version differs
	// from r.Version.
	UpdateRecord(ctx context.Context, r *OvertimeRecord) error

	// DeleteRecord removes a record row. Compensating writes are the
	// service's responsibility and must share the same transaction.
	DeleteRecord(ctx context.Context, id RecordID) error

	// ListByUser returns all of a user's records, oldest date first
	// (created_at breaks ties).
	ListByUser(ctx context.Context, userID UserID) ([]*OvertimeRecord, error)

	// ListApprovedEarnings returns the user's approved positive records that
	// still have unconsumed hours, oldest date first. This is the default
	// FIFO candidate order.
	ListApprovedEarnings(ctx context.Context, userID UserID) ([]*OvertimeRecord, error)

	// CreateLinks persists a redemption's links in one shot.
	CreateLinks(ctx context.Context, links []RedemptionLink) error

	// LinksByRedemption returns a redemption's links ordered by position.
	LinksByRedemption(ctx context.Context, redemptionID RecordID) ([]RedemptionLink, error)

	// LinksBySource returns every link drawing from an earning record.
	LinksBySource(ctx context.Context, sourceID RecordID) ([]RedemptionLink, error)

	// DeleteLinksByRedemption removes a redemption's links.
	DeleteLinksByRedemption(ctx context.Context, redemptionID RecordID) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxRecordStore wraps RecordStore with transaction support.
type TxRecordStore interface {
	RecordStore

	// WithTx executes fn against a transaction-scoped store.
	// If fn returns an error, every write is rolled back.
	WithTx(ctx context.Context, fn func(RecordStore) error) error
}
