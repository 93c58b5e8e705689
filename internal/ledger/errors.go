package ledger

import "errors"

var (
	// ErrStaleWrite is returned when a mutation's expected status no longer
	// matches the stored one. The caller should re-read and re-plan.
	ErrStaleWrite = errors.New("ledger: stale write")

	// ErrTaskNotFound is returned when a task id is absent from the manifest.
	ErrTaskNotFound = errors.New("ledger: task not found")

	// ErrLedgerMissing is returned when the ledger file does not exist.
	ErrLedgerMissing = errors.New("ledger: ledger missing")

	// ErrLedgerExists is returned by Create when the path is already occupied.
	ErrLedgerExists = errors.New("ledger: ledger already exists")
)
