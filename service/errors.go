package service

import "errors"

// Failure classes for the registration pipeline. Handlers map these to
// HTTP statuses with errors.Is; everything else is a 500.
var (
	// ErrValidation: the input is missing or malformed; nothing was
	// pinned or written.
	ErrValidation = errors.New("invalid input")

	// ErrUpload: the pinning service refused the blob or was unreachable.
	ErrUpload = errors.New("pinning upload failed")

	// ErrDuplicateContent: byte-identical content was already registered.
	ErrDuplicateContent = errors.New("content already registered")

	// ErrDuplicateDevice: the device already has a local record.
	ErrDuplicateDevice = errors.New("device already registered")

	// ErrLedgerWrite: the contract rejected the transaction.
	ErrLedgerWrite = errors.New("ledger rejected write")

	// ErrLedgerConfirm: the transaction was submitted but no receipt
	// arrived in time. The outcome is unknown; callers must re-query
	// the device before retrying.
	ErrLedgerConfirm = errors.New("ledger confirmation timed out")

	// ErrLedgerConnect: the RPC endpoint is unreachable.
	ErrLedgerConnect = errors.New("ledger endpoint unreachable")

	// ErrNotFound: no ledger record for the device.
	ErrNotFound = errors.New("warranty not found")

	// ErrIdentityNotFound: no account matches the given email.
	ErrIdentityNotFound = errors.New("no account for email")

	// ErrIdentityLookup: the identity service call failed.
	ErrIdentityLookup = errors.New("identity lookup failed")
)
