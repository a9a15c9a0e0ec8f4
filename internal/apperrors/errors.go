package apperrors

import "errors"

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrAuth indicates that a supplied password did not match the stored hash.
var ErrAuth = errors.New("authentication failed")

// ErrWeakPassword indicates a password below the minimum length.
var ErrWeakPassword = errors.New("password too short")

// ErrInsufficientFunds indicates a transfer exceeding the source's derived
// balance. The message is sent verbatim as the reply detail, hence the casing.
var ErrInsufficientFunds = errors.New("Insufficient funds")

// ErrWrongPassphrase indicates the ledger database rejected the at-rest
// encryption key. Distinguished from generic I/O failures so that opening an
// initialized database with the wrong key is never mistaken for a fresh store.
var ErrWrongPassphrase = errors.New("wrong ledger passphrase")

// ErrArchived indicates an operation on a ledger entry that has already left
// the active window. Archival is one-way.
var ErrArchived = errors.New("entry already archived")

// ErrDisputeState indicates a dispute transition not permitted from the
// entry's current status.
var ErrDisputeState = errors.New("invalid dispute state transition")
