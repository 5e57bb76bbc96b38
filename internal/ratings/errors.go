package ratings

import "errors"

var (
	// ErrInstitutionNotFound is returned when the referenced institution does not exist.
	ErrInstitutionNotFound = errors.New("ratings: institution not found")
	// ErrGuardRejected is returned when the client address has used up its votes.
	ErrGuardRejected = errors.New("ratings: vote limit reached")
	// ErrStorageUnavailable wraps read or connectivity failures of the backing store.
	ErrStorageUnavailable = errors.New("ratings: storage unavailable")
	// ErrLedgerWriteFailed is returned when a ballot could not be committed.
	// Nothing of the ballot is persisted in that case.
	ErrLedgerWriteFailed = errors.New("ratings: ledger write failed")
)

// ValidationError reports bad or missing input, detected before any write.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
