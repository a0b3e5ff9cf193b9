package certstore

import (
	"errors"
	"fmt"
)

// DuplicateKind identifies which uniqueness constraint a CheckDuplicate
// call tripped.
type DuplicateKind string

const (
	DuplicateSubject DuplicateKind = "DuplicateSubject"
	DuplicateKey     DuplicateKind = "DuplicateKey"
)

var (
	// ErrNotFound is returned by GetStatus for an unknown serial.
	ErrNotFound = errors.New("NotFound")
	// ErrDuplicate is the general uniqueness-violation sentinel: every
	// Insert failure due to CheckDuplicate matches this via errors.Is,
	// regardless of which specific constraint it tripped.
	ErrDuplicate = errors.New("Duplicate")
	// ErrDuplicateSubject is returned by Insert when the subject 4-tuple
	// (cn, o, ou, c) already has a live certificate.
	ErrDuplicateSubject = fmt.Errorf("%w: DuplicateSubject", ErrDuplicate)
	// ErrDuplicateKey is returned by Insert when the public key (by SKI)
	// is already bound to a live certificate.
	ErrDuplicateKey = fmt.Errorf("%w: DuplicateKey", ErrDuplicate)
	// ErrIllegalTransition is returned by SetStatus when the current
	// status is not a member of allowedPrior.
	ErrIllegalTransition = errors.New("IllegalTransition")
	// ErrDB wraps any underlying database/sql error, per // DbError kind.
	ErrDB = errors.New("DbError")
)

// errForDuplicateKind maps a DuplicateKind to its specific sentinel, both
// of which errors.Is(err, ErrDuplicate) still matches.
func errForDuplicateKind(kind DuplicateKind) error {
	if kind == DuplicateKey {
		return ErrDuplicateKey
	}
	return ErrDuplicateSubject
}
