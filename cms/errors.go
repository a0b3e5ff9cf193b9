// Package cms implements the Certificate Management Service: the
// network-visible authority that issues certificates, signs and
// publishes their status, and enforces the admin ACL for revocation. It
// orchestrates certfactory, certstore and certstatus behind the pvnet
// transport.
package cms

// Kind is one of the CMS-side error kinds, each carrying a stable text
// code so pvnet can map it to an HTTP status and an RPC caller can match
// on it without parsing prose.
type Kind string

const (
	KindMalformedRequest  Kind = "MalformedRequest"
	KindDuplicateSubject  Kind = "DuplicateSubject"
	KindDuplicateKey      Kind = "DuplicateKey"
	KindIllegalTransition Kind = "IllegalTransition"
	KindUnauthorized      Kind = "Unauthorized"
	KindDbError           Kind = "DbError"
)

// Error is the CMS's coded error type, implementing pvnet.CodedError.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func newError(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg} }

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

// Code returns the stable text code, read by pvnet.writeError
// and by any RPC caller matching on failure kind.
func (e *Error) Code() string { return string(e.kind) }

// Kind exposes the structured kind for callers that prefer not to parse
// the Code() string.
func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Unwrap() error { return e.err }

// Is enables errors.Is(err, cms.ErrDuplicateSubject) against a wrapped
// error, matching purely on Kind rather than pointer identity, since
// wrap always allocates a new *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

func (e *Error) wrap(err error) *Error {
	return &Error{kind: e.kind, msg: e.msg, err: err}
}

var (
	ErrMalformedRequest  = newError(KindMalformedRequest, "malformed certificate request")
	ErrDuplicateSubject  = newError(KindDuplicateSubject, "subject already has a live certificate")
	ErrDuplicateKey      = newError(KindDuplicateKey, "public key already bound to a live certificate")
	ErrIllegalTransition = newError(KindIllegalTransition, "requested status transition is not legal")
	ErrUnauthorized      = newError(KindUnauthorized, "caller is not authorized for this operation")
	ErrDbError           = newError(KindDbError, "certificate store operation failed")
)
