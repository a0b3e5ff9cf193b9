package certstatus

// Kind is a stable, client-facing error code for failures raised while
// encoding or verifying a signed status token.
type Kind string

const (
	MalformedToken  Kind = "MalformedToken"
	UnverifiedSigner Kind = "UnverifiedSigner"
	ExpiredWindow   Kind = "ExpiredWindow"
	MissingSKI      Kind = "MissingSKI"
	MissingExtension Kind = "MissingExtension"
)

// Error is the typed error every certstatus operation returns on failure.
// It satisfies the error interface and exposes a stable Code() for
// callers that need to map it onto a wire-level RPC failure code.
type Error struct {
	kind Kind
	msg  string
}

func newError(k Kind, msg string) *Error {
	return &Error{kind: k, msg: msg}
}

func (e *Error) Error() string { return string(e.kind) + ": " + e.msg }

// Code returns the stable text code for this error kind.
func (e *Error) Code() string { return string(e.kind) }

// Kind returns the error kind so callers can branch with a switch instead
// of string comparison.
func (e *Error) Kind() Kind { return e.kind }

// Is enables errors.Is(err, certstatus.ErrMalformedToken) style checks by
// comparing against a bare Kind value wrapped in an *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

// Sentinel errors for errors.Is comparisons, one per Kind.
var (
	ErrMalformedToken   = newError(MalformedToken, "malformed status token")
	ErrUnverifiedSigner = newError(UnverifiedSigner, "signer does not chain to a trust anchor")
	ErrExpiredWindow    = newError(ExpiredWindow, "status token outside its validity window")
	ErrMissingSKI       = newError(MissingSKI, "certificate has no Subject Key Identifier extension")
	ErrMissingExtension = newError(MissingExtension, "certificate has no status-PV extension")
)
