// Package keymanagement defines the signer-backend contract shared by the
// CMS's issuer key (long-lived, HSM-backed in production) and by any
// requester generating an ephemeral CCR key pair. Two backends satisfy
// it: keymanagement/pkcs11 (HSM-backed) and keymanagement/softkey
// (software-only, for bootstrap and testing).
package keymanagement

import "crypto"

// Backend is a named-key signer store. label identifies a key for
// lookup within the backend, the way a SoftHSM object label does.
type Backend interface {
	// Generate creates a new key pair under label and returns its signer.
	Generate(label string) (crypto.Signer, error)
	// Signer returns the already-provisioned signer for label.
	Signer(label string) (crypto.Signer, error)
	// Close releases any backend-held resources (HSM session, open files).
	Close()
}
