package model

import (
	"crypto"
	"time"
)

// CertUsage is the requested role of an end-entity certificate.
type CertUsage string

const (
	UsageClient  CertUsage = "client"
	UsageServer  CertUsage = "server"
	UsageGateway CertUsage = "gateway"
	UsageCA      CertUsage = "ca"
)

// CertCreationRequest is the transient wire object a requester submits to
// the CMS CREATE operation.
type CertCreationRequest struct {
	Name             string
	Country          string
	Organization     string
	OrganizationUnit string
	NotBefore        time.Time
	NotAfter         time.Time
	Usage            CertUsage
	PubKey           crypto.PublicKey
	AuthType         string // "x509", "basic", "anonymous"
	VerifierFields   map[string]string
}

// KeyPair is an asymmetric key pair. Only PubKey ever leaves the
// requester's process; PrivateKey is nil on anything received over the
// wire.
type KeyPair struct {
	PrivateKey crypto.Signer
	PubKey     crypto.PublicKey
}

// Credentials is the shape a CCR's authentication backend (JWT, Kerberos,
// LDAP, x509 renewal, ...) is assumed to have already produced. The core
// never verifies these itself — it only reads the fields it needs to
// pick a Verifier and an initial status.
type Credentials struct {
	Method  string // "x509", "basic", "anonymous"
	Account string
	Claims  map[string]string
}
