package cms

import (
	"crypto/x509"
	"time"

	"pvacms/model"
)

// Verifier decides whether a CCR is admissible and what its initial
// lifecycle status should be.
type Verifier interface {
	Verify(ccr model.CertCreationRequest, creds model.Credentials, peerCert *x509.Certificate) (initial model.PVAStatus, err error)
}

// ApprovalPolicy tells the admission layer whether a given usage requires
// explicit admin approval when the requester authenticated with basic
// credentials, mirroring the reference's per-role
// cert_{client,server,gateway}_require_approval flags.
type ApprovalPolicy struct {
	RequireApprovalClient  bool
	RequireApprovalServer  bool
	RequireApprovalGateway bool
}

func (p ApprovalPolicy) requiresApproval(usage model.CertUsage) bool {
	switch usage {
	case model.UsageClient:
		return p.RequireApprovalClient
	case model.UsageServer:
		return p.RequireApprovalServer
	case model.UsageGateway:
		return p.RequireApprovalGateway
	default:
		return true
	}
}

// DefaultVerifier implements the three auth_type branches: x509
// renewal, basic credentials, and anything else (pre-approved).
type DefaultVerifier struct {
	Policy ApprovalPolicy
}

func (v DefaultVerifier) Verify(ccr model.CertCreationRequest, creds model.Credentials, peerCert *x509.Certificate) (model.PVAStatus, error) {
	switch ccr.AuthType {
	case "x509":
		if peerCert == nil {
			return model.StatusUnknown, ErrUnauthorized.wrap(errNoPeerCert)
		}
		if time.Now().After(peerCert.NotAfter) {
			return model.StatusUnknown, ErrUnauthorized.wrap(errExpiredPeerCert)
		}
		if peerCert.Subject.CommonName != ccr.Name {
			return model.StatusUnknown, ErrUnauthorized.wrap(errSubjectMismatch)
		}
		return model.StatusPending, nil
	case "basic":
		if v.Policy.requiresApproval(ccr.Usage) {
			return model.StatusPendingApproval, nil
		}
		return model.StatusPending, nil
	default:
		// anonymous and any other configured auth type: pre-approved,
		// per "Other auth types may pre-approve".
		return model.StatusPending, nil
	}
}

var (
	errNoPeerCert      = simpleError("x509 renewal requires a peer certificate")
	errExpiredPeerCert = simpleError("peer certificate has already expired")
	errSubjectMismatch = simpleError("peer certificate subject does not match request")
)

type simpleError string

func (e simpleError) Error() string { return string(e) }
