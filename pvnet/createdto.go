package pvnet

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"pvacms/model"
)

// CreateRequestDTO is the wire shape of a CREATE RPC body. It exists
// because model.CertCreationRequest.PubKey is a crypto.PublicKey
// interface, which encoding/json cannot decode on its own; the DTO
// carries the public key as a PEM-encoded SubjectPublicKeyInfo block
// instead, the same representation certfactory hands back in a PEM
// bundle on the way out.
type CreateRequestDTO struct {
	Name             string `json:"name"`
	Country          string `json:"country"`
	Organization     string `json:"organization"`
	OrganizationUnit string `json:"organization_unit"`
	NotBefore        string `json:"not_before"`
	NotAfter         string `json:"not_after"`
	Usage            string `json:"usage"`
	PubKeyPEM        string `json:"pub_key_pem"`
	// AuthType selects the admission branch (DefaultVerifier.Verify
	// switches on it: "x509", "basic", or anything else pre-approved).
	// Left empty, a request is admitted pre-approved, so a client that
	// omits it is choosing that branch, not falling into it by accident.
	AuthType string `json:"auth_type"`
	// VerifierFields carries auth-type-specific data the verifier may
	// need (e.g. basic auth's realm/role), opaque to the transport.
	VerifierFields map[string]string `json:"verifier_fields,omitempty"`
}

// ToCertCreationRequest decodes the DTO into the internal request shape,
// parsing timestamps as RFC3339 and the public key out of its PEM block.
func (d CreateRequestDTO) ToCertCreationRequest() (model.CertCreationRequest, error) {
	notBefore, err := time.Parse(time.RFC3339, d.NotBefore)
	if err != nil {
		return model.CertCreationRequest{}, fmt.Errorf("not_before: %w", err)
	}
	notAfter, err := time.Parse(time.RFC3339, d.NotAfter)
	if err != nil {
		return model.CertCreationRequest{}, fmt.Errorf("not_after: %w", err)
	}
	block, _ := pem.Decode([]byte(d.PubKeyPEM))
	if block == nil {
		return model.CertCreationRequest{}, fmt.Errorf("pub_key_pem: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return model.CertCreationRequest{}, fmt.Errorf("pub_key_pem: %w", err)
	}
	return model.CertCreationRequest{
		Name:             d.Name,
		Country:          d.Country,
		Organization:     d.Organization,
		OrganizationUnit: d.OrganizationUnit,
		NotBefore:        notBefore,
		NotAfter:         notAfter,
		Usage:            model.CertUsage(d.Usage),
		PubKey:           pub,
		AuthType:         d.AuthType,
		VerifierFields:   d.VerifierFields,
	}, nil
}

// RevokeRequestDTO is the wire body of a REVOKE RPC / PUT.
type RevokeRequestDTO struct {
	DesiredState string `json:"desired_state"`
}
