// Package certfactory turns a validated certificate creation request into
// a signed X.509 certificate, with one template construction driven by
// model.CertCreationRequest.Usage rather than a hardcoded subject/issuer
// pair.
package certfactory

import (
	"crypto"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"pvacms/model"
)

// ErrKeyUsageMismatch is raised when a certificate is used in a role its
// KeyUsage/ExtKeyUsage bits don't support, or a CA certificate is
// presented where an end-entity certificate is required.
var ErrKeyUsageMismatch = errors.New("KeyUsageMismatch")

func randomSerial() (uint64, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}
	var serial uint64
	for _, b := range buf {
		serial = serial<<8 | uint64(b)
	}
	if serial == 0 {
		serial = 1
	}
	return serial, nil
}

func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key for SKI: %w", err)
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}

func keyUsageFor(usage model.CertUsage) (x509.KeyUsage, []x509.ExtKeyUsage) {
	switch usage {
	case model.UsageServer:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case model.UsageClient:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	case model.UsageGateway:
		// Gateways terminate TLS on both sides of the PVA link.
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	default:
		return x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
			[]x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}
}

func statusExtensions(issuerID string, serial uint64, subscriptionRequired bool) ([]pkix.Extension, error) {
	nameBytes, err := asn1.Marshal(model.MakeStatusPVName(issuerID, serial))
	if err != nil {
		return nil, fmt.Errorf("marshal status-PV extension: %w", err)
	}
	flagBytes, err := asn1.Marshal(subscriptionRequired)
	if err != nil {
		return nil, fmt.Errorf("marshal subscription-required extension: %w", err)
	}
	return []pkix.Extension{
		{Id: OIDStatusPV, Value: nameBytes},
		{Id: OIDSubscriptionRequired, Value: flagBytes},
	}, nil
}

// Result is the product of minting an end-entity certificate: the new
// certificate itself, its derived issuer-id/serial identity, and the
// chain it should be distributed with.
type Result struct {
	Cert     *x509.Certificate
	DER      []byte
	IssuerID string
	Serial   uint64
	Chain    []*x509.Certificate
}

// BuildEndEntity mints a signed end-entity X.509 certificate from a CCR.
// It embeds BasicConstraints(CA:false), a KeyUsage/EKU set
// derived from ccr.Usage, SubjectKeyIdentifier, AuthorityKeyIdentifier,
// and the two custom status extensions.
func BuildEndEntity(ccr model.CertCreationRequest, issuerCert *x509.Certificate, issuerKey crypto.Signer, issuerID string, subscriptionRequired bool) (Result, error) {
	if ccr.Usage == model.UsageCA {
		return Result{}, fmt.Errorf("%w: CA usage requested from BuildEndEntity", ErrKeyUsageMismatch)
	}

	serial, err := randomSerial()
	if err != nil {
		return Result{}, fmt.Errorf("generate serial: %w", err)
	}

	ski, err := subjectKeyID(ccr.PubKey)
	if err != nil {
		return Result{}, err
	}

	exts, err := statusExtensions(issuerID, serial, subscriptionRequired)
	if err != nil {
		return Result{}, err
	}

	keyUsage, ekus := keyUsageFor(ccr.Usage)

	template := &x509.Certificate{
		SerialNumber: new(big.Int).SetUint64(serial),
		Subject: pkix.Name{
			CommonName:         ccr.Name,
			Organization:       orgSlice(ccr.Organization),
			OrganizationalUnit: orgSlice(ccr.OrganizationUnit),
			Country:            orgSlice(ccr.Country),
		},
		NotBefore:             ccr.NotBefore,
		NotAfter:              ccr.NotAfter,
		KeyUsage:              keyUsage,
		ExtKeyUsage:           ekus,
		BasicConstraintsValid: true,
		IsCA:                  false,
		SubjectKeyId:          ski,
		AuthorityKeyId:        issuerCert.SubjectKeyId,
		ExtraExtensions:       exts,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, issuerCert, ccr.PubKey, issuerKey)
	if err != nil {
		return Result{}, fmt.Errorf("x509.CreateCertificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Result{}, fmt.Errorf("parse minted certificate: %w", err)
	}

	return Result{Cert: cert, DER: der, IssuerID: issuerID, Serial: serial, Chain: []*x509.Certificate{issuerCert}}, nil
}

// BuildSelfSignedCA mints a self-signed root/intermediate CA certificate,
// used during CMS bootstrap.
func BuildSelfSignedCA(name, org, orgUnit, country string, key crypto.Signer, validity time.Duration) (*x509.Certificate, []byte, error) {
	serial, err := randomSerial()
	if err != nil {
		return nil, nil, fmt.Errorf("generate serial: %w", err)
	}
	ski, err := subjectKeyID(key.Public())
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: new(big.Int).SetUint64(serial),
		Subject: pkix.Name{
			CommonName:   name,
			Organization: orgSlice(org),
			Country:      orgSlice(country),
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}
	if orgUnit != "" {
		template.Subject.OrganizationalUnit = []string{orgUnit}
	}
	template.AuthorityKeyId = ski // self-signed: AKI == SKI

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, nil, fmt.Errorf("x509.CreateCertificate (self-signed): %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse self-signed CA: %w", err)
	}
	return cert, der, nil
}

// KeyUsageOk is the pre-flight role check for a certificate about to be
// used in TLS setup. It rejects a CA certificate used as an end-entity and
// requires the EKU bit matching the caller's expected role. Neither
// BuildEndEntity nor the peerstatus package calls it.
func KeyUsageOk(cert *x509.Certificate, expectingClientRole bool) error {
	if cert.IsCA {
		return fmt.Errorf("%w: CA certificate presented as end-entity", ErrKeyUsageMismatch)
	}
	want := x509.ExtKeyUsageServerAuth
	if expectingClientRole {
		want = x509.ExtKeyUsageClientAuth
	}
	for _, eku := range cert.ExtKeyUsage {
		if eku == want || eku == x509.ExtKeyUsageAny {
			return nil
		}
	}
	return fmt.Errorf("%w: missing required extended key usage", ErrKeyUsageMismatch)
}

func orgSlice(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
