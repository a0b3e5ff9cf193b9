package certstatus

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"fmt"

	"pvacms/certfactory"
	"pvacms/model"
)

// IssuerIDFrom derives the 8-hex-char issuer-id from a certificate's
// Subject Key Identifier extension.
func IssuerIDFrom(cert *x509.Certificate) (string, error) {
	if len(cert.SubjectKeyId) == 0 {
		return "", ErrMissingSKI
	}
	full := hex.EncodeToString(cert.SubjectKeyId)
	if len(full) < 8 {
		return "", ErrMissingSKI
	}
	return full[:8], nil
}

// StatusPVName returns the bit-exact "CERT:STATUS:<issuer_id>:<serial16hex>"
// name for a certificate, reading it back out of the custom status-PV
// extension embedded by the Cert Factory rather than recomputing it, so
// that decode_and_verify can validate a peer's claim against the
// certificate it actually presented.
func StatusPVName(cert *x509.Certificate) (string, error) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(certfactory.OIDStatusPV) {
			var name string
			if _, err := asn1.Unmarshal(ext.Value, &name); err != nil {
				return "", fmt.Errorf("%w: status-PV extension: %v", ErrMalformedToken, err)
			}
			return name, nil
		}
	}
	return "", ErrMissingExtension
}

// SubscriptionRequired reads the custom subscription-required flag,
// returning false if the certificate carries no status extension at all.
func SubscriptionRequired(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(certfactory.OIDSubscriptionRequired) {
			var required bool
			if _, err := asn1.Unmarshal(ext.Value, &required); err != nil {
				return false
			}
			return required
		}
	}
	return false
}

// MakeStatusPVName formats the PV name from its parts. It forwards to
// model.MakeStatusPVName, which the Cert Factory and the CMS call
// directly.
func MakeStatusPVName(issuerID string, serial uint64) string {
	return model.MakeStatusPVName(issuerID, serial)
}
