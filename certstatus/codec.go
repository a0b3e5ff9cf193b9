package certstatus

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"

	"pvacms/model"
)

// allowedClockSlack is the 5-second window decode_and_verify tolerates
// around this_update/next_update.
const allowedClockSlack = 5 * time.Second

// ParsedStatus is the result of successfully decoding and verifying a
// signed status token. It shares the CertificateStatus shape rather
// than introducing a second type; the OCSPBytes field is always
// populated with the exact bytes that were verified.
type ParsedStatus = model.CertificateStatus

func ocspStatusCode(s model.OCSPStatus) int {
	switch s {
	case model.OCSPGood:
		return ocsp.Good
	case model.OCSPRevoked:
		return ocsp.Revoked
	default:
		return ocsp.Unknown
	}
}

func fromOCSPStatusCode(code int) model.OCSPStatus {
	switch code {
	case ocsp.Good:
		return model.OCSPGood
	case ocsp.Revoked:
		return model.OCSPRevoked
	default:
		return model.OCSPUnknown
	}
}

// Encode produces a self-contained signed status token binding
// (issuer_id, serial, ocsp_status, status_date, valid_until,
// revocation_date) and carrying the responder certificate (the first
// certificate of issuerChain, or issuerCert when the chain is empty), as a
// DER-encoded OCSP basic response. The token is what CMS posts on the STATUS
// PV and what a relying party can verify entirely offline.
func Encode(status model.CertificateStatus, issuerCert *x509.Certificate, issuerKey crypto.Signer, issuerChain []*x509.Certificate) ([]byte, error) {
	template := ocsp.Response{
		Status:       ocspStatusCode(status.OCSPStatus),
		SerialNumber: new(big.Int).SetUint64(status.Serial),
		ThisUpdate:   time.Unix(status.StatusDate, 0).UTC(),
		NextUpdate:   time.Unix(status.ValidUntil, 0).UTC(),
	}
	if status.OCSPStatus == model.OCSPRevoked {
		if status.RevocationDate == 0 {
			return nil, fmt.Errorf("%w: REVOKED status with no revocation date", ErrMalformedToken)
		}
		template.RevokedAt = time.Unix(status.RevocationDate, 0).UTC()
		template.RevocationReason = ocsp.Unspecified
	}

	responder := issuerCert
	if len(issuerChain) > 0 {
		responder = issuerChain[0]
	}
	template.Certificate = responder

	der, err := ocsp.CreateResponse(issuerCert, responder, template, issuerKey)
	if err != nil {
		return nil, fmt.Errorf("sign status token: %w", err)
	}
	return der, nil
}

// DecodeAndVerify parses a signed status token, verifies its embedded
// signer chains to one of trustAnchors (optionally permitting a
// self-signed root when allowSelfSignedAnchor is set, for CMS bootstrap),
// and enforces the this_update/next_update validity window with its
// 5-second slack.
func DecodeAndVerify(tokenBytes []byte, trustAnchors []*x509.Certificate, allowSelfSignedAnchor bool) (ParsedStatus, error) {
	// First pass: parse without a known issuer to discover the embedded
	// responder certificate, mirroring how a relying party with no prior
	// knowledge of the signer bootstraps verification.
	raw, err := ocsp.ParseResponse(tokenBytes, nil)
	if err != nil {
		return ParsedStatus{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	signer := raw.Certificate
	if signer == nil {
		// No embedded certificate: the signer must be one of the trust
		// anchors directly.
		for _, anchor := range trustAnchors {
			if verified, verr := ocsp.ParseResponse(tokenBytes, anchor); verr == nil {
				return toParsedStatus(verified, tokenBytes)
			}
		}
		return ParsedStatus{}, ErrUnverifiedSigner
	}

	if !chainsToAnchor(signer, trustAnchors, allowSelfSignedAnchor) {
		return ParsedStatus{}, ErrUnverifiedSigner
	}

	verified, err := ocsp.ParseResponse(tokenBytes, signer)
	if err != nil {
		return ParsedStatus{}, fmt.Errorf("%w: signature verification failed: %v", ErrUnverifiedSigner, err)
	}

	return toParsedStatus(verified, tokenBytes)
}

func toParsedStatus(r *ocsp.Response, raw []byte) (ParsedStatus, error) {
	now := time.Now().UTC()
	if now.Before(r.ThisUpdate.Add(-allowedClockSlack)) || now.After(r.NextUpdate.Add(allowedClockSlack)) {
		return ParsedStatus{}, ErrExpiredWindow
	}

	status := ParsedStatus{
		Serial:     r.SerialNumber.Uint64(),
		OCSPStatus: fromOCSPStatusCode(r.Status),
		StatusDate: r.ThisUpdate.Unix(),
		ValidUntil: r.NextUpdate.Unix(),
		OCSPBytes:  raw,
	}
	if r.Status == ocsp.Revoked {
		status.PVAStatus = model.StatusRevoked
		status.RevocationDate = r.RevokedAt.Unix()
	} else if r.Status == ocsp.Good {
		status.PVAStatus = model.StatusValid
	} else {
		status.PVAStatus = model.StatusUnknown
	}
	return status, nil
}

// chainsToAnchor reports whether signer can be verified against anchors.
// When allowSelfSignedAnchor is set, a signer whose raw bytes exactly
// match one of the anchors is accepted directly without chain-building —
// the common case during CMS bootstrap, where the root CA is its own
// status signer.
func chainsToAnchor(signer *x509.Certificate, anchors []*x509.Certificate, allowSelfSignedAnchor bool) bool {
	pool := x509.NewCertPool()
	for _, a := range anchors {
		pool.AddCert(a)
		if allowSelfSignedAnchor && signer.Equal(a) {
			return true
		}
	}
	chains, err := signer.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}})
	return err == nil && len(chains) > 0
}
