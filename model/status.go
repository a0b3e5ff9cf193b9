// Package model holds the data types shared by every layer of the
// certificate lifecycle core: the persistent certificate record, the
// in-memory published status, and the wire-transient creation request.
package model

import "time"

// PVAStatus is the lifecycle state of a certificate as tracked by the
// Cert Store state machine.
type PVAStatus uint32

const (
	StatusUnknown PVAStatus = iota
	StatusPendingApproval
	StatusPending
	StatusValid
	StatusExpired
	StatusRevoked
)

var pvaStatusNames = [...]string{
	"UNKNOWN",
	"PENDING_APPROVAL",
	"PENDING",
	"VALID",
	"EXPIRED",
	"REVOKED",
}

func (s PVAStatus) String() string {
	if int(s) < len(pvaStatusNames) {
		return pvaStatusNames[s]
	}
	return "UNKNOWN"
}

// ParsePVAStatus parses the string form carried in the STATUS PV's state
// field (the certs table stores the numeric value).
func ParsePVAStatus(s string) (PVAStatus, bool) {
	for i, name := range pvaStatusNames {
		if name == s {
			return PVAStatus(i), true
		}
	}
	return StatusUnknown, false
}

// OCSPStatus is the OCSP-equivalent three-value status carried alongside
// PVAStatus in every CertificateStatus.
type OCSPStatus uint32

const (
	OCSPGood OCSPStatus = iota
	OCSPRevoked
	OCSPUnknown
)

var ocspStatusNames = [...]string{
	"OCSP_CERTSTATUS_GOOD",
	"OCSP_CERTSTATUS_REVOKED",
	"OCSP_CERTSTATUS_UNKNOWN",
}

func (s OCSPStatus) String() string {
	if int(s) < len(ocspStatusNames) {
		return ocspStatusNames[s]
	}
	return "OCSP_CERTSTATUS_UNKNOWN"
}

// CertTimeFormat is the wire string format for status dates, matching the
// reference implementation's `%a %b %d %H:%M:%S %Y UTC`.
const CertTimeFormat = "Mon Jan 02 15:04:05 2006 UTC"

// FormatStatusDate renders a UTC unix timestamp in the wire date format.
// A zero timestamp renders as the empty string, matching the reference
// StatusDate's treatment of unset dates.
func FormatStatusDate(sec int64) string {
	if sec == 0 {
		return ""
	}
	return time.Unix(sec, 0).UTC().Format(CertTimeFormat)
}

// CertificateStatus is the in-memory, published representation of a
// certificate's current status. It models both "parsed from a
// wire token" and "freshly minted, not yet signed" with one struct and an
// optional OCSPBytes field, per the design note in preferring a
// single sum-typed struct over a ParsedStatus/CertificateStatus split.
type CertificateStatus struct {
	Serial         uint64
	PVAStatus      PVAStatus
	OCSPStatus     OCSPStatus
	StatusDate     int64 // seconds since epoch, UTC
	ValidUntil     int64
	RevocationDate int64 // zero if not revoked
	OCSPBytes      []byte
}

// IsFresh reports whether the status has not yet passed its validity
// window.
func (c CertificateStatus) IsFresh(now time.Time) bool {
	return now.Unix() < c.ValidUntil
}

// IsGood reports whether the status is fresh and carries a GOOD OCSP
// verdict.
func (c CertificateStatus) IsGood(now time.Time) bool {
	return c.IsFresh(now) && c.OCSPStatus == OCSPGood
}

// Consistent enforces the three rules tying PVAStatus and OCSPStatus
// together: GOOD implies VALID, REVOKED implies REVOKED, and UNKNOWN
// implies anything except VALID or REVOKED.
func (c CertificateStatus) Consistent() bool {
	switch {
	case c.OCSPStatus == OCSPGood:
		return c.PVAStatus == StatusValid
	case c.OCSPStatus == OCSPRevoked:
		return c.PVAStatus == StatusRevoked
	default: // OCSPUnknown
		return c.PVAStatus != StatusValid && c.PVAStatus != StatusRevoked
	}
}

// NewCertificateStatus derives the OCSP status implied by a PVA status,
// matching the reference CertificateStatus(certstatus_t, ...) constructor.
func NewCertificateStatus(pva PVAStatus, statusDate, validUntil, revocationDate int64) CertificateStatus {
	var ocsp OCSPStatus
	switch pva {
	case StatusRevoked:
		ocsp = OCSPRevoked
	case StatusValid:
		ocsp = OCSPGood
	default:
		ocsp = OCSPUnknown
	}
	return CertificateStatus{
		PVAStatus:      pva,
		OCSPStatus:     ocsp,
		StatusDate:     statusDate,
		ValidUntil:     validUntil,
		RevocationDate: revocationDate,
	}
}

// Degraded builds the UNKNOWN/empty-bytes status CMS posts when the
// signing key is unavailable.
func Degraded(serial uint64) CertificateStatus {
	return CertificateStatus{
		Serial:     serial,
		PVAStatus:  StatusUnknown,
		OCSPStatus: OCSPUnknown,
	}
}
