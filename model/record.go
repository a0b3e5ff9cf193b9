package model

import "time"

// CertificateRecord is the persistent, one-row-per-certificate ledger
// entry stored by the Cert Store.
type CertificateRecord struct {
	Serial          uint64
	IssuerID        string
	SubjectKeyID    []byte
	CommonName      string
	Organization    string
	OrgUnit         string
	Country         string
	NotBefore       time.Time
	NotAfter        time.Time
	Status          PVAStatus
	StatusChangedAt time.Time
}

// CertID is the compact "issuer_id:serial" identity used to name status
// PVs.
func (r CertificateRecord) CertID() string {
	return CertID(r.IssuerID, r.Serial)
}

// CertID formats the issuer_id:serial identity from its parts.
func CertID(issuerID string, serial uint64) string {
	return issuerID + ":" + Serial16Hex(serial)
}

// Serial16Hex zero-pads a serial number to 16 hex digits, as used inside
// status PV names.
func Serial16Hex(serial uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[serial&0xf]
		serial >>= 4
	}
	return string(buf)
}
