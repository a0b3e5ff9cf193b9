package model

// StatusPVRoot is the PV namespace root for all certificate status PVs.
const StatusPVRoot = "CERT:STATUS"

// MakeStatusPVName formats the bit-exact "CERT:STATUS:<issuer_id>:<serial16hex>"
// status PV name. It is the single place this format is
// assembled: certfactory embeds it in the status-PV extension at mint
// time, certstatus reads it back out of that extension, and cms/pvnet use
// it to name the PV each CertificateStatus is published on.
func MakeStatusPVName(issuerID string, serial uint64) string {
	return StatusPVRoot + ":" + issuerID + ":" + Serial16Hex(serial)
}
