package certfactory

import "encoding/asn1"

// Custom certificate extensions registered at process init.
// The arc 1.3.6.1.4.1.37427 is an unassigned-for-this-exercise private
// enterprise arc, used the way a hand-rolled OID under a private arc is
// commonly used for a non-standard extension.
var (
	// OIDStatusPV carries the UTF-8 status-PV name for the certificate
	// that bears the extension.
	OIDStatusPV = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37427, 1, 1}

	// OIDSubscriptionRequired carries a 1-byte ASN.1 BOOLEAN indicating
	// whether relying parties must subscribe to the status PV rather than
	// treat the certificate as unconditionally trusted.
	OIDSubscriptionRequired = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 37427, 1, 2}
)
