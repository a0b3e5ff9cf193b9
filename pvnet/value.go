package pvnet

import "pvacms/model"

// StatusValue is the structured value published on every status PV,
// bit-exact with field list. JSON is the wire encoding for both
// the GET response body and each MONITOR push frame.
type StatusValue struct {
	Status             StatusEnum `json:"status"`
	Serial             uint64     `json:"serial"`
	State              string     `json:"state"`
	OCSPStatus         OCSPEnum   `json:"ocsp_status"`
	OCSPState          string     `json:"ocsp_state"`
	OCSPStatusDate     string     `json:"ocsp_status_date"`
	OCSPCertifiedUntil string     `json:"ocsp_certified_until"`
	OCSPRevocationDate string     `json:"ocsp_revocation_date"`
	OCSPResponse       []byte     `json:"ocsp_response"`
}

// StatusEnum carries PVAStatus's numeric value in a {value: ...} wrapper,
// the way a structured PVA enum field does; the name travels separately
// in StatusValue.State.
type StatusEnum struct {
	Value model.PVAStatus `json:"value"`
}

// OCSPEnum carries OCSPStatus's numeric value; the name travels
// separately in StatusValue.OCSPState.
type OCSPEnum struct {
	Value model.OCSPStatus `json:"value"`
}

// FromCertificateStatus renders the wire value from the in-memory status,
// formatting each date field with model.FormatStatusDate.
func FromCertificateStatus(cs model.CertificateStatus) StatusValue {
	return StatusValue{
		Status:             StatusEnum{Value: cs.PVAStatus},
		Serial:             cs.Serial,
		State:              cs.PVAStatus.String(),
		OCSPStatus:         OCSPEnum{Value: cs.OCSPStatus},
		OCSPState:          cs.OCSPStatus.String(),
		OCSPStatusDate:     model.FormatStatusDate(cs.StatusDate),
		OCSPCertifiedUntil: model.FormatStatusDate(cs.ValidUntil),
		OCSPRevocationDate: model.FormatStatusDate(cs.RevocationDate),
		OCSPResponse:       cs.OCSPBytes,
	}
}

// ToCertificateStatus is the inverse, copying only the serial, the two
// enum values and the raw token; the date fields are left zero and the
// token is not verified. peerstatus does not use it: it verifies
// OCSPResponse with certstatus.DecodeAndVerify instead.
func ToCertificateStatus(serial uint64, v StatusValue) model.CertificateStatus {
	return model.CertificateStatus{
		Serial:     serial,
		PVAStatus:  v.Status.Value,
		OCSPStatus: v.OCSPStatus.Value,
		OCSPBytes:  v.OCSPResponse,
	}
}
