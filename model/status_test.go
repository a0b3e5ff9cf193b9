package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerial16Hex(t *testing.T) {
	assert.Equal(t, "0000000000000001", Serial16Hex(1))
	assert.Equal(t, "000000000000ffff", Serial16Hex(0xffff))
	assert.Equal(t, "ffffffffffffffff", Serial16Hex(^uint64(0)))
}

func TestMakeStatusPVName(t *testing.T) {
	assert.Equal(t, "CERT:STATUS:deadbeef:0000000000000001", MakeStatusPVName("deadbeef", 1))
}

func TestPVAStatusRoundTrip(t *testing.T) {
	for s := StatusUnknown; s <= StatusRevoked; s++ {
		parsed, ok := ParsePVAStatus(s.String())
		require.True(t, ok)
		assert.Equal(t, s, parsed)
	}
	_, ok := ParsePVAStatus("NOT_A_STATUS")
	assert.False(t, ok)
}

func TestNewCertificateStatusDerivesOCSP(t *testing.T) {
	valid := NewCertificateStatus(StatusValid, 1, 2, 0)
	assert.Equal(t, OCSPGood, valid.OCSPStatus)
	assert.True(t, valid.Consistent())

	revoked := NewCertificateStatus(StatusRevoked, 1, 2, 5)
	assert.Equal(t, OCSPRevoked, revoked.OCSPStatus)
	assert.True(t, revoked.Consistent())

	pending := NewCertificateStatus(StatusPending, 1, 2, 0)
	assert.Equal(t, OCSPUnknown, pending.OCSPStatus)
	assert.True(t, pending.Consistent())
}

func TestCertificateStatusFreshAndGood(t *testing.T) {
	now := time.Unix(1000, 0)
	fresh := CertificateStatus{PVAStatus: StatusValid, OCSPStatus: OCSPGood, ValidUntil: 1001}
	assert.True(t, fresh.IsFresh(now))
	assert.True(t, fresh.IsGood(now))

	stale := CertificateStatus{PVAStatus: StatusValid, OCSPStatus: OCSPGood, ValidUntil: 999}
	assert.False(t, stale.IsFresh(now))
	assert.False(t, stale.IsGood(now))

	unknownButFresh := CertificateStatus{PVAStatus: StatusPending, OCSPStatus: OCSPUnknown, ValidUntil: 1001}
	assert.True(t, unknownButFresh.IsFresh(now))
	assert.False(t, unknownButFresh.IsGood(now))
}

func TestDegradedStatusIsUnknownWithNoBytes(t *testing.T) {
	d := Degraded(42)
	assert.Equal(t, StatusUnknown, d.PVAStatus)
	assert.Equal(t, OCSPUnknown, d.OCSPStatus)
	assert.Empty(t, d.OCSPBytes)
	assert.True(t, d.Consistent())
}

func TestFormatStatusDateEmptyForZero(t *testing.T) {
	assert.Equal(t, "", FormatStatusDate(0))
	assert.NotEmpty(t, FormatStatusDate(1700000000))
}
