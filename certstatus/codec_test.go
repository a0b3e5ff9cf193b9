package certstatus

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pvacms/certfactory"
	"pvacms/model"
)

type issuerFixture struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

func mustIssuer(t *testing.T) issuerFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert, _, err := certfactory.BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", key, 24*time.Hour)
	require.NoError(t, err)
	return issuerFixture{cert: cert, key: key}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	issuer := mustIssuer(t)
	now := time.Now().UTC()
	status := model.NewCertificateStatus(model.StatusValid, now.Unix(), now.Add(30*time.Minute).Unix(), 0)
	status.Serial = 12345

	tokenBytes, err := Encode(status, issuer.cert, issuer.key, nil)
	require.NoError(t, err)
	require.NotEmpty(t, tokenBytes)

	parsed, err := DecodeAndVerify(tokenBytes, []*x509.Certificate{issuer.cert}, true)
	require.NoError(t, err)
	require.Equal(t, status.Serial, parsed.Serial)
	require.Equal(t, model.OCSPGood, parsed.OCSPStatus)
	require.Equal(t, status.StatusDate, parsed.StatusDate)
	require.Equal(t, status.ValidUntil, parsed.ValidUntil)
}

func TestEncodeRevokedCarriesRevocationDate(t *testing.T) {
	issuer := mustIssuer(t)
	now := time.Now().UTC()
	status := model.NewCertificateStatus(model.StatusRevoked, now.Unix(), now.Unix(), now.Unix())
	status.Serial = 99

	tokenBytes, err := Encode(status, issuer.cert, issuer.key, nil)
	require.NoError(t, err)

	parsed, err := DecodeAndVerify(tokenBytes, []*x509.Certificate{issuer.cert}, true)
	require.NoError(t, err)
	require.Equal(t, model.OCSPRevoked, parsed.OCSPStatus)
	require.Equal(t, model.StatusRevoked, parsed.PVAStatus)
	require.Equal(t, status.RevocationDate, parsed.RevocationDate)
}

func TestEncodeRevokedWithoutRevocationDateFails(t *testing.T) {
	issuer := mustIssuer(t)
	status := model.CertificateStatus{Serial: 1, PVAStatus: model.StatusRevoked, OCSPStatus: model.OCSPRevoked}
	_, err := Encode(status, issuer.cert, issuer.key, nil)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestDecodeAndVerifyRejectsUnknownSigner(t *testing.T) {
	issuer := mustIssuer(t)
	other := mustIssuer(t)
	now := time.Now().UTC()
	status := model.NewCertificateStatus(model.StatusValid, now.Unix(), now.Add(time.Hour).Unix(), 0)

	tokenBytes, err := Encode(status, issuer.cert, issuer.key, nil)
	require.NoError(t, err)

	_, err = DecodeAndVerify(tokenBytes, []*x509.Certificate{other.cert}, true)
	require.ErrorIs(t, err, ErrUnverifiedSigner)
}

func TestDecodeAndVerifyRejectsCorruptedToken(t *testing.T) {
	issuer := mustIssuer(t)
	now := time.Now().UTC()
	status := model.NewCertificateStatus(model.StatusValid, now.Unix(), now.Add(time.Hour).Unix(), 0)

	tokenBytes, err := Encode(status, issuer.cert, issuer.key, nil)
	require.NoError(t, err)
	require.NotEmpty(t, tokenBytes)

	corrupted := append([]byte(nil), tokenBytes...)
	corrupted[len(corrupted)/2] ^= 0xFF

	_, err = DecodeAndVerify(corrupted, []*x509.Certificate{issuer.cert}, true)
	require.Error(t, err)
}

func TestDecodeAndVerifyRejectsExpiredWindow(t *testing.T) {
	issuer := mustIssuer(t)
	past := time.Now().UTC().Add(-2 * time.Hour)
	status := model.NewCertificateStatus(model.StatusValid, past.Unix(), past.Add(time.Minute).Unix(), 0)

	tokenBytes, err := Encode(status, issuer.cert, issuer.key, nil)
	require.NoError(t, err)

	_, err = DecodeAndVerify(tokenBytes, []*x509.Certificate{issuer.cert}, true)
	require.ErrorIs(t, err, ErrExpiredWindow)
}
