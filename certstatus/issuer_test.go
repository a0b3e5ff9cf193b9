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

func TestIssuerIDFromIsEightHexChars(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert, _, err := certfactory.BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", key, 24*time.Hour)
	require.NoError(t, err)

	id, err := IssuerIDFrom(cert)
	require.NoError(t, err)
	require.Len(t, id, 8)
}

func TestIssuerIDFromMissingSKI(t *testing.T) {
	_, err := IssuerIDFrom(&x509.Certificate{})
	require.ErrorIs(t, err, ErrMissingSKI)
}

// TestStatusPVNameMatchesInvariant1 exercises invariant 1 from the
// certificate lifecycle testable-properties list: for every minted
// certificate, status_pv_name(c) == "CERT:STATUS:" + issuer_id + ":" +
// hex16(serial).
func TestStatusPVNameMatchesInvariant1(t *testing.T) {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caCert, _, err := certfactory.BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", caKey, 24*time.Hour)
	require.NoError(t, err)
	issuerID, err := IssuerIDFrom(caCert)
	require.NoError(t, err)

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ccr := model.CertCreationRequest{
		Name: "alice", Usage: model.UsageClient, PubKey: &leafKey.PublicKey,
		NotBefore: time.Now().Add(-time.Minute), NotAfter: time.Now().Add(time.Hour),
	}
	result, err := certfactory.BuildEndEntity(ccr, caCert, caKey, issuerID, true)
	require.NoError(t, err)

	pvName, err := StatusPVName(result.Cert)
	require.NoError(t, err)
	require.Equal(t, "CERT:STATUS:"+issuerID+":"+model.Serial16Hex(result.Serial), pvName)
}

func TestStatusPVNameMissingExtension(t *testing.T) {
	_, err := StatusPVName(&x509.Certificate{})
	require.ErrorIs(t, err, ErrMissingExtension)
}

func TestSubscriptionRequiredDefaultsFalseWithoutExtension(t *testing.T) {
	require.False(t, SubscriptionRequired(&x509.Certificate{}))
}
