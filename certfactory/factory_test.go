package certfactory_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "pvacms/certfactory"
	"pvacms/certstatus"
	"pvacms/model"
)

func mustCAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestBuildSelfSignedCA(t *testing.T) {
	key := mustCAKey(t)
	cert, der, err := BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", key, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, der)
	require.True(t, cert.IsCA)
	require.Equal(t, "EPICS Root CA", cert.Subject.CommonName)
	require.NotEmpty(t, cert.SubjectKeyId)
}

func TestBuildEndEntityEmbedsStatusExtensions(t *testing.T) {
	caKey := mustCAKey(t)
	caCert, _, err := BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", caKey, 24*time.Hour)
	require.NoError(t, err)

	issuerID, err := certstatus.IssuerIDFrom(caCert)
	require.NoError(t, err)

	leafKey := mustCAKey(t)
	ccr := model.CertCreationRequest{
		Name:      "alice",
		Usage:     model.UsageClient,
		PubKey:    &leafKey.PublicKey,
		NotBefore: time.Now().Add(-time.Minute),
		NotAfter:  time.Now().Add(time.Hour),
	}

	result, err := BuildEndEntity(ccr, caCert, caKey, issuerID, true)
	require.NoError(t, err)
	require.False(t, result.Cert.IsCA)
	require.Equal(t, "alice", result.Cert.Subject.CommonName)
	require.Contains(t, result.Cert.ExtKeyUsage, x509.ExtKeyUsageClientAuth)

	pvName, err := certstatus.StatusPVName(result.Cert)
	require.NoError(t, err)
	require.Equal(t, model.MakeStatusPVName(issuerID, result.Serial), pvName)
	require.True(t, certstatus.SubscriptionRequired(result.Cert))
}

func TestBuildEndEntityRejectsCAUsage(t *testing.T) {
	caKey := mustCAKey(t)
	caCert, _, err := BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", caKey, 24*time.Hour)
	require.NoError(t, err)

	leafKey := mustCAKey(t)
	ccr := model.CertCreationRequest{Name: "bob", Usage: model.UsageCA, PubKey: &leafKey.PublicKey}
	_, err = BuildEndEntity(ccr, caCert, caKey, "deadbeef", false)
	require.ErrorIs(t, err, ErrKeyUsageMismatch)
}

func TestKeyUsageOkRejectsCACert(t *testing.T) {
	caKey := mustCAKey(t)
	caCert, _, err := BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", caKey, 24*time.Hour)
	require.NoError(t, err)

	err = KeyUsageOk(caCert, true)
	require.ErrorIs(t, err, ErrKeyUsageMismatch)
}

func TestKeyUsageOkRequiresMatchingEKU(t *testing.T) {
	caKey := mustCAKey(t)
	caCert, _, err := BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", caKey, 24*time.Hour)
	require.NoError(t, err)
	issuerID, err := certstatus.IssuerIDFrom(caCert)
	require.NoError(t, err)

	leafKey := mustCAKey(t)
	ccr := model.CertCreationRequest{
		Name: "server1", Usage: model.UsageServer, PubKey: &leafKey.PublicKey,
		NotBefore: time.Now().Add(-time.Minute), NotAfter: time.Now().Add(time.Hour),
	}
	result, err := BuildEndEntity(ccr, caCert, caKey, issuerID, true)
	require.NoError(t, err)

	require.NoError(t, KeyUsageOk(result.Cert, false))
	require.ErrorIs(t, KeyUsageOk(result.Cert, true), ErrKeyUsageMismatch)
}
