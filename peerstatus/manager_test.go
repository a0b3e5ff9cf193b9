package peerstatus

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pvacms/certfactory"
	"pvacms/certstatus"
	"pvacms/model"
	"pvacms/pvnet"
)

func mustCA(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert, _, err := certfactory.BuildSelfSignedCA("EPICS Root CA", "EPICS", "", "US", key, 24*time.Hour)
	require.NoError(t, err)
	return cert, key
}

func mustLeaf(t *testing.T, caCert *x509.Certificate, caKey *rsa.PrivateKey, issuerID string) *x509.Certificate {
	t.Helper()
	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ccr := model.CertCreationRequest{
		Name: "alice", Usage: model.UsageClient, PubKey: &leafKey.PublicKey,
		NotBefore: time.Now().Add(-time.Minute), NotAfter: time.Now().Add(time.Hour),
	}
	result, err := certfactory.BuildEndEntity(ccr, caCert, caKey, issuerID, true)
	require.NoError(t, err)
	return result.Cert
}

func mustIssuerID(t *testing.T, cert *x509.Certificate) string {
	t.Helper()
	id, err := certstatus.IssuerIDFrom(cert)
	require.NoError(t, err)
	return id
}

func TestTLSVerifyAcceptsCachedGoodStatus(t *testing.T) {
	caCert, caKey := mustCA(t)
	leaf := mustLeaf(t, caCert, caKey, mustIssuerID(t, caCert))

	m := NewManager([]*x509.Certificate{caCert}, true, pvnet.NewClient("http://unused.invalid"), nil)
	cache := NewCache()
	cache.put(leaf.SerialNumber.Uint64(), model.CertificateStatus{
		PVAStatus: model.StatusValid, OCSPStatus: model.OCSPGood,
		ValidUntil: time.Now().Add(time.Hour).Unix(),
	})

	ok := m.TLSVerify(context.Background(), nil, cache, leaf, false)
	require.True(t, ok)
}

func TestTLSVerifyRejectsWhenPreverifyFailsWithoutSelfSignedAllowance(t *testing.T) {
	caCert, caKey := mustCA(t)
	leaf := mustLeaf(t, caCert, caKey, mustIssuerID(t, caCert))

	m := NewManager(nil, false, pvnet.NewClient("http://unused.invalid"), nil)
	cache := NewCache()

	ok := m.TLSVerify(context.Background(), &SelfSignedChainError{Err: assertErr("chain")}, cache, leaf, false)
	require.False(t, ok)
}

func TestTLSVerifyDefersWhenLeafHasNoStatusExtension(t *testing.T) {
	m := NewManager(nil, false, pvnet.NewClient("http://unused.invalid"), nil)
	cache := NewCache()
	bareLeaf := &x509.Certificate{}

	require.True(t, m.TLSVerify(context.Background(), nil, cache, bareLeaf, false))
	require.False(t, m.TLSVerify(context.Background(), assertErr("chain"), cache, bareLeaf, false))
}

// TestTLSVerifySynchronousRefreshOverHTTP exercises the absent-cache
// path: TLSVerify performs a blocking GET against a real HTTP server
// serving a validly signed status token.
func TestTLSVerifySynchronousRefreshOverHTTP(t *testing.T) {
	caCert, caKey := mustCA(t)
	issuerID := mustIssuerID(t, caCert)
	leaf := mustLeaf(t, caCert, caKey, issuerID)

	now := time.Now().UTC()
	status := model.NewCertificateStatus(model.StatusValid, now.Unix(), now.Add(30*time.Minute).Unix(), 0)
	status.Serial = leaf.SerialNumber.Uint64()
	tokenBytes, err := certstatus.Encode(status, caCert, caKey, nil)
	require.NoError(t, err)
	status.OCSPBytes = tokenBytes

	mux := http.NewServeMux()
	mux.HandleFunc("/pv/CERT:STATUS/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pvnet.FromCertificateStatus(status))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewManager([]*x509.Certificate{caCert}, true, pvnet.NewClient(srv.URL), nil)
	cache := NewCache()

	ok := m.TLSVerify(context.Background(), nil, cache, leaf, false)
	require.True(t, ok)

	cached, found := cache.get(leaf.SerialNumber.Uint64())
	require.True(t, found)
	require.True(t, cached.IsGood(time.Now().UTC()))
}

// TestTLSVerifyRejectsTamperedTokenOnSyncRefresh exercises scenario S6 on
// the absent-cache path: the synchronous GET returns a corrupted signed
// token, which fails verification, so the handshake is rejected.
func TestTLSVerifyRejectsTamperedTokenOnSyncRefresh(t *testing.T) {
	caCert, caKey := mustCA(t)
	issuerID := mustIssuerID(t, caCert)
	leaf := mustLeaf(t, caCert, caKey, issuerID)

	now := time.Now().UTC()
	status := model.NewCertificateStatus(model.StatusValid, now.Unix(), now.Add(30*time.Minute).Unix(), 0)
	status.Serial = leaf.SerialNumber.Uint64()
	tokenBytes, err := certstatus.Encode(status, caCert, caKey, nil)
	require.NoError(t, err)
	tokenBytes[len(tokenBytes)/2] ^= 0xFF
	status.OCSPBytes = tokenBytes

	mux := http.NewServeMux()
	mux.HandleFunc("/pv/CERT:STATUS/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pvnet.FromCertificateStatus(status))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewManager([]*x509.Certificate{caCert}, true, pvnet.NewClient(srv.URL), nil)
	cache := NewCache()

	ok := m.TLSVerify(context.Background(), nil, cache, leaf, false)
	require.False(t, ok)
}

// TestMonitorPushInvalidatesCacheOnCorruptedToken drives a corrupted token
// through the real subscription pump (pumpSubscription), not just through
// TLSVerify's own synchronous path: it pre-populates the cache with a good
// status, opens a live MONITOR subscription against a real pvnet.Server,
// publishes a tampered token, and asserts the next TLSVerify call can no
// longer be served the stale good entry.
func TestMonitorPushInvalidatesCacheOnCorruptedToken(t *testing.T) {
	caCert, caKey := mustCA(t)
	issuerID := mustIssuerID(t, caCert)
	leaf := mustLeaf(t, caCert, caKey, issuerID)
	serial := leaf.SerialNumber.Uint64()
	pvName := model.MakeStatusPVName(issuerID, serial)

	srv := pvnet.NewServer(fakeHandlers{}, nil)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	m := NewManager([]*x509.Certificate{caCert}, true, pvnet.NewClient(httpSrv.URL), nil)
	cache := NewCache()

	sub, err := pvnet.NewClient(httpSrv.URL).Subscribe(context.Background(), issuerID, serial)
	require.NoError(t, err)
	defer sub.Close()
	cache.attachSubscription(serial, sub)
	changes := make(chan bool, 4)
	go m.pumpSubscription(cache, serial, sub, func(isGood bool) { changes <- isGood })

	now := time.Now().UTC()
	good := model.NewCertificateStatus(model.StatusValid, now.Unix(), now.Add(30*time.Minute).Unix(), 0)
	good.Serial = serial
	goodBytes, err := certstatus.Encode(good, caCert, caKey, nil)
	require.NoError(t, err)
	good.OCSPBytes = goodBytes
	srv.Publish(pvName, pvnet.FromCertificateStatus(good))
	require.True(t, <-changes)

	cached, found := cache.get(serial)
	require.True(t, found)
	require.True(t, cached.IsGood(time.Now().UTC()))
	require.True(t, m.TLSVerify(context.Background(), nil, cache, leaf, false))

	tampered := good
	tamperedBytes := append([]byte(nil), goodBytes...)
	tamperedBytes[len(tamperedBytes)/2] ^= 0xFF
	tampered.OCSPBytes = tamperedBytes
	srv.Publish(pvName, pvnet.FromCertificateStatus(tampered))
	require.False(t, <-changes)

	require.False(t, m.TLSVerify(context.Background(), nil, cache, leaf, false))
}

type fakeHandlers struct{}

func (fakeHandlers) Create(ctx context.Context, ccr model.CertCreationRequest, creds model.Credentials) (string, error) {
	return "", assertErr("not implemented")
}

func (fakeHandlers) GetStatus(ctx context.Context, issuerID string, serial uint64) (pvnet.StatusValue, error) {
	return pvnet.StatusValue{}, assertErr("not implemented")
}

func (fakeHandlers) Revoke(ctx context.Context, issuerID string, serial uint64, desiredState string, creds model.Credentials) error {
	return assertErr("not implemented")
}

func TestOCSPStapleCallbackOnlyChangesOnNewBytes(t *testing.T) {
	m := NewManager(nil, false, pvnet.NewClient("http://unused.invalid"), nil)
	cache := NewCache()
	cache.put(1, model.CertificateStatus{OCSPBytes: []byte("aaa")})

	staple, changed := m.OCSPStapleCallback(cache, 1, nil)
	require.True(t, changed)
	require.Equal(t, []byte("aaa"), staple)

	staple2, changed2 := m.OCSPStapleCallback(cache, 1, staple)
	require.False(t, changed2)
	require.Equal(t, staple, staple2)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
