package pvnet_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pvacms/cms"
	"pvacms/model"
	"pvacms/pvnet"
)

func mustPubKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// TestCreateRequestDTORoundTripsAuthTypeToPendingApproval exercises the
// gap a prior CREATE-path defect left open: AuthType/VerifierFields must
// survive the JSON wire encoding, not just direct Go construction, for
// DefaultVerifier to route a basic-auth request into PENDING_APPROVAL.
func TestCreateRequestDTORoundTripsAuthTypeToPendingApproval(t *testing.T) {
	dto := pvnet.CreateRequestDTO{
		Name:             "bob",
		Country:          "US",
		Organization:     "EPICS",
		OrganizationUnit: "",
		NotBefore:        time.Now().Add(-time.Minute).Format(time.RFC3339),
		NotAfter:         time.Now().Add(time.Hour).Format(time.RFC3339),
		Usage:            string(model.UsageClient),
		PubKeyPEM:        mustPubKeyPEM(t),
		AuthType:         "basic",
		VerifierFields:   map[string]string{"role": "operator"},
	}

	body, err := json.Marshal(dto)
	require.NoError(t, err)

	var decoded pvnet.CreateRequestDTO
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "basic", decoded.AuthType)

	ccr, err := decoded.ToCertCreationRequest()
	require.NoError(t, err)
	require.Equal(t, "basic", ccr.AuthType)
	require.Equal(t, map[string]string{"role": "operator"}, ccr.VerifierFields)

	verifier := cms.DefaultVerifier{Policy: cms.ApprovalPolicy{RequireApprovalClient: true}}
	status, err := verifier.Verify(ccr, model.Credentials{Method: "basic", Account: "bob"}, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusPendingApproval, status)
}

// TestCreateRequestDTODefaultAuthTypeIsPreApproved confirms the empty
// AuthType branch (an anonymous request that never set auth_type) still
// pre-approves, so the new fields don't change the pre-existing default.
func TestCreateRequestDTODefaultAuthTypeIsPreApproved(t *testing.T) {
	dto := pvnet.CreateRequestDTO{
		Name: "carol", Country: "US", Organization: "EPICS",
		NotBefore: time.Now().Add(-time.Minute).Format(time.RFC3339),
		NotAfter:  time.Now().Add(time.Hour).Format(time.RFC3339),
		Usage:     string(model.UsageClient),
		PubKeyPEM: mustPubKeyPEM(t),
	}

	body, err := json.Marshal(dto)
	require.NoError(t, err)
	var decoded pvnet.CreateRequestDTO
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Empty(t, decoded.AuthType)

	ccr, err := decoded.ToCertCreationRequest()
	require.NoError(t, err)

	verifier := cms.DefaultVerifier{Policy: cms.ApprovalPolicy{RequireApprovalClient: true}}
	status, err := verifier.Verify(ccr, model.Credentials{Method: "anonymous"}, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, status)
}
