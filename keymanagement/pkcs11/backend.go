// Package pkcs11 is the HSM-backed keymanagement.Backend: standard
// PKCS#11 object-template layout and find/generate calls against a
// token, exposed through the same three-method Backend contract
// keymanagement/softkey implements.
package pkcs11

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/miekg/pkcs11"
)

// Backend implements keymanagement.Backend against a PKCS#11 token
// (SoftHSM2 in development, a hardware HSM in production).
type Backend struct {
	ctx     *pkcs11.Ctx
	slot    uint
	session pkcs11.SessionHandle
}

// New opens a session against the PKCS#11 module at modulePath and logs
// into the given slot/PIN.
func New(modulePath, slot, pin string) (*Backend, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, pkcs11.Error(pkcs11.CKR_GENERAL_ERROR)
	}

	slotID, err := strconv.ParseUint(slot, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: parse slot: %w", err)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, fmt.Errorf("pkcs11: initialize: %w", err)
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: list slots: %w", err)
	}
	var targetSlot uint
	found := false
	for _, s := range slots {
		if uint64(s) == slotID {
			targetSlot, found = s, true
			break
		}
	}
	if !found {
		return nil, errors.New("pkcs11: slot not found")
	}

	session, err := ctx.OpenSession(targetSlot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: open session: %w", err)
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, pin); err != nil {
		return nil, fmt.Errorf("pkcs11: login: %w", err)
	}

	return &Backend{ctx: ctx, slot: targetSlot, session: session}, nil
}

// Generate creates a 2048-bit RSA key pair under the PKCS#11 CKA_ID/
// CKA_LABEL label, token-resident. The private key template sets
// CKA_EXTRACTABLE=true; tightening that is a production hardening
// decision outside this module's scope.
func (b *Backend) Generate(label string) (crypto.Signer, error) {
	pubTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
		pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true),
		pkcs11.NewAttribute(pkcs11.CKA_WRAP, false),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, 2048),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, []byte{1, 0, 1}),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(label)),
	}
	privTemplate := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
		pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, true),
		pkcs11.NewAttribute(pkcs11.CKA_WRAP_WITH_TRUSTED, false),
		pkcs11.NewAttribute(pkcs11.CKA_UNWRAP, false),
		pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, true),
		pkcs11.NewAttribute(pkcs11.CKA_ID, []byte(label)),
	}

	if _, _, err := b.ctx.GenerateKeyPair(b.session,
		[]*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)},
		pubTemplate, privTemplate); err != nil {
		return nil, fmt.Errorf("pkcs11: generate key pair %s: %w", label, err)
	}

	return b.Signer(label)
}

// Signer locates the private/public key pair matching label's CKA_ID and
// returns a crypto.Signer over the token-resident private key.
func (b *Backend) Signer(label string) (crypto.Signer, error) {
	privHandle, err := b.findOne(pkcs11.CKO_PRIVATE_KEY, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	if err != nil {
		return nil, fmt.Errorf("pkcs11: find private key %s: %w", label, err)
	}

	idAttrs, err := b.ctx.GetAttributeValue(b.session, privHandle, []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_ID, nil)})
	if err != nil {
		return nil, fmt.Errorf("pkcs11: read key id for %s: %w", label, err)
	}
	keyID := idAttrs[0].Value

	pubHandle, err := b.findOne(pkcs11.CKO_PUBLIC_KEY, pkcs11.NewAttribute(pkcs11.CKA_ID, keyID))
	if err != nil {
		return nil, fmt.Errorf("pkcs11: find matching public key for %s: %w", label, err)
	}
	pub, err := b.readRSAPublicKey(pubHandle)
	if err != nil {
		return nil, err
	}

	return &signer{backend: b, privHandle: privHandle, publicKey: pub}, nil
}

// Close logs out and tears down the PKCS#11 session.
func (b *Backend) Close() {
	b.ctx.Logout(b.session)
	b.ctx.CloseSession(b.session)
	b.ctx.Finalize()
	b.ctx.Destroy()
}

func (b *Backend) findOne(class uint, extra *pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		extra,
	}
	if err := b.ctx.FindObjectsInit(b.session, template); err != nil {
		return 0, err
	}
	defer b.ctx.FindObjectsFinal(b.session)

	objs, _, err := b.ctx.FindObjects(b.session, 1)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, errors.New("object not found")
	}
	return objs[0], nil
}

func (b *Backend) readRSAPublicKey(handle pkcs11.ObjectHandle) (*rsa.PublicKey, error) {
	attrs, err := b.ctx.GetAttributeValue(b.session, handle, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, nil),
		pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, nil),
	})
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(attrs[0].Value),
		E: int(new(big.Int).SetBytes(attrs[1].Value).Int64()),
	}, nil
}

// PEM renders a public key in PKCS#1 PEM form, for key metadata display.
func PEM(pub *rsa.PublicKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(pub)}))
}

type signer struct {
	backend    *Backend
	privHandle pkcs11.ObjectHandle
	publicKey  *rsa.PublicKey
}

func (s *signer) Public() crypto.PublicKey { return s.publicKey }

// Sign prepends the SHA-256 DigestInfo prefix before handing the digest
// to CKM_RSA_PKCS: PKCS#11's raw RSA-PKCS mechanism signs exactly the
// bytes it's given, so the DigestInfo ASN.1 wrapper x509.CreateCertificate
// expects the key to have produced has to be built here rather than
// inside the token.
func (s *signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if opts != nil && opts.HashFunc() == crypto.SHA256 && len(digest) == sha256.Size {
		digestInfo := []byte{0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20}
		digest = append(digestInfo, digest...)
	}

	mechanism := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := s.backend.ctx.SignInit(s.backend.session, mechanism, s.privHandle); err != nil {
		return nil, fmt.Errorf("pkcs11: sign init: %w", err)
	}
	sig, err := s.backend.ctx.Sign(s.backend.session, digest)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: sign: %w", err)
	}
	return sig, nil
}
