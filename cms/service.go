package cms

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	"go.uber.org/zap"

	"pvacms/certfactory"
	"pvacms/certstatus"
	"pvacms/certstore"
	"pvacms/metrics"
	"pvacms/model"
	"pvacms/pvnet"
)

// StatusValidity is the lifetime of each freshly signed status token
// before a holder is expected to fetch a fresh one.
const StatusValidity = 30 * time.Minute

// Issuer bundles the CA identity the service signs with: certfactory
// needs the private key, certstatus needs the chain it binds into each
// token.
type Issuer struct {
	ID    string
	Cert  *x509.Certificate
	Key   crypto.Signer
	Chain []*x509.Certificate
}

// Publisher is the narrow slice of pvnet.Server the service needs, kept
// as an interface so service_test.go can fake it without standing up a
// gin router.
type Publisher interface {
	Publish(pvName string, v pvnet.StatusValue)
}

// Service is the CMS: it implements pvnet.Handlers, orchestrating
// certfactory and certstore and driving the status-signing pipeline
// through certstatus, one orchestrator serving every usage.
type Service struct {
	issuer   Issuer
	store    certstore.Store
	verifier Verifier
	acl      *ACL
	pub      Publisher
	log      *zap.Logger
}

// NewService wires the CMS's collaborators together.
func NewService(issuer Issuer, store certstore.Store, verifier Verifier, acl *ACL, pub Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{issuer: issuer, store: store, verifier: verifier, acl: acl, pub: pub, log: log}
}

// Create implements pvnet.Handlers.Create.
func (s *Service) Create(ctx context.Context, ccr model.CertCreationRequest, creds model.Credentials) (string, error) {
	if ccr.Name == "" || ccr.PubKey == nil || ccr.NotAfter.Before(ccr.NotBefore) {
		return "", ErrMalformedRequest
	}

	var peerCert *x509.Certificate
	if creds.Method == "x509" {
		// The peer certificate presented during the TLS handshake that
		// carried this RPC; the transport layer (which does see the raw
		// connection) supplies it via creds.Claims so the service never
		// depends on pvnet's HTTP types.
		peerCert = peerCertFromCreds(creds)
	}

	initial, err := s.verifier.Verify(ccr, creds, peerCert)
	if err != nil {
		return "", err
	}

	subscriptionRequired := ccr.Usage != model.UsageCA
	result, err := certfactory.BuildEndEntity(ccr, s.issuer.Cert, s.issuer.Key, s.issuer.ID, subscriptionRequired)
	if err != nil {
		return "", ErrMalformedRequest.wrap(err)
	}

	rec := model.CertificateRecord{
		Serial:          result.Serial,
		IssuerID:        s.issuer.ID,
		SubjectKeyID:    result.Cert.SubjectKeyId,
		CommonName:      ccr.Name,
		Organization:    ccr.Organization,
		OrgUnit:         ccr.OrganizationUnit,
		Country:         ccr.Country,
		NotBefore:       ccr.NotBefore,
		NotAfter:        ccr.NotAfter,
		Status:          initial,
		StatusChangedAt: time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return "", mapStoreError(err)
	}
	metrics.CertificatesIssued.WithLabelValues(string(ccr.Usage)).Inc()

	s.publishStatus(ctx, rec)

	return encodePEMBundle(result), nil
}

// GetStatus implements pvnet.Handlers.GetStatus.
func (s *Service) GetStatus(ctx context.Context, issuerID string, serial uint64) (pvnet.StatusValue, error) {
	status, changedAt, err := s.store.GetStatus(ctx, serial)
	if err != nil {
		return pvnet.StatusValue{}, mapStoreError(err)
	}
	now := time.Now().UTC()
	var revokedAt int64
	if status == model.StatusRevoked {
		revokedAt = changedAt.Unix()
	}
	cs := model.NewCertificateStatus(status, now.Unix(), now.Add(StatusValidity).Unix(), revokedAt)
	cs.Serial = serial
	if token, err := s.signStatus(cs); err == nil {
		cs.OCSPBytes = token
	} else {
		s.log.Warn("cms: status sign failed on GET, serving degraded value", zap.Error(err))
		cs = model.Degraded(serial)
	}
	_ = issuerID // the PV name's issuer_id is only used for routing; the record itself is issuer-scoped by construction.
	return pvnet.FromCertificateStatus(cs), nil
}

// Revoke implements pvnet.Handlers.Revoke.
// desiredState is one of "APPROVED", "DENIED", "REVOKED".
func (s *Service) Revoke(ctx context.Context, issuerID string, serial uint64, desiredState string, creds model.Credentials) error {
	if creds.Method != "x509" || !s.acl.Allows(creds.Account) {
		// Authorization is checked before the state machine even looks
		// at the requested transition, so an unauthorized caller never
		// learns whether the transition itself would have been legal.
		return ErrUnauthorized
	}

	var target model.PVAStatus
	switch desiredState {
	case "APPROVED":
		target = model.StatusPending
	case "DENIED", "REVOKED":
		target = model.StatusRevoked
	default:
		return ErrMalformedRequest
	}

	if err := s.store.SetStatus(ctx, serial, target, certstore.AllowedPrior(target)); err != nil {
		return mapStoreError(err)
	}
	if target == model.StatusRevoked {
		metrics.CertificatesRevoked.WithLabelValues(desiredState).Inc()
	}

	now := time.Now().UTC()
	rec := model.CertificateRecord{Serial: serial, IssuerID: issuerID, Status: target, StatusChangedAt: now}
	s.publishStatus(ctx, rec)
	return nil
}

// OnLifecycleChange is passed to certstore.NewSweeper as its
// TransitionFunc: the sweep commits the status transition itself, then
// calls back here so the service can run the sign-and-publish half of
// the pipeline without the store knowing about certstatus or pvnet.
func (s *Service) OnLifecycleChange(ctx context.Context, serial uint64, newStatus model.PVAStatus) {
	rec := model.CertificateRecord{Serial: serial, IssuerID: s.issuer.ID, Status: newStatus, StatusChangedAt: time.Now().UTC()}
	s.publishStatus(ctx, rec)
}

// publishStatus runs steps 2-4 of the status-signing pipeline: it never
// fails the caller's RPC. A signing failure degrades the published value
// instead, per the documented failure-recovery policy.
func (s *Service) publishStatus(ctx context.Context, rec model.CertificateRecord) {
	now := time.Now().UTC()
	var cs model.CertificateStatus
	if rec.Status == model.StatusRevoked {
		cs = model.NewCertificateStatus(rec.Status, now.Unix(), now.Unix(), now.Unix())
	} else {
		cs = model.NewCertificateStatus(rec.Status, now.Unix(), now.Add(StatusValidity).Unix(), 0)
	}
	cs.Serial = rec.Serial

	if token, err := s.signStatus(cs); err != nil {
		s.log.Error("cms: status signing failed, publishing degraded status", zap.Uint64("serial", rec.Serial), zap.Error(err))
		metrics.StatusSignFailures.Inc()
		cs = model.Degraded(rec.Serial)
	} else {
		cs.OCSPBytes = token
	}

	pvName := model.MakeStatusPVName(rec.IssuerID, rec.Serial)
	s.pub.Publish(pvName, pvnet.FromCertificateStatus(cs))
}

func (s *Service) signStatus(cs model.CertificateStatus) ([]byte, error) {
	return certstatus.Encode(cs, s.issuer.Cert, s.issuer.Key, s.issuer.Chain)
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, certstore.ErrDuplicateKey):
		return ErrDuplicateKey.wrap(err)
	case errors.Is(err, certstore.ErrDuplicate):
		return ErrDuplicateSubject.wrap(err)
	case errors.Is(err, certstore.ErrIllegalTransition):
		return ErrIllegalTransition.wrap(err)
	case errors.Is(err, certstore.ErrNotFound):
		return ErrMalformedRequest.wrap(err)
	default:
		return ErrDbError.wrap(err)
	}
}

func peerCertFromCreds(creds model.Credentials) *x509.Certificate {
	// creds.Claims carries the DER-encoded peer certificate under
	// "peer_cert_der" when the transport layer has one to offer;
	// unparseable or absent input is treated as "no peer certificate".
	der, ok := creds.Claims["peer_cert_der"]
	if !ok {
		return nil
	}
	cert, err := x509.ParseCertificate([]byte(der))
	if err != nil {
		return nil
	}
	return cert
}

func encodePEMBundle(result certfactory.Result) string {
	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: result.DER})...)
	for _, c := range result.Chain {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return string(out)
}
