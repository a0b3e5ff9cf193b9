package peerstatus

import (
	"context"
	"crypto/x509"
	"time"

	"go.uber.org/zap"

	"pvacms/certstatus"
	"pvacms/model"
	"pvacms/pvnet"
)

// Manager is the Peer Status Manager: one Manager is shared
// process-wide, and each TLS context supplies its own *Cache. Rather
// than a process-wide one-shot latch registering an access hook, the
// owning tls.Config closure simply captures the Cache it created for
// that context.
type Manager struct {
	TrustAnchors          []*x509.Certificate
	AllowSelfSignedAnchor bool
	Client                *pvnet.Client
	Log                   *zap.Logger
}

// NewManager builds a Manager. client must dial the CMS over plain HTTP.
func NewManager(trustAnchors []*x509.Certificate, allowSelfSignedAnchor bool, client *pvnet.Client, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{TrustAnchors: trustAnchors, AllowSelfSignedAnchor: allowSelfSignedAnchor, Client: client, Log: log}
}

// SelfSignedChainError is returned by a TLS library's chain builder when
// the only reason verification failed is that the chain terminates in a
// certificate that signed itself. TLSVerify's branch 1 treats this
// specially.
type SelfSignedChainError struct{ Err error }

func (e *SelfSignedChainError) Error() string { return e.Err.Error() }
func (e *SelfSignedChainError) Unwrap() error { return e.Err }

// TLSVerify implements the three-branch verification decision: reject
// outright unless the only chain failure is a permitted self-signed
// anchor, defer to the TLS library when the leaf carries no status PV,
// and otherwise gate on cached (or freshly fetched) peer status.
// preverifyErr is the TLS library's own chain-verification result (nil on
// success); cache is the calling context's partition; cert is the leaf
// certificate under consideration; allowSelfSigned is the local policy
// that decides whether a self-signed anchor is tolerated.
func (m *Manager) TLSVerify(ctx context.Context, preverifyErr error, cache *Cache, cert *x509.Certificate, allowSelfSigned bool) bool {
	if preverifyErr != nil {
		_, selfSigned := asSelfSigned(preverifyErr)
		if !allowSelfSigned || !selfSigned {
			return false
		}
		// self-signed chain, locally permitted: fall through to
		// status-based verification instead of rejecting outright.
	}

	pvName, err := certstatus.StatusPVName(cert)
	if err != nil {
		// No status-PV extension: no monitoring required, defer
		// entirely to the TLS library's own chain verdict.
		return preverifyErr == nil
	}

	serial := cert.SerialNumber.Uint64()
	now := time.Now().UTC()

	if status, ok := cache.get(serial); ok {
		if isGood(status, now) {
			return true
		}
		// present but not good (stale, not GOOD, or invalidated):
		// synchronous refresh
		return m.refreshSync(ctx, cache, pvName, serial, now)
	}

	// absent: start a subscription for future handshakes, then perform
	// one blocking GET bounded to 3 seconds for this one.
	m.startSubscription(cache, cert, pvName, serial, nil)
	return m.refreshSync(ctx, cache, pvName, serial, now)
}

func asSelfSigned(err error) (*SelfSignedChainError, bool) {
	se, ok := err.(*SelfSignedChainError)
	return se, ok
}

// refreshSync performs the blocking status GET, bounded to 3 seconds
// by pvnet.Client itself.
func (m *Manager) refreshSync(ctx context.Context, cache *Cache, pvName string, serial uint64, now time.Time) bool {
	issuerID, _, ok := pvnet.ParseStatusPVName(pvName)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := m.Client.GetStatus(ctx, issuerID, serial)
	if err != nil {
		m.Log.Debug("peerstatus: synchronous status refresh failed", zap.String("pv", pvName), zap.Error(err))
		return false
	}
	status, err := m.verifyValue(v)
	if err != nil {
		m.Log.Debug("peerstatus: status token verification failed", zap.String("pv", pvName), zap.Error(err))
		return false
	}
	cache.put(serial, status)
	return status.IsGood(now)
}

func (m *Manager) verifyValue(v pvnet.StatusValue) (model.CertificateStatus, error) {
	if len(v.OCSPResponse) == 0 {
		return model.CertificateStatus{}, certstatus.ErrMalformedToken
	}
	return certstatus.DecodeAndVerify(v.OCSPResponse, m.TrustAnchors, m.AllowSelfSignedAnchor)
}

// Subscribe opens a MONITOR on cert's status PV and installs updates into
// cache, firing onChange whenever goodness changes. The subscription itself never dials TLS.
func (m *Manager) Subscribe(cache *Cache, cert *x509.Certificate, onChange func(isGood bool)) error {
	pvName, err := certstatus.StatusPVName(cert)
	if err != nil {
		return nil // nothing to subscribe to
	}
	if !certstatus.SubscriptionRequired(cert) {
		return nil
	}
	serial := cert.SerialNumber.Uint64()
	m.startSubscription(cache, cert, pvName, serial, onChange)
	return nil
}

func (m *Manager) startSubscription(cache *Cache, cert *x509.Certificate, pvName string, serial uint64, onChange func(isGood bool)) {
	issuerID, _, ok := pvnet.ParseStatusPVName(pvName)
	if !ok {
		return
	}
	sub, err := m.Client.Subscribe(context.Background(), issuerID, serial)
	if err != nil {
		m.Log.Debug("peerstatus: subscribe failed", zap.String("pv", pvName), zap.Error(err))
		return
	}
	cache.attachSubscription(serial, sub)
	go m.pumpSubscription(cache, serial, sub, onChange)
}

// pumpSubscription verifies each pushed token and writes it into the
// cache; onChange is always invoked with the cache mutex released, so a
// slow or reentrant callback can never deadlock against a concurrent
// cache read.
func (m *Manager) pumpSubscription(cache *Cache, serial uint64, sub *pvnet.Subscription, onChange func(isGood bool)) {
	wasGood := false
	for v := range sub.C {
		status, err := m.verifyValue(v)
		if err != nil {
			m.Log.Warn("peerstatus: monitor pushed an unverifiable token", zap.Uint64("serial", serial), zap.Error(err))
			cache.invalidate(serial)
			if wasGood && onChange != nil {
				onChange(false)
			}
			wasGood = false
			continue
		}
		cache.put(serial, status)
		nowGood := status.IsGood(time.Now().UTC())
		if nowGood != wasGood && onChange != nil {
			onChange(nowGood)
		}
		wasGood = nowGood
	}
}

// OCSPStapleCallback is the TLS server-side hook: it reads the
// server's own latest status entry and returns the bytes to staple only
// when they differ from previousStaple, signalling the caller to update
// the TLS library's stapled response.
func (m *Manager) OCSPStapleCallback(cache *Cache, ownSerial uint64, previousStaple []byte) (staple []byte, changed bool) {
	status, ok := cache.get(ownSerial)
	if !ok || len(status.OCSPBytes) == 0 {
		return previousStaple, false
	}
	if bytesEqual(status.OCSPBytes, previousStaple) {
		return previousStaple, false
	}
	return status.OCSPBytes, true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
