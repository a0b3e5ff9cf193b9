package peerstatus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pvacms/model"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache()
	_, ok := c.get(1)
	require.False(t, ok)

	status := model.CertificateStatus{Serial: 1, PVAStatus: model.StatusValid, OCSPStatus: model.OCSPGood, ValidUntil: time.Now().Add(time.Hour).Unix()}
	c.put(1, status)

	got, ok := c.get(1)
	require.True(t, ok)
	require.Equal(t, status.PVAStatus, got.PVAStatus)
}

func TestCacheCloseEmptiesPartition(t *testing.T) {
	c := NewCache()
	c.put(1, model.CertificateStatus{Serial: 1})

	stats := c.Stats()
	require.Equal(t, 1, stats.CachedEntries)
	require.Equal(t, 0, stats.ActiveSubscriptions)

	c.Close()
	stats = c.Stats()
	require.Equal(t, 0, stats.CachedEntries)
}

func TestIsGoodRequiresFreshAndGood(t *testing.T) {
	now := time.Unix(1000, 0)
	good := model.CertificateStatus{PVAStatus: model.StatusValid, OCSPStatus: model.OCSPGood, ValidUntil: 1001}
	require.True(t, isGood(good, now))

	stale := model.CertificateStatus{PVAStatus: model.StatusValid, OCSPStatus: model.OCSPGood, ValidUntil: 999}
	require.False(t, isGood(stale, now))

	revoked := model.CertificateStatus{PVAStatus: model.StatusRevoked, OCSPStatus: model.OCSPRevoked, ValidUntil: 1001}
	require.False(t, isGood(revoked, now))
}
