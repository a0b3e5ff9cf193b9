// Package peerstatus implements the Peer Status Manager: the TLS
// verify-hook attached to every handshake, the per-peer status cache
// with validity windows, and the subscription lifecycle that keeps
// that cache warm between handshakes.
package peerstatus

import (
	"sync"
	"time"

	"pvacms/model"
	"pvacms/pvnet"
)

// entry is the cached, verified status for one peer certificate serial
//, plus the live subscription that keeps
// it current.
type entry struct {
	status model.CertificateStatus
	sub    *pvnet.Subscription
}

// Cache is one TLS context's partition of the peer status cache.
// Its lifetime is bound to the owning TLS context; Close evicts and
// cancels every subscription it holds.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*entry
}

// NewCache allocates an empty partition for one TLS context.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]*entry)}
}

// get returns a copy of the cached status for serial, if present.
func (c *Cache) get(serial uint64) (model.CertificateStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[serial]
	if !ok {
		return model.CertificateStatus{}, false
	}
	return e.status, true
}

// put installs or updates the cached status for serial without touching
// any existing subscription handle.
func (c *Cache) put(serial uint64, status model.CertificateStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[serial]
	if !ok {
		e = &entry{}
		c.entries[serial] = e
	}
	e.status = status
}

// invalidate discards any cached status for serial without touching a
// subscription handle already attached to it, so a corrupted MONITOR push
// can never be served from cache: the next TLSVerify for that serial
// falls through to a synchronous refresh instead of trusting stale good
// status until its natural ValidUntil expiry.
func (c *Cache) invalidate(serial uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[serial]
	if !ok {
		return
	}
	e.status = model.CertificateStatus{}
}

// attachSubscription records the subscription handle for serial so Close
// can cancel it later.
func (c *Cache) attachSubscription(serial uint64, sub *pvnet.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[serial]
	if !ok {
		e = &entry{}
		c.entries[serial] = e
	}
	e.sub = sub
}

// Close tears down the context: every subscription is cancelled and the
// partition is emptied.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for serial, e := range c.entries {
		if e.sub != nil {
			e.sub.Close()
		}
		delete(c.entries, serial)
	}
}

// isGood mirrors model.CertificateStatus.IsGood under "now", kept here so
// callers that only have a cache entry (not a struct value) read the same
// definition.
func isGood(status model.CertificateStatus, now time.Time) bool {
	return status.IsGood(now)
}
