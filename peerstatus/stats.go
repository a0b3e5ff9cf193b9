package peerstatus

// Stats is an informational snapshot of one Cache partition, exposed for
// diagnostics and tests; nothing in the verify path depends on it.
type Stats struct {
	CachedEntries       int
	ActiveSubscriptions int
}

// Stats reports the current size of the cache partition.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{CachedEntries: len(c.entries)}
	for _, e := range c.entries {
		if e.sub != nil {
			s.ActiveSubscriptions++
		}
	}
	return s
}
