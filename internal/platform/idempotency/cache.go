// Package idempotency tracks externally supplied batch and trade ids so
// each is processed at most once. Membership is insert-only for the life
// of the process; the two namespaces never mix.
package idempotency

import "sync"

type Cache struct {
	batch sync.Map
	trade sync.Map
}

func New() *Cache {
	return &Cache{}
}

// AdmitBatch records id and reports whether this was its first sighting.
// Check-then-insert is atomic: concurrent calls with the same id produce
// exactly one true.
func (c *Cache) AdmitBatch(id string) bool {
	_, loaded := c.batch.LoadOrStore(id, struct{}{})
	return !loaded
}

// AdmitTrade is AdmitBatch for the trade id namespace.
func (c *Cache) AdmitTrade(id string) bool {
	_, loaded := c.trade.LoadOrStore(id, struct{}{})
	return !loaded
}
