// Package cache is an in-process read-through cache for known errors, backed
// by ristretto. Values are stored JSON encoded so that cost tracks their size
// and every read returns a private copy.
package cache

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// KnownErrorCache caches known errors by id.
type KnownErrorCache interface {
	Get(id uuid.UUID) (*models.KnownError, bool)
	Set(ke *models.KnownError)
	Delete(id uuid.UUID)
}

// Ristretto implements KnownErrorCache.
type Ristretto struct {
	c      *ristretto.Cache[string, []byte]
	ttl    time.Duration
	logger *zap.Logger
}

var _ KnownErrorCache = (*Ristretto)(nil)

// NewRistretto creates a cache bounded to maxCostBytes of encoded values.
func NewRistretto(maxCostBytes int64, ttl time.Duration, logger *zap.Logger) (*Ristretto, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c, ttl: ttl, logger: logger.Named("known-error-cache")}, nil
}

// Get returns a copy of the cached known error.
func (r *Ristretto) Get(id uuid.UUID) (*models.KnownError, bool) {
	data, ok := r.c.Get(id.String())
	if !ok {
		return nil, false
	}
	var ke models.KnownError
	if err := json.Unmarshal(data, &ke); err != nil {
		r.logger.Warn("Dropping undecodable cache entry", zap.String("id", id.String()), zap.Error(err))
		r.c.Del(id.String())
		return nil, false
	}
	return &ke, true
}

// Set stores ke. Admission is asynchronous; a Get right after Set may miss.
func (r *Ristretto) Set(ke *models.KnownError) {
	data, err := json.Marshal(ke)
	if err != nil {
		r.logger.Warn("Failed to encode known error for cache", zap.Error(err))
		return
	}
	r.c.SetWithTTL(ke.ID.String(), data, int64(len(data)), r.ttl)
}

// Delete evicts id.
func (r *Ristretto) Delete(id uuid.UUID) {
	r.c.Del(id.String())
}

// Wait blocks until buffered writes have been applied.
func (r *Ristretto) Wait() {
	r.c.Wait()
}

// Close shuts down the cache and releases resources.
func (r *Ristretto) Close() {
	r.c.Close()
}

// Noop never caches. Used when the cache is disabled.
type Noop struct{}

var _ KnownErrorCache = Noop{}

// Get always misses.
func (Noop) Get(uuid.UUID) (*models.KnownError, bool) { return nil, false }

// Set discards ke.
func (Noop) Set(*models.KnownError) {}

// Delete does nothing.
func (Noop) Delete(uuid.UUID) {}
