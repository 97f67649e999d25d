// Package idempotency makes job submission safe to repeat: a client key is
// bound to the first response it produced and replayed for the retention
// window, so network retries never spawn duplicate jobs.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/models"
)

type record struct {
	rec     models.IdempotencyRecord
	pending bool // reserved, response not committed yet
}

// Guard is an in-memory idempotency store. Reserve is an atomic
// check-and-set under one lock, so two concurrent submissions with the same
// key cannot both win: the loser observes the reservation and waits for the
// committed response.
type Guard struct {
	mu        sync.Mutex
	records   map[string]*record
	retention time.Duration
	logger    arbor.ILogger
}

// NewGuard creates a guard that replays responses for the given retention.
func NewGuard(retention time.Duration) *Guard {
	return &Guard{
		records:   make(map[string]*record),
		retention: retention,
		logger:    common.GetLogger(),
	}
}

// Reserve claims a key for the caller. When the key is free the caller owns
// it and must call Commit or Release. When the key holds a committed
// response, that response is returned for replay. When another caller holds
// an uncommitted reservation, owned and replay are both empty; the caller
// should retry shortly.
func (g *Guard) Reserve(ctx context.Context, key string) (owned bool, replay *models.JobCreated) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	if r, ok := g.records[key]; ok {
		if now.Before(r.rec.ExpiresAt) {
			if r.pending {
				return false, nil
			}
			resp := r.rec.Response
			return false, &resp
		}
		delete(g.records, key)
	}

	g.records[key] = &record{
		rec: models.IdempotencyRecord{
			Key:       key,
			CreatedAt: now,
			ExpiresAt: now.Add(g.retention),
		},
		pending: true,
	}
	return true, nil
}

// Commit binds the response to a reserved key.
func (g *Guard) Commit(ctx context.Context, key string, response *models.JobCreated) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.records[key]
	if !ok || !r.pending {
		g.logger.Warn().Str("key", key).Msg("Commit without matching reservation")
		return
	}
	r.rec.Response = *response
	r.pending = false
}

// Release frees a reserved key after a failed submission so the client's
// retry can run the operation again.
func (g *Guard) Release(ctx context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.records[key]; ok && r.pending {
		delete(g.records, key)
	}
}

// Lookup returns the committed response for a key, if any.
func (g *Guard) Lookup(ctx context.Context, key string) *models.JobCreated {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.records[key]
	if !ok || r.pending || time.Now().UTC().After(r.rec.ExpiresAt) {
		return nil
	}
	resp := r.rec.Response
	return &resp
}

// SweepExpired removes records past their retention window.
func (g *Guard) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, r := range g.records {
		if now.After(r.rec.ExpiresAt) {
			delete(g.records, key)
			removed++
		}
	}
	if removed > 0 {
		g.logger.Info().Int("removed", removed).Msg("Swept expired idempotency records")
	}
	return removed, nil
}

// Len returns the number of resident records.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}
