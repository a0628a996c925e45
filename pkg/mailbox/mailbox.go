// Package mailbox holds completed task results until their requester polls
// them. Reads are destructive: each result is delivered at most once, and
// results nobody polls are evicted after a TTL instead of accumulating.
package mailbox

import (
	"context"
	"sync"
	"time"

	"relief/pkg/logx"
	"relief/pkg/proto"
)

type entry struct {
	result   proto.JobResult
	storedAt time.Time
}

// Mailbox is a per-requester result store safe for concurrent use.
type Mailbox struct {
	mu      sync.Mutex
	entries map[string][]entry
	ttl     time.Duration
	logger  *logx.Logger
}

// New creates a mailbox whose janitor evicts results older than ttl.
func New(ttl time.Duration) *Mailbox {
	return &Mailbox{
		entries: make(map[string][]entry),
		ttl:     ttl,
		logger:  logx.NewLogger("mailbox"),
	}
}

// Append stores a result for the given requester.
func (m *Mailbox) Append(requesterID string, result proto.JobResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[requesterID] = append(m.entries[requesterID], entry{result: result, storedAt: time.Now()})
}

// PopAll removes and returns every stored result for the requester, oldest
// first. A requester that never polls simply abandons its results.
func (m *Mailbox) PopAll(requesterID string) []proto.JobResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.entries[requesterID]
	if len(stored) == 0 {
		return nil
	}
	delete(m.entries, requesterID)
	results := make([]proto.JobResult, len(stored))
	for i, e := range stored {
		results[i] = e.result
	}
	return results
}

// Len reports the total number of stored results across all requesters.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, stored := range m.entries {
		n += len(stored)
	}
	return n
}

// StartJanitor sweeps expired results every ttl/2 until ctx is cancelled.
func (m *Mailbox) StartJanitor(ctx context.Context) {
	interval := m.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := m.evictExpired(time.Now()); evicted > 0 {
					m.logger.Info("evicted %d unclaimed result(s)", evicted)
				}
			}
		}
	}()
}

func (m *Mailbox) evictExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, stored := range m.entries {
		kept := stored[:0]
		for _, e := range stored {
			if now.Sub(e.storedAt) < m.ttl {
				kept = append(kept, e)
			} else {
				evicted++
			}
		}
		if len(kept) == 0 {
			delete(m.entries, id)
		} else {
			m.entries[id] = kept
		}
	}
	return evicted
}
