package ledger

import (
	"sync"
	"time"

	"pharmatrack/m/domain"
)

// lockTable hands out one lock per inventory record so that concurrent
// operations against different records never block each other, while the
// read-modify-write against a single record is strictly serialized.
// Entries are never evicted: the table grows with the set of records ever
// mutated, at one idle channel apiece, which stays negligible next to the
// catalog itself.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (t *lockTable) get(ref domain.RecordRef) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.locks[ref.String()]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[ref.String()] = ch
	}
	return ch
}

// acquire blocks until the record lock is held or the wait budget runs out.
func (t *lockTable) acquire(ref domain.RecordRef, wait time.Duration) error {
	ch := t.get(ref)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrContentionExceeded
	}
}

func (t *lockTable) release(ref domain.RecordRef) {
	<-t.get(ref)
}
