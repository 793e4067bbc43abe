package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AccountQueue serializes on-chain work per signing account. The
// account's pending nonce is process-wide mutable state: two requests
// submitting from the same account concurrently would read the same
// nonce and collide. Holding the account's slot for the whole
// read-nonce/submit sequence makes submissions strictly sequential.
type AccountQueue struct {
	mu    sync.Mutex
	slots map[common.Address]*sync.Mutex
}

func NewAccountQueue() *AccountQueue {
	return &AccountQueue{
		slots: make(map[common.Address]*sync.Mutex),
	}
}

// Acquire blocks until the account's slot is free and returns the
// release function. Callers must release even on failure paths.
func (q *AccountQueue) Acquire(account common.Address) (release func()) {
	q.mu.Lock()
	slot, ok := q.slots[account]
	if !ok {
		slot = &sync.Mutex{}
		q.slots[account] = slot
	}
	q.mu.Unlock()

	slot.Lock()
	return slot.Unlock
}
