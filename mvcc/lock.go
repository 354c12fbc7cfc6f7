package mvcc

import "sync"

// LockMode is the spec's two table-level modes, §4.5.
type LockMode int

const (
	Shared LockMode = iota + 1
	Exclusive
)

type tableLock struct {
	mode    LockMode
	holders map[TxId]struct{}
}

// LockManager is a table-level S/X lock table with upgrade, grounded on
// engine/fatlock/fatlock.go's mutex + map[key]*object{lockers} shape,
// narrowed from fatlock's four lock levels to the spec's two and adding
// the S->X upgrade-by-sole-holder rule §4.5 requires. There is no waiting
// and no deadlock detection, matching fatlock's advisory, non-blocking
// contract.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

func NewLockManager() *LockManager {
	return &LockManager{locks: map[string]*tableLock{}}
}

// LockTable attempts to grant tx a lock on table at mode, per §4.5:
//   - no current lock: grant.
//   - held only by tx: allow S->X upgrade (or re-grant at the same/lower mode).
//   - mode is S and current mode is S: add tx as an additional holder.
//   - anything else: fail immediately, no waiting.
func (lm *LockManager) LockTable(tx TxId, table string, mode LockMode) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	tl, ok := lm.locks[table]
	if !ok {
		lm.locks[table] = &tableLock{mode: mode, holders: map[TxId]struct{}{tx: {}}}
		return nil
	}

	_, alreadyHolds := tl.holders[tx]
	if alreadyHolds && len(tl.holders) == 1 {
		if mode > tl.mode {
			tl.mode = mode
		}
		return nil
	}

	if mode == Shared && tl.mode == Shared {
		tl.holders[tx] = struct{}{}
		return nil
	}

	return newError(LockConflict, "table %q: cannot grant %v to tx %d, held as %v by %d locker(s)",
		table, mode, tx, tl.mode, len(tl.holders))
}

// UnlockTable removes tx from table's holders, dropping the entry entirely
// once empty.
func (lm *LockManager) UnlockTable(tx TxId, table string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	tl, ok := lm.locks[table]
	if !ok {
		return
	}
	delete(tl.holders, tx)
	if len(tl.holders) == 0 {
		delete(lm.locks, table)
	}
}

// HolderCount reports the current holder count for table, used by tests
// asserting §8 property 7 (lock exclusivity).
func (lm *LockManager) HolderCount(table string) (LockMode, int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	tl, ok := lm.locks[table]
	if !ok {
		return 0, 0
	}
	return tl.mode, len(tl.holders)
}
