package mvcc

import "sync"

// TxId is a monotone positive transaction id; 0 means "none" (§3).
type TxId uint32

// CID is a per-transaction monotone command counter starting at 0 (§3).
type CID uint32

// Snapshot is the set of transactions visible to a reader, per §3/§4.6:
// committed membership plus the active set at the moment the snapshot was
// taken (active ids are carried so the visibility predicate can tell
// "still active" apart from "committed after my snapshot").
type Snapshot struct {
	committed map[TxId]struct{}
	active    map[TxId]struct{}
}

func (s Snapshot) committedAt(tx TxId) bool {
	_, ok := s.committed[tx]
	return ok
}

func (s Snapshot) activeAt(tx TxId) bool {
	_, ok := s.active[tx]
	return ok
}

type txState struct {
	cid   CID
	locks map[string]struct{} // tables locked by this tx, for release on commit/rollback
}

// TxManager owns the monotone tx id counter, the three state sets, per-tx
// command counters and each tx's held-lock set, grounded on
// storage/service/tx.go and mvcc/database.go's startCount field (reused
// here as the nextTxID counter).
type TxManager struct {
	mu sync.Mutex

	nextTxID  TxId
	active    map[TxId]*txState
	committed map[TxId]struct{}
	aborted   map[TxId]struct{}

	wal *WAL
	lm  *LockManager
}

func NewTxManager(wal *WAL, lm *LockManager) *TxManager {
	return &TxManager{
		active:    map[TxId]*txState{},
		committed: map[TxId]struct{}{},
		aborted:   map[TxId]struct{}{},
		wal:       wal,
		lm:        lm,
	}
}

// StartTransaction allocates a new, strictly increasing tx id and makes it
// active with cid = 0 (§4.6, §8 property 1).
func (tm *TxManager) StartTransaction() TxId {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.nextTxID++
	id := tm.nextTxID
	tm.active[id] = &txState{locks: map[string]struct{}{}}
	return id
}

// NextCID post-increments the per-tx command counter.
func (tm *TxManager) NextCID(tx TxId) CID {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	st, ok := tm.active[tx]
	if !ok {
		return 0
	}
	cid := st.cid
	st.cid++
	return cid
}

// TakeSnapshot captures committed ∪ active at this instant (§4.6).
func (tm *TxManager) TakeSnapshot() Snapshot {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := Snapshot{
		committed: make(map[TxId]struct{}, len(tm.committed)),
		active:    make(map[TxId]struct{}, len(tm.active)),
	}
	for id := range tm.committed {
		snap.committed[id] = struct{}{}
	}
	for id := range tm.active {
		snap.active[id] = struct{}{}
	}
	return snap
}

// LockTable delegates to the lock manager and, on success, remembers the
// table so Commit/Rollback can release it (§4.6).
func (tm *TxManager) LockTable(tx TxId, table string, mode LockMode) error {
	if err := tm.lm.LockTable(tx, table, mode); err != nil {
		return err
	}

	tm.mu.Lock()
	if st, ok := tm.active[tx]; ok {
		st.locks[table] = struct{}{}
	}
	tm.mu.Unlock()
	return nil
}

// Commit journals the COMMIT record, releases tx's locks, and moves tx
// into the committed set (§4.6). The committed set records membership
// only; no commit sequence number is kept for tx. The WAL
// append happens before locks are released, satisfying §5's ordering
// guarantee.
func (tm *TxManager) Commit(tx TxId) error {
	if err := tm.wal.Append(tx, OpCommit, struct{}{}); err != nil {
		return err
	}

	tm.mu.Lock()
	st, ok := tm.active[tx]
	if !ok {
		tm.mu.Unlock()
		return newError(TxState, "commit: tx %d is not active", tx)
	}
	tables := st.locks
	tm.committed[tx] = struct{}{}
	delete(tm.active, tx)
	tm.mu.Unlock()

	for table := range tables {
		tm.lm.UnlockTable(tx, table)
	}
	return nil
}

// Rollback journals the ROLLBACK record, releases locks, and moves tx into
// the aborted set. Data pages are left as-is; their visibility is governed
// by IsAborted via the predicate in §4.7 (§4.6).
func (tm *TxManager) Rollback(tx TxId) error {
	if err := tm.wal.Append(tx, OpRollback, struct{}{}); err != nil {
		return err
	}

	tm.mu.Lock()
	st, ok := tm.active[tx]
	if !ok {
		tm.mu.Unlock()
		return newError(TxState, "rollback: tx %d is not active", tx)
	}
	tables := st.locks
	tm.aborted[tx] = struct{}{}
	delete(tm.active, tx)
	tm.mu.Unlock()

	for table := range tables {
		tm.lm.UnlockTable(tx, table)
	}
	return nil
}

func (tm *TxManager) IsCommitted(tx TxId) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.committed[tx]
	return ok
}

func (tm *TxManager) IsAborted(tx TxId) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.aborted[tx]
	return ok
}

func (tm *TxManager) IsActive(tx TxId) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	_, ok := tm.active[tx]
	return ok
}

// markCommittedFromReplay and markAbortedFromReplay let WAL recovery
// (mvcc.go) restore state-set membership and nextTxID without going
// through the normal journalling path (the record is already in the log).
func (tm *TxManager) markCommittedFromReplay(tx TxId) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.active, tx)
	tm.committed[tx] = struct{}{}
	if tx > tm.nextTxID {
		tm.nextTxID = tx
	}
}

func (tm *TxManager) markAbortedFromReplay(tx TxId) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.active, tx)
	tm.aborted[tx] = struct{}{}
	if tx > tm.nextTxID {
		tm.nextTxID = tx
	}
}
