package mvcc

import (
	log "github.com/sirupsen/logrus"
)

const walFileName = "mvcc.wal"

// Engine is the top-level handle a caller opens once per data directory and
// uses to run plan trees, §6. It replaces this package's former
// engine.Register("mvcc", ...) plugin stub: the plan-tree Execute boundary
// in SPEC_FULL.md takes the place of the sql front end's storage.Store
// interface that stub was built against.
type Engine struct {
	cfg     Config
	log     *log.Logger
	wal     *WAL
	lm      *LockManager
	tm      *TxManager
	storage *Storage
	exec    *Executor
}

// Open runs the startup sequence of §6: open the WAL, replay it against a
// fresh storage engine, bootstrap the catalog if this is a new data
// directory, then load the catalog into memory.
func Open(cfg Config, logger *log.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.StandardLogger()
	}

	wal, err := OpenWAL(cfg.DataDir + "/" + walFileName)
	if err != nil {
		return nil, err
	}

	lm := NewLockManager()
	tm := NewTxManager(wal, lm)
	storage := newStorage(cfg, logger, wal, tm)

	if err := replayWAL(wal, tm, storage); err != nil {
		wal.Close()
		return nil, err
	}

	bootTx := tm.StartTransaction()
	bootCid := tm.NextCID(bootTx)
	if err := storage.bootstrapCatalog(bootTx, bootCid); err != nil {
		wal.Close()
		return nil, err
	}
	if err := tm.Commit(bootTx); err != nil {
		wal.Close()
		return nil, err
	}

	if err := wal.Truncate(); err != nil {
		wal.Close()
		return nil, err
	}

	logger.WithField("dir", cfg.DataDir).Info("mvcc: engine opened")

	return &Engine{
		cfg:     cfg,
		log:     logger,
		wal:     wal,
		lm:      lm,
		tm:      tm,
		storage: storage,
		exec:    newExecutor(storage, tm),
	}, nil
}

// replayWAL re-applies every entry logged since the last clean truncation,
// per §4.3/§5: records belonging to a committed transaction are redone
// (idempotently: a slot already on the page is left as it is, so each
// record lands at its logged physical location), records belonging to
// any other transaction are never redone (implicit undo), and every
// transaction without a COMMIT entry, whether it reached ROLLBACK or has
// no terminal entry at all, is marked aborted so the visibility predicate
// hides whatever it did write to a page before the crash.
func replayWAL(wal *WAL, tm *TxManager, storage *Storage) error {
	entries, err := wal.ReadAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	terminal := map[TxId]Op{}
	for _, e := range entries {
		if e.Op == OpCommit || e.Op == OpRollback {
			terminal[e.TxId] = e.Op
		}
	}
	for _, e := range entries {
		if _, ok := terminal[e.TxId]; !ok {
			terminal[e.TxId] = OpRollback // no terminal entry: treated as aborted
		}
	}

	for _, e := range entries {
		if terminal[e.TxId] != OpCommit {
			continue // uncommitted work is never redone (implicit undo)
		}
		if err := redoEntry(e, storage); err != nil {
			return err
		}
	}

	for tx, op := range terminal {
		if op == OpCommit {
			tm.markCommittedFromReplay(tx)
		} else {
			tm.markAbortedFromReplay(tx)
		}
	}
	return storage.cache.FlushAll()
}

func redoEntry(e WALEntry, storage *Storage) error {
	switch e.Op {
	case OpInsert:
		var p insertPayload
		if err := decodePayload(e, &p); err != nil {
			return err
		}
		return redoInsert(storage, p)
	case OpDelete:
		var p deletePayload
		if err := decodePayload(e, &p); err != nil {
			return err
		}
		return redoDelete(storage, p)
	case OpCreateTable:
		var p createTablePayload
		if err := decodePayload(e, &p); err != nil {
			return err
		}
		if !storage.hasTable(p.Table) {
			if _, err := storage.ensureNewPage(p.Table); err != nil {
				return err
			}
			storage.setSchema(Schema{Table: p.Table, Columns: p.Columns})
		}
		return nil
	case OpDropTable:
		var p dropTablePayload
		if err := decodePayload(e, &p); err != nil {
			return err
		}
		storage.dropSchema(p.Table)
		return nil
	case OpCreateIndex, OpDropIndex, OpCommit, OpRollback:
		return nil
	default:
		return newError(CorruptWal, "redo: unknown op %q", e.Op)
	}
}

func redoInsert(storage *Storage, p insertPayload) error {
	for storage.pageCount(p.Table) <= p.PageID {
		if _, err := storage.ensureNewPage(p.Table); err != nil {
			return err
		}
	}
	ref, err := storage.cache.GetPage(p.Table, p.PageID)
	if err != nil {
		return err
	}
	defer ref.Unpin()

	page := ref.Page()
	if p.Slot < int(page.ItemCount()) {
		return nil // slot already on the page: redo is idempotent
	}
	for int(page.ItemCount()) < p.Slot {
		page.Insert(nil) // dead placeholder for a slot whose insert is not redone
	}
	page.Insert(p.Record)
	ref.MarkDirty()
	storage.setFreeSpace(p.Table, p.PageID, page.FreeSpace())
	return nil
}

func redoDelete(storage *Storage, p deletePayload) error {
	ref, err := storage.cache.GetPage(p.Table, p.PageID)
	if err != nil {
		return err
	}
	defer ref.Unpin()

	page := ref.Page()
	body := page.RecordBytes(p.Slot)
	if body == nil {
		return nil
	}
	rec, err := DecodeRecord(body)
	if err != nil {
		return err
	}
	if rec.Xmax == p.Xmax {
		return nil // already applied
	}
	rec.Xmax = p.Xmax
	rec.XmaxCid = p.XmaxCid
	newBody, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	page.PutRecordBytes(p.Slot, newBody)
	ref.MarkDirty()
	return nil
}

// Begin starts a new transaction and returns its id, §4.6.
func (e *Engine) Begin() TxId {
	return e.tm.StartTransaction()
}

// Execute runs plan under tx, per §6.
func (e *Engine) Execute(plan *Plan, tx TxId) (ResultSet, error) {
	return e.exec.Execute(plan, tx)
}

// Commit commits tx, §4.6.
func (e *Engine) Commit(tx TxId) error {
	return e.tm.Commit(tx)
}

// Rollback aborts tx, §4.6.
func (e *Engine) Rollback(tx TxId) error {
	return e.tm.Rollback(tx)
}

// Vacuum reclaims dead versions in table older than every live snapshot,
// §4.7 vacuum_table.
func (e *Engine) Vacuum(table string) error {
	return e.storage.VacuumTable(table, e.tm.TakeSnapshot())
}

// Close runs the shutdown sequence of §6: flush every dirty page, then
// close the WAL.
func (e *Engine) Close() error {
	if err := e.storage.flushAndClose(); err != nil {
		return err
	}
	e.log.Info("mvcc: engine closed")
	return e.wal.Close()
}
