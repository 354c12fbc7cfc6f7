package mvcc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	sysTablesName  = "sys_tables"
	sysColumnsName = "sys_columns"
	tableExtension = ".tbl"
)

type tableFile struct {
	name      string
	f         *os.File
	pageCount uint32
}

type indexInfo struct {
	name   string
	table  string
	column string
	tree   *BTree
}

// Storage owns heap files, the catalog, the free-space map and the index
// set (§4.7), grounded on mvcc/mvcc.go's (never-implemented) Start/
// CreateDatabase stubs and mvcc/database.go's page-cache wiring, replacing
// their shared multi-table inventory/directory file format with one heap
// file per table, per spec.md §4.7 ("Table files are one file per table at
// data/<table>.tbl").
type Storage struct {
	cfg Config
	log *log.Logger
	txm *TxManager
	wal *WAL

	cache *BufferCache

	mu         sync.Mutex
	tables     map[string]*tableFile
	freeSpace  map[string]map[uint32]int
	schemas    map[string]Schema
	indexes    map[string]*indexInfo
	tableIndex map[string][]*indexInfo // table name -> indexes on it
}

func newStorage(cfg Config, logger *log.Logger, wal *WAL, txm *TxManager) *Storage {
	s := &Storage{
		cfg:        cfg,
		log:        logger,
		wal:        wal,
		txm:        txm,
		tables:     map[string]*tableFile{},
		freeSpace:  map[string]map[uint32]int{},
		schemas:    map[string]Schema{},
		indexes:    map[string]*indexInfo{},
		tableIndex: map[string][]*indexInfo{},
	}
	s.cache = NewBufferCache(s, cfg.PageSize, cfg.BufferCacheCapacity)
	return s
}

// pageIO implementation, delegated to by the buffer cache.

func (s *Storage) readPage(file string, pageID uint32, pageSize int) (Page, error) {
	tf, err := s.openTableFile(file)
	if err != nil {
		return nil, err
	}
	p := NewPage(pageSize)
	if pageID >= tf.pageCount {
		return p, nil
	}
	_, err = tf.f.ReadAt(p, int64(pageID)*int64(pageSize))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Storage) writePage(file string, pageID uint32, p Page) error {
	tf, err := s.openTableFile(file)
	if err != nil {
		return err
	}
	if _, err := tf.f.WriteAt(p, int64(pageID)*int64(len(p))); err != nil {
		return err
	}
	if pageID+1 > tf.pageCount {
		tf.pageCount = pageID + 1
	}
	return tf.f.Sync()
}

func (s *Storage) tablePath(table string) string {
	return filepath.Join(s.cfg.DataDir, table+tableExtension)
}

func (s *Storage) openTableFile(table string) (*tableFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tf, ok := s.tables[table]; ok {
		return tf, nil
	}
	f, err := os.OpenFile(s.tablePath(table), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, wrapError(IoError, err, "open table file %s", table)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, wrapError(IoError, err, "stat table file %s", table)
	}
	tf := &tableFile{
		name:      table,
		f:         f,
		pageCount: uint32(fi.Size() / int64(s.cfg.PageSize)),
	}
	s.tables[table] = tf
	return tf, nil
}

// ensureNewPage allocates a brand-new empty page at the end of table's
// file and registers it in the free-space map. Pages are never physically
// freed (§3 Lifecycle).
func (s *Storage) ensureNewPage(table string) (uint32, error) {
	tf, err := s.openTableFile(table)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	pageID := tf.pageCount
	tf.pageCount++
	s.mu.Unlock()

	p := NewPage(s.cfg.PageSize)
	if err := s.cache.PutPage(table, pageID, p); err != nil {
		return 0, err
	}
	s.setFreeSpace(table, pageID, p.FreeSpace())
	return pageID, nil
}

func (s *Storage) setFreeSpace(table string, pageID uint32, free int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fm, ok := s.freeSpace[table]
	if !ok {
		fm = map[uint32]int{}
		s.freeSpace[table] = fm
	}
	fm[pageID] = free
}

// findPageWithSpace scans the free-space map in page-id order for a page
// with at least `need` bytes free, per §4.7 "Free-space management".
func (s *Storage) findPageWithSpace(table string, need int) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fm := s.freeSpace[table]
	var ids []uint32
	for id := range fm {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if fm[id] >= need {
			return id, true
		}
	}
	return 0, false
}

// --- catalog / schema ---

func (s *Storage) hasTable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.schemas[name]
	return ok
}

func (s *Storage) schema(name string) (Schema, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schemas[name]
	return sc, ok
}

func (s *Storage) setSchema(sc Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[sc.Table] = sc
}

func (s *Storage) dropSchema(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemas, name)
	delete(s.tables, name)
	delete(s.freeSpace, name)
}

// CreateTable creates the table's heap file, an initial empty page, and
// (unless bootstrapping the catalog itself) rows in sys_tables/sys_columns,
// per §4.7.
func (s *Storage) CreateTable(name string, cols []Column, tx TxId, cid CID) error {
	if s.hasTable(name) {
		return newError(AlreadyExists, "table %q already exists", name)
	}

	if _, err := s.ensureNewPage(name); err != nil {
		return err
	}
	s.setSchema(Schema{Table: name, Columns: cols})

	if name != sysTablesName && name != sysColumnsName {
		if _, err := s.InsertRecord(sysTablesName, Record{Cols: []Value{StringValue(name)}},
			tx, cid); err != nil {
			return err
		}
		for _, c := range cols {
			row := Record{Cols: []Value{
				StringValue(name),
				StringValue(c.Name),
				IntValue(c.Type),
				notNullInt(c.NotNull),
			}}
			if _, err := s.InsertRecord(sysColumnsName, row, tx, cid); err != nil {
				return err
			}
		}
	}

	return s.wal.Append(tx, OpCreateTable, createTablePayload{Table: name, Columns: cols})
}

func notNullInt(b bool) IntValue {
	if b {
		return 1
	}
	return 0
}

// DropTable removes the file, catalog rows and indexes for name, §4.7.
func (s *Storage) DropTable(name string, tx TxId, cid CID) error {
	if !s.hasTable(name) {
		return newError(NotFound, "table %q does not exist", name)
	}

	rows, err := s.ScanTable(sysTablesName, tx, cid, s.txm.TakeSnapshot())
	if err == nil {
		for _, r := range rows {
			if len(r.Record.Cols) > 0 && r.Record.Cols[0] == StringValue(name) {
				s.markDeleted(sysTablesName, r.Tid, tx, cid)
			}
		}
	}
	colRows, err := s.ScanTable(sysColumnsName, tx, cid, s.txm.TakeSnapshot())
	if err == nil {
		for _, r := range colRows {
			if len(r.Record.Cols) > 0 && r.Record.Cols[0] == StringValue(name) {
				s.markDeleted(sysColumnsName, r.Tid, tx, cid)
			}
		}
	}

	s.mu.Lock()
	if tf, ok := s.tables[name]; ok {
		tf.f.Close()
	}
	for idxName, idx := range s.indexes {
		if idx.table == name {
			delete(s.indexes, idxName)
		}
	}
	delete(s.tableIndex, name)
	s.mu.Unlock()

	os.Remove(s.tablePath(name))
	s.dropSchema(name)

	return s.wal.Append(tx, OpDropTable, dropTablePayload{Table: name})
}

// CreateIndex builds a fresh B+tree over table.column, scanning every
// visible record and inserting its key using its physical tid, §4.7.
func (s *Storage) CreateIndex(indexName, table, column string, tx TxId, cid CID) error {
	s.mu.Lock()
	if _, ok := s.indexes[indexName]; ok {
		s.mu.Unlock()
		return newError(AlreadyExists, "index %q already exists", indexName)
	}
	s.mu.Unlock()

	sc, ok := s.schema(table)
	if !ok {
		return newError(NotFound, "table %q does not exist", table)
	}
	colIdx := sc.ColumnIndex(column)
	if colIdx < 0 {
		return newError(SemanticError, "table %q has no column %q", table, column)
	}

	tree := NewBTree(s.cfg.BTreeDegree)
	rows, err := s.ScanTable(table, tx, cid, s.txm.TakeSnapshot())
	if err != nil {
		return err
	}
	for _, r := range rows {
		tree.Insert(EncodeKey(r.Record.Cols[colIdx]), r.Tid)
	}

	idx := &indexInfo{name: indexName, table: table, column: column, tree: tree}
	s.mu.Lock()
	s.indexes[indexName] = idx
	s.tableIndex[table] = append(s.tableIndex[table], idx)
	s.mu.Unlock()

	return s.wal.Append(tx, OpCreateIndex,
		createIndexPayload{Index: indexName, Table: table, Column: column})
}

// DropIndex removes the named index structure, §4.7.
func (s *Storage) DropIndex(indexName string, tx TxId) error {
	s.mu.Lock()
	idx, ok := s.indexes[indexName]
	if !ok {
		s.mu.Unlock()
		return newError(NotFound, "index %q does not exist", indexName)
	}
	delete(s.indexes, indexName)
	list := s.tableIndex[idx.table]
	for i, ix := range list {
		if ix.name == indexName {
			s.tableIndex[idx.table] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	return s.wal.Append(tx, OpDropIndex, dropIndexPayload{Index: indexName})
}

// InsertRecord stamps the MVCC header, places the record on the first page
// with enough free space (allocating a new page otherwise), updates every
// index on the table, and journals the insert, §4.7.
func (s *Storage) InsertRecord(table string, rec Record, tx TxId, cid CID) (Tid, error) {
	rec.Xmin = tx
	rec.Xmax = 0
	rec.Cid = cid
	rec.XmaxCid = 0

	body, err := EncodeRecord(rec)
	if err != nil {
		return Tid{}, err
	}
	need := len(body)

	pageID, ok := s.findPageWithSpace(table, need+4)
	if !ok {
		pageID, err = s.ensureNewPage(table)
		if err != nil {
			return Tid{}, err
		}
	}

	ref, err := s.cache.GetPage(table, pageID)
	if err != nil {
		return Tid{}, err
	}
	p := ref.Page()
	if !p.CanFit(need, s.cfg.MaxItemPointers) {
		ref.Unpin()
		pageID, err = s.ensureNewPage(table)
		if err != nil {
			return Tid{}, err
		}
		ref, err = s.cache.GetPage(table, pageID)
		if err != nil {
			return Tid{}, err
		}
		p = ref.Page()
	}

	slot := p.Insert(body)
	ref.MarkDirty()
	s.setFreeSpace(table, pageID, p.FreeSpace())
	ref.Unpin()

	tid := Tid{File: table, PageID: pageID, Slot: uint16(slot)}

	if sc, ok := s.schema(table); ok {
		for _, idx := range s.tableIndex[table] {
			colIdx := sc.ColumnIndex(idx.column)
			if colIdx >= 0 && colIdx < len(rec.Cols) {
				idx.tree.Insert(EncodeKey(rec.Cols[colIdx]), tid)
			}
		}
	}

	err = s.wal.Append(tx, OpInsert, insertPayload{
		Table: table, PageID: pageID, Slot: slot, Record: body,
	})
	return tid, err
}

// RowWithTid pairs a decoded record with its physical location.
type RowWithTid struct {
	Tid    Tid
	Record Record
}

// visible implements the predicate of §4.7.
func (s *Storage) visible(r Record, readerTx TxId, readerCid CID, snap Snapshot) bool {
	if s.txm.IsAborted(r.Xmin) {
		return false
	}
	if r.Xmin == readerTx {
		if r.Cid >= readerCid {
			return false
		}
		return r.Xmax == 0 || (r.Xmax == readerTx && r.XmaxCid >= readerCid)
	}
	if snap.committedAt(r.Xmin) {
		if r.Xmax == 0 {
			return true
		}
		if r.Xmax == readerTx {
			return true
		}
		if s.txm.IsAborted(r.Xmax) {
			return true
		}
		if !snap.committedAt(r.Xmax) {
			// Still active (or unknown) to the reader.
			return true
		}
		return false
	}
	return false
}

func (s *Storage) pageCount(table string) uint32 {
	tf, err := s.openTableFile(table)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return tf.pageCount
}

// ScanTable decodes every slot of every page and returns the visible ones,
// §4.7 scan_table.
func (s *Storage) ScanTable(table string, tx TxId, cid CID, snap Snapshot) ([]RowWithTid, error) {
	sc, ok := s.schema(table)
	if !ok {
		return nil, newError(NotFound, "table %q does not exist", table)
	}
	_ = sc

	var out []RowWithTid
	n := s.pageCount(table)
	for pid := uint32(0); pid < n; pid++ {
		ref, err := s.cache.GetPage(table, pid)
		if err != nil {
			return nil, err
		}
		p := ref.Page()
		count := int(p.ItemCount())
		for slot := 0; slot < count; slot++ {
			body := p.RecordBytes(slot)
			if body == nil {
				continue
			}
			rec, err := DecodeRecord(body)
			if err != nil {
				ref.Unpin()
				return nil, err
			}
			if s.visible(rec, tx, cid, snap) {
				out = append(out, RowWithTid{
					Tid:    Tid{File: table, PageID: pid, Slot: uint16(slot)},
					Record: rec,
				})
			}
		}
		ref.Unpin()
	}
	return out, nil
}

// IndexScan probes the B+tree on column with value's string encoding,
// fetches each referenced record and returns those passing visibility,
// §4.7 index_scan.
func (s *Storage) IndexScan(indexName string, value Value, tx TxId, cid CID,
	snap Snapshot) ([]RowWithTid, error) {

	s.mu.Lock()
	idx, ok := s.indexes[indexName]
	s.mu.Unlock()
	if !ok {
		return nil, newError(NotFound, "index %q does not exist", indexName)
	}

	tids := idx.tree.Search(EncodeKey(value))
	var out []RowWithTid
	for _, tid := range tids {
		ref, err := s.cache.GetPage(tid.File, tid.PageID)
		if err != nil {
			return nil, err
		}
		body := ref.Page().RecordBytes(int(tid.Slot))
		if body == nil {
			ref.Unpin()
			continue
		}
		rec, err := DecodeRecord(body)
		ref.Unpin()
		if err != nil {
			return nil, err
		}
		if s.visible(rec, tx, cid, snap) {
			out = append(out, RowWithTid{Tid: tid, Record: rec})
		}
	}
	return out, nil
}

func matchesAll(cols []Column, rec Record, conditions []WhereCondition) bool {
	for _, c := range conditions {
		idx := -1
		for i, col := range cols {
			if col.Name == c.Column {
				idx = i
				break
			}
		}
		if idx < 0 || idx >= len(rec.Cols) {
			return false
		}
		if !c.Matches(rec.Cols[idx]) {
			return false
		}
	}
	return true
}

// markDeleted sets xmax := tx on the record at tid in place, §4.7
// delete_records.
func (s *Storage) markDeleted(table string, tid Tid, tx TxId, cid CID) error {
	ref, err := s.cache.GetPage(table, tid.PageID)
	if err != nil {
		return err
	}
	defer ref.Unpin()

	p := ref.Page()
	body := p.RecordBytes(int(tid.Slot))
	if body == nil {
		return newError(NotFound, "tid %v: slot is dead", tid)
	}
	rec, err := DecodeRecord(body)
	if err != nil {
		return err
	}
	rec.Xmax = tx
	rec.XmaxCid = cid
	newBody, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if len(newBody) != len(body) {
		return newError(CorruptPage, "delete re-encoding changed record size")
	}
	p.PutRecordBytes(int(tid.Slot), newBody)
	ref.MarkDirty()
	return nil
}

// DeleteRecords sets xmax := tx on every visible record matching
// conditions; the old version remains readable to older snapshots, §4.7.
func (s *Storage) DeleteRecords(table string, conditions []WhereCondition, tx TxId, cid CID,
	snap Snapshot) (int, error) {

	sc, ok := s.schema(table)
	if !ok {
		return 0, newError(NotFound, "table %q does not exist", table)
	}
	rows, err := s.ScanTable(table, tx, cid, snap)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, r := range rows {
		if !matchesAll(sc.Columns, r.Record, conditions) {
			continue
		}
		if err := s.markDeleted(table, r.Tid, tx, cid); err != nil {
			return count, err
		}
		if err := s.wal.Append(tx, OpDelete, deletePayload{
			Table: table, PageID: r.Tid.PageID, Slot: int(r.Tid.Slot), Xmax: tx, XmaxCid: cid,
		}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// UpdateRecords performs the two-pass update of §4.7: first mark every
// matching visible record's xmax, then insert the updated version, so the
// update never re-visits its own newly inserted rows.
func (s *Storage) UpdateRecords(table string, conditions []WhereCondition,
	setClause map[string]Value, tx TxId, cid CID, snap Snapshot) (int, error) {

	sc, ok := s.schema(table)
	if !ok {
		return 0, newError(NotFound, "table %q does not exist", table)
	}
	rows, err := s.ScanTable(table, tx, cid, snap)
	if err != nil {
		return 0, err
	}

	var toUpdate []RowWithTid
	for _, r := range rows {
		if matchesAll(sc.Columns, r.Record, conditions) {
			toUpdate = append(toUpdate, r)
		}
	}

	for _, r := range toUpdate {
		if err := s.markDeleted(table, r.Tid, tx, cid); err != nil {
			return 0, err
		}
		if err := s.wal.Append(tx, OpDelete, deletePayload{
			Table: table, PageID: r.Tid.PageID, Slot: int(r.Tid.Slot), Xmax: tx, XmaxCid: cid,
		}); err != nil {
			return 0, err
		}
	}

	count := 0
	for _, r := range toUpdate {
		newCols := append([]Value{}, r.Record.Cols...)
		for name, v := range setClause {
			if idx := sc.ColumnIndex(name); idx >= 0 {
				newCols[idx] = v
			}
		}
		if _, err := s.InsertRecord(table, Record{Cols: newCols}, tx, cid); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// VacuumTable removes item pointers whose records have a committed xmax
// older than every live snapshot, §4.7 vacuum_table.
func (s *Storage) VacuumTable(table string, oldestSnapshot Snapshot) error {
	n := s.pageCount(table)
	for pid := uint32(0); pid < n; pid++ {
		ref, err := s.cache.GetPage(table, pid)
		if err != nil {
			return err
		}
		p := ref.Page()
		count := int(p.ItemCount())
		for slot := 0; slot < count; slot++ {
			body := p.RecordBytes(slot)
			if body == nil {
				continue
			}
			rec, err := DecodeRecord(body)
			if err != nil {
				ref.Unpin()
				return err
			}
			if rec.Xmax != 0 && s.txm.IsCommitted(rec.Xmax) && !oldestSnapshot.activeAt(rec.Xmax) &&
				oldestSnapshot.committedAt(rec.Xmax) {
				p.RemoveItemPointer(slot)
				ref.MarkDirty()
			}
		}
		ref.Unpin()
		s.log.WithFields(log.Fields{"table": table, "page": pid}).Debug("vacuumed page")
	}
	return nil
}

// --- catalog bootstrap & recovery, §4.7 ---

// bootstrapCatalog creates sys_tables/sys_columns if either file is
// missing (their own schemas are fixed in code and are not inserted as
// rows into the catalog tables), then scans data/ for existing
// *.tbl files and rebuilds the in-memory schema map from the catalog
// tables themselves.
func (s *Storage) bootstrapCatalog(tx TxId, cid CID) error {
	if err := os.MkdirAll(s.cfg.DataDir, 0755); err != nil {
		return wrapError(IoError, err, "create data dir %s", s.cfg.DataDir)
	}

	needBootstrap := !fileExists(s.tablePath(sysTablesName)) ||
		!fileExists(s.tablePath(sysColumnsName))

	if needBootstrap {
		s.log.Info("mvcc: bootstrapping catalog")
		sysTablesCols := []Column{{Name: "table_name", Type: StringColumn, NotNull: true}}
		sysColumnsCols := []Column{
			{Name: "table_name", Type: StringColumn, NotNull: true},
			{Name: "column_name", Type: StringColumn, NotNull: true},
			{Name: "column_type", Type: IntColumn, NotNull: true},
			{Name: "not_null", Type: IntColumn, NotNull: true},
		}

		// CreateTable itself allocates the first page and records the
		// schema; for sys_tables/sys_columns it skips the self-referential
		// catalog inserts (see the name check inside CreateTable).
		if err := s.CreateTable(sysTablesName, sysTablesCols, tx, cid); err != nil {
			return err
		}
		if err := s.CreateTable(sysColumnsName, sysColumnsCols, tx, cid); err != nil {
			return err
		}
	} else {
		s.setSchema(Schema{Table: sysTablesName, Columns: []Column{
			{Name: "table_name", Type: StringColumn, NotNull: true},
		}})
		s.setSchema(Schema{Table: sysColumnsName, Columns: []Column{
			{Name: "table_name", Type: StringColumn, NotNull: true},
			{Name: "column_name", Type: StringColumn, NotNull: true},
			{Name: "column_type", Type: IntColumn, NotNull: true},
			{Name: "not_null", Type: IntColumn, NotNull: true},
		}})
	}

	return s.loadCatalog(tx, cid)
}

// loadCatalog scans data/ for *.tbl files, then scans sys_tables followed
// by sys_columns to rebuild schema in memory, per §4.7's final section.
func (s *Storage) loadCatalog(tx TxId, cid CID) error {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return wrapError(IoError, err, "read data dir %s", s.cfg.DataDir)
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), tableExtension) {
			continue
		}
		table := strings.TrimSuffix(ent.Name(), tableExtension)
		if _, err := s.openTableFile(table); err != nil {
			return err
		}
	}

	snap := s.txm.TakeSnapshot()
	tableRows, err := s.ScanTable(sysTablesName, tx, cid, snap)
	if err != nil {
		return err
	}
	colRows, err := s.ScanTable(sysColumnsName, tx, cid, snap)
	if err != nil {
		return err
	}

	colsByTable := map[string][]Column{}
	for _, r := range colRows {
		if len(r.Record.Cols) < 4 {
			continue
		}
		tname, ok := r.Record.Cols[0].(StringValue)
		if !ok {
			continue
		}
		cname, _ := r.Record.Cols[1].(StringValue)
		ctype, _ := r.Record.Cols[2].(IntValue)
		notNull, _ := r.Record.Cols[3].(IntValue)
		colsByTable[string(tname)] = append(colsByTable[string(tname)], Column{
			Name:    string(cname),
			Type:    ColumnType(ctype),
			NotNull: notNull != 0,
		})
	}
	for _, r := range tableRows {
		if len(r.Record.Cols) < 1 {
			continue
		}
		tname, ok := r.Record.Cols[0].(StringValue)
		if !ok {
			continue
		}
		if string(tname) == sysTablesName || string(tname) == sysColumnsName {
			continue
		}
		s.setSchema(Schema{Table: string(tname), Columns: colsByTable[string(tname)]})
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *Storage) flushAndClose() error {
	if err := s.cache.FlushAll(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tf := range s.tables {
		tf.f.Close()
	}
	return nil
}
