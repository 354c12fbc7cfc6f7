package mvcc

// Executor walks a Plan tree against a Storage and a single transaction's
// id/cid/snapshot, §6. It is grounded on storage/kvrows' executor-less
// direct Table methods (this package inlines that dispatch as a switch
// instead of a generic Rows iterator, since the plan shapes here are fixed
// and small).
type Executor struct {
	storage *Storage
	tm      *TxManager
}

func newExecutor(storage *Storage, tm *TxManager) *Executor {
	return &Executor{storage: storage, tm: tm}
}

// execContext carries per-call transaction state through plan evaluation.
type execContext struct {
	tx   TxId
	cid  CID
	snap Snapshot
}

// Execute runs plan to completion under tx, acquiring the lock each node
// requires before touching its table (shared for reads, exclusive for
// writes and DDL), §4.5/§6.
func (ex *Executor) Execute(plan *Plan, tx TxId) (ResultSet, error) {
	cid := ex.tm.NextCID(tx)
	ec := execContext{tx: tx, cid: cid, snap: ex.tm.TakeSnapshot()}

	if err := ex.acquireLocks(plan, tx); err != nil {
		return ResultSet{}, err
	}

	rows, cols, err := ex.run(plan, ec)
	if err != nil {
		return ResultSet{}, err
	}
	if isMutation(plan.Type) {
		return ResultSet{RowsAffected: len(rows)}, nil
	}

	out := ResultSet{Columns: cols}
	for _, r := range rows {
		out.Rows = append(out.Rows, r.Record.Cols)
	}
	return out, nil
}

func isMutation(t PlanType) bool {
	switch t {
	case InsertPlan, UpdatePlan, DeletePlan, CreateTablePlan, DropTablePlan,
		CreateIndexPlan, DropIndexPlan:
		return true
	}
	return false
}

// acquireLocks walks the plan tree depth-first, locking each referenced
// table exclusive for writes/DDL and shared for scans, §4.5.
func (ex *Executor) acquireLocks(plan *Plan, tx TxId) error {
	if plan == nil {
		return nil
	}
	switch plan.Type {
	case SeqScanPlan, IndexScanPlan:
		if err := ex.tm.LockTable(tx, plan.TableName, Shared); err != nil {
			return err
		}
	case InsertPlan, UpdatePlan, DeletePlan, CreateTablePlan, DropTablePlan,
		CreateIndexPlan, DropIndexPlan:
		if err := ex.tm.LockTable(tx, plan.TableName, Exclusive); err != nil {
			return err
		}
	}
	for _, c := range plan.Children {
		if err := ex.acquireLocks(c, tx); err != nil {
			return err
		}
	}
	return nil
}

// run dispatches one plan node, returning its rows and, for scan/filter/
// projection nodes, the column names of the rows it produced.
func (ex *Executor) run(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	switch plan.Type {
	case SeqScanPlan:
		return ex.runSeqScan(plan, ec)
	case IndexScanPlan:
		return ex.runIndexScan(plan, ec)
	case FilterPlan:
		return ex.runFilter(plan, ec)
	case ProjectionPlan:
		return ex.runProjection(plan, ec)
	case InsertPlan:
		return ex.runInsert(plan, ec)
	case UpdatePlan:
		return ex.runUpdate(plan, ec)
	case DeletePlan:
		return ex.runDelete(plan, ec)
	case CreateTablePlan:
		return ex.runCreateTable(plan, ec)
	case DropTablePlan:
		return nil, nil, ex.storage.DropTable(plan.TableName, ec.tx, ec.cid)
	case CreateIndexPlan:
		return nil, nil, ex.storage.CreateIndex(plan.IndexName, plan.TableName,
			plan.IndexColumn, ec.tx, ec.cid)
	case DropIndexPlan:
		return nil, nil, ex.storage.DropIndex(plan.IndexName, ec.tx)
	default:
		return nil, nil, newError(SemanticError, "unknown plan node type %q", plan.Type)
	}
}

func (ex *Executor) runSeqScan(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	rows, err := ex.storage.ScanTable(plan.TableName, ec.tx, ec.cid, ec.snap)
	if err != nil {
		return nil, nil, err
	}
	sc, _ := ex.storage.schema(plan.TableName)
	return rows, columnNames(sc), nil
}

func (ex *Executor) runIndexScan(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	rows, err := ex.storage.IndexScan(plan.IndexName, plan.IndexValue, ec.tx, ec.cid, ec.snap)
	if err != nil {
		return nil, nil, err
	}
	sc, _ := ex.storage.schema(plan.TableName)
	return rows, columnNames(sc), nil
}

// runFilter evaluates its single child and keeps only rows matching every
// condition, §6 FILTER.
func (ex *Executor) runFilter(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	if len(plan.Children) != 1 {
		return nil, nil, newError(SemanticError, "FILTER requires exactly one child")
	}
	rows, cols, err := ex.run(plan.Children[0], ec)
	if err != nil {
		return nil, nil, err
	}
	childCols := childTableColumns(plan.Children[0], ex.storage)

	var out []RowWithTid
	for _, r := range rows {
		if matchesAll(childCols, r.Record, plan.Conditions) {
			out = append(out, r)
		}
	}
	return out, cols, nil
}

// runProjection narrows each row's columns to ProjectionColumns, in order;
// "*" passes every column through unchanged. Unknown column names and
// projecting zero columns are both SemanticErrors, §6 PROJECTION.
func (ex *Executor) runProjection(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	if len(plan.Children) != 1 {
		return nil, nil, newError(SemanticError, "PROJECTION requires exactly one child")
	}
	rows, cols, err := ex.run(plan.Children[0], ec)
	if err != nil {
		return nil, nil, err
	}

	if len(plan.ProjectionColumns) == 1 && plan.ProjectionColumns[0] == "*" {
		return rows, cols, nil
	}
	if len(plan.ProjectionColumns) == 0 {
		return nil, nil, newError(SemanticError, "PROJECTION requires at least one column")
	}

	idxs := make([]int, len(plan.ProjectionColumns))
	for i, name := range plan.ProjectionColumns {
		idx := -1
		for j, c := range cols {
			if c == name {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, nil, newError(SemanticError, "unknown column %q", name)
		}
		idxs[i] = idx
	}

	out := make([]RowWithTid, len(rows))
	for i, r := range rows {
		narrowed := make([]Value, len(idxs))
		for j, idx := range idxs {
			if idx < len(r.Record.Cols) {
				narrowed[j] = r.Record.Cols[idx]
			} else {
				narrowed[j] = NullValue{}
			}
		}
		out[i] = RowWithTid{Tid: r.Tid, Record: Record{Cols: narrowed}}
	}
	return out, plan.ProjectionColumns, nil
}

func (ex *Executor) runInsert(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	rowsToInsert := plan.MultiValues
	if plan.Values != nil {
		rowsToInsert = append(rowsToInsert, plan.Values)
	}
	var out []RowWithTid
	for _, vals := range rowsToInsert {
		tid, err := ex.storage.InsertRecord(plan.TableName, Record{Cols: vals}, ec.tx, ec.cid)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, RowWithTid{Tid: tid})
	}
	return out, nil, nil
}

func (ex *Executor) runUpdate(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	n, err := ex.storage.UpdateRecords(plan.TableName, plan.Conditions, plan.SetClause,
		ec.tx, ec.cid, ec.snap)
	if err != nil {
		return nil, nil, err
	}
	return make([]RowWithTid, n), nil, nil
}

func (ex *Executor) runDelete(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	n, err := ex.storage.DeleteRecords(plan.TableName, plan.Conditions, ec.tx, ec.cid, ec.snap)
	if err != nil {
		return nil, nil, err
	}
	return make([]RowWithTid, n), nil, nil
}

func (ex *Executor) runCreateTable(plan *Plan, ec execContext) ([]RowWithTid, []string, error) {
	if err := ex.storage.CreateTable(plan.TableName, plan.Columns, ec.tx, ec.cid); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func columnNames(sc Schema) []string {
	names := make([]string, len(sc.Columns))
	for i, c := range sc.Columns {
		names[i] = c.Name
	}
	return names
}

// childTableColumns resolves the schema columns feeding a FILTER node so
// matchesAll can map condition column names to positions; it descends
// through scan nodes only, since FILTER always sits directly above a scan
// in the plan shapes this package accepts.
func childTableColumns(plan *Plan, s *Storage) []Column {
	switch plan.Type {
	case SeqScanPlan, IndexScanPlan:
		sc, _ := s.schema(plan.TableName)
		return sc.Columns
	}
	for _, c := range plan.Children {
		if cols := childTableColumns(c, s); cols != nil {
			return cols
		}
	}
	return nil
}
