// Package mvcc implements a paged heap storage engine with multi-version
// concurrency control: slotted-page heap files, a bounded LRU buffer
// cache, a write-ahead log with redo-only recovery, a B+tree secondary
// index, a table-level shared/exclusive lock manager, a transaction
// manager handing out snapshots, and a plan-tree executor that a SQL front
// end (parser, planner, session layer) feeds pre-built Plan values into.
//
// A caller opens one Engine per data directory with Open, begins
// transactions with Begin, runs Plan trees against them with Execute, and
// ends each with Commit or Rollback. Close flushes the buffer cache and
// closes the write-ahead log.
package mvcc
