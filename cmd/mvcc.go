package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/leftmike/maho/mvcc"
)

// mvccCmd drives mvcc.Engine directly, the boundary DESIGN.md calls out as
// "the boundary a front end would call" (SPEC_FULL.md): it speaks Plan
// trees built from its own small statement language (mvcc_parse.go)
// rather than a SQL parser/planner, since spec.md §1 scopes the SQL front
// end out of mvcc itself.
var (
	mvccCmd = &cobra.Command{
		Use:   "mvcc",
		Short: "Drive the paged heap / MVCC storage engine directly",
		Long: "mvcc opens an mvcc.Engine against --data and runs statements " +
			"against it one line at a time, either from --exec, from file " +
			"arguments, or interactively from stdin.",
		RunE: mvccRun,
	}

	mvccDataDir  = "mvccdata"
	mvccCommands = []string{}
)

func init() {
	fs := mvccCmd.Flags()
	fs.StringVar(&mvccDataDir, "data", mvccDataDir,
		"`directory` holding the mvcc engine's heap files and write-ahead log")
	cfgVars["mvcc-data"] = fs.Lookup("data")

	fs.StringSliceVar(&mvccCommands, "exec", mvccCommands,
		"a mvcc `statement` to run; multiple allowed, run in order, then exit")

	mahoCmd.AddCommand(mvccCmd)
}

// mvccSession holds the one piece of state a line-oriented command loop
// needs beyond the engine itself: the transaction, if any, that BEGIN
// opened and COMMIT/ROLLBACK will close.
type mvccSession struct {
	engine *mvcc.Engine
	tx     mvcc.TxId
	inTx   bool
}

func mvccRun(cmd *cobra.Command, args []string) error {
	e, err := mvcc.Open(mvcc.Config{DataDir: mvccDataDir}, log.StandardLogger())
	if err != nil {
		return fmt.Errorf("maho: mvcc: %s", err)
	}
	defer e.Close()

	sess := &mvccSession{engine: e}

	if len(mvccCommands) > 0 {
		for _, stmt := range mvccCommands {
			sess.runLine(stmt, os.Stdout)
		}
		return nil
	}

	if len(args) > 0 {
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("maho: mvcc: %s", err)
			}
			sess.runReader(f, os.Stdout)
			f.Close()
		}
		return nil
	}

	sess.runReader(os.Stdin, os.Stdout)
	return nil
}

func (s *mvccSession) runReader(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.runLine(scanner.Text(), w)
	}
}

func (s *mvccSession) runLine(line string, w io.Writer) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "--") {
		return
	}

	switch upper := strings.ToUpper(line); {
	case upper == "BEGIN":
		if s.inTx {
			fmt.Fprintln(w, "mvcc: a transaction is already open")
			return
		}
		s.tx = s.engine.Begin()
		s.inTx = true
		return
	case upper == "COMMIT":
		if !s.requireTx(w) {
			return
		}
		if err := s.engine.Commit(s.tx); err != nil {
			fmt.Fprintf(w, "mvcc: %s\n", err)
		}
		s.inTx = false
		return
	case upper == "ROLLBACK":
		if !s.requireTx(w) {
			return
		}
		if err := s.engine.Rollback(s.tx); err != nil {
			fmt.Fprintf(w, "mvcc: %s\n", err)
		}
		s.inTx = false
		return
	case strings.HasPrefix(upper, "VACUUM"):
		table := strings.TrimSpace(line[len("VACUUM"):])
		if err := s.engine.Vacuum(table); err != nil {
			fmt.Fprintf(w, "mvcc: %s\n", err)
		}
		return
	}

	plan, err := parseMvccStatement(line)
	if err != nil {
		fmt.Fprintf(w, "mvcc: %s\n", err)
		return
	}
	if plan == nil {
		return
	}

	// A bare statement outside BEGIN/COMMIT runs in its own
	// single-statement transaction, auto-committed on success and rolled
	// back on failure.
	tx, implicit := s.tx, false
	if !s.inTx {
		tx = s.engine.Begin()
		implicit = true
	}

	res, err := s.engine.Execute(plan, tx)
	if err != nil {
		fmt.Fprintf(w, "mvcc: %s\n", err)
		if implicit {
			s.engine.Rollback(tx)
		}
		return
	}
	if implicit {
		if err := s.engine.Commit(tx); err != nil {
			fmt.Fprintf(w, "mvcc: %s\n", err)
			return
		}
	}

	printMvccResult(res, w)
}

func (s *mvccSession) requireTx(w io.Writer) bool {
	if !s.inTx {
		fmt.Fprintln(w, "mvcc: no transaction is open")
		return false
	}
	return true
}

func printMvccResult(res mvcc.ResultSet, w io.Writer) {
	if len(res.Columns) == 0 {
		fmt.Fprintf(w, "%d rows affected\n", res.RowsAffected)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, col := range res.Columns {
		fmt.Fprintf(tw, "%s\t", col)
	}
	fmt.Fprint(tw, "\n\t")
	for _, col := range res.Columns {
		fmt.Fprintf(tw, "%s\t", strings.Repeat("-", len(col)))
	}
	fmt.Fprintln(tw)

	for i, row := range res.Rows {
		fmt.Fprintf(tw, "%d\t", i+1)
		for _, v := range row {
			fmt.Fprintf(tw, "%s\t", v.String())
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
