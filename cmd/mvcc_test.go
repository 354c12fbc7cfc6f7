package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/leftmike/maho/mvcc"
)

func newTestSession(t *testing.T) *mvccSession {
	t.Helper()
	dir := t.TempDir()
	e, err := mvcc.Open(mvcc.Config{DataDir: dir}, nil)
	if err != nil {
		t.Fatalf("mvcc.Open: %s", err)
	}
	t.Cleanup(func() { e.Close() })
	return &mvccSession{engine: e}
}

func TestSessionRunsCreateInsertSelect(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer

	script := `
CREATE TABLE widgets (id INT NOT NULL, name STRING)
INSERT INTO widgets VALUES (1, 'a')
INSERT INTO widgets VALUES (2, 'b')
SELECT * FROM widgets
`
	sess.runReader(strings.NewReader(script), &out)

	got := out.String()
	if !strings.Contains(got, "1 rows affected") {
		t.Errorf("expected an insert row count in output, got:\n%s", got)
	}
	if !strings.Contains(got, "a") || !strings.Contains(got, "b") {
		t.Errorf("expected both inserted rows in SELECT output, got:\n%s", got)
	}
}

func TestSessionBeginCommitGroupsStatements(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer

	sess.runReader(strings.NewReader("CREATE TABLE widgets (id INT NOT NULL, name STRING)"), &out)

	script := `
BEGIN
INSERT INTO widgets VALUES (1, 'a')
INSERT INTO widgets VALUES (2, 'b')
COMMIT
`
	sess.runReader(strings.NewReader(script), &out)
	if sess.inTx {
		t.Error("COMMIT should close the open transaction")
	}

	out.Reset()
	sess.runReader(strings.NewReader("SELECT * FROM widgets"), &out)
	if strings.Count(out.String(), "\n") < 3 {
		t.Errorf("expected both rows from the committed transaction, got:\n%s", out.String())
	}
}

func TestSessionRollbackDiscardsInsert(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer

	sess.runReader(strings.NewReader("CREATE TABLE widgets (id INT NOT NULL, name STRING)"), &out)

	sess.runReader(strings.NewReader("BEGIN\nINSERT INTO widgets VALUES (1, 'a')\nROLLBACK"), &out)

	out.Reset()
	sess.runReader(strings.NewReader("SELECT * FROM widgets"), &out)
	if strings.Contains(out.String(), "'a'") || strings.Contains(out.String(), "\ta\t") {
		t.Errorf("rolled-back insert should not be visible, got:\n%s", out.String())
	}
}

func TestSessionCommitWithNoOpenTransactionReportsError(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer
	sess.runLine("COMMIT", &out)
	if !strings.Contains(out.String(), "no transaction is open") {
		t.Errorf("expected a no-open-transaction message, got:\n%s", out.String())
	}
}

func TestSessionUnknownStatementReportsParseError(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer
	sess.runLine("FROBNICATE widgets", &out)
	if !strings.Contains(out.String(), "mvcc:") {
		t.Errorf("expected a parse error message, got:\n%s", out.String())
	}
}

func TestSessionVacuumRunsDirectlyAgainstTheEngine(t *testing.T) {
	sess := newTestSession(t)
	var out bytes.Buffer
	sess.runReader(strings.NewReader("CREATE TABLE widgets (id INT NOT NULL, name STRING)"), &out)

	out.Reset()
	sess.runLine("VACUUM widgets", &out)
	if out.String() != "" {
		t.Errorf("VACUUM on a valid table should produce no error output, got:\n%s", out.String())
	}
}
