package cmd

import (
	"testing"

	"github.com/leftmike/maho/mvcc"
)

func TestTokenizeMvccLine(t *testing.T) {
	cases := []struct {
		line string
		want []string
	}{
		{"CREATE TABLE t (id INT NOT NULL, name STRING)",
			[]string{"CREATE", "TABLE", "t", "(", "id", "INT", "NOT", "NULL", ",",
				"name", "STRING", ")"}},
		{"INSERT INTO t VALUES (1, 'a b')",
			[]string{"INSERT", "INTO", "t", "VALUES", "(", "1", ",", "'a b'", ")"}},
		{"SELECT * FROM t WHERE id = 1",
			[]string{"SELECT", "*", "FROM", "t", "WHERE", "id", "=", "1"}},
	}
	for _, c := range cases {
		got := tokenizeMvccLine(c.line)
		if len(got) != len(c.want) {
			t.Fatalf("tokenizeMvccLine(%q) = %v, want %v", c.line, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("tokenizeMvccLine(%q)[%d] = %q, want %q", c.line, i, got[i], c.want[i])
			}
		}
	}
}

func TestParseMvccValue(t *testing.T) {
	cases := []struct {
		tok  string
		want mvcc.Value
	}{
		{"NULL", mvcc.NullValue{}},
		{"null", mvcc.NullValue{}},
		{"42", mvcc.IntValue(42)},
		{"-7", mvcc.IntValue(-7)},
		{"'hi'", mvcc.StringValue("hi")},
		{`"hi"`, mvcc.StringValue("hi")},
	}
	for _, c := range cases {
		got, err := parseMvccValue(c.tok)
		if err != nil {
			t.Fatalf("parseMvccValue(%q): %s", c.tok, err)
		}
		if got != c.want {
			t.Errorf("parseMvccValue(%q) = %#v, want %#v", c.tok, got, c.want)
		}
	}
}

func TestParseMvccValueRejectsGarbage(t *testing.T) {
	if _, err := parseMvccValue("abc"); err == nil {
		t.Error("parseMvccValue(abc) should fail: neither a quoted string nor an integer")
	}
}

func TestParseCreateTable(t *testing.T) {
	plan, err := parseMvccStatement("CREATE TABLE widgets (id INT NOT NULL, name STRING)")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.CreateTablePlan || plan.TableName != "widgets" {
		t.Fatalf("plan = %+v, want CREATE_TABLE widgets", plan)
	}
	if len(plan.Columns) != 2 {
		t.Fatalf("len(Columns) = %d, want 2", len(plan.Columns))
	}
	if plan.Columns[0].Name != "id" || plan.Columns[0].Type != mvcc.IntColumn ||
		!plan.Columns[0].NotNull {
		t.Errorf("Columns[0] = %+v, want id INT NOT NULL", plan.Columns[0])
	}
	if plan.Columns[1].Name != "name" || plan.Columns[1].Type != mvcc.StringColumn ||
		plan.Columns[1].NotNull {
		t.Errorf("Columns[1] = %+v, want name STRING", plan.Columns[1])
	}
}

func TestParseCreateIndex(t *testing.T) {
	plan, err := parseMvccStatement("CREATE INDEX widgets_id_idx ON widgets (id)")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.CreateIndexPlan || plan.IndexName != "widgets_id_idx" ||
		plan.TableName != "widgets" || plan.IndexColumn != "id" {
		t.Fatalf("plan = %+v, want CREATE_INDEX widgets_id_idx ON widgets (id)", plan)
	}
}

func TestParseInsert(t *testing.T) {
	plan, err := parseMvccStatement("INSERT INTO widgets VALUES (1, 'a')")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.InsertPlan || plan.TableName != "widgets" {
		t.Fatalf("plan = %+v, want INSERT widgets", plan)
	}
	if len(plan.Values) != 2 || plan.Values[0] != mvcc.IntValue(1) ||
		plan.Values[1] != mvcc.StringValue("a") {
		t.Errorf("Values = %v, want [1 'a']", plan.Values)
	}
}

func TestParseSelectStarIsBareSeqScan(t *testing.T) {
	plan, err := parseMvccStatement("SELECT * FROM widgets")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.SeqScanPlan || plan.TableName != "widgets" {
		t.Fatalf("plan = %+v, want bare SEQ_SCAN widgets", plan)
	}
}

func TestParseSelectWhereWrapsFilter(t *testing.T) {
	plan, err := parseMvccStatement("SELECT * FROM widgets WHERE id >= 1")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.FilterPlan {
		t.Fatalf("plan.Type = %v, want FILTER", plan.Type)
	}
	if len(plan.Conditions) != 1 || plan.Conditions[0].Column != "id" ||
		plan.Conditions[0].Op != mvcc.OpGE || plan.Conditions[0].Value != mvcc.IntValue(1) {
		t.Errorf("Conditions = %v, want [id >= 1]", plan.Conditions)
	}
	if len(plan.Children) != 1 || plan.Children[0].Type != mvcc.SeqScanPlan {
		t.Fatalf("plan.Children = %+v, want one SEQ_SCAN child", plan.Children)
	}
}

func TestParseSelectColumnsWrapsProjection(t *testing.T) {
	plan, err := parseMvccStatement("SELECT name FROM widgets")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.ProjectionPlan || len(plan.ProjectionColumns) != 1 ||
		plan.ProjectionColumns[0] != "name" {
		t.Fatalf("plan = %+v, want PROJECTION [name]", plan)
	}
}

func TestParseUpdate(t *testing.T) {
	plan, err := parseMvccStatement("UPDATE widgets SET name = 'b' WHERE id = 1")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.UpdatePlan || plan.TableName != "widgets" {
		t.Fatalf("plan = %+v, want UPDATE widgets", plan)
	}
	if plan.SetClause["name"] != mvcc.StringValue("b") {
		t.Errorf("SetClause = %v, want name='b'", plan.SetClause)
	}
	if len(plan.Conditions) != 1 || plan.Conditions[0].Op != mvcc.OpEQ {
		t.Errorf("Conditions = %v, want [id = 1]", plan.Conditions)
	}
}

func TestParseDelete(t *testing.T) {
	plan, err := parseMvccStatement("DELETE FROM widgets WHERE id = 1")
	if err != nil {
		t.Fatalf("parseMvccStatement: %s", err)
	}
	if plan.Type != mvcc.DeletePlan || plan.TableName != "widgets" {
		t.Fatalf("plan = %+v, want DELETE widgets", plan)
	}
}

func TestParseDropTableAndIndex(t *testing.T) {
	plan, err := parseMvccStatement("DROP TABLE widgets")
	if err != nil || plan.Type != mvcc.DropTablePlan || plan.TableName != "widgets" {
		t.Fatalf("DROP TABLE: plan = %+v, err = %v", plan, err)
	}
	plan, err = parseMvccStatement("DROP INDEX widgets_id_idx")
	if err != nil || plan.Type != mvcc.DropIndexPlan || plan.IndexName != "widgets_id_idx" {
		t.Fatalf("DROP INDEX: plan = %+v, err = %v", plan, err)
	}
}

func TestParseMvccStatementRejectsUnknownKeyword(t *testing.T) {
	if _, err := parseMvccStatement("FROBNICATE widgets"); err == nil {
		t.Error("expected an error for an unrecognized statement")
	}
}

func TestParseMvccStatementEmptyLineIsNil(t *testing.T) {
	plan, err := parseMvccStatement("   ")
	if err != nil || plan != nil {
		t.Errorf("parseMvccStatement(blank) = %+v, %v; want nil, nil", plan, err)
	}
}
