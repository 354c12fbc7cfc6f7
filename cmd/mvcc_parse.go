package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leftmike/maho/mvcc"
)

// parseMvccStatement turns one line of the mvcc command's tiny statement
// language into a Plan, the way parser.Parser turns SQL text into an
// AST for the front end's planner. mvcc.Engine.Execute only ever sees
// Plan trees (SPEC_FULL.md); this is the one piece of text that has to
// get built into one, since driving the engine without a front end still
// needs some way to type a statement in.
//
// Grammar (case-insensitive keywords, one statement per line):
//
//	CREATE TABLE name (col type [NOT NULL], ...)
//	DROP TABLE name
//	CREATE INDEX name ON table (col)
//	DROP INDEX name
//	INSERT INTO table VALUES (val, ...)
//	SELECT * FROM table [WHERE col op val]
//	UPDATE table SET col = val [WHERE col op val]
//	DELETE FROM table [WHERE col op val]
//
// BEGIN, COMMIT and ROLLBACK are handled by the session directly and are
// not accepted here. VACUUM is handled by the session too (it calls Engine.Vacuum, not
// Engine.Execute, since §5 makes it a storage-engine maintenance operation
// rather than a plan node).
func parseMvccStatement(line string) (*mvcc.Plan, error) {
	toks := tokenizeMvccLine(line)
	if len(toks) == 0 {
		return nil, nil
	}

	p := &mvccParser{toks: toks}
	kw := strings.ToUpper(toks[0])
	switch kw {
	case "CREATE":
		return p.parseCreate()
	case "DROP":
		return p.parseDrop()
	case "INSERT":
		return p.parseInsert()
	case "SELECT":
		return p.parseSelect()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	default:
		return nil, fmt.Errorf("mvcc: unrecognized statement: %s", toks[0])
	}
}

type mvccParser struct {
	toks []string
	pos  int
}

func (p *mvccParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *mvccParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *mvccParser) expect(word string) error {
	t := p.next()
	if !strings.EqualFold(t, word) {
		return fmt.Errorf("mvcc: expected %q, got %q", word, t)
	}
	return nil
}

func (p *mvccParser) parseCreate() (*mvcc.Plan, error) {
	p.next() // CREATE
	switch strings.ToUpper(p.peek()) {
	case "TABLE":
		p.next()
		name := p.next()
		if name == "" {
			return nil, fmt.Errorf("mvcc: CREATE TABLE: missing table name")
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		var cols []mvcc.Column
		for {
			colName := p.next()
			if colName == "" {
				return nil, fmt.Errorf("mvcc: CREATE TABLE %s: missing column name", name)
			}
			colType, err := parseColumnType(p.next())
			if err != nil {
				return nil, err
			}
			col := mvcc.Column{Name: colName, Type: colType}
			if strings.EqualFold(p.peek(), "NOT") {
				p.next()
				if err := p.expect("NULL"); err != nil {
					return nil, err
				}
				col.NotNull = true
			}
			cols = append(cols, col)
			switch p.next() {
			case ",":
				continue
			case ")":
			default:
				return nil, fmt.Errorf("mvcc: CREATE TABLE %s: expected ',' or ')'", name)
			}
			break
		}
		return &mvcc.Plan{Type: mvcc.CreateTablePlan, TableName: name, Columns: cols}, nil
	case "INDEX":
		p.next()
		name := p.next()
		if err := p.expect("ON"); err != nil {
			return nil, err
		}
		table := p.next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		col := p.next()
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &mvcc.Plan{
			Type:        mvcc.CreateIndexPlan,
			IndexName:   name,
			TableName:   table,
			IndexColumn: col,
		}, nil
	default:
		return nil, fmt.Errorf("mvcc: CREATE: expected TABLE or INDEX")
	}
}

func (p *mvccParser) parseDrop() (*mvcc.Plan, error) {
	p.next() // DROP
	switch strings.ToUpper(p.peek()) {
	case "TABLE":
		p.next()
		return &mvcc.Plan{Type: mvcc.DropTablePlan, TableName: p.next()}, nil
	case "INDEX":
		p.next()
		return &mvcc.Plan{Type: mvcc.DropIndexPlan, IndexName: p.next()}, nil
	default:
		return nil, fmt.Errorf("mvcc: DROP: expected TABLE or INDEX")
	}
}

func (p *mvccParser) parseInsert() (*mvcc.Plan, error) {
	p.next() // INSERT
	if err := p.expect("INTO"); err != nil {
		return nil, err
	}
	table := p.next()
	if err := p.expect("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var values []mvcc.Value
	for {
		v, err := parseMvccValue(p.next())
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		switch p.next() {
		case ",":
			continue
		case ")":
		default:
			return nil, fmt.Errorf("mvcc: INSERT INTO %s: expected ',' or ')'", table)
		}
		break
	}
	return &mvcc.Plan{Type: mvcc.InsertPlan, TableName: table, Values: values}, nil
}

func (p *mvccParser) parseSelect() (*mvcc.Plan, error) {
	p.next() // SELECT
	var cols []string
	if p.peek() == "*" {
		p.next()
		cols = []string{"*"}
	} else {
		for {
			cols = append(cols, p.next())
			if p.peek() == "," {
				p.next()
				continue
			}
			break
		}
	}
	if err := p.expect("FROM"); err != nil {
		return nil, err
	}
	table := p.next()
	scan := &mvcc.Plan{Type: mvcc.SeqScanPlan, TableName: table}

	var body *mvcc.Plan = scan
	if strings.EqualFold(p.peek(), "WHERE") {
		p.next()
		cond, err := p.parseWhereCondition()
		if err != nil {
			return nil, err
		}
		body = &mvcc.Plan{
			Type:       mvcc.FilterPlan,
			Conditions: []mvcc.WhereCondition{cond},
			Children:   []*mvcc.Plan{scan},
		}
	}

	if len(cols) == 1 && cols[0] == "*" {
		return body, nil
	}
	return &mvcc.Plan{
		Type:              mvcc.ProjectionPlan,
		ProjectionColumns: cols,
		Children:          []*mvcc.Plan{body},
	}, nil
}

func (p *mvccParser) parseUpdate() (*mvcc.Plan, error) {
	p.next() // UPDATE
	table := p.next()
	if err := p.expect("SET"); err != nil {
		return nil, err
	}
	set := map[string]mvcc.Value{}
	for {
		col := p.next()
		if err := p.expect("="); err != nil {
			return nil, err
		}
		v, err := parseMvccValue(p.next())
		if err != nil {
			return nil, err
		}
		set[col] = v
		if p.peek() == "," {
			p.next()
			continue
		}
		break
	}
	plan := &mvcc.Plan{Type: mvcc.UpdatePlan, TableName: table, SetClause: set}
	if strings.EqualFold(p.peek(), "WHERE") {
		p.next()
		cond, err := p.parseWhereCondition()
		if err != nil {
			return nil, err
		}
		plan.Conditions = []mvcc.WhereCondition{cond}
	}
	return plan, nil
}

func (p *mvccParser) parseDelete() (*mvcc.Plan, error) {
	p.next() // DELETE
	if err := p.expect("FROM"); err != nil {
		return nil, err
	}
	table := p.next()
	plan := &mvcc.Plan{Type: mvcc.DeletePlan, TableName: table}
	if strings.EqualFold(p.peek(), "WHERE") {
		p.next()
		cond, err := p.parseWhereCondition()
		if err != nil {
			return nil, err
		}
		plan.Conditions = []mvcc.WhereCondition{cond}
	}
	return plan, nil
}

func (p *mvccParser) parseWhereCondition() (mvcc.WhereCondition, error) {
	col := p.next()
	opTok := p.next()
	op := mvcc.FilterOp(strings.ToUpper(opTok))
	switch op {
	case mvcc.OpEQ, mvcc.OpNE, mvcc.OpLT, mvcc.OpLE, mvcc.OpGT, mvcc.OpGE, mvcc.OpLike:
	default:
		return mvcc.WhereCondition{}, fmt.Errorf("mvcc: unknown operator %q", opTok)
	}
	v, err := parseMvccValue(p.next())
	if err != nil {
		return mvcc.WhereCondition{}, err
	}
	return mvcc.WhereCondition{Column: col, Op: op, Value: v}, nil
}

func parseColumnType(tok string) (mvcc.ColumnType, error) {
	switch strings.ToUpper(tok) {
	case "INT":
		return mvcc.IntColumn, nil
	case "STRING":
		return mvcc.StringColumn, nil
	default:
		return 0, fmt.Errorf("mvcc: unknown column type %q, want INT or STRING", tok)
	}
}

func parseMvccValue(tok string) (mvcc.Value, error) {
	if tok == "" {
		return nil, fmt.Errorf("mvcc: expected a value")
	}
	if strings.EqualFold(tok, "NULL") {
		return mvcc.NullValue{}, nil
	}
	if len(tok) >= 2 && (tok[0] == '\'' || tok[0] == '"') {
		return mvcc.StringValue(tok[1 : len(tok)-1]), nil
	}
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("mvcc: %q is neither a quoted string nor an integer", tok)
	}
	return mvcc.IntValue(int32(n)), nil
}

// tokenizeMvccLine splits a statement into keywords, identifiers, quoted
// strings (kept whole, quotes included so parseMvccValue can tell a
// string literal from a bareword), the single-character punctuation
// the grammar uses ( ) , = and the two-character comparison operators
// <= >= != (an '=' directly after '<', '>' or '!' joins it).
func tokenizeMvccLine(line string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			flush()
			quote := r
			cur.WriteRune(r)
			i++
			for i < len(runes) && runes[i] != quote {
				cur.WriteRune(runes[i])
				i++
			}
			if i < len(runes) {
				cur.WriteRune(runes[i])
			}
			flush()
		case r == '=' && (cur.String() == "<" || cur.String() == ">" || cur.String() == "!"):
			cur.WriteRune(r)
			flush()
		case r == '(' || r == ')' || r == ',' || r == '=':
			flush()
			toks = append(toks, string(r))
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}
