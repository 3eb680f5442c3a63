package sqlengine

import (
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/kasuganosora/relkernel/dberr"
)

// Parse compiles one SQL statement into this package's IR, rejecting
// anything outside the supported grammar with dberr.UnsupportedCommand
// and malformed text with dberr.ParseError.
func Parse(sql string) (*Statement, error) {
	text := strings.TrimSpace(sql)
	text = strings.TrimSuffix(text, ";")
	if text == "" {
		return nil, dberr.NewInvalidArgument("empty SQL statement")
	}

	p := parser.New()
	stmts, _, err := p.ParseSQL(text)
	if err != nil {
		return nil, dberr.NewParseError(err.Error())
	}
	if len(stmts) == 0 {
		return nil, dberr.NewParseError("no statement found")
	}

	switch n := stmts[0].(type) {
	case *ast.SelectStmt:
		sel, err := compileSelect(n)
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: KindSelect, Select: sel}, nil
	case *ast.InsertStmt:
		ins, err := compileInsert(n)
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: KindInsert, Insert: ins}, nil
	case *ast.UpdateStmt:
		upd, err := compileUpdate(n)
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: KindUpdate, Update: upd}, nil
	case *ast.DeleteStmt:
		del, err := compileDelete(n)
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: KindDelete, Delete: del}, nil
	default:
		return nil, dberr.NewUnsupportedCommand(stmts[0].Text())
	}
}

func compileSelect(stmt *ast.SelectStmt) (*SelectStmt, error) {
	sel := &SelectStmt{}

	if stmt.From == nil || stmt.From.TableRefs == nil {
		return nil, dberr.NewUnsupportedCommand("SELECT without FROM")
	}

	join := stmt.From.TableRefs
	leftmost := join
	for {
		inner, ok := leftmost.Left.(*ast.Join)
		if !ok {
			break
		}
		leftmost = inner
	}
	left, ok := leftmost.Left.(*ast.TableSource)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported FROM clause")
	}
	from, err := tableRefFrom(left)
	if err != nil {
		return nil, err
	}
	sel.From = from

	if join.Right != nil {
		joins, err := compileJoinTree(join)
		if err != nil {
			return nil, err
		}
		sel.Joins = joins
	}

	if stmt.Fields != nil {
		for i, f := range stmt.Fields.Fields {
			col, err := compileSelectField(f, i)
			if err != nil {
				return nil, err
			}
			sel.Columns = append(sel.Columns, col)
		}
	}

	if stmt.Where != nil {
		w, err := compileExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		sel.Where = w
	}

	if stmt.GroupBy != nil {
		for _, item := range stmt.GroupBy.Items {
			e, err := compileExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			sel.GroupBy = append(sel.GroupBy, e)
		}
	}

	if stmt.OrderBy != nil {
		for _, item := range stmt.OrderBy.Items {
			e, err := compileExpr(item.Expr)
			if err != nil {
				return nil, err
			}
			sel.OrderBy = append(sel.OrderBy, OrderItem{Expr: e, Desc: item.Desc})
		}
	}

	return sel, nil
}

func tableRefFrom(ts *ast.TableSource) (TableRef, error) {
	name, ok := ts.Source.(*ast.TableName)
	if !ok {
		return TableRef{}, dberr.NewUnsupportedCommand("only simple table references are supported")
	}
	ref := TableRef{Name: name.Name.String()}
	if ts.AsName.L != "" {
		ref.Alias = ts.AsName.String()
	}
	return ref, nil
}

func compileJoinTree(j *ast.Join) ([]JoinClause, error) {
	var joins []JoinClause

	if leftJoin, ok := j.Left.(*ast.Join); ok {
		sub, err := compileJoinTree(leftJoin)
		if err != nil {
			return nil, err
		}
		joins = append(joins, sub...)
	}

	right, ok := j.Right.(*ast.TableSource)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported JOIN right side")
	}
	ref, err := tableRefFrom(right)
	if err != nil {
		return nil, err
	}

	var isLeft bool
	switch j.Tp {
	case ast.LeftJoin:
		isLeft = true
	case ast.RightJoin:
		return nil, dberr.NewUnsupportedCommand("RIGHT JOIN is not supported")
	case ast.CrossJoin:
		// The parser records JOIN/INNER JOIN ... ON as a cross join with
		// an ON condition; only a join without one is a true cross join.
		if j.On == nil {
			return nil, dberr.NewUnsupportedCommand("CROSS JOIN is not supported")
		}
	}

	if j.On == nil || j.On.Expr == nil {
		return nil, dberr.NewUnsupportedCommand("JOIN requires an ON clause")
	}
	onL, onR, err := compileJoinCondition(j.On.Expr)
	if err != nil {
		return nil, err
	}

	joins = append(joins, JoinClause{Left: isLeft, Table: ref, OnL: onL, OnR: onR})
	return joins, nil
}

func compileJoinCondition(e ast.ExprNode) (string, string, error) {
	bin, ok := e.(*ast.BinaryOperationExpr)
	if !ok || normalizeOp(bin.Op.String()) != "eq" {
		return "", "", dberr.NewUnsupportedCommand("JOIN ON clause must be a single column equality")
	}
	lcol, ok := bin.L.(*ast.ColumnNameExpr)
	if !ok {
		return "", "", dberr.NewUnsupportedCommand("JOIN ON clause must compare two columns")
	}
	rcol, ok := bin.R.(*ast.ColumnNameExpr)
	if !ok {
		return "", "", dberr.NewUnsupportedCommand("JOIN ON clause must compare two columns")
	}
	return qualifiedName(lcol), qualifiedName(rcol), nil
}

func qualifiedName(c *ast.ColumnNameExpr) string {
	if c.Name.Table.L != "" {
		return c.Name.Table.String() + "." + c.Name.Name.String()
	}
	return c.Name.Name.String()
}

var aggFuncs = map[string]bool{"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true}

func compileSelectField(f *ast.SelectField, pos int) (SelectColumn, error) {
	if f.WildCard != nil {
		return SelectColumn{Expr: ColumnExpr{Name: "*"}}, nil
	}

	alias := ""
	if f.AsName.L != "" {
		alias = f.AsName.String()
	}

	if agg, ok := f.Expr.(*ast.AggregateFuncExpr); ok {
		name := strings.ToUpper(agg.F)
		if !aggFuncs[name] {
			return SelectColumn{}, dberr.NewUnsupportedCommand("unsupported aggregate: " + agg.F)
		}
		a := &AggExpr{Func: name}
		if len(agg.Args) == 1 {
			if _, isStar := agg.Args[0].(*ast.ColumnNameExpr); isStar && isStarArg(agg.Args[0]) {
				a.Star = true
			} else {
				e, err := compileExpr(agg.Args[0])
				if err != nil {
					return SelectColumn{}, err
				}
				a.Arg = e
			}
		} else {
			a.Star = true
		}
		return SelectColumn{Agg: a, Alias: alias}, nil
	}

	e, err := compileExpr(f.Expr)
	if err != nil {
		return SelectColumn{}, err
	}
	return SelectColumn{Expr: e, Alias: alias}, nil
}

func isStarArg(e ast.ExprNode) bool {
	if col, ok := e.(*ast.ColumnNameExpr); ok {
		return col.Name.Name.String() == "*"
	}
	return false
}

func compileExpr(e ast.ExprNode) (Expr, error) {
	switch n := e.(type) {
	case *ast.ParenthesesExpr:
		return compileExpr(n.Expr)

	case *ast.BinaryOperationExpr:
		op := normalizeOp(n.Op.String())
		switch op {
		case "and", "or", "eq", "ne", "lt", "le", "gt", "ge":
			l, err := compileExpr(n.L)
			if err != nil {
				return nil, err
			}
			r, err := compileExpr(n.R)
			if err != nil {
				return nil, err
			}
			return BinaryExpr{Op: op, L: l, R: r}, nil
		default:
			return nil, dberr.NewUnsupportedCommand("unsupported operator: " + n.Op.String())
		}

	case *ast.IsNullExpr:
		operand, err := compileExpr(n.Expr)
		if err != nil {
			return nil, err
		}
		return IsNullExpr{Operand: operand, Not: n.Not}, nil

	case *ast.ColumnNameExpr:
		return ColumnExpr{Name: qualifiedName(n)}, nil

	case ast.ValueExpr:
		return LiteralExpr{Value: literalValue(n)}, nil

	default:
		return nil, dberr.NewUnsupportedCommand("unsupported expression")
	}
}

// literalValue returns a parsed literal's Go value. The parser keeps a
// decimal literal such as 50.5 as its own decimal type; that is converted
// to float64 so it compares and converts like any other number.
func literalValue(v ast.ValueExpr) any {
	if d, ok := v.GetValue().(*test_driver.MyDecimal); ok {
		if f, err := strconv.ParseFloat(d.String(), 64); err == nil {
			return f
		}
	}
	return v.GetValue()
}

func normalizeOp(op string) string {
	switch strings.ToLower(op) {
	case "and", "logicand", "&&":
		return "and"
	case "or", "logicor", "||":
		return "or"
	case "eq", "=":
		return "eq"
	case "ne", "!=", "<>":
		return "ne"
	case "lt", "<":
		return "lt"
	case "le", "<=":
		return "le"
	case "gt", ">":
		return "gt"
	case "ge", ">=":
		return "ge"
	default:
		return strings.ToLower(op)
	}
}

func compileInsert(stmt *ast.InsertStmt) (*InsertStmt, error) {
	if stmt.Table == nil || stmt.Table.TableRefs == nil {
		return nil, dberr.NewUnsupportedCommand("INSERT requires a target table")
	}
	ts, ok := stmt.Table.TableRefs.Left.(*ast.TableSource)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported INSERT target")
	}
	name, ok := ts.Source.(*ast.TableName)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported INSERT target")
	}
	if len(stmt.Columns) == 0 {
		return nil, dberr.NewUnsupportedCommand("INSERT requires an explicit column list")
	}
	if len(stmt.Lists) == 0 {
		return nil, dberr.NewUnsupportedCommand("INSERT requires a VALUES list")
	}

	ins := &InsertStmt{Table: name.Name.String()}
	for _, c := range stmt.Columns {
		ins.Columns = append(ins.Columns, c.Name.String())
	}
	row := stmt.Lists[0]
	if len(row) != len(ins.Columns) {
		return nil, dberr.NewInvalidArgument("VALUES count does not match column count")
	}
	for _, expr := range row {
		v, ok := expr.(ast.ValueExpr)
		if !ok {
			return nil, dberr.NewUnsupportedCommand("INSERT values must be literals")
		}
		ins.Values = append(ins.Values, literalValue(v))
	}
	return ins, nil
}

func compileUpdate(stmt *ast.UpdateStmt) (*UpdateStmt, error) {
	if stmt.TableRefs == nil || stmt.TableRefs.TableRefs == nil {
		return nil, dberr.NewUnsupportedCommand("UPDATE requires a target table")
	}
	ts, ok := stmt.TableRefs.TableRefs.Left.(*ast.TableSource)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported UPDATE target")
	}
	name, ok := ts.Source.(*ast.TableName)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported UPDATE target")
	}

	upd := &UpdateStmt{Table: name.Name.String(), Set: make(map[string]any)}
	for _, assign := range stmt.List {
		v, ok := assign.Expr.(ast.ValueExpr)
		if !ok {
			return nil, dberr.NewUnsupportedCommand("UPDATE SET values must be literals")
		}
		upd.Set[assign.Column.Name.String()] = literalValue(v)
	}
	if stmt.Where != nil {
		w, err := compileExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		upd.Where = w
	}
	return upd, nil
}

func compileDelete(stmt *ast.DeleteStmt) (*DeleteStmt, error) {
	if stmt.TableRefs == nil || stmt.TableRefs.TableRefs == nil {
		return nil, dberr.NewUnsupportedCommand("DELETE requires a target table")
	}
	ts, ok := stmt.TableRefs.TableRefs.Left.(*ast.TableSource)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported DELETE target")
	}
	name, ok := ts.Source.(*ast.TableName)
	if !ok {
		return nil, dberr.NewUnsupportedCommand("unsupported DELETE target")
	}

	del := &DeleteStmt{Table: name.Name.String()}
	if stmt.Where != nil {
		w, err := compileExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		del.Where = w
	}
	return del, nil
}
