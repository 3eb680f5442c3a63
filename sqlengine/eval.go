package sqlengine

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kasuganosora/relkernel/catalog"
	"github.com/kasuganosora/relkernel/database"
	"github.com/kasuganosora/relkernel/dberr"
	"github.com/kasuganosora/relkernel/schema"
)

// Engine resolves a target database and evaluates compiled statements
// against its tables, exclusively through catalog.TableHandle — never by
// reaching into a table's private storage.
type Engine struct {
	Manager         *database.Manager
	DefaultDatabase string
}

// NewEngine returns an engine bound to manager with no fixed default
// database (falls back to the first registered database).
func NewEngine(manager *database.Manager) *Engine {
	return &Engine{Manager: manager}
}

// Execute parses and runs one SQL statement against dbName (or the
// engine's default, or the manager's first database if neither is set).
func (e *Engine) Execute(dbName, sql string) (*Result, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	return e.ExecuteStatement(dbName, stmt)
}

// ExecuteStatement runs an already-compiled statement, for callers that
// parse once and execute repeatedly.
func (e *Engine) ExecuteStatement(dbName string, stmt *Statement) (*Result, error) {
	name := strings.TrimSpace(dbName)
	if name == "" {
		name = strings.TrimSpace(e.DefaultDatabase)
	}
	if name == "" {
		n, ok := e.Manager.DefaultDatabaseName()
		if !ok {
			return nil, dberr.NewDatabaseNotFound("")
		}
		name = n
	}
	db, err := e.Manager.GetDatabase(name)
	if err != nil {
		return nil, err
	}

	switch stmt.Kind {
	case KindSelect:
		return execSelect(db, stmt.Select)
	case KindInsert:
		return execInsert(db, stmt.Insert)
	case KindUpdate:
		return execUpdate(db, stmt.Update)
	case KindDelete:
		return execDelete(db, stmt.Delete)
	default:
		return nil, dberr.NewUnsupportedCommand("unrecognized statement")
	}
}

// rowContext is the per-row evaluation environment: an ordered list of
// table aliases and the row bound to each (nil for an unmatched LEFT JOIN
// side).
type rowContext struct {
	order []string
	rows  map[string]schema.Row
}

func (c rowContext) clone() rowContext {
	nc := rowContext{order: append([]string{}, c.order...), rows: make(map[string]schema.Row, len(c.rows))}
	for k, v := range c.rows {
		nc.rows[k] = v
	}
	return nc
}

func lookupCI(row schema.Row, name string) (any, bool) {
	if row == nil {
		return nil, false
	}
	if v, ok := row[name]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func splitQualified(name string) (alias, col string, qualified bool) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:], true
	}
	return "", name, false
}

func resolveColumn(ctx rowContext, name string) (any, bool) {
	alias, col, qualified := splitQualified(name)
	if qualified {
		for _, a := range ctx.order {
			if strings.EqualFold(a, alias) {
				return lookupCI(ctx.rows[a], col)
			}
		}
		return nil, false
	}
	for _, a := range ctx.order {
		if v, ok := lookupCI(ctx.rows[a], col); ok {
			return v, true
		}
	}
	return nil, false
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func evalExpr(e Expr, ctx rowContext) any {
	switch v := e.(type) {
	case nil:
		return nil
	case LiteralExpr:
		return v.Value
	case ColumnExpr:
		val, _ := resolveColumn(ctx, v.Name)
		return val
	case IsNullExpr:
		val := evalExpr(v.Operand, ctx)
		isNull := val == nil
		if v.Not {
			return !isNull
		}
		return isNull
	case BinaryExpr:
		switch v.Op {
		case "and":
			return truthy(evalExpr(v.L, ctx)) && truthy(evalExpr(v.R, ctx))
		case "or":
			return truthy(evalExpr(v.L, ctx)) || truthy(evalExpr(v.R, ctx))
		default:
			l := evalExpr(v.L, ctx)
			r := evalExpr(v.R, ctx)
			if l == nil || r == nil {
				return false
			}
			return compareOp(v.Op, l, r)
		}
	default:
		return nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareOp(op string, l, r any) bool {
	if lf, ok1 := toFloat(l); ok1 {
		if rf, ok2 := toFloat(r); ok2 {
			switch op {
			case "eq":
				return lf == rf
			case "ne":
				return lf != rf
			case "lt":
				return lf < rf
			case "le":
				return lf <= rf
			case "gt":
				return lf > rf
			case "ge":
				return lf >= rf
			}
		}
	}
	if ls, ok1 := l.(string); ok1 {
		if rs, ok2 := r.(string); ok2 {
			switch op {
			case "eq":
				return ls == rs
			case "ne":
				return ls != rs
			case "lt":
				return ls < rs
			case "le":
				return ls <= rs
			case "gt":
				return ls > rs
			case "ge":
				return ls >= rs
			}
		}
	}
	switch op {
	case "eq":
		return reflect.DeepEqual(l, r)
	case "ne":
		return !reflect.DeepEqual(l, r)
	default:
		return false
	}
}

// tableBinding pairs a resolved table handle with the alias it's bound
// to in the evaluation context, preserving descriptor column order for
// wildcard expansion.
type tableBinding struct {
	alias string
	table catalog.TableHandle
}

func execSelect(db *database.Database, sel *SelectStmt) (*Result, error) {
	fromAlias := sel.From.Alias
	if fromAlias == "" {
		fromAlias = sel.From.Name
	}
	fromTable, ok := db.GetTableHandle(sel.From.Name)
	if !ok {
		return nil, dberr.NewTableNotFound(sel.From.Name)
	}

	bindings := []tableBinding{{alias: fromAlias, table: fromTable}}

	fromRows := fromTable.SnapshotRows()
	ctxs := make([]rowContext, 0, len(fromRows))
	for _, row := range fromRows {
		ctxs = append(ctxs, rowContext{order: []string{fromAlias}, rows: map[string]schema.Row{fromAlias: row}})
	}

	for _, j := range sel.Joins {
		rightAlias := j.Table.Alias
		if rightAlias == "" {
			rightAlias = j.Table.Name
		}
		rightTable, ok := db.GetTableHandle(j.Table.Name)
		if !ok {
			return nil, dberr.NewTableNotFound(j.Table.Name)
		}
		bindings = append(bindings, tableBinding{alias: rightAlias, table: rightTable})

		rightKey, leftKey := j.OnR, j.OnL
		if alias, _, qualified := splitQualified(j.OnL); qualified && strings.EqualFold(alias, rightAlias) {
			rightKey, leftKey = j.OnL, j.OnR
		}
		_, rightCol, _ := splitQualified(rightKey)

		index := make(map[string][]schema.Row)
		for _, row := range rightTable.SnapshotRows() {
			if v, ok := lookupCI(row, rightCol); ok {
				index[fmt.Sprint(v)] = append(index[fmt.Sprint(v)], row)
			}
		}

		var next []rowContext
		for _, ctx := range ctxs {
			leftVal, _ := resolveColumn(ctx, leftKey)
			matches := index[fmt.Sprint(leftVal)]
			if len(matches) == 0 {
				if j.Left {
					nc := ctx.clone()
					nc.order = append(nc.order, rightAlias)
					nc.rows[rightAlias] = nil
					next = append(next, nc)
				}
				continue
			}
			for _, m := range matches {
				nc := ctx.clone()
				nc.order = append(nc.order, rightAlias)
				nc.rows[rightAlias] = m
				next = append(next, nc)
			}
		}
		ctxs = next
	}

	if sel.Where != nil {
		filtered := ctxs[:0]
		for _, ctx := range ctxs {
			if truthy(evalExpr(sel.Where, ctx)) {
				filtered = append(filtered, ctx)
			}
		}
		ctxs = filtered
	}

	hasAgg := false
	for _, c := range sel.Columns {
		if c.Agg != nil {
			hasAgg = true
		}
	}

	var projected []map[string]any
	var refCtxs []rowContext

	switch {
	case len(sel.GroupBy) > 0:
		buckets, order := groupBuckets(ctxs, sel.GroupBy)
		for _, key := range order {
			bucket := buckets[key]
			row := projectBucket(sel.Columns, bucket, bindings)
			projected = append(projected, row)
			refCtxs = append(refCtxs, bucket[0])
		}
	case hasAgg:
		if len(ctxs) == 0 {
			projected = append(projected, projectBucket(sel.Columns, nil, bindings))
			refCtxs = append(refCtxs, rowContext{})
		} else {
			row := projectBucket(sel.Columns, ctxs, bindings)
			projected = append(projected, row)
			refCtxs = append(refCtxs, ctxs[0])
		}
	default:
		for _, ctx := range ctxs {
			row := projectRow(sel.Columns, ctx, bindings)
			projected = append(projected, row)
			refCtxs = append(refCtxs, ctx)
		}
	}

	if len(sel.OrderBy) > 0 {
		orderRows(projected, refCtxs, sel.OrderBy)
	}

	return &Result{Rows: projected, AffectedRows: len(projected), IsQuery: true}, nil
}

func projectRow(cols []SelectColumn, ctx rowContext, bindings []tableBinding) map[string]any {
	out := make(map[string]any)
	for i, c := range cols {
		if star, ok := c.Expr.(ColumnExpr); ok && star.Name == "*" {
			expandWildcard(out, ctx, bindings)
			continue
		}
		out[c.OutputName(i)] = evalExpr(c.Expr, ctx)
	}
	return out
}

func expandWildcard(out map[string]any, ctx rowContext, bindings []tableBinding) {
	for _, b := range bindings {
		row := ctx.rows[b.alias]
		if row == nil {
			for _, col := range b.table.Descriptor().Columns() {
				out[col.Name] = nil
			}
			continue
		}
		for _, col := range b.table.Descriptor().Columns() {
			out[col.Name] = row[col.Name]
		}
	}
}

func groupBuckets(ctxs []rowContext, keys []Expr) (map[string][]rowContext, []string) {
	buckets := make(map[string][]rowContext)
	var order []string
	for _, ctx := range ctxs {
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%v", evalExpr(k, ctx))
		}
		key := strings.Join(parts, "\x1f")
		if _, exists := buckets[key]; !exists {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], ctx)
	}
	return buckets, order
}

func projectBucket(cols []SelectColumn, bucket []rowContext, bindings []tableBinding) map[string]any {
	out := make(map[string]any)
	var first rowContext
	if len(bucket) > 0 {
		first = bucket[0]
	}
	for i, c := range cols {
		if c.Agg != nil {
			out[c.OutputName(i)] = evalAgg(*c.Agg, bucket)
			continue
		}
		if star, ok := c.Expr.(ColumnExpr); ok && star.Name == "*" {
			expandWildcard(out, first, bindings)
			continue
		}
		out[c.OutputName(i)] = evalExpr(c.Expr, first)
	}
	return out
}

func evalAgg(agg AggExpr, bucket []rowContext) any {
	if agg.Star {
		return len(bucket) // only COUNT(*) compiles with Star set
	}
	var nums []float64
	nonNull := 0
	var values []any
	for _, ctx := range bucket {
		v := evalExpr(agg.Arg, ctx)
		if v == nil {
			continue
		}
		nonNull++
		values = append(values, v)
		if f, ok := toFloat(v); ok {
			nums = append(nums, f)
		}
	}
	switch agg.Func {
	case "COUNT":
		return nonNull
	case "SUM":
		var sum float64
		for _, n := range nums {
			sum += n
		}
		return sum
	case "AVG":
		if len(nums) == 0 {
			return nil
		}
		var sum float64
		for _, n := range nums {
			sum += n
		}
		return sum / float64(len(nums))
	case "MIN":
		return naturalExtreme(values, true)
	case "MAX":
		return naturalExtreme(values, false)
	default:
		return nil
	}
}

func naturalExtreme(values []any, wantMin bool) any {
	if len(values) == 0 {
		return nil
	}
	best := values[0]
	for _, v := range values[1:] {
		lessThanBest := compareOp("lt", v, best)
		if wantMin && lessThanBest {
			best = v
		}
		if !wantMin && compareOp("gt", v, best) {
			best = v
		}
	}
	return best
}

func orderRows(rows []map[string]any, ctxs []rowContext, items []OrderItem) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, it := range items {
			vi := orderValue(it.Expr, rows[i], ctxs[i])
			vj := orderValue(it.Expr, rows[j], ctxs[j])
			if reflect.DeepEqual(vi, vj) {
				continue
			}
			less := compareOp("lt", vi, vj)
			greater := compareOp("gt", vi, vj)
			if !less && !greater {
				continue
			}
			if it.Desc {
				return greater
			}
			return less
		}
		return false
	})
}

// orderValue implements the Open Question resolution: evaluate against
// the projected row first (so ORDER BY can reference a SELECT alias),
// falling back to the row context if no projected field matches.
func orderValue(e Expr, projected map[string]any, ctx rowContext) any {
	if col, ok := e.(ColumnExpr); ok {
		if v, ok := lookupCI(projected, col.Name); ok {
			return v
		}
	}
	return evalExpr(e, ctx)
}

func execInsert(db *database.Database, ins *InsertStmt) (*Result, error) {
	h, ok := db.GetTableHandle(ins.Table)
	if !ok {
		return nil, dberr.NewTableNotFound(ins.Table)
	}
	desc := h.Descriptor()
	row := make(schema.Row, len(ins.Columns))
	for i, colName := range ins.Columns {
		col, ok := findColumn(desc, colName)
		if !ok {
			return nil, dberr.NewInvalidArgument("unknown column: " + colName)
		}
		v, err := convertLiteral(col, ins.Values[i])
		if err != nil {
			return nil, err
		}
		if v != nil {
			row[col.Name] = v
		}
	}
	if _, err := h.InsertRow(row); err != nil {
		return nil, err
	}
	return &Result{AffectedRows: 1, IsQuery: false}, nil
}

func execUpdate(db *database.Database, upd *UpdateStmt) (*Result, error) {
	h, ok := db.GetTableHandle(upd.Table)
	if !ok {
		return nil, dberr.NewTableNotFound(upd.Table)
	}
	desc := h.Descriptor()
	alias := upd.Table

	converted := make(schema.Row, len(upd.Set))
	for name, val := range upd.Set {
		col, ok := findColumn(desc, name)
		if !ok {
			return nil, dberr.NewInvalidArgument("unknown column: " + name)
		}
		cv, err := convertLiteral(col, val)
		if err != nil {
			return nil, err
		}
		converted[col.Name] = cv
	}

	pred := func(row schema.Row) bool {
		if upd.Where == nil {
			return true
		}
		ctx := rowContext{order: []string{alias}, rows: map[string]schema.Row{alias: row}}
		return truthy(evalExpr(upd.Where, ctx))
	}
	mutate := func(row schema.Row) schema.Row {
		out := row.Clone()
		for k, v := range converted {
			out[k] = v
		}
		return out
	}

	n, err := h.UpdateWhere(pred, mutate)
	if err != nil {
		return nil, err
	}
	return &Result{AffectedRows: n, IsQuery: false}, nil
}

func execDelete(db *database.Database, del *DeleteStmt) (*Result, error) {
	h, ok := db.GetTableHandle(del.Table)
	if !ok {
		return nil, dberr.NewTableNotFound(del.Table)
	}
	alias := del.Table
	pred := func(row schema.Row) bool {
		if del.Where == nil {
			return true
		}
		ctx := rowContext{order: []string{alias}, rows: map[string]schema.Row{alias: row}}
		return truthy(evalExpr(del.Where, ctx))
	}
	n, err := h.DeleteWhere(pred)
	if err != nil {
		return nil, err
	}
	return &Result{AffectedRows: n, IsQuery: false}, nil
}

func findColumn(desc *schema.Descriptor, name string) (schema.Column, bool) {
	if col, ok := desc.Column(name); ok {
		return col, true
	}
	for _, col := range desc.Columns() {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return schema.Column{}, false
}

// convertLiteral converts a value straight from a parsed SQL literal (or
// map[string]any decoded JSON) into col's Go-native representation, per
// spec §4.5's INSERT literal conversion rules. NULL maps to nil (absent).
func convertLiteral(col schema.Column, val any) (any, error) {
	if val == nil {
		return nil, nil
	}
	switch col.Kind {
	case schema.KindInt, schema.KindInt64:
		switch n := val.(type) {
		case int:
			return n, nil
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			p, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, dberr.NewInvalidArgument("invalid integer literal: " + n)
			}
			return p, nil
		default:
			return nil, dberr.NewInvalidArgument(fmt.Sprintf("cannot convert %T to integer", val))
		}
	case schema.KindDecimal:
		switch n := val.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			p, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, dberr.NewInvalidArgument("invalid decimal literal: " + n)
			}
			return p, nil
		default:
			return nil, dberr.NewInvalidArgument(fmt.Sprintf("cannot convert %T to decimal", val))
		}
	case schema.KindBool:
		switch b := val.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case string:
			return strings.EqualFold(b, "true") || b == "1", nil
		default:
			return nil, dberr.NewInvalidArgument(fmt.Sprintf("cannot convert %T to bool", val))
		}
	case schema.KindTime:
		s, ok := val.(string)
		if !ok {
			return nil, dberr.NewInvalidArgument("datetime literal must be a string")
		}
		t, err := parseTimestamp(s)
		if err != nil {
			return nil, dberr.NewInvalidArgument("invalid datetime literal: " + s)
		}
		return t, nil
	case schema.KindUUID:
		s, ok := val.(string)
		if !ok {
			return nil, dberr.NewInvalidArgument("uuid literal must be a string")
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, dberr.NewInvalidArgument("invalid uuid literal: " + s)
		}
		return u, nil
	case schema.KindString:
		s, ok := val.(string)
		if !ok {
			return fmt.Sprint(val), nil
		}
		return s, nil
	case schema.KindBytes:
		s, ok := val.(string)
		if !ok {
			return nil, dberr.NewInvalidArgument("bytes literal must be base64 text")
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, dberr.NewInvalidArgument("invalid base64 literal")
		}
		return b, nil
	default:
		return val, nil
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	layouts := []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", s)
}
