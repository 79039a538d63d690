package sqlfilter

import (
	"fmt"
	"strings"

	"github.com/nlstn/go-entityhub/internal/query"
)

// sqliteDialect uses the JSON1 functions. Element paths are built from the
// fullkey column of json_each so every reference points into the row document.
type sqliteDialect struct{}

var sqliteTypes = map[jsonType]string{
	typeNull:   "'null'",
	typeNumber: "'integer', 'real'",
	typeString: "'text'",
	typeBool:   "'true', 'false'",
	typeArray:  "'array'",
	typeObject: "'object'",
}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) quoteIdent(ident string) string { return quoteIdent(ident) }

func (sqliteDialect) quoteString(s string) string { return quoteString(s) }

func (sqliteDialect) path(ref jsonRef) string {
	sub := jsonPath(ref.path)
	if ref.elem == "" {
		return quoteString("$" + sub)
	}
	if sub == "" {
		return ref.elem + ".fullkey"
	}
	return ref.elem + ".fullkey || " + quoteString(sub)
}

func (d sqliteDialect) typeIs(ref jsonRef, t jsonType) string {
	return fmt.Sprintf("COALESCE(json_type(%s, %s), 'null') IN (%s)", ref.doc, d.path(ref), sqliteTypes[t])
}

// json_extract yields SQL NULL for JSON null and for missing paths.
func (d sqliteDialect) isNull(ref jsonRef) string {
	return fmt.Sprintf("json_extract(%s, %s) IS NULL", ref.doc, d.path(ref))
}

func (d sqliteDialect) notNull(ref jsonRef) string {
	return fmt.Sprintf("json_extract(%s, %s) IS NOT NULL", ref.doc, d.path(ref))
}

func (d sqliteDialect) scalar(ref jsonRef, _ jsonType) string {
	return fmt.Sprintf("json_extract(%s, %s)", ref.doc, d.path(ref))
}

func (d sqliteDialect) elements(ref jsonRef, alias string) (string, jsonRef) {
	return fmt.Sprintf("json_each(%s, %s) AS %s", ref.doc, d.path(ref), alias), jsonRef{doc: ref.doc, elem: alias}
}

func (sqliteDialect) boolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (sqliteDialect) boolValue(predicate string) string {
	return "CASE WHEN " + predicate + " THEN 1 ELSE 0 END"
}

func (sqliteDialect) concat(parts ...string) string {
	return "(" + strings.Join(parts, " || ") + ")"
}

func (sqliteDialect) escapeLikeExpr(expr string) string {
	return fmt.Sprintf(`replace(replace(replace(%s, '\', '\\'), '%%', '\%%'), '_', '\_')`, expr)
}

func (sqliteDialect) likeBrackets() bool { return false }

// unary avoids ceil and floor, which need a SQLite build with math functions.
// exp, ln and sqrt are registered by the SQLiteDriverName driver.
func (sqliteDialect) unary(kind query.OpKind, x string) string {
	switch kind {
	case query.KindNegate:
		return "(-" + x + ")"
	case query.KindAbs:
		return "abs(" + x + ")"
	case query.KindCeiling:
		return fmt.Sprintf("(CASE WHEN %[1]s = CAST(%[1]s AS INTEGER) THEN %[1]s ELSE CAST(%[1]s AS INTEGER) + (%[1]s > 0) END)", x)
	case query.KindFloor:
		return fmt.Sprintf("(CASE WHEN %[1]s = CAST(%[1]s AS INTEGER) THEN %[1]s ELSE CAST(%[1]s AS INTEGER) - (%[1]s < 0) END)", x)
	case query.KindExp:
		return "exp(" + x + ")"
	case query.KindLog:
		return fmt.Sprintf("(CASE WHEN %[1]s > 0 THEN ln(%[1]s) END)", x)
	case query.KindSqrt:
		return fmt.Sprintf("(CASE WHEN %[1]s >= 0 THEN sqrt(%[1]s) END)", x)
	}
	return "NULL"
}

// modulo truncates the quotient instead of using %, which casts both
// operands to INTEGER.
func (sqliteDialect) modulo(a, b string) string {
	return fmt.Sprintf("(%[1]s - %[2]s * CAST(%[1]s / NULLIF(%[2]s, 0) AS INTEGER))", a, b)
}

func (sqliteDialect) length(x string) string {
	return "length(" + x + ")"
}
