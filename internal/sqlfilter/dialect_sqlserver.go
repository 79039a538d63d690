package sqlfilter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nlstn/go-entityhub/internal/query"
)

// sqlserverDialect reads types from the type column of OPENJSON:
// 0 null, 1 string, 2 number, 3 bool, 4 array, 5 object.
type sqlserverDialect struct{}

var sqlserverTypes = map[jsonType]int{
	typeNull:   0,
	typeString: 1,
	typeNumber: 2,
	typeBool:   3,
	typeArray:  4,
	typeObject: 5,
}

func (sqlserverDialect) Name() string { return "sqlserver" }

func (sqlserverDialect) quoteIdent(ident string) string {
	if ident == "" {
		return ident
	}
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func (sqlserverDialect) quoteString(s string) string { return "N" + quoteString(s) }

func (d sqlserverDialect) typeExpr(ref jsonRef) string {
	if len(ref.path) == 0 {
		if ref.elem != "" {
			return ref.elem + ".[type]"
		}
		return strconv.Itoa(sqlserverTypes[typeObject])
	}
	parent, last := ref.path[:len(ref.path)-1], ref.path[len(ref.path)-1]
	key := last.Key
	if last.IsIndex {
		key = strconv.Itoa(last.Index)
	}
	return fmt.Sprintf("(SELECT [type] FROM OPENJSON(%s, %s) WHERE [key] = %s)", ref.doc, quoteString("$"+jsonPath(parent)), d.quoteString(key))
}

func (d sqlserverDialect) text(ref jsonRef) string {
	if len(ref.path) == 0 {
		return ref.doc
	}
	return fmt.Sprintf("JSON_VALUE(%s, %s)", ref.doc, quoteString("$"+jsonPath(ref.path)))
}

func (d sqlserverDialect) typeIs(ref jsonRef, t jsonType) string {
	return fmt.Sprintf("ISNULL(%s, 0) = %d", d.typeExpr(ref), sqlserverTypes[t])
}

func (d sqlserverDialect) isNull(ref jsonRef) string {
	return d.typeIs(ref, typeNull)
}

func (d sqlserverDialect) notNull(ref jsonRef) string {
	return fmt.Sprintf("ISNULL(%s, 0) <> 0", d.typeExpr(ref))
}

func (d sqlserverDialect) scalar(ref jsonRef, t jsonType) string {
	switch t {
	case typeNumber:
		return "TRY_CAST(" + d.text(ref) + " AS FLOAT)"
	case typeBool:
		return "(CASE " + d.text(ref) + " WHEN 'true' THEN 1 ELSE 0 END)"
	}
	return d.text(ref)
}

func (d sqlserverDialect) elements(ref jsonRef, alias string) (string, jsonRef) {
	var from string
	if len(ref.path) == 0 {
		from = fmt.Sprintf("OPENJSON(%s) AS %s", ref.doc, alias)
	} else {
		from = fmt.Sprintf("OPENJSON(%s, %s) AS %s", ref.doc, quoteString("$"+jsonPath(ref.path)), alias)
	}
	return from, jsonRef{doc: alias + ".[value]", elem: alias}
}

func (sqlserverDialect) boolLiteral(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (sqlserverDialect) boolValue(predicate string) string {
	return "CASE WHEN " + predicate + " THEN 1 ELSE 0 END"
}

func (sqlserverDialect) concat(parts ...string) string {
	return "(" + strings.Join(parts, " + ") + ")"
}

func (sqlserverDialect) escapeLikeExpr(expr string) string {
	return fmt.Sprintf(`REPLACE(REPLACE(REPLACE(REPLACE(%s, '\', '\\'), '%%', '\%%'), '_', '\_'), '[', '\[')`, expr)
}

func (sqlserverDialect) likeBrackets() bool { return true }

func (sqlserverDialect) unary(kind query.OpKind, x string) string {
	switch kind {
	case query.KindNegate:
		return "(-" + x + ")"
	case query.KindAbs:
		return "ABS(" + x + ")"
	case query.KindCeiling:
		return "CEILING(" + x + ")"
	case query.KindFloor:
		return "FLOOR(" + x + ")"
	case query.KindExp:
		return "EXP(" + x + ")"
	case query.KindLog:
		return fmt.Sprintf("(CASE WHEN %[1]s > 0 THEN LOG(%[1]s) END)", x)
	case query.KindSqrt:
		return fmt.Sprintf("(CASE WHEN %[1]s >= 0 THEN SQRT(%[1]s) END)", x)
	}
	return "NULL"
}

// modulo avoids %, which rejects float operands.
func (sqlserverDialect) modulo(a, b string) string {
	return fmt.Sprintf("(%[1]s - %[2]s * ROUND(%[1]s / NULLIF(%[2]s, 0), 0, 1))", a, b)
}

func (sqlserverDialect) length(x string) string {
	return "LEN(" + x + ")"
}
