package sqlfilter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nlstn/go-entityhub/internal/query"
)

// postgresDialect expects the data column to be jsonb.
type postgresDialect struct{}

var postgresTypes = map[jsonType]string{
	typeNull:   "'null'",
	typeNumber: "'number'",
	typeString: "'string'",
	typeBool:   "'boolean'",
	typeArray:  "'array'",
	typeObject: "'object'",
}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) quoteIdent(ident string) string { return quoteIdent(ident) }

func (postgresDialect) quoteString(s string) string { return quoteString(s) }

// pathArray renders segments as a text[] literal such as '{items,0,name}'.
func pathArray(segments []query.PathSegment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		switch {
		case seg.IsIndex:
			parts[i] = strconv.Itoa(seg.Index)
		case isIdentifier(seg.Key):
			parts[i] = seg.Key
		default:
			parts[i] = `"` + seg.Key + `"`
		}
	}
	return quoteString("{" + strings.Join(parts, ",") + "}")
}

func (postgresDialect) jsonb(ref jsonRef) string {
	if len(ref.path) == 0 {
		return ref.doc
	}
	return fmt.Sprintf("(%s #> %s)", ref.doc, pathArray(ref.path))
}

func (postgresDialect) text(ref jsonRef) string {
	return fmt.Sprintf("(%s #>> %s)", ref.doc, pathArray(ref.path))
}

func (d postgresDialect) typeIs(ref jsonRef, t jsonType) string {
	return fmt.Sprintf("COALESCE(jsonb_typeof(%s), 'null') = %s", d.jsonb(ref), postgresTypes[t])
}

// #>> yields SQL NULL for JSON null and for missing paths.
func (d postgresDialect) isNull(ref jsonRef) string {
	return d.text(ref) + " IS NULL"
}

func (d postgresDialect) notNull(ref jsonRef) string {
	return d.text(ref) + " IS NOT NULL"
}

// scalar casts inside CASE so that values of other types never reach the cast.
func (d postgresDialect) scalar(ref jsonRef, t jsonType) string {
	check := fmt.Sprintf("jsonb_typeof(%s) = %s", d.jsonb(ref), postgresTypes[t])
	switch t {
	case typeNumber:
		return fmt.Sprintf("(CASE WHEN %s THEN %s::numeric END)", check, d.text(ref))
	case typeBool:
		return fmt.Sprintf("(CASE WHEN %s THEN %s::boolean END)", check, d.text(ref))
	}
	return fmt.Sprintf("(CASE WHEN %s THEN %s END)", check, d.text(ref))
}

func (d postgresDialect) elements(ref jsonRef, alias string) (string, jsonRef) {
	value := d.jsonb(ref)
	from := fmt.Sprintf("jsonb_array_elements(CASE WHEN jsonb_typeof(%[1]s) = 'array' THEN %[1]s ELSE '[]'::jsonb END) AS %[2]s(value)", value, alias)
	return from, jsonRef{doc: alias + ".value"}
}

func (postgresDialect) boolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (postgresDialect) boolValue(predicate string) string {
	return "(" + predicate + ")"
}

func (postgresDialect) concat(parts ...string) string {
	return "(" + strings.Join(parts, " || ") + ")"
}

func (postgresDialect) escapeLikeExpr(expr string) string {
	return fmt.Sprintf(`replace(replace(replace(%s, '\', '\\'), '%%', '\%%'), '_', '\_')`, expr)
}

func (postgresDialect) likeBrackets() bool { return false }

func (postgresDialect) unary(kind query.OpKind, x string) string {
	switch kind {
	case query.KindNegate:
		return "(-" + x + ")"
	case query.KindAbs:
		return "ABS(" + x + ")"
	case query.KindCeiling:
		return "CEIL(" + x + ")"
	case query.KindFloor:
		return "FLOOR(" + x + ")"
	case query.KindExp:
		return "EXP(" + x + ")"
	case query.KindLog:
		return fmt.Sprintf("(CASE WHEN %[1]s > 0 THEN LN(%[1]s) END)", x)
	case query.KindSqrt:
		return fmt.Sprintf("(CASE WHEN %[1]s >= 0 THEN SQRT(%[1]s) END)", x)
	}
	return "NULL"
}

func (postgresDialect) modulo(a, b string) string {
	return fmt.Sprintf("MOD(%s, NULLIF(%s, 0))", a, b)
}

func (postgresDialect) length(x string) string {
	return "char_length(" + x + ")"
}
