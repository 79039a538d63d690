package sqlfilter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nlstn/go-entityhub/internal/query"
	"gorm.io/gorm"
)

// jsonType is the JSON type class a value is tested for.
type jsonType int

const (
	typeNull jsonType = iota
	typeNumber
	typeString
	typeBool
	typeArray
	typeObject
)

// jsonRef addresses a JSON value inside a SQL row. doc is the SQL expression of
// the document, path the segments below it. elem is the alias of the array
// iteration that produced doc, if any.
type jsonRef struct {
	doc  string
	path []query.PathSegment
	elem string
}

func (r jsonRef) child(segments []query.PathSegment) jsonRef {
	path := make([]query.PathSegment, 0, len(r.path)+len(segments))
	path = append(path, r.path...)
	path = append(path, segments...)
	return jsonRef{doc: r.doc, path: path, elem: r.elem}
}

// Dialect renders the JSON access primitives of one database.
// Every predicate a Dialect returns is definite: it never evaluates to SQL NULL.
type Dialect interface {
	Name() string

	quoteIdent(ident string) string
	quoteString(s string) string
	// typeIs tests the JSON type of ref. Missing values are null.
	typeIs(ref jsonRef, t jsonType) string
	isNull(ref jsonRef) string
	notNull(ref jsonRef) string
	// scalar returns the native SQL value of ref. Callers guard it with typeIs.
	scalar(ref jsonRef, t jsonType) string
	// elements returns a FROM item iterating the array at ref and the reference of one element.
	elements(ref jsonRef, alias string) (string, jsonRef)
	boolLiteral(v bool) string
	// boolValue turns a predicate into a value comparable with boolLiteral.
	boolValue(predicate string) string
	concat(parts ...string) string
	escapeLikeExpr(expr string) string
	likeBrackets() bool
	unary(kind query.OpKind, x string) string
	modulo(a, b string) string
	length(x string) string
}

var (
	SQLite    Dialect = sqliteDialect{}
	Postgres  Dialect = postgresDialect{}
	SQLServer Dialect = sqlserverDialect{}
)

// DialectFor resolves a gorm dialector name like "sqlite" or "postgres".
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}

// DialectOf returns the dialect of the database behind db. A nil db is treated as SQLite.
func DialectOf(db *gorm.DB) (Dialect, error) {
	if db == nil || db.Dialector == nil {
		return SQLite, nil
	}
	return DialectFor(db.Dialector.Name())
}

// QuoteIdent quotes an identifier such as a table or column name for dialect.
func QuoteIdent(dialect Dialect, ident string) string {
	return dialect.quoteIdent(ident)
}

// quoteIdent quotes identifiers with double quotes, doubling embedded quotes.
func quoteIdent(ident string) string {
	if ident == "" {
		return ident
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// validateSegments rejects keys that cannot be quoted inside every dialect's path syntax.
func validateSegments(name string, segments []query.PathSegment) error {
	for _, seg := range segments {
		if !seg.IsIndex && strings.ContainsAny(seg.Key, "\"'\\{},[]") {
			return fmt.Errorf("%w: key %q of %q", ErrInvalidFieldPath, seg.Key, name)
		}
	}
	return nil
}

// jsonPath renders segments in the $.key[0] syntax of SQLite and SQL Server, without the leading $.
func jsonPath(segments []query.PathSegment) string {
	var sb strings.Builder
	for _, seg := range segments {
		if seg.IsIndex {
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(seg.Index))
			sb.WriteByte(']')
			continue
		}
		sb.WriteByte('.')
		if isIdentifier(seg.Key) {
			sb.WriteString(seg.Key)
		} else {
			sb.WriteString(`"` + seg.Key + `"`)
		}
	}
	return sb.String()
}

func formatLong(v int64) string {
	return strconv.FormatInt(v, 10)
}

// formatDouble always renders a decimal point so that databases treat the literal as real.
func formatDouble(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
