package sqlfilter

import (
	"database/sql"
	"math"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the database/sql driver to open SQLite databases with.
// Its connections provide exp, ln and sqrt, which SQLite only has when built
// with math functions and which the SQLite dialect emits.
const SQLiteDriverName = "sqlite3_entityhub"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: registerMathFunctions,
	})
}

func registerMathFunctions(conn *sqlite3.SQLiteConn) error {
	functions := map[string]func(float64) float64{
		"exp":  math.Exp,
		"ln":   math.Log,
		"sqrt": math.Sqrt,
	}
	for name, fn := range functions {
		if err := conn.RegisterFunc(name, mathFunction(fn), true); err != nil {
			return err
		}
	}
	return nil
}

// mathFunction adapts fn to SQLite values. Like the evaluator it yields NULL
// for non-numeric arguments and for results that are not finite.
func mathFunction(fn func(float64) float64) func(any) any {
	return func(arg any) any {
		var x float64
		switch v := arg.(type) {
		case int64:
			x = float64(v)
		case float64:
			x = v
		default:
			return nil
		}
		r := fn(x)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil
		}
		return r
	}
}
