package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilterStructure(t *testing.T) {
	op, err := Parse("o => o.age > 35", nil)
	require.NoError(t, err)

	filter, ok := op.(*Filter)
	require.True(t, ok, "expected *Filter, got %T", op)
	assert.Equal(t, "o", filter.Arg)

	cmp, ok := filter.Body.(*Compare)
	require.True(t, ok, "expected *Compare, got %T", filter.Body)
	assert.Equal(t, KindGreaterThan, cmp.Op)
	assert.Equal(t, &Field{Name: ".age"}, cmp.Left)
	assert.Equal(t, &LongLiteral{Value: 35}, cmp.Right)
}

func TestParseRoundTripsThroughString(t *testing.T) {
	tests := []string{
		"o => o.age > 35",
		"o => o.name == 'Peter' && o.age >= 18",
		"o => o.a > 1 && o.b > 2 && o.c > 3",
		"o => o.a == 1 || o.b == 2 && o.c == 3",
		"o => !(o.a > 1) && o.b == null",
		"o => o.a + 2 * 3 > 4",
		"o => (o.a + 2) * 3 > 4",
		"o => o.a - (o.b - 1) < 0",
		"o => o.a % 2 == 0",
		"o => -(o.a) < -5",
		"o => o.score > 2.5",
		"o => o.score == 3.0",
		"o => Abs(o.x) > PI",
		"o => Sqrt(o.x) <= E * 2",
		"o => o.items.Any(i => i.price > 2)",
		"o => o.items.All(i => i.tags.Any(t => t == 'a'))",
		"o => o.items.Count() > 1",
		"o => o.items.Count(i => i.price > 2) == 1",
		"o => o.items.Sum(i => i.price) > 10",
		"o => o.items.Average(i => i.price * 2) < 10",
		"o => o.items.Min(i => i.price) >= 1 && o.items.Max(i => i.price) <= 9",
		"o => o.name.Contains('et')",
		"o => o.name.StartsWith(o.prefix)",
		"o => o.name.EndsWith('r') || o.name.Length() == 0",
		"o => o.active == true",
		"o => o == null",
	}

	for _, source := range tests {
		t.Run(source, func(t *testing.T) {
			op, err := Parse(source, nil)
			require.NoError(t, err)
			assert.Equal(t, source, op.String())

			again, err := Parse(op.String(), nil)
			require.NoError(t, err)
			assert.Equal(t, op.String(), again.String())
		})
	}
}

func TestParseKinds(t *testing.T) {
	tests := []struct {
		source string
		kind   OpKind
	}{
		{"o => o.items.Count()", KindCount},
		{"o => o.items.Count(i => i.x > 1)", KindCountWhere},
		{"o => o.items.Any(i => i.x > 1)", KindAny},
		{"o => o.items.All(i => i.x > 1)", KindAll},
		{"o => o.items.Sum(i => i.x)", KindSum},
		{"o => o.name.Length()", KindLength},
		{"o => Floor(o.x)", KindFloor},
		{"o => Ceiling(o.x)", KindCeiling},
		{"o => Exp(o.x)", KindExp},
		{"o => Log(o.x)", KindLog},
		{"o => Tau", KindTau},
		{"o => o.a / 2", KindDivide},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			op, err := Parse(tt.source, nil)
			require.NoError(t, err)
			lambda, ok := op.(*Lambda)
			if ok {
				assert.Equal(t, tt.kind, lambda.Body.Kind())
				return
			}
			filter, ok := op.(*Filter)
			require.True(t, ok, "expected *Filter or *Lambda, got %T", op)
			assert.Equal(t, tt.kind, filter.Body.Kind())
		})
	}
}

func TestParseWithEnv(t *testing.T) {
	t.Run("root argument without lambda", func(t *testing.T) {
		op, err := Parse("o.age > 35", &Env{Arg: "o"})
		require.NoError(t, err)
		cmp, ok := op.(*Compare)
		require.True(t, ok)
		assert.Equal(t, ".age", cmp.Left.(*Field).Name)
	})

	t.Run("root itself", func(t *testing.T) {
		op, err := Parse("o => o != null", nil)
		require.NoError(t, err)
		assert.Equal(t, ".", op.(*Filter).Body.(*Compare).Left.(*Field).Name)
	})

	t.Run("environment variable", func(t *testing.T) {
		op, err := Parse("o => o.age > limit", &Env{Variables: []string{"limit"}})
		require.NoError(t, err)
		assert.Equal(t, "limit", op.(*Filter).Body.(*Compare).Right.(*Field).Name)
	})

	t.Run("variable shadows constant", func(t *testing.T) {
		op, err := Parse("o => o.a > PI", &Env{Variables: []string{"PI"}})
		require.NoError(t, err)
		assert.Equal(t, &Field{Name: "PI"}, op.(*Filter).Body.(*Compare).Right)
	})

	t.Run("quantifier variable keeps its name", func(t *testing.T) {
		op, err := Parse("o => o.items.Any(i => i.price > 2)", nil)
		require.NoError(t, err)
		q := op.(*Filter).Body.(*Quantify)
		assert.Equal(t, ".items", q.Field.Name)
		assert.Equal(t, "i", q.Arg)
		assert.Equal(t, "i.price", q.Predicate.(*Compare).Left.(*Field).Name)
	})
}

func TestParseBooleanEquality(t *testing.T) {
	op, err := Parse("o => (o.a > 1) == true", nil)
	require.NoError(t, err)
	cmp := op.(*Filter).Body.(*Compare)
	assert.Equal(t, KindEqual, cmp.Op)
	assert.Equal(t, KindGreaterThan, cmp.Left.Kind())

	again, err := Parse(op.String(), nil)
	require.NoError(t, err)
	assert.Equal(t, op.String(), again.String())
}

func TestParseFilterRejectsScalar(t *testing.T) {
	_, err := ParseFilter("o => o.a + 1", nil)
	assert.ErrorIs(t, err, ErrNonBooleanOperand)

	filter, err := ParseFilter("o => o.a == 1", nil)
	require.NoError(t, err)
	assert.Equal(t, KindFilter, filter.Kind())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		source string
		kind   error
	}{
		{"o => o.a + true", ErrInvalidOperand},
		{"o => o.a > (1 > 2)", ErrInvalidOperand},
		{"o => -(o.a > 1)", ErrInvalidOperand},
		{"o => o.name.Contains(1)", ErrInvalidOperand},
		{"o => o.a && true", ErrNonBooleanOperand},
		{"o => !o.a", ErrNonBooleanOperand},
		{"o => o.items.Any(i => i.price)", ErrNonBooleanOperand},
		{"o => x.a > 1", ErrVariableNotFound},
		{"o => o.items.Any(i => x > 1)", ErrVariableNotFound},
		{"o => o.items.Any(o => o.a > 1)", ErrVariableAlreadyDeclared},
		{"o => o.items.Any(i => i.sub.Any(i => i > 1))", ErrVariableAlreadyDeclared},
		{"o => Foo(1) > 1", ErrUnknownFunction},
		{"o => o.items.Foo() > 1", ErrUnknownMethod},
		{"o => if > 1", ErrReservedWord},
		{"o => o.a == true(1)", ErrInvalidLiteralOperand},
		{"o => o.items.Any(1)", ErrInvalidArrowExpression},
		{"o => Abs() > 1", ErrInvalidArgumentCount},
		{"o => o.name.Length(1) > 1", ErrInvalidArgumentCount},
		{"o => o.a >", ErrDanglingOperator},
		{"o => o.a ? 1", ErrUnexpectedCharacter},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			_, err := Parse(tt.source, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "expected %v, got %v", tt.kind, err)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("o => o.a > 1 && x.b", nil)
	var qerr *Error
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, ErrVariableNotFound, qerr.Kind)
	assert.Equal(t, 16, qerr.Pos)
}
