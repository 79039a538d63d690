package query

import (
	"strings"
)

// Env supplies the outer scope of a parse: the bound root argument name and
// further variable names that are valid in the expression.
type Env struct {
	Arg       string
	Variables []string
}

// Context tracks the variables visible while converting a node tree into Operations.
type Context struct {
	env    *Env
	arg    string
	locals []string
	depth  int
}

func newContext(env *Env) *Context {
	if env == nil {
		env = &Env{}
	}
	return &Context{env: env, arg: env.Arg}
}

var reservedWords = map[string]bool{
	"if":    true,
	"else":  true,
	"while": true,
	"do":    true,
	"for":   true,
}

var mathFunctions = map[string]OpKind{
	"Abs":     KindAbs,
	"Ceiling": KindCeiling,
	"Floor":   KindFloor,
	"Exp":     KindExp,
	"Log":     KindLog,
	"Sqrt":    KindSqrt,
}

var constants = map[string]OpKind{
	"PI":  KindPi,
	"E":   KindE,
	"Tau": KindTau,
}

var compareTokens = map[TokenType]OpKind{
	TokenEquals:         KindEqual,
	TokenNotEquals:      KindNotEqual,
	TokenLess:           KindLessThan,
	TokenLessOrEqual:    KindLessThanOrEqual,
	TokenGreater:        KindGreaterThan,
	TokenGreaterOrEqual: KindGreaterThanOrEqual,
}

var arithmeticTokens = map[TokenType]OpKind{
	TokenAdd: KindAdd,
	TokenSub: KindSubtract,
	TokenMul: KindMultiply,
	TokenDiv: KindDivide,
	TokenMod: KindModulo,
}

// Parse converts filter source text into an Operation.
func Parse(source string, env *Env) (Operation, error) {
	tokens, err := Tokenize(source)
	if err != nil {
		return nil, err
	}
	root, err := BuildTree(tokens)
	if err != nil {
		return nil, err
	}
	return ParseNode(root, env)
}

// ParseFilter converts filter source text into a boolean Operation.
func ParseFilter(source string, env *Env) (FilterOperation, error) {
	op, err := Parse(source, env)
	if err != nil {
		return nil, err
	}
	filter, ok := op.(FilterOperation)
	if !ok {
		return nil, newError(ErrNonBooleanOperand, 0, "filter is not boolean: %s", op)
	}
	return filter, nil
}

// ParseNode converts a node tree built by BuildTree into an Operation.
func ParseNode(root *QueryNode, env *Env) (Operation, error) {
	return newContext(env).operation(root)
}

func isFilter(op Operation) bool {
	_, ok := op.(FilterOperation)
	return ok
}

func (c *Context) operation(node *QueryNode) (Operation, error) {
	switch node.Type {
	case TokenString, TokenLong, TokenDouble:
		return c.literal(node)
	case TokenSymbol:
		return c.symbol(node)
	case TokenAnd, TokenOr:
		return c.group(node)
	case TokenNot:
		return c.not(node)
	case TokenNegate:
		value, err := c.arithmeticOperand(node, node.Operands[0])
		if err != nil {
			return nil, err
		}
		return &UnaryArithmetic{Op: KindNegate, Value: value}, nil
	case TokenArrow:
		return nil, newError(ErrInvalidArrowExpression, node.Pos, "'=>' must follow a parameter name")
	}
	if kind, ok := compareTokens[node.Type]; ok {
		return c.compare(node, kind)
	}
	if kind, ok := arithmeticTokens[node.Type]; ok {
		left, right, err := c.binaryOperands(node, true)
		if err != nil {
			return nil, err
		}
		return &BinaryArithmetic{Op: kind, Left: left, Right: right}, nil
	}
	return nil, newError(ErrUnexpectedToken, node.Pos, "'%s'", node.Type)
}

func (c *Context) literal(node *QueryNode) (Operation, error) {
	if len(node.Operands) > 0 || node.Call {
		return nil, newError(ErrInvalidLiteralOperand, node.Pos, "%s", node.token)
	}
	switch node.Type {
	case TokenString:
		return &StringLiteral{Value: node.Label}, nil
	case TokenLong:
		return &LongLiteral{Value: node.token.Long()}, nil
	}
	return &DoubleLiteral{Value: node.token.Double()}, nil
}

func (c *Context) binaryOperands(node *QueryNode, rejectBool bool) (Operation, Operation, error) {
	if len(node.Operands) != 2 {
		return nil, nil, newError(ErrInvalidArgumentCount, node.Pos, "'%s' expects 2 operands, got %d", node.Type, len(node.Operands))
	}
	left, err := c.operation(node.Operands[0])
	if err != nil {
		return nil, nil, err
	}
	right, err := c.operation(node.Operands[1])
	if err != nil {
		return nil, nil, err
	}
	if rejectBool {
		for _, operand := range []Operation{left, right} {
			if isFilter(operand) {
				return nil, nil, newError(ErrInvalidOperand, node.Pos, "'%s' does not accept boolean operand %s", node.Type, operand)
			}
		}
	}
	return left, right, nil
}

func (c *Context) arithmeticOperand(parent, node *QueryNode) (Operation, error) {
	op, err := c.operation(node)
	if err != nil {
		return nil, err
	}
	if isFilter(op) {
		return nil, newError(ErrInvalidOperand, parent.Pos, "'%s' does not accept boolean operand %s", parent.Label, op)
	}
	return op, nil
}

func (c *Context) compare(node *QueryNode, kind OpKind) (Operation, error) {
	equality := kind == KindEqual || kind == KindNotEqual
	left, right, err := c.binaryOperands(node, !equality)
	if err != nil {
		return nil, err
	}
	return NewCompare(kind, left, right), nil
}

func (c *Context) group(node *QueryNode) (Operation, error) {
	if len(node.Operands) < 2 {
		return nil, newError(ErrInvalidArgumentCount, node.Pos, "'%s' expects at least 2 operands", node.Type)
	}
	operands := make([]FilterOperation, 0, len(node.Operands))
	for _, operandNode := range node.Operands {
		op, err := c.operation(operandNode)
		if err != nil {
			return nil, err
		}
		filter, ok := op.(FilterOperation)
		if !ok {
			return nil, newError(ErrNonBooleanOperand, operandNode.Pos, "'%s' operand %s", node.Type, op)
		}
		operands = append(operands, filter)
	}
	if node.Type == TokenAnd {
		return NewAnd(operands...), nil
	}
	return NewOr(operands...), nil
}

func (c *Context) not(node *QueryNode) (Operation, error) {
	if len(node.Operands) != 1 {
		return nil, newError(ErrInvalidArgumentCount, node.Pos, "'!' expects 1 operand")
	}
	op, err := c.operation(node.Operands[0])
	if err != nil {
		return nil, err
	}
	filter, ok := op.(FilterOperation)
	if !ok {
		return nil, newError(ErrNonBooleanOperand, node.Operands[0].Pos, "'!' operand %s", op)
	}
	return NewNot(filter), nil
}

func (c *Context) symbol(node *QueryNode) (Operation, error) {
	label := node.Label
	switch label {
	case "true", "false", "null":
		if len(node.Operands) > 0 || node.Call {
			return nil, newError(ErrInvalidLiteralOperand, node.Pos, "%s", label)
		}
		if label == "null" {
			return &NullLiteral{}, nil
		}
		return &BoolLiteral{Value: label == "true"}, nil
	}
	if reservedWords[label] {
		return nil, newError(ErrReservedWord, node.Pos, "'%s'", label)
	}
	if node.Call {
		return c.call(node)
	}
	if len(node.Operands) == 1 && node.Operands[0].Type == TokenArrow {
		return c.lambda(node)
	}
	if len(node.Operands) > 0 {
		return nil, newError(ErrUnexpectedToken, node.Pos, "symbol '%s' with operands", label)
	}
	if kind, ok := constants[label]; ok && !c.declared(label) {
		return &Constant{Op: kind}, nil
	}
	return c.field(label, node.Pos)
}

func (c *Context) declared(name string) bool {
	if name == c.arg && name != "" {
		return true
	}
	return c.declaredVariable(name)
}

// declaredVariable reports whether name is a local or an environment variable.
func (c *Context) declaredVariable(name string) bool {
	for _, local := range c.locals {
		if local == name {
			return true
		}
	}
	for _, variable := range c.env.Variables {
		if variable == name {
			return true
		}
	}
	return false
}

// field validates the leading variable of path and strips the root argument.
func (c *Context) field(path string, pos int) (*Field, error) {
	if strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return nil, newError(ErrInvalidOperand, pos, "invalid field path '%s'", path)
	}
	variable, rest, _ := strings.Cut(path, ".")
	if c.arg != "" && variable == c.arg {
		if rest == "" {
			return &Field{Name: "."}, nil
		}
		return &Field{Name: "." + rest}, nil
	}
	if !c.declared(variable) {
		return nil, newError(ErrVariableNotFound, pos, "'%s'", variable)
	}
	return &Field{Name: path}, nil
}

// lambda handles 'arg => body' outside of a method call.
func (c *Context) lambda(node *QueryNode) (Operation, error) {
	arg := node.Label
	if strings.Contains(arg, ".") {
		return nil, newError(ErrInvalidArrowExpression, node.Pos, "lambda parameter must be a plain name, got '%s'", arg)
	}
	if c.depth == 0 && c.declaredVariable(arg) {
		return nil, newError(ErrVariableAlreadyDeclared, node.Pos, "'%s'", arg)
	}
	bodyNode := node.Operands[0].Operands[0]
	var body Operation
	var err error
	if c.depth == 0 {
		c.arg = arg
		c.depth++
		body, err = c.operation(bodyNode)
		c.depth--
	} else {
		body, err = c.scoped(node, arg, bodyNode)
	}
	if err != nil {
		return nil, err
	}
	if filter, ok := body.(FilterOperation); ok {
		return &Filter{Arg: arg, Body: filter}, nil
	}
	return &Lambda{Arg: arg, Body: body}, nil
}

// scoped declares arg as a local variable while converting body.
func (c *Context) scoped(node *QueryNode, arg string, body *QueryNode) (Operation, error) {
	if c.declared(arg) {
		return nil, newError(ErrVariableAlreadyDeclared, node.Pos, "'%s'", arg)
	}
	c.locals = append(c.locals, arg)
	c.depth++
	defer func() {
		c.locals = c.locals[:len(c.locals)-1]
		c.depth--
	}()
	return c.operation(body)
}

func (c *Context) call(node *QueryNode) (Operation, error) {
	label := node.Label
	dot := strings.LastIndexByte(label, '.')
	if dot < 0 {
		return c.function(node)
	}
	method := label[dot+1:]
	field, err := c.field(label[:dot], node.Pos)
	if err != nil {
		return nil, err
	}
	switch method {
	case "Min", "Max", "Sum", "Average":
		arg, body, err := c.methodLambda(node, method)
		if err != nil {
			return nil, err
		}
		return &Aggregate{Op: aggregateKinds[method], Field: field, Arg: arg, Value: body}, nil
	case "Count":
		if len(node.Operands) == 0 {
			return &Aggregate{Op: KindCount, Field: field}, nil
		}
		arg, body, err := c.methodLambda(node, method)
		if err != nil {
			return nil, err
		}
		predicate, err := c.predicate(node, method, body)
		if err != nil {
			return nil, err
		}
		return &CountWhere{Field: field, Arg: arg, Predicate: predicate}, nil
	case "Any", "All":
		arg, body, err := c.methodLambda(node, method)
		if err != nil {
			return nil, err
		}
		predicate, err := c.predicate(node, method, body)
		if err != nil {
			return nil, err
		}
		kind := KindAny
		if method == "All" {
			kind = KindAll
		}
		return &Quantify{Op: kind, Field: field, Arg: arg, Predicate: predicate}, nil
	case "Contains", "StartsWith", "EndsWith":
		return c.stringPredicate(node, method, field)
	case "Length":
		if len(node.Operands) != 0 {
			return nil, newError(ErrInvalidArgumentCount, node.Pos, "Length() expects no argument")
		}
		return &Length{Value: field}, nil
	}
	return nil, newError(ErrUnknownMethod, node.Pos, "'%s'", method)
}

var aggregateKinds = map[string]OpKind{
	"Min":     KindMin,
	"Max":     KindMax,
	"Sum":     KindSum,
	"Average": KindAverage,
}

var stringPredicateKinds = map[string]OpKind{
	"Contains":   KindContains,
	"StartsWith": KindStartsWith,
	"EndsWith":   KindEndsWith,
}

func (c *Context) function(node *QueryNode) (Operation, error) {
	kind, ok := mathFunctions[node.Label]
	if !ok {
		return nil, newError(ErrUnknownFunction, node.Pos, "'%s'", node.Label)
	}
	if len(node.Operands) != 1 {
		return nil, newError(ErrInvalidArgumentCount, node.Pos, "%s() expects 1 argument", node.Label)
	}
	value, err := c.arithmeticOperand(node, node.Operands[0])
	if err != nil {
		return nil, err
	}
	return &UnaryArithmetic{Op: kind, Value: value}, nil
}

// methodLambda converts the single 'x => body' argument of a method call.
func (c *Context) methodLambda(node *QueryNode, method string) (string, Operation, error) {
	if len(node.Operands) != 1 {
		return "", nil, newError(ErrInvalidArgumentCount, node.Pos, "%s() expects a lambda argument", method)
	}
	lambda := node.Operands[0]
	if lambda.Type != TokenSymbol || lambda.Call || len(lambda.Operands) != 1 || lambda.Operands[0].Type != TokenArrow {
		return "", nil, newError(ErrInvalidArrowExpression, lambda.Pos, "%s() expects a lambda argument", method)
	}
	arg := lambda.Label
	if strings.Contains(arg, ".") {
		return "", nil, newError(ErrInvalidArrowExpression, lambda.Pos, "lambda parameter must be a plain name, got '%s'", arg)
	}
	body, err := c.scoped(lambda, arg, lambda.Operands[0].Operands[0])
	if err != nil {
		return "", nil, err
	}
	return arg, body, nil
}

func (c *Context) predicate(node *QueryNode, method string, body Operation) (FilterOperation, error) {
	filter, ok := body.(FilterOperation)
	if !ok {
		return nil, newError(ErrNonBooleanOperand, node.Pos, "%s() body %s", method, body)
	}
	return filter, nil
}

func (c *Context) stringPredicate(node *QueryNode, method string, field *Field) (Operation, error) {
	if len(node.Operands) != 1 {
		return nil, newError(ErrInvalidArgumentCount, node.Pos, "%s() expects 1 argument", method)
	}
	right, err := c.operation(node.Operands[0])
	if err != nil {
		return nil, err
	}
	switch right.(type) {
	case *StringLiteral, *Field:
	default:
		return nil, newError(ErrInvalidOperand, node.Operands[0].Pos, "%s() expects a string or a field, got %s", method, right)
	}
	return &StringPredicate{Op: stringPredicateKinds[method], Left: field, Right: right}, nil
}
