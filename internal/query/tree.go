package query

import "strings"

// QueryNode is an untyped node of the operator tree built from a token stream.
// Call marks a symbol that is followed by a bracketed argument list.
type QueryNode struct {
	Type     TokenType
	Label    string
	Pos      int
	Call     bool
	Operands []*QueryNode

	token Token
}

func (n *QueryNode) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *QueryNode) write(sb *strings.Builder) {
	sb.WriteString(n.token.String())
	if len(n.Operands) == 0 && !n.Call {
		return
	}
	sb.WriteByte('(')
	for i, operand := range n.Operands {
		if i > 0 {
			sb.WriteString(", ")
		}
		operand.write(sb)
	}
	sb.WriteByte(')')
}

// precedence returns the binding strength of a binary operator, 0 for any other token.
func precedence(t TokenType) int {
	switch t {
	case TokenOr:
		return 1
	case TokenAnd:
		return 2
	case TokenEquals, TokenNotEquals:
		return 3
	case TokenLess, TokenLessOrEqual, TokenGreater, TokenGreaterOrEqual:
		return 4
	case TokenAdd, TokenSub:
		return 5
	case TokenMul, TokenDiv, TokenMod:
		return 6
	}
	return 0
}

type treeBuilder struct {
	tokens []Token
	pos    int
}

// BuildTree groups a token stream into an operator-precedence tree.
func BuildTree(tokens []Token) (*QueryNode, error) {
	if len(tokens) == 0 {
		return nil, newError(ErrEmptyExpression, 0, "no tokens")
	}
	b := &treeBuilder{tokens: tokens}
	root, err := b.expression(1)
	if err != nil {
		return nil, err
	}
	if tok, ok := b.current(); ok {
		if tok.Type == TokenBracketClose {
			return nil, newError(ErrMismatchedBracket, tok.Pos, "unexpected ')'")
		}
		return nil, newError(ErrUnexpectedToken, tok.Pos, "'%s'", tok)
	}
	return root, nil
}

func (b *treeBuilder) current() (Token, bool) {
	if b.pos >= len(b.tokens) {
		return Token{Type: TokenEnd}, false
	}
	return b.tokens[b.pos], true
}

func leaf(tok Token) *QueryNode {
	return &QueryNode{Type: tok.Type, Label: tok.Value, Pos: tok.Pos, token: tok}
}

// expression parses binary operators with a precedence of at least minPrec.
func (b *treeBuilder) expression(minPrec int) (*QueryNode, error) {
	left, err := b.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := b.current()
		if !ok {
			return left, nil
		}
		if tok.Type == TokenArrow {
			return nil, newError(ErrInvalidArrowExpression, tok.Pos, "'=>' must follow a parameter name")
		}
		prec := precedence(tok.Type)
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		b.pos++
		if _, ok := b.current(); !ok {
			return nil, newError(ErrDanglingOperator, tok.Pos, "'%s' requires a right operand", tok.Type)
		}
		right, err := b.expression(prec + 1)
		if err != nil {
			return nil, err
		}
		// && and || chains become a single n-ary node
		if (tok.Type == TokenAnd || tok.Type == TokenOr) && left.Type == tok.Type {
			left.Operands = append(left.Operands, right)
			continue
		}
		node := leaf(tok)
		node.Operands = []*QueryNode{left, right}
		left = node
	}
}

func (b *treeBuilder) unary() (*QueryNode, error) {
	tok, ok := b.current()
	if !ok {
		return nil, newError(ErrEmptyExpression, b.endPos(), "expected operand")
	}
	switch tok.Type {
	case TokenNot, TokenNegate:
		b.pos++
		if _, ok := b.current(); !ok {
			return nil, newError(ErrDanglingOperator, tok.Pos, "'%s' requires an operand", tok.Type)
		}
		operand, err := b.unary()
		if err != nil {
			return nil, err
		}
		node := leaf(tok)
		node.Operands = []*QueryNode{operand}
		return node, nil
	case TokenBracketOpen:
		b.pos++
		if next, ok := b.current(); ok && next.Type == TokenBracketClose {
			return nil, newError(ErrEmptyExpression, next.Pos, "empty brackets")
		}
		inner, err := b.expression(1)
		if err != nil {
			return nil, err
		}
		if err := b.closeBracket(tok); err != nil {
			return nil, err
		}
		return inner, nil
	case TokenBracketClose:
		return nil, newError(ErrMismatchedBracket, tok.Pos, "unexpected ')'")
	case TokenLong, TokenDouble, TokenString:
		b.pos++
		return leaf(tok), nil
	case TokenSymbol:
		b.pos++
		return b.symbol(tok)
	case TokenArrow:
		return nil, newError(ErrInvalidArrowExpression, tok.Pos, "'=>' must follow a parameter name")
	}
	return nil, newError(ErrDanglingOperator, tok.Pos, "'%s' requires a left operand", tok.Type)
}

// symbol handles the tokens following a symbol: a lambda arrow or a call argument list.
func (b *treeBuilder) symbol(tok Token) (*QueryNode, error) {
	node := leaf(tok)
	next, ok := b.current()
	if !ok {
		return node, nil
	}
	switch next.Type {
	case TokenArrow:
		b.pos++
		if _, ok := b.current(); !ok {
			return nil, newError(ErrInvalidArrowExpression, next.Pos, "missing lambda body")
		}
		body, err := b.expression(1)
		if err != nil {
			return nil, err
		}
		arrow := leaf(next)
		arrow.Operands = []*QueryNode{body}
		node.Operands = []*QueryNode{arrow}
	case TokenBracketOpen:
		b.pos++
		node.Call = true
		if closing, ok := b.current(); ok && closing.Type == TokenBracketClose {
			b.pos++
			return node, nil
		}
		arg, err := b.expression(1)
		if err != nil {
			return nil, err
		}
		if err := b.closeBracket(next); err != nil {
			return nil, err
		}
		node.Operands = []*QueryNode{arg}
	}
	return node, nil
}

func (b *treeBuilder) closeBracket(open Token) error {
	tok, ok := b.current()
	if !ok || tok.Type != TokenBracketClose {
		return newError(ErrMismatchedBracket, open.Pos, "missing ')'")
	}
	b.pos++
	return nil
}

func (b *treeBuilder) endPos() int {
	if len(b.tokens) == 0 {
		return 0
	}
	last := b.tokens[len(b.tokens)-1]
	return last.Pos + len(last.Value)
}
