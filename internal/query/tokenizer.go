package query

import (
	"fmt"
	"strconv"
)

// TokenType represents the type of a token
type TokenType int

const (
	TokenEnd TokenType = iota
	TokenError
	TokenWhitespace
	TokenSymbol
	TokenLong
	TokenDouble
	TokenString
	TokenAdd
	TokenSub
	TokenMul
	TokenDiv
	TokenMod
	TokenGreater
	TokenGreaterOrEqual
	TokenLess
	TokenLessOrEqual
	TokenEquals
	TokenNotEquals
	TokenNot
	TokenNegate
	TokenAnd
	TokenOr
	TokenArrow
	TokenBracketOpen
	TokenBracketClose
)

var tokenNames = [...]string{
	TokenEnd:            "End",
	TokenError:          "Error",
	TokenWhitespace:     "Whitespace",
	TokenSymbol:         "Symbol",
	TokenLong:           "Long",
	TokenDouble:         "Double",
	TokenString:         "String",
	TokenAdd:            "+",
	TokenSub:            "-",
	TokenMul:            "*",
	TokenDiv:            "/",
	TokenMod:            "%",
	TokenGreater:        ">",
	TokenGreaterOrEqual: ">=",
	TokenLess:           "<",
	TokenLessOrEqual:    "<=",
	TokenEquals:         "==",
	TokenNotEquals:      "!=",
	TokenNot:            "!",
	TokenNegate:         "-",
	TokenAnd:            "&&",
	TokenOr:             "||",
	TokenArrow:          "=>",
	TokenBracketOpen:    "(",
	TokenBracketClose:   ")",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// isOperand reports whether a token of this type completes an operand.
// It decides between binary and unary interpretation of '+' and '-'.
func (t TokenType) isOperand() bool {
	switch t {
	case TokenSymbol, TokenLong, TokenDouble, TokenString, TokenBracketClose:
		return true
	}
	return false
}

// Token represents a single token in a filter expression
type Token struct {
	Type  TokenType
	Value string
	Pos   int

	long   int64
	double float64
}

// Long returns the value of a TokenLong.
func (t Token) Long() int64 { return t.long }

// Double returns the value of a TokenDouble.
func (t Token) Double() float64 { return t.double }

func (t Token) String() string {
	switch t.Type {
	case TokenSymbol, TokenLong, TokenDouble:
		return t.Value
	case TokenString:
		return "'" + t.Value + "'"
	}
	return t.Type.String()
}

// Tokenizer tokenizes filter expressions
type Tokenizer struct {
	input string
	pos   int
	prev  TokenType
}

// NewTokenizer creates a new tokenizer
func NewTokenizer(input string) *Tokenizer {
	return &Tokenizer{input: input, prev: TokenEnd}
}

func (t *Tokenizer) ch() byte {
	if t.pos >= len(t.input) {
		return 0
	}
	return t.input[t.pos]
}

func (t *Tokenizer) peek() byte {
	if t.pos+1 >= len(t.input) {
		return 0
	}
	return t.input[t.pos+1]
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' }

// NextToken returns the next token including whitespace tokens.
func (t *Tokenizer) NextToken() (Token, error) {
	pos := t.pos
	c := t.ch()
	if t.pos >= len(t.input) {
		return Token{Type: TokenEnd, Pos: pos}, nil
	}
	switch {
	case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		for c := t.ch(); c == ' ' || c == '\t' || c == '\n' || c == '\r'; c = t.ch() {
			t.pos++
		}
		return Token{Type: TokenWhitespace, Pos: pos}, nil
	case c == '\'':
		return t.readString()
	case isDigit(c):
		return t.readNumber(pos, false)
	case isLetter(c):
		return t.readSymbol(), nil
	}
	return t.readOperator(pos)
}

func (t *Tokenizer) readString() (Token, error) {
	pos := t.pos
	t.pos++ // opening quote
	start := t.pos
	for t.pos < len(t.input) {
		if t.input[t.pos] == '\'' {
			value := t.input[start:t.pos]
			t.pos++
			return Token{Type: TokenString, Value: value, Pos: pos}, nil
		}
		t.pos++
	}
	return Token{Type: TokenError, Pos: pos}, newError(ErrUnterminatedString, pos, "missing closing '")
}

func (t *Tokenizer) readNumber(pos int, negative bool) (Token, error) {
	start := t.pos
	dots := 0
	for c := t.ch(); isDigit(c) || c == '.'; c = t.ch() {
		if c == '.' {
			dots++
		}
		t.pos++
	}
	text := t.input[start:t.pos]
	if negative {
		text = "-" + text
	}
	switch {
	case dots == 0:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Token{Type: TokenError, Pos: pos}, newError(ErrInvalidFloat, pos, "invalid integer %s", text)
		}
		return Token{Type: TokenLong, Value: text, Pos: pos, long: v}, nil
	case dots == 1 && text[len(text)-1] != '.':
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{Type: TokenError, Pos: pos}, newError(ErrInvalidFloat, pos, "invalid number %s", text)
		}
		return Token{Type: TokenDouble, Value: text, Pos: pos, double: v}, nil
	}
	return Token{Type: TokenError, Pos: pos}, newError(ErrInvalidFloat, pos, "invalid number %s", text)
}

// readSymbol reads [A-Za-z_][A-Za-z_.]*. Digits are not part of a symbol.
func (t *Tokenizer) readSymbol() Token {
	start := t.pos
	for c := t.ch(); isLetter(c) || c == '.'; c = t.ch() {
		t.pos++
	}
	return Token{Type: TokenSymbol, Value: t.input[start:t.pos], Pos: start}
}

func (t *Tokenizer) readOperator(pos int) (Token, error) {
	c := t.ch()
	next := t.peek()
	one := func(tt TokenType) (Token, error) {
		t.pos++
		return Token{Type: tt, Value: tt.String(), Pos: pos}, nil
	}
	two := func(tt TokenType) (Token, error) {
		t.pos += 2
		return Token{Type: tt, Value: tt.String(), Pos: pos}, nil
	}
	switch c {
	case '(':
		return one(TokenBracketOpen)
	case ')':
		return one(TokenBracketClose)
	case '*':
		return one(TokenMul)
	case '/':
		return one(TokenDiv)
	case '%':
		return one(TokenMod)
	case '+':
		if t.prev.isOperand() {
			return one(TokenAdd)
		}
		// unary plus has no effect
		t.pos++
		return Token{Type: TokenWhitespace, Pos: pos}, nil
	case '-':
		if t.prev.isOperand() {
			return one(TokenSub)
		}
		if isDigit(next) {
			t.pos++
			return t.readNumber(pos, true)
		}
		return one(TokenNegate)
	case '>':
		if next == '=' {
			return two(TokenGreaterOrEqual)
		}
		return one(TokenGreater)
	case '<':
		if next == '=' {
			return two(TokenLessOrEqual)
		}
		return one(TokenLess)
	case '!':
		if next == '=' {
			return two(TokenNotEquals)
		}
		return one(TokenNot)
	case '=':
		switch next {
		case '=':
			return two(TokenEquals)
		case '>':
			return two(TokenArrow)
		}
	case '|':
		if next == '|' {
			return two(TokenOr)
		}
	case '&':
		if next == '&' {
			return two(TokenAnd)
		}
	}
	return Token{Type: TokenError, Pos: pos}, newError(ErrUnexpectedCharacter, pos, "'%c'", c)
}

// TokenizeAll returns all tokens from the input without whitespace and without the terminating End token.
func (t *Tokenizer) TokenizeAll() ([]Token, error) {
	var tokens []Token
	for {
		token, err := t.NextToken()
		if err != nil {
			return nil, err
		}
		switch token.Type {
		case TokenEnd:
			return tokens, nil
		case TokenWhitespace:
			continue
		}
		t.prev = token.Type
		tokens = append(tokens, token)
	}
}

// Tokenize splits source into a flat token stream.
func Tokenize(source string) ([]Token, error) {
	return NewTokenizer(source).TokenizeAll()
}
