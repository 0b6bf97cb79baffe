package tools

import (
	"errors"
	"fmt"
	"go/scanner"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// ErrDivisionByZero is reported by the calculator for x/0 and x%0.
var ErrDivisionByZero = errors.New("division by zero")

// EvalExpression evaluates an arithmetic expression made of numbers,
// + - * / % ** (power), unary signs and parentheses. Precedence follows
// Python: ** binds tighter than a unary sign on its left and is right
// associative, so -2**2 is -4 and 2**3**2 is 512.
func EvalExpression(src string) (float64, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return 0, errors.New("invalid expression: empty")
	}
	p, err := newExprParser(src)
	if err != nil {
		return 0, err
	}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != token.EOF {
		return 0, fmt.Errorf("invalid expression %q: unexpected %s", src, p.tok)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result of %q is not a finite number", src)
	}
	return v, nil
}

// exprToken is one lexical element; "**" is folded into token.POW.
type exprToken struct {
	kind token.Token
	lit  string
}

func (t exprToken) String() string {
	if t.kind == token.EOF {
		return "end of input"
	}
	if t.lit != "" {
		return strconv.Quote(t.lit)
	}
	return strconv.Quote(t.kind.String())
}

// pow stands in for "**", which Go's scanner reports as two MUL tokens.
const pow = token.Token(-1)

type exprParser struct {
	src  string
	toks []exprToken
	pos  int
	tok  exprToken
}

func newExprParser(src string) (*exprParser, error) {
	var (
		s    scanner.Scanner
		errs scanner.ErrorList
	)
	file := token.NewFileSet().AddFile("", -1, len(src))
	s.Init(file, []byte(src), func(pos token.Position, msg string) { errs.Add(pos, msg) }, scanner.ScanComments)

	p := &exprParser{src: src}
	lastMul := token.NoPos
	for {
		pos, tok, lit := s.Scan()
		if tok == token.EOF {
			break
		}
		switch tok {
		case token.SEMICOLON:
			if lit == "\n" {
				continue
			}
			return nil, fmt.Errorf("invalid expression %q: unsupported element %q", src, lit)
		case token.INT, token.FLOAT, token.ADD, token.SUB, token.QUO, token.REM, token.LPAREN, token.RPAREN:
		case token.MUL:
			// "**" only when the two stars touch.
			if n := len(p.toks); n > 0 && p.toks[n-1].kind == token.MUL && pos == lastMul+1 {
				p.toks[n-1] = exprToken{kind: pow, lit: "**"}
				lastMul = token.NoPos
				continue
			}
			lastMul = pos
			p.toks = append(p.toks, exprToken{kind: tok})
			continue
		default:
			if lit == "" {
				lit = tok.String()
			}
			return nil, fmt.Errorf("invalid expression %q: unsupported element %q", src, lit)
		}
		lastMul = token.NoPos
		p.toks = append(p.toks, exprToken{kind: tok, lit: lit})
	}
	if errs.Len() > 0 {
		return nil, fmt.Errorf("invalid expression %q", src)
	}
	p.toks = append(p.toks, exprToken{kind: token.EOF})
	p.tok = p.toks[0]
	return p, nil
}

func (p *exprParser) next() {
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	p.tok = p.toks[p.pos]
}

// expr := term (("+" | "-") term)*
func (p *exprParser) expr() (float64, error) {
	x, err := p.term()
	if err != nil {
		return 0, err
	}
	for p.tok.kind == token.ADD || p.tok.kind == token.SUB {
		op := p.tok.kind
		p.next()
		y, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == token.ADD {
			x += y
		} else {
			x -= y
		}
	}
	return x, nil
}

// term := unary (("*" | "/" | "%") unary)*
func (p *exprParser) term() (float64, error) {
	x, err := p.unary()
	if err != nil {
		return 0, err
	}
	for p.tok.kind == token.MUL || p.tok.kind == token.QUO || p.tok.kind == token.REM {
		op := p.tok.kind
		p.next()
		y, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case token.MUL:
			x *= y
		case token.QUO:
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			x /= y
		case token.REM:
			if y == 0 {
				return 0, ErrDivisionByZero
			}
			x = math.Mod(x, y)
		}
	}
	return x, nil
}

// unary := ("+" | "-") unary | power
func (p *exprParser) unary() (float64, error) {
	switch p.tok.kind {
	case token.SUB:
		p.next()
		x, err := p.unary()
		return -x, err
	case token.ADD:
		p.next()
		return p.unary()
	}
	return p.power()
}

// power := primary ("**" unary)?
func (p *exprParser) power() (float64, error) {
	x, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.tok.kind != pow {
		return x, nil
	}
	p.next()
	y, err := p.unary()
	if err != nil {
		return 0, err
	}
	if x == 0 && y < 0 {
		return 0, ErrDivisionByZero
	}
	return math.Pow(x, y), nil
}

// primary := number | "(" expr ")"
func (p *exprParser) primary() (float64, error) {
	switch p.tok.kind {
	case token.INT, token.FLOAT:
		lit := p.tok.lit
		p.next()
		v, err := strconv.ParseFloat(strings.ReplaceAll(lit, "_", ""), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", lit)
		}
		return v, nil
	case token.LPAREN:
		p.next()
		x, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.tok.kind != token.RPAREN {
			return 0, fmt.Errorf("invalid expression %q: missing )", p.src)
		}
		p.next()
		return x, nil
	}
	return 0, fmt.Errorf("invalid expression %q: unexpected %s", p.src, p.tok)
}

// FormatNumber renders integral values without a fractional part.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
