package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every compile error.
var ErrSyntax = errors.New("expr: syntax error")

// Condition is a compiled boolean expression. It is safe for concurrent use.
type Condition struct {
	src  string
	root node
}

// Compile parses src into a Condition.
func Compile(src string) (*Condition, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return &Condition{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Condition {
	c, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return c
}

// Match evaluates the condition against attrs. A nil map behaves as empty.
func (c *Condition) Match(attrs map[string]string) bool {
	return c.root.eval(attrs)
}

// String returns the source text.
func (c *Condition) String() string {
	return c.src
}

// Eval compiles and evaluates src in one step.
func Eval(src string, attrs map[string]string) (bool, error) {
	c, err := Compile(src)
	if err != nil {
		return false, err
	}
	return c.Match(attrs), nil
}

type node interface {
	eval(attrs map[string]string) bool
}

type orNode struct{ left, right node }

func (n orNode) eval(a map[string]string) bool { return n.left.eval(a) || n.right.eval(a) }

type andNode struct{ left, right node }

func (n andNode) eval(a map[string]string) bool { return n.left.eval(a) && n.right.eval(a) }

type notNode struct{ inner node }

func (n notNode) eval(a map[string]string) bool { return !n.inner.eval(a) }

// operand is a literal or an attribute reference.
type operand struct {
	literal string
	attr    string
	isAttr  bool
}

func (o operand) value(attrs map[string]string) string {
	if o.isAttr {
		return attrs[o.attr]
	}
	return o.literal
}

type truthNode struct{ op operand }

func (n truthNode) eval(a map[string]string) bool {
	switch strings.ToLower(n.op.value(a)) {
	case "", "false", "0":
		return false
	}
	return true
}

type compareNode struct {
	op          string
	left, right operand
	re          *regexp.Regexp
}

func (n compareNode) eval(a map[string]string) bool {
	l, r := n.left.value(a), n.right.value(a)
	switch n.op {
	case "==":
		return equal(l, r)
	case "!=":
		return !equal(l, r)
	case "contains":
		return strings.Contains(l, r)
	case "startsWith":
		return strings.HasPrefix(l, r)
	case "endsWith":
		return strings.HasSuffix(l, r)
	case "matches":
		return n.re.MatchString(l)
	}

	lf, lok := number(l)
	rf, rok := number(r)
	if !lok || !rok {
		return false
	}
	switch n.op {
	case "<":
		return lf < rf
	case ">":
		return lf > rf
	case "<=":
		return lf <= rf
	default:
		return lf >= rf
	}
}

func equal(l, r string) bool {
	if lf, ok := number(l); ok {
		if rf, ok := number(r); ok {
			return lf == rf
		}
	}
	return l == r
}

func number(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) done() bool {
	return p.peek().kind == tokEOF
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at token %d: %s", ErrSyntax, p.pos+1, fmt.Sprintf(format, args...))
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if t := p.peek(); t.isKeyword("not") || (t.kind == tokOp && t.text == "!") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if t := p.peek(); t.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errorf("missing )")
		}
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, ok := p.comparison()
	if !ok {
		return truthNode{left}, nil
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	n := compareNode{op: op, left: left, right: right}
	if op == "matches" {
		if right.isAttr {
			return nil, p.errorf("matches needs a quoted pattern")
		}
		n.re, err = regexp.Compile(right.literal)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
	}
	return n, nil
}

var wordOps = map[string]bool{"contains": true, "startsWith": true, "endsWith": true, "matches": true}

func (p *parser) comparison() (string, bool) {
	t := p.peek()
	switch {
	case t.kind == tokOp && t.text != "!":
		p.next()
		return t.text, true
	case t.kind == tokIdent && wordOps[t.text]:
		p.next()
		return t.text, true
	}
	return "", false
}

func (p *parser) parseOperand() (operand, error) {
	t := p.next()
	switch t.kind {
	case tokString, tokNumber:
		return operand{literal: t.text}, nil
	case tokIdent:
		switch {
		case t.text == "true" || t.text == "false":
			return operand{literal: t.text}, nil
		case t.isKeyword("and") || t.isKeyword("or") || t.isKeyword("not") || wordOps[t.text]:
			return operand{}, p.errorf("unexpected %q", t.text)
		}
		return operand{attr: t.text, isAttr: true}, nil
	case tokEOF:
		return operand{}, p.errorf("unexpected end of expression")
	default:
		return operand{}, p.errorf("unexpected %q", t.text)
	}
}
