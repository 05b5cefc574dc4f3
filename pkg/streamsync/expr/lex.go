package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func (t token) isKeyword(kw string) bool {
	return t.kind == tokIdent && t.text == kw
}

func tokenize(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case r == '\'' || r == '"':
			end := i + 1
			var sb strings.Builder
			for end < len(rs) && rs[end] != r {
				if rs[end] == '\\' && end+1 < len(rs) && (rs[end+1] == r || rs[end+1] == '\\') {
					end++
				}
				sb.WriteRune(rs[end])
				end++
			}
			if end >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, i)
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
			i = end + 1
		case strings.ContainsRune("=!<>", r):
			op := string(r)
			if i+1 < len(rs) && rs[i+1] == '=' {
				op += "="
			}
			if op == "=" {
				return nil, fmt.Errorf("%w: use == at offset %d", ErrSyntax, i)
			}
			toks = append(toks, token{kind: tokOp, text: op})
			i += len(op)
		case r == '-' || r == '.' || unicode.IsDigit(r):
			end := i + 1
			for end < len(rs) && (unicode.IsDigit(rs[end]) || rs[end] == '.' || rs[end] == 'e' || rs[end] == 'E') {
				end++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:end])})
			i = end
		case isIdentRune(r):
			end := i + 1
			for end < len(rs) && isIdentRune(rs[end]) {
				end++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:end])})
			i = end
		default:
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, r, i)
		}
	}
	return toks, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}
