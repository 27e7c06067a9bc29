package pps

import (
	"strings"
	"unicode"
)

type markerTokenKind uint8

const (
	tokIdent markerTokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
	tokEOF
)

type markerToken struct {
	kind markerTokenKind
	text string
}

type markerLexer struct {
	src string
	pos int
}

func (lx *markerLexer) next() (markerToken, error) {
	for lx.pos < len(lx.src) && unicode.IsSpace(rune(lx.src[lx.pos])) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return markerToken{kind: tokEOF}, nil
	}

	c := lx.src[lx.pos]
	switch {
	case c == '(':
		lx.pos++
		return markerToken{kind: tokLParen, text: "("}, nil
	case c == ')':
		lx.pos++
		return markerToken{kind: tokRParen, text: ")"}, nil
	case c == '\'' || c == '"':
		quote := c
		end := strings.IndexByte(lx.src[lx.pos+1:], quote)
		if end < 0 {
			return markerToken{}, newParseError(failMalformedMarker, lx.src, "unterminated string literal")
		}
		text := lx.src[lx.pos+1 : lx.pos+1+end]
		lx.pos += end + 2
		return markerToken{kind: tokString, text: text}, nil
	case strings.ContainsRune("<>=!~", rune(c)):
		start := lx.pos
		for lx.pos < len(lx.src) && strings.ContainsRune("<>=!~", rune(lx.src[lx.pos])) {
			lx.pos++
		}
		return markerToken{kind: tokOp, text: lx.src[start:lx.pos]}, nil
	case isMarkerIdentByte(c):
		start := lx.pos
		for lx.pos < len(lx.src) && isMarkerIdentByte(lx.src[lx.pos]) {
			lx.pos++
		}
		return markerToken{kind: tokIdent, text: lx.src[start:lx.pos]}, nil
	default:
		return markerToken{}, newParseError(failMalformedMarker, lx.src, "unexpected character %q", c)
	}
}

func isMarkerIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type markerParser struct {
	src string
	lx  *markerLexer
	tok markerToken
	err error
}

func parseMarkerString(s string) (markerGroup, error) {
	p := &markerParser{src: s, lx: &markerLexer{src: s}}
	p.advance()
	if p.err != nil {
		return nil, p.err
	}
	elems := p.parseSeq()
	if p.err != nil {
		return nil, p.err
	}
	if p.tok.kind != tokEOF {
		return nil, newParseError(failMalformedMarker, s, "trailing input at %q", p.tok.text)
	}
	return elems, nil
}

func (p *markerParser) advance() {
	if p.err != nil {
		return
	}
	p.tok, p.err = p.lx.next()
}

func (p *markerParser) fail(format string, args ...interface{}) {
	if p.err == nil {
		p.err = newParseError(failMalformedMarker, p.src, format, args...)
	}
}

// parseSeq parses "atom ((and|or) atom)*" into a flat sequence, preserving
// the source ordering of connectives. Precedence is the evaluator's
// concern, not the tree's; this keeps strip and collect faithful to the
// marker as written.
func (p *markerParser) parseSeq() markerGroup {
	var elems markerGroup

	atom := p.parseAtom()
	if p.err != nil {
		return nil
	}
	elems = append(elems, atom)

	for p.err == nil && p.tok.kind == tokIdent && (p.tok.text == "and" || p.tok.text == "or") {
		elems = append(elems, markerJoin(p.tok.text))
		p.advance()
		atom := p.parseAtom()
		if p.err != nil {
			return nil
		}
		elems = append(elems, atom)
	}
	return elems
}

func (p *markerParser) parseAtom() markerElem {
	switch p.tok.kind {
	case tokLParen:
		p.advance()
		inner := p.parseSeq()
		if p.err != nil {
			return nil
		}
		if p.tok.kind != tokRParen {
			p.fail("expected closing parenthesis, got %q", p.tok.text)
			return nil
		}
		p.advance()
		return inner
	case tokIdent:
		return p.parseLeaf()
	default:
		p.fail("expected marker variable or group, got %q", p.tok.text)
		return nil
	}
}

func (p *markerParser) parseLeaf() markerElem {
	variable := p.tok.text
	if !markerVariables[variable] {
		p.fail("unknown marker variable %q", variable)
		return nil
	}
	p.advance()

	var op string
	switch {
	case p.tok.kind == tokOp:
		op = p.tok.text
		p.advance()
	case p.tok.kind == tokIdent && p.tok.text == "in":
		op = "in"
		p.advance()
	case p.tok.kind == tokIdent && p.tok.text == "not":
		p.advance()
		if p.tok.kind != tokIdent || p.tok.text != "in" {
			p.fail("expected \"in\" after \"not\"")
			return nil
		}
		op = "not in"
		p.advance()
	default:
		p.fail("expected comparison operator after %q", variable)
		return nil
	}
	if !markerOperators[op] {
		p.fail("unsupported marker operator %q", op)
		return nil
	}

	if p.tok.kind != tokString {
		p.fail("expected quoted literal after %q %s", variable, op)
		return nil
	}
	value := p.tok.text
	p.advance()

	return markerLeaf{variable: variable, op: op, value: value}
}
