package pdfobj

import (
	"errors"
	"io"
	"strconv"

	"pdfobj/scanner"
)

// ParseObject parses one PDF object literal from its textual syntax.
// Malformed input yields a ParseError carrying the byte offset; the
// document is left untouched except for reserved slots created for
// forward references.
func (d *Document) ParseObject(text string) (Handle, error) {
	s := scanner.NewFromBytes([]byte(text), scanner.Config{})
	p := &objParser{doc: d, s: s}
	n, err := p.parseValue()
	if err != nil {
		return Handle{}, wrapParseErr(err)
	}
	return Handle{doc: d, n: n}, nil
}

// objParser builds graph nodes from scanner tokens, with one token of
// pushback for stream detection.
type objParser struct {
	doc     *Document
	s       *scanner.Scanner
	saved   scanner.Token
	hasSave bool
}

func (p *objParser) next() (scanner.Token, error) {
	if p.hasSave {
		p.hasSave = false
		return p.saved, nil
	}
	return p.s.Next()
}

func (p *objParser) unread(tok scanner.Token) {
	p.saved = tok
	p.hasSave = true
}

func (p *objParser) parseValue() (*node, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	return p.parseFrom(tok)
}

func (p *objParser) parseFrom(tok scanner.Token) (*node, error) {
	switch tok.Type {
	case scanner.TokenNull:
		return &node{typ: TypeNull}, nil
	case scanner.TokenBoolean:
		return &node{typ: TypeBoolean, b: tok.Bool}, nil
	case scanner.TokenNumber:
		if tok.IsInt {
			return &node{typ: TypeInteger, i: tok.Int}, nil
		}
		return &node{typ: TypeReal, real: strconv.FormatFloat(tok.Float, 'f', -1, 64)}, nil
	case scanner.TokenString:
		return &node{typ: TypeString, raw: tok.Bytes}, nil
	case scanner.TokenName:
		return &node{typ: TypeName, name: normalizeName(tok.Str)}, nil
	case scanner.TokenRef:
		return p.resolveRef(tok.RefNum, tok.RefGen), nil
	case scanner.TokenArrayOpen:
		return p.parseArray()
	case scanner.TokenDictOpen:
		return p.parseDictOrStream()
	case scanner.TokenInlineImage:
		return &node{typ: TypeInlineImage, data: tok.Bytes}, nil
	default:
		return nil, &scanner.Error{Offset: tok.Pos, Msg: "unexpected token"}
	}
}

// resolveRef returns the shared node for an indirect identity, creating
// a reserved placeholder for forward references.
func (p *objParser) resolveRef(num, gen int) *node {
	if n, ok := p.doc.objects[Ref{Num: num, Gen: gen}]; ok {
		return n
	}
	placeholder := &node{typ: TypeReserved}
	p.doc.registerAt(num, gen, placeholder)
	return placeholder
}

func (p *objParser) parseArray() (*node, error) {
	out := &node{typ: TypeArray}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenArrayClose {
			return out, nil
		}
		child, err := p.parseFrom(tok)
		if err != nil {
			return nil, err
		}
		out.items = append(out.items, child)
	}
}

func (p *objParser) parseDictOrStream() (*node, error) {
	dict := &node{typ: TypeDictionary, dict: make(map[string]*node)}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenDictClose {
			break
		}
		if tok.Type != scanner.TokenName {
			return nil, &scanner.Error{Offset: tok.Pos, Msg: "dictionary key must be a name"}
		}
		key := normalizeName(tok.Str)
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		dict.dict[key] = val
	}

	// A stream keyword directly after the dictionary turns it into a
	// stream object. Declared /Length lets the scanner slice the
	// payload without searching for endstream.
	if length, ok := p.declaredLength(dict); ok {
		p.s.SetNextStreamLength(length)
	}
	tok, err := p.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.s.SetNextStreamLength(-1)
			return dict, nil
		}
		return nil, err
	}
	if tok.Type == scanner.TokenStream {
		return &node{typ: TypeStream, sdict: dict, data: tok.Bytes}, nil
	}
	p.s.SetNextStreamLength(-1)
	p.unread(tok)
	return dict, nil
}

func (p *objParser) declaredLength(dict *node) (int64, bool) {
	length, ok := dict.dict["/Length"]
	if !ok || length == nil {
		return 0, false
	}
	// An indirect /Length resolves only if its target is already
	// loaded; a still-reserved node falls through to the endstream
	// search.
	if length.typ == TypeInteger {
		return length.i, true
	}
	return 0, false
}

func wrapParseErr(err error) error {
	var se *scanner.Error
	if errors.As(err, &se) {
		return parseErr(se.Offset, "%s", se.Msg)
	}
	if errors.Is(err, io.EOF) {
		return parseErr(0, "unexpected end of input")
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: ErrParse, Msg: err.Error()}
}
