// Package scanner tokenizes PDF object syntax from an io.ReaderAt. It
// buffers the input in fixed-size windows so large documents are not read
// eagerly, and reports every token with its byte offset.
package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"pdfobj/recovery"
)

type TokenType int

const (
	TokenDictOpen    TokenType = iota // '<<'
	TokenDictClose                    // '>>'
	TokenArrayOpen                    // '['
	TokenArrayClose                   // ']'
	TokenName                         // '/Name' (Str holds the bare name, no slash)
	TokenString                       // literal or hex string (Bytes)
	TokenNumber                       // Int/Float, IsInt distinguishes
	TokenBoolean                      // Bool
	TokenNull                         // null
	TokenRef                          // '5 0 R' (RefNum, RefGen)
	TokenStream                       // stream payload (Bytes)
	TokenInlineImage                  // inline image payload after ID (Bytes)
	TokenKeyword                      // obj, endobj, endstream, operators, ...
)

// Token is one lexical unit. Only the fields relevant to Type are set.
type Token struct {
	Type   TokenType
	Str    string
	Int    int64
	Float  float64
	IsInt  bool
	Bool   bool
	Bytes  []byte
	RefNum int
	RefGen int
	Pos    int64
}

// Error is a scan failure with the byte offset where it occurred.
type Error struct {
	Offset int64
	Msg    string
}

func (e *Error) Error() string { return fmt.Sprintf("offset %d: %s", e.Offset, e.Msg) }

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	MaxInlineImage  int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

// Scanner produces tokens until io.EOF.
type Scanner struct {
	reader        io.ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	arrayDepth    int
	dictDepth     int
	loc           recovery.Location
	fixed         bool
}

func New(r io.ReaderAt, cfg Config) *Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &Scanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

// NewFromBytes scans an in-memory buffer.
func NewFromBytes(data []byte, cfg Config) *Scanner {
	return New(bytes.NewReader(data), cfg)
}

func (s *Scanner) Position() int64 { return s.pos }

// SeekTo repositions the scanner at an absolute byte offset.
func (s *Scanner) SeekTo(offset int64) error {
	if offset < 0 {
		return &Error{Offset: offset, Msg: "seek out of range"}
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return &Error{Offset: offset, Msg: "seek out of range"}
	}
	s.pos = offset
	s.arrayDepth, s.dictDepth = 0, 0
	return nil
}

// SetNextStreamLength supplies the declared /Length for the next stream
// token so the payload can be sliced without searching for endstream.
func (s *Scanner) SetNextStreamLength(n int64) { s.nextStreamLen = n }

// SetLocation attaches object context to recovery reports.
func (s *Scanner) SetLocation(loc recovery.Location) { s.loc = loc }

func (s *Scanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDictOpen, Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenDictClose, Pos: start})
		}
		s.pos++
		return Token{}, s.fail("stray '>'", start)
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArrayOpen, Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenArrayClose, Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case ')', '{', '}':
		s.pos++
		return Token{}, s.fail("unexpected delimiter "+strconv.QuoteRune(rune(c)), start)
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *Scanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if s.pos >= int64(len(s.data)) {
					return io.EOF
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *Scanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if err == io.EOF || n == 0 {
		s.eof = true
		return nil
	}
	return err
}

func (s *Scanner) peekAhead(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' { // two-digit hex escape
			s.pos++
			a := s.hexNibble()
			b := s.hexNibble()
			out.WriteByte((a << 4) | b)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *Scanner) hexNibble() byte {
	if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
		return 0
	}
	c := s.data[s.pos]
	s.pos++
	return fromHex(c)
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
				return Token{}, err
			}
			break
		}
		c := s.data[s.pos]
		switch {
		case c == '\\':
			s.pos++
			if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
				continue
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r': // line continuation
				s.pos++
				if s.ensure(s.pos) == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7': // up to three octal digits
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2; k++ {
					if s.ensure(s.pos) != nil || s.pos >= int64(len(s.data)) {
						break
					}
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = (val << 3) + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
		case c == '(':
			depth++
			buf.WriteByte(c)
			s.pos++
		case c == ')':
			depth--
			if depth > 0 {
				buf.WriteByte(c)
			}
			s.pos++
		default:
			buf.WriteByte(c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.fail("literal string too long", start)
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	closed := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if !isHexDigit(c) {
			return Token{}, s.fail("invalid character in hex string", s.pos)
		}
		nibbles = append(nibbles, c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
			return Token{}, s.fail("hex string too long", start)
		}
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0') // odd count pads with zero
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Pos: start})
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "":
		s.pos++
		return Token{}, s.fail("unexpected byte", start)
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		s.pos++
		return Token{}, s.fail("malformed number", start)
	}
	// "<int> <int> R" lookahead
	save := s.pos
	if i1, err1 := strconv.ParseInt(first, 10, 64); err1 == nil && i1 >= 0 {
		if s.skipWSAndComments() == nil {
			secondStart := s.pos
			second := s.scanNumberString()
			if second != "" {
				if i2, err2 := strconv.ParseInt(second, 10, 64); err2 == nil && i2 >= 0 {
					if s.skipWSAndComments() == nil && s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
						(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.peekAhead(1))) {
						s.pos++
						return Token{Type: TokenRef, RefNum: int(i1), RefGen: int(i2), Pos: start}, nil
					}
				}
				s.pos = secondStart
			} else {
				s.pos = save
			}
		}
	} else {
		s.pos = save
	}
	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(normalizeReal(first), 64)
	if err != nil {
		return Token{}, s.fail("malformed number "+strconv.Quote(first), start)
	}
	return s.emit(Token{Type: TokenNumber, Float: f, Pos: start})
}

func (s *Scanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for {
		if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
			return ""
		}
		if s.pos >= int64(len(s.data)) {
			break
		}
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			buf.WriteByte(c)
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

// normalizeReal makes PDF real forms like ".5" and "5." parseable.
func normalizeReal(v string) string {
	if len(v) == 0 {
		return v
	}
	if v[len(v)-1] == '.' {
		v += "0"
	}
	return v
}

// scanStream consumes the payload between the stream keyword and endstream.
func (s *Scanner) scanStream(start int64) (Token, error) {
	if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	// PDF 7.3.8: EOL required between the keyword and the data.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos
	declared := s.nextStreamLen
	s.nextStreamLen = -1

	if declared >= 0 {
		if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
			return Token{}, s.fail("stream exceeds length limit", start)
		}
		if err := s.ensure(dataStart + declared); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		end := dataStart + declared
		if end > int64(len(s.data)) {
			if err := s.recover(errors.New("stream shorter than declared length"), "stream"); err != nil {
				return Token{}, err
			}
			end = int64(len(s.data))
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		s.skipToEndstream()
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}

	// No declared length: search for an endstream marker on a boundary.
	needle := []byte("endstream")
	for i := dataStart; ; i++ {
		if err := s.ensure(i + int64(len(needle))); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if i+int64(len(needle)) > int64(len(s.data)) {
			return Token{}, s.fail("endstream not found", start)
		}
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			return Token{}, s.fail("endstream not found within scan limit", start)
		}
		if !bytes.Equal(s.data[i:i+int64(len(needle))], needle) {
			continue
		}
		if i > dataStart && !isWhitespace(s.data[i-1]) {
			continue
		}
		after := i + int64(len(needle))
		if after < int64(len(s.data)) && !isDelimiter(s.data[after]) {
			continue
		}
		end := i
		// Trim the EOL that belongs to the marker, not the data.
		if end > dataStart && s.data[end-1] == '\n' {
			end--
		}
		if end > dataStart && s.data[end-1] == '\r' {
			end--
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
			return Token{}, s.fail("stream exceeds length limit", start)
		}
		s.pos = after
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
}

func (s *Scanner) skipToEndstream() {
	needle := []byte("endstream")
	for {
		if err := s.ensure(s.pos + int64(len(needle))); err != nil && !errors.Is(err, io.EOF) {
			return
		}
		if s.pos+int64(len(needle)) > int64(len(s.data)) {
			return
		}
		if bytes.Equal(s.data[s.pos:s.pos+int64(len(needle))], needle) {
			s.pos += int64(len(needle))
			return
		}
		idx := bytes.Index(s.data[s.pos:], needle)
		if idx < 0 {
			if s.eof {
				s.pos = int64(len(s.data))
				return
			}
			if s.loadMore() != nil {
				return
			}
			continue
		}
		s.pos += int64(idx + len(needle))
		return
	}
}

// scanInlineImage consumes bytes after ID up to an EI on an EOL boundary.
func (s *Scanner) scanInlineImage(start int64) (Token, error) {
	if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
		return Token{}, err
	}
	if s.pos >= int64(len(s.data)) || !isWhitespace(s.data[s.pos]) {
		return Token{}, s.fail("inline image missing whitespace after ID", start)
	}
	s.pos++
	dataStart := s.pos
	for {
		if err := s.ensure(s.pos + 2); err != nil && !errors.Is(err, io.EOF) {
			return Token{}, err
		}
		if s.pos+1 >= int64(len(s.data)) {
			return Token{}, s.fail("unterminated inline image", start)
		}
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' &&
			s.pos > dataStart && isWhitespace(s.data[s.pos-1]) &&
			(s.pos+2 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+2])) {
			end := s.pos
			if end > dataStart && isEOL(s.data[end-1]) {
				end--
				if end > dataStart && s.data[end-1] == '\r' && s.data[end] == '\n' {
					end--
				}
			}
			payload := append([]byte(nil), s.data[dataStart:end]...)
			if s.cfg.MaxInlineImage > 0 && int64(len(payload)) > s.cfg.MaxInlineImage {
				return Token{}, s.fail("inline image too long", start)
			}
			s.pos += 2
			return Token{Type: TokenInlineImage, Bytes: payload, Pos: start}, nil
		}
		s.pos++
		if s.cfg.MaxInlineImage > 0 && s.pos-dataStart > s.cfg.MaxInlineImage {
			return Token{}, s.fail("inline image too long", start)
		}
	}
}

func (s *Scanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArrayOpen:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.fail("array nesting too deep", tok.Pos)
		}
	case TokenArrayClose:
		if s.arrayDepth > 0 {
			s.arrayDepth--
		}
	case TokenDictOpen:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, s.fail("dictionary nesting too deep", tok.Pos)
		}
	case TokenDictClose:
		if s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func (s *Scanner) fail(msg string, off int64) error {
	return &Error{Offset: off, Msg: msg}
}

func (s *Scanner) recover(err error, component string) error {
	if s.cfg.Recovery == nil {
		return s.fail(err.Error(), s.pos)
	}
	loc := s.loc
	loc.ByteOffset = s.pos
	loc.Component = "scanner:" + component
	switch s.cfg.Recovery.OnError(err, loc) {
	case recovery.ActionSkip, recovery.ActionFix:
		s.fixed = true
		return nil
	default:
		return s.fail(err.Error(), s.pos)
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool {
	return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9')
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
