package scanner

import (
	"io"
	"testing"
)

func scanAll(t *testing.T, input string) []Token {
	t.Helper()
	s := NewFromBytes([]byte(input), Config{})
	var out []Token
	for {
		tok, err := s.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("scan %q: %v", input, err)
		}
		out = append(out, tok)
	}
}

func TestScanBasicTokens(t *testing.T) {
	toks := scanAll(t, "<< /Type /Page >> [ 1 -2 3.5 true false null ]")
	want := []TokenType{
		TokenDictOpen, TokenName, TokenName, TokenDictClose,
		TokenArrayOpen, TokenNumber, TokenNumber, TokenNumber,
		TokenBoolean, TokenBoolean, TokenNull, TokenArrayClose,
	}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d", len(want), len(toks))
	}
	for i, w := range want {
		if toks[i].Type != w {
			t.Fatalf("token %d: expected type %v, got %v", i, w, toks[i].Type)
		}
	}
	if toks[1].Str != "Type" || toks[2].Str != "Page" {
		t.Fatalf("name values wrong: %q %q", toks[1].Str, toks[2].Str)
	}
	if !toks[5].IsInt || toks[5].Int != 1 {
		t.Fatalf("expected integer 1, got %+v", toks[5])
	}
	if toks[6].Int != -2 {
		t.Fatalf("expected -2, got %+v", toks[6])
	}
	if toks[7].IsInt || toks[7].Float != 3.5 {
		t.Fatalf("expected real 3.5, got %+v", toks[7])
	}
}

func TestScanIndirectReference(t *testing.T) {
	toks := scanAll(t, "12 0 R")
	if len(toks) != 1 || toks[0].Type != TokenRef {
		t.Fatalf("expected one ref token, got %+v", toks)
	}
	if toks[0].RefNum != 12 || toks[0].RefGen != 0 {
		t.Fatalf("wrong ref: %d %d", toks[0].RefNum, toks[0].RefGen)
	}
}

func TestScanTwoNumbersNotARef(t *testing.T) {
	toks := scanAll(t, "12 13")
	if len(toks) != 2 {
		t.Fatalf("expected two tokens, got %d", len(toks))
	}
	if toks[0].Int != 12 || toks[1].Int != 13 {
		t.Fatalf("wrong values: %+v", toks)
	}
}

func TestScanLiteralString(t *testing.T) {
	toks := scanAll(t, `(hello \(nested\) \n \101)`)
	if len(toks) != 1 || toks[0].Type != TokenString {
		t.Fatalf("expected string token, got %+v", toks)
	}
	if got := string(toks[0].Bytes); got != "hello (nested) \n A" {
		t.Fatalf("wrong string value: %q", got)
	}
}

func TestScanNestedParens(t *testing.T) {
	toks := scanAll(t, "(a(b)c)")
	if got := string(toks[0].Bytes); got != "a(b)c" {
		t.Fatalf("wrong value: %q", got)
	}
}

func TestScanHexString(t *testing.T) {
	toks := scanAll(t, "<48 65 6C6C 6F>")
	if got := string(toks[0].Bytes); got != "Hello" {
		t.Fatalf("wrong hex string: %q", got)
	}
	// Odd nibble count pads with zero.
	toks = scanAll(t, "<901FA>")
	if len(toks[0].Bytes) != 3 || toks[0].Bytes[2] != 0xA0 {
		t.Fatalf("odd-length hex not padded: %x", toks[0].Bytes)
	}
}

func TestScanNameWithHexEscape(t *testing.T) {
	toks := scanAll(t, "/A#20B")
	if toks[0].Str != "A B" {
		t.Fatalf("wrong escaped name: %q", toks[0].Str)
	}
}

func TestScanComments(t *testing.T) {
	toks := scanAll(t, "% header comment\n42 % trailing\n")
	if len(toks) != 1 || toks[0].Int != 42 {
		t.Fatalf("comments not skipped: %+v", toks)
	}
}

func TestScanStreamWithDeclaredLength(t *testing.T) {
	s := NewFromBytes([]byte("stream\n\x01\x02\x03\x04\nendstream"), Config{})
	s.SetNextStreamLength(4)
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("scan stream: %v", err)
	}
	if tok.Type != TokenStream {
		t.Fatalf("expected stream token, got %v", tok.Type)
	}
	if len(tok.Bytes) != 4 || tok.Bytes[0] != 1 || tok.Bytes[3] != 4 {
		t.Fatalf("wrong payload: %x", tok.Bytes)
	}
}

func TestScanStreamWithoutLengthFindsEndstream(t *testing.T) {
	s := NewFromBytes([]byte("stream\nabcdef\nendstream"), Config{})
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("scan stream: %v", err)
	}
	if got := string(tok.Bytes); got != "abcdef" {
		t.Fatalf("wrong payload: %q", got)
	}
}

func TestScanUnterminatedStringFails(t *testing.T) {
	s := NewFromBytes([]byte("(never closed"), Config{})
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected error for unterminated string")
	}
}

func TestScanStrayDelimiterFails(t *testing.T) {
	s := NewFromBytes([]byte(")"), Config{})
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected error for stray ')'")
	}
}

func TestScanDepthLimit(t *testing.T) {
	s := NewFromBytes([]byte("[[[[["), Config{MaxArrayDepth: 3})
	var err error
	for i := 0; i < 5 && err == nil; i++ {
		_, err = s.Next()
	}
	if err == nil {
		t.Fatalf("expected depth limit error")
	}
}

func TestSeekTo(t *testing.T) {
	s := NewFromBytes([]byte("ignored 42"), Config{})
	if err := s.SeekTo(8); err != nil {
		t.Fatalf("seek: %v", err)
	}
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("next after seek: %v", err)
	}
	if tok.Int != 42 {
		t.Fatalf("expected 42 after seek, got %+v", tok)
	}
}
