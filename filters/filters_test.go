package filters

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/ascii85"
	"testing"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestFlateRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("stream data "), 50)
	enc, err := Flate{}.Encode(plain)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := Flate{}.Decode(enc, Params{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatal("round trip mismatch")
	}
}

func TestFlateDecodesZlibInput(t *testing.T) {
	plain := []byte("BT /F1 12 Tf ET")
	dec, err := Flate{}.Decode(zlibCompress(t, plain), Params{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("got %q", dec)
	}
}

func TestPNGUpPredictor(t *testing.T) {
	// Two rows of four bytes, second stored as deltas against the first.
	raw := []byte{
		2, 10, 20, 30, 40,
		2, 1, 1, 1, 1,
	}
	out, err := applyPredictor(raw, Params{Predictor: 12, Columns: 4})
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	want := []byte{10, 20, 30, 40, 11, 21, 31, 41}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestPNGSubPredictor(t *testing.T) {
	raw := []byte{1, 5, 5, 5, 5}
	out, err := applyPredictor(raw, Params{Predictor: 11, Columns: 4})
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	want := []byte{5, 10, 15, 20}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestTIFFPredictor(t *testing.T) {
	raw := []byte{100, 1, 2, 3}
	out, err := applyPredictor(raw, Params{Predictor: 2, Columns: 4})
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	want := []byte{100, 101, 103, 106}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestLZWDecode(t *testing.T) {
	// The standard library writer emits the variant without early code
	// widening, so decode with /EarlyChange 0.
	plain := bytes.Repeat([]byte("aaabbbccc"), 30)
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("lzw write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("lzw close: %v", err)
	}
	off := false
	dec, err := LZW{}.Decode(buf.Bytes(), Params{EarlyChange: &off})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatal("lzw round trip mismatch")
	}
}

func TestASCIIHexDecode(t *testing.T) {
	dec, err := ASCIIHex{}.Decode([]byte("68 65 6c 6C 6f>"), Params{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(dec) != "hello" {
		t.Fatalf("got %q", dec)
	}
	// Odd trailing nibble pads with zero.
	dec, err = ASCIIHex{}.Decode([]byte("7>"), Params{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, []byte{0x70}) {
		t.Fatalf("got %v", dec)
	}
}

func TestASCII85Decode(t *testing.T) {
	plain := []byte("Man is distinguished")
	var buf bytes.Buffer
	w := ascii85.NewEncoder(&buf)
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	buf.WriteString("~>")
	dec, err := ASCII85{}.Decode(buf.Bytes(), Params{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("got %q", dec)
	}
}

func TestRunLengthDecode(t *testing.T) {
	// Literal run "ab", repeat run of five 'x', then EOD.
	in := []byte{1, 'a', 'b', 252, 'x', 128}
	dec, err := RunLength{}.Decode(in, Params{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(dec) != "abxxxxx" {
		t.Fatalf("got %q", dec)
	}
}

func TestPipelineDecodeLevels(t *testing.T) {
	plain := []byte("content")
	enc, err := Flate{}.Encode(plain)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := NewPipeline(Limits{})

	dec, err := p.Decode(enc, []string{"FlateDecode"}, nil, DecodeGeneralized)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatal("flate mismatch")
	}

	// DecodeNone leaves data untouched.
	dec, err = p.Decode(enc, []string{"FlateDecode"}, nil, DecodeNone)
	if err != nil {
		t.Fatalf("decode none: %v", err)
	}
	if !bytes.Equal(dec, enc) {
		t.Fatal("none level must not decode")
	}

	// RunLength needs the specialized level.
	if _, err := p.Decode([]byte{128}, []string{"RunLengthDecode"}, nil, DecodeGeneralized); err == nil {
		t.Fatal("expected level error for RunLengthDecode at generalized")
	}
	if _, err := p.Decode([]byte{128}, []string{"RunLengthDecode"}, nil, DecodeSpecialized); err != nil {
		t.Fatalf("specialized: %v", err)
	}

	// Image codecs are never supported.
	if _, err := p.Decode(nil, []string{"DCTDecode"}, nil, DecodeAll); err == nil {
		t.Fatal("expected error for DCTDecode")
	}
}
