package filters

import (
	"bytes"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// LZW implements LZWDecode. The PDF variant uses variable-width codes
// (9 to 12 bits, MSB first) and, unless /EarlyChange 0 is declared,
// widens the code size one code early.
type LZW struct{}

func (LZW) Name() string { return "LZWDecode" }

const (
	lzwClear = 256
	lzwEOD   = 257
)

func (LZW) Decode(in []byte, params Params) ([]byte, error) {
	early := 1
	if params.EarlyChange != nil && !*params.EarlyChange {
		early = 0
	}
	var out []byte
	table := make([][]byte, 0, 4096)
	resetTable := func() {
		table = table[:0]
		for i := 0; i < 256; i++ {
			table = append(table, []byte{byte(i)})
		}
		table = append(table, nil, nil) // clear, EOD
	}
	resetTable()

	width := 9
	var acc uint32
	var accBits int
	pos := 0
	var prev []byte

	readCode := func() (int, bool) {
		for accBits < width {
			if pos >= len(in) {
				return 0, false
			}
			acc = acc<<8 | uint32(in[pos])
			accBits += 8
			pos++
		}
		code := int(acc >> uint(accBits-width))
		accBits -= width
		acc &= (1 << uint(accBits)) - 1
		return code, true
	}

	for {
		code, ok := readCode()
		if !ok {
			// Missing EOD is tolerated; everything decoded so far stands.
			return out, nil
		}
		switch {
		case code == lzwEOD:
			return out, nil
		case code == lzwClear:
			resetTable()
			width = 9
			prev = nil
		case code < len(table):
			entry := table[code]
			out = append(out, entry...)
			if prev != nil {
				table = append(table, append(append([]byte(nil), prev...), entry[0]))
			}
			prev = entry
		case code == len(table) && prev != nil:
			entry := append(append([]byte(nil), prev...), prev[0])
			out = append(out, entry...)
			table = append(table, entry)
			prev = entry
		default:
			return nil, fmt.Errorf("invalid code %d at table size %d", code, len(table))
		}
		if n := len(table) + early; n >= 1<<uint(width) && width < 12 {
			width++
		}
	}
}

// ASCIIHex implements ASCIIHexDecode. Whitespace is skipped, '>'
// terminates, and an odd trailing nibble is padded with zero.
type ASCIIHex struct{}

func (ASCIIHex) Name() string { return "ASCIIHexDecode" }

func (ASCIIHex) Decode(in []byte, _ Params) ([]byte, error) {
	var digits []byte
	for _, c := range in {
		switch {
		case c == '>':
			goto done
		case isHexDigit(c):
			digits = append(digits, c)
		case isPDFSpace(c):
		default:
			return nil, fmt.Errorf("invalid hex character %q", c)
		}
	}
done:
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, err
	}
	return out, nil
}

// ASCII85 implements ASCII85Decode, including the 'z' shorthand handled
// by the standard decoder. The "<~" prefix some producers emit and the
// "~>" terminator are stripped first.
type ASCII85 struct{}

func (ASCII85) Name() string { return "ASCII85Decode" }

func (ASCII85) Decode(in []byte, _ Params) ([]byte, error) {
	body := bytes.TrimSpace(in)
	body = bytes.TrimPrefix(body, []byte("<~"))
	if i := bytes.Index(body, []byte("~>")); i >= 0 {
		body = body[:i]
	}
	var filtered []byte
	for _, c := range body {
		if !isPDFSpace(c) {
			filtered = append(filtered, c)
		}
	}
	r := ascii85.NewDecoder(bytes.NewReader(filtered))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RunLength implements RunLengthDecode.
type RunLength struct{}

func (RunLength) Name() string { return "RunLengthDecode" }

func (RunLength) Decode(in []byte, _ Params) ([]byte, error) {
	var out []byte
	i := 0
	for i < len(in) {
		n := int(in[i])
		i++
		switch {
		case n == 128:
			return out, nil
		case n < 128:
			if i+n+1 > len(in) {
				return nil, errors.New("truncated literal run")
			}
			out = append(out, in[i:i+n+1]...)
			i += n + 1
		default:
			if i >= len(in) {
				return nil, errors.New("truncated repeat run")
			}
			for j := 0; j < 257-n; j++ {
				out = append(out, in[i])
			}
			i++
		}
	}
	return out, nil
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func isPDFSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}
