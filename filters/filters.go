// Package filters implements PDF stream filter decoding and encoding.
// Decoding granularity is expressed as a DecodeLevel: each level widens the
// set of filters the pipeline is willing to reverse.
package filters

import (
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
)

// DecodeLevel selects how much of a stream's filter chain to reverse.
type DecodeLevel int

const (
	// DecodeNone returns stream data exactly as stored.
	DecodeNone DecodeLevel = iota
	// DecodeGeneralized reverses the lossless general-purpose filters:
	// FlateDecode, LZWDecode, ASCIIHexDecode, ASCII85Decode.
	DecodeGeneralized
	// DecodeSpecialized additionally reverses RunLengthDecode.
	DecodeSpecialized
	// DecodeAll requires the entire chain to be supported.
	DecodeAll
)

func (l DecodeLevel) String() string {
	switch l {
	case DecodeNone:
		return "none"
	case DecodeGeneralized:
		return "generalized"
	case DecodeSpecialized:
		return "specialized"
	case DecodeAll:
		return "all"
	default:
		return fmt.Sprintf("DecodeLevel(%d)", int(l))
	}
}

// Allows reports whether filters with the given name may be reversed at
// this level. Image codecs are never decodable here.
func (l DecodeLevel) Allows(name string) bool {
	switch name {
	case "FlateDecode", "Fl", "LZWDecode", "LZW", "ASCIIHexDecode", "AHx", "ASCII85Decode", "A85":
		return l >= DecodeGeneralized
	case "RunLengthDecode", "RL":
		return l >= DecodeSpecialized
	default:
		return false
	}
}

// Params carries the DecodeParms relevant to the supported filters. Zero
// values mean "use the PDF default".
type Params struct {
	Predictor        int
	Colors           int
	BitsPerComponent int
	Columns          int
	EarlyChange      *bool // LZW only; nil means the default (on)
}

func (p Params) colors() int {
	if p.Colors <= 0 {
		return 1
	}
	return p.Colors
}

func (p Params) bpc() int {
	if p.BitsPerComponent <= 0 {
		return 8
	}
	return p.BitsPerComponent
}

func (p Params) columns() int {
	if p.Columns <= 0 {
		return 1
	}
	return p.Columns
}

// Decoder reverses one filter.
type Decoder interface {
	Name() string
	Decode(input []byte, params Params) ([]byte, error)
}

type Limits struct {
	MaxDecompressedSize int64
}

// Pipeline applies a declared filter chain in order.
type Pipeline struct {
	decoders map[string]Decoder
	limits   Limits
}

// NewPipeline builds a pipeline over the default decoder set.
func NewPipeline(limits Limits) *Pipeline {
	p := &Pipeline{decoders: make(map[string]Decoder), limits: limits}
	for _, d := range []Decoder{Flate{}, LZW{}, ASCIIHex{}, ASCII85{}, RunLength{}} {
		p.decoders[d.Name()] = d
	}
	// Abbreviated names permitted in inline image dictionaries.
	p.decoders["Fl"] = Flate{}
	p.decoders["LZW"] = LZW{}
	p.decoders["AHx"] = ASCIIHex{}
	p.decoders["A85"] = ASCII85{}
	p.decoders["RL"] = RunLength{}
	return p
}

// Decode reverses the chain at the given level. A filter outside the
// level's set, an unknown filter, or corrupt data all fail.
func (p *Pipeline) Decode(input []byte, names []string, params []Params, level DecodeLevel) ([]byte, error) {
	if level == DecodeNone {
		return input, nil
	}
	data := input
	for i, name := range names {
		if !level.Allows(name) {
			return nil, fmt.Errorf("filter %s not decodable at level %s", name, level)
		}
		dec, ok := p.decoders[name]
		if !ok {
			return nil, fmt.Errorf("unsupported filter %s", name)
		}
		var pr Params
		if i < len(params) {
			pr = params[i]
		}
		out, err := dec.Decode(data, pr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.New("decompressed size exceeds limit")
		}
		data = out
	}
	return data, nil
}

// Flate implements FlateDecode (zlib or raw deflate) plus predictors.
type Flate struct{}

func (Flate) Name() string { return "FlateDecode" }

func (Flate) Decode(in []byte, params Params) ([]byte, error) {
	body := in
	// Strip a zlib wrapper when present; some producers emit raw deflate.
	if len(in) >= 2 && in[0]&0x0f == 8 && (uint16(in[0])<<8|uint16(in[1]))%31 == 0 {
		body = in[2:]
	}
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, err
	}
	return applyPredictor(out.Bytes(), params)
}

// Encode produces a zlib-wrapped deflate stream, the form PDF viewers
// expect for FlateDecode.
func (Flate) Encode(in []byte) ([]byte, error) {
	var out bytes.Buffer
	out.WriteByte(0x78)
	out.WriteByte(0x9c)
	w, err := flate.NewWriter(&out, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	// Adler-32 trailer completes the zlib framing.
	var a, b uint32 = 1, 0
	for _, c := range in {
		a = (a + uint32(c)) % 65521
		b = (b + a) % 65521
	}
	out.Write([]byte{byte(b >> 8), byte(b), byte(a >> 8), byte(a)})
	return out.Bytes(), nil
}

// applyPredictor reverses PNG predictors 10-15 and TIFF predictor 2.
func applyPredictor(data []byte, params Params) ([]byte, error) {
	switch {
	case params.Predictor <= 1:
		return data, nil
	case params.Predictor == 2:
		return applyTIFFPredictor(data, params)
	case params.Predictor >= 10 && params.Predictor <= 15:
		return applyPNGPredictor(data, params)
	default:
		return nil, fmt.Errorf("unsupported predictor %d", params.Predictor)
	}
}

func applyTIFFPredictor(data []byte, params Params) ([]byte, error) {
	if params.bpc() != 8 {
		return nil, errors.New("TIFF predictor supported for 8 bits per component only")
	}
	colors := params.colors()
	rowLen := params.columns() * colors
	if rowLen == 0 || len(data)%rowLen != 0 {
		return nil, errors.New("predictor row size mismatch")
	}
	out := append([]byte(nil), data...)
	for row := 0; row < len(out); row += rowLen {
		for i := colors; i < rowLen; i++ {
			out[row+i] += out[row+i-colors]
		}
	}
	return out, nil
}

func applyPNGPredictor(data []byte, params Params) ([]byte, error) {
	bpp := (params.colors()*params.bpc() + 7) / 8
	if bpp < 1 {
		bpp = 1
	}
	rowLen := (params.columns()*params.colors()*params.bpc() + 7) / 8
	if rowLen <= 0 || len(data)%(rowLen+1) != 0 {
		return nil, errors.New("predictor row size mismatch")
	}
	rows := len(data) / (rowLen + 1)
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		tag := data[r*(rowLen+1)]
		copy(cur, data[r*(rowLen+1)+1:(r+1)*(rowLen+1)])
		switch tag {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				var left byte
				if i >= bpp {
					left = cur[i-bpp]
				}
				cur[i] += byte((int(left) + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("unknown PNG predictor tag %d", tag)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
