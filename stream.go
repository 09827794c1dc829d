package pdfobj

import (
	"bytes"

	"pdfobj/filters"
)

// Stream is a structural view over a stream handle.
type Stream struct {
	h Handle
}

// AsStream narrows the handle to a stream view.
func (h Handle) AsStream() (Stream, error) {
	if h.Type() != TypeStream {
		return Stream{}, typeMismatch("stream", h.Type())
	}
	return Stream{h: h}, nil
}

func (s Stream) Handle() Handle { return s.h }

// Dictionary returns the stream's metadata dictionary. It is the same
// graph node as the stream's own metadata, so mutating it mutates the
// stream.
func (s Stream) Dictionary() Dictionary {
	return Dictionary{h: Handle{doc: s.h.doc, n: s.h.n.sdict}}
}

// Data returns the stream payload decoded at the given level.
// DecodeNone returns the bytes as stored.
func (s Stream) Data(level filters.DecodeLevel) ([]byte, error) {
	raw := append([]byte(nil), s.h.n.data...)
	if level == filters.DecodeNone {
		return raw, nil
	}
	names, params, err := s.filterChain()
	if err != nil {
		return nil, err
	}
	out, err := filters.NewPipeline(filters.Limits{}).Decode(raw, names, params, level)
	if err != nil {
		return nil, decodeErr("object %d %d: %v", s.h.n.num, s.h.n.gen, err)
	}
	return out, nil
}

// ReplaceData installs a new, unfiltered payload and drops the filter
// entries that described the old one.
func (s Stream) ReplaceData(data []byte) {
	s.h.n.data = append([]byte(nil), data...)
	delete(s.h.n.sdict.dict, "/Filter")
	delete(s.h.n.sdict.dict, "/DecodeParms")
}

// filterChain reads /Filter and /DecodeParms into parallel slices.
func (s Stream) filterChain() ([]string, []filters.Params, error) {
	var names []string
	switch f := s.h.n.sdict.dict["/Filter"]; {
	case f == nil || f.typ == TypeNull:
	case f.typ == TypeName:
		names = append(names, f.name[1:])
	case f.typ == TypeArray:
		for _, c := range f.items {
			if c == nil || c.typ != TypeName {
				return nil, nil, decodeErr("malformed /Filter array")
			}
			names = append(names, c.name[1:])
		}
	default:
		return nil, nil, decodeErr("malformed /Filter entry")
	}

	params := make([]filters.Params, len(names))
	switch dp := s.h.n.sdict.dict["/DecodeParms"]; {
	case dp == nil || dp.typ == TypeNull:
	case dp.typ == TypeDictionary:
		if len(params) > 0 {
			params[0] = decodeParams(dp)
		}
	case dp.typ == TypeArray:
		for i, c := range dp.items {
			if i < len(params) && c != nil && c.typ == TypeDictionary {
				params[i] = decodeParams(c)
			}
		}
	}
	return names, params, nil
}

func decodeParams(n *node) filters.Params {
	var p filters.Params
	intAt := func(key string) int {
		if c, ok := n.dict[key]; ok && c != nil && c.typ == TypeInteger {
			return int(c.i)
		}
		return 0
	}
	p.Predictor = intAt("/Predictor")
	p.Colors = intAt("/Colors")
	p.BitsPerComponent = intAt("/BitsPerComponent")
	p.Columns = intAt("/Columns")
	if c, ok := n.dict["/EarlyChange"]; ok && c != nil && c.typ == TypeInteger {
		v := c.i != 0
		p.EarlyChange = &v
	}
	return p
}

// PageContentData concatenates a page's content streams, fully decoded,
// into one buffer. /Contents may be a single stream or an array.
func (h Handle) PageContentData() ([]byte, error) {
	if h.Type() != TypeDictionary {
		return nil, typeMismatch("dictionary", h.Type())
	}
	contents, ok := h.n.dict["/Contents"]
	if !ok || contents == nil {
		return nil, nil
	}
	var streams []*node
	switch contents.typ {
	case TypeStream:
		streams = append(streams, contents)
	case TypeArray:
		for _, c := range contents.items {
			if c == nil || c.typ != TypeStream {
				return nil, decodeErr("/Contents element is not a stream")
			}
			streams = append(streams, c)
		}
	case TypeNull:
		return nil, nil
	default:
		return nil, typeMismatch("stream", contents.typ)
	}
	var out bytes.Buffer
	for i, sn := range streams {
		view := Stream{h: Handle{doc: h.doc, n: sn}}
		data, err := view.Data(filters.DecodeAll)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out.WriteByte('\n')
		}
		out.Write(data)
	}
	return out.Bytes(), nil
}
