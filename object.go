// Package pdfobj models a PDF document as a graph of typed objects with
// safe, typed access for reading, constructing, mutating and serializing
// that graph. Handles are cheap value types referencing graph nodes owned
// by a Document; indirect objects share their node across all handles,
// direct objects copy by value.
package pdfobj

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ObjectType is the closed set of PDF object kinds.
type ObjectType int

const (
	TypeUninitialized ObjectType = iota
	TypeReserved
	TypeNull
	TypeBoolean
	TypeInteger
	TypeReal
	TypeString
	TypeName
	TypeArray
	TypeDictionary
	TypeStream
	TypeOperator
	TypeInlineImage
)

var typeNames = [...]string{
	"uninitialized", "reserved", "null", "boolean", "integer", "real",
	"string", "name", "array", "dictionary", "stream", "operator",
	"inline-image",
}

func (t ObjectType) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		panic(fmt.Sprintf("object type tag out of range: %d", int(t)))
	}
	return typeNames[t]
}

// node is one slot in a Document's object graph. num > 0 marks the node
// indirect; direct nodes always have num == 0.
type node struct {
	typ        ObjectType
	num        int
	gen        int
	b          bool
	i          int64
	real       string // formatted decimal text, fixed at construction
	raw        []byte // string bytes as stored
	name       string // with leading slash
	op         string
	items      []*node
	dict       map[string]*node
	sdict      *node  // stream metadata dictionary
	data       []byte // stream payload as stored
	fromObjStm bool
}

func deepCopy(n *node) *node {
	if n == nil {
		return nil
	}
	out := &node{
		typ: n.typ, b: n.b, i: n.i, real: n.real,
		name: n.name, op: n.op,
	}
	out.raw = append([]byte(nil), n.raw...)
	out.data = append([]byte(nil), n.data...)
	if n.items != nil {
		out.items = make([]*node, len(n.items))
		for i, c := range n.items {
			out.items[i] = copyChild(c)
		}
	}
	if n.dict != nil {
		out.dict = make(map[string]*node, len(n.dict))
		for k, c := range n.dict {
			out.dict[k] = copyChild(c)
		}
	}
	if n.sdict != nil {
		out.sdict = copyChild(n.sdict)
	}
	return out
}

// copyChild keeps references to indirect nodes and snapshots direct ones.
func copyChild(c *node) *node {
	if c == nil || c.num > 0 {
		return c
	}
	return deepCopy(c)
}

// Handle is an opaque reference to one node in a Document's object
// graph. Handles are comparable: == holds exactly when two handles
// reference the same graph slot, never by decoded value.
type Handle struct {
	doc *Document
	n   *node
}

// Type reports the object kind. It succeeds on every handle, including
// uninitialized ones.
func (h Handle) Type() ObjectType {
	if h.n == nil {
		return TypeUninitialized
	}
	return h.n.typ
}

func (h Handle) IsInitialized() bool {
	t := h.Type()
	return t != TypeUninitialized && t != TypeReserved
}

func (h Handle) IsNull() bool        { return h.Type() == TypeNull }
func (h Handle) IsBool() bool        { return h.Type() == TypeBoolean }
func (h Handle) IsInteger() bool     { return h.Type() == TypeInteger }
func (h Handle) IsReal() bool        { return h.Type() == TypeReal }
func (h Handle) IsString() bool      { return h.Type() == TypeString }
func (h Handle) IsName() bool        { return h.Type() == TypeName }
func (h Handle) IsArray() bool       { return h.Type() == TypeArray }
func (h Handle) IsDictionary() bool  { return h.Type() == TypeDictionary }
func (h Handle) IsStream() bool      { return h.Type() == TypeStream }
func (h Handle) IsOperator() bool    { return h.Type() == TypeOperator }
func (h Handle) IsInlineImage() bool { return h.Type() == TypeInlineImage }

// IsScalar is true for booleans, numbers, strings and names.
func (h Handle) IsScalar() bool {
	switch h.Type() {
	case TypeBoolean, TypeInteger, TypeReal, TypeString, TypeName:
		return true
	}
	return false
}

func (h Handle) IsIndirect() bool { return h.n != nil && h.n.num > 0 }

// ID returns the object number, 0 for direct objects.
func (h Handle) ID() int {
	if h.n == nil {
		return 0
	}
	return h.n.num
}

// Generation returns the generation number, 0 for direct objects.
func (h Handle) Generation() int {
	if h.n == nil || h.n.num == 0 {
		return 0
	}
	return h.n.gen
}

// MakeIndirect moves the value into a fresh indirect slot and returns a
// handle bound to it. On an already indirect handle it is a no-op. The
// original direct handle stays usable but is not linked to the new slot.
func (h Handle) MakeIndirect() Handle {
	if h.n == nil || h.doc == nil || h.n.num > 0 {
		return h
	}
	fresh := deepCopy(h.n)
	h.doc.allocate(fresh)
	return Handle{doc: h.doc, n: fresh}
}

// Copy clones the handle. For indirect objects both handles share the
// graph node, so mutation through either is visible to the other. For
// direct objects the value is snapshotted and mutations are independent.
func (h Handle) Copy() Handle {
	if h.n == nil || h.n.num > 0 {
		return h
	}
	return Handle{doc: h.doc, n: deepCopy(h.n)}
}

// Document returns the owning document; nil for the zero handle.
func (h Handle) Document() *Document { return h.doc }

// InObjectStream reports whether the object was loaded from an object
// stream, which the writer's preserve mode uses to keep it packed.
func (h Handle) InObjectStream() bool { return h.n != nil && h.n.fromObjStm }

// AsBool narrows to a boolean value.
func (h Handle) AsBool() (bool, error) {
	if h.Type() != TypeBoolean {
		return false, typeMismatch("boolean", h.Type())
	}
	return h.n.b, nil
}

// AsInt64 narrows to an integer value.
func (h Handle) AsInt64() (int64, error) {
	if h.Type() != TypeInteger {
		return 0, typeMismatch("integer", h.Type())
	}
	return h.n.i, nil
}

// AsInt32 narrows to an integer value truncated to 32 bits.
func (h Handle) AsInt32() (int32, error) {
	v, err := h.AsInt64()
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// AsReal returns the formatted decimal text of a real. Integers widen
// to their decimal form; no other type converts.
func (h Handle) AsReal() (string, error) {
	switch h.Type() {
	case TypeReal:
		return h.n.real, nil
	case TypeInteger:
		return strconv.FormatInt(h.n.i, 10), nil
	}
	return "", typeMismatch("real", h.Type())
}

// AsName returns the name in its slashed form, e.g. "/Type".
func (h Handle) AsName() (string, error) {
	if h.Type() != TypeName {
		return "", typeMismatch("name", h.Type())
	}
	return h.n.name, nil
}

// AsString returns the logical text of a string object. Stored
// UTF-16BE text is decoded back to UTF-8.
func (h Handle) AsString() (string, error) {
	if h.Type() != TypeString {
		return "", typeMismatch("string", h.Type())
	}
	return decodeText(h.n.raw), nil
}

// AsBinaryString returns the raw stored bytes of a string object.
func (h Handle) AsBinaryString() ([]byte, error) {
	if h.Type() != TypeString {
		return nil, typeMismatch("string", h.Type())
	}
	return append([]byte(nil), h.n.raw...), nil
}

// AsOperator returns the operator text of a content-stream operator.
func (h Handle) AsOperator() (string, error) {
	if h.Type() != TypeOperator {
		return "", typeMismatch("operator", h.Type())
	}
	return h.n.op, nil
}

// String renders the PDF display syntax of the value. Indirect objects
// render as their reference, e.g. "3 0 R".
func (h Handle) String() string {
	if h.n == nil {
		return ""
	}
	if h.n.num > 0 {
		return fmt.Sprintf("%d %d R", h.n.num, h.n.gen)
	}
	return unparse(h.n, false)
}

// Binary renders the low-level unparsed form: identical to String
// except that strings always take their hex form.
func (h Handle) Binary() string {
	if h.n == nil {
		return ""
	}
	if h.n.num > 0 {
		return fmt.Sprintf("%d %d R", h.n.num, h.n.gen)
	}
	return unparse(h.n, true)
}

// Serialize renders the object's own content regardless of indirection,
// with strings in binary form. Nested indirect children still render as
// references. This is the form the writer emits between obj and endobj.
func (h Handle) Serialize() string {
	if h.n == nil {
		return "null"
	}
	return unparse(h.n, true)
}

func unparse(n *node, binary bool) string {
	switch n.typ {
	case TypeUninitialized, TypeReserved:
		return ""
	case TypeNull:
		return "null"
	case TypeBoolean:
		if n.b {
			return "true"
		}
		return "false"
	case TypeInteger:
		return strconv.FormatInt(n.i, 10)
	case TypeReal:
		return n.real
	case TypeString:
		if binary {
			return hexString(n.raw)
		}
		return literalString(n.raw)
	case TypeName:
		return escapeName(n.name)
	case TypeArray:
		var sb strings.Builder
		sb.WriteString("[")
		for _, c := range n.items {
			sb.WriteString(" ")
			sb.WriteString(unparseChild(c, binary))
		}
		sb.WriteString(" ]")
		return sb.String()
	case TypeDictionary:
		return unparseDict(n.dict, binary)
	case TypeStream:
		return unparseDict(n.sdict.dict, binary)
	case TypeOperator:
		return n.op
	case TypeInlineImage:
		return string(n.data)
	}
	panic(fmt.Sprintf("object type tag out of range: %d", int(n.typ)))
}

func unparseChild(c *node, binary bool) string {
	if c == nil {
		return "null"
	}
	if c.num > 0 {
		return fmt.Sprintf("%d %d R", c.num, c.gen)
	}
	return unparse(c, binary)
}

func unparseDict(dict map[string]*node, binary bool) string {
	var sb strings.Builder
	sb.WriteString("<<")
	for _, k := range sortedKeys(dict) {
		sb.WriteString(" ")
		sb.WriteString(escapeName(k))
		sb.WriteString(" ")
		sb.WriteString(unparseChild(dict[k], binary))
	}
	sb.WriteString(" >>")
	return sb.String()
}

func hexString(raw []byte) string {
	var sb strings.Builder
	sb.WriteString("<")
	for _, b := range raw {
		fmt.Fprintf(&sb, "%02x", b)
	}
	sb.WriteString(">")
	return sb.String()
}

func literalString(raw []byte) string {
	var sb strings.Builder
	sb.WriteString("(")
	for _, b := range raw {
		switch b {
		case '\\', '(', ')':
			sb.WriteByte('\\')
			sb.WriteByte(b)
		case '\n':
			sb.WriteString("\\n")
		case '\r':
			sb.WriteString("\\r")
		case '\t':
			sb.WriteString("\\t")
		default:
			if b < 0x20 || b >= 0x7f {
				fmt.Fprintf(&sb, "\\%03o", b)
			} else {
				sb.WriteByte(b)
			}
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// escapeName writes a slashed name with # escapes for delimiter and
// non-printable bytes.
func escapeName(name string) string {
	body := strings.TrimPrefix(name, "/")
	var sb strings.Builder
	sb.WriteString("/")
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c <= 0x20 || c >= 0x7f || strings.IndexByte("()<>[]{}/%#", c) >= 0 {
			fmt.Fprintf(&sb, "#%02X", c)
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

var (
	utf16Enc = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	utf16Dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
)

// encodeText stores plain ASCII as-is and everything else as
// UTF-16BE with a byte order mark.
func encodeText(s string) []byte {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return []byte(s)
	}
	out, _, err := transform.Bytes(utf16Enc.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// decodeText reverses encodeText; bytes without a BOM pass through.
func decodeText(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xfe && raw[1] == 0xff {
		out, _, err := transform.Bytes(utf16Dec.NewDecoder(), raw)
		if err == nil {
			return string(out)
		}
	}
	return string(raw)
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
