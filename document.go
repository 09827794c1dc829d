package pdfobj

import (
	"fmt"
	"strconv"

	"pdfobj/observability"
	"pdfobj/security"
)

// Ref is an indirect object identity.
type Ref struct {
	Num int
	Gen int
}

func (r Ref) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Document owns the object graph for one PDF session. All handles
// borrow from their Document; the graph lives as long as any handle
// keeps the Document reachable. Documents are not safe for concurrent
// use.
type Document struct {
	objects map[Ref]*node
	order   []Ref
	nextNum int

	version    string
	linearized bool
	handler    security.Handler
	trailer    *node
	log        observability.Logger
}

// New builds an empty document with the minimal structure every PDF
// needs: a catalog at 1 0 and an empty page tree at 2 0. The first
// user allocation therefore gets object number 3.
func New() *Document {
	d := &Document{
		objects: make(map[Ref]*node),
		nextNum: 1,
		version: "1.3",
		handler: security.NoopHandler(),
		log:     observability.NopLogger{},
	}
	catalog := &node{typ: TypeDictionary, dict: map[string]*node{
		"/Type": {typ: TypeName, name: "/Catalog"},
	}}
	d.allocate(catalog)
	pages := &node{typ: TypeDictionary, dict: map[string]*node{
		"/Type":  {typ: TypeName, name: "/Pages"},
		"/Kids":  {typ: TypeArray},
		"/Count": {typ: TypeInteger},
	}}
	d.allocate(pages)
	catalog.dict["/Pages"] = pages
	d.trailer = &node{typ: TypeDictionary, dict: map[string]*node{
		"/Root": catalog,
	}}
	return d
}

// allocate registers a node under the next free object number.
func (d *Document) allocate(n *node) Ref {
	ref := Ref{Num: d.nextNum}
	d.nextNum++
	n.num, n.gen = ref.Num, ref.Gen
	d.objects[ref] = n
	d.order = append(d.order, ref)
	return ref
}

// registerAt installs a node under an explicit identity, as the reader
// does when loading a file.
func (d *Document) registerAt(num, gen int, n *node) {
	n.num, n.gen = num, gen
	ref := Ref{Num: num, Gen: gen}
	if _, exists := d.objects[ref]; !exists {
		d.order = append(d.order, ref)
	}
	d.objects[ref] = n
	if num >= d.nextNum {
		d.nextNum = num + 1
	}
}

// GetObjectByID resolves an indirect reference. It never constructs a
// placeholder for a missing identity.
func (d *Document) GetObjectByID(num, gen int) (Handle, bool) {
	n, ok := d.objects[Ref{Num: num, Gen: gen}]
	if !ok {
		return Handle{}, false
	}
	return Handle{doc: d, n: n}, true
}

// ReplaceObject fills the slot at (num, gen) with the given value,
// preserving slot identity so every live handle to it observes the new
// value. A missing slot is created.
func (d *Document) ReplaceObject(num, gen int, h Handle) {
	value := deepCopy(h.n)
	if value == nil {
		value = &node{typ: TypeNull}
	}
	ref := Ref{Num: num, Gen: gen}
	if existing, ok := d.objects[ref]; ok {
		keepNum, keepGen := existing.num, existing.gen
		*existing = *value
		existing.num, existing.gen = keepNum, keepGen
		return
	}
	d.registerAt(num, gen, value)
}

// Objects returns every indirect identity in allocation order.
func (d *Document) Objects() []Ref {
	return append([]Ref(nil), d.order...)
}

func (d *Document) PDFVersion() string     { return d.version }
func (d *Document) SetPDFVersion(v string) { d.version = v }
func (d *Document) IsLinearized() bool     { return d.linearized }
func (d *Document) IsEncrypted() bool      { return d.handler.IsEncrypted() }

// GetTrailer returns the trailer dictionary.
func (d *Document) GetTrailer() Handle {
	if d.trailer == nil {
		return Handle{}
	}
	return Handle{doc: d, n: d.trailer}
}

// GetRoot returns the document catalog.
func (d *Document) GetRoot() Handle {
	if d.trailer == nil {
		return Handle{}
	}
	if root, ok := d.trailer.dict["/Root"]; ok && root != nil {
		return Handle{doc: d, n: root}
	}
	return Handle{}
}

// NewNull creates a direct null object.
func (d *Document) NewNull() Handle { return d.direct(&node{typ: TypeNull}) }

func (d *Document) NewBool(v bool) Handle {
	return d.direct(&node{typ: TypeBoolean, b: v})
}

func (d *Document) NewInteger(v int64) Handle {
	return d.direct(&node{typ: TypeInteger, i: v})
}

// NewReal fixes the decimal representation at construction time; the
// stored text is what every later read and unparse sees.
func (d *Document) NewReal(v float64, precision int) Handle {
	if precision < 0 {
		precision = 6
	}
	return d.direct(&node{typ: TypeReal, real: strconv.FormatFloat(v, 'f', precision, 64)})
}

func (d *Document) NewName(name string) Handle {
	return d.direct(&node{typ: TypeName, name: normalizeName(name)})
}

// NewString creates a string object from the bytes of s, stored as-is.
func (d *Document) NewString(s string) Handle {
	return d.direct(&node{typ: TypeString, raw: []byte(s)})
}

// NewBinaryString creates a string object from raw bytes.
func (d *Document) NewBinaryString(b []byte) Handle {
	return d.direct(&node{typ: TypeString, raw: append([]byte(nil), b...)})
}

// NewUTF8String creates a text string object. Non-ASCII text is stored
// as UTF-16BE with a byte order mark, so reading it back as a binary
// string yields the UTF-16 bytes, not the original UTF-8.
func (d *Document) NewUTF8String(s string) Handle {
	return d.direct(&node{typ: TypeString, raw: encodeText(s)})
}

func (d *Document) NewOperator(op string) Handle {
	return d.direct(&node{typ: TypeOperator, op: op})
}

func (d *Document) NewInlineImage(data []byte) Handle {
	return d.direct(&node{typ: TypeInlineImage, data: append([]byte(nil), data...)})
}

func (d *Document) NewUninitialized() Handle {
	return d.direct(&node{typ: TypeUninitialized})
}

// NewReserved allocates an indirect placeholder slot to be filled later
// with ReplaceObject, keeping forward references resolvable.
func (d *Document) NewReserved() Handle {
	n := &node{typ: TypeReserved}
	d.allocate(n)
	return Handle{doc: d, n: n}
}

// NewArray creates a direct array of the given items. Direct items are
// snapshotted, indirect items are shared.
func (d *Document) NewArray(items ...Handle) Handle {
	n := &node{typ: TypeArray}
	for _, it := range items {
		n.items = append(n.items, childNode(it))
	}
	return d.direct(n)
}

// NewDictionary creates an empty direct dictionary.
func (d *Document) NewDictionary() Handle {
	return d.direct(&node{typ: TypeDictionary, dict: make(map[string]*node)})
}

// NewDictionaryFrom creates a direct dictionary from key/value pairs.
func (d *Document) NewDictionaryFrom(pairs map[string]Handle) Handle {
	n := &node{typ: TypeDictionary, dict: make(map[string]*node, len(pairs))}
	for k, v := range pairs {
		n.dict[normalizeName(k)] = childNode(v)
	}
	return d.direct(n)
}

// NewStream creates a stream with an empty dictionary. Streams are
// always indirect.
func (d *Document) NewStream(data []byte) Handle {
	return d.NewStreamWithDictionary(nil, data)
}

// NewStreamWithDictionary creates an indirect stream with the given
// dictionary entries and payload.
func (d *Document) NewStreamWithDictionary(pairs map[string]Handle, data []byte) Handle {
	sdict := &node{typ: TypeDictionary, dict: make(map[string]*node, len(pairs))}
	for k, v := range pairs {
		sdict.dict[normalizeName(k)] = childNode(v)
	}
	n := &node{typ: TypeStream, sdict: sdict, data: append([]byte(nil), data...)}
	d.allocate(n)
	return Handle{doc: d, n: n}
}

func (d *Document) direct(n *node) Handle { return Handle{doc: d, n: n} }

// childNode snapshots direct values and shares indirect nodes, the
// containment rule for every container mutation.
func childNode(v Handle) *node {
	if v.n == nil {
		return &node{typ: TypeNull}
	}
	return copyChild(v.n)
}

// normalizeName stores names in slashed form.
func normalizeName(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name
	}
	return "/" + name
}
