// Package writer serializes a finished Document to bytes or a file. It
// walks the object graph strictly through handles and supports stream
// recompression, object streams, cross-reference streams and a
// linearized layout.
package writer

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"os"
	"strings"
	"time"

	"pdfobj"
	"pdfobj/filters"
	"pdfobj/observability"
)

// StreamDataMode controls what happens to stream payloads on output.
type StreamDataMode int

const (
	// StreamDataPreserve keeps payloads and their filters as stored.
	StreamDataPreserve StreamDataMode = iota
	// StreamDataUncompress decodes payloads and drops their filters.
	StreamDataUncompress
	// StreamDataCompress decodes payloads and re-encodes them with
	// FlateDecode.
	StreamDataCompress
)

// ObjectStreamMode controls packing of non-stream objects.
type ObjectStreamMode int

const (
	// ObjectStreamsPreserve keeps objects packed that were loaded from
	// an object stream.
	ObjectStreamsPreserve ObjectStreamMode = iota
	// ObjectStreamsDisable writes every object individually.
	ObjectStreamsDisable
	// ObjectStreamsGenerate packs every eligible object.
	ObjectStreamsGenerate
)

type Options struct {
	// Version overrides the document's header version.
	Version string
	// Linearize lays the file out for page-at-a-time reading.
	Linearize bool
	// StaticID emits a fixed /ID for reproducible output.
	StaticID bool
	// CompressStreams flate-compresses streams that carry no filter.
	CompressStreams bool
	StreamDataMode   StreamDataMode
	ObjectStreamMode ObjectStreamMode
	// ContentNormalization rewrites page content EOLs to \n when the
	// payload is decoded anyway.
	ContentNormalization bool
	// PreserveUnreferenced keeps objects unreachable from the trailer.
	PreserveUnreferenced bool
}

type Writer struct {
	doc  *pdfobj.Document
	opts Options
	log  observability.Logger
}

func New(doc *pdfobj.Document) *Writer {
	return &Writer{doc: doc, log: observability.NopLogger{}}
}

func (w *Writer) WithOptions(opts Options) *Writer {
	w.opts = opts
	return w
}

func (w *Writer) WithVersion(v string) *Writer {
	w.opts.Version = v
	return w
}

func (w *Writer) WithLinearize(v bool) *Writer {
	w.opts.Linearize = v
	return w
}

func (w *Writer) WithLogger(log observability.Logger) *Writer {
	if log != nil {
		w.log = log
	}
	return w
}

func (w *Writer) WriteFile(path string) error {
	data, err := w.WriteToMemory()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteToMemory serializes the document into a byte buffer.
func (w *Writer) WriteToMemory() ([]byte, error) {
	start := time.Now()
	st, err := w.plan()
	if err != nil {
		return nil, err
	}
	out, err := st.assemble()
	if err != nil {
		return nil, err
	}
	w.log.Info("document written",
		observability.Int(observability.MetricWrittenBytes, len(out)),
		observability.Int64(observability.MetricWriteTime, time.Since(start).Microseconds()))
	return out, nil
}

// objPlan is one object ready for placement: its serialized body or its
// membership in the generated object stream.
type objPlan struct {
	ref    pdfobj.Ref
	body   []byte
	packed bool
}

type writeState struct {
	w        *Writer
	version  string
	plans    []*objPlan
	byNum    map[int]*objPlan
	maxNum   int
	linNum   int // linearization dict object number, 0 when disabled
	pageObj  int
	numPages int
	id       [2]string
}

func (w *Writer) plan() (*writeState, error) {
	st := &writeState{w: w, byNum: make(map[int]*objPlan)}
	st.version = w.opts.Version
	if st.version == "" {
		st.version = w.doc.PDFVersion()
	}

	refs := w.collectRefs()
	contentRefs := w.contentStreamRefs()
	for _, ref := range refs {
		h, ok := w.doc.GetObjectByID(ref.Num, ref.Gen)
		if !ok {
			continue
		}
		if !h.IsInitialized() {
			continue // reserved slots that were never filled
		}
		var body []byte
		var err error
		if h.IsStream() {
			body, err = w.serializeStream(h, contentRefs[ref])
		} else {
			body = []byte(h.Serialize())
		}
		if err != nil {
			return nil, err
		}
		p := &objPlan{ref: ref, body: body}
		p.packed = w.shouldPack(h)
		st.plans = append(st.plans, p)
		st.byNum[ref.Num] = p
		if ref.Num > st.maxNum {
			st.maxNum = ref.Num
		}
	}

	pages := w.doc.GetPages()
	st.numPages = len(pages)
	if len(pages) > 0 {
		st.pageObj = pages[0].ID()
	}
	if w.opts.Linearize {
		st.linNum = st.maxNum + 1
		st.maxNum = st.linNum
		st.reorderForLinearization(pages)
	}
	st.computeID()
	return st, nil
}

// collectRefs returns the object identities to write, dropping
// unreachable ones unless configured otherwise.
func (w *Writer) collectRefs() []pdfobj.Ref {
	all := w.doc.Objects()
	if w.opts.PreserveUnreferenced {
		return all
	}
	reachable := make(map[pdfobj.Ref]bool)
	visited := make(map[pdfobj.Handle]bool)
	var walk func(h pdfobj.Handle)
	walk = func(h pdfobj.Handle) {
		if visited[h] {
			return
		}
		visited[h] = true
		if h.IsIndirect() {
			reachable[pdfobj.Ref{Num: h.ID(), Gen: h.Generation()}] = true
		}
		switch {
		case h.IsArray():
			arr, _ := h.AsArray()
			for child := range arr.Iter() {
				walk(child)
			}
		case h.IsDictionary():
			dict, _ := h.AsDictionary()
			for _, k := range dict.Keys() {
				if child, ok := dict.Get(k); ok {
					walk(child)
				}
			}
		case h.IsStream():
			s, _ := h.AsStream()
			walk(s.Dictionary().Handle())
		}
	}
	walk(w.doc.GetTrailer())
	out := make([]pdfobj.Ref, 0, len(reachable))
	for _, ref := range all {
		if reachable[ref] {
			out = append(out, ref)
		}
	}
	return out
}

// contentStreamRefs marks streams referenced from page /Contents.
func (w *Writer) contentStreamRefs() map[pdfobj.Ref]bool {
	out := make(map[pdfobj.Ref]bool)
	for _, page := range w.doc.GetPages() {
		dict, err := page.AsDictionary()
		if err != nil {
			continue
		}
		contents, ok := dict.Get("/Contents")
		if !ok {
			continue
		}
		mark := func(h pdfobj.Handle) {
			if h.IsStream() && h.IsIndirect() {
				out[pdfobj.Ref{Num: h.ID(), Gen: h.Generation()}] = true
			}
		}
		if contents.IsArray() {
			arr, _ := contents.AsArray()
			for child := range arr.Iter() {
				mark(child)
			}
		} else {
			mark(contents)
		}
	}
	return out
}

func (w *Writer) shouldPack(h pdfobj.Handle) bool {
	if h.IsStream() || h.Generation() != 0 {
		return false
	}
	switch w.opts.ObjectStreamMode {
	case ObjectStreamsGenerate:
		return true
	case ObjectStreamsPreserve:
		return h.InObjectStream()
	default:
		return false
	}
}

// serializeStream renders "<<dict>>\nstream\n…\nendstream" applying the
// configured stream-data mode.
func (w *Writer) serializeStream(h pdfobj.Handle, isContent bool) ([]byte, error) {
	view, err := h.AsStream()
	if err != nil {
		return nil, err
	}
	dict := view.Dictionary()

	payload, filterLine, ok := w.streamPayload(view, isContent)
	if !ok {
		// Not decodable at this level: fall back to the stored form.
		payload, err = view.Data(filters.DecodeNone)
		if err != nil {
			return nil, err
		}
		filterLine = ""
	}

	var sb strings.Builder
	sb.WriteString("<<")
	for _, k := range dict.Keys() {
		if k == "/Length" {
			continue
		}
		if ok && (k == "/Filter" || k == "/DecodeParms") {
			continue
		}
		child, found := dict.Get(k)
		if !found {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(escapeName(k))
		sb.WriteString(" ")
		sb.WriteString(child.Binary())
	}
	fmt.Fprintf(&sb, " /Length %d", len(payload))
	sb.WriteString(filterLine)
	sb.WriteString(" >>\nstream\n")
	out := []byte(sb.String())
	out = append(out, payload...)
	out = append(out, []byte("\nendstream")...)
	return out, nil
}

// streamPayload applies the stream-data mode. ok reports whether the
// payload was rewritten (and filters must be replaced).
func (w *Writer) streamPayload(view pdfobj.Stream, isContent bool) (payload []byte, filterLine string, ok bool) {
	mode := w.opts.StreamDataMode
	if mode == StreamDataPreserve && w.opts.CompressStreams && !view.Dictionary().Has("/Filter") {
		mode = StreamDataCompress
	}
	if mode == StreamDataPreserve {
		raw, err := view.Data(filters.DecodeNone)
		if err != nil {
			return nil, "", false
		}
		return raw, "", false
	}
	decoded, err := view.Data(filters.DecodeAll)
	if err != nil {
		return nil, "", false
	}
	if isContent && w.opts.ContentNormalization {
		decoded = normalizeEOL(decoded)
	}
	if mode == StreamDataUncompress {
		return decoded, "", true
	}
	enc, err := filters.Flate{}.Encode(decoded)
	if err != nil {
		return nil, "", false
	}
	return enc, " /Filter /FlateDecode", true
}

func normalizeEOL(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(data, []byte("\r"), []byte("\n"))
}

// reorderForLinearization moves the first page and the objects it uses
// ahead of everything else; the parameter dictionary itself is placed
// by assemble.
func (st *writeState) reorderForLinearization(pages []pdfobj.Handle) {
	if len(pages) == 0 {
		return
	}
	first := make(map[int]bool)
	visited := make(map[pdfobj.Handle]bool)
	var walk func(h pdfobj.Handle)
	walk = func(h pdfobj.Handle) {
		if visited[h] {
			return
		}
		visited[h] = true
		if h.IsIndirect() {
			first[h.ID()] = true
		}
		switch {
		case h.IsArray():
			arr, _ := h.AsArray()
			for child := range arr.Iter() {
				walk(child)
			}
		case h.IsStream():
			s, _ := h.AsStream()
			walk(s.Dictionary().Handle())
		case h.IsDictionary():
			dict, _ := h.AsDictionary()
			for _, k := range dict.Keys() {
				if k == "/Parent" {
					continue
				}
				if child, ok := dict.Get(k); ok {
					walk(child)
				}
			}
		}
	}
	walk(pages[0])

	head := make([]*objPlan, 0, len(st.plans))
	tail := make([]*objPlan, 0, len(st.plans))
	for _, p := range st.plans {
		if first[p.ref.Num] {
			head = append(head, p)
		} else {
			tail = append(tail, p)
		}
	}
	st.plans = append(head, tail...)
}

func (st *writeState) computeID() {
	if st.w.opts.StaticID {
		fixed := md5.Sum([]byte("pdfobj.fixed.id"))
		st.id[0] = hexBytes(fixed[:])
		st.id[1] = st.id[0]
		return
	}
	h := md5.New()
	for _, p := range st.plans {
		h.Write(p.body)
	}
	fmt.Fprintf(h, "%d", time.Now().UnixNano())
	sum := h.Sum(nil)
	st.id[0] = hexBytes(sum)
	st.id[1] = st.id[0]
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteString("<")
	for _, c := range b {
		fmt.Fprintf(&sb, "%02x", c)
	}
	sb.WriteString(">")
	return sb.String()
}

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
