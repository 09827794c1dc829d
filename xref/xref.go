// Package xref locates and merges cross-reference information: classic
// tables, /Prev chains, xref streams, and hybrid /XRefStm files. It yields
// a table of object locations plus the offsets of every trailer, newest
// first; interpreting trailer contents is the caller's job.
package xref

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"pdfobj/filters"
	"pdfobj/scanner"
)

// Table maps object numbers to their storage location.
type Table interface {
	// Lookup returns the byte offset and generation of a regular entry.
	Lookup(objNum int) (offset int64, gen int, found bool)
	// ObjStream reports that objNum lives inside an object stream,
	// returning the container's object number and the index within it.
	ObjStream(objNum int) (streamNum int, idx int, found bool)
	Objects() []int
}

type ResolverConfig struct {
	// MaxSections bounds the /Prev chain to defeat loops. Zero means 64.
	MaxSections int
}

// Result is the outcome of xref resolution.
type Result struct {
	Table Table
	// TrailerOffsets holds, newest first, the offset of each trailer
	// dictionary ("<<" for classic sections) or xref stream object header
	// ("N G obj" for stream sections).
	TrailerOffsets []int64
}

type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxSections <= 0 {
		cfg.MaxSections = 64
	}
	return &Resolver{cfg: cfg}
}

type entry struct {
	offset    int64
	gen       int
	streamNum int
	idx       int
	inStream  bool
}

type table struct {
	entries map[int]entry
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.inStream {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || !e.inStream {
		return 0, 0, false
	}
	return e.streamNum, e.idx, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// resolveState accumulates sections newest-first; the first record for an
// object number wins, and free entries act as tombstones against older
// sections.
type resolveState struct {
	entries  map[int]entry
	seen     map[int]bool
	trailers []int64
	visited  map[int64]bool
}

func (st *resolveState) record(num int, e entry) {
	if st.seen[num] {
		return
	}
	st.seen[num] = true
	st.entries[num] = e
}

func (st *resolveState) tombstone(num int) {
	if st.seen[num] {
		return
	}
	st.seen[num] = true
}

// Resolve reads the whole xref chain starting at the final startxref.
func (r *Resolver) Resolve(src io.ReaderAt) (*Result, error) {
	data := readAll(src)
	offset, err := findStartXref(data)
	if err != nil {
		return nil, err
	}
	st := &resolveState{
		entries: make(map[int]entry),
		seen:    make(map[int]bool),
		visited: make(map[int64]bool),
	}
	for section := 0; offset > 0; section++ {
		if section >= r.cfg.MaxSections {
			return nil, errors.New("xref chain too long")
		}
		if st.visited[offset] {
			return nil, errors.New("xref chain loops")
		}
		st.visited[offset] = true
		if offset >= int64(len(data)) {
			return nil, fmt.Errorf("xref offset out of range: %d", offset)
		}
		next, err := r.readSection(data, offset, st)
		if err != nil {
			return nil, err
		}
		offset = next
	}
	return &Result{Table: &table{entries: st.entries}, TrailerOffsets: st.trailers}, nil
}

func findStartXref(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	lines := bufio.NewScanner(bytes.NewReader(data[idx+len("startxref"):]))
	for lines.Scan() {
		text := strings.TrimSpace(lines.Text())
		if text == "" {
			continue
		}
		val, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse startxref: %w", err)
		}
		return val, nil
	}
	return 0, errors.New("startxref value missing")
}

// readSection parses one xref section (classic or stream) and returns the
// /Prev offset, or 0 when the chain ends.
func (r *Resolver) readSection(data []byte, offset int64, st *resolveState) (int64, error) {
	rest := data[offset:]
	if bytes.HasPrefix(bytes.TrimLeft(rest, " \r\n\t"), []byte("xref")) {
		return r.readClassicSection(data, offset, st)
	}
	return r.readStreamSection(data, offset, st)
}

func (r *Resolver) readClassicSection(data []byte, offset int64, st *resolveState) (int64, error) {
	sc := bufio.NewScanner(bytes.NewReader(data[offset:]))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "xref" {
		return 0, errors.New("xref keyword not found at offset")
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "trailer") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return 0, fmt.Errorf("invalid xref subsection header: %q", line)
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("parse xref start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("parse xref count: %w", err)
		}
		for i := 0; i < count; i++ {
			if !sc.Scan() {
				return 0, errors.New("unexpected end of xref section")
			}
			fields := strings.Fields(strings.TrimSpace(sc.Text()))
			if len(fields) < 3 {
				return 0, fmt.Errorf("invalid xref entry: %q", sc.Text())
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse xref offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0, fmt.Errorf("parse xref gen: %w", err)
			}
			num := startObj + i
			if fields[2] == "f" {
				st.tombstone(num)
				continue
			}
			st.record(num, entry{offset: off, gen: gen})
		}
	}

	// The trailer dictionary follows the "trailer" keyword.
	trailerIdx := bytes.Index(data[offset:], []byte("trailer"))
	if trailerIdx < 0 {
		return 0, errors.New("trailer keyword missing")
	}
	dictStart := offset + int64(trailerIdx) + int64(len("trailer"))
	dictStart += int64(len(data[dictStart:]) - len(bytes.TrimLeft(data[dictStart:], " \r\n\t")))
	st.trailers = append(st.trailers, dictStart)

	fieldsMap, err := scanIntFields(data, dictStart)
	if err != nil {
		return 0, fmt.Errorf("parse trailer: %w", err)
	}
	// Hybrid files carry a parallel xref stream with the compressed entries.
	if xs, ok := fieldsMap["XRefStm"]; ok {
		if _, err := r.readStreamSection(data, xs, st); err != nil {
			return 0, fmt.Errorf("hybrid xref stream: %w", err)
		}
	}
	if prev, ok := fieldsMap["Prev"]; ok {
		return prev, nil
	}
	return 0, nil
}

// scanIntFields tokenizes a dictionary and collects its top-level integer
// values. Nested containers are skipped.
func scanIntFields(data []byte, offset int64) (map[string]int64, error) {
	s := scanner.NewFromBytes(data, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if tok.Type != scanner.TokenDictOpen {
		return nil, errors.New("expected dictionary")
	}
	out := make(map[string]int64)
	depth := 1
	var key string
	for depth > 0 {
		tok, err = s.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Type {
		case scanner.TokenDictOpen, scanner.TokenArrayOpen:
			depth++
			key = ""
		case scanner.TokenDictClose, scanner.TokenArrayClose:
			depth--
		case scanner.TokenName:
			if depth == 1 && key == "" {
				key = tok.Str
			} else {
				key = ""
			}
		case scanner.TokenNumber:
			if depth == 1 && key != "" && tok.IsInt {
				out[key] = tok.Int
			}
			key = ""
		default:
			key = ""
		}
	}
	return out, nil
}

func (r *Resolver) readStreamSection(data []byte, offset int64, st *resolveState) (int64, error) {
	dict, payload, err := readStreamObject(data, offset)
	if err != nil {
		return 0, err
	}
	w, ok := dict.intArray("W")
	if !ok || len(w) < 3 {
		return 0, errors.New("xref stream missing /W")
	}
	size, ok := dict.intVal("Size")
	if !ok {
		return 0, errors.New("xref stream missing /Size")
	}
	decoded, err := decodeXrefPayload(dict, payload)
	if err != nil {
		return 0, err
	}
	index, ok := dict.intArray("Index")
	if !ok {
		index = []int64{0, size}
	}
	width := w[0] + w[1] + w[2]
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+int(width) > len(decoded) {
				return 0, errors.New("xref stream truncated")
			}
			f1 := readField(decoded[pos:], int(w[0]), 1)
			f2 := readField(decoded[pos+int(w[0]):], int(w[1]), 0)
			f3 := readField(decoded[pos+int(w[0])+int(w[1]):], int(w[2]), 0)
			pos += int(width)
			num := start + j
			switch f1 {
			case 0:
				st.tombstone(num)
			case 1:
				st.record(num, entry{offset: f2, gen: int(f3)})
			case 2:
				st.record(num, entry{streamNum: int(f2), idx: int(f3), inStream: true})
			}
		}
	}
	st.trailers = append(st.trailers, offset)
	if prev, ok := dict.intVal("Prev"); ok {
		return prev, nil
	}
	return 0, nil
}

// readField interprets a big-endian field of the given width; zero-width
// fields take the type-specific default.
func readField(b []byte, width int, def int64) int64 {
	if width == 0 {
		return def
	}
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

func decodeXrefPayload(dict miniDict, payload []byte) ([]byte, error) {
	names, _ := dict.nameVal("Filter")
	if names == "" {
		return payload, nil
	}
	if names != "FlateDecode" {
		return nil, fmt.Errorf("unsupported xref stream filter %q", names)
	}
	params := filters.Params{}
	if dp, ok := dict.sub("DecodeParms"); ok {
		if v, ok := dp.intVal("Predictor"); ok {
			params.Predictor = int(v)
		}
		if v, ok := dp.intVal("Columns"); ok {
			params.Columns = int(v)
		}
		if v, ok := dp.intVal("Colors"); ok {
			params.Colors = int(v)
		}
		if v, ok := dp.intVal("BitsPerComponent"); ok {
			params.BitsPerComponent = int(v)
		}
	}
	return filters.Flate{}.Decode(payload, params)
}

// miniDict is the minimal dictionary representation xref needs for its own
// bookkeeping; real object parsing happens in the core package.
type miniDict map[string]interface{}

func (d miniDict) intVal(key string) (int64, bool) {
	v, ok := d[key].(int64)
	return v, ok
}

func (d miniDict) nameVal(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

func (d miniDict) intArray(key string) ([]int64, bool) {
	v, ok := d[key].([]int64)
	return v, ok
}

func (d miniDict) sub(key string) (miniDict, bool) {
	v, ok := d[key].(miniDict)
	return v, ok
}

// readStreamObject parses "N G obj << ... >> stream ... endstream" just
// far enough to return the dictionary fields and stream payload.
func readStreamObject(data []byte, offset int64) (miniDict, []byte, error) {
	s := scanner.NewFromBytes(data, scanner.Config{})
	if err := s.SeekTo(offset); err != nil {
		return nil, nil, err
	}
	// N G obj
	for i := 0; i < 2; i++ {
		tok, err := s.Next()
		if err != nil {
			return nil, nil, err
		}
		if tok.Type != scanner.TokenNumber {
			return nil, nil, errors.New("xref stream: malformed object header")
		}
	}
	tok, err := s.Next()
	if err != nil {
		return nil, nil, err
	}
	if tok.Type != scanner.TokenKeyword || tok.Str != "obj" {
		return nil, nil, errors.New("xref stream: obj keyword missing")
	}
	tok, err = s.Next()
	if err != nil {
		return nil, nil, err
	}
	if tok.Type != scanner.TokenDictOpen {
		return nil, nil, errors.New("xref stream: dictionary missing")
	}
	dict, err := parseMiniDict(s)
	if err != nil {
		return nil, nil, err
	}
	if length, ok := dict.intVal("Length"); ok {
		s.SetNextStreamLength(length)
	}
	tok, err = s.Next()
	if err != nil {
		return nil, nil, err
	}
	if tok.Type != scanner.TokenStream {
		return nil, nil, errors.New("xref stream: stream payload missing")
	}
	return dict, tok.Bytes, nil
}

func parseMiniDict(s *scanner.Scanner) (miniDict, error) {
	out := make(miniDict)
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenDictClose {
			return out, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, errors.New("xref stream: expected name key")
		}
		key := tok.Str
		val, err := parseMiniValue(s)
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
}

func parseMiniValue(s *scanner.Scanner) (interface{}, error) {
	tok, err := s.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return tok.Int, nil
		}
		return tok.Float, nil
	case scanner.TokenName:
		return tok.Str, nil
	case scanner.TokenBoolean:
		return tok.Bool, nil
	case scanner.TokenNull:
		return nil, nil
	case scanner.TokenString:
		return tok.Bytes, nil
	case scanner.TokenRef:
		return [2]int{tok.RefNum, tok.RefGen}, nil
	case scanner.TokenDictOpen:
		return parseMiniDict(s)
	case scanner.TokenArrayOpen:
		var ints []int64
		allInts := true
		var raw []interface{}
		for {
			inner, err := s.Next()
			if err != nil {
				return nil, err
			}
			if inner.Type == scanner.TokenArrayClose {
				break
			}
			if inner.Type == scanner.TokenNumber && inner.IsInt {
				ints = append(ints, inner.Int)
				raw = append(raw, inner.Int)
				continue
			}
			allInts = false
			raw = append(raw, nil)
		}
		if allInts {
			return ints, nil
		}
		return raw, nil
	default:
		return nil, errors.New("xref stream: unexpected token in dictionary")
	}
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(32 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
