package pdfobj

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"pdfobj/filters"
	"pdfobj/observability"
	"pdfobj/recovery"
	"pdfobj/scanner"
	"pdfobj/security"
	"pdfobj/xref"
)

// ReadConfig tunes document loading. The zero value reads unencrypted
// documents strictly and silently.
type ReadConfig struct {
	Password string
	Logger   observability.Logger
	Recovery recovery.Strategy
	// MaxXrefSections bounds /Prev chains; zero uses the resolver default.
	MaxXrefSections int
}

// Read loads a document from bytes.
func Read(data []byte) (*Document, error) {
	return ReadWithConfig(data, ReadConfig{})
}

// ReadEncrypted loads an encrypted document, authenticating with the
// given user or owner password.
func ReadEncrypted(data []byte, password string) (*Document, error) {
	return ReadWithConfig(data, ReadConfig{Password: password})
}

// ReadFile loads a document from the filesystem.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr(err, "read "+path)
	}
	return Read(data)
}

func ReadFileEncrypted(path, password string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr(err, "read "+path)
	}
	return ReadEncrypted(data, password)
}

// ReadWithConfig loads a document with explicit options.
func ReadWithConfig(data []byte, cfg ReadConfig) (*Document, error) {
	start := time.Now()
	log := cfg.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	d := &Document{
		objects: make(map[Ref]*node),
		nextNum: 1,
		handler: security.NoopHandler(),
		log:     log,
	}
	r := &reader{doc: d, data: data, cfg: cfg}
	if err := r.load(); err != nil {
		return nil, err
	}
	log.Info("document loaded",
		observability.String("version", d.version),
		observability.Int(observability.MetricObjectCount, len(d.objects)),
		observability.Int64(observability.MetricReadTime, time.Since(start).Microseconds()))
	return d, nil
}

type reader struct {
	doc   *Document
	data  []byte
	cfg   ReadConfig
	table xref.Table
	// encryptRef marks the Encrypt dictionary, which is never encrypted
	// itself.
	encryptRef Ref
}

var headerRe = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

func (r *reader) load() error {
	head := r.data
	if len(head) > 1024 {
		head = head[:1024]
	}
	m := headerRe.FindSubmatch(head)
	if m == nil {
		return parseErr(0, "missing %%PDF header")
	}
	r.doc.version = string(m[1])

	res, err := xref.NewResolver(xref.ResolverConfig{MaxSections: r.cfg.MaxXrefSections}).
		Resolve(bytes.NewReader(r.data))
	if err != nil {
		return &Error{Kind: ErrParse, Msg: "cross-reference: " + err.Error()}
	}
	r.table = res.Table

	if err := r.loadTrailer(res.TrailerOffsets); err != nil {
		return err
	}
	if err := r.setupEncryption(); err != nil {
		return err
	}
	if err := r.loadRegularObjects(); err != nil {
		return err
	}
	if err := r.loadObjectStreams(); err != nil {
		return err
	}
	r.finish()
	return nil
}

// loadTrailer parses the newest trailer dictionary. For xref streams
// the offset points at the object header, for classic sections at the
// dictionary itself.
func (r *reader) loadTrailer(offsets []int64) error {
	if len(offsets) == 0 {
		return parseErr(0, "no trailer found")
	}
	n, _, err := r.parseObjectAt(offsets[0], false)
	if err != nil {
		return wrapParseErr(err)
	}
	switch n.typ {
	case TypeDictionary:
		r.doc.trailer = n
	case TypeStream:
		r.doc.trailer = n.sdict
	default:
		return parseErr(offsets[0], "trailer is not a dictionary")
	}
	if _, ok := r.doc.trailer.dict["/Root"]; !ok {
		return parseErr(offsets[0], "trailer has no /Root")
	}
	return nil
}

// parseObjectAt parses the value at an absolute offset. With header
// set, a leading "N G obj" is consumed and its identity returned.
func (r *reader) parseObjectAt(offset int64, header bool) (*node, Ref, error) {
	s := scanner.NewFromBytes(r.data, scanner.Config{Recovery: r.cfg.Recovery})
	if err := s.SeekTo(offset); err != nil {
		return nil, Ref{}, err
	}
	p := &objParser{doc: r.doc, s: s}
	var ref Ref
	tok, err := p.next()
	if err != nil {
		return nil, Ref{}, err
	}
	if tok.Type == scanner.TokenNumber && tok.IsInt {
		gen, err := p.next()
		if err != nil {
			return nil, Ref{}, err
		}
		kw, err := p.next()
		if err != nil {
			return nil, Ref{}, err
		}
		if gen.Type != scanner.TokenNumber || kw.Type != scanner.TokenKeyword || kw.Str != "obj" {
			return nil, Ref{}, &scanner.Error{Offset: tok.Pos, Msg: "malformed object header"}
		}
		ref = Ref{Num: int(tok.Int), Gen: int(gen.Int)}
		tok, err = p.next()
		if err != nil {
			return nil, Ref{}, err
		}
	} else if header {
		return nil, Ref{}, &scanner.Error{Offset: tok.Pos, Msg: "object header expected"}
	}
	n, err := p.parseFrom(tok)
	if err != nil {
		return nil, Ref{}, err
	}
	return n, ref, nil
}

// install fills the slot for (num, gen), preserving node identity when
// a placeholder already exists for it.
func (r *reader) install(num, gen int, parsed *node) {
	ref := Ref{Num: num, Gen: gen}
	if existing, ok := r.doc.objects[ref]; ok {
		if existing == parsed {
			return
		}
		*existing = *parsed
		existing.num, existing.gen = num, gen
		return
	}
	r.doc.registerAt(num, gen, parsed)
}

func (r *reader) setupEncryption() error {
	encNode, ok := r.doc.trailer.dict["/Encrypt"]
	if !ok || encNode == nil || encNode.typ == TypeNull {
		return nil
	}
	// The Encrypt entry is normally an indirect reference parsed into a
	// reserved placeholder; load it before everything else.
	if encNode.num > 0 {
		r.encryptRef = Ref{Num: encNode.num, Gen: encNode.gen}
		offset, _, found := r.table.Lookup(encNode.num)
		if !found {
			return parseErr(0, "/Encrypt object %d missing from xref", encNode.num)
		}
		parsed, _, err := r.parseObjectAt(offset, true)
		if err != nil {
			return wrapParseErr(err)
		}
		r.install(encNode.num, encNode.gen, parsed)
	}
	if encNode.typ != TypeDictionary {
		return parseErr(0, "/Encrypt is not a dictionary")
	}
	params, err := r.encryptionParams(encNode)
	if err != nil {
		return err
	}
	handler, err := security.NewHandler(params)
	if err != nil {
		return &Error{Kind: ErrAuthentication, Msg: err.Error()}
	}
	if err := handler.Authenticate(r.cfg.Password); err != nil {
		return &Error{Kind: ErrAuthentication, Msg: err.Error()}
	}
	r.doc.handler = handler
	return nil
}

// encryptionParams lifts the Encrypt dictionary into the plain carrier
// the security package works on.
func (r *reader) encryptionParams(enc *node) (*security.Params, error) {
	p := &security.Params{}
	intAt := func(key string) int {
		if c, ok := enc.dict[key]; ok && c != nil && c.typ == TypeInteger {
			return int(c.i)
		}
		return 0
	}
	strAt := func(key string) []byte {
		if c, ok := enc.dict[key]; ok && c != nil && c.typ == TypeString {
			return c.raw
		}
		return nil
	}
	nameAt := func(n *node, key string) string {
		if c, ok := n.dict[key]; ok && c != nil && c.typ == TypeName {
			return c.name[1:]
		}
		return ""
	}
	p.Filter = nameAt(enc, "/Filter")
	p.V = intAt("/V")
	p.R = intAt("/R")
	p.LengthBits = intAt("/Length")
	p.O = strAt("/O")
	p.U = strAt("/U")
	p.OE = strAt("/OE")
	p.UE = strAt("/UE")
	p.Perms = strAt("/Perms")
	if c, ok := enc.dict["/P"]; ok && c != nil && c.typ == TypeInteger {
		p.P = int32(c.i)
	}
	if c, ok := enc.dict["/EncryptMetadata"]; ok && c != nil && c.typ == TypeBoolean {
		v := c.b
		p.EncryptMetadata = &v
	}
	p.StmF = nameAt(enc, "/StmF")
	p.StrF = nameAt(enc, "/StrF")
	if cf, ok := enc.dict["/CF"]; ok && cf != nil && cf.typ == TypeDictionary {
		p.CryptFilters = make(map[string]string)
		for name, entry := range cf.dict {
			if entry != nil && entry.typ == TypeDictionary {
				p.CryptFilters[name[1:]] = nameAt(entry, "/CFM")
			}
		}
	}
	// The first /ID element seeds key derivation.
	if id, ok := r.doc.trailer.dict["/ID"]; ok && id != nil && id.typ == TypeArray && len(id.items) > 0 {
		if first := id.items[0]; first != nil && first.typ == TypeString {
			p.FileID = first.raw
		}
	}
	return p, nil
}

func (r *reader) loadRegularObjects() error {
	for _, num := range r.table.Objects() {
		offset, gen, found := r.table.Lookup(num)
		if !found {
			continue
		}
		ref := Ref{Num: num, Gen: gen}
		if ref == r.encryptRef {
			continue
		}
		parsed, hdr, err := r.parseObjectAt(offset, true)
		if err != nil {
			if r.lenient(err, offset, num, gen) {
				continue
			}
			return wrapParseErr(err)
		}
		if hdr.Num != num {
			err := fmt.Errorf("object header %d does not match xref entry %d", hdr.Num, num)
			if r.lenient(err, offset, num, gen) {
				continue
			}
			return parseErr(offset, "%v", err)
		}
		if err := r.decryptNode(parsed, num, gen); err != nil {
			return err
		}
		r.install(num, gen, parsed)
	}
	return nil
}

// lenient asks the recovery strategy whether to skip a damaged object.
func (r *reader) lenient(err error, offset int64, num, gen int) bool {
	if r.cfg.Recovery == nil {
		return false
	}
	action := r.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: offset,
		ObjectNum:  num,
		ObjectGen:  gen,
		Component:  "reader",
	})
	return action == recovery.ActionSkip || action == recovery.ActionFix
}

// loadObjectStreams expands type-2 xref entries from their containers.
func (r *reader) loadObjectStreams() error {
	members := make(map[int][]int)
	for _, num := range r.table.Objects() {
		if streamNum, _, found := r.table.ObjStream(num); found {
			members[streamNum] = append(members[streamNum], num)
		}
	}
	containers := make([]int, 0, len(members))
	for c := range members {
		containers = append(containers, c)
	}
	sort.Ints(containers)

	for _, streamNum := range containers {
		container, ok := r.doc.objects[Ref{Num: streamNum}]
		if !ok || container.typ != TypeStream {
			return parseErr(0, "object stream %d missing or not a stream", streamNum)
		}
		view := Stream{h: Handle{doc: r.doc, n: container}}
		decoded, err := view.Data(filters.DecodeAll)
		if err != nil {
			return err
		}
		count, first, err := objStmLayout(container)
		if err != nil {
			return err
		}
		offsets, err := objStmOffsets(decoded, count)
		if err != nil {
			return err
		}
		wanted := make(map[int]bool, len(members[streamNum]))
		for _, num := range members[streamNum] {
			wanted[num] = true
		}
		for num, off := range offsets {
			if !wanted[num] {
				continue // a newer section supersedes this copy
			}
			s := scanner.NewFromBytes(decoded, scanner.Config{})
			if err := s.SeekTo(first + off); err != nil {
				return wrapParseErr(err)
			}
			p := &objParser{doc: r.doc, s: s}
			parsed, err := p.parseValue()
			if err != nil {
				if r.lenient(err, first+off, num, 0) {
					continue
				}
				return wrapParseErr(err)
			}
			parsed.fromObjStm = true
			// Strings inside an object stream were covered by the
			// container's encryption, nothing more to decrypt.
			r.install(num, 0, parsed)
		}
	}
	return nil
}

func objStmLayout(container *node) (count int, first int64, err error) {
	n, ok := container.sdict.dict["/N"]
	if !ok || n == nil || n.typ != TypeInteger {
		return 0, 0, parseErr(0, "object stream missing /N")
	}
	f, ok := container.sdict.dict["/First"]
	if !ok || f == nil || f.typ != TypeInteger {
		return 0, 0, parseErr(0, "object stream missing /First")
	}
	return int(n.i), f.i, nil
}

// objStmOffsets reads the leading pair table of an object stream.
func objStmOffsets(decoded []byte, count int) (map[int]int64, error) {
	s := scanner.NewFromBytes(decoded, scanner.Config{})
	out := make(map[int]int64, count)
	for i := 0; i < count; i++ {
		numTok, err := s.Next()
		if err != nil {
			return nil, wrapParseErr(err)
		}
		offTok, err := s.Next()
		if err != nil {
			return nil, wrapParseErr(err)
		}
		if numTok.Type != scanner.TokenNumber || offTok.Type != scanner.TokenNumber {
			return nil, parseErr(numTok.Pos, "malformed object stream pair table")
		}
		out[int(numTok.Int)] = offTok.Int
	}
	return out, nil
}

// decryptNode walks an object's direct children, decrypting strings and
// stream payloads in place.
func (r *reader) decryptNode(n *node, num, gen int) error {
	if !r.doc.handler.IsEncrypted() || n == nil {
		return nil
	}
	switch n.typ {
	case TypeString:
		dec, err := r.doc.handler.Decrypt(num, gen, n.raw, security.DataClassString)
		if err != nil {
			return &Error{Kind: ErrDecode, Msg: err.Error()}
		}
		n.raw = dec
	case TypeArray:
		for _, c := range n.items {
			if c != nil && c.num == 0 {
				if err := r.decryptNode(c, num, gen); err != nil {
					return err
				}
			}
		}
	case TypeDictionary:
		for _, c := range n.dict {
			if c != nil && c.num == 0 {
				if err := r.decryptNode(c, num, gen); err != nil {
					return err
				}
			}
		}
	case TypeStream:
		if err := r.decryptNode(n.sdict, num, gen); err != nil {
			return err
		}
		// Cross-reference streams are written before decryption applies.
		if t, ok := n.sdict.dict["/Type"]; ok && t != nil && t.name == "/XRef" {
			return nil
		}
		class := security.DataClassStream
		if t, ok := n.sdict.dict["/Type"]; ok && t != nil && t.name == "/Metadata" {
			class = security.DataClassMetadataStream
		}
		dec, err := r.doc.handler.Decrypt(num, gen, n.data, class)
		if err != nil {
			return &Error{Kind: ErrDecode, Msg: err.Error()}
		}
		n.data = dec
	}
	return nil
}

// finish applies catalog overrides and the linearization heuristic.
func (r *reader) finish() {
	if root, ok := r.doc.trailer.dict["/Root"]; ok && root != nil && root.typ == TypeDictionary {
		if v, ok := root.dict["/Version"]; ok && v != nil && v.typ == TypeName {
			r.doc.version = v.name[1:]
		}
	}
	for _, ref := range r.doc.order {
		n := r.doc.objects[ref]
		if n.typ == TypeDictionary && !n.fromObjStm {
			if _, ok := n.dict["/Linearized"]; ok {
				r.doc.linearized = true
				break
			}
		}
	}
}
