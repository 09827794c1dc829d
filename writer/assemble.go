package writer

import (
	"bytes"
	"fmt"

	"pdfobj/filters"
)

// assemble lays the planned objects out into the final byte buffer.
func (st *writeState) assemble() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n", st.version)
	buf.WriteString("%\xe2\xe3\xcf\xd3\n")

	// Linearization writes every object individually so the parameter
	// dictionary and the first page stay at the front of the file.
	if st.linNum > 0 {
		for _, p := range st.plans {
			p.packed = false
		}
	}

	offsets := make(map[int]int64)
	compressed := make(map[int][2]int) // num -> container, index

	var linStart, linEnd int64
	if st.linNum > 0 {
		linStart = int64(buf.Len())
		offsets[st.linNum] = linStart
		fmt.Fprintf(&buf, "%d 0 obj\n", st.linNum)
		fmt.Fprintf(&buf, "<< /Linearized 1 /L 0000000000 /H [ 0 0 ] /O %d /E 0000000000 /N %d /T 0000000000 >>",
			st.pageObj, st.numPages)
		buf.WriteString("\nendobj\n")
		linEnd = int64(buf.Len())
	}

	var packed []*objPlan
	for _, p := range st.plans {
		if p.packed {
			packed = append(packed, p)
			continue
		}
		offsets[p.ref.Num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n", p.ref.Num, p.ref.Gen)
		buf.Write(p.body)
		buf.WriteString("\nendobj\n")
	}

	size := st.maxNum + 1
	if len(packed) > 0 {
		objStmNum := size
		size++
		body, err := buildObjStm(packed)
		if err != nil {
			return nil, err
		}
		offsets[objStmNum] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n", objStmNum)
		buf.Write(body)
		buf.WriteString("\nendobj\n")
		for i, p := range packed {
			compressed[p.ref.Num] = [2]int{objStmNum, i}
		}
	}

	var xrefOffset int64
	if len(packed) > 0 {
		xrefNum := size
		size++
		xrefOffset = int64(buf.Len())
		offsets[xrefNum] = xrefOffset
		if err := st.writeXrefStream(&buf, xrefNum, size, offsets, compressed); err != nil {
			return nil, err
		}
	} else {
		xrefOffset = int64(buf.Len())
		st.writeClassicXref(&buf, size, offsets)
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	out := buf.Bytes()
	if st.linNum > 0 {
		patchLinearization(out[linStart:], int64(len(out)), linEnd, xrefOffset)
	}
	return out, nil
}

// buildObjStm packs plans into a flate-compressed /ObjStm body.
func buildObjStm(packed []*objPlan) ([]byte, error) {
	var pairs bytes.Buffer
	var bodies bytes.Buffer
	for i, p := range packed {
		if i > 0 {
			bodies.WriteString("\n")
		}
		fmt.Fprintf(&pairs, "%d %d ", p.ref.Num, bodies.Len())
		bodies.Write(p.body)
	}
	content := append(pairs.Bytes(), bodies.Bytes()...)
	enc, err := filters.Flate{}.Encode(content)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<< /Type /ObjStm /N %d /First %d /Length %d /Filter /FlateDecode >>\nstream\n",
		len(packed), pairs.Len(), len(enc))
	out.Write(enc)
	out.WriteString("\nendstream")
	return out.Bytes(), nil
}

func (st *writeState) writeClassicXref(buf *bytes.Buffer, size int, offsets map[int]int64) {
	fmt.Fprintf(buf, "xref\n0 %d\n", size)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num < size; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(buf, "%010d %05d n \n", off, st.genOf(num))
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	buf.WriteString("trailer\n")
	fmt.Fprintf(buf, "<< /Size %d%s /ID [ %s %s ] >>\n", size, st.trailerRefs(), st.id[0], st.id[1])
}

func (st *writeState) writeXrefStream(buf *bytes.Buffer, xrefNum, size int, offsets map[int]int64, compressed map[int][2]int) error {
	var entries bytes.Buffer
	for num := 0; num < size; num++ {
		if c, ok := compressed[num]; ok {
			entries.WriteByte(2)
			writeBE(&entries, int64(c[0]), 4)
			writeBE(&entries, int64(c[1]), 2)
			continue
		}
		if off, ok := offsets[num]; ok {
			entries.WriteByte(1)
			writeBE(&entries, off, 4)
			writeBE(&entries, int64(st.genOf(num)), 2)
			continue
		}
		entries.WriteByte(0)
		writeBE(&entries, 0, 4)
		writeBE(&entries, 65535, 2)
	}
	enc, err := filters.Flate{}.Encode(entries.Bytes())
	if err != nil {
		return err
	}
	fmt.Fprintf(buf, "%d 0 obj\n", xrefNum)
	fmt.Fprintf(buf, "<< /Type /XRef /Size %d /W [ 1 4 2 ] /Index [ 0 %d ]%s /ID [ %s %s ] /Length %d /Filter /FlateDecode >>\nstream\n",
		size, size, st.trailerRefs(), st.id[0], st.id[1], len(enc))
	buf.Write(enc)
	buf.WriteString("\nendstream\nendobj\n")
	return nil
}

func writeBE(buf *bytes.Buffer, v int64, width int) {
	for i := width - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}

func (st *writeState) genOf(num int) int {
	if p, ok := st.byNum[num]; ok {
		return p.ref.Gen
	}
	return 0
}

// trailerRefs renders the /Root and /Info entries.
func (st *writeState) trailerRefs() string {
	root := st.w.doc.GetRoot()
	out := ""
	if root.IsIndirect() {
		out += fmt.Sprintf(" /Root %d %d R", root.ID(), root.Generation())
	}
	if trailer, err := st.w.doc.GetTrailer().AsDictionary(); err == nil {
		if info, ok := trailer.Get("/Info"); ok && info.IsIndirect() {
			out += fmt.Sprintf(" /Info %d %d R", info.ID(), info.Generation())
		}
	}
	return out
}

// patchLinearization fills the fixed-width placeholders left in the
// parameter dictionary.
func patchLinearization(region []byte, fileLen, firstPageEnd, xrefOffset int64) {
	patch := func(key string, value int64) {
		marker := []byte(key + " 0000000000")
		idx := bytes.Index(region, marker)
		if idx < 0 {
			return
		}
		copy(region[idx+len(key)+1:], []byte(fmt.Sprintf("%010d", value)))
	}
	patch("/L", fileLen)
	patch("/E", firstPageEnd)
	patch("/T", xrefOffset)
}
