package pdfobj

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pdfobj/filters"
	"pdfobj/security"
)

// assemblePDF lays out numbered object bodies (object i+1 for bodies[i])
// followed by a classic cross-reference table.
func assemblePDF(bodies []string, trailer string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(bodies)+1)
	for i, b := range bodies {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, b)
	}
	xrefOff := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(bodies)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(bodies); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xrefOff)
	return buf.Bytes()
}

func streamBody(dictExtra, content string) string {
	return fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(content), dictExtra, content)
}

func TestReadClassicDocument(t *testing.T) {
	content := "BT (Hello) Tj ET"
	data := assemblePDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R /MediaBox [ 0 0 612 792 ] >>",
		streamBody("", content),
	}, "<< /Size 5 /Root 1 0 R >>")

	d, err := Read(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.PDFVersion() != "1.4" {
		t.Fatalf("version %q", d.PDFVersion())
	}
	if d.IsEncrypted() || d.IsLinearized() {
		t.Fatal("plain document misclassified")
	}
	if d.NumPages() != 1 {
		t.Fatalf("pages: %d", d.NumPages())
	}
	root := d.GetRoot()
	rootDict, err := root.AsDictionary()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	typ, _ := rootDict.Get("/Type")
	if n, _ := typ.AsName(); n != "/Catalog" {
		t.Fatalf("root type %q", n)
	}
	page, ok := d.GetPage(0)
	if !ok {
		t.Fatal("no page 0")
	}
	got, err := page.PageContentData()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content %q", got)
	}
}

func TestReadCatalogVersionOverride(t *testing.T) {
	data := assemblePDF([]string{
		"<< /Type /Catalog /Pages 2 0 R /Version /1.6 >>",
		"<< /Type /Pages /Kids [ ] /Count 0 >>",
	}, "<< /Size 3 /Root 1 0 R >>")
	d, err := Read(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.PDFVersion() != "1.6" {
		t.Fatalf("version %q, want catalog override", d.PDFVersion())
	}
}

func TestReadLinearizedFlag(t *testing.T) {
	data := assemblePDF([]string{
		"<< /Linearized 1 /L 0 /O 2 /N 0 >>",
		"<< /Type /Catalog /Pages 3 0 R >>",
		"<< /Type /Pages /Kids [ ] /Count 0 >>",
	}, "<< /Size 4 /Root 2 0 R >>")
	d, err := Read(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !d.IsLinearized() {
		t.Fatal("linearization dictionary not detected")
	}
}

func TestReadMissingHeader(t *testing.T) {
	if _, err := Read([]byte("not a pdf at all")); !errors.Is(err, ErrParse) {
		t.Fatalf("want parse error, got %v", err)
	}
}

func TestReadMissingRoot(t *testing.T) {
	data := assemblePDF([]string{"<< /N 1 >>"}, "<< /Size 2 >>")
	if _, err := Read(data); !errors.Is(err, ErrParse) {
		t.Fatalf("want parse error, got %v", err)
	}
}

func TestReadIndirectStreamLength(t *testing.T) {
	content := "0 0 0 rg"
	data := assemblePDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length 5 0 R >>\nstream\n%s\nendstream", content),
		fmt.Sprintf("%d", len(content)),
	}, "<< /Size 6 /Root 1 0 R >>")
	d, err := Read(data)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	page, _ := d.GetPage(0)
	got, err := page.PageContentData()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content %q", got)
	}
}

// TestReadObjectStream packs the document skeleton into an object stream
// described by a cross-reference stream.
func TestReadObjectStream(t *testing.T) {
	members := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
	}
	var pairs, payload strings.Builder
	for i, m := range members {
		fmt.Fprintf(&pairs, "%d %d ", i+1, payload.Len())
		payload.WriteString(m)
		payload.WriteString("\n")
	}
	stmContent := pairs.String() + payload.String()
	first := len(pairs.String())
	packed, err := filters.Flate{}.Encode([]byte(stmContent))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	content := "BT ET"
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")

	contentOff := buf.Len()
	fmt.Fprintf(&buf, "4 0 obj\n%s\nendobj\n", streamBody("", content))

	objStmOff := buf.Len()
	fmt.Fprintf(&buf, "5 0 obj\n<< /Type /ObjStm /N %d /First %d /Length %d /Filter /FlateDecode >>\nstream\n",
		len(members), first, len(packed))
	buf.Write(packed)
	buf.WriteString("\nendstream\nendobj\n")

	// Entries for objects 0..6 with W [ 1 4 2 ].
	var entries bytes.Buffer
	writeEntry := func(typ byte, f2 int, f3 int) {
		entries.WriteByte(typ)
		entries.WriteByte(byte(f2 >> 24))
		entries.WriteByte(byte(f2 >> 16))
		entries.WriteByte(byte(f2 >> 8))
		entries.WriteByte(byte(f2))
		entries.WriteByte(byte(f3 >> 8))
		entries.WriteByte(byte(f3))
	}
	xrefOff := buf.Len()
	writeEntry(0, 0, 65535)
	writeEntry(2, 5, 0)
	writeEntry(2, 5, 1)
	writeEntry(2, 5, 2)
	writeEntry(1, contentOff, 0)
	writeEntry(1, objStmOff, 0)
	writeEntry(1, xrefOff, 0)
	xrefData, err := filters.Flate{}.Encode(entries.Bytes())
	if err != nil {
		t.Fatalf("encode xref: %v", err)
	}
	fmt.Fprintf(&buf, "6 0 obj\n<< /Type /XRef /Size 7 /W [ 1 4 2 ] /Root 1 0 R /Length %d /Filter /FlateDecode >>\nstream\n",
		len(xrefData))
	buf.Write(xrefData)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOff)

	d, err := Read(buf.Bytes())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if d.NumPages() != 1 {
		t.Fatalf("pages: %d", d.NumPages())
	}
	catalog, ok := d.GetObjectByID(1, 0)
	if !ok || !catalog.InObjectStream() {
		t.Fatal("catalog must record its object stream origin")
	}
	page, _ := d.GetPage(0)
	got, err := page.PageContentData()
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if string(got) != content {
		t.Fatalf("content %q", got)
	}
}

func TestReadEncryptedRC4(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	perms := security.PermissionsValue(security.Permissions{Print: true, Copy: true})
	params, _ := security.GenerateRC4("user", "owner", 128, 3, perms, fileID)

	enc, err := security.NewHandler(params)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := enc.Authenticate("user"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	content := "BT (Top secret) Tj ET"
	encContent, err := enc.Encrypt(4, 0, []byte(content), security.DataClassStream)
	if err != nil {
		t.Fatalf("encrypt stream: %v", err)
	}
	title := "Classified"
	encTitle, err := enc.Encrypt(5, 0, []byte(title), security.DataClassString)
	if err != nil {
		t.Fatalf("encrypt string: %v", err)
	}

	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(encContent), encContent),
		fmt.Sprintf("<< /Title <%x> >>", encTitle),
		fmt.Sprintf("<< /Filter /Standard /V %d /R %d /Length %d /P %d /O <%x> /U <%x> >>",
			params.V, params.R, params.LengthBits, params.P, params.O, params.U),
	}
	trailer := fmt.Sprintf("<< /Size 7 /Root 1 0 R /Info 5 0 R /Encrypt 6 0 R /ID [ <%x> <%x> ] >>",
		fileID, fileID)
	data := assemblePDF(bodies, trailer)

	if _, err := Read(data); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("read without password: %v", err)
	}
	if _, err := ReadEncrypted(data, "wrong"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("read with wrong password: %v", err)
	}

	for _, password := range []string{"user", "owner"} {
		d, err := ReadEncrypted(data, password)
		if err != nil {
			t.Fatalf("read with %s password: %v", password, err)
		}
		if !d.IsEncrypted() {
			t.Fatal("document must report encryption")
		}
		page, ok := d.GetPage(0)
		if !ok {
			t.Fatal("no page")
		}
		got, err := page.PageContentData()
		if err != nil {
			t.Fatalf("content: %v", err)
		}
		if string(got) != content {
			t.Fatalf("content %q", got)
		}
		info, ok := d.GetObjectByID(5, 0)
		if !ok {
			t.Fatal("no info object")
		}
		infoDict, _ := info.AsDictionary()
		v, _ := infoDict.Get("/Title")
		if s, err := v.AsString(); err != nil || s != title {
			t.Fatalf("title %q %v", s, err)
		}
	}
}

func TestReadAES256(t *testing.T) {
	params, _, err := security.GenerateAES256("secret", "master", -4, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	enc, err := security.NewHandler(params)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if err := enc.Authenticate("secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	msg := "confidential"
	encMsg, err := enc.Encrypt(4, 0, []byte(msg), security.DataClassString)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var cf strings.Builder
	cf.WriteString("<< /Filter /Standard /V 5 /R 6")
	fmt.Fprintf(&cf, " /O <%s> /U <%s> /OE <%s> /UE <%s> /Perms <%s>",
		hex.EncodeToString(params.O), hex.EncodeToString(params.U),
		hex.EncodeToString(params.OE), hex.EncodeToString(params.UE),
		hex.EncodeToString(params.Perms))
	fmt.Fprintf(&cf, " /P %d /Length 256", params.P)
	cf.WriteString(" /CF << /StdCF << /CFM /AESV3 /Length 32 >> >> /StmF /StdCF /StrF /StdCF >>")

	bodies := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [ 3 0 R ] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R >>",
		fmt.Sprintf("<< /Msg <%x> >>", encMsg),
		cf.String(),
	}
	data := assemblePDF(bodies,
		"<< /Size 6 /Root 1 0 R /Encrypt 5 0 R /ID [ <00112233> <00112233> ] >>")

	d, err := ReadEncrypted(data, "secret")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	h, ok := d.GetObjectByID(4, 0)
	if !ok {
		t.Fatal("no object 4")
	}
	dict, _ := h.AsDictionary()
	v, _ := dict.Get("/Msg")
	if s, err := v.AsString(); err != nil || s != msg {
		t.Fatalf("message %q %v", s, err)
	}

	if _, err := ReadEncrypted(data, "nope"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("wrong password: %v", err)
	}
}
