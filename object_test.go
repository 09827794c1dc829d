package pdfobj

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestScalarRoundTrips(t *testing.T) {
	d := New()

	b, err := d.NewBool(true).AsBool()
	if err != nil || !b {
		t.Fatalf("bool round trip: %v %v", b, err)
	}
	i, err := d.NewInteger(1234567890).AsInt64()
	if err != nil || i != 1234567890 {
		t.Fatalf("integer round trip: %v %v", i, err)
	}
	i32, err := d.NewInteger(-7).AsInt32()
	if err != nil || i32 != -7 {
		t.Fatalf("int32 round trip: %v %v", i32, err)
	}
	r, err := d.NewReal(1.2345, 3).AsReal()
	if err != nil || r != "1.234" {
		t.Fatalf("real round trip: %q %v", r, err)
	}
	n, err := d.NewName("Type").AsName()
	if err != nil || n != "/Type" {
		t.Fatalf("name round trip: %q %v", n, err)
	}
	s, err := d.NewString("hello").AsString()
	if err != nil || s != "hello" {
		t.Fatalf("string round trip: %q %v", s, err)
	}
}

func TestScalarTypeMismatch(t *testing.T) {
	d := New()
	if _, err := d.NewBool(true).AsInt64(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("want ErrTypeMismatch, got %v", err)
	}
	if _, err := d.NewString("x").AsBool(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("want ErrTypeMismatch, got %v", err)
	}
	if _, err := d.NewName("N").AsReal(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("want ErrTypeMismatch, got %v", err)
	}
	// The one allowed widening: integers read as reals.
	if r, err := d.NewInteger(42).AsReal(); err != nil || r != "42" {
		t.Fatalf("integer widening: %q %v", r, err)
	}
}

func TestDisplayForms(t *testing.T) {
	d := New()
	cases := []struct {
		h    Handle
		want string
	}{
		{d.NewInteger(1234567890), "1234567890"},
		{d.NewReal(1.2345, 3), "1.234"},
		{d.NewBool(true), "true"},
		{d.NewBool(false), "false"},
		{d.NewNull(), "null"},
		{d.NewName("Catalog"), "/Catalog"},
		{d.NewString("hello"), "(hello)"},
		{d.NewArray(d.NewInteger(1), d.NewInteger(2), d.NewInteger(3)), "[ 1 2 3 ]"},
	}
	for _, c := range cases {
		if got := c.h.String(); got != c.want {
			t.Fatalf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestBinaryStringRoundTrip(t *testing.T) {
	d := New()
	h := d.NewBinaryString([]byte{1, 2, 3, 4})
	raw, err := h.AsBinaryString()
	if err != nil || !bytes.Equal(raw, []byte{1, 2, 3, 4}) {
		t.Fatalf("binary round trip: %v %v", raw, err)
	}
	if got := h.Binary(); got != "<01020304>" {
		t.Fatalf("Binary() = %q", got)
	}
	if got := d.NewString("hello").Binary(); got != "<68656c6c6f>" {
		t.Fatalf("Binary() = %q", got)
	}
}

func TestUTF8StringEncoding(t *testing.T) {
	d := New()
	h := d.NewUTF8String("привет")
	if got := h.Binary(); got != "<feff043f04400438043204350442>" {
		t.Fatalf("Binary() = %q", got)
	}
	// Reading back as a binary string yields the UTF-16 bytes, not UTF-8.
	raw, err := h.AsBinaryString()
	if err != nil {
		t.Fatalf("binary string: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte{0xfe, 0xff}) {
		t.Fatalf("missing BOM: %x", raw)
	}
	s, err := h.AsString()
	if err != nil || s != "привет" {
		t.Fatalf("logical round trip: %q %v", s, err)
	}
	// ASCII text stays ASCII.
	if got := d.NewUTF8String("plain").Binary(); got != "<706c61696e>" {
		t.Fatalf("ascii Binary() = %q", got)
	}
}

func TestMakeIndirectIdempotent(t *testing.T) {
	d := New()
	h := d.NewInteger(7)
	if h.ID() != 0 || h.Generation() != 0 {
		t.Fatal("direct objects must report id 0")
	}
	ind := h.MakeIndirect()
	if !ind.IsIndirect() || ind.ID() != 3 || ind.Generation() != 0 {
		t.Fatalf("first user allocation: got (%d,%d)", ind.ID(), ind.Generation())
	}
	again := ind.MakeIndirect()
	if again != ind {
		t.Fatal("MakeIndirect on an indirect handle must be a no-op")
	}
	if again.ID() != ind.ID() || again.Generation() != ind.Generation() {
		t.Fatal("identity changed on repeated MakeIndirect")
	}
	// The original direct handle stays usable and direct.
	if h.ID() != 0 {
		t.Fatal("original handle must stay direct")
	}
	if v, err := h.AsInt64(); err != nil || v != 7 {
		t.Fatalf("original handle unusable: %v %v", v, err)
	}
}

func TestHandleEqualityIsSlotIdentity(t *testing.T) {
	d := New()
	a := d.NewDictionaryFrom(map[string]Handle{"/A": d.NewInteger(1)})
	b := d.NewDictionaryFrom(map[string]Handle{"/A": d.NewInteger(1)})
	if a == b {
		t.Fatal("structurally equal dictionaries must compare unequal")
	}
	ind := a.MakeIndirect()
	resolved, ok := d.GetObjectByID(ind.ID(), 0)
	if !ok || resolved != ind {
		t.Fatal("resolving the same identity must yield an equal handle")
	}
}

func TestIndirectSharedMutation(t *testing.T) {
	d := New()
	ind := d.NewDictionaryFrom(map[string]Handle{"/N": d.NewInteger(1)}).MakeIndirect()
	other, _ := d.GetObjectByID(ind.ID(), 0)

	dict, err := ind.AsDictionary()
	if err != nil {
		t.Fatalf("dictionary view: %v", err)
	}
	dict.Set("/N", d.NewInteger(99))

	otherDict, _ := other.AsDictionary()
	v, _ := otherDict.Get("/N")
	if n, _ := v.AsInt64(); n != 99 {
		t.Fatalf("shared mutation not visible: %d", n)
	}
}

func TestDirectCopyIsSnapshot(t *testing.T) {
	d := New()
	orig := d.NewDictionaryFrom(map[string]Handle{"/N": d.NewInteger(1)})
	snap := orig.Copy()
	if snap == orig {
		t.Fatal("direct copy must be a distinct handle")
	}
	snapDict, _ := snap.AsDictionary()
	snapDict.Set("/N", d.NewInteger(2))
	origDict, _ := orig.AsDictionary()
	v, _ := origDict.Get("/N")
	if n, _ := v.AsInt64(); n != 1 {
		t.Fatalf("snapshot mutation leaked into the original: %d", n)
	}

	ind := orig.MakeIndirect()
	if ind.Copy() != ind {
		t.Fatal("indirect copy must share the node")
	}
}

func TestStreamsAreIndirectOnCreation(t *testing.T) {
	d := New()
	s := d.NewStream([]byte("BT ET"))
	if !s.IsIndirect() {
		t.Fatal("streams must be indirect")
	}
	if got := s.String(); got != "3 0 R" {
		t.Fatalf("first stream renders %q, want \"3 0 R\"", got)
	}
}

func TestArrayOperations(t *testing.T) {
	d := New()
	h := d.NewArray(d.NewInteger(1), d.NewInteger(2), d.NewInteger(3))
	arr, err := h.AsArray()
	if err != nil {
		t.Fatalf("array view: %v", err)
	}
	if arr.Len() != 3 {
		t.Fatalf("len = %d", arr.Len())
	}
	if _, ok := arr.Get(5); ok {
		t.Fatal("out-of-range index must report absence")
	}
	if err := arr.Set(1, d.NewInteger(5)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := arr.Set(9, d.NewInteger(5)); err == nil {
		t.Fatal("out-of-range set must fail")
	}
	if got := h.String(); got != "[ 1 5 3 ]" {
		t.Fatalf("after set: %q", got)
	}
	arr.Push(d.NewInteger(4))

	var got []int64
	for child := range arr.Iter() {
		v, err := child.AsInt64()
		if err != nil {
			t.Fatalf("iter value: %v", err)
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]int64{1, 5, 3, 4}, got); diff != "" {
		t.Fatalf("iteration order (-want +got):\n%s", diff)
	}
}

func TestDictionaryOperations(t *testing.T) {
	d := New()
	h, err := d.ParseObject("<< /A 1 /B 2 >>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dict, err := h.AsDictionary()
	if err != nil {
		t.Fatalf("dictionary view: %v", err)
	}
	if diff := cmp.Diff([]string{"/A", "/B"}, dict.Keys()); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	if !dict.Has("/A") || dict.Has("/C") {
		t.Fatal("Has misreports")
	}
	dict.Remove("/Missing") // no-op
	if len(dict.Keys()) != 2 {
		t.Fatal("remove of an absent key must not change the dictionary")
	}

	// Indirect children round-trip the same handle identity.
	ind := d.NewInteger(10).MakeIndirect()
	dict.Set("/Ref", ind)
	got, _ := dict.Get("/Ref")
	if got != ind {
		t.Fatal("indirect child identity lost")
	}

	// Direct scalars are snapshotted.
	direct := d.NewInteger(11)
	dict.Set("/Val", direct)
	got, _ = dict.Get("/Val")
	if got == direct {
		t.Fatal("direct child must be a snapshot")
	}
	if v, _ := got.AsInt64(); v != 11 {
		t.Fatalf("snapshot value: %d", v)
	}
}

func TestStreamDictionaryIsShared(t *testing.T) {
	d := New()
	s := d.NewStreamWithDictionary(map[string]Handle{"/K": d.NewInteger(1)}, []byte("data"))
	view, err := s.AsStream()
	if err != nil {
		t.Fatalf("stream view: %v", err)
	}
	view.Dictionary().Set("/K", d.NewInteger(2))
	again, _ := s.AsStream()
	v, _ := again.Dictionary().Get("/K")
	if n, _ := v.AsInt64(); n != 2 {
		t.Fatal("stream dictionary must be the same graph node")
	}
}

func TestReservedAndReplaceObject(t *testing.T) {
	d := New()
	res := d.NewReserved()
	if res.IsInitialized() {
		t.Fatal("reserved slots are uninitialized")
	}
	if _, err := res.AsInt64(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("value access on reserved must fail: %v", err)
	}
	ref, ok := d.GetObjectByID(res.ID(), 0)
	if !ok {
		t.Fatal("reserved slot must be resolvable")
	}
	d.ReplaceObject(res.ID(), 0, d.NewInteger(123))
	if v, err := ref.AsInt64(); err != nil || v != 123 {
		t.Fatalf("replacement not visible through the old handle: %v %v", v, err)
	}
	if _, ok := d.GetObjectByID(9999, 0); ok {
		t.Fatal("missing identities must not resolve")
	}
}

func TestPredicates(t *testing.T) {
	d := New()
	if !d.NewInteger(1).IsScalar() || !d.NewName("N").IsScalar() {
		t.Fatal("numbers and names are scalars")
	}
	if d.NewArray().IsScalar() || d.NewDictionary().IsScalar() {
		t.Fatal("containers are not scalars")
	}
	if d.NewUninitialized().IsInitialized() {
		t.Fatal("uninitialized must report so")
	}
	if !d.NewOperator("Tj").IsOperator() {
		t.Fatal("operator predicate")
	}
	if got := d.NewOperator("Tj").String(); got != "Tj" {
		t.Fatalf("operator display: %q", got)
	}
}
