package pdfobj

import "testing"

func newPage(d *Document) Handle {
	return d.NewDictionaryFrom(map[string]Handle{
		"/Type": d.NewName("Page"),
	})
}

func TestNewDocumentSkeleton(t *testing.T) {
	d := New()
	if d.PDFVersion() != "1.3" {
		t.Fatalf("default version %q", d.PDFVersion())
	}
	root := d.GetRoot()
	if !root.IsIndirect() || root.ID() != 1 {
		t.Fatalf("catalog identity (%d,%d)", root.ID(), root.Generation())
	}
	rootDict, err := root.AsDictionary()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	typ, _ := rootDict.Get("/Type")
	if n, _ := typ.AsName(); n != "/Catalog" {
		t.Fatalf("catalog type %q", n)
	}
	pages, ok := rootDict.Get("/Pages")
	if !ok || pages.ID() != 2 {
		t.Fatalf("page tree identity %d", pages.ID())
	}
	trailer, err := d.GetTrailer().AsDictionary()
	if err != nil {
		t.Fatalf("trailer: %v", err)
	}
	if r, ok := trailer.Get("/Root"); !ok || r != root {
		t.Fatal("trailer /Root must point at the catalog")
	}
	if d.NumPages() != 0 {
		t.Fatalf("fresh document has %d pages", d.NumPages())
	}
}

func TestAddAndRemovePages(t *testing.T) {
	d := New()
	first := newPage(d)
	if err := d.AddPage(first, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	second := newPage(d).MakeIndirect()
	if err := d.AddPage(second, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	front := newPage(d).MakeIndirect()
	if err := d.AddPage(front, true); err != nil {
		t.Fatalf("add front: %v", err)
	}
	if d.NumPages() != 3 {
		t.Fatalf("pages: %d", d.NumPages())
	}
	got, _ := d.GetPage(0)
	if got != front {
		t.Fatal("front insertion order wrong")
	}
	got, _ = d.GetPage(1)
	parentDict, _ := got.AsDictionary()
	parent, ok := parentDict.Get("/Parent")
	if !ok || parent.ID() != 2 {
		t.Fatal("page /Parent must point at the page tree")
	}

	if err := d.RemovePage(second); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if d.NumPages() != 2 {
		t.Fatalf("after remove: %d", d.NumPages())
	}
	// A structurally equal dictionary is not the page itself.
	if err := d.RemovePage(newPage(d).MakeIndirect()); err == nil {
		t.Fatal("removing a non-member page must fail")
	}
	if _, ok := d.GetPage(5); ok {
		t.Fatal("out-of-range page index")
	}
}

func TestNestedPageTree(t *testing.T) {
	d := New()
	if err := d.AddPage(newPage(d), false); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Graft an intermediate /Pages node holding one more leaf.
	leaf := newPage(d).MakeIndirect()
	mid := d.NewDictionaryFrom(map[string]Handle{
		"/Type": d.NewName("Pages"),
		"/Kids": d.NewArray(leaf),
	}).MakeIndirect()
	rootDict, _ := d.GetRoot().AsDictionary()
	pagesNode, _ := rootDict.Get("/Pages")
	pagesDict, _ := pagesNode.AsDictionary()
	kids, _ := pagesDict.Get("/Kids")
	arr, _ := kids.AsArray()
	arr.Push(mid)

	all := d.GetPages()
	if len(all) != 2 {
		t.Fatalf("leaves: %d", len(all))
	}
	if all[1] != leaf {
		t.Fatal("nested leaf not found in order")
	}
}

func TestReplaceObjectKeepsIdentity(t *testing.T) {
	d := New()
	h := d.NewInteger(1).MakeIndirect()
	arr := d.NewArray(h)
	d.ReplaceObject(h.ID(), 0, d.NewString("swapped"))
	view, _ := arr.AsArray()
	child, _ := view.Get(0)
	if s, err := child.AsString(); err != nil || s != "swapped" {
		t.Fatalf("replacement not visible through container: %q %v", s, err)
	}
	if child.ID() != h.ID() {
		t.Fatal("identity must survive replacement")
	}
}
