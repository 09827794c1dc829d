package pdfobj

import "fmt"

// pagesRoot resolves the /Pages node from the catalog.
func (d *Document) pagesRoot() (*node, error) {
	root := d.GetRoot()
	if root.n == nil {
		return nil, &Error{Kind: ErrParse, Msg: "document has no catalog"}
	}
	pages, ok := root.n.dict["/Pages"]
	if !ok || pages == nil || pages.typ != TypeDictionary {
		return nil, &Error{Kind: ErrParse, Msg: "catalog has no page tree"}
	}
	return pages, nil
}

// AddPage appends a page to the page tree, or prepends when atFront is
// set. Direct page dictionaries are made indirect first.
func (d *Document) AddPage(page Handle, atFront bool) error {
	if page.Type() != TypeDictionary {
		return typeMismatch("dictionary", page.Type())
	}
	if !page.IsIndirect() {
		page = page.MakeIndirect()
	}
	pages, err := d.pagesRoot()
	if err != nil {
		return err
	}
	kids := pages.dict["/Kids"]
	if kids == nil || kids.typ != TypeArray {
		kids = &node{typ: TypeArray}
		pages.dict["/Kids"] = kids
	}
	if atFront {
		kids.items = append([]*node{page.n}, kids.items...)
	} else {
		kids.items = append(kids.items, page.n)
	}
	page.n.dict["/Parent"] = pages
	bumpCount(pages, 1)
	return nil
}

// RemovePage removes a page from the tree. Identity is slot identity,
// so only a handle to the actual tree node removes anything.
func (d *Document) RemovePage(page Handle) error {
	pages, err := d.pagesRoot()
	if err != nil {
		return err
	}
	kids := pages.dict["/Kids"]
	if kids == nil {
		return fmt.Errorf("page not found")
	}
	for i, kid := range kids.items {
		if kid == page.n {
			kids.items = append(kids.items[:i], kids.items[i+1:]...)
			delete(page.n.dict, "/Parent")
			bumpCount(pages, -1)
			return nil
		}
	}
	return fmt.Errorf("page not found")
}

// GetPage returns the page at index i in document order.
func (d *Document) GetPage(i int) (Handle, bool) {
	all := d.GetPages()
	if i < 0 || i >= len(all) {
		return Handle{}, false
	}
	return all[i], true
}

func (d *Document) NumPages() int { return len(d.GetPages()) }

// GetPages walks the page tree and returns every leaf page in order.
func (d *Document) GetPages() []Handle {
	pages, err := d.pagesRoot()
	if err != nil {
		return nil
	}
	var out []Handle
	seen := make(map[*node]bool)
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		if t, ok := n.dict["/Type"]; ok && t != nil && t.name == "/Page" {
			out = append(out, Handle{doc: d, n: n})
			return
		}
		kids, ok := n.dict["/Kids"]
		if !ok || kids == nil {
			return
		}
		for _, kid := range kids.items {
			if kid != nil && kid.typ == TypeDictionary {
				walk(kid)
			}
		}
	}
	walk(pages)
	return out
}

func bumpCount(pages *node, delta int64) {
	count := pages.dict["/Count"]
	if count == nil || count.typ != TypeInteger {
		count = &node{typ: TypeInteger}
		pages.dict["/Count"] = count
	}
	count.i += delta
}
