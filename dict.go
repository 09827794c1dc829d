package pdfobj

// Dictionary is a structural view over a dictionary handle. Keys are
// accepted with or without their leading slash and always reported in
// slashed form.
type Dictionary struct {
	h Handle
}

// AsDictionary narrows the handle to a dictionary view.
func (h Handle) AsDictionary() (Dictionary, error) {
	if h.Type() != TypeDictionary {
		return Dictionary{}, typeMismatch("dictionary", h.Type())
	}
	return Dictionary{h: h}, nil
}

func (d Dictionary) Handle() Handle { return d.h }

// Keys returns the key set in sorted order.
func (d Dictionary) Keys() []string { return sortedKeys(d.h.n.dict) }

// Get returns the value for a key; absence is reported, not an error.
func (d Dictionary) Get(key string) (Handle, bool) {
	c, ok := d.h.n.dict[normalizeName(key)]
	if !ok || c == nil {
		return Handle{}, false
	}
	return Handle{doc: d.h.doc, n: c}, true
}

func (d Dictionary) Has(key string) bool {
	_, ok := d.h.n.dict[normalizeName(key)]
	return ok
}

// Set stores a value, overwriting any existing entry. Direct values
// are snapshotted, indirect values share their node.
func (d Dictionary) Set(key string, v Handle) {
	if d.h.n.dict == nil {
		d.h.n.dict = make(map[string]*node)
	}
	d.h.n.dict[normalizeName(key)] = childNode(v)
}

// Remove deletes a key; absent keys are a no-op.
func (d Dictionary) Remove(key string) {
	delete(d.h.n.dict, normalizeName(key))
}
