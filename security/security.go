// Package security implements the PDF standard security handler:
// RC4 (R2 to R4), AES-128 (V4) and AES-256 (R5 and R6). It works on a
// plain Params carrier extracted from the Encrypt dictionary so it has
// no dependency on the object layer.
package security

import (
	"errors"
	"fmt"
)

// ErrInvalidPassword reports that neither the user nor the owner
// password matched.
var ErrInvalidPassword = errors.New("invalid password")

type Permissions struct {
	Print, Modify, Copy, ModifyAnnotations bool
	FillForms, ExtractAccessible, Assemble, PrintHighQuality bool
}

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Params carries the Encrypt dictionary entries the standard handler
// needs, plus the first element of the trailer /ID.
type Params struct {
	Filter     string
	V, R       int
	LengthBits int
	O, U       []byte
	OE, UE     []byte
	Perms      []byte
	P          int32
	FileID     []byte
	// EncryptMetadata defaults to true when the entry is absent.
	EncryptMetadata *bool
	StmF, StrF      string
	// CryptFilters maps CF names to their CFM method name.
	CryptFilters map[string]string
}

func (p *Params) encryptMetadata() bool {
	return p.EncryptMetadata == nil || *p.EncryptMetadata
}

type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
}

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
	algoAES256
)

// NewHandler builds a handler from Encrypt dictionary parameters. A nil
// params means the file is not encrypted.
func NewHandler(p *Params) (Handler, error) {
	if p == nil {
		return noEncryption{}, nil
	}
	if p.Filter != "" && p.Filter != "Standard" {
		return nil, fmt.Errorf("unsupported security handler %s", p.Filter)
	}
	v := p.V
	if v == 0 {
		v = 1
	}
	if v > 6 {
		return nil, fmt.Errorf("encryption V=%d not supported", v)
	}
	r := p.R
	if r == 0 {
		r = 2
	}
	if r > 6 {
		return nil, fmt.Errorf("encryption R=%d not supported", r)
	}
	keyBits := p.LengthBits
	if keyBits == 0 {
		keyBits = 40
	}
	if v >= 5 {
		keyBits = 256
	} else if v == 4 && keyBits < 128 {
		keyBits = 128
	}
	if keyBits%8 != 0 {
		return nil, errors.New("encryption key length must be a multiple of 8")
	}

	base := algoRC4
	if v >= 5 {
		base = algoAES256
	} else if v == 4 {
		base = algoAES
	}
	filters, err := parseCryptFilters(p.CryptFilters, base)
	if err != nil {
		return nil, err
	}
	streamAlgo, err := resolveFilter(p.StmF, base, filters)
	if err != nil {
		return nil, err
	}
	stringAlgo, err := resolveFilter(p.StrF, base, filters)
	if err != nil {
		return nil, err
	}
	return &standardHandler{
		params:     *p,
		v:          v,
		r:          r,
		keyBits:    keyBits,
		streamAlgo: streamAlgo,
		stringAlgo: stringAlgo,
	}, nil
}

type standardHandler struct {
	params     Params
	v, r       int
	keyBits    int
	key        []byte
	authed     bool
	streamAlgo cryptAlgo
	stringAlgo cryptAlgo
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.params.encryptMetadata() }

func (h *standardHandler) Authenticate(password string) error {
	if h.r >= 5 {
		return h.authenticateAES256([]byte(password))
	}
	// Try the user password first, then the owner password.
	key := deriveKey([]byte(password), h.params.O, h.params.P, h.params.FileID, h.keyBits/8, h.r, h.params.encryptMetadata())
	if checkUserPassword(key, h.params.U, h.params.FileID, h.r) {
		h.key = key
		h.authed = true
		return nil
	}
	if userPwd, ok := recoverUserPassword([]byte(password), h.params.O, h.keyBits/8, h.r); ok {
		key = deriveKey(userPwd, h.params.O, h.params.P, h.params.FileID, h.keyBits/8, h.r, h.params.encryptMetadata())
		if checkUserPassword(key, h.params.U, h.params.FileID, h.r) {
			h.key = key
			h.authed = true
			return nil
		}
	}
	return ErrInvalidPassword
}

func (h *standardHandler) authenticateAES256(pwd []byte) error {
	if len(h.params.U) >= 48 && len(h.params.UE) >= 32 {
		key, ok, err := aes256UserKey(pwd, h.params.U, h.params.UE, h.r)
		if err != nil {
			return err
		}
		if ok {
			h.key = key
			h.authed = true
			h.loadPerms()
			return nil
		}
	}
	if len(h.params.O) >= 48 && len(h.params.OE) >= 32 && len(h.params.U) >= 48 {
		key, ok, err := aes256OwnerKey(pwd, h.params.O, h.params.OE, h.params.U, h.r)
		if err != nil {
			return err
		}
		if ok {
			h.key = key
			h.authed = true
			h.loadPerms()
			return nil
		}
	}
	return ErrInvalidPassword
}

func (h *standardHandler) loadPerms() {
	if h.params.P != 0 || len(h.params.Perms) != 16 {
		return
	}
	if p, err := decryptPerms(h.key, h.params.Perms); err == nil {
		h.params.P = p
	}
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.crypt(objNum, gen, data, class, false)
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.crypt(objNum, gen, data, class, true)
}

func (h *standardHandler) crypt(objNum, gen int, data []byte, class DataClass, encrypt bool) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	algo := h.algoFor(class)
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	if class == DataClassMetadataStream && !h.params.encryptMetadata() {
		return data, nil
	}
	switch algo {
	case algoAES256:
		return aesCBC(h.key, data, encrypt)
	case algoAES:
		return aesCBC(objectKey(h.key, objNum, gen, true), data, encrypt)
	default:
		return rc4Crypt(objectKey(h.key, objNum, gen, false), data)
	}
}

func (h *standardHandler) algoFor(class DataClass) cryptAlgo {
	switch class {
	case DataClassString:
		if h.stringAlgo != algoUnset {
			return h.stringAlgo
		}
	default:
		if h.streamAlgo != algoUnset {
			return h.streamAlgo
		}
	}
	if h.v >= 5 {
		return algoAES256
	}
	if h.v == 4 {
		return algoAES
	}
	return algoRC4
}

func (h *standardHandler) Permissions() Permissions {
	p := h.params.P
	return Permissions{
		Print:             p&(1<<2) != 0,
		Modify:            p&(1<<3) != 0,
		Copy:              p&(1<<4) != 0,
		ModifyAnnotations: p&(1<<5) != 0,
		FillForms:         p&(1<<8) != 0,
		ExtractAccessible: p&(1<<9) != 0,
		Assemble:          p&(1<<10) != 0,
		PrintHighQuality:  p&(1<<11) != 0,
	}
}

type noEncryption struct{}

func (noEncryption) IsEncrypted() bool          { return false }
func (noEncryption) Authenticate(string) error  { return nil }
func (noEncryption) EncryptMetadata() bool      { return false }
func (noEncryption) Decrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryption) Encrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryption) Permissions() Permissions {
	return Permissions{Print: true, Modify: true, Copy: true, ModifyAnnotations: true,
		FillForms: true, ExtractAccessible: true, Assemble: true, PrintHighQuality: true}
}

// NoopHandler returns a reusable pass-through handler.
func NoopHandler() Handler { return noEncryption{} }

func parseCryptFilters(cf map[string]string, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := make(map[string]cryptAlgo, len(cf))
	for name, cfm := range cf {
		switch cfm {
		case "V2":
			out[name] = algoRC4
		case "AESV2":
			out[name] = algoAES
		case "AESV3":
			out[name] = algoAES256
		case "None":
			out[name] = algoNone
		case "":
			out[name] = base
		default:
			return nil, fmt.Errorf("unsupported crypt filter method %s", cfm)
		}
	}
	return out, nil
}

func resolveFilter(name string, base cryptAlgo, filters map[string]cryptAlgo) (cryptAlgo, error) {
	switch name {
	case "":
		if algo, ok := filters["StdCF"]; ok {
			return algo, nil
		}
		return base, nil
	case "Identity":
		return algoNone, nil
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("crypt filter %s not defined", name)
}
