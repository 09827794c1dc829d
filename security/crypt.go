package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// deriveKey computes the file encryption key for R2 to R4.
func deriveKey(pwd, owner []byte, pVal int32, fileID []byte, keyLen int, r int, encryptMeta bool) []byte {
	if keyLen <= 0 {
		keyLen = 5
	}
	if keyLen > 16 {
		keyLen = 16
	}
	h := md5.New()
	h.Write(padPassword(pwd))
	h.Write(owner)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(pVal))
	h.Write(pBuf[:])
	h.Write(fileID)
	if r >= 4 && !encryptMeta {
		h.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	sum := h.Sum(nil)
	if r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(sum[:keyLen])
			sum = s[:]
		}
	}
	return sum[:keyLen]
}

// ownerKey computes the RC4 key used to produce the O entry.
func ownerKey(ownerPwd []byte, keyLen, r int) []byte {
	sum := md5.Sum(padPassword(ownerPwd))
	key := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(key)
			key = s[:]
		}
	}
	if keyLen <= 0 {
		keyLen = 5
	}
	if keyLen > 16 {
		keyLen = 16
	}
	return key[:keyLen]
}

// computeOwnerEntry encrypts the padded user password with the owner
// key, with 19 extra passes for R3 and up.
func computeOwnerEntry(userPwd, ownerPwd []byte, keyLen, r int) []byte {
	key := ownerKey(ownerPwd, keyLen, r)
	val := rc4Simple(key, padPassword(userPwd))
	if r >= 3 {
		for i := 1; i <= 19; i++ {
			val = rc4Simple(xorKey(key, byte(i)), val)
		}
	}
	return val
}

// recoverUserPassword reverses the O entry with a candidate owner
// password, yielding the padded user password.
func recoverUserPassword(ownerPwd, oEntry []byte, keyLen, r int) ([]byte, bool) {
	if len(oEntry) < 32 {
		return nil, false
	}
	key := ownerKey(ownerPwd, keyLen, r)
	val := append([]byte(nil), oEntry[:32]...)
	if r >= 3 {
		for i := 19; i >= 1; i-- {
			val = rc4Simple(xorKey(key, byte(i)), val)
		}
	}
	return rc4Simple(key, val), true
}

// computeUserEntry produces the U entry for a file key.
func computeUserEntry(fileKey, fileID []byte, r int) []byte {
	if r <= 2 {
		return rc4Simple(fileKey, passwordPadding)
	}
	h := md5.New()
	h.Write(passwordPadding)
	h.Write(fileID)
	val := rc4Simple(fileKey, h.Sum(nil))
	for i := 1; i <= 19; i++ {
		val = rc4Simple(xorKey(fileKey, byte(i)), val)
	}
	out := make([]byte, 32)
	copy(out, val)
	copy(out[16:], passwordPadding)
	return out
}

func checkUserPassword(key, uEntry, fileID []byte, r int) bool {
	if len(uEntry) < 16 {
		return false
	}
	expect := computeUserEntry(key, fileID, r)
	return subtle.ConstantTimeCompare(expect[:16], uEntry[:16]) == 1
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i, c := range key {
		out[i] = c ^ b
	}
	return out
}

// objectKey derives the per-object key for RC4 and AES-128.
func objectKey(fileKey []byte, objNum, gen int, useAES bool) []byte {
	buf := make([]byte, 0, len(fileKey)+9)
	buf = append(buf, fileKey...)
	buf = append(buf, byte(objNum), byte(objNum>>8), byte(objNum>>16))
	buf = append(buf, byte(gen), byte(gen>>8))
	if useAES {
		buf = append(buf, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	sum := md5.Sum(buf)
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func rc4Simple(key, data []byte) []byte {
	out := make([]byte, len(data))
	c, _ := rc4.NewCipher(key)
	c.XORKeyStream(out, data)
	return out
}

func rc4Crypt(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// aesCBC handles the PDF framing: a leading random IV and PKCS#7
// padding around the payload.
func aesCBC(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		iv := make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return nil, err
		}
		padLen := aes.BlockSize - len(data)%aes.BlockSize
		plain := make([]byte, len(data)+padLen)
		copy(plain, data)
		for i := len(data); i < len(plain); i++ {
			plain[i] = byte(padLen)
		}
		out := make([]byte, aes.BlockSize+len(plain))
		copy(out, iv)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], plain)
		return out, nil
	}
	if len(data) < aes.BlockSize || (len(data)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, errors.New("malformed aes ciphertext")
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])
	if len(out) == 0 {
		return out, nil
	}
	pad := int(out[len(out)-1])
	if pad <= 0 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

// aesCBCRaw runs CBC with a zero IV and no padding, as used for the
// UE and OE entries and the revision 6 hash.
func aesCBCRaw(key, iv, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("aes data not block aligned")
	}
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

var zeroIV = make([]byte, aes.BlockSize)

// hash2B implements the revision 6 password hash. For revision 5 the
// hash is a single SHA-256 pass.
func hash2B(pwd, salt, udata []byte, r int) []byte {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	h := sha256.New()
	h.Write(pwd)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if r == 5 {
		return k
	}
	for round := 0; ; round++ {
		k1 := make([]byte, 0, 64*(len(pwd)+len(k)+len(udata)))
		for i := 0; i < 64; i++ {
			k1 = append(k1, pwd...)
			k1 = append(k1, k...)
			k1 = append(k1, udata...)
		}
		e, err := aesCBCRaw(k[:16], k[16:32], k1, true)
		if err != nil {
			return k
		}
		var mod int
		for _, b := range e[:16] {
			mod = (mod + int(b)) % 3
		}
		switch mod {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
		if round >= 63 && int(e[len(e)-1]) <= round-32 {
			break
		}
	}
	return k[:32]
}

func aes256UserKey(pwd, uEntry, ue []byte, r int) ([]byte, bool, error) {
	if len(uEntry) < 48 || len(ue) < 32 {
		return nil, false, errors.New("user entry too short")
	}
	validationSalt := uEntry[32:40]
	keySalt := uEntry[40:48]
	if subtle.ConstantTimeCompare(hash2B(pwd, validationSalt, nil, r)[:32], uEntry[:32]) != 1 {
		return nil, false, nil
	}
	ik := hash2B(pwd, keySalt, nil, r)
	key, err := aesCBCRaw(ik[:32], zeroIV, ue[:32], false)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func aes256OwnerKey(pwd, oEntry, oe, uEntry []byte, r int) ([]byte, bool, error) {
	if len(oEntry) < 48 || len(oe) < 32 || len(uEntry) < 48 {
		return nil, false, errors.New("owner entry too short")
	}
	validationSalt := oEntry[32:40]
	keySalt := oEntry[40:48]
	if subtle.ConstantTimeCompare(hash2B(pwd, validationSalt, uEntry[:48], r)[:32], oEntry[:32]) != 1 {
		return nil, false, nil
	}
	ik := hash2B(pwd, keySalt, uEntry[:48], r)
	key, err := aesCBCRaw(ik[:32], zeroIV, oe[:32], false)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func decryptPerms(key, perms []byte) (int32, error) {
	if len(perms) != 16 {
		return 0, errors.New("perms entry must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, err
	}
	out := make([]byte, 16)
	block.Decrypt(out, perms)
	if string(out[9:12]) != "adb" {
		return 0, errors.New("invalid perms signature")
	}
	return int32(binary.LittleEndian.Uint32(out[:4])), nil
}
