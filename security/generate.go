package security

import (
	"crypto/aes"
	"crypto/rand"
	"encoding/binary"
)

// PermissionsValue packs a Permissions struct into the P flags word.
// Reserved bits are set as the standard handler requires.
func PermissionsValue(p Permissions) int32 {
	val := int32(-4) // bits 1 and 2 clear, all others set
	if !p.Print {
		val &^= 1 << 2
	}
	if !p.Modify {
		val &^= 1 << 3
	}
	if !p.Copy {
		val &^= 1 << 4
	}
	if !p.ModifyAnnotations {
		val &^= 1 << 5
	}
	if !p.FillForms {
		val &^= 1 << 8
	}
	if !p.ExtractAccessible {
		val &^= 1 << 9
	}
	if !p.Assemble {
		val &^= 1 << 10
	}
	if !p.PrintHighQuality {
		val &^= 1 << 11
	}
	return val
}

// GenerateRC4 produces Encrypt parameters for the RC4 handler at the
// given revision (2, 3 or 4) together with the file key. R4 callers
// should also set StmF/StrF and CryptFilters on the result when AES is
// wanted.
func GenerateRC4(userPwd, ownerPwd string, keyBits, r int, perms int32, fileID []byte) (*Params, []byte) {
	if ownerPwd == "" {
		ownerPwd = userPwd
	}
	if keyBits == 0 {
		if r == 2 {
			keyBits = 40
		} else {
			keyBits = 128
		}
	}
	o := computeOwnerEntry([]byte(userPwd), []byte(ownerPwd), keyBits/8, r)
	key := deriveKey([]byte(userPwd), o, perms, fileID, keyBits/8, r, true)
	u := computeUserEntry(key, fileID, r)
	v := 1
	if r == 3 {
		v = 2
	} else if r == 4 {
		v = 4
	}
	return &Params{
		Filter:     "Standard",
		V:          v,
		R:          r,
		LengthBits: keyBits,
		O:          o,
		U:          u,
		P:          perms,
		FileID:     fileID,
	}, key
}

// GenerateAES128 produces V4 parameters with an AESV2 StdCF filter.
func GenerateAES128(userPwd, ownerPwd string, perms int32, fileID []byte) (*Params, []byte) {
	p, key := GenerateRC4(userPwd, ownerPwd, 128, 4, perms, fileID)
	p.StmF = "StdCF"
	p.StrF = "StdCF"
	p.CryptFilters = map[string]string{"StdCF": "AESV2"}
	return p, key
}

// GenerateAES256 produces R6 parameters. The file key, salts and the
// Perms nonce are drawn from crypto/rand.
func GenerateAES256(userPwd, ownerPwd string, perms int32, encryptMetadata bool) (*Params, []byte, error) {
	if ownerPwd == "" {
		ownerPwd = userPwd
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}
	salts := make([]byte, 16)
	if _, err := rand.Read(salts); err != nil {
		return nil, nil, err
	}
	uPwd := []byte(userPwd)
	u := make([]byte, 48)
	copy(u[:32], hash2B(uPwd, salts[:8], nil, 6)[:32])
	copy(u[32:40], salts[:8])
	copy(u[40:48], salts[8:16])
	ik := hash2B(uPwd, salts[8:16], nil, 6)
	ue, err := aesCBCRaw(ik[:32], zeroIV, key, true)
	if err != nil {
		return nil, nil, err
	}

	oSalts := make([]byte, 16)
	if _, err := rand.Read(oSalts); err != nil {
		return nil, nil, err
	}
	oPwd := []byte(ownerPwd)
	o := make([]byte, 48)
	copy(o[:32], hash2B(oPwd, oSalts[:8], u, 6)[:32])
	copy(o[32:40], oSalts[:8])
	copy(o[40:48], oSalts[8:16])
	oik := hash2B(oPwd, oSalts[8:16], u, 6)
	oe, err := aesCBCRaw(oik[:32], zeroIV, key, true)
	if err != nil {
		return nil, nil, err
	}

	permsBlock := make([]byte, 16)
	binary.LittleEndian.PutUint32(permsBlock[:4], uint32(perms))
	permsBlock[4], permsBlock[5], permsBlock[6], permsBlock[7] = 0xff, 0xff, 0xff, 0xff
	if encryptMetadata {
		permsBlock[8] = 'T'
	} else {
		permsBlock[8] = 'F'
	}
	permsBlock[9], permsBlock[10], permsBlock[11] = 'a', 'd', 'b'
	if _, err := rand.Read(permsBlock[12:]); err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	permsEnc := make([]byte, 16)
	block.Encrypt(permsEnc, permsBlock)

	em := encryptMetadata
	return &Params{
		Filter:          "Standard",
		V:               5,
		R:               6,
		LengthBits:      256,
		O:               o,
		U:               u,
		OE:              oe,
		UE:              ue,
		Perms:           permsEnc,
		P:               perms,
		EncryptMetadata: &em,
		StmF:            "StdCF",
		StrF:            "StdCF",
		CryptFilters:    map[string]string{"StdCF": "AESV3"},
	}, key, nil
}
