package recordlayer

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"funahara/dtlshandshake/internal/wireformat"
)

// explicitNonceLength is the per-record explicit nonce RFC5288 prepends to
// the GCM ciphertext (distinct from the 4-byte implicit salt carried in the
// write IV).
const explicitNonceLength = 8

// Transport (transport.go) builds a write-side box on each
// InstallWriteSecurityParameters and a read-side box on each
// InstallReadSecurityParameters, and calls Seal from Send and Open when it
// handles an inbound record.
type AEADBox struct {
	writeKey []byte
	iv       []byte // 4-byte implicit salt from the key block, RFC5288 §3
	aead     cipher.AEAD
}

// NewAEADBox builds an AES-128-GCM AEADBox from the key-block slice the
// handshake derived via suite.KeyBlock.
func NewAEADBox(writeKey, iv []byte) (*AEADBox, error) {
	block, err := aes.NewCipher(writeKey)
	if err != nil {
		return nil, fmt.Errorf("recordlayer: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("recordlayer: gcm: %w", err)
	}
	return &AEADBox{writeKey: writeKey, iv: iv, aead: aead}, nil
}

// Seal encrypts plaintext for the given epoch/sequence/content-type,
// returning explicit_nonce || ciphertext || tag, ready to place directly in
// a DTLSCiphertext.fragment per RFC5288 §3.
func (b *AEADBox) Seal(epoch uint16, sequence uint64, contentType wireformat.ContentType, version wireformat.ProtocolVersion, plaintext []byte) []byte {
	explicitNonce := make([]byte, explicitNonceLength)
	binary.BigEndian.PutUint16(explicitNonce[0:2], epoch)
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, sequence)
	copy(explicitNonce[2:8], seqBytes[2:8])

	nonce := make([]byte, 0, 12)
	nonce = append(nonce, b.iv...)
	nonce = append(nonce, explicitNonce...)

	aad := additionalData(epoch, sequence, contentType, version, len(plaintext))
	ciphertext := b.aead.Seal(nil, nonce, plaintext, aad)

	out := make([]byte, 0, len(explicitNonce)+len(ciphertext))
	out = append(out, explicitNonce...)
	out = append(out, ciphertext...)
	return out
}

// Open decrypts a record produced by Seal, verifying the AEAD tag.
func (b *AEADBox) Open(epoch uint16, sequence uint64, contentType wireformat.ContentType, version wireformat.ProtocolVersion, record []byte) ([]byte, error) {
	if len(record) < explicitNonceLength+b.aead.Overhead() {
		return nil, fmt.Errorf("recordlayer: record too short for AEAD")
	}
	explicitNonce := record[:explicitNonceLength]
	ciphertext := record[explicitNonceLength:]

	nonce := make([]byte, 0, 12)
	nonce = append(nonce, b.iv...)
	nonce = append(nonce, explicitNonce...)

	plaintextLen := len(ciphertext) - b.aead.Overhead()
	aad := additionalData(epoch, sequence, contentType, version, plaintextLen)

	plaintext, err := b.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("recordlayer: aead open: %w", err)
	}
	return plaintext, nil
}

func additionalData(epoch uint16, sequence uint64, contentType wireformat.ContentType, version wireformat.ProtocolVersion, length int) []byte {
	out := make([]byte, 13)
	binary.BigEndian.PutUint16(out[0:2], epoch)
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, sequence)
	copy(out[2:8], seqBytes[2:8])
	out[8] = byte(contentType)
	binary.BigEndian.PutUint16(out[9:11], uint16(version))
	binary.BigEndian.PutUint16(out[11:13], uint16(length))
	return out
}
