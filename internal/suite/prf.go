package suite

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
)

type HashAlgorithm int

const (
	HashSHA256 HashAlgorithm = iota
	HashSHA384
)

func (h HashAlgorithm) new() func() hash.Hash {
	if h == HashSHA384 {
		return sha512.New384
	}
	return sha256.New
}

// Size returns the hash's digest size in bytes.
func (h HashAlgorithm) Size() int {
	if h == HashSHA384 {
		return 48
	}
	return 32
}

// PRF : TLS1.2の疑似乱数生成関数(Pseudorandom Function)
// RFC5246 5. HMAC and the Pseudorandom Function参照
// P_hash(secret, seed) = HMAC_hash(secret, A(1) + seed) + HMAC_hash(secret, A(2) + seed) + ...
// A(0) = seed
// A(i) = HMAC_hash(secret, A(i-1))
func PRF(h HashAlgorithm, secret, label, seed []byte, length int) []byte {
	newHash := h.new()
	a := append(append([]byte{}, label...), seed...)
	out := make([]byte, 0, length)
	for len(out) < length {
		mac := hmac.New(newHash, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(newHash, secret)
		mac.Write(a)
		mac.Write(label)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}
	return out[:length]
}

// MasterSecret : Pre Master SecretからMaster Secretを生成する
// master_secret = PRF(pre_master_secret, "master secret", client_random || server_random)[0..47]
func MasterSecret(h HashAlgorithm, preMasterSecret, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return PRF(h, preMasterSecret, []byte("master secret"), seed, 48)
}

type KeySizes struct {
	MACLength int // 0 for AEAD suites
	KeyLength int
	IVLength  int
}

// KeyBlock : Master SecretからKey Expansion Blockを生成する
// key_block = PRF(master_secret, "key expansion", server_random || client_random)
// client_write_MAC || server_write_MAC || client_write_key || server_write_key || client_write_IV || server_write_IV
func KeyBlock(h HashAlgorithm, masterSecret, clientRandom, serverRandom []byte, sizes KeySizes) (clientMAC, serverMAC, clientKey, serverKey, clientIV, serverIV []byte) {
	total := 2*sizes.MACLength + 2*sizes.KeyLength + 2*sizes.IVLength
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	block := PRF(h, masterSecret, []byte("key expansion"), seed, total)

	offset := 0
	take := func(n int) []byte {
		b := block[offset : offset+n]
		offset += n
		return b
	}
	clientMAC = take(sizes.MACLength)
	serverMAC = take(sizes.MACLength)
	clientKey = take(sizes.KeyLength)
	serverKey = take(sizes.KeyLength)
	clientIV = take(sizes.IVLength)
	serverIV = take(sizes.IVLength)
	return
}

// VerifyData : Finishedメッセージのverify_dataを生成する
// verify_data = PRF(master_secret, finished_label, Hash(handshake_messages))[0..11]
// RFC5246 7.4.9 Finished参照
func VerifyData(h HashAlgorithm, masterSecret []byte, isClient bool, transcript []byte) []byte {
	label := "server finished"
	if isClient {
		label = "client finished"
	}
	sum := hashTranscript(h, transcript)
	return PRF(h, masterSecret, []byte(label), sum, 12)
}

func hashTranscript(h HashAlgorithm, transcript []byte) []byte {
	newHash := h.new()
	digest := newHash()
	digest.Write(transcript)
	return digest.Sum(nil)
}

// PreMasterSecretFromPSK : PSKからPre Master Secretを生成する
// RFC4279 2. PSK Key Exchange Algorithm参照
// struct { uint16 psk_len; opaque other_secret<0..2^16-1>; opaque psk<0..2^16-1>; }
// other_secret is psk_len zero octets for pure-PSK suites.
func PreMasterSecretFromPSK(psk []byte) []byte {
	n := len(psk)
	lenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBytes, uint16(n))

	out := make([]byte, 0, 4+2*n)
	out = append(out, lenBytes...)
	out = append(out, make([]byte, n)...)
	out = append(out, lenBytes...)
	out = append(out, psk...)
	return out
}
