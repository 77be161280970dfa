package suite

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// ECDHEKeyPair is one side's ephemeral x25519 key pair for the
// certificate-based suite's key exchange.
type ECDHEKeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateECDHEKeyPair creates a fresh ephemeral x25519 key pair.
func GenerateECDHEKeyPair() (ECDHEKeyPair, error) {
	var kp ECDHEKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return ECDHEKeyPair{}, fmt.Errorf("suite: ecdhe key generation: %w", err)
	}
	// clamp per RFC7748; curve25519.X25519 also clamps internally but doing
	// it here keeps the stored private scalar in canonical form for reuse.
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return ECDHEKeyPair{}, fmt.Errorf("suite: ecdhe public key derivation: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// ECDHESharedSecret computes the pre_master_secret for the certificate-based
// suite: the raw X25519 shared point, per RFC8422-style ECDHE (no PSK
// interleaving, unlike RFC4279's PSK form in prf.go).
func ECDHESharedSecret(localPrivate, peerPublic [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(localPrivate[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("suite: ecdhe shared secret: %w", err)
	}
	return shared, nil
}
