package suite

import "funahara/dtlshandshake/internal/wireformat"

type CipherType int

const (
	CipherTypeNullOrStream CipherType = iota
	CipherTypeAEAD
)

// KeyExchange identifies how ClientKeyExchange/ServerKeyExchange are built.
type KeyExchange int

const (
	KeyExchangePSK KeyExchange = iota
	KeyExchangeECDHE
)

type Descriptor struct {
	ID          wireformat.CipherSuite
	Hash        HashAlgorithm
	Cipher      CipherType
	KeyExchange KeyExchange
	Sizes       KeySizes
}

var registry = map[wireformat.CipherSuite]Descriptor{
	wireformat.CipherSuiteNullWithNullNull: {
		ID:          wireformat.CipherSuiteNullWithNullNull,
		Hash:        HashSHA256,
		Cipher:      CipherTypeNullOrStream,
		KeyExchange: KeyExchangePSK,
		Sizes:       KeySizes{MACLength: 0, KeyLength: 0, IVLength: 0},
	},
	wireformat.CipherSuitePSKWithNullSHA256: {
		ID:          wireformat.CipherSuitePSKWithNullSHA256,
		Hash:        HashSHA256,
		Cipher:      CipherTypeNullOrStream,
		KeyExchange: KeyExchangePSK,
		Sizes:       KeySizes{MACLength: 32, KeyLength: 0, IVLength: 0},
	},
	wireformat.CipherSuitePSKWithAES128GCM: {
		ID:          wireformat.CipherSuitePSKWithAES128GCM,
		Hash:        HashSHA256,
		Cipher:      CipherTypeAEAD,
		KeyExchange: KeyExchangePSK,
		Sizes:       KeySizes{MACLength: 0, KeyLength: 16, IVLength: 4},
	},
	wireformat.CipherSuiteECDHEWithAES128GCM: {
		ID:          wireformat.CipherSuiteECDHEWithAES128GCM,
		Hash:        HashSHA256,
		Cipher:      CipherTypeAEAD,
		KeyExchange: KeyExchangeECDHE,
		Sizes:       KeySizes{MACLength: 0, KeyLength: 16, IVLength: 4},
	},
}

// Lookup returns the Descriptor for a wire cipher suite id.
func Lookup(id wireformat.CipherSuite) (Descriptor, bool) {
	d, ok := registry[id]
	return d, ok
}

func Negotiate(serverPreference, clientOffered []wireformat.CipherSuite) (wireformat.CipherSuite, bool) {
	offered := make(map[wireformat.CipherSuite]bool, len(clientOffered))
	for _, c := range clientOffered {
		offered[c] = true
	}
	for _, c := range serverPreference {
		if offered[c] {
			return c, true
		}
	}
	return 0, false
}

func ClientAccepts(selected wireformat.CipherSuite, offered []wireformat.CipherSuite) bool {
	for _, c := range offered {
		if c == selected {
			return true
		}
	}
	return false
}
