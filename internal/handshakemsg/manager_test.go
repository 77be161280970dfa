package handshakemsg

import (
	"testing"

	"funahara/dtlshandshake/internal/wireformat"

	"github.com/stretchr/testify/require"
)

func TestSerializeIncludedForOrderNoGapsNoDuplicates(t *testing.T) {
	m := NewManager()

	ch := m.Message(wireformat.HandshakeTypeClientHello).(*ClientHello)
	ch.ClientVersion = wireformat.VersionDTLS12
	ch.CipherSuites = []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM}
	m.SetIncluded(wireformat.HandshakeTypeClientHello, true)

	sh := m.Message(wireformat.HandshakeTypeServerHello).(*ServerHello)
	sh.CipherSuite = wireformat.CipherSuitePSKWithAES128GCM
	m.SetIncluded(wireformat.HandshakeTypeServerHello, true)

	m.SetIncluded(wireformat.HandshakeTypeServerHelloDone, true)

	cke := m.Message(wireformat.HandshakeTypeClientKeyExchange).(*ClientKeyExchange)
	cke.PSKIdentity = []byte("device-1")
	m.SetIncluded(wireformat.HandshakeTypeClientKeyExchange, true)

	fin := m.Message(wireformat.HandshakeTypeFinished).(*Finished)
	copy(fin.VerifyData[:], []byte("123456789012"))
	m.SetIncluded(wireformat.HandshakeTypeFinished, true)

	out := m.SerializeIncludedFor(wireformat.ConnectionEndClient, wireformat.CipherSuitePSKWithAES128GCM)

	// Walk the TLS headers back out and confirm order + no gaps/duplicates.
	var gotOrder []wireformat.HandshakeType
	for len(out) > 0 {
		require.GreaterOrEqual(t, len(out), 4)
		kind := wireformat.HandshakeType(out[0])
		length := uint24(out[1:4])
		require.LessOrEqual(t, 4+length, len(out))
		gotOrder = append(gotOrder, kind)
		out = out[4+length:]
	}

	require.Equal(t, []wireformat.HandshakeType{
		wireformat.HandshakeTypeClientHello,
		wireformat.HandshakeTypeServerHello,
		wireformat.HandshakeTypeServerHelloDone,
		wireformat.HandshakeTypeClientKeyExchange,
		wireformat.HandshakeTypeFinished,
	}, gotOrder)

	seen := map[wireformat.HandshakeType]bool{}
	for _, k := range gotOrder {
		require.False(t, seen[k], "duplicate kind in transcript: %v", k)
		seen[k] = true
	}
}

func TestHelloRequestAndHelloVerifyNeverIncluded(t *testing.T) {
	m := NewManager()
	// Even if somehow flagged included, they aren't in transcriptOrder at
	// all, so SetIncluded on them can never surface bytes.
	m.SetIncluded(wireformat.HandshakeTypeHelloRequest, true)
	m.SetIncluded(wireformat.HandshakeTypeHelloVerifyRequest, true)
	m.SetIncluded(wireformat.HandshakeTypeClientHello, true)

	out := m.SerializeIncludedFor(wireformat.ConnectionEndClient, wireformat.CipherSuitePSKWithAES128GCM)
	require.Equal(t, wireformat.HandshakeTypeClientHello, wireformat.HandshakeType(out[0]))

	ch := m.Message(wireformat.HandshakeTypeClientHello).(*ClientHello)
	require.Equal(t, 4+len(ch.Marshal()), len(out))
}

func TestSerializeThroughPreCertVerifyTruncates(t *testing.T) {
	m := NewManager()
	m.SetIncluded(wireformat.HandshakeTypeClientHello, true)
	m.SetIncluded(wireformat.HandshakeTypeServerHello, true)
	m.SetIncluded(wireformat.HandshakeTypeCertificateVerify, true)
	m.SetIncluded(wireformat.HandshakeTypeFinished, true)

	out := m.SerializeThroughPreCertVerify(wireformat.CipherSuiteECDHEWithAES128GCM)
	// Only ClientHello + ServerHello should appear; CertificateVerify/Finished excluded.
	var kinds []wireformat.HandshakeType
	for len(out) > 0 {
		kind := wireformat.HandshakeType(out[0])
		length := uint24(out[1:4])
		kinds = append(kinds, kind)
		out = out[4+length:]
	}
	require.Equal(t, []wireformat.HandshakeType{wireformat.HandshakeTypeClientHello, wireformat.HandshakeTypeServerHello}, kinds)
}

func TestResetClearsInclusionAndInstances(t *testing.T) {
	m := NewManager()
	ch := m.Message(wireformat.HandshakeTypeClientHello).(*ClientHello)
	ch.SessionID = []byte{1, 2, 3}
	m.SetIncluded(wireformat.HandshakeTypeClientHello, true)

	m.Reset()

	require.False(t, m.IsIncluded(wireformat.HandshakeTypeClientHello))
	freshCH := m.Message(wireformat.HandshakeTypeClientHello).(*ClientHello)
	require.Nil(t, freshCH.SessionID)
}

func TestServerAndClientCertificatesDoNotCollide(t *testing.T) {
	m := NewManager()

	serverCert := m.Message(wireformat.HandshakeTypeCertificate).(*Certificate)
	serverCert.Chain = [][]byte{[]byte("server-leaf")}
	m.SetIncluded(wireformat.HandshakeTypeCertificate, true)

	m.SetClientCertificate(&Certificate{Chain: [][]byte{[]byte("client-leaf")}})
	m.SetClientCertificateIncluded(true)

	m.SetIncluded(wireformat.HandshakeTypeServerHelloDone, true)
	cke := m.Message(wireformat.HandshakeTypeClientKeyExchange).(*ClientKeyExchange)
	cke.PSKIdentity = []byte("device-1")
	m.SetIncluded(wireformat.HandshakeTypeClientKeyExchange, true)

	out := m.SerializeIncludedFor(wireformat.ConnectionEndServer, wireformat.CipherSuiteECDHEWithAES128GCM)

	var chains [][]byte
	for len(out) > 0 {
		kind := wireformat.HandshakeType(out[0])
		length := uint24(out[1:4])
		body := out[4 : 4+length]
		if kind == wireformat.HandshakeTypeCertificate {
			cert, err := UnmarshalCertificate(body)
			require.NoError(t, err)
			chains = append(chains, cert.Chain[0])
		}
		out = out[4+length:]
	}

	require.Equal(t, [][]byte{[]byte("server-leaf"), []byte("client-leaf")}, chains)
}

func TestResetThenSetMatchesFreshAssign(t *testing.T) {
	a := NewManager()
	a.Reset()
	ca := a.Message(wireformat.HandshakeTypeClientHello).(*ClientHello)
	ca.SessionID = []byte{9}

	b := NewManager()
	cb := b.Message(wireformat.HandshakeTypeClientHello).(*ClientHello)
	cb.SessionID = []byte{9}

	require.Equal(t, ca, cb)
}
