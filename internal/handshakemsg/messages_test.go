package handshakemsg

import (
	"testing"

	"funahara/dtlshandshake/internal/wireformat"

	"github.com/stretchr/testify/require"
)

func TestClientHelloRoundTripDTLS(t *testing.T) {
	in := &ClientHello{
		ClientVersion:      wireformat.VersionDTLS12,
		SessionID:          []byte{1, 2, 3},
		Cookie:             []byte{0xAA, 0xBB, 0xCC, 0xDD},
		CipherSuites:       []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM, wireformat.CipherSuitePSKWithNullSHA256},
		CompressionMethods: []byte{0x00},
	}
	for i := range in.Random {
		in.Random[i] = byte(i)
	}

	out, err := UnmarshalClientHello(in.Marshal(), true)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestClientHelloRoundTripTLS(t *testing.T) {
	in := &ClientHello{
		ClientVersion:      wireformat.VersionTLS12,
		SessionID:          nil,
		CipherSuites:       []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM},
		CompressionMethods: []byte{0x00},
	}
	out, err := UnmarshalClientHello(in.Marshal(), false)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestClientHelloRejectsTooManyCipherSuites(t *testing.T) {
	in := &ClientHello{ClientVersion: wireformat.VersionDTLS12}
	for i := 0; i < wireformat.MaxCipherSuites+1; i++ {
		in.CipherSuites = append(in.CipherSuites, wireformat.CipherSuite(i))
	}
	_, err := UnmarshalClientHello(in.Marshal(), true)
	require.Error(t, err)
}

func TestServerHelloRoundTrip(t *testing.T) {
	in := &ServerHello{
		ServerVersion:     wireformat.VersionDTLS12,
		SessionID:         []byte{7, 7},
		CipherSuite:       wireformat.CipherSuitePSKWithAES128GCM,
		CompressionMethod: 0,
	}
	out, err := UnmarshalServerHello(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in.ServerVersion, out.ServerVersion)
	require.Equal(t, in.SessionID, out.SessionID)
	require.Equal(t, in.CipherSuite, out.CipherSuite)
}

func TestHelloVerifyRequestRoundTrip(t *testing.T) {
	in := &HelloVerifyRequest{ServerVersion: wireformat.VersionDTLS12, Cookie: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	out, err := UnmarshalHelloVerifyRequest(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCertificateRoundTrip(t *testing.T) {
	in := &Certificate{Chain: [][]byte{[]byte("leaf-der-bytes"), []byte("intermediate-der-bytes")}}
	out, err := UnmarshalCertificate(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestServerKeyExchangePSKRoundTrip(t *testing.T) {
	in := &ServerKeyExchange{PSKIdentityHint: []byte("hint-1")}
	out, err := UnmarshalServerKeyExchangePSK(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in.PSKIdentityHint, out.PSKIdentityHint)
}

func TestServerKeyExchangeECDHERoundTrip(t *testing.T) {
	in := &ServerKeyExchange{
		ECDHECurveType:  3,
		ECDHENamedCurve: 0x001d,
		ECDHEPublicKey:  make([]byte, 32),
		SignatureScheme: 0x0401,
		Signature:       []byte("signature-bytes"),
	}
	out, err := UnmarshalServerKeyExchangeECDHE(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestClientKeyExchangePSKRoundTrip(t *testing.T) {
	in := &ClientKeyExchange{PSKIdentity: []byte("device-42")}
	out, err := UnmarshalClientKeyExchangePSK(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestFinishedRoundTrip(t *testing.T) {
	in := &Finished{}
	copy(in.VerifyData[:], []byte("abcdefghijkl"))
	out, err := UnmarshalFinished(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestWrapTLSHeaderAndDTLSHeaderShapes(t *testing.T) {
	body := []byte{1, 2, 3, 4}
	tlsWire := WrapTLSHeader(wireformat.HandshakeTypeFinished, body)
	require.Len(t, tlsWire, 4+len(body))
	require.Equal(t, byte(wireformat.HandshakeTypeFinished), tlsWire[0])
	require.Equal(t, len(body), uint24(tlsWire[1:4]))

	dtlsWire := WrapDTLSHeader(wireformat.HandshakeTypeFinished, 3, body)
	require.Len(t, dtlsWire, 12+len(body))
	require.Equal(t, byte(wireformat.HandshakeTypeFinished), dtlsWire[0])
	require.Equal(t, len(body), uint24(dtlsWire[1:4]))
	require.Equal(t, uint16(3), uint16(dtlsWire[4])<<8|uint16(dtlsWire[5]))
	require.Equal(t, 0, uint24(dtlsWire[6:9]))
	require.Equal(t, len(body), uint24(dtlsWire[9:12]))
}
