// Wire encode/decode uses golang.org/x/crypto/cryptobyte for
// length-prefixed fields (certificate chains, cipher suite lists, PSK
// identities) instead of hand-rolled encoding/binary slicing.
package handshakemsg

import (
	"fmt"

	"funahara/dtlshandshake/internal/wireformat"

	"golang.org/x/crypto/cryptobyte"
)

// RandomLength : ClientRandom/ServerRandomのバイト長
// RFC5246 7.4.1.2参照 (gmt_unix_time 4byte + random_bytes 28byte)
const RandomLength = 32

// VerifyDataLength : Finished.verify_dataのバイト長
const VerifyDataLength = 12

// Body is implemented by every concrete handshake message variant.
type Body interface {
	Type() wireformat.HandshakeType
	Marshal() []byte
}

// HelloRequest carries no fields (RFC5246 7.4.1.1).
type HelloRequest struct{}

func (HelloRequest) Type() wireformat.HandshakeType { return wireformat.HandshakeTypeHelloRequest }
func (HelloRequest) Marshal() []byte                { return nil }

// ClientHello : RFC5246 7.4.1.2 / RFC6347 4.3.2 (cookie field added for DTLS)
type ClientHello struct {
	ClientVersion      wireformat.ProtocolVersion
	Random             [RandomLength]byte
	SessionID          []byte
	Cookie             []byte // empty outside DTLS
	CipherSuites       []wireformat.CipherSuite
	CompressionMethods []byte
}

func (*ClientHello) Type() wireformat.HandshakeType { return wireformat.HandshakeTypeClientHello }

func (c *ClientHello) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(c.ClientVersion))
	b.AddBytes(c.Random[:])
	addUint8Vector(&b, c.SessionID)
	if c.ClientVersion == wireformat.VersionDTLS12 {
		addUint8Vector(&b, c.Cookie)
	}
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) {
		for _, cs := range c.CipherSuites {
			child.AddUint16(uint16(cs))
		}
	})
	addUint8Vector(&b, c.CompressionMethods)
	return must(b.Bytes())
}

// UnmarshalClientHello decodes a ClientHello body (excluding the DTLS
// message_seq/fragment_offset/fragment_length header fields, which the
// aggregator strips before handing bytes to the message layer).
func UnmarshalClientHello(data []byte, dtls bool) (*ClientHello, error) {
	s := cryptobyte.String(data)
	c := &ClientHello{}
	var version uint16
	if !s.ReadUint16(&version) {
		return nil, errShort("ClientHello.client_version")
	}
	c.ClientVersion = wireformat.ProtocolVersion(version)
	random := make([]byte, RandomLength)
	if !s.ReadBytes(&random, RandomLength) {
		return nil, errShort("ClientHello.random")
	}
	copy(c.Random[:], random)

	var sessionID cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&sessionID) {
		return nil, errShort("ClientHello.session_id")
	}
	c.SessionID = cloneBytes(sessionID)

	if dtls {
		var cookie cryptobyte.String
		if !s.ReadUint8LengthPrefixed(&cookie) {
			return nil, errShort("ClientHello.cookie")
		}
		c.Cookie = cloneBytes(cookie)
	}

	var suites cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&suites) {
		return nil, errShort("ClientHello.cipher_suites")
	}
	for !suites.Empty() {
		var v uint16
		if !suites.ReadUint16(&v) {
			return nil, errShort("ClientHello.cipher_suites[i]")
		}
		c.CipherSuites = append(c.CipherSuites, wireformat.CipherSuite(v))
	}
	if len(c.CipherSuites) > wireformat.MaxCipherSuites {
		return nil, fmt.Errorf("handshakemsg: ClientHello offers %d cipher suites, max %d", len(c.CipherSuites), wireformat.MaxCipherSuites)
	}

	var compression cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&compression) {
		return nil, errShort("ClientHello.compression_methods")
	}
	c.CompressionMethods = cloneBytes(compression)
	return c, nil
}

// ServerHello : RFC5246 7.4.1.3
type ServerHello struct {
	ServerVersion     wireformat.ProtocolVersion
	Random            [RandomLength]byte
	SessionID         []byte
	CipherSuite       wireformat.CipherSuite
	CompressionMethod byte
	ExtensionTypes []uint16
}

func (*ServerHello) Type() wireformat.HandshakeType { return wireformat.HandshakeTypeServerHello }

func (s *ServerHello) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(s.ServerVersion))
	b.AddBytes(s.Random[:])
	addUint8Vector(&b, s.SessionID)
	b.AddUint16(uint16(s.CipherSuite))
	b.AddUint8(s.CompressionMethod)
	if len(s.ExtensionTypes) > 0 {
		b.AddUint16LengthPrefixed(func(exts *cryptobyte.Builder) {
			for _, et := range s.ExtensionTypes {
				exts.AddUint16(et)
				exts.AddUint16LengthPrefixed(func(*cryptobyte.Builder) {})
			}
		})
	}
	return must(b.Bytes())
}

// UnmarshalServerHello decodes a ServerHello body.
func UnmarshalServerHello(data []byte) (*ServerHello, error) {
	s := cryptobyte.String(data)
	out := &ServerHello{}
	var version uint16
	if !s.ReadUint16(&version) {
		return nil, errShort("ServerHello.server_version")
	}
	out.ServerVersion = wireformat.ProtocolVersion(version)

	random := make([]byte, RandomLength)
	if !s.ReadBytes(&random, RandomLength) {
		return nil, errShort("ServerHello.random")
	}
	copy(out.Random[:], random)

	var sessionID cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&sessionID) {
		return nil, errShort("ServerHello.session_id")
	}
	out.SessionID = cloneBytes(sessionID)

	var cs uint16
	if !s.ReadUint16(&cs) {
		return nil, errShort("ServerHello.cipher_suite")
	}
	out.CipherSuite = wireformat.CipherSuite(cs)

	var compression uint8
	if !s.ReadUint8(&compression) {
		return nil, errShort("ServerHello.compression_method")
	}
	out.CompressionMethod = compression

	if s.Empty() {
		return out, nil
	}
	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) {
		return nil, errShort("ServerHello.extensions")
	}
	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, errShort("ServerHello.extensions[i]")
		}
		out.ExtensionTypes = append(out.ExtensionTypes, extType)
	}
	return out, nil
}

// HelloVerifyRequest : RFC6347 4.2.1 (DTLS only)
type HelloVerifyRequest struct {
	ServerVersion wireformat.ProtocolVersion
	Cookie        []byte
}

func (*HelloVerifyRequest) Type() wireformat.HandshakeType {
	return wireformat.HandshakeTypeHelloVerifyRequest
}

func (h *HelloVerifyRequest) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(h.ServerVersion))
	addUint8Vector(&b, h.Cookie)
	return must(b.Bytes())
}

func UnmarshalHelloVerifyRequest(data []byte) (*HelloVerifyRequest, error) {
	s := cryptobyte.String(data)
	out := &HelloVerifyRequest{}
	var version uint16
	if !s.ReadUint16(&version) {
		return nil, errShort("HelloVerifyRequest.server_version")
	}
	out.ServerVersion = wireformat.ProtocolVersion(version)
	var cookie cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&cookie) {
		return nil, errShort("HelloVerifyRequest.cookie")
	}
	out.Cookie = cloneBytes(cookie)
	return out, nil
}

// Certificate : RFC5246 7.4.2, a chain of opaque DER certificates
type Certificate struct {
	Chain [][]byte
}

func (*Certificate) Type() wireformat.HandshakeType { return wireformat.HandshakeTypeCertificate }

func (c *Certificate) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint24LengthPrefixed(func(list *cryptobyte.Builder) {
		for _, der := range c.Chain {
			list.AddUint24LengthPrefixed(func(entry *cryptobyte.Builder) {
				entry.AddBytes(der)
			})
		}
	})
	return must(b.Bytes())
}

func UnmarshalCertificate(data []byte) (*Certificate, error) {
	s := cryptobyte.String(data)
	out := &Certificate{}
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) {
		return nil, errShort("Certificate.certificate_list")
	}
	for !list.Empty() {
		var entry cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&entry) {
			return nil, errShort("Certificate.certificate_list[i]")
		}
		out.Chain = append(out.Chain, cloneBytes(entry))
	}
	return out, nil
}

// ServerKeyExchange : RFC5246 7.4.3. PSK suites use the Hint-only shape
// (RFC4279 §3).
type ServerKeyExchange struct {
	PSKIdentityHint []byte // PSK suites

	ECDHECurveType   byte   // ECDHE suites: named_curve form, curve type 0x03
	ECDHENamedCurve  uint16 // x25519 = 0x001d
	ECDHEPublicKey   []byte
	SignatureScheme  uint16
	Signature        []byte
}

func (*ServerKeyExchange) Type() wireformat.HandshakeType {
	return wireformat.HandshakeTypeServerKeyExchange
}

func (s *ServerKeyExchange) Marshal() []byte {
	var b cryptobyte.Builder
	if s.ECDHEPublicKey != nil {
		b.AddUint8(s.ECDHECurveType)
		b.AddUint16(s.ECDHENamedCurve)
		addUint8Vector(&b, s.ECDHEPublicKey)
		b.AddUint16(s.SignatureScheme)
		b.AddUint16LengthPrefixed(func(sig *cryptobyte.Builder) { sig.AddBytes(s.Signature) })
	} else {
		addUint16Vector(&b, s.PSKIdentityHint)
	}
	return must(b.Bytes())
}

func UnmarshalServerKeyExchangePSK(data []byte) (*ServerKeyExchange, error) {
	s := cryptobyte.String(data)
	var hint cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&hint) {
		return nil, errShort("ServerKeyExchange.psk_identity_hint")
	}
	return &ServerKeyExchange{PSKIdentityHint: cloneBytes(hint)}, nil
}

func UnmarshalServerKeyExchangeECDHE(data []byte) (*ServerKeyExchange, error) {
	s := cryptobyte.String(data)
	out := &ServerKeyExchange{}
	if !s.ReadUint8(&out.ECDHECurveType) {
		return nil, errShort("ServerKeyExchange.curve_type")
	}
	if !s.ReadUint16(&out.ECDHENamedCurve) {
		return nil, errShort("ServerKeyExchange.named_curve")
	}
	var pub cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&pub) {
		return nil, errShort("ServerKeyExchange.public")
	}
	out.ECDHEPublicKey = cloneBytes(pub)
	if !s.ReadUint16(&out.SignatureScheme) {
		return nil, errShort("ServerKeyExchange.signature_scheme")
	}
	var sig cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&sig) {
		return nil, errShort("ServerKeyExchange.signature")
	}
	out.Signature = cloneBytes(sig)
	return out, nil
}

// CertificateRequest : RFC5246 7.4.4 (server asks for client auth)
type CertificateRequest struct {
	CertificateTypes    []byte
	SignatureAlgorithms [][2]byte
}

func (*CertificateRequest) Type() wireformat.HandshakeType {
	return wireformat.HandshakeTypeCertificateRequest
}

func (c *CertificateRequest) Marshal() []byte {
	var b cryptobyte.Builder
	addUint8Vector(&b, c.CertificateTypes)
	b.AddUint16LengthPrefixed(func(algs *cryptobyte.Builder) {
		for _, a := range c.SignatureAlgorithms {
			algs.AddBytes(a[:])
		}
	})
	b.AddUint16(0) // empty certificate_authorities, diagnostic pass-through only
	return must(b.Bytes())
}

func UnmarshalCertificateRequest(data []byte) (*CertificateRequest, error) {
	s := cryptobyte.String(data)
	out := &CertificateRequest{}
	var types cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&types) {
		return nil, errShort("CertificateRequest.certificate_types")
	}
	out.CertificateTypes = cloneBytes(types)
	var algs cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&algs) {
		return nil, errShort("CertificateRequest.supported_signature_algorithms")
	}
	for len(algs) >= 2 {
		out.SignatureAlgorithms = append(out.SignatureAlgorithms, [2]byte{algs[0], algs[1]})
		algs = algs[2:]
	}
	return out, nil
}

// ServerHelloDone : RFC5246 7.4.5, no fields.
type ServerHelloDone struct{}

func (ServerHelloDone) Type() wireformat.HandshakeType { return wireformat.HandshakeTypeServerHelloDone }
func (ServerHelloDone) Marshal() []byte                { return nil }

// CertificateVerify : RFC5246 7.4.8
type CertificateVerify struct {
	SignatureScheme uint16
	Signature       []byte
}

func (*CertificateVerify) Type() wireformat.HandshakeType {
	return wireformat.HandshakeTypeCertificateVerify
}

func (c *CertificateVerify) Marshal() []byte {
	var b cryptobyte.Builder
	b.AddUint16(c.SignatureScheme)
	b.AddUint16LengthPrefixed(func(sig *cryptobyte.Builder) { sig.AddBytes(c.Signature) })
	return must(b.Bytes())
}

func UnmarshalCertificateVerify(data []byte) (*CertificateVerify, error) {
	s := cryptobyte.String(data)
	out := &CertificateVerify{}
	if !s.ReadUint16(&out.SignatureScheme) {
		return nil, errShort("CertificateVerify.algorithm")
	}
	var sig cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&sig) {
		return nil, errShort("CertificateVerify.signature")
	}
	out.Signature = cloneBytes(sig)
	return out, nil
}

// ClientKeyExchange : RFC5246 7.4.7 / RFC4279 §2 (PSK identity form) or
// RFC8422-style ECDHE public-key form.
type ClientKeyExchange struct {
	PSKIdentity    []byte
	ECDHEPublicKey []byte
}

func (*ClientKeyExchange) Type() wireformat.HandshakeType {
	return wireformat.HandshakeTypeClientKeyExchange
}

func (c *ClientKeyExchange) Marshal() []byte {
	var b cryptobyte.Builder
	if c.ECDHEPublicKey != nil {
		addUint8Vector(&b, c.ECDHEPublicKey)
	} else {
		addUint16Vector(&b, c.PSKIdentity)
	}
	return must(b.Bytes())
}

func UnmarshalClientKeyExchangePSK(data []byte) (*ClientKeyExchange, error) {
	s := cryptobyte.String(data)
	var identity cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&identity) {
		return nil, errShort("ClientKeyExchange.psk_identity")
	}
	return &ClientKeyExchange{PSKIdentity: cloneBytes(identity)}, nil
}

func UnmarshalClientKeyExchangeECDHE(data []byte) (*ClientKeyExchange, error) {
	s := cryptobyte.String(data)
	var pub cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&pub) {
		return nil, errShort("ClientKeyExchange.public")
	}
	return &ClientKeyExchange{ECDHEPublicKey: cloneBytes(pub)}, nil
}

// Finished : RFC5246 7.4.9
type Finished struct {
	VerifyData [VerifyDataLength]byte
}

func (*Finished) Type() wireformat.HandshakeType { return wireformat.HandshakeTypeFinished }

func (f *Finished) Marshal() []byte {
	return append([]byte{}, f.VerifyData[:]...)
}

func UnmarshalFinished(data []byte) (*Finished, error) {
	if len(data) != VerifyDataLength {
		return nil, errShort("Finished.verify_data")
	}
	out := &Finished{}
	copy(out.VerifyData[:], data)
	return out, nil
}

// cloneBytes detaches a parsed vector from its backing record buffer.
// Empty vectors come back nil so a decode of a marshal compares equal
// field for field.
func cloneBytes(s cryptobyte.String) []byte {
	if len(s) == 0 {
		return nil
	}
	return append([]byte{}, s...)
}

func addUint8Vector(b *cryptobyte.Builder, data []byte) {
	b.AddUint8LengthPrefixed(func(child *cryptobyte.Builder) { child.AddBytes(data) })
}

func addUint16Vector(b *cryptobyte.Builder, data []byte) {
	b.AddUint16LengthPrefixed(func(child *cryptobyte.Builder) { child.AddBytes(data) })
}

func must(b []byte, err error) []byte {
	if err != nil {
		panic(fmt.Sprintf("handshakemsg: builder error: %v", err))
	}
	return b
}

func errShort(field string) error {
	return fmt.Errorf("handshakemsg: truncated or malformed %s", field)
}
