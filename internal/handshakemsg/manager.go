package handshakemsg

import (
	"encoding/binary"

	"funahara/dtlshandshake/internal/wireformat"
)

func WrapTLSHeader(kind wireformat.HandshakeType, body []byte) []byte {
	out := make([]byte, 4+len(body))
	out[0] = byte(kind)
	putUint24(out[1:4], len(body))
	copy(out[4:], body)
	return out
}

// WrapDTLSHeader prepends the 12-byte DTLS handshake header (type, length,
// message_seq, fragment_offset, fragment_length) per RFC6347 §4.2.2, with
// fragment_offset=0 and fragment_length=length (an unfragmented send).
func WrapDTLSHeader(kind wireformat.HandshakeType, messageSeq uint16, body []byte) []byte {
	out := make([]byte, 12+len(body))
	out[0] = byte(kind)
	putUint24(out[1:4], len(body))
	binary.BigEndian.PutUint16(out[4:6], messageSeq)
	putUint24(out[6:9], 0)
	putUint24(out[9:12], len(body))
	copy(out[12:], body)
	return out
}

func putUint24(dst []byte, v int) {
	dst[0] = byte(v >> 16)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v)
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}

type slot struct {
	body     Body
	included bool
}

type Manager struct {
	slots map[wireformat.HandshakeType]*slot

	// clientCert holds the client's own Certificate message, kept apart
	// from slots[HandshakeTypeCertificate] (the server's) — see
	// transcriptPos below.
	clientCert slot
}

// NewManager allocates a fresh, empty-instance Manager — equivalent to a
// freshly constructed MessageManager plus reset().
func NewManager() *Manager {
	m := &Manager{slots: make(map[wireformat.HandshakeType]*slot)}
	m.allocate()
	return m
}

func (m *Manager) allocate() {
	m.slots[wireformat.HandshakeTypeHelloRequest] = &slot{body: &HelloRequest{}}
	m.slots[wireformat.HandshakeTypeClientHello] = &slot{body: &ClientHello{}}
	m.slots[wireformat.HandshakeTypeServerHello] = &slot{body: &ServerHello{}}
	m.slots[wireformat.HandshakeTypeHelloVerifyRequest] = &slot{body: &HelloVerifyRequest{}}
	m.slots[wireformat.HandshakeTypeCertificate] = &slot{body: &Certificate{}}
	m.slots[wireformat.HandshakeTypeServerKeyExchange] = &slot{body: &ServerKeyExchange{}}
	m.slots[wireformat.HandshakeTypeCertificateRequest] = &slot{body: &CertificateRequest{}}
	m.slots[wireformat.HandshakeTypeServerHelloDone] = &slot{body: &ServerHelloDone{}}
	m.slots[wireformat.HandshakeTypeCertificateVerify] = &slot{body: &CertificateVerify{}}
	m.slots[wireformat.HandshakeTypeClientKeyExchange] = &slot{body: &ClientKeyExchange{}}
	m.slots[wireformat.HandshakeTypeFinished] = &slot{body: &Finished{}}
	m.clientCert = slot{body: &Certificate{}}
}

// Message borrows the mutable instance for a kind. No implicit clearing —
// callers overwrite the fields they need before Set or before reading.
func (m *Manager) Message(kind wireformat.HandshakeType) Body {
	return m.slots[kind].body
}

// Set replaces the instance stored for a kind (used on receive, once a
// message has been parsed into a fresh value).
func (m *Manager) Set(kind wireformat.HandshakeType, body Body) {
	m.slots[kind].body = body
}

// SetIncluded marks or unmarks a message kind for transcript inclusion.
func (m *Manager) SetIncluded(kind wireformat.HandshakeType, included bool) {
	m.slots[kind].included = included
}

// IsIncluded reports the current inclusion flag for a kind.
func (m *Manager) IsIncluded(kind wireformat.HandshakeType) bool {
	return m.slots[kind].included
}

// Reset marks every kind unincluded and drops every instance back to its
// zero value — equivalent to discarding the transcript and starting a new
// handshake.
func (m *Manager) Reset() {
	m.allocate()
}

// transcriptPos names one position in RFC5246 §7.4's message order.
// Certificate appears at two distinct positions in a mutual- auth
// handshake (the server's, then later the client's own): Manager keeps
// those as separate storage (clientCert below) even though both
// wire-encode as HandshakeTypeCertificate, since a single kind-keyed slot
// would let the client's Certificate silently overwrite the server's
// before the Finished hash is computed.
type transcriptPos struct {
	kind       wireformat.HandshakeType
	clientCert bool
}

var transcriptOrder = []transcriptPos{
	{kind: wireformat.HandshakeTypeClientHello},
	{kind: wireformat.HandshakeTypeServerHello},
	{kind: wireformat.HandshakeTypeCertificate},
	{kind: wireformat.HandshakeTypeServerKeyExchange},
	{kind: wireformat.HandshakeTypeCertificateRequest},
	{kind: wireformat.HandshakeTypeServerHelloDone},
	{kind: wireformat.HandshakeTypeCertificate, clientCert: true},
	{kind: wireformat.HandshakeTypeClientKeyExchange},
	{kind: wireformat.HandshakeTypeCertificateVerify},
	{kind: wireformat.HandshakeTypeFinished},
}

func (m *Manager) slotAt(pos transcriptPos) *slot {
	if pos.clientCert {
		return &m.clientCert
	}
	return m.slots[pos.kind]
}

func (m *Manager) SetClientCertificate(body Body) {
	m.clientCert.body = body
}

// SetClientCertificateIncluded marks/unmarks the client's own Certificate
// for transcript inclusion, independent of the server Certificate slot's
// own inclusion flag.
func (m *Manager) SetClientCertificateIncluded(included bool) {
	m.clientCert.included = included
}

func (m *Manager) SerializeIncludedFor(_ wireformat.ConnectionEnd, _ wireformat.CipherSuite) []byte {
	var out []byte
	for _, pos := range transcriptOrder {
		s := m.slotAt(pos)
		if s.included {
			out = append(out, WrapTLSHeader(pos.kind, s.body.Marshal())...)
		}
	}
	return out
}

func (m *Manager) SerializeThroughPreCertVerify(_ wireformat.CipherSuite) []byte {
	var out []byte
	for _, pos := range transcriptOrder {
		if pos.kind == wireformat.HandshakeTypeCertificateVerify {
			break
		}
		s := m.slotAt(pos)
		if s.included {
			out = append(out, WrapTLSHeader(pos.kind, s.body.Marshal())...)
		}
	}
	return out
}
