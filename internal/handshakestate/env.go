// Concrete states live in the clientstates and serverstates subpackages,
// one Go value per state name in the client/server transition tables.
package handshakestate

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"
	"time"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/hslog"
	"funahara/dtlshandshake/internal/recordlayer"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

// Client and server pools are keyed by the same Handle type; a pool only
// ever holds the states that belong to its own table.
type Handle int

const (
	Disconnected Handle = iota
	StateClientHello
	StateServerCertificateExchange
	StateServerKeyExchange
	StateCertificateRequest
	StateServerHelloDone
	StateServerChangeCipherSpec
	StateClientKeyExchange
	StateClientChangeCipherSpec
	StateConnected
)

func (h Handle) String() string {
	switch h {
	case Disconnected:
		return "Disconnected"
	case StateClientHello:
		return "ClientHello"
	case StateServerCertificateExchange:
		return "ServerCertificateExchange"
	case StateServerKeyExchange:
		return "ServerKeyExchange"
	case StateCertificateRequest:
		return "CertificateRequest"
	case StateServerHelloDone:
		return "ServerHelloDone"
	case StateServerChangeCipherSpec:
		return "ServerChangeCipherSpec"
	case StateClientKeyExchange:
		return "ClientKeyExchange"
	case StateClientChangeCipherSpec:
		return "ClientChangeCipherSpec"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// State hooks call Fail at most effectively once; later Fail calls in the
// same hook are no-ops so the first cause wins.
type Flow struct {
	Err *alert.Error
}

func (f *Flow) Fail(err *alert.Error) {
	if f.Err == nil {
		f.Err = err
	}
}

func (f *Flow) Failed() bool { return f.Err != nil }

type AppCallbacks interface {
	OnConnected()
	OnDisconnected(description string, code alert.Kind)
	OnApplicationData(payload []byte)
	ReportTLSExtensions(types []uint16)
}

type Signer interface {
	Sign(scheme uint16, message []byte) (signature []byte, err error)
}

// CertificateVerifier validates a peer certificate chain and a signature
// made with the corresponding private key.
type CertificateVerifier interface {
	VerifyChain(chain [][]byte, rootLabels []string) error
	VerifySignature(chain [][]byte, scheme uint16, message, signature []byte) error
}

type FlightRecord struct {
	ContentType wireformat.ContentType
	Payload     []byte
}

type Security struct {
	OfferedSuites []wireformat.CipherSuite
	Suite         wireformat.CipherSuite

	ClientRandom [32]byte
	ServerRandom [32]byte
	Cookie       []byte

	// HVRVersion is the protocol version carried by a HelloVerifyRequest,
	// zero if none was received yet. RFC6347 §4.2.1: the subsequent
	// ServerHello must carry the same version.
	HVRVersion wireformat.ProtocolVersion

	PSKIdentity string
	PSKSecret   []byte

	LocalECDHE      suite.ECDHEKeyPair
	PeerECDHEPublic [32]byte
	PeerChain       [][]byte

	PreMasterSecret []byte
	MasterSecret    []byte

	NextWrite recordlayer.SecurityParameters
	NextRead  recordlayer.SecurityParameters

	MessageSeqOut uint16

	RetriesLeft         int
	RetransmitLatchUsed bool
	LastFlight          []FlightRecord

	VerificationSecret []byte

	ClientAuthRequested bool
}

type Env struct {
	Role   wireformat.ConnectionEnd
	IsDTLS bool

	Config *config.Config
	Log    hslog.Logger
	Rand   io.Reader

	Manager *handshakemsg.Manager
	Record  recordlayer.RecordLayer
	App     AppCallbacks

	Signer     Signer
	Verifier   CertificateVerifier
	CertChain  [][]byte
	RootLabels []string

	PeerIdentifier []byte

	Sec *Security

	ArmTimer func(d time.Duration)

	// ResetAggregator tears down the reassembly state one level below.
	// Connected calls it when the retention timer ends. The machine resets
	// the aggregator itself on teardown and local disconnect, but not when
	// the DTLS server's reconnection path re-enters Disconnected.
	ResetAggregator func()

	Pending *PendingMessage

	next    Handle
	hasNext bool
}

// PendingMessage is a handshake message the transition engine must
// redeliver to the newly entered state before continuing its cascade.
type PendingMessage struct {
	Kind wireformat.HandshakeType
	Body []byte
}

// ProtocolVersion returns the wire version this environment's transport
// uses: DTLS 1.2 or TLS 1.2.
func (e *Env) ProtocolVersion() wireformat.ProtocolVersion {
	if e.IsDTLS {
		return wireformat.VersionDTLS12
	}
	return wireformat.VersionTLS12
}

func (e *Env) RequestTransition(h Handle) {
	e.next = h
	e.hasNext = true
}

// TakeTransition drains any pending transition request.
func (e *Env) TakeTransition() (Handle, bool) {
	h, ok := e.next, e.hasNext
	e.hasNext = false
	return h, ok
}

type State interface {
	Handle() Handle
	OnEnter(env *Env, flow *Flow)
	OnHandshakeMessage(env *Env, flow *Flow, kind wireformat.HandshakeType, body []byte)
	OnChangeCipherSpec(env *Env, flow *Flow, b byte)
	OnTimer(env *Env, flow *Flow)
}

type Initiator interface {
	OnInitiateHandshake(env *Env, flow *Flow)
}

// wrapHandshake builds the wire bytes for one outbound handshake message,
// assigning and advancing the DTLS message_seq counter when applicable.
func (e *Env) wrapHandshake(kind wireformat.HandshakeType, body []byte) []byte {
	if e.IsDTLS {
		seq := e.Sec.MessageSeqOut
		e.Sec.MessageSeqOut++
		return handshakemsg.WrapDTLSHeader(kind, seq, body)
	}
	return handshakemsg.WrapTLSHeader(kind, body)
}

func (e *Env) SendHandshake(kind wireformat.HandshakeType, body handshakemsg.Body) {
	e.Manager.Set(kind, body)
	e.Manager.SetIncluded(kind, true)
	wire := e.wrapHandshake(kind, body.Marshal())
	e.Record.Send(wireformat.ContentTypeHandshake, wire)
	e.Sec.LastFlight = append(e.Sec.LastFlight, FlightRecord{ContentType: wireformat.ContentTypeHandshake, Payload: wire})
}

// RecordReceived stores an inbound message's parsed instance in the
// manager and marks it included, the receive-side half of SendHandshake's
// bookkeeping.
func (e *Env) RecordReceived(kind wireformat.HandshakeType, body handshakemsg.Body) {
	e.Manager.Set(kind, body)
	e.Manager.SetIncluded(kind, true)
}

func (e *Env) SendClientCertificate(cert *handshakemsg.Certificate) {
	e.Manager.SetClientCertificate(cert)
	e.Manager.SetClientCertificateIncluded(true)
	wire := e.wrapHandshake(wireformat.HandshakeTypeCertificate, cert.Marshal())
	e.Record.Send(wireformat.ContentTypeHandshake, wire)
	e.Sec.LastFlight = append(e.Sec.LastFlight, FlightRecord{ContentType: wireformat.ContentTypeHandshake, Payload: wire})
}

// RecordReceivedClientCertificate stores the client's inbound Certificate
// message (received by the server) in the dedicated client-certificate
// slot, the receive-side counterpart of SendClientCertificate.
func (e *Env) RecordReceivedClientCertificate(cert *handshakemsg.Certificate) {
	e.Manager.SetClientCertificate(cert)
	e.Manager.SetClientCertificateIncluded(true)
}

func (e *Env) BeginFlight() {
	e.Sec.LastFlight = e.Sec.LastFlight[:0]
}

// SendChangeCipherSpec sends the single-byte ChangeCipherSpec record
// (RFC5246 §7.1) and retains it in the flight for retransmission.
func (e *Env) SendChangeCipherSpec() {
	payload := []byte{wireformat.ChangeCipherSpecMessage}
	e.Record.Send(wireformat.ContentTypeChangeCipherSpec, payload)
	e.Sec.LastFlight = append(e.Sec.LastFlight, FlightRecord{ContentType: wireformat.ContentTypeChangeCipherSpec, Payload: payload})
}

// ResendLastFlight replays every record of the retained last flight,
// byte-for-byte, including its ChangeCipherSpec if one was part of it.
func (e *Env) ResendLastFlight() {
	for _, r := range e.Sec.LastFlight {
		e.Record.Send(r.ContentType, r.Payload)
	}
}

func (e *Env) HandleRetransmitSignal() {
	if !e.IsDTLS || e.Sec.RetransmitLatchUsed {
		return
	}
	e.Sec.RetransmitLatchUsed = true
	e.ResendLastFlight()
}

func (e *Env) RetryOrFail(flow *Flow, rearm time.Duration) {
	if e.Sec.RetriesLeft <= 0 {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "handshake retry limit exceeded"))
		return
	}
	e.Sec.RetriesLeft--
	e.Sec.RetransmitLatchUsed = false
	e.ResendLastFlight()
	if e.ArmTimer != nil {
		e.ArmTimer(rearm)
	}
}

func RequiresCertificateExchange(id wireformat.CipherSuite) bool {
	return id.IsCertificateBased()
}

// SHA-256's 32-byte output is already at the "at most 32 bytes" ceiling,
// so no truncation is needed.
func ComputeCookie(secret, clientRandom, peerIdentifier []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(clientRandom)
	mac.Write(peerIdentifier)
	return mac.Sum(nil)
}

func HandleAlert(raw []byte) *alert.Error {
	a, err := alert.Parse(raw)
	if err != nil {
		return alert.New(alert.KindAlertDecodeError, "malformed alert record")
	}
	return alert.FromPeerAlert(a)
}
