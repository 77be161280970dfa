package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/hslog"
	"funahara/dtlshandshake/internal/recordlayer"
	"funahara/dtlshandshake/internal/statemachine"
	"funahara/dtlshandshake/internal/wireformat"
)

// A uuid.New() draw gives 16 bytes (122 random bits; the version and
// variant bits are fixed) from the standard library's crypto/rand-backed
// generator without the caller having to size and fill a byte slice by
// hand; callers pass the result into
// NewServer once per process and reuse it across every connection that
// process accepts.
func NewVerificationSecret() []byte {
	id := uuid.New()
	return id[:]
}

type Diagnostics interface {
	OnHandshakeComplete(suite wireformat.CipherSuite, elapsed time.Duration, extensions []uint16)
}

type Callbacks interface {
	OnConnected()
	OnDisconnected(description string, code alert.Kind)
	OnApplicationData(payload []byte)
}

type Provider interface {
	// Connect blocks until the handshake reaches Connected, fails, or ctx
	// is done.
	Connect(ctx context.Context) error
	Disconnect(sendCloseNotify bool)
	Send(payload []byte) error
	Close() error
}

// Capabilities bundles the optional certificate-suite collaborators a
// Provider may be constructed with (nil-able: a PSK-only deployment leaves
// all four nil).
type Capabilities struct {
	Signer     handshakestate.Signer
	Verifier   handshakestate.CertificateVerifier
	CertChain  [][]byte
	RootLabels []string
}

// callbackAdapter bridges statemachine's AppCallbacks to the Provider's
// Callbacks/Diagnostics pair, and unblocks Connect once the outcome is
// known.
type callbackAdapter struct {
	app   Callbacks
	diag  Diagnostics
	start time.Time
	suite func() wireformat.CipherSuite

	lastExtensions []uint16
	outcome        chan error
}

func (a *callbackAdapter) OnConnected() {
	if a.diag != nil && a.suite != nil {
		a.diag.OnHandshakeComplete(a.suite(), time.Since(a.start), a.lastExtensions)
	}
	if a.app != nil {
		a.app.OnConnected()
	}
	select {
	case a.outcome <- nil:
	default:
	}
}

func (a *callbackAdapter) OnDisconnected(description string, code alert.Kind) {
	if a.app != nil {
		a.app.OnDisconnected(description, code)
	}
	select {
	case a.outcome <- fmt.Errorf("provider: handshake failed: %s (%s)", description, code):
	default:
	}
}

func (a *callbackAdapter) OnApplicationData(payload []byte) {
	if a.app != nil {
		a.app.OnApplicationData(payload)
	}
}

func (a *callbackAdapter) ReportTLSExtensions(types []uint16) {
	a.lastExtensions = types
}

// provider implements Provider for both roles; only how the handshake is
// kicked off differs, which the two constructors capture in start.
type provider struct {
	machine   *statemachine.Machine
	transport *recordlayer.Transport
	adapter   *callbackAdapter
	start     func() error
}

func (p *provider) Connect(ctx context.Context) error {
	p.transport.Start()
	if err := p.start(); err != nil {
		return err
	}
	select {
	case err := <-p.adapter.outcome:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *provider) Disconnect(sendCloseNotify bool) {
	p.machine.Disconnect(sendCloseNotify)
}

func (p *provider) Send(payload []byte) error {
	return p.transport.Send(wireformat.ContentTypeApplicationData, payload)
}

func (p *provider) Close() error {
	p.machine.Close()
	return p.transport.Disconnect()
}

// NewClient wraps conn (already connected: TCP for TLS, a connected UDP
// socket for DTLS) and returns a Provider that initiates the handshake on
// Connect.
func NewClient(conn net.Conn, cfg *config.Config, callbacks Callbacks, diag Diagnostics, caps Capabilities) Provider {
	p := build(conn, wireformat.ConnectionEndClient, cfg, callbacks, diag, caps, nil)
	p.start = p.machine.InitiateHandshake
	return p
}

func NewServer(conn net.Conn, cfg *config.Config, callbacks Callbacks, diag Diagnostics, caps Capabilities, verificationSecret []byte) Provider {
	p := build(conn, wireformat.ConnectionEndServer, cfg, callbacks, diag, caps, verificationSecret)
	p.start = func() error { return nil }
	return p
}

func build(conn net.Conn, role wireformat.ConnectionEnd, cfg *config.Config, callbacks Callbacks, diag Diagnostics, caps Capabilities, verificationSecret []byte) *provider {
	adapter := &callbackAdapter{app: callbacks, diag: diag, start: time.Now(), outcome: make(chan error, 1)}

	version := wireformat.VersionTLS12
	if !cfg.IsTCP {
		version = wireformat.VersionDTLS12
	}

	// connID tags this connection's trace lines so concurrent handshakes on
	// one server process can be told apart in the log, the diagnostic
	// counterpart to the uuid-derived verification secret above.
	connID := uuid.New().String()[:8]

	machine := statemachine.New(statemachine.Options{
		Role:               role,
		IsDTLS:             !cfg.IsTCP,
		Config:             cfg,
		Log:                hslog.NewDefaultFactory().NewLogger("handshake:" + connID),
		Rand:               rand.Reader,
		App:                adapter,
		Signer:             caps.Signer,
		Verifier:           caps.Verifier,
		CertChain:          caps.CertChain,
		RootLabels:         caps.RootLabels,
		PeerIdentifier:     peerIdentifier(conn),
		VerificationSecret: verificationSecret,
	})
	adapter.suite = machine.NegotiatedSuite

	transport := recordlayer.NewTransport(conn, !cfg.IsTCP, version, machine)
	machine.AttachRecordLayer(transport)

	return &provider{machine: machine, transport: transport, adapter: adapter}
}

func peerIdentifier(conn net.Conn) []byte {
	if conn.RemoteAddr() == nil {
		return nil
	}
	return []byte(conn.RemoteAddr().String())
}
