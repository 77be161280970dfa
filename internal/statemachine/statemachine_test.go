package statemachine

import (
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/hslog"
	"funahara/dtlshandshake/internal/recordlayer"
	"funahara/dtlshandshake/internal/wireformat"
)

// asyncLink decouples one direction of the fake wire: Send enqueues a
// delivery closure instead of invoking the peer's Callbacks inline, so a
// cascade of handshake processing on one Machine never re-enters the other
// Machine's (or its own) call stack — the same "enqueue for later wire
// transmission, never call back up the same stack" rule the record layer
// boundary itself must honor.
type asyncLink struct {
	ch chan func()
}

func newAsyncLink(t *testing.T) *asyncLink {
	l := &asyncLink{ch: make(chan func(), 256)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for fn := range l.ch {
			fn()
		}
	}()
	t.Cleanup(func() {
		close(l.ch)
		<-done
	})
	return l
}

func (l *asyncLink) send(fn func()) { l.ch <- fn }

// pipeRecord is a recordlayer.RecordLayer that forwards every Send over an
// asyncLink to a peer's recordlayer.Callbacks, optionally dropping the
// first dropCount sends to simulate lost datagrams.
type pipeRecord struct {
	link *asyncLink
	peer recordlayer.Callbacks

	mu        sync.Mutex
	dropCount int
}

func (r *pipeRecord) dropOneNext(n int) {
	r.mu.Lock()
	r.dropCount += n
	r.mu.Unlock()
}

func (r *pipeRecord) Send(ct wireformat.ContentType, payload []byte) error {
	r.mu.Lock()
	drop := r.dropCount > 0
	if drop {
		r.dropCount--
	}
	r.mu.Unlock()
	if drop {
		return nil
	}
	cp := append([]byte(nil), payload...)
	r.link.send(func() {
		switch ct {
		case wireformat.ContentTypeHandshake:
			r.peer.OnHandshakeBytes(cp, false)
		case wireformat.ContentTypeChangeCipherSpec:
			r.peer.OnChangeCipherByte(cp)
		case wireformat.ContentTypeAlert:
			r.peer.OnAlertBytes(cp)
		case wireformat.ContentTypeApplicationData:
			r.peer.OnApplicationBytes(cp)
		}
	})
	return nil
}

func (r *pipeRecord) InstallWriteSecurityParameters(recordlayer.SecurityParameters) error { return nil }
func (r *pipeRecord) InstallReadSecurityParameters(recordlayer.SecurityParameters) error  { return nil }
func (r *pipeRecord) Disconnect() error                                                  { return nil }

type fakeApp struct {
	mu               sync.Mutex
	connected        bool
	disconnectedMsg  string
	disconnectedKind alert.Kind
	appData          [][]byte
}

func (a *fakeApp) OnConnected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
}

func (a *fakeApp) OnDisconnected(msg string, kind alert.Kind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnectedMsg, a.disconnectedKind = msg, kind
}

func (a *fakeApp) OnApplicationData(payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appData = append(a.appData, append([]byte(nil), payload...))
}

func (a *fakeApp) ReportTLSExtensions([]uint16) {}

func (a *fakeApp) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeApp) disconnectKind() alert.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnectedKind
}

func pskConfig(repeatCount, timeoutMS int) *config.Config {
	cfg := config.Default()
	cfg.DTLSHandshakeMessageNoOfRepeat = repeatCount
	cfg.HandshakeMessageTimeoutMS = timeoutMS
	cfg.PSK.Entries = []config.PSKEntry{{Identity: "device-1", Secret: []byte("shared-secret")}}
	cfg.PSK.Hint = "device-1"
	return cfg
}

type harness struct {
	client, server         *Machine
	clientApp, serverApp   *fakeApp
	clientRec, serverRec   *pipeRecord
}

func newHarness(t *testing.T, clientCfg, serverCfg *config.Config) *harness {
	t.Helper()
	c2s := newAsyncLink(t)
	s2c := newAsyncLink(t)

	clientRec := &pipeRecord{link: c2s}
	serverRec := &pipeRecord{link: s2c}
	clientApp := &fakeApp{}
	serverApp := &fakeApp{}
	logger := hslog.NewDisabledFactory().NewLogger("test")

	client := New(Options{
		Role:   wireformat.ConnectionEndClient,
		IsDTLS: true,
		Config: clientCfg,
		Log:    logger,
		Rand:   rand.Reader,
		Record: clientRec,
		App:    clientApp,
	})
	server := New(Options{
		Role:               wireformat.ConnectionEndServer,
		IsDTLS:             true,
		Config:             serverCfg,
		Log:                logger,
		Rand:               rand.Reader,
		Record:             serverRec,
		App:                serverApp,
		VerificationSecret: []byte("server-verification-secret"),
		PeerIdentifier:     []byte("198.51.100.7:5555"),
	})

	clientRec.peer = server
	serverRec.peer = client

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	return &harness{client: client, server: server, clientApp: clientApp, serverApp: serverApp, clientRec: clientRec, serverRec: serverRec}
}

func TestFullPSKHandshakeReachesConnectedOnBothSides(t *testing.T) {
	clientCfg := pskConfig(5, 200)
	serverCfg := pskConfig(5, 200)
	h := newHarness(t, clientCfg, serverCfg)

	require.NoError(t, h.client.InitiateHandshake())

	require.Eventually(t, func() bool {
		return h.client.CurrentState() == handshakestate.StateConnected && h.server.CurrentState() == handshakestate.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.clientApp.isConnected())
	require.True(t, h.serverApp.isConnected())

	require.NoError(t, h.client.env.Record.Send(wireformat.ContentTypeApplicationData, []byte("hello server")))
	require.Eventually(t, func() bool {
		return len(h.serverApp.appData) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []byte("hello server"), h.serverApp.appData[0])
}

func TestFullPSKHandshakeWithCookieVerification(t *testing.T) {
	clientCfg := pskConfig(5, 200)
	serverCfg := pskConfig(5, 200)
	serverCfg.CookieVerificationIsOn = true
	h := newHarness(t, clientCfg, serverCfg)

	require.NoError(t, h.client.InitiateHandshake())

	require.Eventually(t, func() bool {
		return h.client.CurrentState() == handshakestate.StateConnected && h.server.CurrentState() == handshakestate.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.clientApp.isConnected())
	require.True(t, h.serverApp.isConnected())
}

// Dropping the client's very first flight (its lone ClientHello) forces a
// DTLS retransmission: the client's handshake timer fires, RetryOrFail
// resends the retained flight, and the handshake still completes.
func TestDTLSRetransmissionAfterDroppedFirstFlight(t *testing.T) {
	clientCfg := pskConfig(5, 40)
	serverCfg := pskConfig(5, 40)
	h := newHarness(t, clientCfg, serverCfg)
	h.clientRec.dropOneNext(1)

	require.NoError(t, h.client.InitiateHandshake())

	require.Eventually(t, func() bool {
		return h.client.CurrentState() == handshakestate.StateConnected && h.server.CurrentState() == handshakestate.StateConnected
	}, 3*time.Second, 5*time.Millisecond)

	require.True(t, h.clientApp.isConnected())
	require.True(t, h.serverApp.isConnected())
}

// dtlsHandshakeFragment frames one unfragmented DTLS handshake message the
// way Env.wrapHandshake does, for injecting wire bytes directly.
func dtlsHandshakeFragment(kind wireformat.HandshakeType, seq uint16, body []byte) []byte {
	out := make([]byte, 12+len(body))
	out[0] = byte(kind)
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	out[4] = byte(seq >> 8)
	out[5] = byte(seq)
	out[9] = byte(len(body) >> 16)
	out[10] = byte(len(body) >> 8)
	out[11] = byte(len(body))
	copy(out[12:], body)
	return out
}

// A HelloRequest arriving after the handshake completed is a renegotiation
// offer; the client must reject it, tear down, and report
// RenegotiationRejected.
func TestHelloRequestWhileConnectedRejectsRenegotiation(t *testing.T) {
	clientCfg := pskConfig(5, 200)
	serverCfg := pskConfig(5, 200)
	h := newHarness(t, clientCfg, serverCfg)

	require.NoError(t, h.client.InitiateHandshake())
	require.Eventually(t, func() bool {
		return h.client.CurrentState() == handshakestate.StateConnected && h.server.CurrentState() == handshakestate.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// The server's flight was HelloVerify-free PSK with a hint: ServerHello
	// (0), ServerKeyExchange (1), ServerHelloDone (2), Finished (3). The
	// next inbound sequence the client's aggregator will accept is 4.
	h.client.OnHandshakeBytes(dtlsHandshakeFragment(wireformat.HandshakeTypeHelloRequest, 4, nil), false)

	require.Eventually(t, func() bool {
		return h.clientApp.disconnectKind() == alert.KindRenegotiationRejected
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, handshakestate.Disconnected, h.client.CurrentState())
}

// errReader is an RNG that always refuses, for driving the
// CryptoAdapterFailure path.
type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("rng unavailable") }

// A refused RNG draw during ClientHello preparation must produce exactly
// one OnDisconnected with CryptoAdapterFailure and never put a ClientHello
// on the wire.
func TestRNGFailureDuringClientHelloTearsDownWithoutSending(t *testing.T) {
	var rec captureRecord
	app := &fakeApp{}
	m := New(Options{
		Role:   wireformat.ConnectionEndClient,
		IsDTLS: true,
		Config: pskConfig(5, 200),
		Rand:   errReader{},
		Record: &rec,
		App:    app,
	})
	t.Cleanup(m.Close)

	require.NoError(t, m.InitiateHandshake())

	require.Equal(t, alert.KindCryptoAdapterFailure, app.disconnectKind())
	require.Equal(t, handshakestate.Disconnected, m.CurrentState())
	for _, s := range rec.sent {
		require.NotEqual(t, wireformat.ContentTypeHandshake, s.ct, "no ClientHello may be sent after an RNG failure")
	}
}

type capturedSend struct {
	ct      wireformat.ContentType
	payload []byte
}

type captureRecord struct {
	mu   sync.Mutex
	sent []capturedSend
}

func (r *captureRecord) Send(ct wireformat.ContentType, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, capturedSend{ct, append([]byte(nil), payload...)})
	return nil
}
func (r *captureRecord) InstallWriteSecurityParameters(recordlayer.SecurityParameters) error {
	return nil
}
func (r *captureRecord) InstallReadSecurityParameters(recordlayer.SecurityParameters) error {
	return nil
}
func (r *captureRecord) Disconnect() error { return nil }

// A client offering only a cipher suite the server never configured cannot
// negotiate; both sides must tear down with AlertHandshakeFailure.
func TestCipherSuiteMismatchFailsBothSides(t *testing.T) {
	clientCfg := pskConfig(5, 200)
	clientCfg.CipherSuites = []wireformat.CipherSuite{wireformat.CipherSuiteECDHEWithAES128GCM}
	serverCfg := pskConfig(5, 200)
	serverCfg.CipherSuites = []wireformat.CipherSuite{wireformat.CipherSuitePSKWithAES128GCM}
	h := newHarness(t, clientCfg, serverCfg)

	require.NoError(t, h.client.InitiateHandshake())

	require.Eventually(t, func() bool {
		return h.serverApp.disconnectKind() == alert.KindAlertHandshakeFailure
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.clientApp.disconnectKind() == alert.KindAlertHandshakeFailure
	}, 2*time.Second, 5*time.Millisecond)

	require.False(t, h.clientApp.isConnected())
	require.False(t, h.serverApp.isConnected())
}
