package statemachine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"funahara/dtlshandshake/config"
	"funahara/dtlshandshake/internal/aggregator"
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/handshakestate/clientstates"
	"funahara/dtlshandshake/internal/handshakestate/serverstates"
	"funahara/dtlshandshake/internal/hslog"
	"funahara/dtlshandshake/internal/recordlayer"
	"funahara/dtlshandshake/internal/timerutil"
	"funahara/dtlshandshake/internal/wireformat"
)

// maxCascade bounds how many transitions a single event may trigger in one
// call, a backstop against a misbehaving state pair ping-ponging forever.
const maxCascade = 16

// Options configures a new Machine. Role selects which state pool (client or
// server) drives the handshake.
type Options struct {
	Role   wireformat.ConnectionEnd
	IsDTLS bool

	Config *config.Config
	Log    hslog.Logger
	Rand   io.Reader

	Record recordlayer.RecordLayer
	App    handshakestate.AppCallbacks

	Signer     handshakestate.Signer
	Verifier   handshakestate.CertificateVerifier
	CertChain  [][]byte
	RootLabels []string

	PeerIdentifier []byte

	// Chosen once at server startup by the caller and held for the server's
	// entire lifetime, surviving every handshake reset.
	VerificationSecret []byte
}

// Machine is the HandshakeStateMachine.
type Machine struct {
	mu sync.Mutex

	env   *handshakestate.Env
	pool  map[handshakestate.Handle]handshakestate.State
	current handshakestate.State

	agg   *aggregator.Aggregator
	timer timerutil.OneShot
}

// New constructs a Machine sitting in Disconnected, with a fresh
// MessageManager and the pool matching opts.Role.
func New(opts Options) *Machine {
	log := opts.Log
	if log == nil {
		log = hslog.NewDisabledFactory().NewLogger("handshake")
	}
	manager := handshakemsg.NewManager()
	env := &handshakestate.Env{
		Role:           opts.Role,
		IsDTLS:         opts.IsDTLS,
		Config:         opts.Config,
		Log:            log,
		Rand:           opts.Rand,
		Manager:        manager,
		Record:         opts.Record,
		App:            opts.App,
		Signer:         opts.Signer,
		Verifier:       opts.Verifier,
		CertChain:      opts.CertChain,
		RootLabels:     opts.RootLabels,
		PeerIdentifier: opts.PeerIdentifier,
		Sec:            &handshakestate.Security{VerificationSecret: opts.VerificationSecret},
	}

	m := &Machine{env: env}
	if opts.Role == wireformat.ConnectionEndClient {
		m.pool = clientstates.NewPool()
	} else {
		m.pool = serverstates.NewPool()
	}
	env.ArmTimer = func(d time.Duration) { m.timer.Arm(d, m.onTimerFired) }

	mode := aggregator.ModeTLS
	if opts.IsDTLS {
		mode = aggregator.ModeDTLS
	}
	m.agg = aggregator.New(mode)
	m.agg.Deliver = m.lockedOnDelivered
	env.ResetAggregator = m.agg.Reset

	m.current = m.pool[handshakestate.Disconnected]
	return m
}

var _ recordlayer.Callbacks = (*Machine)(nil)

// AttachRecordLayer wires the downward RecordLayer after construction,
// letting callers build the concrete transport's upward Callbacks (the
// Machine itself) and the Machine's downward Record in either order without
// a circular constructor dependency.
func (m *Machine) AttachRecordLayer(r recordlayer.RecordLayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.env.Record = r
}

// CurrentState reports the active state's handle, for diagnostics.
func (m *Machine) CurrentState() handshakestate.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Handle()
}

func (m *Machine) InitiateHandshake() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	initiator, ok := m.current.(handshakestate.Initiator)
	if !ok {
		return fmt.Errorf("statemachine: initiate_handshake illegal in state %s", m.current.Handle())
	}
	m.runHook(func(flow *handshakestate.Flow) {
		initiator.OnInitiateHandshake(m.env, flow)
	})
	return nil
}

// Disconnect tears the handshake down locally, optionally notifying the
// peer with a close_notify alert first, and resets to Disconnected ready
// for a fresh handshake (VerificationSecret preserved).
func (m *Machine) Disconnect(sendCloseNotify bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sendCloseNotify {
		m.env.Record.Send(wireformat.ContentTypeAlert, alert.Alert{Level: alert.LevelWarning, Description: alert.DescCloseNotify}.ToBytes())
	}
	m.timer.Stop()
	m.env.Record.Disconnect()
	m.resetToDisconnected()
}

// Close releases the machine's timer resources. It must not be called while
// holding mu across the timer's StopAndWait, since the timer's own fired
// callback also needs to acquire mu.
func (m *Machine) Close() {
	m.mu.Lock()
	m.env.Record.Disconnect()
	m.mu.Unlock()
	m.timer.StopAndWait()
}

// OnHandshakeBytes implements recordlayer.Callbacks: raw transport-level
// handshake bytes from the record layer. retransmit true is a record-layer
// -level duplicate signal (distinct from the aggregator's own message-level
// retransmit detection) and is handled identically: resend the last flight,
// latched, without touching the aggregator.
func (m *Machine) OnHandshakeBytes(payload []byte, retransmit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if retransmit {
		m.env.HandleRetransmitSignal()
		return
	}
	var err error
	if m.env.IsDTLS {
		err = m.agg.PushDTLSFragment(payload)
	} else {
		err = m.agg.PushTLS(payload)
	}
	if err != nil {
		m.handleFatal(alert.Wrap(alert.KindAlertDecodeError, "aggregator rejected handshake bytes", err))
	}
}

// lockedOnDelivered is the aggregator's Deliver callback. It always runs
// synchronously inside a Push call made under mu, so it must not re-lock.
func (m *Machine) lockedOnDelivered(d aggregator.Delivered) {
	if d.Retransmit {
		m.env.Log.Tracef("[%s] retransmit of seq %d detected in %s", m.env.Role, d.MessageSeq, m.current.Handle())
		m.env.HandleRetransmitSignal()
		return
	}
	m.env.Log.Tracef("[%s] %s: received %s", m.env.Role, m.current.Handle(), d.Kind)
	body := d.Framed[4:]
	m.runHook(func(flow *handshakestate.Flow) {
		m.current.OnHandshakeMessage(m.env, flow, d.Kind, body)
	})
}

// OnChangeCipherByte implements recordlayer.Callbacks.
func (m *Machine) OnChangeCipherByte(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(payload) != 1 {
		m.handleFatal(alert.New(alert.KindAlertDecodeError, "malformed change_cipher_spec"))
		return
	}
	m.runHook(func(flow *handshakestate.Flow) {
		m.current.OnChangeCipherSpec(m.env, flow, payload[0])
	})
}

// OnAlertBytes implements recordlayer.Callbacks. A peer-originated alert
// tears the connection down without answering it with an alert of our own
// (two ends echoing fatal alerts at each other would never converge).
func (m *Machine) OnAlertBytes(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown(handshakestate.HandleAlert(payload), false)
}

func (m *Machine) OnApplicationBytes(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.env.App != nil {
		m.env.App.OnApplicationData(payload)
	}
}

// OnCloseRequest implements recordlayer.Callbacks: the record layer asked
// the handshake to stop processing (e.g. the underlying transport closed).
func (m *Machine) OnCloseRequest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handleFatal(alert.New(alert.KindAlertCloseNotify, "peer requested close"))
}

func (m *Machine) onTimerFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runHook(func(flow *handshakestate.Flow) {
		m.current.OnTimer(m.env, flow)
	})
}

// runHook invokes one state hook with a fresh Flow and drives the
// transition cascade it may trigger.
func (m *Machine) runHook(hook func(flow *handshakestate.Flow)) {
	flow := &handshakestate.Flow{}
	hook(flow)
	m.drainTransitions(flow)
}

func (m *Machine) drainTransitions(flow *handshakestate.Flow) {
	if flow.Failed() {
		m.handleFatal(flow.Err)
		return
	}
	for i := 0; i < maxCascade; i++ {
		next, ok := m.env.TakeTransition()
		if !ok {
			return
		}
		m.enterState(next, flow)
		if flow.Failed() {
			m.handleFatal(flow.Err)
			return
		}
	}
	m.handleFatal(alert.New(alert.KindInternal, "state transition cascade exceeded bound"))
}

// enterState switches the current state and runs its on_enter.
func (m *Machine) enterState(next handshakestate.Handle, flow *handshakestate.Flow) {
	// Returning to Disconnected drops the transcript and staged keys but
	// leaves the aggregator alone: on the reconnection path its cursor is
	// already tracking the new peer's message sequence.
	if next == handshakestate.Disconnected {
		m.env.Sec = &handshakestate.Security{VerificationSecret: m.env.Sec.VerificationSecret}
		m.env.Manager.Reset()
	}
	state, ok := m.pool[next]
	if !ok {
		flow.Fail(alert.New(alert.KindInternal, fmt.Sprintf("no state registered for handle %s", next)))
		return
	}
	m.env.Log.Tracef("[%s] %s -> %s", m.env.Role, m.current.Handle(), next)
	m.current = state
	state.OnEnter(m.env, flow)
	if flow.Failed() {
		return
	}
	if pending := m.env.Pending; pending != nil {
		m.env.Pending = nil
		state.OnHandshakeMessage(m.env, flow, pending.Kind, pending.Body)
	}
}

func (m *Machine) handleFatal(err *alert.Error) {
	m.teardown(err, true)
}

func (m *Machine) teardown(err *alert.Error, sendAlert bool) {
	m.env.Log.Warnf("[%s] fatal in %s: %v", m.env.Role, m.current.Handle(), err)
	if sendAlert {
		if a, ok := err.Kind.ForWire(); ok {
			m.env.Record.Send(wireformat.ContentTypeAlert, a.ToBytes())
		}
	}
	m.timer.Stop()
	m.resetToDisconnected()
	if m.env.App != nil {
		m.env.App.OnDisconnected(err.Message, err.Kind)
	}
}

func (m *Machine) resetToDisconnected() {
	m.env.Sec = &handshakestate.Security{VerificationSecret: m.env.Sec.VerificationSecret}
	m.env.Pending = nil
	m.env.Manager.Reset()
	m.agg.Reset()
	m.current = m.pool[handshakestate.Disconnected]
}

// NegotiatedSuite reports the suite the current (or just-completed)
// handshake selected. Lock-free on purpose: it is meant to be read from
// inside an AppCallbacks invocation, which already runs under the
// machine's event serialization.
func (m *Machine) NegotiatedSuite() wireformat.CipherSuite {
	return m.env.Sec.Suite
}
