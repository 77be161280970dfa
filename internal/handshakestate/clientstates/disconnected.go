package clientstates

import (
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

type disconnectedState struct{}

func (disconnectedState) Handle() handshakestate.Handle { return handshakestate.Disconnected }

func (disconnectedState) OnEnter(_ *handshakestate.Env, _ *handshakestate.Flow) {}

func (disconnectedState) OnHandshakeMessage(_ *handshakestate.Env, flow *handshakestate.Flow, _ wireformat.HandshakeType, _ []byte) {
	flow.Fail(alert.New(alert.KindInvalidState, "no handshake message expected while disconnected"))
}

func (disconnectedState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindInvalidState, "no change_cipher_spec expected while disconnected"))
}

func (disconnectedState) OnTimer(_ *handshakestate.Env, _ *handshakestate.Flow) {}

func (disconnectedState) OnInitiateHandshake(env *handshakestate.Env, _ *handshakestate.Flow) {
	env.Sec.OfferedSuites = env.Config.CipherSuites
	env.RequestTransition(handshakestate.StateClientHello)
}
