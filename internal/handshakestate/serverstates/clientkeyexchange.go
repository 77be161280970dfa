package serverstates

import (
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

// clientKeyExchangeState just waits for the client's ChangeCipherSpec; the
// derivation already ran when ClientKeyExchange arrived in the previous
// state (handshakestate.DeriveSecurityParameters), matching the client's
// own ServerHelloDone ordering.
type clientKeyExchangeState struct{}

func (clientKeyExchangeState) Handle() handshakestate.Handle {
	return handshakestate.StateClientKeyExchange
}

func (clientKeyExchangeState) OnEnter(_ *handshakestate.Env, _ *handshakestate.Flow) {}

func (clientKeyExchangeState) OnHandshakeMessage(_ *handshakestate.Env, flow *handshakestate.Flow, _ wireformat.HandshakeType, _ []byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected handshake message awaiting client change_cipher_spec"))
}

func (clientKeyExchangeState) OnChangeCipherSpec(env *handshakestate.Env, flow *handshakestate.Flow, b byte) {
	if b != wireformat.ChangeCipherSpecMessage {
		flow.Fail(alert.New(alert.KindAlertDecodeError, "malformed change_cipher_spec"))
		return
	}
	env.RequestTransition(handshakestate.StateClientChangeCipherSpec)
}

func (clientKeyExchangeState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	if !env.IsDTLS {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "handshake timed out"))
		return
	}
	env.RetryOrFail(flow, env.Config.HandshakeMessageTimeout())
}
