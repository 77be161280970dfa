package clientstates

import (
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

type connectedState struct{}

func (connectedState) Handle() handshakestate.Handle { return handshakestate.StateConnected }

func (connectedState) OnEnter(env *handshakestate.Env, _ *handshakestate.Flow) {
	if env.IsDTLS && env.ArmTimer != nil {
		env.ArmTimer(env.Config.ConnectedStateResendTimeout())
	}
	if env.App != nil {
		env.App.OnConnected()
	}
}

// OnHandshakeMessage: a client in Connected rejects any handshake
// message.
func (connectedState) OnHandshakeMessage(_ *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, _ []byte) {
	if kind == wireformat.HandshakeTypeHelloRequest {
		flow.Fail(alert.New(alert.KindRenegotiationRejected, "renegotiation rejected"))
		return
	}
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected handshake message while connected"))
}

func (connectedState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected change_cipher_spec while connected"))
}

// OnTimer ends the retention period: the last flight and the aggregator's
// reassembly state are released, the protocol state is untouched.
func (connectedState) OnTimer(env *handshakestate.Env, _ *handshakestate.Flow) {
	if !env.IsDTLS {
		return
	}
	env.Sec.LastFlight = nil
	if env.ResetAggregator != nil {
		env.ResetAggregator()
	}
}
