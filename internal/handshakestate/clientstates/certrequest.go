package clientstates

import (
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

type certificateRequestState struct{}

func (certificateRequestState) Handle() handshakestate.Handle {
	return handshakestate.StateCertificateRequest
}

func (certificateRequestState) OnEnter(_ *handshakestate.Env, _ *handshakestate.Flow) {}

func (certificateRequestState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, _ []byte) {
	if kind != wireformat.HandshakeTypeServerHelloDone {
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "expected ServerHelloDone"))
		return
	}
	env.RecordReceived(wireformat.HandshakeTypeServerHelloDone, &handshakemsg.ServerHelloDone{})
	env.RequestTransition(handshakestate.StateServerHelloDone)
}

func (certificateRequestState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected change_cipher_spec awaiting ServerHelloDone"))
}

func (certificateRequestState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	retryOrFailOnTimeout(env, flow)
}
