package clientstates

import (
	"crypto/hmac"

	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

type serverChangeCipherSpecState struct{}

func (serverChangeCipherSpecState) Handle() handshakestate.Handle {
	return handshakestate.StateServerChangeCipherSpec
}

func (serverChangeCipherSpecState) OnEnter(env *handshakestate.Env, flow *handshakestate.Flow) {
	if err := env.Record.InstallReadSecurityParameters(env.Sec.NextRead); err != nil {
		flow.Fail(alert.Wrap(alert.KindInternal, "install read security parameters failed", err))
	}
}

func (serverChangeCipherSpecState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	if kind != wireformat.HandshakeTypeFinished {
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "expected server Finished"))
		return
	}
	fin, err := handshakemsg.UnmarshalFinished(body)
	if err != nil {
		flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed Finished", err))
		return
	}
	descriptor, ok := suite.Lookup(env.Sec.Suite)
	if !ok {
		flow.Fail(alert.New(alert.KindInternal, "negotiated cipher suite has no descriptor"))
		return
	}
	expected := handshakestate.ComputeVerifyData(env, descriptor, false)
	if !hmac.Equal(fin.VerifyData[:], expected[:]) {
		flow.Fail(alert.New(alert.KindAlertDecryptError, "server Finished.verify_data mismatch"))
		return
	}
	env.RecordReceived(wireformat.HandshakeTypeFinished, fin)
	env.RequestTransition(handshakestate.StateConnected)
}

func (serverChangeCipherSpecState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected duplicate change_cipher_spec"))
}

func (serverChangeCipherSpecState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	retryOrFailOnTimeout(env, flow)
}
