package serverstates

import (
	"crypto/hmac"

	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

type clientChangeCipherSpecState struct{}

func (clientChangeCipherSpecState) Handle() handshakestate.Handle {
	return handshakestate.StateClientChangeCipherSpec
}

func (clientChangeCipherSpecState) OnEnter(env *handshakestate.Env, flow *handshakestate.Flow) {
	if err := env.Record.InstallReadSecurityParameters(env.Sec.NextRead); err != nil {
		flow.Fail(alert.Wrap(alert.KindInternal, "install read security parameters failed", err))
	}
}

func (clientChangeCipherSpecState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	if kind != wireformat.HandshakeTypeFinished {
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "expected client Finished"))
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
	expected := handshakestate.ComputeVerifyData(env, descriptor, true)
	if !hmac.Equal(fin.VerifyData[:], expected[:]) {
		flow.Fail(alert.New(alert.KindAlertDecryptError, "client Finished.verify_data mismatch"))
		return
	}
	env.RecordReceived(wireformat.HandshakeTypeFinished, fin)

	env.BeginFlight()
	env.SendChangeCipherSpec()
	if err := env.Record.InstallWriteSecurityParameters(env.Sec.NextWrite); err != nil {
		flow.Fail(alert.Wrap(alert.KindInternal, "install write security parameters failed", err))
		return
	}
	verifyData := handshakestate.ComputeVerifyData(env, descriptor, false)
	env.SendHandshake(wireformat.HandshakeTypeFinished, &handshakemsg.Finished{VerifyData: verifyData})

	env.RequestTransition(handshakestate.StateConnected)
}

func (clientChangeCipherSpecState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected duplicate change_cipher_spec"))
}

func (clientChangeCipherSpecState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	if !env.IsDTLS {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "handshake timed out"))
		return
	}
	env.RetryOrFail(flow, env.Config.HandshakeMessageTimeout())
}
