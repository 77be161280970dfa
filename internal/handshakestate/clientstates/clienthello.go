package clientstates

import (
	"io"

	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

type clientHelloState struct{}

func (clientHelloState) Handle() handshakestate.Handle { return handshakestate.StateClientHello }

func (clientHelloState) OnEnter(env *handshakestate.Env, flow *handshakestate.Flow) {
	var random [32]byte
	if _, err := io.ReadFull(env.Rand, random[:]); err != nil {
		flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "client random generation failed", err))
		return
	}
	env.Sec.ClientRandom = random

	ch := &handshakemsg.ClientHello{
		ClientVersion:      env.ProtocolVersion(),
		Random:             random,
		CipherSuites:       env.Sec.OfferedSuites,
		CompressionMethods: []byte{0x00},
	}
	env.Sec.RetriesLeft = env.Config.DTLSHandshakeMessageNoOfRepeat
	env.BeginFlight()
	env.SendHandshake(wireformat.HandshakeTypeClientHello, ch)
	if env.ArmTimer != nil {
		env.ArmTimer(env.Config.HandshakeMessageTimeout())
	}
}

func (clientHelloState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	switch kind {
	case wireformat.HandshakeTypeHelloVerifyRequest:
		hvr, err := handshakemsg.UnmarshalHelloVerifyRequest(body)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed HelloVerifyRequest", err))
			return
		}
		env.Sec.Cookie = hvr.Cookie
		env.Sec.HVRVersion = hvr.ServerVersion
		ch := env.Manager.Message(wireformat.HandshakeTypeClientHello).(*handshakemsg.ClientHello)
		ch.Cookie = hvr.Cookie
		env.BeginFlight()
		env.SendHandshake(wireformat.HandshakeTypeClientHello, ch)
		if env.ArmTimer != nil {
			env.ArmTimer(env.Config.HandshakeMessageTimeout())
		}

	case wireformat.HandshakeTypeServerHello:
		sh, err := handshakemsg.UnmarshalServerHello(body)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed ServerHello", err))
			return
		}
		if !suite.ClientAccepts(sh.CipherSuite, env.Sec.OfferedSuites) {
			flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "server selected a cipher suite the client did not offer"))
			return
		}
		if env.Sec.HVRVersion != 0 && sh.ServerVersion != env.Sec.HVRVersion {
			flow.Fail(alert.New(alert.KindAlertDecodeError, "ServerHello version does not match HelloVerifyRequest version"))
			return
		}
		env.Sec.Suite = sh.CipherSuite
		env.Sec.ServerRandom = sh.Random
		env.RecordReceived(wireformat.HandshakeTypeServerHello, sh)
		if len(sh.ExtensionTypes) > 0 && env.App != nil {
			env.App.ReportTLSExtensions(sh.ExtensionTypes)
		}
		if handshakestate.RequiresCertificateExchange(sh.CipherSuite) {
			env.RequestTransition(handshakestate.StateServerCertificateExchange)
		} else {
			env.RequestTransition(handshakestate.StateServerKeyExchange)
		}

	default:
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected handshake message awaiting ServerHello"))
	}
}

func (clientHelloState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected change_cipher_spec awaiting ServerHello"))
}

func (clientHelloState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	retryOrFailOnTimeout(env, flow)
}

// HandshakeFailure (fatal). (DTLS): decrement retries; retransmit; if
// exhausted → fatal").
func retryOrFailOnTimeout(env *handshakestate.Env, flow *handshakestate.Flow) {
	if !env.IsDTLS {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "handshake timed out"))
		return
	}
	env.RetryOrFail(flow, env.Config.HandshakeMessageTimeout())
}
