package serverstates

import (
	"crypto/hmac"

	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

type disconnectedState struct{}

func (disconnectedState) Handle() handshakestate.Handle { return handshakestate.Disconnected }

func (disconnectedState) OnEnter(_ *handshakestate.Env, _ *handshakestate.Flow) {}

// TLS always proceeds;
func (disconnectedState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	if kind != wireformat.HandshakeTypeClientHello {
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "expected ClientHello"))
		return
	}
	ch, err := handshakemsg.UnmarshalClientHello(body, env.IsDTLS)
	if err != nil {
		flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed ClientHello", err))
		return
	}

	if !env.IsDTLS || !env.Config.CookieVerificationIsOn {
		admitClientHello(env, ch)
		env.RequestTransition(handshakestate.StateClientHello)
		return
	}

	expected := handshakestate.ComputeCookie(env.Sec.VerificationSecret, ch.Random[:], env.PeerIdentifier)
	if len(ch.Cookie) == 0 {
		hvr := &handshakemsg.HelloVerifyRequest{ServerVersion: env.ProtocolVersion(), Cookie: expected}
		env.BeginFlight()
		env.SendHandshake(wireformat.HandshakeTypeHelloVerifyRequest, hvr)
		return
	}
	if !hmac.Equal(ch.Cookie, expected) {
		return
	}
	admitClientHello(env, ch)
	env.RequestTransition(handshakestate.StateClientHello)
}

func admitClientHello(env *handshakestate.Env, ch *handshakemsg.ClientHello) {
	env.Sec.ClientRandom = ch.Random
	env.Sec.OfferedSuites = ch.CipherSuites
	env.RecordReceived(wireformat.HandshakeTypeClientHello, ch)
}

func (disconnectedState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindInvalidState, "no change_cipher_spec expected while disconnected"))
}

func (disconnectedState) OnTimer(_ *handshakestate.Env, _ *handshakestate.Flow) {}
