package clientstates

import (
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

type serverCertificateExchangeState struct{}

func (serverCertificateExchangeState) Handle() handshakestate.Handle {
	return handshakestate.StateServerCertificateExchange
}

func (serverCertificateExchangeState) OnEnter(_ *handshakestate.Env, _ *handshakestate.Flow) {}

func (serverCertificateExchangeState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	if kind != wireformat.HandshakeTypeCertificate {
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "expected server Certificate"))
		return
	}
	cert, err := handshakemsg.UnmarshalCertificate(body)
	if err != nil {
		flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed Certificate", err))
		return
	}
	if env.Verifier != nil {
		if err := env.Verifier.VerifyChain(cert.Chain, env.RootLabels); err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertHandshakeFailure, "server certificate chain did not validate", err))
			return
		}
	}
	env.Sec.PeerChain = cert.Chain
	env.RecordReceived(wireformat.HandshakeTypeCertificate, cert)
	env.RequestTransition(handshakestate.StateServerKeyExchange)
}

func (serverCertificateExchangeState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected change_cipher_spec awaiting server Certificate"))
}

func (serverCertificateExchangeState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	retryOrFailOnTimeout(env, flow)
}
