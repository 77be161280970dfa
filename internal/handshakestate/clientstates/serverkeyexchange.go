package clientstates

import (
	"encoding/binary"

	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/wireformat"
)

type serverKeyExchangeState struct{}

func (serverKeyExchangeState) Handle() handshakestate.Handle {
	return handshakestate.StateServerKeyExchange
}

func (serverKeyExchangeState) OnEnter(_ *handshakestate.Env, _ *handshakestate.Flow) {}

func (serverKeyExchangeState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	switch kind {
	case wireformat.HandshakeTypeServerKeyExchange:
		certSuite := handshakestate.RequiresCertificateExchange(env.Sec.Suite)
		var ske *handshakemsg.ServerKeyExchange
		var err error
		if certSuite {
			ske, err = handshakemsg.UnmarshalServerKeyExchangeECDHE(body)
		} else {
			ske, err = handshakemsg.UnmarshalServerKeyExchangePSK(body)
		}
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed ServerKeyExchange", err))
			return
		}
		if certSuite {
			if env.Verifier != nil {
				signed := signedParams(env, ske)
				if err := env.Verifier.VerifySignature(env.Sec.PeerChain, ske.SignatureScheme, signed, ske.Signature); err != nil {
					flow.Fail(alert.Wrap(alert.KindAlertHandshakeFailure, "ServerKeyExchange signature invalid", err))
					return
				}
			}
			copy(env.Sec.PeerECDHEPublic[:], ske.ECDHEPublicKey)
		}
		env.RecordReceived(wireformat.HandshakeTypeServerKeyExchange, ske)

	case wireformat.HandshakeTypeCertificateRequest:
		cr, err := handshakemsg.UnmarshalCertificateRequest(body)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed CertificateRequest", err))
			return
		}
		env.Sec.ClientAuthRequested = true
		env.RecordReceived(wireformat.HandshakeTypeCertificateRequest, cr)
		env.RequestTransition(handshakestate.StateCertificateRequest)

	case wireformat.HandshakeTypeServerHelloDone:
		env.RecordReceived(wireformat.HandshakeTypeServerHelloDone, &handshakemsg.ServerHelloDone{})
		env.RequestTransition(handshakestate.StateServerHelloDone)

	default:
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected handshake message awaiting ServerHelloDone"))
	}
}

func (serverKeyExchangeState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected change_cipher_spec awaiting ServerHelloDone"))
}

func (serverKeyExchangeState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	retryOrFailOnTimeout(env, flow)
}

// signedParams reconstructs the bytes the server signed over for an ECDHE
// ServerKeyExchange: client_random || server_random || curve params
// (RFC8422-style), mirroring what serverstates composes when it builds
// the signature.
func signedParams(env *handshakestate.Env, ske *handshakemsg.ServerKeyExchange) []byte {
	out := make([]byte, 0, 64+3+len(ske.ECDHEPublicKey))
	out = append(out, env.Sec.ClientRandom[:]...)
	out = append(out, env.Sec.ServerRandom[:]...)
	out = append(out, ske.ECDHECurveType)
	curve := make([]byte, 2)
	binary.BigEndian.PutUint16(curve, ske.ECDHENamedCurve)
	out = append(out, curve...)
	out = append(out, byte(len(ske.ECDHEPublicKey)))
	out = append(out, ske.ECDHEPublicKey...)
	return out
}
