package serverstates

import (
	"io"

	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

// x25519NamedCurve / ecdheCurveTypeNamed:
const (
	ecdheCurveTypeNamed = 0x03
	x25519NamedCurve    = 0x001d
	signatureSchemeRSAPKCS1SHA256 = 0x0401
)

// ServerHello, optional Certificate+ServerKeyExchange(signed)+optional
// CertificateRequest for the certificate-based suite, or a PSK-hint
// ServerKeyExchange for PSK suites, then ServerHelloDone. It then waits
// for the client's ClientKeyExchange (and, if client auth was requested,
// an optional Certificate + CertificateVerify) before advancing to
// ClientKeyExchange.
type clientHelloState struct{}

func (clientHelloState) Handle() handshakestate.Handle { return handshakestate.StateClientHello }

func (clientHelloState) OnEnter(env *handshakestate.Env, flow *handshakestate.Flow) {
	selected, ok := suite.Negotiate(env.Config.CipherSuites, env.Sec.OfferedSuites)
	if !ok {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "no mutually supported cipher suite"))
		return
	}
	env.Sec.Suite = selected
	env.Sec.RetriesLeft = env.Config.DTLSHandshakeMessageNoOfRepeat

	random := make([]byte, handshakemsg.RandomLength)
	if _, err := io.ReadFull(env.Rand, random); err != nil {
		flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "server random generation failed", err))
		return
	}
	copy(env.Sec.ServerRandom[:], random)

	certSuite := handshakestate.RequiresCertificateExchange(selected)

	env.BeginFlight()
	env.SendHandshake(wireformat.HandshakeTypeServerHello, &handshakemsg.ServerHello{
		ServerVersion:     env.ProtocolVersion(),
		Random:            env.Sec.ServerRandom,
		CipherSuite:       selected,
		CompressionMethod: 0x00,
	})

	if certSuite {
		if len(env.CertChain) > 0 {
			env.SendHandshake(wireformat.HandshakeTypeCertificate, &handshakemsg.Certificate{Chain: env.CertChain})
		}

		kp, err := suite.GenerateECDHEKeyPair()
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "ecdhe key pair generation failed", err))
			return
		}
		env.Sec.LocalECDHE = kp

		ske := &handshakemsg.ServerKeyExchange{
			ECDHECurveType:  ecdheCurveTypeNamed,
			ECDHENamedCurve: x25519NamedCurve,
			ECDHEPublicKey:  append([]byte{}, kp.Public[:]...),
			SignatureScheme: signatureSchemeRSAPKCS1SHA256,
		}
		if env.Signer != nil {
			ske.Signature, err = env.Signer.Sign(signatureSchemeRSAPKCS1SHA256, signedParams(env, ske))
			if err != nil {
				flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "ServerKeyExchange signing failed", err))
				return
			}
		}
		env.SendHandshake(wireformat.HandshakeTypeServerKeyExchange, ske)

		if env.Verifier != nil {
			env.Sec.ClientAuthRequested = true
			env.SendHandshake(wireformat.HandshakeTypeCertificateRequest, &handshakemsg.CertificateRequest{
				CertificateTypes:    []byte{0x01}, // rsa_sign
				SignatureAlgorithms: [][2]byte{{0x04, 0x01}},
			})
		}
	} else if len(env.Config.PSK.Hint) > 0 {
		env.SendHandshake(wireformat.HandshakeTypeServerKeyExchange, &handshakemsg.ServerKeyExchange{
			PSKIdentityHint: []byte(env.Config.PSK.Hint),
		})
	}

	env.SendHandshake(wireformat.HandshakeTypeServerHelloDone, &handshakemsg.ServerHelloDone{})
	if env.ArmTimer != nil {
		env.ArmTimer(env.Config.HandshakeMessageTimeout())
	}
}

func (clientHelloState) OnHandshakeMessage(env *handshakestate.Env, flow *handshakestate.Flow, kind wireformat.HandshakeType, body []byte) {
	switch kind {
	case wireformat.HandshakeTypeClientKeyExchange:
		certSuite := handshakestate.RequiresCertificateExchange(env.Sec.Suite)
		var cke *handshakemsg.ClientKeyExchange
		var err error
		if certSuite {
			cke, err = handshakemsg.UnmarshalClientKeyExchangeECDHE(body)
		} else {
			cke, err = handshakemsg.UnmarshalClientKeyExchangePSK(body)
		}
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed ClientKeyExchange", err))
			return
		}

		if certSuite {
			copy(env.Sec.PeerECDHEPublic[:], cke.ECDHEPublicKey)
			shared, err := suite.ECDHESharedSecret(env.Sec.LocalECDHE.Private, env.Sec.PeerECDHEPublic)
			if err != nil {
				flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "ecdhe shared secret computation failed", err))
				return
			}
			env.Sec.PreMasterSecret = shared
		} else {
			identity := string(cke.PSKIdentity)
			secret, found := env.Config.PSK.Lookup(identity)
			if !found {
				flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "unknown PSK identity"))
				return
			}
			env.Sec.PSKIdentity = identity
			env.Sec.PSKSecret = secret
			env.Sec.PreMasterSecret = suite.PreMasterSecretFromPSK(secret)
		}
		env.RecordReceived(wireformat.HandshakeTypeClientKeyExchange, cke)

		descriptor, ok := suite.Lookup(env.Sec.Suite)
		if !ok {
			flow.Fail(alert.New(alert.KindInternal, "negotiated cipher suite has no descriptor"))
			return
		}
		handshakestate.DeriveSecurityParameters(env, descriptor)
		env.RequestTransition(handshakestate.StateClientKeyExchange)

	case wireformat.HandshakeTypeCertificate:
		if !env.Sec.ClientAuthRequested {
			flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "client Certificate not requested"))
			return
		}
		cert, err := handshakemsg.UnmarshalCertificate(body)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed client Certificate", err))
			return
		}
		if env.Verifier != nil && len(cert.Chain) > 0 {
			if err := env.Verifier.VerifyChain(cert.Chain, env.RootLabels); err != nil {
				flow.Fail(alert.Wrap(alert.KindAlertHandshakeFailure, "client certificate chain invalid", err))
				return
			}
		}
		env.Sec.PeerChain = cert.Chain
		env.RecordReceivedClientCertificate(cert)

	case wireformat.HandshakeTypeCertificateVerify:
		if !env.Sec.ClientAuthRequested || len(env.Sec.PeerChain) == 0 {
			flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected client CertificateVerify"))
			return
		}
		cv, err := handshakemsg.UnmarshalCertificateVerify(body)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindAlertDecodeError, "malformed CertificateVerify", err))
			return
		}
		if env.Verifier != nil {
			transcript := env.Manager.SerializeThroughPreCertVerify(env.Sec.Suite)
			if err := env.Verifier.VerifySignature(env.Sec.PeerChain, cv.SignatureScheme, transcript, cv.Signature); err != nil {
				flow.Fail(alert.Wrap(alert.KindAlertHandshakeFailure, "client CertificateVerify signature invalid", err))
				return
			}
		}
		env.RecordReceived(wireformat.HandshakeTypeCertificateVerify, cv)

	default:
		flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected handshake message awaiting ClientKeyExchange"))
	}
}

func (clientHelloState) OnChangeCipherSpec(_ *handshakestate.Env, flow *handshakestate.Flow, _ byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected change_cipher_spec before ClientKeyExchange"))
}

func (clientHelloState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	if env.Sec.RetriesLeft <= 0 {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "handshake retry limit exceeded"))
		return
	}
	if !env.IsDTLS {
		flow.Fail(alert.New(alert.KindAlertHandshakeFailure, "handshake timed out"))
		return
	}
	env.RetryOrFail(flow, env.Config.HandshakeMessageTimeout())
}

// signedParams reconstructs client_random||server_random||curve params —
// the same bytes clientstates verifies against (serverkeyexchange.go).
func signedParams(env *handshakestate.Env, ske *handshakemsg.ServerKeyExchange) []byte {
	out := make([]byte, 0, 64+3+len(ske.ECDHEPublicKey))
	out = append(out, env.Sec.ClientRandom[:]...)
	out = append(out, env.Sec.ServerRandom[:]...)
	out = append(out, ske.ECDHECurveType)
	out = append(out, byte(ske.ECDHENamedCurve>>8), byte(ske.ECDHENamedCurve))
	out = append(out, byte(len(ske.ECDHEPublicKey)))
	out = append(out, ske.ECDHEPublicKey...)
	return out
}
