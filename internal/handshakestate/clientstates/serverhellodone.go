package clientstates

import (
	"funahara/dtlshandshake/internal/alert"
	"funahara/dtlshandshake/internal/handshakemsg"
	"funahara/dtlshandshake/internal/handshakestate"
	"funahara/dtlshandshake/internal/suite"
	"funahara/dtlshandshake/internal/wireformat"
)

type serverHelloDoneState struct{}

func (serverHelloDoneState) Handle() handshakestate.Handle {
	return handshakestate.StateServerHelloDone
}

func (serverHelloDoneState) OnEnter(env *handshakestate.Env, flow *handshakestate.Flow) {
	descriptor, ok := suite.Lookup(env.Sec.Suite)
	if !ok {
		flow.Fail(alert.New(alert.KindInternal, "negotiated cipher suite has no descriptor"))
		return
	}
	certSuite := handshakestate.RequiresCertificateExchange(env.Sec.Suite)

	env.BeginFlight()

	if certSuite {
		kp, err := suite.GenerateECDHEKeyPair()
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "ecdhe key pair generation failed", err))
			return
		}
		env.Sec.LocalECDHE = kp
		shared, err := suite.ECDHESharedSecret(kp.Private, env.Sec.PeerECDHEPublic)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "ecdhe shared secret computation failed", err))
			return
		}
		env.Sec.PreMasterSecret = shared

		if env.Sec.ClientAuthRequested && len(env.CertChain) > 0 {
			env.SendClientCertificate(&handshakemsg.Certificate{Chain: env.CertChain})
		}
	}

	var cke *handshakemsg.ClientKeyExchange
	if certSuite {
		cke = &handshakemsg.ClientKeyExchange{ECDHEPublicKey: append([]byte{}, env.Sec.LocalECDHE.Public[:]...)}
	} else {
		identity, secret := clientPSKCredentials(env)
		env.Sec.PSKIdentity = identity
		env.Sec.PreMasterSecret = suite.PreMasterSecretFromPSK(secret)
		cke = &handshakemsg.ClientKeyExchange{PSKIdentity: []byte(identity)}
	}
	env.SendHandshake(wireformat.HandshakeTypeClientKeyExchange, cke)

	handshakestate.DeriveSecurityParameters(env, descriptor)

	if certSuite && env.Sec.ClientAuthRequested && env.Signer != nil {
		transcript := env.Manager.SerializeThroughPreCertVerify(env.Sec.Suite)
		const signatureSchemeRSAPKCS1SHA256 = 0x0401
		signature, err := env.Signer.Sign(signatureSchemeRSAPKCS1SHA256, transcript)
		if err != nil {
			flow.Fail(alert.Wrap(alert.KindCryptoAdapterFailure, "client CertificateVerify signing failed", err))
			return
		}
		env.SendHandshake(wireformat.HandshakeTypeCertificateVerify, &handshakemsg.CertificateVerify{
			SignatureScheme: signatureSchemeRSAPKCS1SHA256,
			Signature:       signature,
		})
	}

	env.SendChangeCipherSpec()
	if err := env.Record.InstallWriteSecurityParameters(env.Sec.NextWrite); err != nil {
		flow.Fail(alert.Wrap(alert.KindInternal, "install write security parameters failed", err))
		return
	}

	verifyData := handshakestate.ComputeVerifyData(env, descriptor, true)
	env.SendHandshake(wireformat.HandshakeTypeFinished, &handshakemsg.Finished{VerifyData: verifyData})

	if env.ArmTimer != nil {
		env.ArmTimer(env.Config.HandshakeMessageTimeout())
	}
}

// clientPSKCredentials picks the client's single configured PSK identity.
// config.PSKConfig is shaped as an identity->secret table because the
// server must look up an arbitrary client-supplied identity; a client
// simply uses whichever single entry it was configured with.
func clientPSKCredentials(env *handshakestate.Env) (string, []byte) {
	if len(env.Config.PSK.Entries) == 0 {
		return "", nil
	}
	e := env.Config.PSK.Entries[0]
	return e.Identity, e.Secret
}

func (serverHelloDoneState) OnHandshakeMessage(_ *handshakestate.Env, flow *handshakestate.Flow, _ wireformat.HandshakeType, _ []byte) {
	flow.Fail(alert.New(alert.KindAlertUnexpectedMessage, "unexpected handshake message awaiting peer change_cipher_spec"))
}

func (serverHelloDoneState) OnChangeCipherSpec(env *handshakestate.Env, flow *handshakestate.Flow, b byte) {
	if b != wireformat.ChangeCipherSpecMessage {
		flow.Fail(alert.New(alert.KindAlertDecodeError, "malformed change_cipher_spec"))
		return
	}
	env.RequestTransition(handshakestate.StateServerChangeCipherSpec)
}

func (serverHelloDoneState) OnTimer(env *handshakestate.Env, flow *handshakestate.Flow) {
	retryOrFailOnTimeout(env, flow)
}
