package clientstates

import "funahara/dtlshandshake/internal/handshakestate"

func NewPool() map[handshakestate.Handle]handshakestate.State {
	return map[handshakestate.Handle]handshakestate.State{
		handshakestate.Disconnected:                    disconnectedState{},
		handshakestate.StateClientHello:                clientHelloState{},
		handshakestate.StateServerCertificateExchange:  serverCertificateExchangeState{},
		handshakestate.StateServerKeyExchange:           serverKeyExchangeState{},
		handshakestate.StateCertificateRequest:          certificateRequestState{},
		handshakestate.StateServerHelloDone:             serverHelloDoneState{},
		handshakestate.StateServerChangeCipherSpec:      serverChangeCipherSpecState{},
		handshakestate.StateConnected:                   connectedState{},
	}
}
