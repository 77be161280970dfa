package serverstates

import "funahara/dtlshandshake/internal/handshakestate"

func NewPool() map[handshakestate.Handle]handshakestate.State {
	return map[handshakestate.Handle]handshakestate.State{
		handshakestate.Disconnected:                disconnectedState{},
		handshakestate.StateClientHello:            clientHelloState{},
		handshakestate.StateClientKeyExchange:       clientKeyExchangeState{},
		handshakestate.StateClientChangeCipherSpec:  clientChangeCipherSpecState{},
		handshakestate.StateConnected:               connectedState{},
	}
}
