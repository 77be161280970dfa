package recordlayer

import (
	"funahara/dtlshandshake/internal/wireformat"
)

type SecurityParameters struct {
	CipherSuite   wireformat.CipherSuite
	ConnectionEnd wireformat.ConnectionEnd
	ClientRandom  []byte
	ServerRandom  []byte
	MasterSecret  []byte

	ClientWriteKey []byte
	ServerWriteKey []byte
	ClientWriteIV  []byte
	ServerWriteIV  []byte
	ClientWriteMAC []byte
	ServerWriteMAC []byte
}

// Transport (transport.go) is this package's implementation: it frames
// records and applies the installed AEAD keys; it does no fragmentation
// and keeps no replay window.
type RecordLayer interface {
	Send(contentType wireformat.ContentType, payload []byte) error
	InstallWriteSecurityParameters(params SecurityParameters) error
	InstallReadSecurityParameters(params SecurityParameters) error
	Disconnect() error
}

type Callbacks interface {
	OnHandshakeBytes(payload []byte, retransmit bool)
	OnChangeCipherByte(payload []byte)
	OnAlertBytes(payload []byte)
	OnApplicationBytes(payload []byte)
	OnCloseRequest()
}
