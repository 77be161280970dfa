package recordlayer

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"funahara/dtlshandshake/internal/wireformat"
)

// recordHeaderLenTLS / recordHeaderLenDTLS are RFC5246 A.1 / RFC6347 4.1's
// record header lengths: content-type(1) + version(2) [+ epoch(2) +
// sequence(6) for DTLS] + length(2).
const (
	recordHeaderLenTLS  = 5
	recordHeaderLenDTLS = 13
)

type Transport struct {
	conn    net.Conn
	isDTLS  bool
	version wireformat.ProtocolVersion

	mu         sync.Mutex
	writeEpoch uint16
	writeSeq   uint64
	writeBox   *AEADBox

	readEpoch uint16
	readBox   *AEADBox

	callbacks Callbacks
	closed    bool
}

// NewTransport wraps conn, dispatching received records to callbacks.
// Callers must call Start once callbacks are ready to receive events.
func NewTransport(conn net.Conn, isDTLS bool, version wireformat.ProtocolVersion, callbacks Callbacks) *Transport {
	return &Transport{conn: conn, isDTLS: isDTLS, version: version, callbacks: callbacks}
}

// Start launches the read loop in its own goroutine.
func (t *Transport) Start() {
	go t.readLoop()
}

var _ RecordLayer = (*Transport)(nil)

// ChangeCipherSpec itself always precedes InstallWriteSecurityParameters
// in every state's send order, so it is never accidentally encrypted with
// the keys it is announcing).
func (t *Transport) Send(contentType wireformat.ContentType, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("recordlayer: transport closed")
	}

	body := payload
	epoch, seq := t.writeEpoch, t.writeSeq
	if t.writeBox != nil {
		body = t.writeBox.Seal(epoch, seq, contentType, t.version, payload)
	}
	t.writeSeq++

	record := t.frameRecord(contentType, epoch, seq, body)
	_, err := t.conn.Write(record)
	return err
}

func (t *Transport) frameRecord(contentType wireformat.ContentType, epoch uint16, seq uint64, body []byte) []byte {
	if !t.isDTLS {
		out := make([]byte, recordHeaderLenTLS+len(body))
		out[0] = byte(contentType)
		binary.BigEndian.PutUint16(out[1:3], uint16(t.version))
		binary.BigEndian.PutUint16(out[3:5], uint16(len(body)))
		copy(out[recordHeaderLenTLS:], body)
		return out
	}
	out := make([]byte, recordHeaderLenDTLS+len(body))
	out[0] = byte(contentType)
	binary.BigEndian.PutUint16(out[1:3], uint16(t.version))
	binary.BigEndian.PutUint16(out[3:5], epoch)
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)
	copy(out[5:11], seqBytes[2:8])
	binary.BigEndian.PutUint16(out[11:13], uint16(len(body)))
	copy(out[recordHeaderLenDTLS:], body)
	return out
}

// InstallWriteSecurityParameters implements RecordLayer: bumps the write
// epoch (DTLS) and resets the sequence counter, per RFC6347 4.1.
func (t *Transport) InstallWriteSecurityParameters(params SecurityParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	box, err := newBoxFor(params, true)
	if err != nil {
		return err
	}
	t.writeBox = box
	t.writeEpoch++
	t.writeSeq = 0
	return nil
}

// InstallReadSecurityParameters implements RecordLayer.
func (t *Transport) InstallReadSecurityParameters(params SecurityParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	box, err := newBoxFor(params, false)
	if err != nil {
		return err
	}
	t.readBox = box
	t.readEpoch++
	return nil
}

func newBoxFor(params SecurityParameters, forWrite bool) (*AEADBox, error) {
	isClient := params.ConnectionEnd == wireformat.ConnectionEndClient
	sendsAsClient := isClient == forWrite
	if sendsAsClient {
		return NewAEADBox(params.ClientWriteKey, params.ClientWriteIV)
	}
	return NewAEADBox(params.ServerWriteKey, params.ServerWriteIV)
}

// Disconnect implements RecordLayer: stop writing and close the socket.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

const maxDatagramSize = 65535

// readLoop parses incoming records and dispatches them by content type.
// For TLS it reads whatever bytes the stream yields and re-frames from a
// scratch buffer; for DTLS every Read is exactly one datagram, i.e. one
// record (no further reassembly at this layer — that is the aggregator's
// job one level up).
func (t *Transport) readLoop() {
	if t.isDTLS {
		t.readLoopDTLS()
	} else {
		t.readLoopTLS()
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	// An error from conn.Read with no local Disconnect means the peer (or
	// the OS) tore the transport down under us.
	if !closed && t.callbacks != nil {
		t.callbacks.OnCloseRequest()
	}
}

func (t *Transport) readLoopDTLS() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			return
		}
		t.handleRecord(buf[:n], recordHeaderLenDTLS)
	}
}

func (t *Transport) readLoopTLS() {
	var scratch []byte
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			return
		}
		scratch = append(scratch, buf[:n]...)
		for {
			if len(scratch) < recordHeaderLenTLS {
				break
			}
			length := int(binary.BigEndian.Uint16(scratch[3:5]))
			total := recordHeaderLenTLS + length
			if len(scratch) < total {
				break
			}
			t.handleRecord(scratch[:total], recordHeaderLenTLS)
			scratch = scratch[total:]
		}
	}
}

func (t *Transport) handleRecord(raw []byte, headerLen int) {
	if len(raw) < headerLen {
		return
	}
	contentType := wireformat.ContentType(raw[0])
	var epoch uint16
	var seq uint64
	if t.isDTLS {
		epoch = binary.BigEndian.Uint16(raw[3:5])
		seqBytes := make([]byte, 8)
		copy(seqBytes[2:8], raw[5:11])
		seq = binary.BigEndian.Uint64(seqBytes)
	}
	body := raw[headerLen:]

	t.mu.Lock()
	box := t.readBox
	installedEpoch := t.readEpoch
	t.mu.Unlock()

	plaintext := body
	if box != nil && (!t.isDTLS || epoch >= installedEpoch) {
		opened, err := box.Open(epoch, seq, contentType, t.version, body)
		if err != nil {
			return
		}
		plaintext = opened
	}

	if t.callbacks == nil {
		return
	}
	switch contentType {
	case wireformat.ContentTypeHandshake:
		t.callbacks.OnHandshakeBytes(plaintext, false)
	case wireformat.ContentTypeChangeCipherSpec:
		t.callbacks.OnChangeCipherByte(plaintext)
	case wireformat.ContentTypeAlert:
		t.callbacks.OnAlertBytes(plaintext)
	case wireformat.ContentTypeApplicationData:
		t.callbacks.OnApplicationBytes(plaintext)
	}
}
