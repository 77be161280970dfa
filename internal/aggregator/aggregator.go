package aggregator

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"funahara/dtlshandshake/internal/wireformat"
)

// Mode selects which reassembly path the aggregator runs.
type Mode int

const (
	ModeTLS Mode = iota
	ModeDTLS
)

type Delivered struct {
	Kind       wireformat.HandshakeType
	MessageSeq uint16 // 0 for TLS, meaningless there
	Framed     []byte // 4-byte TLS header + body
	Retransmit bool
}

type collector struct {
	kind           wireformat.HandshakeType
	totalLength    int
	buf            []byte
	seenRanges     []fragRange
	bytesCollected int
}

type fragRange struct{ offset, length int }

func (c *collector) complete() bool { return c.bytesCollected >= c.totalLength }

func (c *collector) overlaps(offset, length int) bool {
	for _, r := range c.seenRanges {
		if offset < r.offset+r.length && r.offset < offset+length {
			return true
		}
	}
	return false
}

// Aggregator is the HandshakeAggregator.
type Aggregator struct {
	mode Mode

	queue []byte

	// DTLS path state.
	collectors      map[uint16]*collector
	nextExpectedSeq uint16
	completed       map[uint16][]byte // delivered bodies, retained for retransmit detection

	Deliver func(Delivered)
}

// New builds an Aggregator for the given transport mode.
func New(mode Mode) *Aggregator {
	return &Aggregator{
		mode:       mode,
		collectors: make(map[uint16]*collector),
		completed:  make(map[uint16][]byte),
	}
}

// Reset discards all reassembly state: the stream queue, every partial
// collector, the delivered-message retention, and the sequence cursor.
// Called on handshake teardown and local disconnect (not when the DTLS
// server's reconnection path re-enters Disconnected) and when the connected
// retention period ends.
func (a *Aggregator) Reset() {
	a.queue = nil
	a.collectors = make(map[uint16]*collector)
	a.completed = make(map[uint16][]byte)
	a.nextExpectedSeq = 0
}

// PushTLS appends newly-arrived stream bytes and flushes every complete
// handshake message currently sitting at the front of the queue. Must only
// be called when mode is ModeTLS.
func (a *Aggregator) PushTLS(data []byte) error {
	if a.mode != ModeTLS {
		return fmt.Errorf("aggregator: PushTLS called in DTLS mode")
	}
	a.queue = append(a.queue, data...)
	for {
		if len(a.queue) < 4 {
			return nil
		}
		length := uint24(a.queue[1:4])
		if len(a.queue) < 4+length {
			return nil
		}
		kind := wireformat.HandshakeType(a.queue[0])
		framed := append([]byte{}, a.queue[:4+length]...)
		a.queue = a.queue[4+length:]
		if a.Deliver != nil {
			a.Deliver(Delivered{Kind: kind, Framed: framed, Retransmit: false})
		}
	}
}

// Must only be called when mode is ModeDTLS.
func (a *Aggregator) PushDTLSFragment(raw []byte) error {
	if a.mode != ModeDTLS {
		return fmt.Errorf("aggregator: PushDTLSFragment called in TLS mode")
	}
	if len(raw) < 12 {
		return fmt.Errorf("aggregator: dtls handshake header truncated")
	}
	kind := wireformat.HandshakeType(raw[0])
	totalLength := uint24(raw[1:4])
	messageSeq := binary.BigEndian.Uint16(raw[4:6])
	fragOffset := uint24(raw[6:9])
	fragLength := uint24(raw[9:12])
	if fragOffset+fragLength > totalLength {
		return fmt.Errorf("aggregator: fragment_offset+fragment_length exceeds total_length for seq %d", messageSeq)
	}
	if len(raw) < 12+fragLength {
		return fmt.Errorf("aggregator: dtls handshake fragment shorter than declared fragment_length")
	}
	fragment := raw[12 : 12+fragLength]

	// Step 1: discard fragments from already-processed sequences; detect
	// retransmits of a message we already delivered. Only a fragment whose
	// bytes exactly match the delivered message counts as a retransmit —
	// a different message reusing an old sequence number (e.g. a rebooted
	// peer before the retention period ends) is silently dropped.
	if messageSeq < a.nextExpectedSeq {
		prior, ok := a.completed[messageSeq]
		if ok && len(prior) == totalLength && bytes.Equal(fragment, prior[fragOffset:fragOffset+fragLength]) {
			if a.Deliver != nil {
				a.Deliver(Delivered{Kind: kind, MessageSeq: messageSeq, Retransmit: true})
			}
		}
		return nil
	}

	// Step 2: locate or create the collector for this sequence.
	c, exists := a.collectors[messageSeq]
	if !exists {
		c = &collector{kind: kind, totalLength: totalLength, buf: make([]byte, totalLength)}
		a.collectors[messageSeq] = c
	} else if c.totalLength != totalLength {
		return fmt.Errorf("aggregator: total_length mismatch for seq %d: had %d, got %d", messageSeq, c.totalLength, totalLength)
	}
	if c.overlaps(fragOffset, fragLength) {
		return nil
	}

	// Step 3: copy into place, record the range, update progress.
	copy(c.buf[fragOffset:fragOffset+fragLength], fragment)
	c.seenRanges = append(c.seenRanges, fragRange{fragOffset, fragLength})
	c.bytesCollected += fragLength

	// Step 4: flush every collector that has become complete at the
	// cursor, advancing the cursor as we go. Bookkeeping happens before
	// Deliver so a handler that calls Reset mid-flush leaves the
	// aggregator in its freshly-reset state.
	for {
		seq := a.nextExpectedSeq
		cur, ok := a.collectors[seq]
		if !ok || !cur.complete() {
			break
		}
		framed := make([]byte, 0, 4+cur.totalLength)
		framed = append(framed, tlsHeader(cur.kind, cur.totalLength)...)
		framed = append(framed, cur.buf...)
		a.completed[seq] = cur.buf
		delete(a.collectors, seq)
		a.nextExpectedSeq++
		if a.Deliver != nil {
			a.Deliver(Delivered{Kind: cur.kind, MessageSeq: seq, Framed: framed, Retransmit: false})
		}
	}
	return nil
}

func tlsHeader(kind wireformat.HandshakeType, length int) []byte {
	h := make([]byte, 4)
	h[0] = byte(kind)
	h[1] = byte(length >> 16)
	h[2] = byte(length >> 8)
	h[3] = byte(length)
	return h
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
