// Package ipc defines the wire format exchanged over the fabric: a fixed
// 14-byte little-endian header followed by a bounded payload.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"pipemesh/internal/lamport"
)

// Magic marks the start of every header.
const Magic uint16 = 0xAFAF

// HeaderSize is the encoded size of a [Header]: magic(2) type(2) len(2) time(8).
const HeaderSize = 14

// MaxMessageLen bounds a whole frame so that one write to a pipe is atomic.
const MaxMessageLen = 4096

// MaxPayloadLen is the largest payload a frame may carry.
const MaxPayloadLen = MaxMessageLen - HeaderSize

var (
	// ErrPayloadTooLarge is returned when building a message with an oversize payload.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum length")
	// ErrMalformed is returned by ReadMessage for a header that cannot be trusted.
	ErrMalformed = errors.New("malformed frame")
)

// Type tags a message.
type Type uint16

const (
	Started Type = iota
	Done
	// Ack, Stop, Transfer and BalanceHistory belong to the banking
	// application. They keep their wire value but are never handled here.
	Ack
	Stop
	Transfer
	BalanceHistory
	CSRequest
	CSReply
	CSRelease
)

var typeNames = map[Type]string{
	Started:        "STARTED",
	Done:           "DONE",
	Ack:            "ACK",
	Stop:           "STOP",
	Transfer:       "TRANSFER",
	BalanceHistory: "BALANCE_HISTORY",
	CSRequest:      "CS_REQUEST",
	CSReply:        "CS_REPLY",
	CSRelease:      "CS_RELEASE",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint16(t))
}

// Header is the fixed part of a frame.
type Header struct {
	Magic      uint16
	Type       Type
	PayloadLen uint16
	Time       lamport.Time
}

// Message is a header and its payload. Once built it is not modified.
type Message struct {
	Header
	Payload []byte
}

// New builds a message stamped with the given time.
func New(t Type, time lamport.Time, payload []byte) (Message, error) {
	if len(payload) > MaxPayloadLen {
		return Message{}, fmt.Errorf("%v with %d bytes: %w", t, len(payload), ErrPayloadTooLarge)
	}
	return Message{
		Header: Header{
			Magic:      Magic,
			Type:       t,
			PayloadLen: uint16(len(payload)),
			Time:       time,
		},
		Payload: append([]byte(nil), payload...),
	}, nil
}

// Empty builds a message without payload.
func Empty(t Type, time lamport.Time) Message {
	m, _ := New(t, time, nil)
	return m
}

// MarshalBinary encodes the whole frame.
func (m Message) MarshalBinary() ([]byte, error) {
	if len(m.Payload) != int(m.PayloadLen) {
		return nil, fmt.Errorf("%w: header announces %d bytes, payload has %d", ErrMalformed, m.PayloadLen, len(m.Payload))
	}
	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], m.Magic)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(m.Type))
	binary.LittleEndian.PutUint16(buf[4:6], m.PayloadLen)
	binary.LittleEndian.PutUint64(buf[6:14], uint64(m.Time))
	copy(buf[HeaderSize:], m.Payload)
	return buf, nil
}

// WriteTo writes the frame with a single Write call.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	buf, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	return int64(n), err
}

// ReadMessage reads exactly one header, then exactly the payload it announces.
// It blocks until the whole frame is available.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	h := Header{
		Magic:      binary.LittleEndian.Uint16(hdr[0:2]),
		Type:       Type(binary.LittleEndian.Uint16(hdr[2:4])),
		PayloadLen: binary.LittleEndian.Uint16(hdr[4:6]),
		Time:       lamport.Time(binary.LittleEndian.Uint64(hdr[6:14])),
	}
	if h.Magic != Magic {
		return Message{}, fmt.Errorf("%w: bad magic %#04x", ErrMalformed, h.Magic)
	}
	if h.PayloadLen > MaxPayloadLen {
		return Message{}, fmt.Errorf("%w: payload length %d over %d", ErrMalformed, h.PayloadLen, MaxPayloadLen)
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}
	return Message{Header: h, Payload: payload}, nil
}

func (m Message) String() string {
	return fmt.Sprintf("%v@%d(%dB)", m.Type, m.Time, m.PayloadLen)
}
