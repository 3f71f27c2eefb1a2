package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPacketSize is the largest encoded packet body that fits the u16 length
// prefix.
const MaxPacketSize = math.MaxUint16

// Sentinel errors for the codec and framing layer.
var (
	ErrPacketTooBig  = errors.New("encoded packet exceeds the u16 frame limit")
	ErrUnknownPacket = errors.New("unknown packet variant")
	ErrEmptyFrame    = errors.New("zero-length frame")
)

// Encode serializes a packet as a 2-element msgpack array of variant name
// and body. Unit packets carry a nil body; Err and RateLimited carry a bare
// integer. Nothing is returned if the result would not fit a u16 frame.
func Encode(p Packet) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := enc.EncodeString(p.wireName()); err != nil {
		return nil, fmt.Errorf("encode variant name: %w", err)
	}

	var body any
	switch v := p.(type) {
	case Close:
		body = nil
	case Err:
		body = uint8(v)
	case RateLimited:
		body = uint64(v)
	default:
		body = p
	}
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("encode %s body: %w", p.wireName(), err)
	}

	if buf.Len() > MaxPacketSize {
		return nil, ErrPacketTooBig
	}
	return buf.Bytes(), nil
}

// Decode parses one encoded packet. The variant name selects the concrete
// type; anything outside the closed set is ErrUnknownPacket.
func Decode(data []byte) (Packet, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if n != 2 {
		return nil, fmt.Errorf("decode envelope: expected 2 elements, got %d", n)
	}
	name, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("decode variant name: %w", err)
	}

	switch name {
	case nameClose:
		if err := dec.Skip(); err != nil {
			return nil, fmt.Errorf("decode close body: %w", err)
		}
		return Close{}, nil
	case nameErr:
		code, err := dec.DecodeUint8()
		if err != nil {
			return nil, fmt.Errorf("decode err body: %w", err)
		}
		return Err(code), nil
	case nameRateLimited:
		secs, err := dec.DecodeUint64()
		if err != nil {
			return nil, fmt.Errorf("decode rate_limited body: %w", err)
		}
		return RateLimited(secs), nil
	}

	p := newPacket(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, name)
	}
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	return p, nil
}

// newPacket returns a fresh zero value for a struct-bodied variant, or nil
// when the name is not part of the protocol.
func newPacket(name string) Packet {
	switch name {
	case nameLogin:
		return &Login{}
	case nameLoginSuccess:
		return &LoginSuccess{}
	case nameLoginUpdate:
		return &LoginUpdate{}
	case nameRoleCreate:
		return &RoleCreate{}
	case nameRoleUpdate:
		return &RoleUpdate{}
	case nameRoleDelete:
		return &RoleDelete{}
	case nameRoleReceive:
		return &RoleReceive{}
	case nameRoleDeleteReceive:
		return &RoleDeleteReceive{}
	case nameChannelCreate:
		return &ChannelCreate{}
	case nameChannelUpdate:
		return &ChannelUpdate{}
	case nameChannelDelete:
		return &ChannelDelete{}
	case nameChannelReceive:
		return &ChannelReceive{}
	case nameChannelDeleteReceive:
		return &ChannelDeleteReceive{}
	case nameMessageCreate:
		return &MessageCreate{}
	case nameMessageUpdate:
		return &MessageUpdate{}
	case nameMessageDelete:
		return &MessageDelete{}
	case nameMessageList:
		return &MessageList{}
	case nameMessageReceive:
		return &MessageReceive{}
	case nameMessageDeleteReceive:
		return &MessageDeleteReceive{}
	case nameTyping:
		return &Typing{}
	case nameTypingReceive:
		return &TypingReceive{}
	case nameUserReceive:
		return &UserReceive{}
	case nameUserUpdate:
		return &UserUpdate{}
	}
	return nil
}

// ReadFrame reads one length-prefixed frame body from r. A zero length is a
// framing error; the caller must close the connection.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(prefix[:])
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// ReadPacket reads and decodes one packet from r.
func ReadPacket(r io.Reader) (Packet, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(body)
}

// WriteFrame writes an already-encoded packet body to w with its length
// prefix. The body must come from Encode, which enforces the size bound.
func WriteFrame(w io.Writer, body []byte) error {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// WritePacket encodes and writes one packet to w. On an encode failure
// nothing is written.
func WritePacket(w io.Writer, p Packet) error {
	body, err := Encode(p)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}
