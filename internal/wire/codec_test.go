package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func strptr(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	edit := int64(1700000123)
	roles := []uint64{3, 5}

	packets := []Packet{
		Close{},
		Err(ErrMissingPermission),
		RateLimited(42),
		&Login{Bot: false, Name: "alice", Password: strptr("hunter2")},
		&Login{Bot: true, Name: "helper", Token: strptr("abc123")},
		&LoginSuccess{Created: true, ID: 1, Token: "tok"},
		&LoginUpdate{Name: strptr("bob"), ResetToken: true},
		&RoleCreate{Allow: 3, Deny: 0, Name: "mod", Pos: 1},
		&RoleUpdate{Inner: Role{Allow: 7, ID: 3, Name: "mod", Pos: 2}},
		&RoleDelete{ID: 3},
		&RoleReceive{Inner: Role{ID: 3, Name: "mod", Pos: 1}, New: true},
		&RoleDeleteReceive{Inner: Role{ID: 3, Name: "mod", Pos: 1}},
		&ChannelCreate{Name: "general", Overrides: map[uint64]Override{3: {Allow: 1, Deny: 2}}},
		&ChannelUpdate{Inner: Channel{ID: 1, Name: "misc", Overrides: map[uint64]Override{}}, KeepOverrides: true},
		&ChannelDelete{ID: 1},
		&ChannelReceive{Inner: Channel{ID: 1, Name: "general", Overrides: map[uint64]Override{2: {Deny: 2}}}},
		&ChannelDeleteReceive{Inner: Channel{ID: 1, Name: "general"}},
		&MessageCreate{Channel: 1, Text: []byte("hi")},
		&MessageUpdate{Channel: 1, ID: 9, Text: []byte("edited")},
		&MessageDelete{Channel: 1, ID: 9},
		&MessageList{Channel: 1, Limit: 64},
		&MessageList{Channel: 1, Before: func() *uint64 { v := uint64(10); return &v }(), Limit: 25},
		&MessageReceive{Inner: Message{Author: 1, Channel: 1, ID: 9, Text: []byte("hi"), Timestamp: 1700000000, TimestampEdit: &edit}, New: true},
		&MessageDeleteReceive{ID: 9},
		&Typing{Channel: 1},
		&TypingReceive{Author: 1, Channel: 1},
		&UserReceive{Inner: User{Roles: []uint64{3}, ID: 2, Name: "alice"}},
		&UserUpdate{ID: 2, Roles: &roles},
	}

	for _, p := range packets {
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode(%T) error = %v", p, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%T) error = %v", p, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Errorf("round trip %T:\n got  %#v\n want %#v", p, got, p)
		}
	}
}

func TestEncodeTooBig(t *testing.T) {
	p := &MessageCreate{Channel: 1, Text: bytes.Repeat([]byte("x"), MaxPacketSize+1)}
	if _, err := Encode(p); !errors.Is(err, ErrPacketTooBig) {
		t.Fatalf("Encode() error = %v, want ErrPacketTooBig", err)
	}
}

func TestEncodeAtLimitFits(t *testing.T) {
	// Leave room for the envelope and field overhead.
	p := &MessageCreate{Channel: 1, Text: bytes.Repeat([]byte("x"), MaxPacketSize-64)}
	data, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(data) > MaxPacketSize {
		t.Fatalf("encoded length %d exceeds frame limit", len(data))
	}
}

func TestDecodeUnknownVariant(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	_ = enc.EncodeArrayLen(2)
	_ = enc.EncodeString("selfdestruct")
	_ = enc.Encode(nil)

	if _, err := Decode(buf.Bytes()); !errors.Is(err, ErrUnknownPacket) {
		t.Fatalf("Decode() error = %v, want ErrUnknownPacket", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1, 0xff, 0x00}); err == nil {
		t.Fatal("Decode() accepted garbage")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := &Typing{Channel: 7}
	if err := WritePacket(&buf, want); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	got, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("frame round trip = %#v, want %#v", got, want)
	}
}

func TestReadFrameZeroLength(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 0})); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("ReadFrame() error = %v, want ErrEmptyFrame", err)
	}
}

func TestReadFrameShortBody(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 5, 1, 2})); err == nil {
		t.Fatal("ReadFrame() accepted truncated body")
	}
}

func TestWritePacketTooBigWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	p := &MessageCreate{Channel: 1, Text: bytes.Repeat([]byte("x"), MaxPacketSize+1)}
	if err := WritePacket(&buf, p); !errors.Is(err, ErrPacketTooBig) {
		t.Fatalf("WritePacket() error = %v, want ErrPacketTooBig", err)
	}
	if buf.Len() != 0 {
		t.Errorf("WritePacket() wrote %d bytes on encode failure", buf.Len())
	}
}
