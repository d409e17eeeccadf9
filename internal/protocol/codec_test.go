package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testSender(seed byte) SenderID {
	var id SenderID
	for i := range id {
		id[i] = seed + byte(i)
	}
	return id
}

func TestCodecRoundTrip(t *testing.T) {
	chunk := bytes.Repeat([]byte{0xAB}, MaxChunkPayload)

	tests := []struct {
		name string
		msg  Message
	}{
		{"enter", Enter{Name: "alice"}},
		{"enter unnamed", Enter{}},
		{"exit", Exit{Name: "bob"}},
		{"heartbeat", Heartbeat{}},
		{"text private", Text{Body: "hi"}},
		{"text public", Text{Body: "hello room", Public: true}},
		{"text utf8", Text{Body: "héllo 世界"}},
		{"text max", Text{Body: strings.Repeat("x", MaxTextSize)}},
		{"file header", FileHeader{FileID: 7, Size: 3000, TotalChunks: 3, ChunkSize: 1024, Name: "report.pdf"}},
		{"file header empty", FileHeader{FileID: 8, Name: "empty.txt"}},
		{"file chunk", FileChunk{FileID: 7, Index: 2, Data: []byte("tail")}},
		{"file chunk full", FileChunk{FileID: 7, Index: 0, Data: chunk}},
		{"ack sequence", Ack{Kind: AckSequence, Number: 42}},
		{"ack chunk", Ack{Kind: AckChunk, FileID: 7, Number: 2}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Packet{Sender: testSender(byte(i)), Seq: uint32(1000 + i), Msg: tt.msg}
			data, err := Encode(in)
			if err != nil {
				t.Fatalf("Encode %s failed: %v", tt.name, err)
			}
			if len(data) > SafeDatagramSize {
				t.Errorf("datagram is %d bytes, want <= %d", len(data), SafeDatagramSize)
			}

			out, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode %s failed: %v", tt.name, err)
			}
			if !reflect.DeepEqual(in, out) {
				t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
			}
		})
	}
}

func TestCodecHeaderLayout(t *testing.T) {
	sender := testSender(1)
	data, err := Encode(Packet{Sender: sender, Seq: 0x01020304, Msg: Text{Body: "hi"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if data[0] != byte(MsgText) {
		t.Errorf("expected tag 0x%02x, got 0x%02x", MsgText, data[0])
	}
	if !bytes.Equal(data[1:17], sender[:]) {
		t.Errorf("sender id not at offset 1")
	}
	if !bytes.Equal(data[17:21], []byte{1, 2, 3, 4}) {
		t.Errorf("sequence not big-endian: %x", data[17:21])
	}
	if got := binary.BigEndian.Uint16(data[21:23]); got != 3 {
		t.Errorf("expected body length 3, got %d", got)
	}
	if len(data) != HeaderSize+3 {
		t.Errorf("expected %d bytes, got %d", HeaderSize+3, len(data))
	}
}

func TestCodecChecksumSensitivity(t *testing.T) {
	data, err := Encode(Packet{Sender: testSender(3), Seq: 9, Msg: FileChunk{FileID: 1, Index: 4, Data: []byte("payload bytes")}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for i := HeaderSize; i < len(data); i++ {
		flipped := bytes.Clone(data)
		flipped[i] ^= 0x01
		_, err := Decode(flipped)
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("flipping body byte %d: expected ErrChecksumMismatch, got %v", i, err)
		}
	}

	for i := 0; i < HeaderSize; i++ {
		flipped := bytes.Clone(data)
		flipped[i] ^= 0x01
		if _, err := Decode(flipped); err == nil {
			t.Errorf("flipping header byte %d: expected an error", i)
		}
	}
}

func TestCodecTruncated(t *testing.T) {
	data, err := Encode(Packet{Sender: testSender(4), Seq: 1, Msg: Text{Body: "truncate me"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for _, n := range []int{0, 1, HeaderSize - 1, HeaderSize, len(data) - 1} {
		_, err := Decode(data[:n])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("Decode of %d bytes: expected ErrTruncated, got %v", n, err)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Decode of %d bytes: expected *DecodeError, got %T", n, err)
		}
	}
}

func TestCodecTrailingBytesIgnored(t *testing.T) {
	data, err := Encode(Packet{Sender: testSender(5), Seq: 2, Msg: Enter{Name: "carol"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	padded := append(bytes.Clone(data), 0, 0, 0)

	p, err := Decode(padded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if enter, ok := p.Msg.(Enter); !ok || enter.Name != "carol" {
		t.Errorf("Expected Enter{carol}, got %+v", p.Msg)
	}
}

func TestCodecUnknownVariant(t *testing.T) {
	data, err := Encode(Packet{Sender: testSender(6), Seq: 3, Msg: Heartbeat{}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	data[0] = 0x7F
	binary.BigEndian.PutUint32(data[offChecksum:HeaderSize], checksum(data))

	_, err = Decode(data)
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason() != "unknown_variant" {
		t.Errorf("expected reason unknown_variant, got %v", err)
	}
}

func TestCodecShortVariantBody(t *testing.T) {
	data, err := Encode(Packet{Sender: testSender(7), Seq: 4, Msg: Enter{Name: "abc"}})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// Re-tag a 3 byte body as an Ack, which needs 9.
	data[0] = byte(MsgAck)
	binary.BigEndian.PutUint32(data[offChecksum:HeaderSize], checksum(data))

	if _, err := Decode(data); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestCodecOversizedBody(t *testing.T) {
	tests := []Message{
		Text{Body: strings.Repeat("x", MaxTextSize+1)},
		FileChunk{Data: make([]byte, MaxChunkPayload+1)},
		Enter{Name: strings.Repeat("n", MaxNameSize+1)},
		FileHeader{Name: strings.Repeat("f", MaxNameSize+1)},
	}
	for _, msg := range tests {
		if _, err := Encode(Packet{Msg: msg}); !errors.Is(err, ErrBodyTooLarge) {
			t.Errorf("Encode %s: expected ErrBodyTooLarge, got %v", msg.Type(), err)
		}
	}

	if _, err := Encode(Packet{}); !errors.Is(err, ErrNilMessage) {
		t.Errorf("expected ErrNilMessage, got %v", err)
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"  padded  ", "padded"},
		{"bell\a and\x1b[31m escape", "bell and[31m escape"},
		{"two\nlines", "two\nlines"},
		{"\t\r\n", ""},
	}
	for _, tt := range tests {
		if got := SanitizeText(tt.in); got != tt.want {
			t.Errorf("SanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMessageTypeString(t *testing.T) {
	if MsgFileChunk.String() != "FILE_CHUNK" {
		t.Errorf("expected FILE_CHUNK, got %s", MsgFileChunk)
	}
	if MessageType(0xEE).String() != "UNKNOWN" {
		t.Errorf("expected UNKNOWN for unrecognised tag")
	}
}
