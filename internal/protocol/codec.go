package protocol

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
	"unicode"
)

// Encode serializes p into a single datagram.
func Encode(p Packet) ([]byte, error) {
	if p.Msg == nil {
		return nil, ErrNilMessage
	}
	body, err := encodeBody(p.Msg)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[offTag] = byte(p.Msg.Type())
	copy(buf[offSender:offSeq], p.Sender[:])
	binary.BigEndian.PutUint32(buf[offSeq:offBodyLen], p.Seq)
	binary.BigEndian.PutUint16(buf[offBodyLen:offChecksum], uint16(len(body)))
	copy(buf[HeaderSize:], body)
	binary.BigEndian.PutUint32(buf[offChecksum:HeaderSize], checksum(buf))
	return buf, nil
}

// Decode parses one datagram. Bytes past the declared body length are ignored.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, &DecodeError{Err: ErrTruncated}
	}
	tag := MessageType(b[offTag])
	n := int(binary.BigEndian.Uint16(b[offBodyLen:offChecksum]))
	if len(b) < HeaderSize+n {
		return Packet{}, &DecodeError{Tag: tag, Err: ErrTruncated}
	}
	datagram := b[:HeaderSize+n]
	if checksum(datagram) != binary.BigEndian.Uint32(b[offChecksum:HeaderSize]) {
		return Packet{}, &DecodeError{Tag: tag, Err: ErrChecksumMismatch}
	}

	msg, err := decodeBody(tag, datagram[HeaderSize:])
	if err != nil {
		return Packet{}, &DecodeError{Tag: tag, Err: err}
	}

	var p Packet
	copy(p.Sender[:], b[offSender:offSeq])
	p.Seq = binary.BigEndian.Uint32(b[offSeq:offBodyLen])
	p.Msg = msg
	return p, nil
}

// checksum covers tag, sender and sequence plus the body; body length and the
// checksum field itself are excluded.
func checksum(datagram []byte) uint32 {
	h := crc32.NewIEEE()
	_, _ = h.Write(datagram[:offBodyLen])
	_, _ = h.Write(datagram[HeaderSize:])
	return h.Sum32()
}

func encodeBody(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Enter:
		return encodeName(m.Name)
	case Exit:
		return encodeName(m.Name)
	case Heartbeat:
		return nil, nil
	case Text:
		if len(m.Body) > MaxTextSize {
			return nil, ErrBodyTooLarge
		}
		body := make([]byte, 1+len(m.Body))
		if m.Public {
			body[0] = textFlagPublic
		}
		copy(body[1:], m.Body)
		return body, nil
	case FileHeader:
		if len(m.Name) > MaxNameSize {
			return nil, ErrBodyTooLarge
		}
		body := make([]byte, fileHeaderFixed+len(m.Name))
		binary.BigEndian.PutUint32(body[0:4], m.FileID)
		binary.BigEndian.PutUint64(body[4:12], m.Size)
		binary.BigEndian.PutUint32(body[12:16], m.TotalChunks)
		binary.BigEndian.PutUint16(body[16:18], m.ChunkSize)
		copy(body[fileHeaderFixed:], m.Name)
		return body, nil
	case FileChunk:
		if len(m.Data) > MaxChunkPayload {
			return nil, ErrBodyTooLarge
		}
		body := make([]byte, fileChunkFixed+len(m.Data))
		binary.BigEndian.PutUint32(body[0:4], m.FileID)
		binary.BigEndian.PutUint32(body[4:8], m.Index)
		copy(body[fileChunkFixed:], m.Data)
		return body, nil
	case Ack:
		body := make([]byte, ackSize)
		body[0] = byte(m.Kind)
		binary.BigEndian.PutUint32(body[1:5], m.FileID)
		binary.BigEndian.PutUint32(body[5:9], m.Number)
		return body, nil
	default:
		return nil, ErrUnknownVariant
	}
}

func encodeName(name string) ([]byte, error) {
	if len(name) > MaxNameSize {
		return nil, ErrBodyTooLarge
	}
	return []byte(name), nil
}

func decodeBody(tag MessageType, body []byte) (Message, error) {
	switch tag {
	case MsgEnter:
		return Enter{Name: decodeString(body)}, nil
	case MsgExit:
		return Exit{Name: decodeString(body)}, nil
	case MsgHeartbeat:
		return Heartbeat{}, nil
	case MsgText:
		if len(body) < 1 {
			return nil, ErrTruncated
		}
		return Text{
			Public: body[0]&textFlagPublic != 0,
			Body:   decodeString(body[1:]),
		}, nil
	case MsgFileHeader:
		if len(body) < fileHeaderFixed {
			return nil, ErrTruncated
		}
		return FileHeader{
			FileID:      binary.BigEndian.Uint32(body[0:4]),
			Size:        binary.BigEndian.Uint64(body[4:12]),
			TotalChunks: binary.BigEndian.Uint32(body[12:16]),
			ChunkSize:   binary.BigEndian.Uint16(body[16:18]),
			Name:        decodeString(body[fileHeaderFixed:]),
		}, nil
	case MsgFileChunk:
		if len(body) < fileChunkFixed {
			return nil, ErrTruncated
		}
		var data []byte
		if len(body) > fileChunkFixed {
			data = make([]byte, len(body)-fileChunkFixed)
			copy(data, body[fileChunkFixed:])
		}
		return FileChunk{
			FileID: binary.BigEndian.Uint32(body[0:4]),
			Index:  binary.BigEndian.Uint32(body[4:8]),
			Data:   data,
		}, nil
	case MsgAck:
		if len(body) < ackSize {
			return nil, ErrTruncated
		}
		kind := AckKind(body[0])
		if kind != AckSequence && kind != AckChunk {
			return nil, ErrUnknownVariant
		}
		return Ack{
			Kind:   kind,
			FileID: binary.BigEndian.Uint32(body[1:5]),
			Number: binary.BigEndian.Uint32(body[5:9]),
		}, nil
	default:
		return nil, ErrUnknownVariant
	}
}

func decodeString(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// SanitizeText strips control characters other than newlines and trims
// surrounding whitespace.
func SanitizeText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
