package protocol

const (
	SenderIDSize     = 16
	HeaderSize       = 1 + SenderIDSize + 4 + 2 + 4
	SafeDatagramSize = 1200
	MaxBodySize      = SafeDatagramSize - HeaderSize
	MaxChunkPayload  = 1024
	MaxTextSize      = MaxBodySize - 1
	MaxNameSize      = 255

	fileHeaderFixed = 4 + 8 + 4 + 2
	fileChunkFixed  = 4 + 4
	ackSize         = 1 + 4 + 4
)

// Header field offsets.
const (
	offTag      = 0
	offSender   = 1
	offSeq      = offSender + SenderIDSize
	offBodyLen  = offSeq + 4
	offChecksum = offBodyLen + 2
)

type MessageType uint8

const (
	MsgEnter      MessageType = 0x01
	MsgExit       MessageType = 0x02
	MsgHeartbeat  MessageType = 0x03
	MsgText       MessageType = 0x04
	MsgFileHeader MessageType = 0x05
	MsgFileChunk  MessageType = 0x06
	MsgAck        MessageType = 0x07
)

func (t MessageType) String() string {
	switch t {
	case MsgEnter:
		return "ENTER"
	case MsgExit:
		return "EXIT"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgText:
		return "TEXT"
	case MsgFileHeader:
		return "FILE_HEADER"
	case MsgFileChunk:
		return "FILE_CHUNK"
	case MsgAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// AckKind says whether an Ack refers to a message sequence number or a file chunk index.
type AckKind uint8

const (
	AckSequence AckKind = 0
	AckChunk    AckKind = 1
)

func (k AckKind) String() string {
	switch k {
	case AckSequence:
		return "SEQUENCE"
	case AckChunk:
		return "CHUNK"
	default:
		return "UNKNOWN"
	}
}

const textFlagPublic = 0x01
