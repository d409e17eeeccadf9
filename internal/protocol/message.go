package protocol

import "github.com/google/uuid"

// SenderID identifies one running instance of a node. A fresh id is chosen on
// every start so receivers can tell a restart from a retransmission.
type SenderID [SenderIDSize]byte

func NewSenderID() SenderID {
	return SenderID(uuid.New())
}

func (s SenderID) String() string {
	return uuid.UUID(s).String()
}

func (s SenderID) IsZero() bool {
	return s == SenderID{}
}

// Packet is one datagram: the header fields shared by every variant plus the variant itself.
type Packet struct {
	Sender SenderID
	Seq    uint32
	Msg    Message
}

type Message interface {
	Type() MessageType
}

type Enter struct {
	Name string
}

func (Enter) Type() MessageType { return MsgEnter }

type Exit struct {
	Name string
}

func (Exit) Type() MessageType { return MsgExit }

type Heartbeat struct{}

func (Heartbeat) Type() MessageType { return MsgHeartbeat }

type Text struct {
	Body   string
	Public bool
}

func (Text) Type() MessageType { return MsgText }

type FileHeader struct {
	FileID      uint32
	Size        uint64
	TotalChunks uint32
	ChunkSize   uint16
	Name        string
}

func (FileHeader) Type() MessageType { return MsgFileHeader }

type FileChunk struct {
	FileID uint32
	Index  uint32
	Data   []byte
}

func (FileChunk) Type() MessageType { return MsgFileChunk }

type Ack struct {
	Kind   AckKind
	FileID uint32
	Number uint32
}

func (Ack) Type() MessageType { return MsgAck }
