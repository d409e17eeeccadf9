// Package transfer splits outgoing files into datagram-sized chunks and
// reassembles incoming ones by index.
package transfer

import (
	"errors"
	"net/netip"
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

var (
	ErrMalformedHeader = errors.New("malformed file header")
	ErrUnknownTransfer = errors.New("unknown transfer")
	ErrBadChunk        = errors.New("bad chunk")
	ErrTimeout         = errors.New("transfer timed out")
	ErrNotRegularFile  = errors.New("not a regular file")
	ErrFileTooLarge    = errors.New("file too large")
)

type Direction int

const (
	Sending Direction = iota
	Receiving
)

func (d Direction) String() string {
	if d == Receiving {
		return "receiving"
	}
	return "sending"
}

type Status int

const (
	InProgress Status = iota
	Complete
	Aborted
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	Completed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Key identifies a transfer. File ids are chosen by the sender, so the same id
// may appear in both directions or from different peers.
type Key struct {
	Peer      netip.AddrPort
	FileID    uint32
	Direction Direction
}

// Info is a snapshot of a transfer.
type Info struct {
	Key
	Name        string
	Path        string
	Size        int64
	ChunkSize   int
	TotalChunks int
	Done        int
	Status      Status
	Hash        string
	StartedAt   time.Time
}

// Progress is the fraction of chunks received or acknowledged.
func (i Info) Progress() float64 {
	if i.TotalChunks == 0 {
		if i.Status == Complete {
			return 1
		}
		return 0
	}
	return float64(i.Done) / float64(i.TotalChunks)
}

func (i Info) Percent() int {
	if i.TotalChunks == 0 {
		return int(i.Progress() * 100)
	}
	return i.Done * 100 / i.TotalChunks
}

// Result describes what a chunk or acknowledgement did to its transfer.
// Progressed is set when the whole-percent progress changed.
type Result struct {
	Outcome    Outcome
	Info       Info
	Progressed bool
}

type Config struct {
	DownloadDir string
	ChunkSize   int
	// Window is the number of chunks a sender keeps unacknowledged at once.
	Window int
	// Timeout aborts a reception that has made no progress for this long.
	Timeout time.Duration
	// MaxFileSize bounds both files offered and headers accepted.
	MaxFileSize int64
}

func DefaultConfig() Config {
	return Config{
		DownloadDir: "downloads",
		ChunkSize:   protocol.MaxChunkPayload,
		Window:      32,
		Timeout:     30 * time.Second,
		MaxFileSize: 4 << 30,
	}
}
