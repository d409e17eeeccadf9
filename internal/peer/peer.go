// Package peer tracks the other nodes seen on the local network and their liveness.
package peer

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

type ID string

// NewID derives a peer id from the address and the name heard when the peer
// was first seen.
func NewID(addr netip.AddrPort, name string) ID {
	sum := sha256.Sum256([]byte(addr.String() + "|" + name))
	return ID(hex.EncodeToString(sum[:8]))
}

type Status int

const (
	Online Status = iota
	AwayTimeout
	Departed
)

func (s Status) String() string {
	switch s {
	case Online:
		return "online"
	case AwayTimeout:
		return "away"
	case Departed:
		return "departed"
	default:
		return "unknown"
	}
}

type Peer struct {
	ID        ID
	Name      string
	Addr      netip.AddrPort
	Instance  protocol.SenderID
	FirstSeen time.Time
	LastSeen  time.Time
	Status    Status
	// Greeted is set once this node has sent the peer's current instance a unicast Enter.
	Greeted bool
}

// DisplayName falls back to the address until the peer has told us its name.
func (p Peer) DisplayName() string {
	if p.Name == "" {
		return p.Addr.String()
	}
	return p.Name
}

type Change int

const (
	Joined Change = iota
	Returned
	Renamed
	Away
	Left
)

func (c Change) String() string {
	switch c {
	case Joined:
		return "joined"
	case Returned:
		return "returned"
	case Renamed:
		return "renamed"
	case Away:
		return "away"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

type Event struct {
	Change  Change
	Peer    Peer
	OldName string
	// Restarted is set on a Returned event caused by a new instance at a
	// known address. Sequence numbering starts over for that peer.
	Restarted bool
}
