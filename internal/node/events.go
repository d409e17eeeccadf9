package node

import (
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
)

type EventKind int

const (
	KindPeerJoined EventKind = iota
	KindPeerReturned
	KindPeerRenamed
	KindPeerAway
	KindPeerLeft
	KindMessageReceived
	KindMessageSent
	KindMessageDelivered
	KindDeliveryFailed
	KindTransferStarted
	KindTransferProgress
	KindTransferComplete
	KindTransferFailed
)

var eventKindNames = map[EventKind]string{
	KindPeerJoined:       "peer_joined",
	KindPeerReturned:     "peer_returned",
	KindPeerRenamed:      "peer_renamed",
	KindPeerAway:         "peer_away",
	KindPeerLeft:         "peer_left",
	KindMessageReceived:  "message_received",
	KindMessageSent:      "message_sent",
	KindMessageDelivered: "message_delivered",
	KindDeliveryFailed:   "delivery_failed",
	KindTransferStarted:  "transfer_started",
	KindTransferProgress: "transfer_progress",
	KindTransferComplete: "transfer_complete",
	KindTransferFailed:   "transfer_failed",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is something the node reports to its user interface.
type Event interface {
	Kind() EventKind
}

type PeerJoined struct {
	Peer peer.Peer
}

// PeerReturned reports a peer heard from again after going away, or a
// known peer that came back as a new instance.
type PeerReturned struct {
	Peer      peer.Peer
	Restarted bool
}

type PeerRenamed struct {
	Peer    peer.Peer
	OldName string
}

// PeerAway reports a peer that has been silent for the liveness timeout.
type PeerAway struct {
	Peer peer.Peer
}

type PeerLeft struct {
	Peer peer.Peer
}

type MessageReceived struct {
	From   peer.Peer
	Text   string
	Seq    uint32
	Public bool
	// OutOfOrder is set when a later message from the same sender was
	// delivered first.
	OutOfOrder bool
	At         time.Time
}

type MessageSent struct {
	To     peer.Peer
	Text   string
	Seq    uint32
	Public bool
	At     time.Time
}

// MessageDelivered reports that the recipient acknowledged a text.
type MessageDelivered struct {
	To   peer.Peer
	Text string
	Seq  uint32
	At   time.Time
}

type DeliveryFailed struct {
	To   peer.Peer
	Text string
	Seq  uint32
	Err  error
}

type TransferStarted struct {
	Peer     peer.Peer
	Transfer transfer.Info
}

type TransferProgress struct {
	Peer     peer.Peer
	Transfer transfer.Info
}

type TransferComplete struct {
	Peer     peer.Peer
	Transfer transfer.Info
}

type TransferFailed struct {
	Peer     peer.Peer
	Transfer transfer.Info
	Err      error
}

func (PeerJoined) Kind() EventKind       { return KindPeerJoined }
func (PeerReturned) Kind() EventKind     { return KindPeerReturned }
func (PeerRenamed) Kind() EventKind      { return KindPeerRenamed }
func (PeerAway) Kind() EventKind         { return KindPeerAway }
func (PeerLeft) Kind() EventKind         { return KindPeerLeft }
func (MessageReceived) Kind() EventKind  { return KindMessageReceived }
func (MessageSent) Kind() EventKind      { return KindMessageSent }
func (MessageDelivered) Kind() EventKind { return KindMessageDelivered }
func (DeliveryFailed) Kind() EventKind   { return KindDeliveryFailed }
func (TransferStarted) Kind() EventKind  { return KindTransferStarted }
func (TransferProgress) Kind() EventKind { return KindTransferProgress }
func (TransferComplete) Kind() EventKind { return KindTransferComplete }
func (TransferFailed) Kind() EventKind   { return KindTransferFailed }

func peerEvent(ev peer.Event) Event {
	switch ev.Change {
	case peer.Joined:
		return PeerJoined{Peer: ev.Peer}
	case peer.Returned:
		return PeerReturned{Peer: ev.Peer, Restarted: ev.Restarted}
	case peer.Renamed:
		return PeerRenamed{Peer: ev.Peer, OldName: ev.OldName}
	case peer.Away:
		return PeerAway{Peer: ev.Peer}
	default:
		return PeerLeft{Peer: ev.Peer}
	}
}
