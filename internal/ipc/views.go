package ipc

import (
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/db"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
)

func PeerFrom(p peer.Peer) PeerView {
	return PeerView{
		ID:       string(p.ID),
		Name:     p.DisplayName(),
		Addr:     p.Addr.String(),
		Status:   p.Status.String(),
		LastSeen: p.LastSeen,
	}
}

func TransferFrom(p peer.Peer, info transfer.Info) TransferView {
	return TransferView{
		PeerID:    string(p.ID),
		Name:      info.Name,
		Path:      info.Path,
		Direction: info.Direction.String(),
		Status:    info.Status.String(),
		Hash:      info.Hash,
		FileID:    info.FileID,
		Size:      info.Size,
		Done:      info.Done,
		Total:     info.TotalChunks,
		Percent:   info.Percent(),
	}
}

func MessageFromRow(m db.Message) MessageView {
	return MessageView{
		PeerID:    m.PeerID,
		PeerName:  m.PeerName,
		Direction: m.Direction,
		Text:      m.Text,
		Status:    m.Status,
		Seq:       m.Seq,
		Public:    m.Public,
		At:        time.Unix(m.CreatedAt, 0),
	}
}

func TransferFromRow(t db.Transfer) TransferView {
	v := TransferView{
		PeerID:    t.PeerID,
		Name:      t.Name,
		Path:      t.Path,
		Direction: t.Direction,
		Status:    t.Status,
		Hash:      t.Hash,
		Error:     t.Error,
		FileID:    t.FileID,
		Size:      t.Size,
		Total:     t.TotalChunks,
	}
	if t.Status == transfer.Complete.String() {
		v.Done = t.TotalChunks
		v.Percent = 100
	}
	return v
}

// EventFrom flattens a node event. Fields an event does not carry stay empty.
func EventFrom(ev node.Event) EventView {
	v := EventView{Kind: ev.Kind().String()}
	fill := func(p peer.Peer) {
		v.PeerID = string(p.ID)
		v.PeerName = p.DisplayName()
	}
	fail := func(err error) {
		if err != nil {
			v.Error = err.Error()
		}
	}

	switch e := ev.(type) {
	case node.PeerJoined:
		fill(e.Peer)
	case node.PeerReturned:
		fill(e.Peer)
	case node.PeerAway:
		fill(e.Peer)
	case node.PeerLeft:
		fill(e.Peer)
	case node.PeerRenamed:
		fill(e.Peer)
		v.OldName = e.OldName
	case node.MessageReceived:
		fill(e.From)
		v.Text = e.Text
		v.Seq = e.Seq
		v.Public = e.Public
		v.OutOfOrder = e.OutOfOrder
	case node.MessageSent:
		fill(e.To)
		v.Text = e.Text
		v.Seq = e.Seq
		v.Public = e.Public
	case node.MessageDelivered:
		fill(e.To)
		v.Text = e.Text
		v.Seq = e.Seq
	case node.DeliveryFailed:
		fill(e.To)
		v.Text = e.Text
		v.Seq = e.Seq
		fail(e.Err)
	case node.TransferStarted:
		fill(e.Peer)
		v.Transfer = TransferFrom(e.Peer, e.Transfer)
	case node.TransferProgress:
		fill(e.Peer)
		v.Transfer = TransferFrom(e.Peer, e.Transfer)
	case node.TransferComplete:
		fill(e.Peer)
		v.Transfer = TransferFrom(e.Peer, e.Transfer)
	case node.TransferFailed:
		fill(e.Peer)
		v.Transfer = TransferFrom(e.Peer, e.Transfer)
		fail(e.Err)
		v.Transfer.Error = v.Error
	}
	return v
}
