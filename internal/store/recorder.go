package store

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/db"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"

	StatusReceived  = "received"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

type RecorderOptions struct {
	Peers     PeerRepository
	Messages  MessageRepository
	Transfers TransferRepository
	// Instance is the local node's instance id, used to match outgoing messages.
	Instance string
}

// Recorder writes node events to the history store.
type Recorder struct {
	peers     PeerRepository
	messages  MessageRepository
	transfers TransferRepository
	instance  string

	rows map[transfer.Key]uint
}

func NewRecorder(opts RecorderOptions) *Recorder {
	return &Recorder{
		peers:     opts.Peers,
		messages:  opts.Messages,
		transfers: opts.Transfers,
		instance:  opts.Instance,
		rows:      make(map[transfer.Key]uint),
	}
}

// Record persists one event. Events that carry nothing worth keeping are ignored.
func (r *Recorder) Record(ctx context.Context, ev node.Event) error {
	switch e := ev.(type) {
	case node.PeerJoined:
		return r.peers.UpsertPeer(ctx, e.Peer)
	case node.PeerReturned:
		return r.peers.UpsertPeer(ctx, e.Peer)
	case node.PeerRenamed:
		return r.peers.UpsertPeer(ctx, e.Peer)
	case node.PeerAway:
		return r.peers.SetPeerStatus(ctx, e.Peer.ID, peer.AwayTimeout.String(), e.Peer.LastSeen)
	case node.PeerLeft:
		return r.peers.SetPeerStatus(ctx, e.Peer.ID, peer.Departed.String(), time.Now())

	case node.MessageReceived:
		return r.messages.CreateMessage(ctx, &db.Message{
			PeerID:     string(e.From.ID),
			PeerName:   e.From.DisplayName(),
			Direction:  DirectionIn,
			Instance:   e.From.Instance.String(),
			Seq:        e.Seq,
			Text:       e.Text,
			Public:     e.Public,
			OutOfOrder: e.OutOfOrder,
			Status:     StatusReceived,
			CreatedAt:  e.At.Unix(),
		})
	case node.MessageSent:
		return r.messages.CreateMessage(ctx, &db.Message{
			PeerID:    string(e.To.ID),
			PeerName:  e.To.DisplayName(),
			Direction: DirectionOut,
			Instance:  r.instance,
			Seq:       e.Seq,
			Text:      e.Text,
			Public:    e.Public,
			Status:    StatusSent,
			CreatedAt: e.At.Unix(),
		})
	case node.MessageDelivered:
		return r.messages.SetMessageStatus(ctx, r.instance, e.Seq, StatusDelivered)
	case node.DeliveryFailed:
		if e.Seq == 0 {
			return nil
		}
		return r.messages.SetMessageStatus(ctx, r.instance, e.Seq, StatusFailed)

	case node.TransferStarted:
		row := transferRow(e.Peer, e.Transfer)
		if err := r.transfers.CreateTransfer(ctx, &row); err != nil {
			return err
		}
		r.rows[e.Transfer.Key] = row.ID
		return nil
	case node.TransferComplete:
		return r.finish(ctx, e.Peer, e.Transfer, "")
	case node.TransferFailed:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return r.finish(ctx, e.Peer, e.Transfer, msg)
	}
	return nil
}

func (r *Recorder) finish(ctx context.Context, p peer.Peer, info transfer.Info, errMsg string) error {
	status := info.Status.String()
	if errMsg != "" {
		status = transfer.Aborted.String()
	}

	id, ok := r.rows[info.Key]
	if !ok {
		// Failures before a transfer started still belong in the history.
		row := transferRow(p, info)
		row.Status = status
		row.Error = errMsg
		row.FinishedAt = time.Now().Unix()
		return r.transfers.CreateTransfer(ctx, &row)
	}
	delete(r.rows, info.Key)
	return r.transfers.FinishTransfer(ctx, id, status, info.Path, info.Hash, errMsg, time.Now())
}

func transferRow(p peer.Peer, info transfer.Info) db.Transfer {
	started := info.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return db.Transfer{
		PeerID:      string(p.ID),
		PeerAddr:    info.Peer.String(),
		FileID:      info.FileID,
		Direction:   info.Direction.String(),
		Name:        info.Name,
		Path:        info.Path,
		Size:        info.Size,
		TotalChunks: info.TotalChunks,
		Status:      info.Status.String(),
		Hash:        info.Hash,
		StartedAt:   started.Unix(),
	}
}
