package store

import (
	"context"
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/db"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
)

// PeerRepository keeps the last known state of every peer seen.
type PeerRepository interface {
	UpsertPeer(ctx context.Context, p peer.Peer) error
	SetPeerStatus(ctx context.Context, id peer.ID, status string, at time.Time) error
	GetPeers(ctx context.Context) ([]db.Peer, error)
}

// MessageRepository stores chat history.
type MessageRepository interface {
	CreateMessage(ctx context.Context, m *db.Message) error
	SetMessageStatus(ctx context.Context, instance string, seq uint32, status string) error
	// GetMessages returns the newest limit messages, oldest first. An empty
	// peerID matches every peer.
	GetMessages(ctx context.Context, peerID string, limit int) ([]db.Message, error)
}

// TransferRepository stores file transfer outcomes.
type TransferRepository interface {
	CreateTransfer(ctx context.Context, t *db.Transfer) error
	FinishTransfer(ctx context.Context, id uint, status, path, hash, errMsg string, at time.Time) error
	GetTransfers(ctx context.Context, limit int) ([]db.Transfer, error)
}
