// Package store provides history access for peers, messages and transfers.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rudransh-shrivastava/lanchat/internal/db"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
)

var ErrNotFound = errors.New("not found")

type PeerStore struct {
	DB *gorm.DB
}

var _ PeerRepository = (*PeerStore)(nil)

func NewPeerStore(db *gorm.DB) *PeerStore {
	return &PeerStore{DB: db}
}

// UpsertPeer inserts the peer or refreshes its name, address and status.
func (ps *PeerStore) UpsertPeer(ctx context.Context, p peer.Peer) error {
	row := db.Peer{
		PeerID:    string(p.ID),
		Name:      p.Name,
		Addr:      p.Addr.String(),
		Instance:  p.Instance.String(),
		Status:    p.Status.String(),
		FirstSeen: p.FirstSeen.Unix(),
		LastSeen:  p.LastSeen.Unix(),
	}
	return ps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "peer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "addr", "instance", "status", "last_seen"}),
	}).Create(&row).Error
}

func (ps *PeerStore) SetPeerStatus(ctx context.Context, id peer.ID, status string, at time.Time) error {
	res := ps.DB.WithContext(ctx).Model(&db.Peer{}).
		Where("peer_id = ?", string(id)).
		Updates(map[string]any{"status": status, "last_seen": at.Unix()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PeerStore) GetPeers(ctx context.Context) ([]db.Peer, error) {
	var peers []db.Peer
	err := ps.DB.WithContext(ctx).Order("name, peer_id").Find(&peers).Error
	return peers, err
}

type MessageStore struct {
	DB *gorm.DB
}

var _ MessageRepository = (*MessageStore)(nil)

func NewMessageStore(db *gorm.DB) *MessageStore {
	return &MessageStore{DB: db}
}

func (ms *MessageStore) CreateMessage(ctx context.Context, m *db.Message) error {
	return ms.DB.WithContext(ctx).Create(m).Error
}

// SetMessageStatus updates every outgoing copy of the message this instance
// sent with seq. A public message has one copy per recipient, each with its
// own seq.
func (ms *MessageStore) SetMessageStatus(ctx context.Context, instance string, seq uint32, status string) error {
	res := ms.DB.WithContext(ctx).Model(&db.Message{}).
		Where("instance = ? AND seq = ? AND direction = ?", instance, seq, DirectionOut).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (ms *MessageStore) GetMessages(ctx context.Context, peerID string, limit int) ([]db.Message, error) {
	q := ms.DB.WithContext(ctx).Order("id DESC")
	if peerID != "" {
		q = q.Where("peer_id = ?", peerID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var messages []db.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type TransferStore struct {
	DB *gorm.DB
}

var _ TransferRepository = (*TransferStore)(nil)

func NewTransferStore(db *gorm.DB) *TransferStore {
	return &TransferStore{DB: db}
}

func (ts *TransferStore) CreateTransfer(ctx context.Context, t *db.Transfer) error {
	return ts.DB.WithContext(ctx).Create(t).Error
}

func (ts *TransferStore) FinishTransfer(ctx context.Context, id uint, status, path, hash, errMsg string, at time.Time) error {
	updates := map[string]any{
		"status":      status,
		"error":       errMsg,
		"finished_at": at.Unix(),
	}
	if path != "" {
		updates["path"] = path
	}
	if hash != "" {
		updates["hash"] = hash
	}
	res := ts.DB.WithContext(ctx).Model(&db.Transfer{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (ts *TransferStore) GetTransfers(ctx context.Context, limit int) ([]db.Transfer, error) {
	q := ts.DB.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var transfers []db.Transfer
	err := q.Find(&transfers).Error
	return transfers, err
}
