package store_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudransh-shrivastava/lanchat/internal/node"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/store"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
)

func newRecorder(t *testing.T) (*store.Recorder, *store.PeerStore, *store.MessageStore, *store.TransferStore) {
	ps, ms, ts := setupTestDB(t)
	r := store.NewRecorder(store.RecorderOptions{
		Peers:     ps,
		Messages:  ms,
		Transfers: ts,
		Instance:  "self",
	})
	return r, ps, ms, ts
}

func TestRecorderPeers(t *testing.T) {
	r, ps, _, _ := newRecorder(t)
	ctx := context.Background()
	alice := testPeer("alice")

	require.NoError(t, r.Record(ctx, node.PeerJoined{Peer: alice}))
	require.NoError(t, r.Record(ctx, node.PeerAway{Peer: alice}))

	peers, err := ps.GetPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "away", peers[0].Status)

	alice.Status = peer.Online
	require.NoError(t, r.Record(ctx, node.PeerReturned{Peer: alice}))
	require.NoError(t, r.Record(ctx, node.PeerLeft{Peer: alice}))
	peers, _ = ps.GetPeers(ctx)
	assert.Equal(t, "departed", peers[0].Status)
}

func TestRecorderMessages(t *testing.T) {
	r, _, ms, _ := newRecorder(t)
	ctx := context.Background()
	bob := testPeer("bob")
	at := time.Unix(1700000000, 0)

	require.NoError(t, r.Record(ctx, node.MessageReceived{From: bob, Text: "hi", Seq: 4, At: at}))
	require.NoError(t, r.Record(ctx, node.MessageSent{To: bob, Text: "hello", Seq: 7, At: at}))
	require.NoError(t, r.Record(ctx, node.MessageSent{To: bob, Text: "lost", Seq: 8, At: at}))
	require.NoError(t, r.Record(ctx, node.MessageDelivered{To: bob, Text: "hello", Seq: 7, At: at}))
	require.NoError(t, r.Record(ctx, node.DeliveryFailed{To: bob, Text: "lost", Seq: 8}))
	require.NoError(t, r.Record(ctx, node.DeliveryFailed{To: peer.Peer{ID: "nobody"}, Text: "x"}))

	messages, err := ms.GetMessages(ctx, string(bob.ID), 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, store.StatusReceived, messages[0].Status)
	assert.Equal(t, store.DirectionIn, messages[0].Direction)
	assert.Equal(t, store.StatusDelivered, messages[1].Status)
	assert.Equal(t, "self", messages[1].Instance)
	assert.Equal(t, store.StatusFailed, messages[2].Status)
}

func TestRecorderTransfers(t *testing.T) {
	r, _, _, ts := newRecorder(t)
	ctx := context.Background()
	bob := testPeer("bob")

	info := transfer.Info{
		Key:         transfer.Key{Peer: bob.Addr, FileID: 42, Direction: transfer.Receiving},
		Name:        "notes.txt",
		Size:        3000,
		TotalChunks: 3,
		Status:      transfer.InProgress,
		StartedAt:   time.Unix(1700000000, 0),
	}
	require.NoError(t, r.Record(ctx, node.TransferStarted{Peer: bob, Transfer: info}))

	info.Status = transfer.Complete
	info.Path = "/downloads/notes.txt"
	info.Hash = "deadbeef"
	require.NoError(t, r.Record(ctx, node.TransferComplete{Peer: bob, Transfer: info}))

	failed := transfer.Info{
		Key:    transfer.Key{Peer: netip.MustParseAddrPort("10.0.0.9:1"), Direction: transfer.Sending},
		Name:   "missing.bin",
		Status: transfer.Aborted,
	}
	require.NoError(t, r.Record(ctx, node.TransferFailed{Transfer: failed, Err: errors.New("no such file")}))

	rows, err := ts.GetTransfers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "missing.bin", rows[0].Name)
	assert.Equal(t, "aborted", rows[0].Status)
	assert.Equal(t, "no such file", rows[0].Error)

	assert.Equal(t, "notes.txt", rows[1].Name)
	assert.Equal(t, "complete", rows[1].Status)
	assert.Equal(t, "/downloads/notes.txt", rows[1].Path)
	assert.Equal(t, "deadbeef", rows[1].Hash)
	assert.EqualValues(t, 42, rows[1].FileID)
}
