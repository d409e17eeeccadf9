package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
)

func (d *Daemon) SendText(ctx context.Context, text string, to []string) error {
	ids, err := d.resolve(to)
	if err != nil {
		return err
	}
	return d.node.Submit(ctx, node.SendText{Text: text, To: ids})
}

func (d *Daemon) SendFile(ctx context.Context, path string, to []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	ids, err := d.resolve(to)
	if err != nil {
		return err
	}
	return d.node.Submit(ctx, node.SendFile{Path: abs, To: ids})
}

func (d *Daemon) Peers(context.Context) ([]ipc.PeerView, error) {
	peers := d.node.Peers()
	out := make([]ipc.PeerView, len(peers))
	for i, p := range peers {
		out[i] = ipc.PeerFrom(p)
	}
	return out, nil
}

func (d *Daemon) History(ctx context.Context, peerID string, limit int) ([]ipc.MessageView, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if peerID != "" {
		ids, err := d.resolve([]string{peerID})
		if err != nil {
			return nil, err
		}
		peerID = string(ids[0])
	}
	rows, err := d.messages.GetMessages(ctx, peerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ipc.MessageView, len(rows))
	for i, m := range rows {
		out[i] = ipc.MessageFromRow(m)
	}
	return out, nil
}

// Transfers lists the transfers still running followed by the newest
// finished ones.
func (d *Daemon) Transfers(ctx context.Context, limit int) ([]ipc.TransferView, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var out []ipc.TransferView
	for _, info := range d.node.Transfers() {
		if info.Status != transfer.InProgress {
			continue
		}
		out = append(out, ipc.TransferFrom(d.peerAt(info), info))
	}
	rows, err := d.transfers.GetTransfers(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, t := range rows {
		out = append(out, ipc.TransferFromRow(t))
	}
	return out, nil
}

func (d *Daemon) Shutdown(ctx context.Context) error {
	return d.node.Submit(ctx, node.Shutdown{})
}

// resolve accepts peer ids or display names.
func (d *Daemon) resolve(refs []string) ([]peer.ID, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	peers := d.node.Peers()
	ids := make([]peer.ID, 0, len(refs))
	for _, ref := range refs {
		id, ok := match(peers, ref)
		if !ok {
			return nil, fmt.Errorf("%w: %s", node.ErrUnknownPeer, ref)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func match(peers []peer.Peer, ref string) (peer.ID, bool) {
	for _, p := range peers {
		if string(p.ID) == ref {
			return p.ID, true
		}
	}
	var found peer.ID
	n := 0
	for _, p := range peers {
		if p.Name == ref {
			found = p.ID
			n++
		}
	}
	return found, n == 1
}

func (d *Daemon) peerAt(info transfer.Info) peer.Peer {
	for _, p := range d.node.Peers() {
		if p.Addr == info.Peer {
			return p
		}
	}
	return peer.Peer{Addr: info.Peer}
}
