package node

import (
	"context"
	"fmt"
	"net/netip"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
	"github.com/rudransh-shrivastava/lanchat/internal/reliability"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
)

func (n *Node) handleCommand(ctx context.Context, cmd Command) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch c := cmd.(type) {
	case Announce:
		n.announce(netip.AddrPort{})
	case SendText:
		n.sendText(ctx, c)
	case SendFile:
		n.sendFile(ctx, c)
	case Shutdown:
		n.logger.Info("Shutdown requested")
		n.cancel()
	default:
		n.logger.Warnf("Unknown command %T", cmd)
	}
}

// recipients resolves ids to peers. No ids means every online peer, and the
// message is then public.
func (n *Node) recipients(ids []peer.ID) (found []peer.Peer, missing []peer.ID, public bool) {
	if len(ids) == 0 {
		return n.peers.Online(), nil, true
	}
	seen := make(map[peer.ID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := n.peers.Lookup(id); ok {
			found = append(found, p)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, false
}

func (n *Node) sendText(ctx context.Context, cmd SendText) {
	text := protocol.SanitizeText(cmd.Text)
	if text == "" {
		return
	}

	targets, missing, public := n.recipients(cmd.To)
	for _, id := range missing {
		n.emit(ctx, DeliveryFailed{To: peer.Peer{ID: id}, Text: text, Err: fmt.Errorf("%w: %s", ErrUnknownPeer, id)})
	}
	if len(targets) == 0 && len(cmd.To) == 0 {
		n.logger.Info("No peers online, message not sent")
		return
	}

	now := n.clock.Now()
	for _, p := range targets {
		seq, datagram, err := n.encode(protocol.Text{Body: text, Public: public})
		if err != nil {
			n.emit(ctx, DeliveryFailed{To: p, Text: text, Err: err})
			continue
		}
		key := reliability.Key{Dest: p.Addr, Kind: reliability.KindSequence, Number: seq}
		n.sender.Submit(key, datagram, false, sentText{To: p, Text: text, Seq: seq, Public: public}, now)
		n.emit(ctx, MessageSent{To: p, Text: text, Seq: seq, Public: public, At: now})
		n.send(p.Addr, datagram)
	}
}

func (n *Node) sendFile(ctx context.Context, cmd SendFile) {
	targets, missing, _ := n.recipients(cmd.To)
	for _, id := range missing {
		n.emit(ctx, TransferFailed{
			Peer:     peer.Peer{ID: id},
			Transfer: transfer.Info{Name: filepath.Base(cmd.Path), Path: cmd.Path, Status: transfer.Aborted},
			Err:      fmt.Errorf("%w: %s", ErrUnknownPeer, id),
		})
	}

	if len(targets) == 0 && len(cmd.To) == 0 {
		n.logger.Info("No peers online, file not sent")
		return
	}

	now := n.clock.Now()
	for _, p := range targets {
		info, hdr, err := n.transfers.BeginSend(cmd.Path, p.Addr, now)
		if err != nil {
			n.failTransfer(ctx, p, transfer.Info{
				Key:    transfer.Key{Peer: p.Addr, Direction: transfer.Sending},
				Name:   filepath.Base(cmd.Path),
				Path:   cmd.Path,
				Status: transfer.Aborted,
			}, err)
			continue
		}
		seq, datagram, err := n.encode(hdr)
		if err != nil {
			info, _ = n.transfers.Abort(info.Key)
			n.failTransfer(ctx, p, info, err)
			continue
		}

		n.logger.WithFields(logrus.Fields{
			"to":     p.DisplayName(),
			"name":   info.Name,
			"size":   info.Size,
			"chunks": info.TotalChunks,
		}).Info("Sending file")

		key := reliability.Key{Dest: p.Addr, Kind: reliability.KindSequence, FileID: hdr.FileID, Number: seq}
		n.sender.Submit(key, datagram, false, sentHeader{FileID: hdr.FileID}, now)
		n.emit(ctx, TransferStarted{Peer: p, Transfer: info})
		n.send(p.Addr, datagram)
	}
}
