package node

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
	"github.com/rudransh-shrivastava/lanchat/internal/reliability"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
	"github.com/rudransh-shrivastava/lanchat/internal/transport"
)

// Reliable sends carry one of these as their pending metadata.
type (
	sentEnter struct{}
	sentText  struct {
		To     peer.Peer
		Text   string
		Seq    uint32
		Public bool
	}
	sentHeader struct {
		FileID uint32
	}
	sentChunk struct {
		FileID uint32
		Index  uint32
	}
)

func (n *Node) handleDatagram(ctx context.Context, d transport.Datagram) {
	pkt, err := protocol.Decode(d.Data)
	if err != nil {
		reason := "other"
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			reason = de.Reason()
		}
		n.metrics.decodeError(reason)
		n.logger.WithError(err).WithField("from", d.From).Debug("Dropping datagram")
		return
	}
	if pkt.Sender == n.instance {
		return
	}

	from := d.From
	now := n.clock.Now()
	log := n.logger.WithFields(logrus.Fields{
		"from": from,
		"type": pkt.Msg.Type(),
		"seq":  pkt.Seq,
	})
	log.Trace("Datagram received")

	if exit, ok := pkt.Msg.(protocol.Exit); ok {
		n.handleExit(ctx, from, exit)
		return
	}

	var name string
	if enter, ok := pkt.Msg.(protocol.Enter); ok {
		name = sanitizeName(enter.Name)
	}
	p, changes := n.peers.OnActivity(from, pkt.Sender, name, now)
	for _, ch := range changes {
		n.emit(ctx, peerEvent(ch))
		if ch.Restarted {
			n.logger.WithField("peer", ch.Peer.DisplayName()).Info("Peer restarted")
			n.abortPeerTransfers(ctx, ch.Peer, ErrPeerRestarted)
		}
	}

	switch msg := pkt.Msg.(type) {
	case protocol.Enter:
		n.sendAck(from, protocol.AckSequence, 0, pkt.Seq)
		if n.peers.MarkGreeted(from) {
			n.announce(from)
		}
	case protocol.Heartbeat:
	case protocol.Text:
		n.handleText(ctx, p, pkt, msg, now)
	case protocol.FileHeader:
		n.handleFileHeader(ctx, p, pkt, msg, now)
	case protocol.FileChunk:
		n.handleFileChunk(ctx, p, msg, now)
	case protocol.Ack:
		n.handleAck(ctx, from, msg, now)
	}

	// A peer we only know by address is asked for its name once.
	if p.Name == "" && pkt.Msg.Type() != protocol.MsgEnter && n.peers.MarkGreeted(from) {
		n.announce(from)
	}
}

func (n *Node) handleText(ctx context.Context, p peer.Peer, pkt protocol.Packet, msg protocol.Text, now time.Time) {
	n.sendAck(p.Addr, protocol.AckSequence, 0, pkt.Seq)

	if n.window.Observe(p.Addr, pkt.Sender, pkt.Seq) == reliability.Duplicate {
		n.metrics.duplicates.Inc(1)
		return
	}
	inOrder := n.window.Deliver(p.Addr, pkt.Sender, pkt.Seq)

	text := protocol.SanitizeText(msg.Body)
	if text == "" {
		return
	}
	n.emit(ctx, MessageReceived{
		From:       p,
		Text:       text,
		Seq:        pkt.Seq,
		Public:     msg.Public,
		OutOfOrder: !inOrder,
		At:         now,
	})
}

func (n *Node) handleFileHeader(ctx context.Context, p peer.Peer, pkt protocol.Packet, hdr protocol.FileHeader, now time.Time) {
	key := transfer.Key{Peer: p.Addr, FileID: hdr.FileID, Direction: transfer.Receiving}

	if n.window.Observe(p.Addr, pkt.Sender, pkt.Seq) == reliability.Duplicate {
		n.metrics.duplicates.Inc(1)
		// Only headers we accepted are acknowledged again.
		if _, ok := n.transfers.Get(key); ok {
			n.sendAck(p.Addr, protocol.AckSequence, hdr.FileID, pkt.Seq)
		}
		return
	}

	info, isNew, err := n.transfers.AcceptHeader(p.Addr, hdr, now)
	if err != nil {
		n.metrics.transferFailures.Inc(1)
		n.logger.WithError(err).WithFields(logrus.Fields{
			"from":    p.Addr,
			"file_id": hdr.FileID,
		}).Warn("Rejected file header")
		n.emit(ctx, TransferFailed{
			Peer:     p,
			Transfer: transfer.Info{Key: key, Name: hdr.Name, Size: int64(hdr.Size), Status: transfer.Aborted},
			Err:      err,
		})
		return
	}
	n.sendAck(p.Addr, protocol.AckSequence, hdr.FileID, pkt.Seq)
	if !isNew {
		return
	}

	n.logger.WithFields(logrus.Fields{
		"from":   p.DisplayName(),
		"name":   info.Name,
		"size":   info.Size,
		"chunks": info.TotalChunks,
	}).Info("Receiving file")
	n.emit(ctx, TransferStarted{Peer: p, Transfer: info})
	if info.Status == transfer.Complete {
		n.emit(ctx, TransferComplete{Peer: p, Transfer: info})
	}
}

func (n *Node) handleFileChunk(ctx context.Context, p peer.Peer, chunk protocol.FileChunk, now time.Time) {
	res, err := n.transfers.OnChunk(p.Addr, chunk, now)
	switch {
	case errors.Is(err, transfer.ErrUnknownTransfer):
		n.logger.WithFields(logrus.Fields{"from": p.Addr, "file_id": chunk.FileID}).Debug("Chunk for unknown transfer")
		return
	case errors.Is(err, transfer.ErrBadChunk):
		n.logger.WithError(err).WithField("from", p.Addr).Warn("Dropping chunk")
		return
	case err != nil:
		key := transfer.Key{Peer: p.Addr, FileID: chunk.FileID, Direction: transfer.Receiving}
		info, ok := n.transfers.Abort(key)
		if !ok {
			info, _ = n.transfers.Get(key)
		}
		n.failTransfer(ctx, p, info, err)
		return
	}

	n.sendAck(p.Addr, protocol.AckChunk, chunk.FileID, chunk.Index)
	n.reportProgress(ctx, p, res)
}

func (n *Node) handleAck(ctx context.Context, from netip.AddrPort, ack protocol.Ack, now time.Time) {
	kind := reliability.KindSequence
	if ack.Kind == protocol.AckChunk {
		kind = reliability.KindChunk
	}
	pending, ok := n.sender.OnAck(from, kind, ack.FileID, ack.Number)
	if !ok {
		return
	}

	switch meta := pending.Meta.(type) {
	case sentEnter:
		n.logger.WithField("from", from).Debug("Enter acknowledged")
	case sentText:
		n.emit(ctx, MessageDelivered{To: n.peerAt(from), Text: meta.Text, Seq: meta.Seq, At: now})
	case sentHeader:
		res, err := n.transfers.AckHeader(from, meta.FileID, now)
		if err != nil {
			return
		}
		if res.Outcome == transfer.Completed {
			n.completeSend(ctx, from, res.Info)
			return
		}
		n.pumpChunks(ctx, from, meta.FileID, now)
	case sentChunk:
		res, err := n.transfers.AckChunk(from, meta.FileID, meta.Index, now)
		if err != nil {
			return
		}
		p := n.peerAt(from)
		if res.Progressed && res.Outcome != transfer.Duplicate {
			n.emit(ctx, TransferProgress{Peer: p, Transfer: res.Info})
		}
		if res.Outcome == transfer.Completed {
			n.completeSend(ctx, from, res.Info)
			return
		}
		n.pumpChunks(ctx, from, meta.FileID, now)
	}
}

func (n *Node) handleExit(ctx context.Context, from netip.AddrPort, _ protocol.Exit) {
	p, ok := n.peers.Depart(from)
	if !ok {
		return
	}
	n.logger.WithField("peer", p.DisplayName()).Info("Peer left")
	n.emit(ctx, PeerLeft{Peer: p})
	n.peerGone(ctx, p)
}

// peerGone drops per-sender state and aborts transfers with a departed peer.
func (n *Node) peerGone(ctx context.Context, p peer.Peer) {
	n.window.Forget(p.Addr)
	n.abortPeerTransfers(ctx, p, ErrPeerLeft)
}

// abortPeerTransfers fails every in-progress transfer with p. A restarted
// peer has lost its side of them.
func (n *Node) abortPeerTransfers(ctx context.Context, p peer.Peer, reason error) {
	for _, info := range n.transfers.AbortPeer(p.Addr) {
		n.cancelTransferSends(info)
		n.metrics.transferFailures.Inc(1)
		n.emit(ctx, TransferFailed{Peer: p, Transfer: info, Err: reason})
	}
}

func (n *Node) tick(ctx context.Context) {
	now := n.clock.Now()

	resend, failed := n.sender.Tick(now)
	for _, p := range resend {
		n.metrics.retransmits.Inc(1)
		if p.Broadcast {
			n.broadcast(p.Datagram)
		} else {
			n.send(p.Key.Dest, p.Datagram)
		}
	}
	for _, p := range failed {
		n.sendFailed(ctx, p)
	}

	for _, info := range n.transfers.Expire(now) {
		n.metrics.transferFailures.Inc(1)
		n.logger.WithFields(logrus.Fields{"name": info.Name, "from": info.Peer}).Warn("Transfer timed out")
		n.emit(ctx, TransferFailed{Peer: n.peerAt(info.Peer), Transfer: info, Err: transfer.ErrTimeout})
	}

	for _, ev := range n.peers.Sweep(now) {
		n.emit(ctx, peerEvent(ev))
		if ev.Change == peer.Left {
			n.peerGone(ctx, ev.Peer)
		}
	}
	n.metrics.peersOnline.Update(float64(len(n.peers.Online())))

	if now.Sub(n.lastHeartbeat) >= n.cfg.HeartbeatInterval {
		n.lastHeartbeat = now
		if _, datagram, err := n.encode(protocol.Heartbeat{}); err == nil {
			n.broadcast(datagram)
		}
	}
}

func (n *Node) sendFailed(ctx context.Context, p reliability.Pending) {
	switch meta := p.Meta.(type) {
	case sentEnter:
		n.logger.WithField("to", p.Key.Dest).Debug("Enter was not acknowledged")
	case sentText:
		n.metrics.deliveryFailures.Inc(1)
		n.logger.WithFields(logrus.Fields{"to": meta.To.DisplayName(), "seq": meta.Seq}).Warn("Message not delivered")
		n.emit(ctx, DeliveryFailed{To: meta.To, Text: meta.Text, Seq: meta.Seq, Err: ErrNoAcknowledgement})
	case sentHeader:
		n.abortSend(ctx, p.Key.Dest, meta.FileID, ErrNoAcknowledgement)
	case sentChunk:
		n.abortSend(ctx, p.Key.Dest, meta.FileID, ErrNoAcknowledgement)
	}
}

func (n *Node) abortSend(ctx context.Context, to netip.AddrPort, fileID uint32, cause error) {
	info, ok := n.transfers.Abort(transfer.Key{Peer: to, FileID: fileID, Direction: transfer.Sending})
	if !ok {
		return
	}
	n.cancelTransferSends(info)
	n.failTransfer(ctx, n.peerAt(to), info, cause)
}

func (n *Node) failTransfer(ctx context.Context, p peer.Peer, info transfer.Info, cause error) {
	n.metrics.transferFailures.Inc(1)
	n.logger.WithError(cause).WithFields(logrus.Fields{
		"peer":      p.DisplayName(),
		"name":      info.Name,
		"direction": info.Direction,
	}).Warn("Transfer failed")
	n.emit(ctx, TransferFailed{Peer: p, Transfer: info, Err: cause})
}

func (n *Node) cancelTransferSends(info transfer.Info) {
	if info.Direction != transfer.Sending {
		return
	}
	n.sender.Cancel(func(k reliability.Key) bool {
		return k.Dest == info.Peer && k.FileID == info.FileID
	})
}

func (n *Node) completeSend(ctx context.Context, to netip.AddrPort, info transfer.Info) {
	p := n.peerAt(to)
	n.logger.WithFields(logrus.Fields{"to": p.DisplayName(), "name": info.Name}).Info("File sent")
	n.emit(ctx, TransferComplete{Peer: p, Transfer: info})
}

func (n *Node) reportProgress(ctx context.Context, p peer.Peer, res transfer.Result) {
	if res.Outcome == transfer.Duplicate {
		return
	}
	if res.Progressed {
		n.emit(ctx, TransferProgress{Peer: p, Transfer: res.Info})
	}
	if res.Outcome == transfer.Completed {
		n.logger.WithFields(logrus.Fields{
			"from": p.DisplayName(),
			"path": res.Info.Path,
			"hash": res.Info.Hash,
		}).Info("File received")
		n.emit(ctx, TransferComplete{Peer: p, Transfer: res.Info})
	}
}

// pumpChunks sends whatever chunks the transfer's window allows.
func (n *Node) pumpChunks(ctx context.Context, to netip.AddrPort, fileID uint32, now time.Time) {
	chunks, err := n.transfers.NextChunks(to, fileID)
	for _, c := range chunks {
		_, datagram, encErr := n.encode(c)
		if encErr != nil {
			err = encErr
			break
		}
		key := reliability.Key{Dest: to, Kind: reliability.KindChunk, FileID: fileID, Number: c.Index}
		n.sender.Submit(key, datagram, false, sentChunk{FileID: fileID, Index: c.Index}, now)
		n.send(to, datagram)
	}
	if err != nil {
		n.abortSend(ctx, to, fileID, err)
	}
}

func (n *Node) sendAck(to netip.AddrPort, kind protocol.AckKind, fileID, number uint32) {
	_, datagram, err := n.encode(protocol.Ack{Kind: kind, FileID: fileID, Number: number})
	if err != nil {
		n.logger.WithError(err).Error("Encoding ack")
		return
	}
	n.send(to, datagram)
}

// announce sends a tracked Enter, unicast to addr or broadcast when addr is zero.
func (n *Node) announce(addr netip.AddrPort) {
	seq, datagram, err := n.encode(protocol.Enter{Name: n.cfg.DisplayName})
	if err != nil {
		n.logger.WithError(err).Error("Encoding enter")
		return
	}
	broadcast := !addr.IsValid()
	key := reliability.Key{Dest: addr, Kind: reliability.KindSequence, Number: seq}
	n.sender.Submit(key, datagram, broadcast, sentEnter{}, n.clock.Now())
	if broadcast {
		n.broadcast(datagram)
	} else {
		n.send(addr, datagram)
	}
}

func sanitizeName(name string) string {
	return strings.Join(strings.Fields(protocol.SanitizeText(name)), " ")
}
