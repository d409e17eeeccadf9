// Package node runs the chat protocol: it turns datagrams from the transport
// into peer, message and transfer events and turns commands into datagrams.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"

	"github.com/rudransh-shrivastava/lanchat/internal/config"
	"github.com/rudransh-shrivastava/lanchat/internal/logger"
	"github.com/rudransh-shrivastava/lanchat/internal/peer"
	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
	"github.com/rudransh-shrivastava/lanchat/internal/reliability"
	"github.com/rudransh-shrivastava/lanchat/internal/transfer"
	"github.com/rudransh-shrivastava/lanchat/internal/transport"
)

var (
	ErrNoAcknowledgement = errors.New("no acknowledgement")
	ErrPeerLeft          = errors.New("peer left")
	ErrPeerRestarted     = errors.New("peer restarted")
	ErrUnknownPeer       = errors.New("unknown peer")
	ErrStopped           = errors.New("node stopped")
	ErrAlreadyRunning    = errors.New("node already running")
)

type Options struct {
	Config    config.Config
	Transport transport.Transport
	Logger    *logrus.Logger
	Clock     clock.Clock
	Scope     tally.Scope
	// Instance defaults to a fresh random id.
	Instance protocol.SenderID
}

type Node struct {
	cfg      config.Config
	tr       transport.Transport
	logger   *logrus.Logger
	clock    clock.Clock
	metrics  *metrics
	instance protocol.SenderID

	peers     *peer.Directory
	sender    *reliability.Sender
	window    *reliability.Window
	transfers *transfer.Manager

	// seq numbers the messages peers dedupe (Enter, Text, FileHeader).
	// ctrlSeq numbers everything else, so acks, chunks and heartbeats leave
	// no gaps in seq.
	seq           atomic.Uint32
	ctrlSeq       atomic.Uint32
	lastHeartbeat time.Time

	events   chan Event
	commands chan Command
	done     chan struct{}

	// mu serialises datagram handling, ticks and commands so events come out
	// in the order their causes were processed.
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Node, error) {
	if opts.Transport == nil {
		return nil, errors.New("node: transport is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	scope := opts.Scope
	if scope == nil {
		scope = tally.NoopScope
	}
	instance := opts.Instance
	if instance.IsZero() {
		instance = protocol.NewSenderID()
	}

	return &Node{
		cfg:      cfg,
		tr:       opts.Transport,
		logger:   log,
		clock:    clk,
		metrics:  newMetrics(scope),
		instance: instance,
		peers: peer.NewDirectory(peer.Config{
			LivenessTimeout: cfg.LivenessTimeout,
			DepartedTimeout: cfg.DepartedTimeout,
		}),
		sender: reliability.NewSender(reliability.Config{
			RetryInterval: cfg.RetryInterval,
			MaxBackoff:    cfg.MaxBackoff,
			MaxAttempts:   cfg.MaxAttempts,
		}),
		window: reliability.NewWindow(cfg.DedupeWindow),
		transfers: transfer.NewManager(transfer.Config{
			DownloadDir: cfg.DownloadDir,
			ChunkSize:   cfg.ChunkSize,
			Window:      cfg.SendWindow,
			Timeout:     cfg.TransferTimeout,
			MaxFileSize: cfg.MaxFileSize,
		}),
		events:   make(chan Event, cfg.EventBuffer),
		commands: make(chan Command, cfg.CommandBuffer),
		done:     make(chan struct{}),
	}, nil
}

// Run announces the node, serves the network until ctx is cancelled or a
// Shutdown command arrives, then broadcasts an Exit and closes the transport.
// The events channel is closed when Run returns.
func (n *Node) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	n.cancel = cancel

	ticker := n.clock.Ticker(n.cfg.TickInterval)
	defer ticker.Stop()

	n.mu.Lock()
	n.lastHeartbeat = n.clock.Now()
	n.announce(netip.AddrPort{})
	n.mu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"name":     n.cfg.DisplayName,
		"addr":     n.tr.LocalAddr(),
		"instance": n.instance,
	}).Info("Node is now running")

	n.wg.Add(2)
	go n.receiveLoop(ctx)
	go n.tickLoop(ctx, ticker)

	<-ctx.Done()
	n.wg.Wait()

	n.logger.Info("Shutting down node")
	if _, datagram, err := n.encode(protocol.Exit{Name: n.cfg.DisplayName}); err == nil {
		n.broadcast(datagram)
	}
	if err := n.tr.Close(); err != nil {
		n.logger.WithError(err).Warn("Closing transport")
	}
	n.transfers.Close()
	close(n.events)
	close(n.done)
	n.logger.Info("Node stopped")
	return nil
}

// Events is closed when Run returns. Emission blocks while it is full.
func (n *Node) Events() <-chan Event {
	return n.events
}

func (n *Node) Commands() chan<- Command {
	return n.commands
}

// Submit queues a command, waiting while the command channel is full.
func (n *Node) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-n.done:
		return ErrStopped
	default:
	}
	select {
	case n.commands <- cmd:
		return nil
	case <-n.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed after Run has returned.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Peers returns every known peer ordered by display name.
func (n *Node) Peers() []peer.Peer {
	return n.peers.All()
}

func (n *Node) Transfers() []transfer.Info {
	return n.transfers.List()
}

func (n *Node) Instance() protocol.SenderID {
	return n.instance
}

func (n *Node) LocalAddr() netip.AddrPort {
	return n.tr.LocalAddr()
}

func (n *Node) Name() string {
	return n.cfg.DisplayName
}

func (n *Node) receiveLoop(ctx context.Context) {
	defer n.wg.Done()

	for {
		d, err := n.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			n.logger.WithError(err).Warn("Receive failed")
			continue
		}
		n.metrics.datagramsIn.Inc(1)

		n.mu.Lock()
		n.handleDatagram(ctx, d)
		n.mu.Unlock()
	}
}

// tickLoop is the only reader of the command queue, so commands run in the
// order they were submitted.
func (n *Node) tickLoop(ctx context.Context, ticker *clock.Ticker) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.mu.Lock()
			n.tick(ctx)
			n.mu.Unlock()
		case cmd := <-n.commands:
			n.handleCommand(ctx, cmd)
		}
	}
}

func (n *Node) emit(ctx context.Context, ev Event) {
	select {
	case n.events <- ev:
	case <-ctx.Done():
	}
}

func (n *Node) nextSeq(msg protocol.Message) uint32 {
	switch msg.(type) {
	case protocol.Enter, protocol.Text, protocol.FileHeader:
		return n.seq.Add(1)
	default:
		return n.ctrlSeq.Add(1)
	}
}

func (n *Node) encode(msg protocol.Message) (uint32, []byte, error) {
	seq := n.nextSeq(msg)
	datagram, err := protocol.Encode(protocol.Packet{Sender: n.instance, Seq: seq, Msg: msg})
	if err != nil {
		return 0, nil, err
	}
	return seq, datagram, nil
}

func (n *Node) send(to netip.AddrPort, datagram []byte) {
	if err := n.tr.Send(datagram, to); err != nil {
		n.metrics.sendErrors.Inc(1)
		if !errors.Is(err, transport.ErrClosed) {
			n.logger.WithError(err).WithField("to", to).Warn("Send failed")
		}
		return
	}
	n.metrics.datagramsOut.Inc(1)
}

func (n *Node) broadcast(datagram []byte) {
	if err := n.tr.Broadcast(datagram); err != nil {
		n.metrics.sendErrors.Inc(1)
		if !errors.Is(err, transport.ErrClosed) {
			n.logger.WithError(err).Warn("Broadcast failed")
		}
		return
	}
	n.metrics.datagramsOut.Inc(1)
}

// peerAt returns the directory entry for addr, or a bare peer carrying only
// the address once it has been removed.
func (n *Node) peerAt(addr netip.AddrPort) peer.Peer {
	if p, ok := n.peers.LookupAddr(addr); ok {
		return p
	}
	return peer.Peer{Addr: addr}
}
