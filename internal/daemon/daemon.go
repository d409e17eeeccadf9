// Package daemon runs a node in the background: it records events to the
// history database and serves CLI clients on a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
	"gorm.io/gorm"

	"github.com/rudransh-shrivastava/lanchat/internal/config"
	"github.com/rudransh-shrivastava/lanchat/internal/db"
	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
	"github.com/rudransh-shrivastava/lanchat/internal/logger"
	"github.com/rudransh-shrivastava/lanchat/internal/metrics"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
	"github.com/rudransh-shrivastava/lanchat/internal/store"
	"github.com/rudransh-shrivastava/lanchat/internal/transport"
)

const defaultHistoryLimit = 50

type Options struct {
	Config config.Config
	Logger *logrus.Logger
	// Transport replaces the UDP sockets when set.
	Transport transport.Transport
	// Scope replaces the log-reporting metrics scope when set.
	Scope tally.Scope
	// Serve opens the control socket at Config.SocketPath.
	Serve bool
	// OnEvent sees every node event after it has been recorded.
	OnEvent func(node.Event)
}

type Daemon struct {
	cfg     config.Config
	logger  *logrus.Logger
	node    *node.Node
	tr      transport.Transport
	db      *gorm.DB
	hub     *ipc.Hub
	onEvent func(node.Event)
	serve   bool

	recorder  *store.Recorder
	messages  *store.MessageStore
	transfers *store.TransferStore

	closers []io.Closer
}

var _ ipc.Handler = (*Daemon)(nil)

func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	var closers []io.Closer
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}

	scope := opts.Scope
	if scope == nil {
		var closer io.Closer
		scope, closer = metrics.NewScope(log, cfg.MetricsInterval)
		closers = append(closers, closer)
	}

	tr := opts.Transport
	if tr == nil {
		udp, err := transport.NewUDP(transport.Config{
			GroupAddr:   cfg.GroupAddr,
			BindAddr:    cfg.BindAddr,
			Interface:   cfg.Interface,
			SendRetries: cfg.SendRetries,
			QueueSize:   cfg.CommandBuffer * 8,
			Logger:      log,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("opening sockets: %w", err)
		}
		tr = udp
	}

	n, err := node.New(node.Options{
		Config:    cfg,
		Transport: tr,
		Logger:    log,
		Scope:     scope.SubScope("node"),
	})
	if err != nil {
		tr.Close()
		closeAll()
		return nil, err
	}

	conn, err := db.Open(cfg.HistoryPath)
	if err != nil {
		tr.Close()
		closeAll()
		return nil, fmt.Errorf("opening history: %w", err)
	}

	messages := store.NewMessageStore(conn)
	transfers := store.NewTransferStore(conn)
	return &Daemon{
		cfg:     cfg,
		logger:  log,
		node:    n,
		tr:      tr,
		db:      conn,
		hub:     ipc.NewHub(cfg.EventBuffer),
		onEvent: opts.OnEvent,
		serve:   opts.Serve,
		recorder: store.NewRecorder(store.RecorderOptions{
			Peers:     store.NewPeerStore(conn),
			Messages:  messages,
			Transfers: transfers,
			Instance:  n.Instance().String(),
		}),
		messages:  messages,
		transfers: transfers,
		closers:   closers,
	}, nil
}

func (d *Daemon) Node() *node.Node {
	return d.node
}

// Run serves until ctx is cancelled or a client asks for shutdown. The node
// is stopped, pending history is written and the database closed before it
// returns.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	var listener net.Listener
	if d.serve {
		l, err := ipc.Listen(d.cfg.SocketPath)
		if err != nil {
			d.tr.Close()
			return fmt.Errorf("opening control socket: %w", err)
		}
		listener = l
		d.logger.WithField("socket", d.cfg.SocketPath).Info("IPC Server started successfully")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if listener != nil {
		srvCtx, stopServer := context.WithCancel(context.Background())
		defer stopServer()
		srv := ipc.NewServer(d, d.hub, d.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(srvCtx, listener); err != nil {
				d.logger.WithError(err).Warn("IPC server stopped")
			}
		}()
		defer func() {
			stopServer()
			wg.Wait()
			os.Remove(d.cfg.SocketPath)
		}()
	}

	nodeErr := make(chan error, 1)
	go func() { nodeErr <- d.node.Run(ctx) }()

	// Events is closed once the node has stopped.
	for ev := range d.node.Events() {
		d.handleEvent(ev)
	}
	d.hub.Close()
	return <-nodeErr
}

func (d *Daemon) handleEvent(ev node.Event) {
	if err := d.recorder.Record(context.Background(), ev); err != nil && !errors.Is(err, store.ErrNotFound) {
		d.logger.WithError(err).WithField("event", ev.Kind()).Warn("Recording event")
	}
	if dropped := d.hub.Publish(ipc.EventFrom(ev)); dropped > 0 {
		d.logger.WithField("watchers", dropped).Debug("Watchers fell behind, event dropped")
	}
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}

func (d *Daemon) close() {
	if err := db.Close(d.db); err != nil {
		d.logger.WithError(err).Warn("Closing history")
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i].Close()
	}
}
