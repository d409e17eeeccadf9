package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrDaemonRunning = errors.New("a daemon is already listening on this socket")

// Handler carries out requests on behalf of CLI clients.
type Handler interface {
	SendText(ctx context.Context, text string, to []string) error
	SendFile(ctx context.Context, path string, to []string) error
	Peers(ctx context.Context) ([]PeerView, error)
	History(ctx context.Context, peerID string, limit int) ([]MessageView, error)
	Transfers(ctx context.Context, limit int) ([]TransferView, error)
	Shutdown(ctx context.Context) error
}

type Server struct {
	handler Handler
	hub     *Hub
	logger  *logrus.Logger
}

func NewServer(h Handler, hub *Hub, logger *logrus.Logger) *Server {
	return &Server{handler: h, hub: hub, logger: logger}
}

// Listen opens the unix socket at path, removing a stale socket left by a
// daemon that did not shut down cleanly.
func Listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		conn, err := net.DialTimeout("unix", path, time.Second)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %s", ErrDaemonRunning, path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}
	return net.Listen("unix", path)
}

// Serve accepts clients until ctx is cancelled, then closes the listener and
// every open connection.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.WithError(err).Warn("Accepting ipc connection")
			continue
		}
		s.logger.Debug("Accepted a new socket connection")

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		frame, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.logger.WithError(err).Debug("Reading ipc request")
			}
			return
		}
		req, err := decodeRequest(frame)
		if err != nil {
			s.reply(conn, Response{Error: err.Error()})
			return
		}
		s.logger.WithField("op", req.Op).Debug("Handling ipc request")

		if req.Op == OpWatch {
			s.watch(ctx, cancel, conn)
			return
		}
		if err := s.reply(conn, s.dispatch(ctx, req)); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	var (
		resp Response
		err  error
	)
	switch req.Op {
	case OpSend:
		err = s.handler.SendText(ctx, req.Text, req.To)
	case OpSendFile:
		err = s.handler.SendFile(ctx, req.Path, req.To)
	case OpPeers:
		resp.Peers, err = s.handler.Peers(ctx)
	case OpHistory:
		resp.Messages, err = s.handler.History(ctx, req.PeerID, req.Limit)
	case OpTransfers:
		resp.Transfers, err = s.handler.Transfers(ctx, req.Limit)
	case OpShutdown:
		err = s.handler.Shutdown(ctx)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// watch streams events to the client until it hangs up or the server stops.
func (s *Server) watch(ctx context.Context, cancel context.CancelFunc, conn net.Conn) {
	events, release := s.hub.Subscribe()
	defer release()

	if err := s.reply(conn, Response{}); err != nil {
		return
	}

	// The client sends nothing more; a read returning means it went away.
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			frame, err := ev.encode()
			if err != nil {
				s.logger.WithError(err).Warn("Encoding event")
				continue
			}
			if err := WriteFrame(conn, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) reply(w io.Writer, resp Response) error {
	frame, err := resp.encode()
	if err != nil {
		s.logger.WithError(err).Warn("Encoding ipc response")
		frame, err = Response{Error: err.Error()}.encode()
		if err != nil {
			return err
		}
	}
	return WriteFrame(w, frame)
}
