package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/rudransh-shrivastava/lanchat/internal/logger"
)

// UDP listens for discovery traffic on a multicast group and sends everything,
// broadcasts included, from a unicast socket so peers learn a reply address.
type UDP struct {
	cfg   Config
	group netip.AddrPort
	log   *logrus.Entry

	discovery *net.UDPConn
	unicast   *net.UDPConn

	inbound   chan Datagram
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Transport = (*UDP)(nil)

// NewUDP binds both sockets and joins the discovery group. Errors here, such
// as the address being in use, are meant to be fatal to the caller.
func NewUDP(cfg Config) (*UDP, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}

	group, err := netip.ParseAddrPort(cfg.GroupAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing group address: %w", err)
	}
	if !group.Addr().Is4() || !group.Addr().IsMulticast() {
		return nil, fmt.Errorf("group address %s is not an IPv4 multicast address", group)
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			return nil, fmt.Errorf("looking up interface: %w", err)
		}
	}

	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port()))
	if err != nil {
		return nil, fmt.Errorf("binding discovery socket: %w", err)
	}
	discovery := pc.(*net.UDPConn)

	if err := ipv4.NewPacketConn(discovery).JoinGroup(ifi, &net.UDPAddr{IP: group.Addr().AsSlice()}); err != nil {
		_ = discovery.Close()
		return nil, fmt.Errorf("joining group %s: %w", group.Addr(), err)
	}

	bind, err := net.ResolveUDPAddr("udp4", cfg.BindAddr)
	if err != nil {
		_ = discovery.Close()
		return nil, fmt.Errorf("resolving bind address: %w", err)
	}
	unicast, err := net.ListenUDP("udp4", bind)
	if err != nil {
		_ = discovery.Close()
		return nil, fmt.Errorf("binding unicast socket: %w", err)
	}

	up := ipv4.NewPacketConn(unicast)
	if err := up.SetMulticastTTL(1); err != nil {
		log.WithError(err).Warn("Failed to set multicast TTL")
	}
	if err := up.SetMulticastLoopback(true); err != nil {
		log.WithError(err).Warn("Failed to enable multicast loopback")
	}
	if ifi != nil {
		if err := up.SetMulticastInterface(ifi); err != nil {
			log.WithError(err).Warn("Failed to set multicast interface")
		}
	}

	u := &UDP{
		cfg:       cfg,
		group:     group,
		log:       log.WithField("component", "transport"),
		discovery: discovery,
		unicast:   unicast,
		inbound:   make(chan Datagram, cfg.QueueSize),
		done:      make(chan struct{}),
	}

	u.wg.Add(2)
	go u.readLoop(discovery)
	go u.readLoop(unicast)

	u.log.WithFields(logrus.Fields{
		"group": group.String(),
		"local": u.LocalAddr().String(),
	}).Info("Transport listening")
	return u, nil
}

func (u *UDP) readLoop(conn *net.UDPConn) {
	defer u.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-u.done:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(u.cfg.ReadTimeout))
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.WithError(err).Debug("Read failed")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		d := Datagram{
			From: netip.AddrPortFrom(from.Addr().Unmap(), from.Port()),
			Data: data,
		}

		select {
		case u.inbound <- d:
		case <-u.done:
			return
		}
	}
}

func (u *UDP) Receive(ctx context.Context) (Datagram, error) {
	select {
	case d := <-u.inbound:
		return d, nil
	case <-u.done:
		return Datagram{}, ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

func (u *UDP) Send(data []byte, to netip.AddrPort) error {
	var err error
	for attempt := 0; attempt <= u.cfg.SendRetries; attempt++ {
		select {
		case <-u.done:
			return ErrClosed
		default:
		}

		if _, err = u.unicast.WriteToUDPAddrPort(data, to); err == nil {
			return nil
		}
		if !isTransient(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
	}
	return fmt.Errorf("sending to %s: %w", to, err)
}

func (u *UDP) Broadcast(data []byte) error {
	return u.Send(data, u.group)
}

// LocalAddr is the unicast socket's address, the one peers reply to.
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.unicast.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		err = errors.Join(u.discovery.Close(), u.unicast.Close())
		u.wg.Wait()
	})
	return err
}
