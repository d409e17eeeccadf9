package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func receiveWithin(t *testing.T, tr Transport, d time.Duration) (Datagram, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return tr.Receive(ctx)
}

func TestMemSendReceive(t *testing.T) {
	network := NewMemNetwork()
	a := network.Join()
	b := network.Join()
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	if err := a.Send([]byte("ping"), b.LocalAddr()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	d, err := receiveWithin(t, b, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(d.Data) != "ping" {
		t.Errorf("expected ping, got %q", d.Data)
	}
	if d.From != a.LocalAddr() {
		t.Errorf("expected from %s, got %s", a.LocalAddr(), d.From)
	}
}

func TestMemBroadcastLoopsBack(t *testing.T) {
	network := NewMemNetwork()
	nodes := []*MemTransport{network.Join(), network.Join(), network.Join()}
	for _, n := range nodes {
		defer func(n *MemTransport) { _ = n.Close() }(n)
	}

	if err := nodes[0].Broadcast([]byte("hello")); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	for i, n := range nodes {
		d, err := receiveWithin(t, n, time.Second)
		if err != nil {
			t.Fatalf("node %d: Receive failed: %v", i, err)
		}
		if string(d.Data) != "hello" {
			t.Errorf("node %d: expected hello, got %q", i, d.Data)
		}
	}
}

func TestMemFaults(t *testing.T) {
	network := NewMemNetwork()
	a := network.Join()
	b := network.Join()

	network.SetFaults(Faults{DropRate: 1})
	_ = a.Send([]byte("lost"), b.LocalAddr())
	if _, err := receiveWithin(t, b, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected dropped datagram, got %v", err)
	}

	network.SetFaults(Faults{DuplicateRate: 1})
	_ = a.Send([]byte("twice"), b.LocalAddr())
	for i := 0; i < 2; i++ {
		d, err := receiveWithin(t, b, time.Second)
		if err != nil || string(d.Data) != "twice" {
			t.Fatalf("copy %d: expected twice, got %q, %v", i, d.Data, err)
		}
	}
}

func TestMemReorder(t *testing.T) {
	network := NewMemNetwork()
	a := network.Join()
	b := network.Join()

	network.SetFaults(Faults{ReorderRate: 1})
	_ = a.Send([]byte("first"), b.LocalAddr())
	_ = a.Send([]byte("second"), b.LocalAddr())

	var got []string
	for i := 0; i < 2; i++ {
		d, err := receiveWithin(t, b, time.Second)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		got = append(got, string(d.Data))
	}
	if got[0] != "second" || got[1] != "first" {
		t.Errorf("expected reordered delivery, got %v", got)
	}
}

func TestMemFilter(t *testing.T) {
	network := NewMemNetwork()
	a := network.Join()
	b := network.Join()
	network.SetFilter(func(from, to netip.AddrPort, data []byte) bool {
		return string(data) != "blocked"
	})

	_ = a.Send([]byte("blocked"), b.LocalAddr())
	_ = a.Send([]byte("allowed"), b.LocalAddr())

	d, err := receiveWithin(t, b, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(d.Data) != "allowed" {
		t.Errorf("expected allowed, got %q", d.Data)
	}
}

func TestMemClose(t *testing.T) {
	network := NewMemNetwork()
	a := network.Join()
	b := network.Join()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := b.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := b.Send([]byte("x"), a.LocalAddr()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Send, got %v", err)
	}
	if err := a.Send([]byte("x"), b.LocalAddr()); err != nil {
		t.Errorf("sending to a departed node should be silent, got %v", err)
	}
}

func TestUDPUnicast(t *testing.T) {
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	newUDP := func() *UDP {
		cfg := DefaultConfig()
		cfg.GroupAddr = fmt.Sprintf("239.255.42.99:%d", 45000+time.Now().Nanosecond()%1000)
		cfg.BindAddr = "127.0.0.1:0"
		cfg.Logger = log
		u, err := NewUDP(cfg)
		if err != nil {
			t.Skipf("UDP multicast unavailable here: %v", err)
		}
		return u
	}

	a := newUDP()
	defer func() { _ = a.Close() }()
	b := newUDP()
	defer func() { _ = b.Close() }()

	if err := a.Send([]byte("hi"), b.LocalAddr()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	d, err := receiveWithin(t, b, 2*time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(d.Data) != "hi" {
		t.Errorf("expected hi, got %q", d.Data)
	}
	if d.From != a.LocalAddr() {
		t.Errorf("expected from %s, got %s", a.LocalAddr(), d.From)
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := a.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestUDPRejectsUnicastGroup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GroupAddr = "192.168.1.1:4444"
	if _, err := NewUDP(cfg); err == nil {
		t.Fatal("expected an error for a non-multicast group")
	}
}
