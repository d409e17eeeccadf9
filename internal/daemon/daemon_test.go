package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"

	"github.com/rudransh-shrivastava/lanchat/internal/config"
	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
	"github.com/rudransh-shrivastava/lanchat/internal/logger"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
	"github.com/rudransh-shrivastava/lanchat/internal/transport"
)

type fixture struct {
	daemon  *Daemon
	client  *ipc.Client
	bob     *node.Node
	bobSeen chan node.Event
	runErr  chan error
	events  chan node.Event
}

func testConfig(t *testing.T, name string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DisplayName = name
	cfg.TickInterval = 20 * time.Millisecond
	cfg.RetryInterval = 50 * time.Millisecond
	cfg.MaxBackoff = 200 * time.Millisecond
	cfg.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	cfg.HistoryPath = filepath.Join(t.TempDir(), "history.sqlite3")
	return cfg
}

func setup(t *testing.T) *fixture {
	t.Helper()
	network := transport.NewMemNetwork()

	sockDir, err := os.MkdirTemp("", "lanchat")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := testConfig(t, "alice")
	cfg.SocketPath = filepath.Join(sockDir, "d.sock")

	f := &fixture{
		runErr:  make(chan error, 1),
		events:  make(chan node.Event, 256),
		bobSeen: make(chan node.Event, 256),
	}
	d, err := New(Options{
		Config:    cfg,
		Logger:    logger.Discard(),
		Transport: network.Join(),
		Scope:     tally.NoopScope,
		Serve:     true,
		OnEvent:   func(ev node.Event) { f.events <- ev },
	})
	require.NoError(t, err)
	f.daemon = d

	ctx, cancel := context.WithCancel(context.Background())
	go func() { f.runErr <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.runErr:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	require.Eventually(t, func() bool {
		c, err := ipc.Dial(context.Background(), cfg.SocketPath)
		if err != nil {
			return false
		}
		f.client = c
		return true
	}, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { f.client.Close() })

	bob, err := node.New(node.Options{
		Config:    testConfig(t, "bob"),
		Transport: network.Join(),
		Logger:    logger.Discard(),
	})
	require.NoError(t, err)
	f.bob = bob
	bobCtx, stopBob := context.WithCancel(context.Background())
	go bob.Run(bobCtx)
	go func() {
		for ev := range bob.Events() {
			f.bobSeen <- ev
		}
	}()
	t.Cleanup(func() {
		stopBob()
		<-bob.Done()
	})

	require.Eventually(t, func() bool {
		resp, err := f.client.Do(ipc.Request{Op: ipc.OpPeers})
		return err == nil && len(resp.Peers) == 1 && resp.Peers[0].Name == "bob"
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(bob.Peers()) == 1 }, 5*time.Second, 10*time.Millisecond)
	return f
}

func waitFor[T node.Event](t *testing.T, ch <-chan node.Event) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if e, ok := ev.(T); ok {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T event", zero)
			return zero
		}
	}
}

func TestSendByNameAndHistory(t *testing.T) {
	f := setup(t)

	_, err := f.client.Do(ipc.Request{Op: ipc.OpSend, Text: "hello bob", To: []string{"bob"}})
	require.NoError(t, err)

	got := waitFor[node.MessageReceived](t, f.bobSeen)
	assert.Equal(t, "hello bob", got.Text)
	assert.False(t, got.Public)
	waitFor[node.MessageDelivered](t, f.events)

	require.Eventually(t, func() bool {
		resp, err := f.client.Do(ipc.Request{Op: ipc.OpHistory, PeerID: "bob"})
		return err == nil && len(resp.Messages) == 1 && resp.Messages[0].Status == "delivered"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReceivedMessagesAreRecorded(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.bob.Submit(context.Background(), node.SendText{Text: "hi all"}))
	got := waitFor[node.MessageReceived](t, f.events)
	assert.True(t, got.Public)

	resp, err := f.client.Do(ipc.Request{Op: ipc.OpHistory})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "in", resp.Messages[0].Direction)
	assert.Equal(t, "bob", resp.Messages[0].PeerName)
}

func TestSendToUnknownPeerFails(t *testing.T) {
	f := setup(t)

	_, err := f.client.Do(ipc.Request{Op: ipc.OpSend, Text: "hello", To: []string{"carol"}})
	assert.ErrorContains(t, err, "unknown peer")
}

func TestSendFileChecksPath(t *testing.T) {
	f := setup(t)

	_, err := f.client.Do(ipc.Request{Op: ipc.OpSendFile, Path: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	_, err = f.client.Do(ipc.Request{Op: ipc.OpSendFile, Path: t.TempDir()})
	assert.ErrorContains(t, err, "is a directory")
}

func TestSendFileIsRecorded(t *testing.T) {
	f := setup(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("some notes for bob"), 0o600))

	_, err := f.client.Do(ipc.Request{Op: ipc.OpSendFile, Path: path, To: []string{"bob"}})
	require.NoError(t, err)

	done := waitFor[node.TransferComplete](t, f.bobSeen)
	data, err := os.ReadFile(done.Transfer.Path)
	require.NoError(t, err)
	assert.Equal(t, "some notes for bob", string(data))

	require.Eventually(t, func() bool {
		resp, err := f.client.Do(ipc.Request{Op: ipc.OpTransfers})
		return err == nil && len(resp.Transfers) == 1 && resp.Transfers[0].Status == "complete"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchSeesEvents(t *testing.T) {
	f := setup(t)

	watcher, err := ipc.Dial(context.Background(), f.daemon.cfg.SocketPath)
	require.NoError(t, err)
	defer watcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seen := make(chan ipc.EventView, 16)
	go watcher.Watch(ctx, func(ev ipc.EventView) error {
		seen <- ev
		return nil
	})
	require.Eventually(t, func() bool { return f.daemon.hub.Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.bob.Submit(context.Background(), node.SendText{Text: "watch this"}))
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-seen:
			if ev.Kind == "message_received" {
				assert.Equal(t, "watch this", ev.Text)
				assert.Equal(t, "bob", ev.PeerName)
				return
			}
		case <-timeout:
			t.Fatal("no message event streamed")
		}
	}
}

func TestShutdownStopsDaemon(t *testing.T) {
	f := setup(t)

	_, err := f.client.Do(ipc.Request{Op: ipc.OpShutdown})
	require.NoError(t, err)

	select {
	case err := <-f.runErr:
		assert.NoError(t, err)
		f.runErr <- err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon still running")
	}
	_, statErr := os.Stat(f.daemon.cfg.SocketPath)
	assert.True(t, os.IsNotExist(statErr))
	waitFor[node.PeerLeft](t, f.bobSeen)
}
