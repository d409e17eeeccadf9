package transfer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

var (
	t0    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alice = netip.MustParseAddrPort("10.0.0.1:5000")
	bob   = netip.MustParseAddrPort("10.0.0.2:5000")
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{DownloadDir: t.TempDir(), ChunkSize: 1024, Window: 2, Timeout: 10 * time.Second})
	t.Cleanup(m.Close)
	return m
}

func writeSource(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

// sendAll drives a sender to completion and returns every chunk it produced.
func sendAll(t *testing.T, m *Manager, to netip.AddrPort, fileID uint32) []protocol.FileChunk {
	t.Helper()
	res, err := m.AckHeader(to, fileID, t0)
	require.NoError(t, err)

	var all []protocol.FileChunk
	for res.Outcome != Completed {
		chunks, err := m.NextChunks(to, fileID)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)
		require.LessOrEqual(t, len(chunks), 2, "window is 2")
		for _, c := range chunks {
			all = append(all, c)
			res, err = m.AckChunk(to, fileID, c.Index, t0)
			require.NoError(t, err)
		}
	}
	return all
}

func sha256Hex(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// permutations returns every ordering of items.
func permutations(items []int) [][]int {
	if len(items) <= 1 {
		return [][]int{append([]int(nil), items...)}
	}
	var out [][]int
	for i := range items {
		rest := make([]int, 0, len(items)-1)
		rest = append(rest, items[:i]...)
		rest = append(rest, items[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{items[i]}, p...))
		}
	}
	return out
}

// withDuplicates returns order itself, order with each element repeated in
// place, and order replayed in full.
func withDuplicates(order []int) [][]int {
	out := [][]int{order}
	for i := range order {
		dup := make([]int, 0, len(order)+1)
		dup = append(dup, order[:i+1]...)
		dup = append(dup, order[i:]...)
		out = append(out, dup)
	}
	return append(out, append(append([]int(nil), order...), order...))
}

func TestSendThreeThousandBytes(t *testing.T) {
	m := newTestManager(t)
	path, data := writeSource(t, 3000)

	info, hdr, err := m.BeginSend(path, bob, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), hdr.Size)
	assert.Equal(t, uint32(3), hdr.TotalChunks)
	assert.Equal(t, uint16(1024), hdr.ChunkSize)
	assert.Equal(t, "source.bin", hdr.Name)
	assert.Equal(t, Sending, info.Direction)

	chunks, err := m.NextChunks(bob, hdr.FileID)
	require.NoError(t, err)
	assert.Empty(t, chunks, "no chunks before the header is acknowledged")

	all := sendAll(t, m, bob, hdr.FileID)
	require.Len(t, all, 3)
	assert.Len(t, all[0].Data, 1024)
	assert.Len(t, all[1].Data, 1024)
	assert.Len(t, all[2].Data, 952)

	var joined []byte
	for _, c := range all {
		joined = append(joined, c.Data...)
	}
	assert.Equal(t, data, joined)

	got, ok := m.Get(info.Key)
	require.True(t, ok)
	assert.Equal(t, Complete, got.Status)
	assert.Equal(t, 1.0, got.Progress())
	assert.Equal(t, sha256Hex(data), got.Hash, "hash accumulates as chunks are read")
}

func TestReassemblyAnyOrder(t *testing.T) {
	path, data := writeSource(t, 3000)
	sender := newTestManager(t)
	_, hdr, err := sender.BeginSend(path, bob, t0)
	require.NoError(t, err)
	chunks := sendAll(t, sender, bob, hdr.FileID)

	perms := permutations([]int{0, 1, 2})
	require.Len(t, perms, 6)
	var orders [][]int
	for _, p := range perms {
		orders = append(orders, withDuplicates(p)...)
	}
	require.Len(t, orders, 30)

	for _, order := range orders {
		receiver := newTestManager(t)
		info, isNew, err := receiver.AcceptHeader(alice, hdr, t0)
		require.NoError(t, err)
		require.True(t, isNew)

		seen := map[int]bool{}
		for i, idx := range order {
			res, err := receiver.OnChunk(alice, chunks[idx], t0)
			require.NoError(t, err)
			switch {
			case seen[idx]:
				assert.Equal(t, Duplicate, res.Outcome, "order %v step %d", order, i)
			case len(seen) == 2:
				assert.Equal(t, Completed, res.Outcome, "order %v step %d", order, i)
			default:
				assert.Equal(t, Accepted, res.Outcome, "order %v step %d", order, i)
			}
			seen[idx] = true
		}

		done, ok := receiver.Get(info.Key)
		require.True(t, ok)
		require.Equal(t, Complete, done.Status)
		got, err := os.ReadFile(done.Path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got), "order %v reassembled wrong bytes", order)
		assert.Equal(t, "source.bin", filepath.Base(done.Path))
		assert.Equal(t, sha256Hex(data), done.Hash, "order %v hashed wrong bytes", order)

		_, err = os.Stat(BuildPartPath(filepath.Dir(done.Path), done.Name, hdr.FileID))
		assert.True(t, os.IsNotExist(err), "part file renamed away")
	}
}

func TestAcceptHeaderValidation(t *testing.T) {
	tests := []struct {
		name string
		hdr  protocol.FileHeader
	}{
		{"zero chunk size", protocol.FileHeader{Size: 10, TotalChunks: 1, ChunkSize: 0, Name: "a"}},
		{"chunk too large", protocol.FileHeader{Size: 2000, TotalChunks: 1, ChunkSize: 2000, Name: "a"}},
		{"too few chunks", protocol.FileHeader{Size: 3000, TotalChunks: 2, ChunkSize: 1024, Name: "a"}},
		{"too many chunks", protocol.FileHeader{Size: 3000, TotalChunks: 4, ChunkSize: 1024, Name: "a"}},
		{"chunks for empty file", protocol.FileHeader{Size: 0, TotalChunks: 1, ChunkSize: 1024, Name: "a"}},
		{"bad name", protocol.FileHeader{Size: 10, TotalChunks: 1, ChunkSize: 1024, Name: ".."}},
	}
	m := newTestManager(t)
	for _, tt := range tests {
		_, _, err := m.AcceptHeader(alice, tt.hdr, t0)
		assert.ErrorIs(t, err, ErrMalformedHeader, tt.name)
	}
	assert.Empty(t, m.List())
}

func TestFileSizeLimit(t *testing.T) {
	huge := protocol.FileHeader{FileID: 1, Size: 4398046510080, TotalChunks: 0xFFFFFFFF, ChunkSize: 1024, Name: "huge.bin"}
	_, err := ValidateHeader(huge, DefaultConfig().MaxFileSize)
	assert.ErrorIs(t, err, ErrMalformedHeader, "consistent but oversized header")

	m := NewManager(Config{DownloadDir: t.TempDir(), ChunkSize: 1024, Timeout: time.Second, MaxFileSize: 4096})
	defer m.Close()

	_, _, err = m.AcceptHeader(alice, huge, t0)
	assert.ErrorIs(t, err, ErrMalformedHeader)
	_, _, err = m.AcceptHeader(alice, protocol.FileHeader{FileID: 2, Size: 4097, TotalChunks: 5, ChunkSize: 1024, Name: "a"}, t0)
	assert.ErrorIs(t, err, ErrMalformedHeader, "one byte over the limit")
	assert.Empty(t, m.List())
	entries, err := os.ReadDir(m.cfg.DownloadDir)
	if err == nil {
		assert.Empty(t, entries, "rejected headers leave no part file")
	}

	info, isNew, err := m.AcceptHeader(alice, protocol.FileHeader{FileID: 3, Size: 4096, TotalChunks: 4, ChunkSize: 1024, Name: "b"}, t0)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.EqualValues(t, 4096, info.Size)

	path, _ := writeSource(t, 4097)
	_, _, err = m.BeginSend(path, bob, t0)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestAcceptHeaderIdempotent(t *testing.T) {
	m := newTestManager(t)
	hdr := protocol.FileHeader{FileID: 5, Size: 10, TotalChunks: 1, ChunkSize: 1024, Name: "a.txt"}

	first, isNew, err := m.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)
	assert.True(t, isNew)

	second, isNew, err := m.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.Key, second.Key)

	_, isNew, err = m.AcceptHeader(bob, hdr, t0)
	require.NoError(t, err)
	assert.True(t, isNew, "same file id from another peer is a separate transfer")
}

func TestEmptyFile(t *testing.T) {
	path, _ := writeSource(t, 0)

	sender := newTestManager(t)
	_, hdr, err := sender.BeginSend(path, bob, t0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), hdr.TotalChunks)
	res, err := sender.AckHeader(bob, hdr.FileID, t0)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.Outcome)

	receiver := newTestManager(t)
	info, isNew, err := receiver.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, Complete, info.Status)
	assert.Equal(t, sha256Hex(nil), info.Hash)
	assert.Equal(t, info.Hash, res.Info.Hash)
	st, err := os.Stat(info.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Size())
}

func TestOnChunkErrors(t *testing.T) {
	m := newTestManager(t)
	hdr := protocol.FileHeader{FileID: 1, Size: 3000, TotalChunks: 3, ChunkSize: 1024, Name: "f"}
	_, _, err := m.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)

	_, err = m.OnChunk(bob, protocol.FileChunk{FileID: 1, Index: 0, Data: make([]byte, 1024)}, t0)
	assert.ErrorIs(t, err, ErrUnknownTransfer, "chunk from a different peer")

	_, err = m.OnChunk(alice, protocol.FileChunk{FileID: 1, Index: 3, Data: make([]byte, 10)}, t0)
	assert.ErrorIs(t, err, ErrBadChunk, "index out of range")

	_, err = m.OnChunk(alice, protocol.FileChunk{FileID: 1, Index: 2, Data: make([]byte, 1024)}, t0)
	assert.ErrorIs(t, err, ErrBadChunk, "last chunk must be 952 bytes")
}

func TestProgressThrottled(t *testing.T) {
	m := NewManager(Config{DownloadDir: t.TempDir(), ChunkSize: 10, Timeout: time.Minute})
	defer m.Close()
	hdr := protocol.FileHeader{FileID: 2, Size: 3000, TotalChunks: 300, ChunkSize: 10, Name: "p"}
	info, _, err := m.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)

	reports := 0
	for i := 0; i < 300; i++ {
		res, err := m.OnChunk(alice, protocol.FileChunk{FileID: 2, Index: uint32(i), Data: make([]byte, 10)}, t0)
		require.NoError(t, err)
		if res.Progressed {
			reports++
		}
	}
	assert.Equal(t, 100, reports, "one report per whole percent")

	p, ok := m.Progress(info.Key)
	require.True(t, ok)
	assert.Equal(t, 1.0, p)
}

func TestHashWithFirstChunkLast(t *testing.T) {
	m := NewManager(Config{DownloadDir: t.TempDir(), ChunkSize: 10, Timeout: time.Minute})
	defer m.Close()
	data := make([]byte, 495)
	rand.New(rand.NewSource(7)).Read(data)
	hdr := protocol.FileHeader{FileID: 4, Size: 495, TotalChunks: 50, ChunkSize: 10, Name: "late"}
	_, _, err := m.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)

	var res Result
	for i := 49; i >= 0; i-- {
		end := min((i+1)*10, len(data))
		res, err = m.OnChunk(alice, protocol.FileChunk{FileID: 4, Index: uint32(i), Data: data[i*10 : end]}, t0)
		require.NoError(t, err)
	}
	require.Equal(t, Completed, res.Outcome)
	assert.Equal(t, sha256Hex(data), res.Info.Hash)
}

func TestExpireDiscardsPartialFile(t *testing.T) {
	m := newTestManager(t)
	hdr := protocol.FileHeader{FileID: 3, Size: 3000, TotalChunks: 3, ChunkSize: 1024, Name: "slow.bin"}
	info, _, err := m.AcceptHeader(alice, hdr, t0)
	require.NoError(t, err)
	_, err = m.OnChunk(alice, protocol.FileChunk{FileID: 3, Index: 0, Data: make([]byte, 1024)}, t0.Add(time.Second))
	require.NoError(t, err)

	part := BuildPartPath(m.cfg.DownloadDir, "slow.bin", 3)
	_, err = os.Stat(part)
	require.NoError(t, err)

	assert.Empty(t, m.Expire(t0.Add(10*time.Second)), "idle timer restarts on every chunk")

	expired := m.Expire(t0.Add(11 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, info.Key, expired[0].Key)
	assert.Equal(t, Aborted, expired[0].Status)
	_, err = os.Stat(part)
	assert.True(t, os.IsNotExist(err))

	_, err = m.OnChunk(alice, protocol.FileChunk{FileID: 3, Index: 1, Data: make([]byte, 1024)}, t0.Add(12*time.Second))
	assert.True(t, errors.Is(err, ErrUnknownTransfer))

	m.Expire(t0.Add(time.Minute))
	_, ok := m.Get(info.Key)
	assert.False(t, ok, "finished transfers are forgotten eventually")
}

func TestAbortPeer(t *testing.T) {
	m := newTestManager(t)
	path, _ := writeSource(t, 5000)
	_, _, err := m.BeginSend(path, bob, t0)
	require.NoError(t, err)
	_, _, err = m.AcceptHeader(bob, protocol.FileHeader{FileID: 9, Size: 1, TotalChunks: 1, ChunkSize: 1024, Name: "x"}, t0)
	require.NoError(t, err)
	_, _, err = m.AcceptHeader(alice, protocol.FileHeader{FileID: 9, Size: 1, TotalChunks: 1, ChunkSize: 1024, Name: "y"}, t0)
	require.NoError(t, err)

	aborted := m.AbortPeer(bob)
	assert.Len(t, aborted, 2)
	for _, info := range m.List() {
		if info.Peer == bob {
			assert.Equal(t, Aborted, info.Status)
		} else {
			assert.Equal(t, InProgress, info.Status)
		}
	}
}

func TestBeginSendRejectsDirectory(t *testing.T) {
	m := newTestManager(t)
	_, _, err := m.BeginSend(t.TempDir(), bob, t0)
	assert.ErrorIs(t, err, ErrNotRegularFile)

	_, _, err = m.BeginSend(filepath.Join(t.TempDir(), "missing"), bob, t0)
	assert.Error(t, err)
}
