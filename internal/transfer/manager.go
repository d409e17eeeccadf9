package transfer

import (
	"fmt"
	"math/rand/v2"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

type transfer struct {
	info Info

	file     *os.File
	partPath string
	done     bitset
	hash     *chunkHasher

	// Sending side.
	headerAcked bool
	next        int
	inFlight    int

	lastActivity time.Time
	lastPercent  int
}

// Manager owns the transfer table. It is safe for concurrent use.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	transfers map[Key]*transfer
	nextID    uint32
}

func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > protocol.MaxChunkPayload {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = def.DownloadDir
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	return &Manager{
		cfg:       cfg,
		transfers: make(map[Key]*transfer),
		nextID:    rand.Uint32(),
	}
}

// BeginSend opens path for sending to a peer and returns the header to
// announce it with. Chunks are released by NextChunks once the header is acknowledged.
func (m *Manager) BeginSend(path string, to netip.AddrPort, now time.Time) (Info, protocol.FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, protocol.FileHeader{}, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Info{}, protocol.FileHeader{}, err
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return Info{}, protocol.FileHeader{}, fmt.Errorf("%s: %w", path, ErrNotRegularFile)
	}
	name := filepath.Base(path)
	if len(name) > protocol.MaxNameSize {
		_ = f.Close()
		return Info{}, protocol.FileHeader{}, fmt.Errorf("file name longer than %d bytes", protocol.MaxNameSize)
	}
	size := st.Size()
	if size > m.cfg.MaxFileSize {
		_ = f.Close()
		return Info{}, protocol.FileHeader{}, fmt.Errorf("%s is %d bytes, limit is %d: %w", path, size, m.cfg.MaxFileSize, ErrFileTooLarge)
	}
	total := CalculateTotalChunks(size, int64(m.cfg.ChunkSize))

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	key := Key{Peer: to, FileID: id, Direction: Sending}
	t := &transfer{
		info: Info{
			Key:         key,
			Name:        name,
			Path:        path,
			Size:        size,
			ChunkSize:   m.cfg.ChunkSize,
			TotalChunks: total,
			Status:      InProgress,
			StartedAt:   now,
		},
		file:         f,
		done:         newBitset(total),
		hash:         newChunkHasher(),
		lastActivity: now,
	}
	m.transfers[key] = t

	hdr := protocol.FileHeader{
		FileID:      id,
		Size:        uint64(size),
		TotalChunks: uint32(total),
		ChunkSize:   uint16(m.cfg.ChunkSize),
		Name:        name,
	}
	return t.info, hdr, nil
}

// AckHeader records that the receiver accepted the header. An empty file is
// complete at this point.
func (m *Manager) AckHeader(to netip.AddrPort, fileID uint32, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[Key{Peer: to, FileID: fileID, Direction: Sending}]
	if !ok || t.info.Status == Aborted {
		return Result{}, ErrUnknownTransfer
	}
	if t.headerAcked {
		return Result{Outcome: Duplicate, Info: t.info}, nil
	}
	t.headerAcked = true
	t.lastActivity = now
	if t.info.TotalChunks == 0 {
		m.completeSendLocked(t)
		return Result{Outcome: Completed, Info: t.info, Progressed: true}, nil
	}
	return Result{Outcome: Accepted, Info: t.info}, nil
}

// NextChunks hands out unsent chunks while the window has room.
func (m *Manager) NextChunks(to netip.AddrPort, fileID uint32) ([]protocol.FileChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[Key{Peer: to, FileID: fileID, Direction: Sending}]
	if !ok {
		return nil, ErrUnknownTransfer
	}
	if t.info.Status != InProgress || !t.headerAcked {
		return nil, nil
	}

	var chunks []protocol.FileChunk
	for t.inFlight < m.cfg.Window && t.next < t.info.TotalChunks {
		length := ChunkLength(t.info.Size, t.info.ChunkSize, t.next)
		data, err := ReadChunkData(t.file, t.next, length, t.info.ChunkSize)
		if err != nil {
			return chunks, fmt.Errorf("reading chunk %d of %s: %w", t.next, t.info.Name, err)
		}
		t.hash.add(data)
		chunks = append(chunks, protocol.FileChunk{FileID: fileID, Index: uint32(t.next), Data: data})
		t.next++
		t.inFlight++
	}
	return chunks, nil
}

// AckChunk marks a sent chunk as acknowledged by the receiver.
func (m *Manager) AckChunk(to netip.AddrPort, fileID, index uint32, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[Key{Peer: to, FileID: fileID, Direction: Sending}]
	if !ok || t.info.Status == Aborted {
		return Result{}, ErrUnknownTransfer
	}
	if int(index) >= t.info.TotalChunks || int(index) >= t.next {
		return Result{}, fmt.Errorf("%w: ack for unsent index %d", ErrBadChunk, index)
	}
	if t.done.has(int(index)) {
		return Result{Outcome: Duplicate, Info: t.info}, nil
	}

	t.done.set(int(index))
	t.info.Done++
	t.inFlight--
	t.lastActivity = now
	progressed := m.progressedLocked(t)
	if t.info.Done == t.info.TotalChunks {
		m.completeSendLocked(t)
		return Result{Outcome: Completed, Info: t.info, Progressed: progressed}, nil
	}
	return Result{Outcome: Accepted, Info: t.info, Progressed: progressed}, nil
}

// AcceptHeader validates an announced file and prepares its part file. A
// repeated header returns the existing transfer with isNew false.
func (m *Manager) AcceptHeader(from netip.AddrPort, hdr protocol.FileHeader, now time.Time) (info Info, isNew bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Key{Peer: from, FileID: hdr.FileID, Direction: Receiving}
	if t, ok := m.transfers[key]; ok {
		return t.info, false, nil
	}

	name, err := ValidateHeader(hdr, m.cfg.MaxFileSize)
	if err != nil {
		return Info{}, false, err
	}
	if err := os.MkdirAll(m.cfg.DownloadDir, 0o755); err != nil {
		return Info{}, false, err
	}

	t := &transfer{
		info: Info{
			Key:         key,
			Name:        name,
			Size:        int64(hdr.Size),
			ChunkSize:   int(hdr.ChunkSize),
			TotalChunks: int(hdr.TotalChunks),
			Status:      InProgress,
			StartedAt:   now,
		},
		done:         newBitset(int(hdr.TotalChunks)),
		hash:         newChunkHasher(),
		lastActivity: now,
	}

	if t.info.TotalChunks == 0 {
		path := BuildDownloadPath(m.cfg.DownloadDir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return Info{}, false, err
		}
		_ = f.Close()
		t.info.Path = path
		t.info.Status = Complete
		t.info.Hash = t.hash.sum()
		m.transfers[key] = t
		return t.info, true, nil
	}

	t.partPath = BuildPartPath(m.cfg.DownloadDir, name, hdr.FileID)
	if t.file, err = CreatePreallocatedFile(t.partPath, t.info.Size); err != nil {
		return Info{}, false, err
	}
	m.transfers[key] = t
	return t.info, true, nil
}

// ValidateHeader checks that the declared size is within maxSize and agrees
// with the chunk size and chunk count, and returns the sanitized file name.
func ValidateHeader(hdr protocol.FileHeader, maxSize int64) (string, error) {
	name, err := ExtractFileName(hdr.Name)
	if err != nil {
		return "", err
	}
	cs := int64(hdr.ChunkSize)
	if cs == 0 || cs > protocol.MaxChunkPayload {
		return "", fmt.Errorf("%w: chunk size %d", ErrMalformedHeader, cs)
	}
	if maxSize < 0 || hdr.Size > uint64(maxSize) {
		return "", fmt.Errorf("%w: size %d exceeds limit %d", ErrMalformedHeader, hdr.Size, maxSize)
	}
	if want := CalculateTotalChunks(int64(hdr.Size), cs); int64(hdr.TotalChunks) != int64(want) {
		return "", fmt.Errorf("%w: %d bytes in %d byte chunks is %d chunks, header says %d",
			ErrMalformedHeader, hdr.Size, cs, want, hdr.TotalChunks)
	}
	return name, nil
}

// OnChunk writes a received chunk at its index. Chunks for a completed
// transfer report Duplicate so the sender's retransmissions still get acknowledged.
func (m *Manager) OnChunk(from netip.AddrPort, chunk protocol.FileChunk, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[Key{Peer: from, FileID: chunk.FileID, Direction: Receiving}]
	if !ok || t.info.Status == Aborted {
		return Result{}, ErrUnknownTransfer
	}
	if t.info.Status == Complete {
		return Result{Outcome: Duplicate, Info: t.info}, nil
	}

	index := int(chunk.Index)
	if index >= t.info.TotalChunks {
		return Result{}, fmt.Errorf("%w: index %d of %d", ErrBadChunk, index, t.info.TotalChunks)
	}
	if want := ChunkLength(t.info.Size, t.info.ChunkSize, index); len(chunk.Data) != want {
		return Result{}, fmt.Errorf("%w: chunk %d is %d bytes, want %d", ErrBadChunk, index, len(chunk.Data), want)
	}
	if t.done.has(index) {
		return Result{Outcome: Duplicate, Info: t.info}, nil
	}

	if err := WriteChunkData(t.file, index, t.info.ChunkSize, chunk.Data); err != nil {
		return Result{}, err
	}
	t.done.set(index)
	if err := m.foldReceivedLocked(t, index, chunk.Data); err != nil {
		m.abortLocked(t)
		return Result{}, err
	}
	t.info.Done++
	t.lastActivity = now
	progressed := m.progressedLocked(t)

	if t.info.Done < t.info.TotalChunks {
		return Result{Outcome: Accepted, Info: t.info, Progressed: progressed}, nil
	}
	if err := m.completeReceiveLocked(t); err != nil {
		m.abortLocked(t)
		return Result{}, err
	}
	return Result{Outcome: Completed, Info: t.info, Progressed: progressed}, nil
}

func (m *Manager) Progress(key Key) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[key]
	if !ok {
		return 0, false
	}
	return t.info.Progress(), true
}

func (m *Manager) Get(key Key) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[key]
	if !ok {
		return Info{}, false
	}
	return t.info, true
}

// List returns every tracked transfer ordered by start time.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].FileID < out[j].FileID
	})
	return out
}

// Expire aborts receptions idle for longer than the timeout, discarding their
// part files, and forgets finished transfers idle for twice that.
func (m *Manager) Expire(now time.Time) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []Info
	for key, t := range m.transfers {
		idle := now.Sub(t.lastActivity)
		switch {
		case t.info.Status == InProgress && key.Direction == Receiving && idle >= m.cfg.Timeout:
			m.abortLocked(t)
			expired = append(expired, t.info)
		case t.info.Status != InProgress && idle >= 2*m.cfg.Timeout:
			delete(m.transfers, key)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].FileID < expired[j].FileID })
	return expired
}

// Abort stops an in-progress transfer. Receiving transfers lose their part file.
func (m *Manager) Abort(key Key) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[key]
	if !ok || t.info.Status != InProgress {
		return Info{}, false
	}
	m.abortLocked(t)
	return t.info, true
}

// AbortPeer aborts every in-progress transfer with the given peer.
func (m *Manager) AbortPeer(peer netip.AddrPort) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var aborted []Info
	for key, t := range m.transfers {
		if key.Peer == peer && t.info.Status == InProgress {
			m.abortLocked(t)
			aborted = append(aborted, t.info)
		}
	}
	return aborted
}

// Close aborts everything still in progress.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.transfers {
		if t.info.Status == InProgress {
			m.abortLocked(t)
		}
	}
}

func (m *Manager) progressedLocked(t *transfer) bool {
	p := t.info.Percent()
	if p == t.lastPercent {
		return false
	}
	t.lastPercent = p
	return true
}

func (m *Manager) completeSendLocked(t *transfer) {
	t.info.Status = Complete
	t.info.Hash = t.hash.sum()
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
}

func (m *Manager) completeReceiveLocked(t *transfer) error {
	if err := t.file.Sync(); err != nil {
		return err
	}
	if err := t.file.Close(); err != nil {
		return err
	}
	t.file = nil

	final := BuildDownloadPath(m.cfg.DownloadDir, t.info.Name)
	if err := os.Rename(t.partPath, final); err != nil {
		return err
	}
	t.partPath = ""
	t.info.Path = final
	t.info.Status = Complete
	t.info.Hash = t.hash.sum()
	return nil
}

// foldReceivedLocked extends the running hash over the contiguous prefix of
// received chunks. Chunks that arrived ahead of a gap are read back from the
// part file once the gap fills, so each chunk is hashed exactly once.
func (m *Manager) foldReceivedLocked(t *transfer, index int, data []byte) error {
	for t.hash.next < t.info.TotalChunks && t.done.has(t.hash.next) {
		next := t.hash.next
		if next == index {
			t.hash.add(data)
			continue
		}
		buf, err := ReadChunkData(t.file, next, ChunkLength(t.info.Size, t.info.ChunkSize, next), t.info.ChunkSize)
		if err != nil {
			return fmt.Errorf("rereading chunk %d of %s: %w", next, t.info.Name, err)
		}
		t.hash.add(buf)
	}
	return nil
}

func (m *Manager) abortLocked(t *transfer) {
	t.info.Status = Aborted
	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}
	if t.partPath != "" {
		_ = os.Remove(t.partPath)
		t.partPath = ""
	}
}
