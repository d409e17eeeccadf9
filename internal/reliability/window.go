package reliability

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

const DefaultWindowSize = 1024

type Verdict int

const (
	Novel Verdict = iota
	Duplicate
)

func (v Verdict) String() string {
	if v == Duplicate {
		return "duplicate"
	}
	return "novel"
}

type senderState struct {
	instance protocol.SenderID
	seen     map[uint32]struct{}
	// floor is the highest sequence pruned from seen. Zero means nothing
	// has been pruned yet.
	floor uint32
	// delivered is the highest sequence handed to the caller through Deliver.
	delivered uint32
}

// Window remembers, per sender address, the most recent sequence numbers
// seen. Entries age out only as newer ones are observed, so gaps in a
// sender's numbering never turn a late message into a duplicate.
type Window struct {
	size uint32

	mu      sync.Mutex
	senders map[netip.AddrPort]*senderState
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{
		size:    uint32(size),
		senders: make(map[netip.AddrPort]*senderState),
	}
}

// Observe classifies seq from the given sender. A new instance at the same
// address starts from a clean state.
func (w *Window) Observe(from netip.AddrPort, instance protocol.SenderID, seq uint32) Verdict {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.stateLocked(from, instance)
	if st.floor > 0 && seq <= st.floor {
		return Duplicate
	}
	if _, ok := st.seen[seq]; ok {
		return Duplicate
	}

	st.seen[seq] = struct{}{}
	if uint32(len(st.seen)) > 2*w.size {
		w.pruneLocked(st)
	}
	return Novel
}

// Deliver records that seq is being handed on and reports whether it arrived
// in order, that is, no later sequence from this sender was delivered before it.
func (w *Window) Deliver(from netip.AddrPort, instance protocol.SenderID, seq uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.stateLocked(from, instance)
	if seq < st.delivered {
		return false
	}
	st.delivered = seq
	return true
}

// Forget drops all state for a sender, as when it departs.
func (w *Window) Forget(from netip.AddrPort) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.senders, from)
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.senders)
}

func (w *Window) stateLocked(from netip.AddrPort, instance protocol.SenderID) *senderState {
	st, ok := w.senders[from]
	if !ok || st.instance != instance {
		st = &senderState{
			instance: instance,
			seen:     make(map[uint32]struct{}),
		}
		w.senders[from] = st
	}
	return st
}

// pruneLocked keeps the newest size entries and raises the floor to the
// highest one dropped.
func (w *Window) pruneLocked(st *senderState) {
	seqs := make([]uint32, 0, len(st.seen))
	for seq := range st.seen {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	drop := seqs[:len(seqs)-int(w.size)]
	for _, seq := range drop {
		delete(st.seen, seq)
	}
	st.floor = max(st.floor, drop[len(drop)-1])
}
