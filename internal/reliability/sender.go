// Package reliability retransmits unacknowledged datagrams and filters
// retransmitted duplicates on the receiving side.
package reliability

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

type Kind uint8

const (
	KindSequence Kind = iota
	KindChunk
)

func (k Kind) String() string {
	if k == KindChunk {
		return "chunk"
	}
	return "sequence"
}

// Key identifies an outstanding send. Dest is the zero value for broadcasts,
// which any peer's acknowledgement settles.
type Key struct {
	Dest   netip.AddrPort
	Kind   Kind
	FileID uint32
	Number uint32
}

// Pending is a tracked send. Meta carries whatever the caller needs back when
// the send settles or fails.
type Pending struct {
	Key       Key
	Datagram  []byte
	Broadcast bool
	FirstSent time.Time
	SentAt    time.Time
	Attempts  int
	Meta      any
}

type Config struct {
	RetryInterval time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
}

func DefaultConfig() Config {
	return Config{
		RetryInterval: 500 * time.Millisecond,
		MaxBackoff:    8 * time.Second,
		MaxAttempts:   5,
	}
}

// Sender owns the table of sends waiting for an acknowledgement.
type Sender struct {
	cfg Config

	mu      sync.Mutex
	pending map[Key]*Pending
}

func NewSender(cfg Config) *Sender {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Sender{
		cfg:     cfg,
		pending: make(map[Key]*Pending),
	}
}

// Submit tracks a datagram the caller has just transmitted once. Submitting an
// existing key replaces it.
func (s *Sender) Submit(key Key, datagram []byte, broadcast bool, meta any, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if broadcast {
		key.Dest = netip.AddrPort{}
	}
	s.pending[key] = &Pending{
		Key:       key,
		Datagram:  datagram,
		Broadcast: broadcast,
		FirstSent: now,
		SentAt:    now,
		Attempts:  1,
		Meta:      meta,
	}
}

// OnAck settles the send acknowledged by from. It reports false for unknown or
// already settled keys.
func (s *Sender) OnAck(from netip.AddrPort, kind Kind, fileID, number uint32) (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []Key{
		{Dest: from, Kind: kind, FileID: fileID, Number: number},
		{Kind: kind, FileID: fileID, Number: number},
	} {
		if p, ok := s.pending[key]; ok {
			delete(s.pending, key)
			return *p, true
		}
	}
	return Pending{}, false
}

// Tick returns the sends due for retransmission and removes those that have
// used up their attempts. Both slices are ordered by first send time.
func (s *Sender) Tick(now time.Time) (resend, failed []Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, p := range s.pending {
		if now.Sub(p.SentAt) < s.Backoff(p.Attempts) {
			continue
		}
		if p.Attempts >= s.cfg.MaxAttempts {
			delete(s.pending, key)
			failed = append(failed, *p)
			continue
		}
		p.Attempts++
		p.SentAt = now
		resend = append(resend, *p)
	}
	sortPending(resend)
	sortPending(failed)
	return resend, failed
}

// Backoff is the wait after the given number of transmissions before the next one.
func (s *Sender) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := s.cfg.RetryInterval
	for i := 1; i < attempts; i++ {
		d *= 2
		if s.cfg.MaxBackoff > 0 && d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	if s.cfg.MaxBackoff > 0 && d > s.cfg.MaxBackoff {
		return s.cfg.MaxBackoff
	}
	return d
}

// Cancel drops every pending send whose key matches and returns how many were dropped.
func (s *Sender) Cancel(match func(Key) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.pending {
		if match(key) {
			delete(s.pending, key)
			n++
		}
	}
	return n
}

func (s *Sender) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

func (s *Sender) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func sortPending(ps []Pending) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].FirstSent.Equal(ps[j].FirstSent) {
			return ps[i].FirstSent.Before(ps[j].FirstSent)
		}
		if ps[i].Key.FileID != ps[j].Key.FileID {
			return ps[i].Key.FileID < ps[j].Key.FileID
		}
		return ps[i].Key.Number < ps[j].Key.Number
	})
}
