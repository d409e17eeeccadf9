package peer

import (
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/lanchat/internal/protocol"
)

// Directory is the set of known peers keyed by network address.
type Directory struct {
	cfg Config

	mu     sync.Mutex
	byAddr map[netip.AddrPort]*Peer
	byID   map[ID]*Peer
}

func NewDirectory(cfg Config) *Directory {
	return &Directory{
		cfg:    cfg,
		byAddr: make(map[netip.AddrPort]*Peer),
		byID:   make(map[ID]*Peer),
	}
}

// OnActivity records a valid datagram from addr. name is empty for variants
// that do not carry one. The returned events are ordered: Joined or Returned
// first, then Renamed. A new instance at a known address is reported as
// Returned with Restarted set, even if the peer never went away.
func (d *Directory) OnActivity(addr netip.AddrPort, instance protocol.SenderID, name string, now time.Time) (Peer, []Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byAddr[addr]
	if !ok {
		p = &Peer{
			ID:        NewID(addr, name),
			Name:      name,
			Addr:      addr,
			Instance:  instance,
			FirstSeen: now,
			LastSeen:  now,
			Status:    Online,
		}
		d.byAddr[addr] = p
		d.byID[p.ID] = p
		return *p, []Event{{Change: Joined, Peer: *p}}
	}

	var events []Event
	restarted := p.Instance != instance
	if restarted {
		p.Instance = instance
		p.Greeted = false
	}
	if now.After(p.LastSeen) {
		p.LastSeen = now
	}
	if p.Status == AwayTimeout || restarted {
		p.Status = Online
		p.Greeted = false
		events = append(events, Event{Change: Returned, Peer: *p, Restarted: restarted})
	}
	if name != "" && name != p.Name {
		old := p.Name
		p.Name = name
		events = append(events, Event{Change: Renamed, Peer: *p, OldName: old})
	}
	return *p, events
}

// Sweep moves silent peers to AwayTimeout and then Departed. Departed peers are
// removed. Events are ordered by last activity, then id.
func (d *Directory) Sweep(now time.Time) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []Event
	for _, p := range d.sortedLocked() {
		silent := now.Sub(p.LastSeen)
		if p.Status == Online && silent >= d.cfg.LivenessTimeout {
			p.Status = AwayTimeout
			events = append(events, Event{Change: Away, Peer: *p})
		}
		if p.Status == AwayTimeout && silent >= d.cfg.DepartedTimeout {
			p.Status = Departed
			d.removeLocked(p)
			events = append(events, Event{Change: Left, Peer: *p})
		}
	}
	return events
}

// Depart removes the peer at addr immediately, as on an Exit message.
func (d *Directory) Depart(addr netip.AddrPort) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byAddr[addr]
	if !ok {
		return Peer{}, false
	}
	p.Status = Departed
	d.removeLocked(p)
	return *p, true
}

// MarkGreeted reports whether the peer still needed a unicast Enter and
// records that it has now been sent one. The flag clears when the peer
// restarts or returns from AwayTimeout.
func (d *Directory) MarkGreeted(addr netip.AddrPort) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byAddr[addr]
	if !ok || p.Greeted {
		return false
	}
	p.Greeted = true
	return true
}

func (d *Directory) Lookup(id ID) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byID[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

func (d *Directory) LookupAddr(addr netip.AddrPort) (Peer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byAddr[addr]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Online returns the peers currently Online, ordered by display name.
func (d *Directory) Online() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Peer
	for _, p := range d.byAddr {
		if p.Status == Online {
			out = append(out, *p)
		}
	}
	sortByName(out)
	return out
}

// All returns every known peer ordered by display name.
func (d *Directory) All() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Peer, 0, len(d.byAddr))
	for _, p := range d.byAddr {
		out = append(out, *p)
	}
	sortByName(out)
	return out
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byAddr)
}

func (d *Directory) removeLocked(p *Peer) {
	delete(d.byAddr, p.Addr)
	delete(d.byID, p.ID)
}

func (d *Directory) sortedLocked() []*Peer {
	out := make([]*Peer, 0, len(d.byAddr))
	for _, p := range d.byAddr {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.Before(out[j].LastSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortByName(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		a, b := peers[i].DisplayName(), peers[j].DisplayName()
		if a != b {
			return a < b
		}
		return peers[i].ID < peers[j].ID
	})
}
