package ipc

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

type Op string

const (
	OpSend      Op = "send"
	OpSendFile  Op = "sendfile"
	OpPeers     Op = "peers"
	OpHistory   Op = "history"
	OpTransfers Op = "transfers"
	OpWatch     Op = "watch"
	OpShutdown  Op = "shutdown"
)

const (
	frameRequest  = "request"
	frameResponse = "response"
	frameEvent    = "event"
)

var ErrUnexpectedFrame = errors.New("unexpected ipc frame")

type Request struct {
	Op     Op
	Text   string
	Path   string
	To     []string
	PeerID string
	Limit  int
}

type Response struct {
	Error     string
	Peers     []PeerView
	Messages  []MessageView
	Transfers []TransferView
}

// Err turns a remote failure back into an error.
func (r Response) Err() error {
	if r.Error == "" {
		return nil
	}
	return errors.New(r.Error)
}

type PeerView struct {
	ID       string
	Name     string
	Addr     string
	Status   string
	LastSeen time.Time
}

type MessageView struct {
	PeerID    string
	PeerName  string
	Direction string
	Text      string
	Status    string
	Seq       uint32
	Public    bool
	At        time.Time
}

type TransferView struct {
	PeerID    string
	Name      string
	Path      string
	Direction string
	Status    string
	Hash      string
	Error     string
	FileID    uint32
	Size      int64
	Done      int
	Total     int
	Percent   int
}

// EventView is a node event flattened for the wire.
type EventView struct {
	Kind       string
	PeerID     string
	PeerName   string
	OldName    string
	Text       string
	Seq        uint32
	Public     bool
	OutOfOrder bool
	Transfer   TransferView
	Error      string
}

type fields map[string]any

func (f fields) str(k string) string {
	s, _ := f[k].(string)
	return s
}

func (f fields) num(k string) float64 {
	n, _ := f[k].(float64)
	return n
}

func (f fields) flag(k string) bool {
	b, _ := f[k].(bool)
	return b
}

func (f fields) list(k string) []any {
	l, _ := f[k].([]any)
	return l
}

func (f fields) object(k string) fields {
	m, _ := f[k].(map[string]any)
	return m
}

func (f fields) time(k string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, f.str(k))
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func (r Request) encode() (*structpb.Struct, error) {
	to := make([]any, len(r.To))
	for i, id := range r.To {
		to[i] = id
	}
	return structpb.NewStruct(map[string]any{
		"frame":   frameRequest,
		"op":      string(r.Op),
		"text":    r.Text,
		"path":    r.Path,
		"to":      to,
		"peer_id": r.PeerID,
		"limit":   r.Limit,
	})
}

func decodeRequest(s *structpb.Struct) (Request, error) {
	f := fields(s.AsMap())
	if f.str("frame") != frameRequest {
		return Request{}, fmt.Errorf("%w: %q", ErrUnexpectedFrame, f.str("frame"))
	}
	req := Request{
		Op:     Op(f.str("op")),
		Text:   f.str("text"),
		Path:   f.str("path"),
		PeerID: f.str("peer_id"),
		Limit:  int(f.num("limit")),
	}
	for _, v := range f.list("to") {
		if id, ok := v.(string); ok {
			req.To = append(req.To, id)
		}
	}
	return req, nil
}

func (r Response) encode() (*structpb.Struct, error) {
	peers := make([]any, len(r.Peers))
	for i, p := range r.Peers {
		peers[i] = map[string]any{
			"id":        p.ID,
			"name":      p.Name,
			"addr":      p.Addr,
			"status":    p.Status,
			"last_seen": formatTime(p.LastSeen),
		}
	}
	messages := make([]any, len(r.Messages))
	for i, m := range r.Messages {
		messages[i] = map[string]any{
			"peer_id":   m.PeerID,
			"peer_name": m.PeerName,
			"direction": m.Direction,
			"text":      m.Text,
			"status":    m.Status,
			"seq":       m.Seq,
			"public":    m.Public,
			"at":        formatTime(m.At),
		}
	}
	transfers := make([]any, len(r.Transfers))
	for i, t := range r.Transfers {
		transfers[i] = t.toMap()
	}
	return structpb.NewStruct(map[string]any{
		"frame":     frameResponse,
		"error":     r.Error,
		"peers":     peers,
		"messages":  messages,
		"transfers": transfers,
	})
}

func decodeResponse(s *structpb.Struct) (Response, error) {
	f := fields(s.AsMap())
	if f.str("frame") != frameResponse {
		return Response{}, fmt.Errorf("%w: %q", ErrUnexpectedFrame, f.str("frame"))
	}
	resp := Response{Error: f.str("error")}
	for _, v := range f.list("peers") {
		p := fields(asMap(v))
		resp.Peers = append(resp.Peers, PeerView{
			ID:       p.str("id"),
			Name:     p.str("name"),
			Addr:     p.str("addr"),
			Status:   p.str("status"),
			LastSeen: p.time("last_seen"),
		})
	}
	for _, v := range f.list("messages") {
		m := fields(asMap(v))
		resp.Messages = append(resp.Messages, MessageView{
			PeerID:    m.str("peer_id"),
			PeerName:  m.str("peer_name"),
			Direction: m.str("direction"),
			Text:      m.str("text"),
			Status:    m.str("status"),
			Seq:       uint32(m.num("seq")),
			Public:    m.flag("public"),
			At:        m.time("at"),
		})
	}
	for _, v := range f.list("transfers") {
		resp.Transfers = append(resp.Transfers, transferFromMap(asMap(v)))
	}
	return resp, nil
}

func (e EventView) encode() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"frame":        frameEvent,
		"kind":         e.Kind,
		"peer_id":      e.PeerID,
		"peer_name":    e.PeerName,
		"old_name":     e.OldName,
		"text":         e.Text,
		"seq":          e.Seq,
		"public":       e.Public,
		"out_of_order": e.OutOfOrder,
		"transfer":     e.Transfer.toMap(),
		"error":        e.Error,
	})
}

func decodeEvent(s *structpb.Struct) (EventView, error) {
	f := fields(s.AsMap())
	if f.str("frame") != frameEvent {
		return EventView{}, fmt.Errorf("%w: %q", ErrUnexpectedFrame, f.str("frame"))
	}
	return EventView{
		Kind:       f.str("kind"),
		PeerID:     f.str("peer_id"),
		PeerName:   f.str("peer_name"),
		OldName:    f.str("old_name"),
		Text:       f.str("text"),
		Seq:        uint32(f.num("seq")),
		Public:     f.flag("public"),
		OutOfOrder: f.flag("out_of_order"),
		Transfer:   transferFromMap(f.object("transfer")),
		Error:      f.str("error"),
	}, nil
}

func (t TransferView) toMap() map[string]any {
	return map[string]any{
		"peer_id":   t.PeerID,
		"name":      t.Name,
		"path":      t.Path,
		"direction": t.Direction,
		"status":    t.Status,
		"hash":      t.Hash,
		"error":     t.Error,
		"file_id":   t.FileID,
		"size":      t.Size,
		"done":      t.Done,
		"total":     t.Total,
		"percent":   t.Percent,
	}
}

func transferFromMap(m map[string]any) TransferView {
	f := fields(m)
	return TransferView{
		PeerID:    f.str("peer_id"),
		Name:      f.str("name"),
		Path:      f.str("path"),
		Direction: f.str("direction"),
		Status:    f.str("status"),
		Hash:      f.str("hash"),
		Error:     f.str("error"),
		FileID:    uint32(f.num("file_id")),
		Size:      int64(f.num("size")),
		Done:      int(f.num("done")),
		Total:     int(f.num("total")),
		Percent:   int(f.num("percent")),
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
