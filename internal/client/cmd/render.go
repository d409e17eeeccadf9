package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
)

// describe renders an event as one line of text. Progress events render as
// an empty string since they are shown as bars.
func describe(ev ipc.EventView) string {
	who := ev.PeerName
	switch ev.Kind {
	case "peer_joined":
		return fmt.Sprintf("* %s joined", who)
	case "peer_returned":
		return fmt.Sprintf("* %s is back", who)
	case "peer_renamed":
		return fmt.Sprintf("* %s is now known as %s", ev.OldName, who)
	case "peer_away":
		return fmt.Sprintf("* %s went quiet", who)
	case "peer_left":
		return fmt.Sprintf("* %s left", who)
	case "message_received":
		line := fmt.Sprintf("<%s> %s", who, ev.Text)
		if !ev.Public {
			line = fmt.Sprintf("<%s (private)> %s", who, ev.Text)
		}
		if ev.OutOfOrder {
			line += " (late)"
		}
		return line
	case "message_sent":
		if ev.Public {
			return fmt.Sprintf("-> all: %s", ev.Text)
		}
		return fmt.Sprintf("-> %s: %s", who, ev.Text)
	case "message_delivered":
		return fmt.Sprintf("  delivered to %s", who)
	case "delivery_failed":
		return fmt.Sprintf("! message to %s failed: %s", who, ev.Error)
	case "transfer_started":
		if ev.Transfer.Direction == "receiving" {
			return fmt.Sprintf("* receiving %s (%d bytes) from %s", ev.Transfer.Name, ev.Transfer.Size, who)
		}
		return fmt.Sprintf("* sending %s (%d bytes) to %s", ev.Transfer.Name, ev.Transfer.Size, who)
	case "transfer_progress":
		return ""
	case "transfer_complete":
		if ev.Transfer.Direction == "receiving" {
			return fmt.Sprintf("* received %s from %s, saved to %s", ev.Transfer.Name, who, ev.Transfer.Path)
		}
		return fmt.Sprintf("* %s delivered to %s", ev.Transfer.Name, who)
	case "transfer_failed":
		return fmt.Sprintf("! transfer of %s with %s failed: %s", ev.Transfer.Name, who, ev.Error)
	default:
		return ev.Kind
	}
}

func formatMessage(m ipc.MessageView) string {
	stamp := m.At.Local().Format("2006-01-02 15:04:05")
	if m.Direction == "out" {
		to := m.PeerName
		if m.Public {
			to = "all"
		}
		return fmt.Sprintf("%s -> %s: %s [%s]", stamp, to, m.Text, m.Status)
	}
	return fmt.Sprintf("%s <%s> %s", stamp, m.PeerName, m.Text)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

// printer writes event lines and keeps one progress bar per transfer.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	bars map[string]*progressbar.ProgressBar
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, bars: make(map[string]*progressbar.ProgressBar)}
}

func transferKey(ev ipc.EventView) string {
	return fmt.Sprintf("%s/%s/%d", ev.PeerID, ev.Transfer.Direction, ev.Transfer.FileID)
}

func (p *printer) event(ev ipc.EventView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case "transfer_progress":
		p.bar(ev).Set(ev.Transfer.Done)
		return
	case "transfer_complete":
		if bar, ok := p.bars[transferKey(ev)]; ok {
			bar.Finish()
			delete(p.bars, transferKey(ev))
			fmt.Fprintln(p.out)
		}
	case "transfer_failed":
		if bar, ok := p.bars[transferKey(ev)]; ok {
			bar.Exit()
			delete(p.bars, transferKey(ev))
			fmt.Fprintln(p.out)
		}
	}
	if line := describe(ev); line != "" {
		fmt.Fprintln(p.out, line)
	}
}

func (p *printer) bar(ev ipc.EventView) *progressbar.ProgressBar {
	key := transferKey(ev)
	if bar, ok := p.bars[key]; ok {
		return bar
	}
	verb := "sending"
	if ev.Transfer.Direction == "receiving" {
		verb = "receiving"
	}
	total := ev.Transfer.Total
	if total == 0 {
		total = 1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", verb, ev.Transfer.Name)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
	)
	p.bars[key] = bar
	return bar
}

func (p *printer) linef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
	if !strings.HasSuffix(format, "\n") {
		fmt.Fprintln(p.out)
	}
}
