package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/lanchat/internal/daemon"
	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
	"github.com/rudransh-shrivastava/lanchat/internal/node"
)

const chatHelp = `commands:
  <text>                    send to everyone online
  /msg <peer> <text>        send a private message
  /file <path> [peer...]    send a file
  /peers                    list peers
  /history [peer]           show recent messages
  /help                     show this help
  /quit                     leave`

var errUsage = errors.New("usage")

type lineKind int

const (
	lineNone lineKind = iota
	lineBroadcast
	linePrivate
	lineFile
	linePeers
	lineHistory
	lineHelp
	lineQuit
)

type chatLine struct {
	kind lineKind
	text string
	path string
	to   []string
}

// parseLine turns one line of input into a chat action.
func parseLine(line string) (chatLine, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return chatLine{kind: lineNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return chatLine{kind: lineBroadcast, text: line}, nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/msg", "/m":
		to, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if to == "" || text == "" {
			return chatLine{}, fmt.Errorf("%w: /msg <peer> <text>", errUsage)
		}
		return chatLine{kind: linePrivate, text: text, to: []string{to}}, nil
	case "/file", "/f":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return chatLine{}, fmt.Errorf("%w: /file <path> [peer...]", errUsage)
		}
		return chatLine{kind: lineFile, path: fields[0], to: fields[1:]}, nil
	case "/peers", "/p":
		return chatLine{kind: linePeers}, nil
	case "/history", "/h":
		l := chatLine{kind: lineHistory}
		if rest != "" {
			l.to = []string{rest}
		}
		return l, nil
	case "/help", "/?":
		return chatLine{kind: lineHelp}, nil
	case "/quit", "/q", "/exit":
		return chatLine{kind: lineQuit}, nil
	default:
		return chatLine{}, fmt.Errorf("unknown command %s, try /help", name)
	}
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "join the local chat interactively",
	Long:  `runs a node in the foreground and reads messages and commands from standard input`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		p := newPrinter(cmd.OutOrStdout())
		d, err := daemon.New(daemon.Options{
			Config:  cfg,
			Logger:  log,
			Serve:   true,
			OnEvent: func(ev node.Event) { p.event(ipc.EventFrom(ev)) },
		})
		if err != nil {
			return err
		}

		runErr := make(chan error, 1)
		go func() { runErr <- d.Run(ctx) }()

		p.linef("lanchat: you are %s, /help lists commands", cfg.DisplayName)
		go func() {
			readChat(ctx, cmd.InOrStdin(), d, p)
			cancel()
		}()
		return <-runErr
	},
}

func readChat(ctx context.Context, in io.Reader, d *daemon.Daemon, p *printer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		l, err := parseLine(scanner.Text())
		if err != nil {
			p.linef("%s", err)
			continue
		}
		if l.kind == lineQuit {
			return
		}
		if err := runLine(ctx, d, p, l); err != nil {
			p.linef("! %s", err)
		}
	}
}

func runLine(ctx context.Context, d *daemon.Daemon, p *printer, l chatLine) error {
	switch l.kind {
	case lineBroadcast, linePrivate:
		return d.SendText(ctx, l.text, l.to)
	case lineFile:
		return d.SendFile(ctx, l.path, l.to)
	case linePeers:
		peers, err := d.Peers(ctx)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			p.linef("no peers yet")
		}
		for _, peer := range peers {
			p.linef("  %s (%s) %s", peer.Name, peer.Addr, peer.Status)
		}
	case lineHistory:
		peerID := ""
		if len(l.to) == 1 {
			peerID = l.to[0]
		}
		msgs, err := d.History(ctx, peerID, historyLimit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			p.linef("%s", formatMessage(m))
		}
	case lineHelp:
		p.linef("%s", chatHelp)
	}
	return nil
}
