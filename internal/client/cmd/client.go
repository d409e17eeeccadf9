package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
)

const dialTimeout = 3 * time.Second

var (
	toPeers      []string
	historyLimit int
	waitTransfer bool
)

// connect dials the daemon named by the config and flags.
func connect(ctx context.Context) (*ipc.Client, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := ipc.Dial(ctx, cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s (is it running?): %w", cfg.SocketPath, err)
	}
	return c, nil
}

func request(cmd *cobra.Command, req ipc.Request) (ipc.Response, error) {
	c, err := connect(cmd.Context())
	if err != nil {
		return ipc.Response{}, err
	}
	defer c.Close()
	return c.Do(req)
}

var sendCmd = &cobra.Command{
	Use:   "send message...",
	Short: "send a chat message",
	Long:  `send a chat message to the peers named with --to, or to every online peer`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := request(cmd, ipc.Request{Op: ipc.OpSend, Text: strings.Join(args, " "), To: toPeers})
		return err
	},
}

var sendFileCmd = &cobra.Command{
	Use:   "sendfile file-path",
	Short: "send a file",
	Long:  `send a file to the peers named with --to, or to every online peer`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()

		if !waitTransfer {
			_, err := c.Do(ipc.Request{Op: ipc.OpSendFile, Path: args[0], To: toPeers})
			return err
		}

		// Watch on a second connection so no progress is missed.
		w, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()
		return followTransfer(cmd, c, w, args[0])
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "list known peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := request(cmd, ipc.Request{Op: ipc.OpPeers})
		if err != nil {
			return err
		}
		if len(resp.Peers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No peers found yet")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tID\tADDRESS\tSTATUS\tLAST SEEN")
		for _, p := range resp.Peers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.ID, p.Addr, p.Status, ago(p.LastSeen))
		}
		return tw.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [peer]",
	Short: "show chat history",
	Long:  `show the most recent messages, optionally only those exchanged with one peer`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := ipc.Request{Op: ipc.OpHistory, Limit: historyLimit}
		if len(args) == 1 {
			req.PeerID = args[0]
		}
		resp, err := request(cmd, req)
		if err != nil {
			return err
		}
		for _, m := range resp.Messages {
			fmt.Fprintln(cmd.OutOrStdout(), formatMessage(m))
		}
		return nil
	},
}

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "list file transfers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := request(cmd, ipc.Request{Op: ipc.OpTransfers, Limit: historyLimit})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDIRECTION\tSIZE\tPROGRESS\tSTATUS\tPATH")
		for _, t := range resp.Transfers {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d%%\t%s\t%s\n", t.Name, t.Direction, t.Size, t.Percent, t.Status, t.Path)
		}
		return tw.Flush()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "print daemon events as they happen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		p := newPrinter(cmd.OutOrStdout())
		err = c.Watch(ctx, func(ev ipc.EventView) error {
			p.event(ev)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := request(cmd, ipc.Request{Op: ipc.OpShutdown})
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, sendFileCmd} {
		c.Flags().StringSliceVarP(&toPeers, "to", "t", nil, "recipient peer name or id (repeatable)")
	}
	sendFileCmd.Flags().BoolVarP(&waitTransfer, "wait", "w", false, "show progress and wait for the transfer to finish")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 50, "number of entries to show")
	transfersCmd.Flags().IntVarP(&historyLimit, "limit", "l", 50, "number of entries to show")
}
