package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/lanchat/internal/ipc"
)

var errTransferFailed = errors.New("transfer failed")

// followTransfer sends path over c and shows progress from the event stream
// on w until every recipient has finished.
func followTransfer(cmd *cobra.Command, c, w *ipc.Client, path string) error {
	expected := len(toPeers)
	if expected == 0 {
		resp, err := c.Do(ipc.Request{Op: ipc.OpPeers})
		if err != nil {
			return err
		}
		for _, p := range resp.Peers {
			if p.Status == "online" {
				expected++
			}
		}
		if expected == 0 {
			return errors.New("no peers online")
		}
	}

	if err := w.Subscribe(); err != nil {
		return err
	}
	if _, err := c.Do(ipc.Request{Op: ipc.OpSendFile, Path: path, To: toPeers}); err != nil {
		return err
	}

	name := filepath.Base(path)
	p := newPrinter(cmd.OutOrStdout())
	finished, failed := 0, 0
	done := errors.New("done")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	err := w.Events(ctx, func(ev ipc.EventView) error {
		if ev.Transfer.Name != name || ev.Transfer.Direction != "sending" {
			return nil
		}
		p.event(ev)
		switch ev.Kind {
		case "transfer_complete":
			finished++
		case "transfer_failed":
			finished++
			failed++
		}
		if finished >= expected {
			return done
		}
		return nil
	})
	if err != nil && !errors.Is(err, done) {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w for %d of %d peers", errTransferFailed, failed, expected)
	}
	return nil
}
