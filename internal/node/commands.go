package node

import "github.com/rudransh-shrivastava/lanchat/internal/peer"

// Command is a request from the user interface to the node.
type Command interface {
	command()
}

// Announce broadcasts an Enter so peers learn this node's name.
type Announce struct{}

// SendText sends Text to each peer in To. An empty To sends a public message
// to every online peer.
type SendText struct {
	Text string
	To   []peer.ID
}

// SendFile offers the file at Path to each peer in To, or to every online
// peer when To is empty.
type SendFile struct {
	Path string
	To   []peer.ID
}

// Shutdown broadcasts an Exit and stops the node.
type Shutdown struct{}

func (Announce) command() {}
func (SendText) command() {}
func (SendFile) command() {}
func (Shutdown) command() {}
