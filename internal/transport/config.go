package transport

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultGroupAddr = "239.255.42.99:4444"
	DefaultBindAddr  = "0.0.0.0:0"

	maxDatagramSize = 64 * 1024
)

type Config struct {
	// GroupAddr is the IPv4 multicast group and well-known port used for discovery.
	GroupAddr string
	// BindAddr is the local address of the unicast socket.
	BindAddr string
	// Interface optionally names the interface to join the group on.
	Interface string
	// ReadTimeout bounds each blocking read so Close returns promptly.
	ReadTimeout time.Duration
	// SendRetries is how many times a transient send error is retried.
	SendRetries int
	QueueSize   int
	Logger      *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		GroupAddr:   DefaultGroupAddr,
		BindAddr:    DefaultBindAddr,
		ReadTimeout: 250 * time.Millisecond,
		SendRetries: 3,
		QueueSize:   512,
	}
}
