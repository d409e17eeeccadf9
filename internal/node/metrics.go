package node

import "github.com/uber-go/tally/v4"

type metrics struct {
	scope tally.Scope

	datagramsIn      tally.Counter
	datagramsOut     tally.Counter
	duplicates       tally.Counter
	retransmits      tally.Counter
	deliveryFailures tally.Counter
	transferFailures tally.Counter
	sendErrors       tally.Counter
	peersOnline      tally.Gauge
}

func newMetrics(scope tally.Scope) *metrics {
	return &metrics{
		scope:            scope,
		datagramsIn:      scope.Counter("datagrams_in"),
		datagramsOut:     scope.Counter("datagrams_out"),
		duplicates:       scope.Counter("duplicates"),
		retransmits:      scope.Counter("retransmits"),
		deliveryFailures: scope.Counter("delivery_failures"),
		transferFailures: scope.Counter("transfer_failures"),
		sendErrors:       scope.Counter("send_errors"),
		peersOnline:      scope.Gauge("peers_online"),
	}
}

func (m *metrics) decodeError(reason string) {
	m.scope.Tagged(map[string]string{"reason": reason}).Counter("decode_errors").Inc(1)
}
