// Package signals dispatches this program's two terminating signals
// (SIGINT, SIGTERM) to a caller-supplied shutdown action. Adapted from
// gone/signals' signal-to-action mapping, trimmed from that package's
// generic N-signal reflect.Select dispatcher down to a single shared
// channel: this program only ever maps the two signals that request
// an orderly shutdown, so the one-buffered-channel-per-signal fairness
// gone/signals buys for an arbitrary signal set isn't needed here.
package signals

import (
	"os"
	"os/signal"
)

// Action is a function called when an OS signal is received.
type Action func()

// Mappings map OS signals to functions.
type Mappings map[os.Signal]Action

func signalHandler(mappings Mappings) {
	sigs := make([]os.Signal, 0, len(mappings))
	for sig := range mappings {
		sigs = append(sigs, sig)
	}

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	for sig := range ch {
		if action, ok := mappings[sig]; ok {
			action()
		}
	}
}

// RunSignalHandler spawns a goroutine that calls the provided Actions
// when receiving the corresponding signals.
func RunSignalHandler(m Mappings) {
	go signalHandler(m)
}
