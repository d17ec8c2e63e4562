package actuators

import (
	"context"
	"sync"

	"github.com/acmis/benchcontroller/internal/sensors"
	"github.com/acmis/benchcontroller/pkg/logger"
)

// DUTDisconnectInterlock watches published sensor snapshots for a DUT
// connected→disconnected transition and force-closes the main inlet valve
// the moment it is observed, satisfying the safety invariant "if a DUT
// disconnect event is observed, then by next snapshot the main inlet valve
// is closed" (§8) and Scenario 3 (SV1 closes same tick, pump stops by the
// following tick since Close already auto-stops the pump when no flow path
// remains open).
type DUTDisconnectInterlock struct {
	valves *Valves
	log    *logger.Logger

	mu           sync.Mutex
	wasConnected bool
	seenFirst    bool
}

// NewDUTDisconnectInterlock constructs the interlock. Register its Observe
// method with the sensor aggregator via Subscribe to activate it.
func NewDUTDisconnectInterlock(valves *Valves, log *logger.Logger) *DUTDisconnectInterlock {
	return &DUTDisconnectInterlock{valves: valves, log: log}
}

// Observe is a sensors.Listener. It force-closes the main inlet valve on
// the first snapshot after DUTConnected drops from true to false, if it
// isn't already closed.
func (i *DUTDisconnectInterlock) Observe(snap sensors.Snapshot) {
	i.mu.Lock()
	wasConnected, seenFirst := i.wasConnected, i.seenFirst
	i.wasConnected = snap.DUTConnected
	i.seenFirst = true
	i.mu.Unlock()

	if !seenFirst || !wasConnected || snap.DUTConnected {
		return
	}
	if !i.valves.State(MainInlet) {
		return
	}

	if i.log != nil {
		i.log.Warn("DUT disconnected mid-run, force-closing main inlet")
	}
	if err := i.valves.Close(context.Background(), MainInlet); err != nil && i.log != nil {
		i.log.WithField("error", err).Warn("failed to close main inlet after DUT disconnect")
	}
}
