package mqtt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/har1eyk/led-reading-plugin/internal/ports"
)

// DefaultBusyState is the state the optical-density job publishes while it
// owns the photodiode/ADC path.
const DefaultBusyState = "sampling"

// ODStateTopic returns the conventional state topic of the optical-density
// sampling job for a unit/experiment pair.
func ODStateTopic(prefix, unit, experiment string) string {
	return fmt.Sprintf("%s/%s/%s/od_reading/$state", prefix, unit, experiment)
}

// Gate tracks the OD job's published state and reports whether a burst may
// start. It only ever reads the shared signal. Before any state has been
// seen (OD job not running, no retained message) the gate is clear.
type Gate struct {
	busy     map[string]struct{}
	state    atomic.Value // string
	seen     chan struct{}
	seenOnce sync.Once
}

func NewGate(busyStates []string) *Gate {
	if len(busyStates) == 0 {
		busyStates = []string{DefaultBusyState}
	}
	busy := make(map[string]struct{}, len(busyStates))
	for _, s := range busyStates {
		busy[strings.TrimSpace(s)] = struct{}{}
	}
	return &Gate{busy: busy, seen: make(chan struct{})}
}

// ConnectHandler returns the client's OnConnect hook, which subscribes the
// gate to the OD job's state topic. Subscribing from the connect callback
// reinstates the subscription after every reconnect; a one-shot SUBSCRIBE
// is dropped by the broker when a clean session reconnects, which would
// freeze the gate at its pre-disconnect snapshot.
func (g *Gate) ConnectHandler(topic string, qos byte) paho.OnConnectHandler {
	return func(client paho.Client) {
		token := client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
			g.observe(string(msg.Payload()))
		})
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("od state subscribe %s: %v", topic, err)
		}
	}
}

// AwaitState blocks until the first OD state message arrives or ctx ends,
// and reports whether a state was seen. The broker delivers the retained
// state asynchronously after the subscription is acknowledged, so callers
// wait briefly before the first burst instead of racing a busy OD job.
func (g *Gate) AwaitState(ctx context.Context) bool {
	select {
	case <-g.seen:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *Gate) observe(state string) {
	g.state.Store(strings.TrimSpace(state))
	g.seenOnce.Do(func() { close(g.seen) })
}

// Clear reports whether a burst may start now. The state is read as one
// atomic snapshot.
func (g *Gate) Clear() bool {
	s, _ := g.state.Load().(string)
	_, busy := g.busy[s]
	return !busy
}

var _ ports.Gate = (*Gate)(nil)
