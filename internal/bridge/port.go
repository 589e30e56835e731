package bridge

import (
	"sync"
	"sync/atomic"

	"arena-sync/logging"
)

// Port is one participant's attachment to the bridge. Payloads are opaque
// pre-serialised messages; the bridge never decodes them.
type Port struct {
	id        string
	bridge    *Bridge
	messages  chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

func newPort(b *Bridge, id string, buffer int) *Port {
	return &Port{id: id, bridge: b, messages: make(chan []byte, buffer)}
}

// ID returns the identity the port was registered with.
func (p *Port) ID() string {
	return p.id
}

// Post hands a payload to the bridge for the upstream. It never blocks: a
// payload the bridge cannot accept right now, or one posted after Close, is
// dropped.
func (p *Port) Post(payload []byte) {
	if p == nil || p.bridge == nil || len(payload) == 0 {
		return
	}
	b := p.bridge
	if p.closed.Load() {
		b.dropped.Add(1)
		b.metrics.Add("bridge.dropped", 1)
		return
	}
	select {
	case <-b.done:
		b.dropped.Add(1)
		return
	default:
	}
	select {
	case b.outbound <- outboundMessage{port: p, payload: payload}:
	default:
		b.dropped.Add(1)
		b.metrics.Add("bridge.dropped", 1)
	}
}

// Messages delivers every upstream payload in arrival order. The channel is
// closed when the port is deregistered or the bridge stops.
func (p *Port) Messages() <-chan []byte {
	return p.messages
}

// Close deregisters the port. It does not affect the upstream connection.
func (p *Port) Close() {
	if p == nil || p.bridge == nil {
		return
	}
	p.closed.Store(true)
	p.closeOnce.Do(func() {
		select {
		case p.bridge.unregister <- p:
		case <-p.bridge.done:
		}
	})
}

func (p *Port) ref() logging.EntityRef {
	return logging.EntityRef{ID: p.id, Kind: logging.EntityKindSession}
}
