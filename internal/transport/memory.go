package transport

import (
	"context"
	"fmt"
	"sync"

	"replicate/internal/config"
	"replicate/internal/wire"
)

type link struct {
	from, to string
}

// rule limits the messages travelling over one directed link.
type rule struct {
	allowed int // messages let through before dropping; negative drops none
	sent    int
}

// Network is an in-memory network connecting dispatchers by peer ID. A
// response from B to A travels over the B->A link, so a rule on that link
// drops responses as well as requests.
type Network struct {
	mu    sync.Mutex
	nodes map[string]Dispatcher
	rules map[link]*rule
	sent  map[link]int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		nodes: make(map[string]Dispatcher),
		rules: make(map[link]*rule),
		sent:  make(map[link]int),
	}
}

// Register attaches a dispatcher under id.
func (n *Network) Register(id string, d Dispatcher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[id] = d
}

// Transport returns the transport used by the peer with the given id.
func (n *Network) Transport(from string) Transport {
	return &memoryTransport{net: n, from: from}
}

// DropAfter lets count more messages travel from -> to and drops the rest.
func (n *Network) DropAfter(from, to string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[link{from, to}] = &rule{allowed: count}
}

// Disconnect drops every message in both directions between a and b.
func (n *Network) Disconnect(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules[link{a, b}] = &rule{allowed: 0}
	n.rules[link{b, a}] = &rule{allowed: 0}
}

// Reconnect removes the rule on the from -> to link.
func (n *Network) Reconnect(from, to string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rules, link{from, to})
}

// Heal removes every rule.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rules = make(map[link]*rule)
}

// Delivered returns the number of messages delivered from -> to.
func (n *Network) Delivered(from, to string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[link{from, to}]
}

// admit decides whether one message may travel from -> to.
func (n *Network) admit(from, to string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	l := link{from, to}
	if r, ok := n.rules[l]; ok && r.allowed >= 0 {
		if r.sent >= r.allowed {
			return false
		}
		r.sent++
	}
	n.sent[l]++
	return true
}

func (n *Network) lookup(id string) (Dispatcher, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d, ok := n.nodes[id]
	return d, ok
}

type memoryTransport struct {
	net  *Network
	from string
}

func (t *memoryTransport) SendAsync(ctx context.Context, peer config.Peer, env wire.Envelope, done DoneFunc) {
	if !t.net.admit(t.from, peer.ID) {
		done(wire.Envelope{}, fmt.Errorf("%w: %s %s -> %s", ErrMessageDropped, env.Kind, t.from, peer.ID))
		return
	}
	d, ok := t.net.lookup(peer.ID)
	if !ok {
		done(wire.Envelope{}, fmt.Errorf("%w: %s", ErrUnknownPeer, peer.ID))
		return
	}

	go func() {
		resp, err := d.Dispatch(ctx, env)
		if !t.net.admit(peer.ID, t.from) {
			done(wire.Envelope{}, fmt.Errorf("%w: response to %s %s -> %s", ErrMessageDropped, env.Kind, peer.ID, t.from))
			return
		}
		done(resp, err)
	}()
}

func (t *memoryTransport) Send(ctx context.Context, peer config.Peer, env wire.Envelope) (wire.Envelope, error) {
	type result struct {
		resp wire.Envelope
		err  error
	}
	ch := make(chan result, 1)
	t.SendAsync(ctx, peer, env, func(resp wire.Envelope, err error) {
		ch <- result{resp, err}
	})

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	}
}

func (t *memoryTransport) Close() error {
	return nil
}
