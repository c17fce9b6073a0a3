package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/op/go-logging"

	"replicate/internal/config"
	"replicate/internal/quorum"
	"replicate/internal/transport"
	"replicate/internal/wire"
)

var logger = logging.MustGetLogger("replica")

var (
	// ErrUnregisteredKind is returned by Dispatch for a kind with no route.
	ErrUnregisteredKind = transport.ErrUnregisteredKind
	// ErrClosed is returned once the replica has been closed.
	ErrClosed = errors.New("replica closed")
)

// HandlerFunc handles the envelope of a routed request.
type HandlerFunc func(ctx context.Context, env wire.Envelope) (wire.Message, error)

// Route binds a request kind to its handler and response kind.
type Route struct {
	responds wire.Kind
	handle   HandlerFunc
	async    bool
}

// Routes is the static route table of a replica.
type Routes map[wire.Kind]Route

// Handle creates a route whose handler runs on the replica's handler
// goroutine. The request payload is decoded into a new T.
func Handle[T any, PT interface {
	*T
	wire.Message
}](responds wire.Kind, fn func(ctx context.Context, req PT) (wire.Message, error)) Route {
	return Route{
		responds: responds,
		handle: func(ctx context.Context, env wire.Envelope) (wire.Message, error) {
			req := PT(new(T))
			if err := req.Unmarshal(env.Payload); err != nil {
				return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
			}
			return fn(ctx, req)
		},
	}
}

// HandleAsync creates a route whose handler runs on the caller's goroutine,
// so it may wait on other replicas.
func HandleAsync[T any, PT interface {
	*T
	wire.Message
}](responds wire.Kind, fn func(ctx context.Context, req PT) (wire.Message, error)) Route {
	r := Handle[T, PT](responds, fn)
	r.async = true
	return r
}

// Replica is one node's view of the cluster.
type Replica struct {
	cfg       config.Config
	self      config.Peer
	index     int64
	replicas  []config.Peer
	transport transport.Transport
	routes    Routes

	tasks     chan func()
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a replica and starts its handler goroutine. routes is copied;
// the table cannot change afterwards.
func New(cfg config.Config, tr transport.Transport, routes Routes) *Replica {
	table := make(Routes, len(routes))
	for kind, route := range routes {
		if route.handle == nil {
			panic(fmt.Sprintf("replica %s: route for %s has no handler", cfg.NodeID, kind))
		}
		table[kind] = route
	}

	r := &Replica{
		cfg:       cfg,
		self:      config.Peer{ID: cfg.NodeID, Addr: cfg.ListenAddr},
		index:     int64(cfg.Index()),
		replicas:  cfg.Replicas(),
		transport: tr,
		routes:    table,
		tasks:     make(chan func()),
		quit:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Replica) loop() {
	defer r.wg.Done()
	for {
		select {
		case task := <-r.tasks:
			task()
		case <-r.quit:
			return
		}
	}
}

// ID returns the replica's node ID.
func (r *Replica) ID() string {
	return r.self.ID
}

// Index returns the replica's node index, used inside identifiers.
func (r *Replica) Index() int64 {
	return r.index
}

// Replicas returns every replica of the cluster, self included.
func (r *Replica) Replicas() []config.Peer {
	return append([]config.Peer(nil), r.replicas...)
}

// MajoritySize returns the number of replicas forming a quorum.
func (r *Replica) MajoritySize() int {
	return quorum.Majority(len(r.replicas))
}

// Close stops the handler goroutine. Pending and later dispatches fail with
// ErrClosed.
func (r *Replica) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
	r.wg.Wait()
	return nil
}

// Do runs fn on the handler goroutine and waits for it to finish. It gives
// callers a consistent view of state that handlers mutate.
func (r *Replica) Do(ctx context.Context, fn func()) error {
	_, err := r.run(ctx, func() (wire.Message, error) {
		fn()
		return nil, nil
	})
	return err
}

func (r *Replica) run(ctx context.Context, fn func() (wire.Message, error)) (wire.Message, error) {
	type result struct {
		m   wire.Message
		err error
	}
	ch := make(chan result, 1)
	task := func() {
		m, err := fn()
		ch <- result{m, err}
	}

	select {
	case r.tasks <- task:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.quit:
		return nil, ErrClosed
	}

	select {
	case res := <-ch:
		return res.m, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.quit:
		return nil, ErrClosed
	}
}

// Dispatch routes an inbound envelope to its handler and wraps the result
// in an envelope of the route's response kind.
func (r *Replica) Dispatch(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	route, ok := r.routes[env.Kind]
	if !ok {
		logger.Warningf("[%s] Rejecting %s from %s: no route", r.self.ID, env.Kind, env.From)
		return wire.Envelope{}, fmt.Errorf("%w: %s", ErrUnregisteredKind, env.Kind)
	}

	logger.Debugf("[%s] %s from %s", r.self.ID, env.Kind, env.From)

	var (
		resp wire.Message
		err  error
	)
	if route.async {
		resp, err = route.handle(ctx, env)
	} else {
		resp, err = r.run(ctx, func() (wire.Message, error) {
			return route.handle(ctx, env)
		})
	}
	if err != nil {
		return wire.Envelope{}, err
	}
	return wire.NewEnvelope(route.responds, r.self.ID, resp), nil
}

// fanout returns the replicas in the order requests are sent: self first,
// then every other replica in cluster order.
func (r *Replica) fanout() []config.Peer {
	order := make([]config.Peer, 0, len(r.replicas))
	order = append(order, r.self)
	for _, peer := range r.replicas {
		if peer.ID != r.self.ID {
			order = append(order, peer)
		}
	}
	return order
}

// sendCtx bounds one request to one replica. It is detached from the
// caller's cancellation so stragglers still receive writes after a quorum
// has answered.
func (r *Replica) sendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout())
}

// sendAsync delivers env to peer, through the transport or directly for self.
func (r *Replica) sendAsync(ctx context.Context, peer config.Peer, env wire.Envelope, done transport.DoneFunc) {
	if peer.ID == r.self.ID {
		done(r.Dispatch(ctx, env))
		return
	}
	r.transport.SendAsync(ctx, peer, env, done)
}

func decodeResponse[T any, PT interface {
	*T
	wire.Message
}](kind wire.Kind, env wire.Envelope) (PT, error) {
	resp := PT(new(T))
	if err := env.Decode(kind.Response(), resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendToAllPeers sends req to every replica and feeds each response, failure
// or timeout into cb. The local replica is served first, synchronously;
// remote requests are handed to the transport in cluster order.
func SendToAllPeers[T any, PT interface {
	*T
	wire.Message
}](ctx context.Context, r *Replica, cb *quorum.Callback[PT], kind wire.Kind, req wire.Message) {
	env := wire.NewEnvelope(kind, r.self.ID, req)

	for _, peer := range r.fanout() {
		peerID := peer.ID
		sctx, cancel := r.sendCtx(ctx)
		r.sendAsync(sctx, peer, env, func(resp wire.Envelope, err error) {
			defer cancel()
			if err != nil {
				logger.Debugf("[%s] %s to %s failed: %v", r.self.ID, kind, peerID, err)
				cb.OnError(peerID, err)
				return
			}
			decoded, err := decodeResponse[T, PT](kind, resp)
			if err != nil {
				cb.OnError(peerID, err)
				return
			}
			cb.OnResponse(peerID, decoded)
		})
	}
}

// Response pairs a successful response with the replica that sent it.
type Response[PT any] struct {
	Peer     string
	Response PT
}

// BlockingSendToAllPeers sends req to every replica and waits until each has
// answered or timed out. It returns the successful responses, self first,
// then in cluster order.
func BlockingSendToAllPeers[T any, PT interface {
	*T
	wire.Message
}](ctx context.Context, r *Replica, kind wire.Kind, req wire.Message) []Response[PT] {
	env := wire.NewEnvelope(kind, r.self.ID, req)
	order := r.fanout()
	results := make([]PT, len(order))

	var wg sync.WaitGroup
	for i, peer := range order {
		i, peer := i, peer
		wg.Add(1)
		sctx, cancel := r.sendCtx(ctx)
		r.sendAsync(sctx, peer, env, func(resp wire.Envelope, err error) {
			defer wg.Done()
			defer cancel()
			if err != nil {
				logger.Debugf("[%s] %s to %s failed: %v", r.self.ID, kind, peer.ID, err)
				return
			}
			decoded, err := decodeResponse[T, PT](kind, resp)
			if err != nil {
				logger.Warningf("[%s] Bad %s from %s: %v", r.self.ID, kind.Response(), peer.ID, err)
				return
			}
			results[i] = decoded
		})
	}
	wg.Wait()

	out := make([]Response[PT], 0, len(order))
	for i, res := range results {
		if res != nil {
			out = append(out, Response[PT]{Peer: order[i].ID, Response: res})
		}
	}
	return out
}

// SendTo sends req to a single replica and waits for its response.
func SendTo[T any, PT interface {
	*T
	wire.Message
}](ctx context.Context, r *Replica, peerID string, kind wire.Kind, req wire.Message) (PT, error) {
	var peer config.Peer
	found := false
	for _, p := range r.replicas {
		if p.ID == peerID {
			peer, found = p, true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownPeer, peerID)
	}

	sctx, cancel := r.sendCtx(ctx)
	defer cancel()

	env := wire.NewEnvelope(kind, r.self.ID, req)
	var (
		resp wire.Envelope
		err  error
	)
	if peer.ID == r.self.ID {
		resp, err = r.Dispatch(sctx, env)
	} else {
		resp, err = r.transport.Send(sctx, peer, env)
	}
	if err != nil {
		return nil, err
	}
	return decodeResponse[T, PT](kind, resp)
}

// Request sends req to a dispatcher as a client would and decodes the
// response.
func Request[T any, PT interface {
	*T
	wire.Message
}](ctx context.Context, d transport.Dispatcher, kind wire.Kind, req wire.Message) (PT, error) {
	resp, err := d.Dispatch(ctx, wire.NewEnvelope(kind, "client", req))
	if err != nil {
		return nil, err
	}
	return decodeResponse[T, PT](kind, resp)
}
