package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/op/go-logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"replicate/internal/config"
	"replicate/internal/quorum"
	"replicate/internal/wire"
)

var logger = logging.MustGetLogger("transport")

const (
	serviceName  = "replicate.Replica"
	handleMethod = "/" + serviceName + "/Handle"
)

// GRPC is a Transport over gRPC. It keeps one client connection per peer
// address.
type GRPC struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewGRPC creates a gRPC transport. Without options connections use
// insecure credentials.
func NewGRPC(opts ...grpc.DialOption) *GRPC {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPC{
		conns: make(map[string]*grpc.ClientConn),
		opts:  opts,
	}
}

// conn returns the connection for addr, creating it if needed.
func (g *GRPC) conn(addr string) (*grpc.ClientConn, error) {
	g.mu.RLock()
	conn, exists := g.conns[addr]
	g.mu.RUnlock()

	if exists {
		return conn, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := g.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, g.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	g.conns[addr] = conn
	return conn, nil
}

// Send invokes the Handle method of peer with env.
func (g *GRPC) Send(ctx context.Context, peer config.Peer, env wire.Envelope) (wire.Envelope, error) {
	conn, err := g.conn(peer.Addr)
	if err != nil {
		return wire.Envelope{}, err
	}

	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, handleMethod, wrapperspb.Bytes(env.Marshal()), out); err != nil {
		return wire.Envelope{}, fmt.Errorf("%s to %s: %w", env.Kind, peer.ID, err)
	}

	var resp wire.Envelope
	if err := resp.Unmarshal(out.GetValue()); err != nil {
		return wire.Envelope{}, fmt.Errorf("decode response from %s: %w", peer.ID, err)
	}
	return resp, nil
}

// SendAsync runs Send on its own goroutine.
func (g *GRPC) SendAsync(ctx context.Context, peer config.Peer, env wire.Envelope, done DoneFunc) {
	go func() {
		done(g.Send(ctx, peer, env))
	}()
}

// Close closes all client connections.
func (g *GRPC) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for addr, conn := range g.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	g.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}

// replicaServer is the server side of the Replica service.
type replicaServer interface {
	Handle(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type server struct {
	d Dispatcher
}

// RegisterServer registers d as the Replica service of s.
func RegisterServer(s *grpc.Server, d Dispatcher) {
	s.RegisterService(&serviceDesc, &server{d: d})
}

func (s *server) Handle(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	var env wire.Envelope
	if err := env.Unmarshal(in.GetValue()); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	resp, err := s.d.Dispatch(ctx, env)
	if err != nil {
		code := Code(err)
		if code != codes.Unavailable {
			logger.Warningf("Dispatch of %s from %s failed: %v", env.Kind, env.From, err)
		}
		return nil, status.Error(code, err.Error())
	}
	return wrapperspb.Bytes(resp.Marshal()), nil
}

// Code maps a dispatch error to a gRPC status code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, quorum.ErrQuorumUnreachable), errors.Is(err, ErrMessageDropped):
		return codes.Unavailable
	case errors.Is(err, ErrUnregisteredKind):
		return codes.Unimplemented
	case errors.Is(err, wire.ErrMalformed):
		return codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

func handleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(replicaServer).Handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: handleMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(replicaServer).Handle(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*replicaServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Handle",
			Handler:    handleHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "replicate/replica.proto",
}
