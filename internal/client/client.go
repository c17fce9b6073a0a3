// Package client is the client API of a replicate cluster. A client talks
// to one node, which coordinates each request with the rest of the cluster.
package client

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"

	"replicate/internal/command"
	"replicate/internal/config"
	"replicate/internal/replica"
	"replicate/internal/transport"
	"replicate/internal/wire"
)

// ErrRejected is returned when a node refuses a request.
var ErrRejected = errors.New("request rejected")

// Client sends requests to a single node over gRPC.
type Client struct {
	tr   *transport.GRPC
	node config.Peer
}

// New creates a client for the node at addr.
func New(addr string, opts ...grpc.DialOption) *Client {
	return &Client{
		tr:   transport.NewGRPC(opts...),
		node: config.Peer{ID: addr, Addr: addr},
	}
}

// Dispatch implements transport.Dispatcher by forwarding env to the node.
func (c *Client) Dispatch(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	return c.tr.Send(ctx, c.node, env)
}

// SetValue sets key to value and returns the value the key ended up with.
// Under Paxos that is the value chosen for the key, which may be another
// client's.
func (c *Client) SetValue(ctx context.Context, key, value string) (string, error) {
	resp, err := replica.Request[wire.SetValueResponse](ctx, c, wire.KindClientSetValue,
		&wire.SetValueRequest{Key: key, Value: value})
	if err != nil {
		return "", fmt.Errorf("set %s: %w", key, err)
	}
	if resp.Status != wire.StatusSuccess {
		return "", fmt.Errorf("set %s: %w: %s", key, ErrRejected, resp.ErrorMessage)
	}
	return resp.Value, nil
}

// GetValue reads key. found is false when the key has no value.
func (c *Client) GetValue(ctx context.Context, key string) (value string, found bool, err error) {
	resp, err := replica.Request[wire.GetValueResponse](ctx, c, wire.KindClientGetValue,
		&wire.GetValueRequest{Key: key})
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return resp.Value.Value, resp.Found, nil
}

// Execute runs cmd through the two-phase executor.
func (c *Client) Execute(ctx context.Context, cmd command.Command) (*wire.CommitResponse, error) {
	b, err := command.Serialize(cmd)
	if err != nil {
		return nil, err
	}
	resp, err := replica.Request[wire.CommitResponse](ctx, c, wire.KindExecuteCommand, &wire.CommandRequest{Command: b})
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", cmd, err)
	}
	return resp, nil
}

// Close closes the connection to the node.
func (c *Client) Close() error {
	return c.tr.Close()
}
