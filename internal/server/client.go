package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/auth"
	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// Client calls a remote gateway. It implements gateway.Service, so a
// consumer can drain a store on another host the same way as a local one.
type Client struct {
	conn *grpc.ClientConn
	key  string
}

var _ gateway.Service = (*Client)(nil)

// Dial creates a client for target (host:port). key is sent as
// x-internal-key on every call when non-empty.
func Dial(target, key string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(16*1024*1024),
		),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("Dial: %w", err)
	}
	return &Client{conn: conn, key: key}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, auth.HeaderInternalKey, c.key)
	}
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp)
}

func (c *Client) GetAllPendingData(ctx context.Context, req *gateway.GetAllPendingDataRequest) (*gateway.GetAllPendingDataResponse, error) {
	out := new(gateway.GetAllPendingDataResponse)
	if err := c.invoke(ctx, "GetAllPendingData", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStorageMetadata(ctx context.Context, req *gateway.GetStorageMetadataRequest) (*gateway.GetStorageMetadataResponse, error) {
	out := new(gateway.GetStorageMetadataResponse)
	if err := c.invoke(ctx, "GetStorageMetadata", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ClearAllPendingData(ctx context.Context, req *gateway.ClearAllPendingDataRequest) (*gateway.ClearAllPendingDataResponse, error) {
	out := new(gateway.ClearAllPendingDataResponse)
	if err := c.invoke(ctx, "ClearAllPendingData", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Acknowledge(ctx context.Context, req *gateway.AcknowledgeRequest) (*gateway.AcknowledgeResponse, error) {
	out := new(gateway.AcknowledgeResponse)
	if err := c.invoke(ctx, "Acknowledge", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports whether the gateway service is serving.
func (c *Client) Health(ctx context.Context) error {
	// The health service speaks protobuf, not the gateway's JSON codec.
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx,
		&healthpb.HealthCheckRequest{Service: ServiceName},
		grpc.CallContentSubtype("proto"),
	)
	if err != nil {
		return fmt.Errorf("Health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("Health: gateway is %s", resp.GetStatus())
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
