package hostrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/veiltree/veiltree/pkg/store"
)

// Client is a store.BucketStore backed by a remote bucket host.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a bucket host.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing bucket host %s: %v", store.ErrUnavailable, addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection (used by tests).
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// ReadBucket fetches the blob at position from the remote host.
func (c *Client) ReadBucket(ctx context.Context, position int) ([]byte, error) {
	req := encodeReadRequest(position)
	var resp []byte
	err := c.conn.Invoke(ctx, methodReadBucket, &req, &resp, grpc.ForceCodec(rawCodec{}))
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read_bucket(%d): %v", store.ErrUnavailable, position, err)
	}
	return resp, nil
}

// WriteBucket sends the blob at position to the remote host.
func (c *Client) WriteBucket(ctx context.Context, position int, blob []byte) error {
	req := encodeWriteRequest(position, blob)
	var resp []byte
	err := c.conn.Invoke(ctx, methodWriteBucket, &req, &resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return fmt.Errorf("%w: write_bucket(%d): %v", store.ErrUnavailable, position, err)
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }
