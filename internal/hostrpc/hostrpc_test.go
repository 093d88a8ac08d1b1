package hostrpc

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/veiltree/veiltree/pkg/store"
)

func newBufconnClient(t *testing.T) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, NewServer(store.NewMemoryStore()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		t.Fatalf("failed to dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewClient(conn)
}

func TestClient_WriteThenRead(t *testing.T) {
	client := newBufconnClient(t)
	ctx := context.Background()

	blob := bytes.Repeat([]byte{0xC3}, 4096)
	if err := client.WriteBucket(ctx, 12, blob); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := client.ReadBucket(ctx, 12)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("remote round-trip corrupted the blob")
	}
}

func TestClient_ReadMissingBucket(t *testing.T) {
	client := newBufconnClient(t)

	_, err := client.ReadBucket(context.Background(), 99)
	if !errors.Is(err, store.ErrBucketNotFound) {
		t.Errorf("reading a missing bucket: got %v, want ErrBucketNotFound", err)
	}
}

func TestRequestFraming(t *testing.T) {
	pos, err := decodeReadRequest(encodeReadRequest(77))
	if err != nil || pos != 77 {
		t.Errorf("read framing round-trip gave (%d, %v)", pos, err)
	}

	blob := []byte("payload")
	pos, got, err := decodeWriteRequest(encodeWriteRequest(5, blob))
	if err != nil || pos != 5 || !bytes.Equal(got, blob) {
		t.Errorf("write framing round-trip gave (%d, %q, %v)", pos, got, err)
	}

	if _, err := decodeReadRequest([]byte{1, 2}); err == nil {
		t.Error("short read request should be rejected")
	}
	if _, _, err := decodeWriteRequest([]byte{1}); err == nil {
		t.Error("short write request should be rejected")
	}
}
