// Command bucket-host runs the untrusted side of the protocol: a gRPC
// server holding encrypted bucket blobs and answering read_bucket /
// write_bucket requests. It sees only ciphertext and the public access
// trace.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"

	"github.com/veiltree/veiltree/internal/hostrpc"
	"github.com/veiltree/veiltree/pkg/config"
	"github.com/veiltree/veiltree/pkg/store"
)

var (
	addr       = flag.String("addr", ":9090", "Listen address")
	configPath = flag.String("config", "", "Path to YAML configuration")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	backing, err := openBacking(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open backing store: %v", err)
	}
	defer backing.Close()

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *addr, err)
	}

	srv := grpc.NewServer()
	hostrpc.Register(srv, hostrpc.NewServer(backing))

	log.Printf("Bucket host listening on %s (backing: %s)", *addr, backingName(cfg.Storage))
	if err := srv.Serve(lis); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

// openBacking picks the local store the host keeps its buckets in. The
// "grpc" backend is not valid here; the host IS the gRPC side.
func openBacking(sc config.StorageConfig) (store.BucketStore, error) {
	switch sc.Backend {
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			PoolSize: sc.Redis.PoolSize,
		})
	case "postgres":
		return store.NewPostgresStore(store.PostgresConfig{
			Host:     sc.Postgres.Host,
			Port:     sc.Postgres.Port,
			Database: sc.Postgres.Database,
			User:     sc.Postgres.User,
			Password: sc.Postgres.Password,
			SSLMode:  sc.Postgres.SSLMode,
		})
	default:
		return store.NewMemoryStore(), nil
	}
}

func backingName(sc config.StorageConfig) string {
	switch sc.Backend {
	case "redis", "postgres":
		return sc.Backend
	default:
		return fmt.Sprintf("memory (%s)", "non-persistent")
	}
}
