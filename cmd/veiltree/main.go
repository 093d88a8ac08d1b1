// Command veiltree builds a privacy-preserving spatial-keyword index
// from a bulk-load file and answers top-k queries against it. The
// encrypted buckets live in the configured backend; this process plays
// the trusted region.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	istore "github.com/veiltree/veiltree/internal/store"

	"github.com/veiltree/veiltree/internal/hostrpc"
	"github.com/veiltree/veiltree/internal/ingest"
	"github.com/veiltree/veiltree/pkg/config"
	"github.com/veiltree/veiltree/pkg/encrypt"
	"github.com/veiltree/veiltree/pkg/geo"
	"github.com/veiltree/veiltree/pkg/irtree"
	"github.com/veiltree/veiltree/pkg/metrics"
	"github.com/veiltree/veiltree/pkg/oram"
	"github.com/veiltree/veiltree/pkg/store"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration")
	dataPath   = flag.String("data", "", "Bulk-load file (text|lon|lat per line)")
	keywords   = flag.String("keywords", "", "Query keywords (whitespace or comma separated)")
	rect       = flag.String("rect", "", "Query scope as min_x,min_y,max_x,max_y")
	topK       = flag.Int("k", 0, "Result count (default from config)")
	alpha      = flag.Float64("alpha", -1, "Text/spatial weight in [0,1] (default from config)")
	runIngest  = flag.Bool("ingest", false, "Consume documents from Kafka after the bulk load")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := m.Serve(addr); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	host, err := openBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open bucket store: %v", err)
	}
	defer host.Close()

	key, err := masterKey(cfg.Crypto)
	if err != nil {
		log.Fatalf("Failed to obtain master key: %v", err)
	}
	aead, err := encrypt.NewAESGCM(key)
	if err != nil {
		log.Fatalf("Failed to create cipher: %v", err)
	}

	src, err := randomSource(cfg.Oram)
	if err != nil {
		log.Fatalf("Failed to create random source: %v", err)
	}

	ring, err := oram.New(ctx, oram.Config{
		Capacity:    cfg.Oram.Capacity,
		RealSlots:   cfg.Oram.RealSlots,
		DummySlots:  cfg.Oram.DummySlots,
		EvictRound:  cfg.Oram.EvictRound,
		CacheLevels: cfg.Oram.CacheLevels,
		BlobSize:    cfg.Oram.BlobSize,
		Metrics:     m,
	}, host, aead, src)
	if err != nil {
		log.Fatalf("Failed to initialize ORAM: %v", err)
	}

	opts := []irtree.Option{}
	if m != nil {
		opts = append(opts, irtree.WithMetrics(m))
	}
	tree, err := irtree.New(ctx, istore.New(ring),
		cfg.Tree.Dimensions, cfg.Tree.MinCapacity, cfg.Tree.MaxCapacity, opts...)
	if err != nil {
		log.Fatalf("Failed to create tree: %v", err)
	}

	if *dataPath != "" {
		if err := tree.BulkInsertFromFile(ctx, *dataPath); err != nil {
			log.Fatalf("Bulk load failed: %v", err)
		}
		fmt.Printf("Bulk load complete (key fingerprint %s)\n", aead.KeyFingerprint())
	}

	if *runIngest {
		consumer := ingest.New(cfg.Kafka, tree)
		defer consumer.Close()
		if err := consumer.Run(ctx); err != nil {
			log.Fatalf("Ingest failed: %v", err)
		}
		if err := tree.Reseal(ctx); err != nil {
			log.Fatalf("Reseal after ingest failed: %v", err)
		}
	}

	if *keywords == "" {
		return
	}

	query, err := buildQuery(cfg.Tree)
	if err != nil {
		log.Fatalf("Invalid query: %v", err)
	}

	results, err := tree.Search(ctx, query)
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	fmt.Printf("%d result(s); %d oblivious blocks accessed\n", len(results), tree.SearchBlocks())
	for i, r := range results {
		fmt.Printf("%2d. doc %d  score %.6f\n", i+1, r.DocID, r.Score)
	}
}

func buildQuery(tc config.TreeConfig) (irtree.Query, error) {
	kws := irtree.ParseKeywords(*keywords)
	if len(kws) == 0 {
		return irtree.Query{}, fmt.Errorf("no usable keywords in %q", *keywords)
	}

	parts := strings.Split(*rect, ",")
	if len(parts) != 4 {
		return irtree.Query{}, fmt.Errorf("rect must be min_x,min_y,max_x,max_y")
	}
	coords := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return irtree.Query{}, fmt.Errorf("bad coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	k := tc.TopK
	if *topK > 0 {
		k = *topK
	}
	a := tc.Alpha
	if *alpha >= 0 {
		a = *alpha
	}

	return irtree.Query{
		Keywords: kws,
		Scope:    geo.New(coords[:2], coords[2:]),
		K:        k,
		Alpha:    a,
	}, nil
}

func masterKey(cc config.CryptoConfig) ([]byte, error) {
	if cc.Passphrase != "" {
		key, _, err := encrypt.DeriveKeyWithSalt(cc.Passphrase)
		return key, err
	}
	return encrypt.GenerateKey()
}

func randomSource(oc config.OramConfig) (*oram.Source, error) {
	if oc.Seed != "" {
		return oram.NewSeededSource([]byte(oc.Seed))
	}
	return oram.NewSource()
}

func openBackend(sc config.StorageConfig) (store.BucketStore, error) {
	switch sc.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
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
	case "grpc":
		return hostrpc.Dial(sc.HostAddr)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
