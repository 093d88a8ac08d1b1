// Package ingest reads document records from Kafka and feeds them into
// the tree's build phase. Records use the bulk-load line format
// "text|lon|lat"; malformed messages are logged and skipped.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/veiltree/veiltree/pkg/config"
	"github.com/veiltree/veiltree/pkg/irtree"
)

// Consumer drives tree inserts from a Kafka topic.
type Consumer struct {
	reader *kafka.Reader
	tree   *irtree.Tree
	log    *slog.Logger
}

// New creates a consumer for the configured topic.
func New(cfg config.KafkaConfig, tree *irtree.Tree) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
		tree: tree,
		log:  slog.Default().With("component", "ingest-consumer"),
	}
}

// Run consumes messages until ctx is cancelled. Each message body is
// one bulk-load record. The caller must Reseal the tree before serving
// queries over the ingested documents.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("ingest consumer starting", "topic", c.reader.Config().Topic)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("reading ingest message: %w", err)
		}

		rec, ok := irtree.ParseRecord(string(msg.Value))
		if !ok {
			c.log.Warn("skipping malformed ingest record",
				"offset", msg.Offset,
				"bytes", len(msg.Value),
			)
			continue
		}

		if err := c.tree.InsertDocument(ctx, rec.Text, rec.MBR()); err != nil {
			return fmt.Errorf("inserting document at offset %d: %w", msg.Offset, err)
		}
		c.log.Debug("document ingested", "offset", msg.Offset)
	}
}

// Close shuts down the Kafka reader.
func (c *Consumer) Close() error { return c.reader.Close() }
