// Package kafka consumes query submissions from a topic, analyzes them and
// stores the resulting reports.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	kafkago "github.com/segmentio/kafka-go"
)

// MessageReader abstracts the kafka reader for testability.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ReportInserter abstracts the store dependency for testability.
type ReportInserter interface {
	InsertReports(ctx context.Context, recs []*model.StoredReport) error
}

// Config selects the topic and batching behavior.
type Config struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

func newReader(cfg Config) *kafkago.Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10 MB
	})
}

// decodeSubmission unmarshals a message value. A message without a query is
// rejected here so it is committed as a poison pill rather than analyzed.
func decodeSubmission(msg kafkago.Message) (*model.Submission, error) {
	var sub model.Submission
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		return nil, err
	}
	if sub.Query == "" {
		return nil, fmt.Errorf("submission at offset %d has no query", msg.Offset)
	}
	if sub.ID == "" && len(msg.Key) > 0 {
		sub.ID = string(msg.Key)
	}
	return &sub, nil
}
