package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"
)

// Source is recorded on every report stored by the consumer.
const Source = "kafka"

// batchItem holds a fetched Kafka message and its decoded submission.
type batchItem struct {
	msg kafkago.Message
	sub *model.Submission
	err error // non-nil if decoding failed (poison pill)
}

// BatchConsumer reads query submissions from Kafka in batches, analyzes them
// and persists the reports.
type BatchConsumer struct {
	reader        MessageReader
	analyzers     *analyzer.Holder
	classes       budget.Classes
	store         ReportInserter
	topic         string
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewBatchConsumer creates a batch consumer with time-bounded fetching.
// Each batch is analyzed with whichever analyzer h holds when the batch starts.
func NewBatchConsumer(
	cfg Config,
	h *analyzer.Holder,
	classes budget.Classes,
	s ReportInserter,
	m *observability.Metrics,
	logger *slog.Logger,
) *BatchConsumer {
	return &BatchConsumer{
		reader:        newReader(cfg),
		analyzers:     h,
		classes:       classes,
		store:         s,
		topic:         cfg.Topic,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
		metrics:       m,
	}
}

// Run consumes messages in batches until the context is cancelled.
func (bc *BatchConsumer) Run(ctx context.Context) error {
	bc.logger.Info("kafka batch consumer started",
		"topic", bc.topic, "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
	bc.metrics.KafkaConsumerRunning.WithLabelValues(bc.topic).Set(1)
	defer bc.metrics.KafkaConsumerRunning.WithLabelValues(bc.topic).Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		items, err := bc.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "fetch_batch").Inc()
			bc.logger.Error("fetch batch", "error", err, "retry_in", backoff)
			if !retry.SleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if len(items) == 0 {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		bc.processBatch(ctx, items)
	}
}

// fetchBatch collects up to batchSize messages or until flushInterval elapses.
func (bc *BatchConsumer) fetchBatch(ctx context.Context) ([]batchItem, error) {
	start := time.Now()
	defer func() {
		bc.metrics.KafkaBatchDuration.WithLabelValues(bc.topic, "fetch").Observe(time.Since(start).Seconds())
	}()

	items := make([]batchItem, 0, bc.batchSize)
	deadline := time.Now().Add(bc.flushInterval)

	for len(items) < bc.batchSize {
		timeout := time.Until(deadline)
		if timeout <= 0 {
			break
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		msg, err := bc.reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if fetchCtx.Err() == context.DeadlineExceeded {
				// Flush interval expired: return the partial batch.
				break
			}
			return nil, err
		}

		sub, decodeErr := decodeSubmission(msg)
		items = append(items, batchItem{msg: msg, sub: sub, err: decodeErr})
	}

	bc.metrics.KafkaBatchSize.WithLabelValues(bc.topic).Observe(float64(len(items)))
	return items, nil
}

// processBatch analyzes valid submissions, stores their reports and commits
// all offsets. Undecodable and unparseable submissions are committed without
// a report; they would fail the same way on redelivery.
func (bc *BatchConsumer) processBatch(ctx context.Context, items []batchItem) {
	start := time.Now()
	defer func() {
		bc.metrics.KafkaBatchDuration.WithLabelValues(bc.topic, "process").Observe(time.Since(start).Seconds())
	}()

	a := bc.analyzers.Load()
	var records []*model.StoredReport
	var validMsgs []kafkago.Message
	var poisonMsgs []kafkago.Message

	for i := range items {
		if items[i].err != nil {
			bc.logger.Error("decode submission", "error", items[i].err, "offset", items[i].msg.Offset)
			bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "unmarshal").Inc()
			poisonMsgs = append(poisonMsgs, items[i].msg)
			continue
		}
		rec, err := a.Submit(items[i].sub, bc.classes)
		if err != nil {
			bc.logger.Warn("reject submission", "error", err, "id", items[i].sub.ID, "offset", items[i].msg.Offset)
			bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "analyze").Inc()
			poisonMsgs = append(poisonMsgs, items[i].msg)
			continue
		}
		rec.Source = Source
		records = append(records, rec)
		validMsgs = append(validMsgs, items[i].msg)
	}

	if len(poisonMsgs) > 0 {
		if err := bc.reader.CommitMessages(ctx, poisonMsgs...); err != nil {
			bc.logger.Error("commit poison pills", "error", err, "count", len(poisonMsgs))
		}
	}

	if len(records) == 0 {
		return
	}

	if err := bc.store.InsertReports(ctx, records); err != nil {
		bc.logger.Error("batch insert reports", "error", err, "count", len(records))
		bc.metrics.KafkaConsumerErrors.WithLabelValues(bc.topic, "batch_insert").Inc()
		return
	}

	if err := bc.reader.CommitMessages(ctx, validMsgs...); err != nil {
		bc.logger.Error("commit batch offsets", "error", err, "count", len(validMsgs))
	}

	bc.metrics.KafkaMessagesConsumed.WithLabelValues(bc.topic).Add(float64(len(records)))
	bc.logger.Debug("consumed batch", "count", len(records))
}

// Close shuts down the underlying Kafka reader.
func (bc *BatchConsumer) Close() error {
	return bc.reader.Close()
}
