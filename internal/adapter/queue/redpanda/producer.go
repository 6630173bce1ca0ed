// Package redpanda provides the Redpanda/Kafka queue between the API and
// the scoring worker. Analysis runs are produced transactionally, consumed
// by a worker pool, and routed through a retry manager that requeues
// transient failures and parks exhausted ones on a dead letter topic.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

const (
	// TopicAnalyses carries queued analysis runs to the worker.
	TopicAnalyses = "screener.analyses"
	// TopicAnalysesDLQ holds runs whose retry budget is exhausted or that
	// must cool down after upstream backpressure.
	TopicAnalysesDLQ = "screener.analyses.dlq"
)

// analysisTopicPartitions spreads runs across consumers; one run is one
// record, so partition count only bounds worker-process parallelism.
const analysisTopicPartitions = 8

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	// transactionChan serializes transactions: franz-go permits one open
	// transaction per transactional client.
	transactionChan chan struct{}
}

// NewProducer constructs a Producer with exactly-once semantics.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "screener-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID. Tests use unique IDs to avoid fencing each other.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	ensureTopics(context.Background(), client, analysisTopicPartitions)

	slog.Info("redpanda producer created",
		slog.Any("brokers", brokers),
		slog.String("transactional_id", transactionalID))
	return &Producer{
		client:          client,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// EnqueueAnalysis enqueues an analysis run and returns its ID as task ID.
func (p *Producer) EnqueueAnalysis(ctx domain.Context, payload domain.AnalyzeTaskPayload) (string, error) {
	return p.EnqueueAnalysisToTopic(ctx, payload, TopicAnalyses)
}

// EnqueueAnalysisToTopic enqueues an analysis run on a specific topic.
// Tests use unique topics for isolation.
func (p *Producer) EnqueueAnalysisToTopic(ctx domain.Context, payload domain.AnalyzeTaskPayload, topic string) (string, error) {
	if payload.AnalysisID == "" {
		return "", fmt.Errorf("%w: analysis id required", domain.ErrInvalidArgument)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		// Keyed by analysis ID so redeliveries of one run stay ordered.
		Key:   []byte(payload.AnalysisID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "analysis_id", Value: []byte(payload.AnalysisID)},
			{Key: "job_id", Value: []byte(payload.JobID)},
			{Key: "method", Value: []byte(payload.Method)},
		},
	}
	if err := p.produceInTransaction(ctx, record); err != nil {
		return "", err
	}

	observability.EnqueueAnalysis(payload.Method)
	slog.Info("analysis enqueued",
		slog.String("analysis_id", payload.AnalysisID),
		slog.String("job_id", payload.JobID),
		slog.String("method", payload.Method),
		slog.String("topic", topic))
	return payload.AnalysisID, nil
}

// EnqueueDLQ produces a dead letter record keyed by analysis ID. The value
// is an already-marshaled DLQMessage.
func (p *Producer) EnqueueDLQ(ctx domain.Context, analysisID string, value []byte) error {
	if analysisID == "" {
		return fmt.Errorf("%w: analysis id required", domain.ErrInvalidArgument)
	}
	record := &kgo.Record{
		Topic: TopicAnalysesDLQ,
		Key:   []byte(analysisID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "analysis_id", Value: []byte(analysisID)},
		},
	}
	if err := p.produceInTransaction(ctx, record); err != nil {
		return err
	}
	slog.Info("analysis moved to dlq topic", slog.String("analysis_id", analysisID))
	return nil
}

// produceInTransaction produces one record inside its own transaction so a
// consumer reading committed data never observes a half-published run.
func (p *Producer) produceInTransaction(ctx domain.Context, record *kgo.Record) error {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// Ping verifies broker connectivity; used by readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("producer not connected")
	}
	return p.client.Ping(ctx)
}
