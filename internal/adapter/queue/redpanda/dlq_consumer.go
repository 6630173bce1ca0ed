package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DLQConsumer drains the dead letter topic and hands each message to the
// retry manager, which enforces the cooldown before requeueing.
type DLQConsumer struct {
	client       *kgo.Client
	retryManager *RetryManager
	groupID      string
	shutdown     chan struct{}
	closeOnce    sync.Once
}

// NewDLQConsumer creates a DLQ consumer.
func NewDLQConsumer(brokers []string, groupID string, retryManager *RetryManager) (*DLQConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if retryManager == nil {
		return nil, fmt.Errorf("nil retry manager")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicAnalysesDLQ),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),

		kgo.FetchMaxBytes(1048576),
		kgo.FetchMaxWait(2 * time.Second),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxPartitionBytes(1048576),

		kgo.DialTimeout(10 * time.Second),
		kgo.RequestTimeoutOverhead(5 * time.Second),
		kgo.RetryTimeout(30 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("dlq consumer client: %w", err)
	}

	slog.Info("dlq consumer created", slog.Any("brokers", brokers), slog.String("group_id", groupID))
	return &DLQConsumer{
		client:       client,
		retryManager: retryManager,
		groupID:      groupID,
		shutdown:     make(chan struct{}),
	}, nil
}

// Start begins draining the dead letter topic in the background.
func (dc *DLQConsumer) Start(ctx context.Context) error {
	slog.Info("starting dlq consumer", slog.String("group_id", dc.groupID), slog.String("topic", TopicAnalysesDLQ))
	go dc.loop(ctx)
	return nil
}

// Stop stops the consumer and releases the client.
func (dc *DLQConsumer) Stop() {
	dc.closeOnce.Do(func() { close(dc.shutdown) })
	dc.client.Close()
}

func (dc *DLQConsumer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-dc.shutdown:
			return
		default:
		}

		fetches := dc.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("dlq fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			time.Sleep(2 * time.Second)
			continue
		}

		if fetches.NumRecords() == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			dc.processDLQRecord(ctx, record)
		})
	}
}

// processDLQRecord decodes one dead letter record and routes it. Malformed
// records are logged and skipped; replaying them cannot make them parse.
func (dc *DLQConsumer) processDLQRecord(ctx context.Context, record *kgo.Record) {
	var msg DLQMessage
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		slog.Error("unmarshal dlq message",
			slog.String("key", string(record.Key)),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return
	}

	if err := dc.retryManager.ProcessDLQ(ctx, msg); err != nil {
		slog.Error("process dlq message",
			slog.String("analysis_id", msg.AnalysisID),
			slog.String("failure_code", msg.FailureCode),
			slog.Any("error", err))
		return
	}
}
