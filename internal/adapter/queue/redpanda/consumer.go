package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// AnalysisHandler executes one analysis run. The usecase layer implements
// it; an error return hands the run to the retry manager.
type AnalysisHandler interface {
	HandleAnalysis(ctx domain.Context, payload domain.AnalyzeTaskPayload) error
}

// Consumer reads analysis runs from the topic and dispatches them to a
// dynamic worker pool. Offsets are committed only for records that were
// actually handled; redelivery of a failed run happens through the retry
// manager, not by replaying offsets.
type Consumer struct {
	client  *kgo.Client
	handler AnalysisHandler

	retryManager *RetryManager

	groupID string
	topic   string

	minWorkers    int
	maxWorkers    int
	activeWorkers int
	workerMu      sync.RWMutex
	jobQueue      chan *kgo.Record

	poller    *AdaptivePoller
	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewConsumer constructs a Consumer with the default worker pool bounds.
func NewConsumer(brokers []string, groupID string, handler AnalysisHandler) (*Consumer, error) {
	return NewConsumerWithConfig(brokers, groupID, handler, 2, 8)
}

// NewConsumerWithConfig constructs a Consumer with custom pool bounds.
func NewConsumerWithConfig(brokers []string, groupID string, handler AnalysisHandler, minWorkers, maxWorkers int) (*Consumer, error) {
	return NewConsumerWithTopic(brokers, groupID, handler, minWorkers, maxWorkers, TopicAnalyses)
}

// NewConsumerWithTopic constructs a Consumer reading a specific topic.
// Tests use unique topics for isolation.
func NewConsumerWithTopic(brokers []string, groupID string, handler AnalysisHandler, minWorkers, maxWorkers int, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if handler == nil {
		return nil, fmt.Errorf("nil analysis handler")
	}
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	ctx := context.Background()
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	if err := createTopicIfNotExists(ctx, tempClient, topic, analysisTopicPartitions, 1); err != nil {
		slog.Warn("ensure consumer topic", slog.String("topic", topic), slog.Any("error", err))
	}
	tempClient.Close()

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		// Only committed producer transactions become visible, so a run is
		// never picked up before its enqueue transaction finished.
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.RequestTimeoutOverhead(5 * time.Second),
		kgo.RetryTimeout(30 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),

		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(5 * time.Second),
		kgo.FetchMinBytes(512),
		kgo.FetchMaxPartitionBytes(2 * 1024 * 1024),

		// Marked records commit once their handler returned. Unmarked
		// records replay after a crash, which the idempotent handler and
		// insert-on-conflict ranking writes absorb.
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	slog.Info("redpanda consumer created",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic),
		slog.Int("min_workers", minWorkers),
		slog.Int("max_workers", maxWorkers))
	return &Consumer{
		client:        client,
		handler:       handler,
		groupID:       groupID,
		topic:         topic,
		minWorkers:    minWorkers,
		maxWorkers:    maxWorkers,
		activeWorkers: minWorkers,
		jobQueue:      make(chan *kgo.Record, maxWorkers*2),
		poller:        NewAdaptivePoller(100 * time.Millisecond),
		shutdown:      make(chan struct{}),
	}, nil
}

// WithRetryManager attaches a RetryManager. Without one the consumer logs
// failures and leaves redelivery to the stuck-run janitor.
func (c *Consumer) WithRetryManager(rm *RetryManager) *Consumer {
	c.retryManager = rm
	return c
}

// Start runs the fetch loop and worker pool until the context is done.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("starting redpanda consumer",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("min_workers", c.minWorkers),
		slog.Int("max_workers", c.maxWorkers))

	for i := 0; i < c.minWorkers; i++ {
		go c.worker(ctx, i)
	}
	go c.fetchLoop(ctx)
	go c.poolManager(ctx)

	<-ctx.Done()
	c.closeOnce.Do(func() { close(c.shutdown) })
	return ctx.Err()
}

// poolManager periodically rescales the worker pool against queue depth.
func (c *Consumer) poolManager(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.scaleWorkers(ctx)
		}
	}
}

// scaleWorkers grows the pool while records queue up and lets excess
// workers drain off once the queue empties.
func (c *Consumer) scaleWorkers(ctx context.Context) {
	queueLen := len(c.jobQueue)
	active := c.getActiveWorkers()

	if queueLen > 0 && active < c.maxWorkers {
		toAdd := min(queueLen, c.maxWorkers-active)
		for i := 0; i < toAdd; i++ {
			if c.getActiveWorkers() >= c.maxWorkers {
				break
			}
			c.incrementActiveWorkers()
			go c.worker(ctx, c.getActiveWorkers())
		}
		slog.Info("scaled up workers",
			slog.Int("added", toAdd),
			slog.Int("queue_length", queueLen),
			slog.Int("active", c.getActiveWorkers()))
	}

	if active > c.minWorkers && (queueLen == 0 || active > queueLen) {
		toRemove := active - c.minWorkers
		if queueLen > 0 && active > queueLen {
			toRemove = min(toRemove, active-queueLen)
		}
		// Workers observe the lowered target after their current record
		// and exit on their own.
		for i := 0; i < toRemove; i++ {
			if c.getActiveWorkers() > c.minWorkers {
				c.decrementActiveWorkers()
			}
		}
	}
}

// fetchLoop polls the broker and feeds the worker queue, pacing idle polls
// with the adaptive poller.
func (c *Consumer) fetchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			fatal := false
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					fatal = true
					continue
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			if fatal {
				return
			}
			c.poller.RecordFailure()
			c.sleep(ctx, c.poller.NextInterval())
			continue
		}

		c.poller.RecordSuccess()
		if fetches.NumRecords() == 0 {
			c.sleep(ctx, c.poller.NextInterval())
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.jobQueue <- record:
			default:
				// Queue full: handle inline rather than stall the fetch
				// loop and with it the group heartbeat path.
				go c.handleRecord(ctx, record)
			}
		})
	}
}

// sleep waits for d or until the consumer stops.
func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-c.shutdown:
	case <-timer.C:
	}
}

// worker drains the record queue until shutdown or scale-down.
func (c *Consumer) worker(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case record := <-c.jobQueue:
			if record == nil {
				return
			}
			c.handleRecord(ctx, record)

			active := c.getActiveWorkers()
			queueLen := len(c.jobQueue)
			if active > c.minWorkers && (queueLen == 0 || active > queueLen) {
				slog.Debug("worker exiting on scale down",
					slog.Int("worker_id", workerID),
					slog.Int("active", active),
					slog.Int("queue_length", queueLen))
				return
			}
		}
	}
}

// handleRecord processes one record and marks its offset. Marking happens
// even on failure: redelivery is the retry manager's explicit requeue, not
// an offset replay that would loop a poison record forever.
func (c *Consumer) handleRecord(ctx context.Context, record *kgo.Record) {
	if err := c.processRecord(ctx, record); err != nil {
		slog.Error("process record",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
			slog.Int("partition", int(record.Partition)),
			slog.Any("error", err))
	}
	if c.client != nil {
		c.client.MarkCommitRecords(record)
	}
}

// processRecord decodes and executes one analysis run.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "queue.ProcessAnalysis")
	defer span.End()

	var payload domain.AnalyzeTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	lg := slog.With(
		slog.String("analysis_id", payload.AnalysisID),
		slog.String("job_id", payload.JobID),
		slog.String("method", payload.Method))
	lg.Info("processing analysis run")

	if err := c.handler.HandleAnalysis(ctx, payload); err != nil {
		lg.Error("analysis run failed", slog.Any("error", err))
		if c.retryManager != nil {
			if rErr := c.retryManager.HandleFailure(ctx, payload, err); rErr != nil {
				lg.Error("failure routing", slog.Any("error", rErr))
			}
		}
		return err
	}

	lg.Info("analysis run completed")
	return nil
}

// Close stops the consumer and releases the client.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// Stats exposes the adaptive poller counters for the debug endpoints.
func (c *Consumer) Stats() PollerStats {
	return c.poller.Stats()
}

func (c *Consumer) getActiveWorkers() int {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	return c.activeWorkers
}

func (c *Consumer) incrementActiveWorkers() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	c.activeWorkers++
}

func (c *Consumer) decrementActiveWorkers() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.activeWorkers > 0 {
		c.activeWorkers--
	}
}
