package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// PubSubConfig identifies the job topic and the pull subscription the
// dispatcher consumes from.
type PubSubConfig struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// PubSubQueue implements crawler.Queue on Google Cloud Pub/Sub. Enqueue
// publishes jobs to the topic and waits for the server ack, so a submit
// failure surfaces to the caller instead of vanishing into a batch.
// Dequeue hands over messages from a background receive loop; a message
// is acked at handoff, after which job state lives in the job store
// rather than in redelivery.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc

	items   chan crawler.QueueItem
	done    chan struct{}
	recvErr error
}

// NewPubSubQueue creates a Pub/Sub client using Application Default
// Credentials and verifies that the topic and subscription exist.
func NewPubSubQueue(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSubQueue, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub queue requires a project id")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	queue, err := NewPubSubQueueWithClient(ctx, client, cfg, logger)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil && logger != nil {
			logger.Warn("close pubsub client after setup failure", zap.Error(closeErr))
		}
		return nil, err
	}
	return queue, nil
}

// NewPubSubQueueWithClient wires an existing client, mainly for tests
// against a fake server.
func NewPubSubQueueWithClient(
	ctx context.Context,
	client *pubsub.Client,
	cfg PubSubConfig,
	logger *zap.Logger,
) (*PubSubQueue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if cfg.TopicID == "" || cfg.SubscriptionID == "" {
		return nil, errors.New("pubsub queue requires topic and subscription ids")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist", cfg.TopicID)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	ok, err = sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub subscription %q: %w", cfg.SubscriptionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub subscription %q does not exist", cfg.SubscriptionID)
	}
	// Keep the lease window small; the dispatcher pulls one job at a time.
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 8

	return &PubSubQueue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
		items:  make(chan crawler.QueueItem),
		done:   make(chan struct{}),
	}, nil
}

// Enqueue publishes the job to the topic and blocks until the server
// acknowledges it.
func (q *PubSubQueue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	data, err := encodeItem(item)
	if err != nil {
		return err
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue returns the next job from the subscription. The receive loop
// starts lazily on the first call.
func (q *PubSubQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	q.start()
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.items:
		return item, nil
	case <-q.done:
		if q.recvErr != nil {
			return crawler.QueueItem{}, fmt.Errorf("pubsub receive: %w", q.recvErr)
		}
		return crawler.QueueItem{}, ErrClosed
	}
}

// Close stops the receive loop, flushes pending publishes, and closes
// the client. Safe to call more than once.
func (q *PubSubQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	cancel := q.cancel
	q.mu.Unlock()

	if started {
		cancel()
		<-q.done
	} else {
		close(q.done)
	}
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (q *PubSubQueue) start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	rctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.done)
		err := q.sub.Receive(rctx, q.handle)
		if err != nil && rctx.Err() == nil {
			q.recvErr = err
		}
	}()
}

func (q *PubSubQueue) handle(ctx context.Context, msg *pubsub.Message) {
	item, err := decodeItem(msg.Data)
	if err != nil {
		// A malformed payload never becomes valid; redelivering it
		// would loop forever.
		q.logger.Warn("dropping malformed queue message", zap.Error(err))
		msg.Ack()
		return
	}
	select {
	case q.items <- item:
		msg.Ack()
	case <-ctx.Done():
		msg.Nack()
	}
}
