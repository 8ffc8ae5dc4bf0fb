package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/licorice/internal/pipeline"
)

const commitTimeout = 10 * time.Second

// Notification is the S3-compatible bucket notification body published by
// MinIO to Kafka.
type Notification struct {
	EventName string                 `json:"EventName"`
	Key       string                 `json:"Key"`
	Records   []events.S3EventRecord `json:"Records"`
}

// IsObjectCreated reports whether the notification announces a new object.
// An empty EventName is accepted for producers that only send Records.
func (n Notification) IsObjectCreated() bool {
	name := n.EventName
	if name == "" && len(n.Records) > 0 {
		name = n.Records[0].EventName
	}
	return name == "" || strings.Contains(name, "ObjectCreated:")
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Runner processes one event.
type Runner interface {
	Run(ctx context.Context, ev pipeline.IngestEvent) (pipeline.Outcome, error)
}

// ReaderConfig selects the brokers, topic and consumer group.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader returns a consumer-group reader that leaves commits to the
// caller.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer feeds Kafka notifications to a Runner with bounded concurrency.
// A message counts as handled once its invocation returned, whatever the
// outcome; undecodable messages are logged and handled too. Offsets are
// committed per partition only up to the last message below which
// everything has been handled, so a crash never skips unfinished work.
type Consumer struct {
	reader      MessageReader
	runner      Runner
	concurrency int

	mu      sync.Mutex
	offsets *offsetTracker
}

// NewConsumer returns a Consumer running at most concurrency invocations
// at a time.
func NewConsumer(reader MessageReader, runner Runner, concurrency int) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		reader:      reader,
		runner:      runner,
		concurrency: concurrency,
		offsets:     newOffsetTracker(),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight
// invocations. It returns nil on cancellation and the fetch error
// otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(c.concurrency)

	var fetchErr error
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				fetchErr = fmt.Errorf("fetch message: %w", err)
			}
			break
		}
		c.mu.Lock()
		c.offsets.add(msg)
		c.mu.Unlock()
		g.Go(func() error {
			c.handle(context.WithoutCancel(ctx), msg)
			return nil
		})
	}

	_ = g.Wait()
	return fetchErr
}

// handle runs and commits one message. The context is detached from
// shutdown so in-flight work finishes under the pipeline's own deadline.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	logger := log.With().
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	ev, skip, err := decodeMessage(msg.Value)
	switch {
	case err != nil:
		logger.Error().Err(err).Bytes("value", msg.Value).Msg("Poison message, committing without processing")
	case skip:
		logger.Debug().Msg("Ignoring non-create notification")
	default:
		out, err := c.runner.Run(ctx, ev)
		if err != nil {
			logger.Error().Err(err).Str("sourceKey", ev.SourceKey).Msg("Invocation failed")
		} else if out.Skipped {
			logger.Debug().Str("reason", out.Reason).Msg("Invocation skipped")
		}
	}

	c.commit(ctx, msg, logger)
}

// commit marks msg handled and commits the partition's handled prefix, if
// it grew. Commits are serialized so offsets never move backwards.
func (c *Consumer) commit(ctx context.Context, msg kafka.Message, logger zerolog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()

	upTo, ok := c.offsets.complete(msg)
	if !ok {
		logger.Debug().Msg("Handled ahead of an earlier offset, commit deferred")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()
	if err := c.reader.CommitMessages(cctx, upTo); err != nil {
		logger.Error().Err(err).Int64("commitOffset", upTo.Offset).Msg("Failed to commit message")
	}
}

// offsetTracker keeps fetched messages per partition in fetch order until
// they and every message before them are handled.
type offsetTracker struct {
	pending map[int][]*inflight
}

type inflight struct {
	msg  kafka.Message
	done bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[int][]*inflight)}
}

func (t *offsetTracker) add(msg kafka.Message) {
	t.pending[msg.Partition] = append(t.pending[msg.Partition], &inflight{msg: msg})
}

// complete marks msg handled. It returns the last message of the handled
// prefix of msg's partition, and false when that prefix is empty.
func (t *offsetTracker) complete(msg kafka.Message) (kafka.Message, bool) {
	queue := t.pending[msg.Partition]
	for _, f := range queue {
		if f.msg.Offset == msg.Offset {
			f.done = true
			break
		}
	}

	var last kafka.Message
	n := 0
	for n < len(queue) && queue[n].done {
		last = queue[n].msg
		n++
	}
	if n == len(queue) {
		delete(t.pending, msg.Partition)
	} else {
		t.pending[msg.Partition] = queue[n:]
	}
	return last, n > 0
}

func decodeMessage(value []byte) (ev pipeline.IngestEvent, skip bool, err error) {
	var n Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return ev, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !n.IsObjectCreated() {
		return ev, true, nil
	}
	log.Debug().Str("eventName", n.EventName).Str("key", n.Key).Int("records", len(n.Records)).Msg("Notification received")
	ev, err = FromS3Event(events.S3Event{Records: n.Records})
	return ev, false, err
}
