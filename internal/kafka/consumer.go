package kafka

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed. Wrap an error with Permanent when retrying
// cannot help.
type Handler func(ctx context.Context, m kafka.Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. The consumer logs the message and
// commits past it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger

	// Backoff is the first pause after a failed message; it doubles up to
	// MaxBackoff while the same message keeps failing.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commits are explicit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, Backoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// Start fetches messages until ctx is done. Every partition is pinned to one
// worker, so its messages are handled and committed in offset order. A
// failed message is retried in place; nothing after it in the partition is
// committed until it succeeds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, id, h, m) {
					// cancelled mid-retry; drop the rest of the lane uncommitted
					for range jobs {
					}
					return
				}
			}
		}(i, lanes[i])
	}
	stop := func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[c.lane(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) lane(m kafka.Message) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(m.Topic + "/" + strconv.Itoa(m.Partition)))
	return int(h.Sum32() % uint32(c.workers))
}

// handle runs h until it succeeds or fails permanently, then commits. It
// reports false when ctx ended first.
func (c *Consumer) handle(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	fields := []zap.Field{
		zap.Int("worker", worker),
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
	}
	wait := c.Backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		if IsPermanent(err) {
			c.log.Error("skip message", append(fields, zap.Error(err))...)
			break
		}
		c.log.Error("handle message", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		if wait *= 2; c.MaxBackoff > 0 && wait > c.MaxBackoff {
			wait = c.MaxBackoff
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Error("commit message", append(fields, zap.Error(err))...)
	}
	return true
}
