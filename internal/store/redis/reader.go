package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"demandindex-plus/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "demandindex"
	ConsumerName  string // unique consumer name, e.g. hostname
}

const (
	claimBatch = 100
	minBackoff = 250 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Reader reads closed candles from Redis Streams via Consumer Groups
// and listens on Pub/Sub for forming candles and configuration updates.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "demandindex"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-reader] connected to %s (group=%s, consumer=%s)", cfg.Addr, group, consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// CandleStreams returns the stream keys for symbols on tf.
func CandleStreams(symbols []string, tf int) []string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = model.CandleStreamKey(tf, s)
	}
	return streams
}

// readGroupArgs builds [stream1, stream2, ..., ">", ">", ...].
func readGroupArgs(streams []string) []string {
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}
	return args
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// decodeCandle parses a stream entry. ok is false for entries that can never
// be processed; those should be ACKed to avoid a poison pill.
func decodeCandle(values map[string]interface{}) (model.Candle, bool) {
	var c model.Candle
	data, ok := values["data"].(string)
	if !ok {
		return c, false
	}
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		log.Printf("[redis-reader] unmarshal candle error: %v", err)
		return c, false
	}
	if c.Symbol == "" || c.TF <= 0 {
		return c, false
	}
	c.Forming = false
	return c, true
}

// EnsureConsumerGroup creates a consumer group on the given streams if it doesn't exist.
// Uses "$" as start ID (only new messages) for fresh groups.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeCandles reads closed candles from Redis Streams using consumer groups.
// Blocks on XREADGROUP and sends parsed candles to the output channel.
// Returns when ctx is cancelled.
func (r *Reader) ConsumeCandles(ctx context.Context, streams []string, out chan<- model.Candle) error {
	args := readGroupArgs(streams)
	backoff := minBackoff

	for ctx.Err() == nil {
		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err == goredis.Nil || ctx.Err() != nil {
			continue
		}
		if err != nil {
			log.Printf("[redis-reader] xreadgroup error, retrying in %v: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// deliver forwards messages to out and ACKs each after hand-off.
func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Candle) error {
	for _, msg := range msgs {
		c, ok := decodeCandle(msg.Values)
		if ok {
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	}
	return nil
}

// RecoverPending takes over every unacknowledged entry in the group, whoever
// owned it, and delivers it before live consumption starts. Delivery is
// at-least-once; the engine rejects bars it has already seen.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Candle) error {
	for _, stream := range streams {
		n, err := r.autoClaim(ctx, stream, 0, out)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[redis-reader] recover %s: %v", stream, err)
			continue
		}
		if n > 0 {
			log.Printf("[redis-reader] recovered %d pending entries from %s", n, stream)
		}
	}
	return nil
}

// StartPELReclaimer periodically claims entries left idle longer than minIdle
// by consumers that died mid-delivery and feeds them to out. Runs until ctx is
// cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval, minIdle time.Duration, out chan<- model.Candle, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		total := 0
		for _, stream := range streams {
			n, err := r.autoClaim(ctx, stream, minIdle, out)
			total += n
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[redis-reader] PEL reclaim %s: %v", stream, err)
			}
		}
		if total > 0 {
			log.Printf("[redis-reader] reclaimed %d stale PEL entries", total)
			if onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// autoClaim walks the stream's pending list with XAUTOCLAIM, taking over
// entries idle for at least minIdle and delivering them. It returns how many
// entries it delivered.
func (r *Reader) autoClaim(ctx context.Context, stream string, minIdle time.Duration, out chan<- model.Candle) (int, error) {
	cursor := "0-0"
	total := 0
	for {
		msgs, next, err := r.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
			Stream:   stream,
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			MinIdle:  minIdle,
			Start:    cursor,
			Count:    claimBatch,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("xautoclaim %s: %w", stream, err)
		}
		if err := r.deliver(ctx, stream, msgs, out); err != nil {
			return total, err
		}
		total += len(msgs)
		if next == "" || next == "0-0" {
			return total, nil
		}
		cursor = next
	}
}

// SubscribeForming subscribes to forming-candle Pub/Sub for the given symbols
// on tf and forwards them to out. Slow consumers miss previews rather than
// block the subscription. Blocks until ctx is cancelled.
func (r *Reader) SubscribeForming(ctx context.Context, symbols []string, tf int, out chan<- model.Candle) error {
	channels := make([]string, len(symbols))
	for i, s := range symbols {
		channels[i] = model.CandleChannel(tf, s)
	}
	pubsub := r.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c model.Candle
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil || !c.Forming {
				continue
			}
			select {
			case out <- c:
			default:
			}
		}
	}
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel.
// Returns the PubSub handle so the caller can listen on .Channel().
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for confirmation
	_, err := pubsub.Receive(ctx)
	if err != nil {
		log.Printf("[redis-reader] subscribe to %s failed: %v", channel, err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
