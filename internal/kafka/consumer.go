package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1KB
	MaxBytes       int           // default 10MB
	CommitInterval time.Duration // 0 = commit synchronously on every Commit call
	MaxWait        time.Duration // default 500ms
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 500 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       min,
		MaxBytes:       max,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

// cdcRow is the subset of an events row carried in a change record.
type cdcRow struct {
	ID string `json:"id"`
}

// cdcEnvelope covers both the raw Debezium envelope and the flattened
// (ExtractNewRecordState) form.
type cdcEnvelope struct {
	Payload *struct {
		Op    string  `json:"op"`
		After *cdcRow `json:"after"`
	} `json:"payload"`
	Op    string  `json:"op"`
	After *cdcRow `json:"after"`
	ID    string  `json:"id"`
}

// EventIDFromChange extracts the events.id of a newly inserted row from a CDC
// record value. ok is false for tombstones, deletes and updates.
func EventIDFromChange(value []byte) (id string, ok bool, err error) {
	if len(value) == 0 {
		return "", false, nil
	}
	var env cdcEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return "", false, fmt.Errorf("decode change record: %w", err)
	}

	op, after := env.Op, env.After
	if env.Payload != nil {
		op, after = env.Payload.Op, env.Payload.After
	}
	switch {
	case after != nil:
		if op != "" && op != "c" && op != "r" {
			return "", false, nil
		}
		return after.ID, after.ID != "", nil
	case env.ID != "":
		return env.ID, true, nil
	default:
		return "", false, nil
	}
}
