// Package bus adapts the two named Kafka topics (jobs, responses) the
// orchestrator uses to dispatch LLM work and receive worker replies.
//
// Grounded on manifold/internal/orchestrator/kafka.go (reader setup, worker
// pool, reconnect-with-backoff) and original_source/app/services/
// kafka_service.py (the simple send_request/consume shape it adapts).
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog/log"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// Handler is invoked once per inbound response record, in arrival order.
type Handler func(ctx context.Context, resp model.LLMResponse) error

// messageWriter is the slice of *kafka.Writer the Bus depends on, narrowed
// so tests can swap in a mock rather than dial a broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the slice of *kafka.Reader the Bus depends on.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bus publishes LLM jobs on the jobs topic and consumes LLMResponse records
// from the responses topic.
type Bus struct {
	writer        messageWriter
	reader        messageReader
	jobsTopic     string
	responseTopic string
}

// Config names the brokers and topics the Bus connects to.
type Config struct {
	Brokers       []string
	JobsTopic     string
	ResponseTopic string
	ConsumerGroup string
}

// New dials the jobs-topic writer and the responses-topic reader. It does
// not block on broker availability; kafka-go establishes connections
// lazily on first use and on each fetch retry.
func New(cfg Config) *Bus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.JobsTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.ResponseTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Bus{
		writer:        writer,
		reader:        reader,
		jobsTopic:     cfg.JobsTopic,
		responseTopic: cfg.ResponseTopic,
	}
}

// Close releases the writer and reader.
func (b *Bus) Close() error {
	werr := b.writer.Close()
	rerr := b.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// ResponseTopic returns the topic name jobs should set as their
// response_topic field, so worker replies land back on this reader.
func (b *Bus) ResponseTopic() string {
	return b.responseTopic
}

// PublishJob publishes an outbound LLM job record, fire-and-await-ack.
func (b *Bus) PublishJob(ctx context.Context, job model.LLMJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.RequestID), Value: payload}); err != nil {
		return fmt.Errorf("publish job %s: %w", job.RequestID, err)
	}
	return nil
}

// PublishRaw publishes an arbitrary JSON-serializable record on the jobs
// topic, used by the ping loop's heartbeat.
func (b *Bus) PublishRaw(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return b.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
}

// SubscribeResponses consumes the responses topic continuously, invoking
// handler once per record in arrival order, until ctx is canceled. Fetch
// errors trigger a bounded backoff before retrying; handler errors are
// logged and do not stop the loop (delivery is at-most-once per spec.md's
// non-goals).
func (b *Bus) SubscribeResponses(ctx context.Context, handler Handler) error {
	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("bus: fetch error, backing off")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = 200 * time.Millisecond

		var resp model.LLMResponse
		if err := json.Unmarshal(msg.Value, &resp); err != nil {
			log.Warn().Err(err).Msg("bus: malformed response record, skipping")
			if cerr := b.reader.CommitMessages(ctx, msg); cerr != nil {
				log.Warn().Err(cerr).Msg("bus: commit failed after malformed record")
			}
			continue
		}

		if err := handler(ctx, resp); err != nil {
			log.Error().Err(err).Str("request_id", resp.RequestID).Msg("bus: response handler error")
		}

		if err := b.reader.CommitMessages(ctx, msg); err != nil {
			log.Warn().Err(err).Msg("bus: commit failed")
		}
	}
}
