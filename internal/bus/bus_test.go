package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// mockWriter records every message it's handed and can be told to fail.
type mockWriter struct {
	messages    []kafka.Message
	shouldError bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.shouldError {
		return errors.New("write failed")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

// mockReader replays a fixed queue of messages, then blocks until the
// caller's context is canceled.
type mockReader struct {
	queue     []kafka.Message
	pos       int
	committed []kafka.Message
	failFirst bool
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.failFirst {
		r.failFirst = false
		return kafka.Message{}, errors.New("transient fetch error")
	}
	if r.pos < len(r.queue) {
		msg := r.queue[r.pos]
		r.pos++
		return msg, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *mockReader) Close() error { return nil }

func newTestBus(w *mockWriter, r *mockReader) *Bus {
	return &Bus{writer: w, reader: r, jobsTopic: "llm.jobs", responseTopic: "llm.responses"}
}

func TestPublishJobMarshalsAndKeysByRequestID(t *testing.T) {
	w := &mockWriter{}
	b := newTestBus(w, &mockReader{})

	err := b.PublishJob(context.Background(), model.LLMJob{RequestID: "REQ-1", Step: "summarize"})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	assert.Equal(t, "REQ-1", string(w.messages[0].Key))

	var job model.LLMJob
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &job))
	assert.Equal(t, "summarize", job.Step)
}

func TestPublishJobWrapsWriterError(t *testing.T) {
	w := &mockWriter{shouldError: true}
	b := newTestBus(w, &mockReader{})

	err := b.PublishJob(context.Background(), model.LLMJob{RequestID: "REQ-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQ-2")
}

func TestPublishRawSendsArbitraryPayload(t *testing.T) {
	w := &mockWriter{}
	b := newTestBus(w, &mockReader{})

	err := b.PublishRaw(context.Background(), "ping-1", model.LLMResponse{Type: "ping", RequestID: "ping-1"})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	assert.Equal(t, "ping-1", string(w.messages[0].Key))
}

func TestResponseTopicReturnsConfiguredTopic(t *testing.T) {
	b := newTestBus(&mockWriter{}, &mockReader{})
	assert.Equal(t, "llm.responses", b.ResponseTopic())
}

func TestSubscribeResponsesInvokesHandlerInOrderAndCommits(t *testing.T) {
	resp1, _ := json.Marshal(model.LLMResponse{RequestID: "r1", FinalAnswer: "one"})
	resp2, _ := json.Marshal(model.LLMResponse{RequestID: "r2", FinalAnswer: "two"})
	reader := &mockReader{queue: []kafka.Message{{Value: resp1}, {Value: resp2}}}
	b := newTestBus(&mockWriter{}, reader)

	var seen []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.SubscribeResponses(ctx, func(_ context.Context, resp model.LLMResponse) error {
			seen = append(seen, resp.RequestID)
			if len(seen) == 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe loop to exit")
	}

	assert.Equal(t, []string{"r1", "r2"}, seen)
	assert.Len(t, reader.committed, 2)
}

func TestSubscribeResponsesSkipsMalformedRecordAndCommitsIt(t *testing.T) {
	reader := &mockReader{queue: []kafka.Message{{Value: []byte("not json")}}}
	b := newTestBus(&mockWriter{}, reader)

	var calls int
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := b.SubscribeResponses(ctx, func(context.Context, model.LLMResponse) error {
		calls++
		return nil
	})

	assert.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Len(t, reader.committed, 1)
}

func TestSubscribeResponsesContinuesAfterFetchError(t *testing.T) {
	resp, _ := json.Marshal(model.LLMResponse{RequestID: "r3"})
	reader := &mockReader{failFirst: true, queue: []kafka.Message{{Value: resp}}}
	b := newTestBus(&mockWriter{}, reader)

	var seen []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.SubscribeResponses(ctx, func(_ context.Context, resp model.LLMResponse) error {
			seen = append(seen, resp.RequestID)
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe loop to exit")
	}

	assert.Equal(t, []string{"r3"}, seen)
}

func TestSubscribeResponsesStopsOnContextCancellation(t *testing.T) {
	b := newTestBus(&mockWriter{}, &mockReader{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.SubscribeResponses(ctx, func(context.Context, model.LLMResponse) error {
		t.Fatal("handler should not be called on an already-canceled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
