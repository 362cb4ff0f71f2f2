package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayasurya072001/match-making-backend/internal/bus"
	"github.com/jayasurya072001/match-making-backend/internal/fallback"
	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// fakeBus lets a test script a canned response for every published job,
// standing in for the real Kafka-backed bus per the ambient stack's
// fakes-over-containers test tooling.
type fakeBus struct {
	respond   func(model.LLMJob) model.LLMResponse
	responses chan model.LLMResponse
}

func newFakeBus(respond func(model.LLMJob) model.LLMResponse) *fakeBus {
	return &fakeBus{respond: respond, responses: make(chan model.LLMResponse, 32)}
}

func (f *fakeBus) PublishJob(_ context.Context, job model.LLMJob) error {
	if f.respond != nil {
		resp := f.respond(job)
		resp.RequestID = job.RequestID
		f.responses <- resp
	}
	return nil
}

func (f *fakeBus) PublishRaw(context.Context, string, any) error { return nil }

func (f *fakeBus) SubscribeResponses(ctx context.Context, handler bus.Handler) error {
	for {
		select {
		case resp := <-f.responses:
			_ = handler(ctx, resp)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *fakeBus) ResponseTopic() string { return "test-responses" }

// fakeStore is an in-memory Store that also records every published status
// event on a channel the test can drain.
type fakeStore struct {
	history map[string][]model.HistoryEntry
	summary map[string]model.SessionSummary
	tools   map[string]model.ToolState
	events  chan StatusEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		history: map[string][]model.HistoryEntry{},
		summary: map[string]model.SessionSummary{},
		tools:   map[string]model.ToolState{},
		events:  make(chan StatusEvent, 32),
	}
}

func (s *fakeStore) GetHistory(_ context.Context, userID, sessionID string) ([]model.HistoryEntry, error) {
	return append([]model.HistoryEntry{}, s.history[userID+sessionID]...), nil
}

func (s *fakeStore) AppendHistory(_ context.Context, userID string, entry model.HistoryEntry, sessionID string) error {
	s.history[userID+sessionID] = append(s.history[userID+sessionID], entry)
	return nil
}

func (s *fakeStore) GetSessionSummary(_ context.Context, userID, sessionID string) (model.SessionSummary, error) {
	return s.summary[userID+sessionID], nil
}

func (s *fakeStore) SaveSessionSummary(_ context.Context, userID, sessionID string, summary model.SessionSummary) error {
	s.summary[userID+sessionID] = summary
	return nil
}

func (s *fakeStore) GetToolState(_ context.Context, userID, sessionID string) (model.ToolState, error) {
	if st, ok := s.tools[userID+sessionID]; ok {
		return st, nil
	}
	return model.NewToolState(), nil
}

func (s *fakeStore) SaveToolState(_ context.Context, userID, sessionID string, state model.ToolState) error {
	s.tools[userID+sessionID] = state
	return nil
}

func (s *fakeStore) Publish(_ context.Context, _ string, v any) error {
	if event, ok := v.(StatusEvent); ok {
		s.events <- event
	}
	return nil
}

func (s *fakeStore) GetPersonProfile(context.Context, string, string) (*model.PersonProfile, error) {
	return nil, nil
}

func (s *fakeStore) SavePersonProfileCache(context.Context, string, string, model.PersonProfile) error {
	return nil
}

func (s *fakeStore) awaitFinal(t *testing.T) StatusEvent {
	t.Helper()
	for {
		select {
		case event := <-s.events:
			if event.FinalAnswer != "" {
				return event
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a final status event")
		}
	}
}

// fakeMCP exposes a single search_profiles tool with a scripted result, and
// can be told to fail the call or count how many times it was invoked.
type fakeMCP struct {
	result map[string]any
	err    error
	calls  int
}

func (f *fakeMCP) Tools() []model.ToolSchema {
	return []model.ToolSchema{{Name: "search_profiles", Description: "search", Properties: map[string]any{
		"gender": map[string]any{"type": "string"},
	}}}
}

func (f *fakeMCP) ToolMeta(name string) (model.ToolSchema, bool) {
	if name != "search_profiles" {
		return model.ToolSchema{}, false
	}
	return f.Tools()[0], true
}

func (f *fakeMCP) CallTool(context.Context, string, map[string]any) (map[string]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakePersonas returns a single canned persona for any lookup.
type fakePersonas struct{ persona Persona }

func (f fakePersonas) GetPersona(context.Context, string, string) (*Persona, error) {
	return &f.persona, nil
}

func TestHandleRequestNoToolDecisionPublishesFinalAnswer(t *testing.T) {
	respond := func(job model.LLMJob) model.LLMResponse {
		switch job.Step {
		case "check_tool_required":
			return model.LLMResponse{Decision: `{"decision": "no_tool"}`}
		case "summarize":
			return model.LLMResponse{FinalAnswer: "Hey! How's your search going?"}
		case "custom":
			return model.LLMResponse{CustomResponse: map[string]any{"important_points": []string{}, "user_details": []string{}}}
		}
		t.Fatalf("unexpected step %q", job.Step)
		return model.LLMResponse{}
	}

	store := newFakeStore()
	o := New(Options{
		Bus:   newFakeBus(respond),
		Store: store,
		MCP:   &fakeMCP{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	requestID := o.HandleRequest(ctx, model.Request{UserID: "u1", Message: "hi there"})
	require.NotEmpty(t, requestID)

	event := store.awaitFinal(t)
	assert.Equal(t, "Hey! How's your search going?", event.FinalAnswer)
	assert.Empty(t, event.Error)
}

func TestHandleRequestToolDecisionCallsMCPAndSummarizes(t *testing.T) {
	respond := func(job model.LLMJob) model.LLMResponse {
		switch job.Step {
		case "check_tool_required":
			return model.LLMResponse{Decision: `{"decision": "tool"}`}
		case "select_tool":
			return model.LLMResponse{SelectedTool: "search_profiles"}
		case "get_tool_args":
			return model.LLMResponse{ToolArgs: map[string]any{"gender": "female"}}
		case "summarize":
			return model.LLMResponse{FinalAnswer: "Found a few good matches for you!"}
		case "custom":
			return model.LLMResponse{CustomResponse: map[string]any{"important_points": []string{}, "user_details": []string{}}}
		}
		t.Fatalf("unexpected step %q", job.Step)
		return model.LLMResponse{}
	}

	store := newFakeStore()
	mcp := &fakeMCP{result: map[string]any{"docs": []any{map[string]any{"_id": "p1"}}}}
	o := New(Options{
		Bus:   newFakeBus(respond),
		Store: store,
		MCP:   mcp,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	o.HandleRequest(ctx, model.Request{UserID: "u2", Message: "find me someone from chennai"})

	event := store.awaitFinal(t)
	assert.Equal(t, "Found a few good matches for you!", event.FinalAnswer)
	assert.Empty(t, event.Error)
	assert.Equal(t, "summarize", event.Step)
	require.Len(t, event.Matches, 1)
	assert.Equal(t, "p1", event.Matches[0]["_id"])
}

func TestHandleRequestToolCallErrorIsNonFatalAndSummarizesWithoutResults(t *testing.T) {
	respond := func(job model.LLMJob) model.LLMResponse {
		switch job.Step {
		case "check_tool_required":
			return model.LLMResponse{Decision: `{"decision": "tool"}`}
		case "select_tool":
			return model.LLMResponse{SelectedTool: "search_profiles"}
		case "get_tool_args":
			return model.LLMResponse{ToolArgs: map[string]any{"gender": "female"}}
		case "summarize":
			return model.LLMResponse{FinalAnswer: "Let's try that again in a moment."}
		case "custom":
			return model.LLMResponse{CustomResponse: map[string]any{"important_points": []string{}, "user_details": []string{}}}
		}
		t.Fatalf("unexpected step %q", job.Step)
		return model.LLMResponse{}
	}

	store := newFakeStore()
	mcp := &fakeMCP{err: assert.AnError}
	o := New(Options{
		Bus:   newFakeBus(respond),
		Store: store,
		MCP:   mcp,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	o.HandleRequest(ctx, model.Request{UserID: "u5", Message: "find me someone from chennai"})

	event := store.awaitFinal(t)
	assert.Equal(t, "Let's try that again in a moment.", event.FinalAnswer)
	assert.Empty(t, event.Error)
	assert.Nil(t, event.Matches)
	assert.Equal(t, 1, mcp.calls)
}

func TestHandleRequestSkipsToolCallWhenNoFilterArgsExtracted(t *testing.T) {
	respond := func(job model.LLMJob) model.LLMResponse {
		switch job.Step {
		case "check_tool_required":
			return model.LLMResponse{Decision: `{"decision": "tool"}`}
		case "select_tool":
			return model.LLMResponse{SelectedTool: "search_profiles"}
		case "get_tool_args":
			return model.LLMResponse{ToolArgs: map[string]any{}}
		case "summarize":
			return model.LLMResponse{FinalAnswer: "What are you looking for?"}
		case "custom":
			return model.LLMResponse{CustomResponse: map[string]any{"important_points": []string{}, "user_details": []string{}}}
		}
		t.Fatalf("unexpected step %q", job.Step)
		return model.LLMResponse{}
	}

	store := newFakeStore()
	mcp := &fakeMCP{result: map[string]any{"docs": []any{map[string]any{"_id": "p1"}}}}
	o := New(Options{
		Bus:   newFakeBus(respond),
		Store: store,
		MCP:   mcp,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	o.HandleRequest(ctx, model.Request{UserID: "u6", Message: "hi"})

	event := store.awaitFinal(t)
	assert.Equal(t, "What are you looking for?", event.FinalAnswer)
	assert.Equal(t, 0, mcp.calls)
}

func TestHandleRequestEmptyFinalAnswerRoutesToFallback(t *testing.T) {
	respond := func(job model.LLMJob) model.LLMResponse {
		switch job.Step {
		case "check_tool_required":
			return model.LLMResponse{Decision: `{"decision": "no_tool"}`}
		case "summarize":
			return model.LLMResponse{FinalAnswer: ""}
		}
		t.Fatalf("unexpected step %q", job.Step)
		return model.LLMResponse{}
	}

	store := newFakeStore()
	o := New(Options{
		Bus:   newFakeBus(respond),
		Store: store,
		MCP:   &fakeMCP{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	o.HandleRequest(ctx, model.Request{UserID: "u7", Message: "hi"})

	event := store.awaitFinal(t)
	assert.Contains(t, fallback.All(), event.FinalAnswer)
	assert.NotEmpty(t, event.Error)
}

func TestHandleRequestPersonaRendersIntoSummaryJob(t *testing.T) {
	var capturedSystemPrompt string
	respond := func(job model.LLMJob) model.LLMResponse {
		switch job.Step {
		case "check_tool_required":
			return model.LLMResponse{Decision: `{"decision": "no_tool"}`}
		case "summarize":
			capturedSystemPrompt = job.SystemPrompt
			return model.LLMResponse{FinalAnswer: "Namaste!"}
		case "custom":
			return model.LLMResponse{CustomResponse: map[string]any{}}
		}
		t.Fatalf("unexpected step %q", job.Step)
		return model.LLMResponse{}
	}

	store := newFakeStore()
	persona := Persona{VoiceID: "voice-1"}
	persona.Config.Identity.FullName = "Priya"
	persona.Config.Identity.Languages = []string{"Hindi"}

	o := New(Options{
		Bus:      newFakeBus(respond),
		Store:    store,
		MCP:      &fakeMCP{},
		Personas: fakePersonas{persona: persona},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	o.HandleRequest(ctx, model.Request{UserID: "u3", PersonalityID: "p1", Message: "hello"})
	store.awaitFinal(t)

	assert.Contains(t, capturedSystemPrompt, "Priya")
	assert.Contains(t, capturedSystemPrompt, "SPEAK ONLY IN Hindi")
}

// erroringStore fails every GetHistory call, exercising the fallback path.
type erroringStore struct{ *fakeStore }

func (e erroringStore) GetHistory(context.Context, string, string) ([]model.HistoryEntry, error) {
	return nil, assert.AnError
}

func TestHandleRequestFailurePublishesFallbackMessage(t *testing.T) {
	store := newFakeStore()
	o := New(Options{
		Bus:   newFakeBus(func(model.LLMJob) model.LLMResponse { return model.LLMResponse{} }),
		Store: erroringStore{store},
		MCP:   &fakeMCP{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	o.HandleRequest(ctx, model.Request{UserID: "u4", Message: "hi"})

	event := store.awaitFinal(t)
	assert.Contains(t, fallback.All(), event.FinalAnswer)
	assert.NotEmpty(t, event.Error)
}

func TestResolveDecisionHandlesBareStringAndObjectAndNoise(t *testing.T) {
	assert.Equal(t, model.DecisionTool, resolveDecision(`{"decision": "tool"}`))
	assert.Equal(t, model.DecisionGibberish, resolveDecision(`"gibberish"`))
	assert.Equal(t, model.DecisionNoTool, resolveDecision("not json at all"))
}

func TestNewRequestIDIncludesPrefixAndUser(t *testing.T) {
	id := newRequestID("REQCHAT", "user-42")
	assert.Contains(t, id, "REQCHAT-user-42-")
}
