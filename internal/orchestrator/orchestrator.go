// Package orchestrator drives one chat turn end to end: classify whether a
// tool call is needed, select and call a tool when it is, and summarize the
// outcome into a single reply — dispatching each LLM decision as a job on
// the bus and resuming when the matching response arrives.
//
// Grounded on original_source/app/services/orchestrator.py's
// OrchestratorService (handle_request/_orchestrate and every _step_*
// method), adapted to manifold/internal/orchestrator/handler.go's Go idiom
// for command dispatch and response correlation.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jayasurya072001/match-making-backend/internal/bus"
	"github.com/jayasurya072001/match-making-backend/internal/fallback"
	"github.com/jayasurya072001/match-making-backend/internal/metrics"
	"github.com/jayasurya072001/match-making-backend/internal/model"
	"github.com/jayasurya072001/match-making-backend/internal/pending"
	"github.com/jayasurya072001/match-making-backend/internal/prompt"
	"github.com/jayasurya072001/match-making-backend/internal/toolargs"
)

// Bus is the subset of *bus.Bus the orchestrator depends on, narrowed to an
// interface so tests can substitute a fake.
type Bus interface {
	PublishJob(ctx context.Context, job model.LLMJob) error
	PublishRaw(ctx context.Context, key string, v any) error
	SubscribeResponses(ctx context.Context, handler bus.Handler) error
	ResponseTopic() string
}

// Store is the subset of *store.Store the orchestrator depends on.
type Store interface {
	GetHistory(ctx context.Context, userID, sessionID string) ([]model.HistoryEntry, error)
	AppendHistory(ctx context.Context, userID string, entry model.HistoryEntry, sessionID string) error
	GetSessionSummary(ctx context.Context, userID, sessionID string) (model.SessionSummary, error)
	SaveSessionSummary(ctx context.Context, userID, sessionID string, summary model.SessionSummary) error
	GetToolState(ctx context.Context, userID, sessionID string) (model.ToolState, error)
	SaveToolState(ctx context.Context, userID, sessionID string, state model.ToolState) error
	Publish(ctx context.Context, channel string, v any) error
	GetPersonProfile(ctx context.Context, userID, personID string) (*model.PersonProfile, error)
	SavePersonProfileCache(ctx context.Context, userID, personID string, profile model.PersonProfile) error
}

// MCPClient is the subset of *mcpclient.Client the orchestrator depends on.
type MCPClient interface {
	Tools() []model.ToolSchema
	ToolMeta(name string) (model.ToolSchema, bool)
	CallTool(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ProfileFetcher loads a conversation partner's profile from the upstream
// profile service on a cache miss. The profile service itself is an
// out-of-scope external collaborator; a nil ProfileFetcher simply leaves
// the profile absent for that turn rather than failing it.
type ProfileFetcher func(ctx context.Context, userID, personID string) (*model.PersonProfile, error)

// StatusEvent is published once per orchestration step and once at
// completion, on the `chat_status:{request_id}` channel.
type StatusEvent struct {
	RequestID   string           `json:"request_id"`
	Step        string           `json:"step,omitempty"`
	FinalAnswer string           `json:"final_answer,omitempty"`
	Matches     []map[string]any `json:"matches,omitempty"`
	AudioURL    string           `json:"audio_url,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Options configures a new Orchestrator. Bus, Store, and MCP are required.
// Personas, Metrics, and Profiles may be nil (no persona, no metrics, no
// profile fetch); Audio defaults to NoopAudioSynthesizer and the timings
// default to the source's constants.
type Options struct {
	Bus      Bus
	Store    Store
	MCP      MCPClient
	Personas PersonaProvider
	Audio    AudioSynthesizer
	Metrics  *metrics.Metrics
	Profiles ProfileFetcher

	// StepTimeout bounds how long one LLM job is awaited before the turn
	// fails over to the fallback message. Defaults to 60s.
	StepTimeout time.Duration
	// PingInterval is the heartbeat cadence on the jobs topic. Defaults to
	// 30s.
	PingInterval time.Duration
}

// Orchestrator runs the tool-check -> select -> args -> execute -> summarize
// pipeline for every accepted request.
type Orchestrator struct {
	bus      Bus
	store    Store
	mcp      MCPClient
	personas PersonaProvider
	audio    AudioSynthesizer
	metrics  *metrics.Metrics
	profiles ProfileFetcher

	pending *pending.Registry

	stepTimeout  time.Duration
	pingInterval time.Duration

	// sessionLocks serializes the tool-state read/prepare/write sequence
	// per (user_id, session_id) so two concurrent turns for the same
	// session never race each other's pagination/dedupe state.
	sessionLocks sync.Map // string -> *sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func (o *Orchestrator) lockSession(userID, sessionID string) func() {
	key := userID + ":" + sessionID
	v, _ := o.sessionLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// New builds an Orchestrator from opts, applying defaults for anything
// unset.
func New(opts Options) *Orchestrator {
	audio := opts.Audio
	if audio == nil {
		audio = NoopAudioSynthesizer{}
	}
	stepTimeout := opts.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 60 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Orchestrator{
		bus:          opts.Bus,
		store:        opts.Store,
		mcp:          opts.MCP,
		personas:     opts.Personas,
		audio:        audio,
		metrics:      opts.Metrics,
		profiles:     opts.Profiles,
		pending:      pending.New(),
		stepTimeout:  stepTimeout,
		pingInterval: pingInterval,
	}
}

// Start launches the response-consumer and ping-heartbeat loops in the
// background. It returns once both goroutines are scheduled; Stop cancels
// them and waits for exit.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		if err := o.bus.SubscribeResponses(ctx, o.handleResponse); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("orchestrator: response consumer loop exited")
		}
	}()
	go func() {
		defer o.wg.Done()
		o.pingLoop(ctx)
	}()
}

// Stop cancels the background loops, unblocks every in-flight LLM wait with
// a registry-shutdown error, and waits for both loops and any running
// background summary updates to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.pending.CancelAll()
	o.wg.Wait()
}

// HandleRequest accepts one chat turn, assigns it a request id, and runs
// its orchestration on a detached background goroutine so the caller is not
// blocked on the full multi-step pipeline. It returns the request id
// immediately; completion is delivered asynchronously on
// `chat_status:{request_id}`.
func (o *Orchestrator) HandleRequest(ctx context.Context, req model.Request) string {
	requestID := newRequestID("REQCHAT", req.UserID)
	go o.orchestrate(requestID, req)
	return requestID
}

func newRequestID(prefix, userID string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, userID, uuid.NewString())
}

// orchestrate runs the full pipeline for one accepted request on its own
// background context: classify, optionally call a tool, then summarize.
// Any step failure falls over to a fixed fallback message rather than
// leaving the turn unanswered.
func (o *Orchestrator) orchestrate(requestID string, req model.Request) {
	ctx := context.Background()
	started := time.Now()
	o.metrics.RecordRequestStart(string(req.SessionType))

	o.sendStatus(ctx, requestID, "received")

	history, err := o.store.GetHistory(ctx, req.UserID, req.SessionID)
	if err != nil {
		o.handleErrorResponse(ctx, requestID, started, fmt.Errorf("load history: %w", err))
		return
	}
	historyStr := prompt.FormatHistory(append(history, model.HistoryEntry{Role: "user", Content: req.Message}))

	profile := o.resolveProfile(ctx, req)

	o.sendStatus(ctx, requestID, "checking_tools")
	decision, err := o.stepCheckTool(ctx, requestID, historyStr)
	if err != nil {
		o.handleErrorResponse(ctx, requestID, started, fmt.Errorf("check tool decision: %w", err))
		return
	}

	var toolResultJSON string
	var toolResult map[string]any
	hasToolResults := false
	if decision == model.DecisionTool {
		o.sendStatus(ctx, requestID, "selecting_tool")
		result, ok, err := o.stepToolExecution(ctx, requestID, req, historyStr)
		if err != nil {
			o.handleErrorResponse(ctx, requestID, started, fmt.Errorf("execute tool: %w", err))
			return
		}
		toolResult = result
		hasToolResults = ok
		if b, err := json.Marshal(result); err == nil {
			toolResultJSON = string(b)
		}
	}

	o.sendStatus(ctx, requestID, "summarizing")
	finalAnswer, err := o.stepSummarize(ctx, requestID, req, historyStr, decision, hasToolResults, toolResultJSON, profile)
	if err != nil {
		o.handleErrorResponse(ctx, requestID, started, fmt.Errorf("summarize: %w", err))
		return
	}
	if finalAnswer == "" {
		// Matches orchestrator.py:610-614: a summarize job that returns no
		// final_answer (and no worker error) still must not leave the turn
		// unanswered, so it routes through the same fallback path as any
		// other step failure.
		o.handleErrorResponse(ctx, requestID, started, fmt.Errorf("no summary generated"))
		return
	}

	o.completeRequest(ctx, requestID, req, decision, toolResult, finalAnswer, started)
}

// resolveProfile returns the cached person profile for this turn, fetching
// it through o.profiles on a cache miss when a profile fetcher is wired.
func (o *Orchestrator) resolveProfile(ctx context.Context, req model.Request) *model.PersonProfile {
	if req.PersonID == "" {
		return nil
	}
	profile, err := o.store.GetPersonProfile(ctx, req.UserID, req.PersonID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("orchestrator: person profile cache read failed")
	}
	if profile != nil {
		return profile
	}
	if o.profiles == nil {
		return nil
	}
	fetched, err := o.profiles(ctx, req.UserID, req.PersonID)
	if err != nil || fetched == nil {
		return nil
	}
	if err := o.store.SavePersonProfileCache(ctx, req.UserID, req.PersonID, *fetched); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to cache fetched person profile")
	}
	return fetched
}

// stepCheckTool dispatches the routing-decision job and tolerantly parses
// the decision it returns.
func (o *Orchestrator) stepCheckTool(ctx context.Context, requestID, historyStr string) (model.Decision, error) {
	resp, err := o.dispatchLLM(ctx, requestID, "check_tool_required", "", prompt.ToolCheckPrompt(historyStr), true, nil)
	if err != nil {
		return "", err
	}
	return resolveDecision(resp.Decision), nil
}

// resolveDecision tolerantly parses a raw decision payload that may be a
// loosely-formatted JSON object, a bare quoted string, or noise wrapping
// one of those, matching normalize_decision_tool's callers in the source.
func resolveDecision(raw string) model.Decision {
	cleaned := prompt.StripJSONComments(raw)

	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		if extracted := prompt.ExtractJSONFromError(raw); extracted != "" {
			_ = json.Unmarshal([]byte(extracted), &parsed)
		}
	}
	if parsed == nil {
		parsed = cleaned
	}

	normalized := prompt.NormalizeDecisionPayload(parsed)
	decisionStr, _ := normalized["decision"].(string)
	return model.NormalizeDecision(decisionStr)
}

// stepToolExecution selects a tool, extracts its arguments, runs the
// deterministic merge/pagination engine over them, and calls the MCP
// server. The bool result reports whether any documents came back.
//
// A failure in the MCP call itself (or in the pagination-retry that follows
// it) is not fatal to the turn: it is recorded, a TOOL_ERROR status is
// emitted, and stepToolExecution returns an empty result so the turn still
// summarizes — matching orchestrator.py:512-544's try/except around
// call_tool. Only a failure upstream of the tool call (tool selection, arg
// extraction, unknown tool, state load) aborts the turn.
func (o *Orchestrator) stepToolExecution(ctx context.Context, requestID string, req model.Request, historyStr string) (map[string]any, bool, error) {
	toolsStr := formatToolCatalog(o.mcp.Tools())
	selectResp, err := o.dispatchLLM(ctx, requestID, "select_tool", "", prompt.ToolSelectionPrompt(toolsStr, historyStr), true, nil)
	if err != nil {
		return nil, false, fmt.Errorf("select tool: %w", err)
	}
	toolName := selectResp.SelectedTool
	schema, ok := o.mcp.ToolMeta(toolName)
	if !ok {
		return nil, false, fmt.Errorf("llm selected unknown tool %q", toolName)
	}
	o.sendStatus(ctx, requestID, "TOOL_SELECTED")

	schemaJSON, _ := json.Marshal(schema.Properties)
	argsPrompt := prompt.ToolArgsPrompt(toolName, prompt.ToolSpecificPrompt(toolName), string(schemaJSON), historyStr)
	argsResp, err := o.dispatchLLM(ctx, requestID, "get_tool_args", "", argsPrompt, true, nil)
	if err != nil {
		return nil, false, fmt.Errorf("extract tool args: %w", err)
	}

	unlock := o.lockSession(req.UserID, req.SessionID)
	defer unlock()

	state, err := o.store.GetToolState(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, false, fmt.Errorf("load tool state: %w", err)
	}
	prepared := toolargs.Prepare(state, toolName, req.UserID, argsResp.ToolArgs, schema)
	if reset, _ := argsResp.ToolArgs["_reset"].(bool); reset {
		delete(state.SeenDocs, toolName)
	}
	if state.Tools == nil {
		state.Tools = map[string]map[string]any{}
	}
	state.Tools[toolName] = prepared

	if !hasFilterArgs(prepared) {
		// Nothing beyond the injected user_id survived merge/cleaning:
		// there is no criteria to search on, so skip the call entirely
		// rather than hitting the tool with just {user_id}.
		return map[string]any{}, false, nil
	}

	result, err := o.mcp.CallTool(ctx, toolName, prepared)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Str("tool", toolName).Msg("orchestrator: tool call failed, summarizing without results")
		o.sendStatus(ctx, requestID, "TOOL_ERROR")
		return map[string]any{}, false, nil
	}
	if result == nil {
		result = map[string]any{}
	}

	final, err := toolargs.HandleResult(&state, toolName, result, prepared, func(args map[string]any) (map[string]any, error) {
		return o.mcp.CallTool(ctx, toolName, args)
	})
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Str("tool", toolName).Msg("orchestrator: pagination retry failed, summarizing without results")
		o.sendStatus(ctx, requestID, "TOOL_ERROR")
		return map[string]any{}, false, nil
	}
	if err := o.store.SaveToolState(ctx, req.UserID, req.SessionID, state); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to persist tool state")
	}

	docs, _ := final["docs"].([]any)
	if err := o.appendToolHistory(ctx, req, toolName, prepared); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to append tool-call history")
	}
	o.sendStatus(ctx, requestID, "TOOL_EXECUTED")
	return final, len(docs) > 0, nil
}

// hasFilterArgs reports whether args carries any key besides the
// unconditionally-injected "user_id", matching
// orchestrator.py:512's `if tool_args:` guard.
func hasFilterArgs(args map[string]any) bool {
	for k := range args {
		if k != "user_id" {
			return true
		}
	}
	return false
}

func (o *Orchestrator) appendToolHistory(ctx context.Context, req model.Request, toolName string, args map[string]any) error {
	return o.store.AppendHistory(ctx, req.UserID, model.HistoryEntry{Role: "tool", ToolName: toolName, ToolArgs: args}, req.SessionID)
}

// extractMatches projects a tool result's "docs" page into the terminal
// event's Matches field, passed through verbatim per spec.md §3's
// ProfileMatches pass-through rule. A nil or docless result yields nil.
func extractMatches(result map[string]any) []map[string]any {
	docsRaw, _ := result["docs"].([]any)
	if len(docsRaw) == 0 {
		return nil
	}
	matches := make([]map[string]any, 0, len(docsRaw))
	for _, raw := range docsRaw {
		if doc, ok := raw.(map[string]any); ok {
			matches = append(matches, doc)
		}
	}
	return matches
}

func formatToolCatalog(tools []model.ToolSchema) string {
	var lines string
	for i, t := range tools {
		lines += fmt.Sprintf("%d. %s: %s\n", i+1, t.Name, t.Description)
	}
	return lines
}

// stepSummarize renders the persona (if one is configured for this turn)
// and dispatches the final summarization job.
func (o *Orchestrator) stepSummarize(ctx context.Context, requestID string, req model.Request, historyStr string, decision model.Decision, hasResults bool, toolResultJSON string, profile *model.PersonProfile) (string, error) {
	personality := ""
	var languages []string
	if req.PersonalityID != "" && o.personas != nil {
		persona, err := o.personas.GetPersona(ctx, req.UserID, req.PersonalityID)
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: persona load failed, using base personality")
		} else {
			personality = prompt.RenderPersona(persona.Config)
			languages = persona.Config.Identity.Languages
		}
	}

	summary, err := o.store.GetSessionSummary(ctx, req.UserID, req.SessionID)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: session summary load failed, continuing without it")
	}

	systemPrompt := prompt.SummarizePrompt(decision, historyStr, hasResults, toolResultJSON, personality, languages, &summary, profile)
	resp, err := o.dispatchLLM(ctx, requestID, "summarize", req.Message, systemPrompt, false, nil)
	if err != nil {
		return "", err
	}
	return resp.FinalAnswer, nil
}

// completeRequest publishes the final answer, appends the turn to history,
// and kicks off the background summary refresh. The terminal event carries
// step="summarize" and the tool result's "docs" as Matches (nil when no
// tool ran or no docs came back), matching orchestrator.py:620-628's
// _complete_request payload.
func (o *Orchestrator) completeRequest(ctx context.Context, requestID string, req model.Request, decision model.Decision, toolResult map[string]any, finalAnswer string, started time.Time) {
	event := StatusEvent{RequestID: requestID, Step: "summarize", FinalAnswer: finalAnswer}
	if decision == model.DecisionTool {
		event.Matches = extractMatches(toolResult)
	}
	if req.SessionType.NeedsAudio() {
		voiceID := ""
		if req.PersonalityID != "" && o.personas != nil {
			if persona, err := o.personas.GetPersona(ctx, req.UserID, req.PersonalityID); err == nil {
				voiceID = persona.VoiceID
			}
		}
		if url, err := o.audio.Synthesize(ctx, finalAnswer, voiceID); err == nil {
			event.AudioURL = url
		} else {
			log.Warn().Err(err).Msg("orchestrator: audio synthesis failed, replying text-only")
		}
	}

	if err := o.store.Publish(ctx, statusChannel(requestID), event); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("orchestrator: failed to publish completion")
	}

	if err := o.store.AppendHistory(ctx, req.UserID, model.HistoryEntry{Role: "user", Content: req.Message}, req.SessionID); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to append user history")
	}
	if err := o.store.AppendHistory(ctx, req.UserID, model.HistoryEntry{Role: "assistant", Content: finalAnswer}, req.SessionID); err != nil {
		log.Warn().Err(err).Msg("orchestrator: failed to append assistant history")
	}

	o.metrics.RecordRequestComplete(time.Since(started).Seconds(), false)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.backgroundSummaryUpdate(req.UserID, req.SessionID)
	}()
}

// backgroundSummaryUpdate dispatches a second, SUMMARY-prefixed LLM job
// that refreshes the rolling session summary from the just-updated history,
// running after the user-facing reply has already been published so it
// never adds to turn latency.
func (o *Orchestrator) backgroundSummaryUpdate(userID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.stepTimeout)
	defer cancel()

	history, err := o.store.GetHistory(ctx, userID, sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: background summary update: load history failed")
		return
	}

	requestID := newRequestID("SUMMARY", userID)
	resp, err := o.dispatchLLM(ctx, requestID, "custom", prompt.FormatHistory(history), prompt.SummaryUpdatePrompt(), true, nil)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: background summary update: llm job failed")
		return
	}

	var summary model.SessionSummary
	if err := decodeCustomResponse(resp.CustomResponse, &summary); err != nil {
		log.Warn().Err(err).Msg("orchestrator: background summary update: malformed summary payload")
		return
	}
	summary.UserID = userID
	summary.SessionID = sessionID
	summary.LastUpdated = float64(time.Now().Unix())

	if err := o.store.SaveSessionSummary(ctx, userID, sessionID, summary); err != nil {
		log.Warn().Err(err).Msg("orchestrator: background summary update: save failed")
	}
}

func decodeCustomResponse(custom map[string]any, out any) error {
	b, err := json.Marshal(custom)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// handleErrorResponse publishes one of the fixed fallback messages in place
// of a real answer and still records the request as complete, matching
// _handle_error_response's "never leave the turn unanswered" behavior.
func (o *Orchestrator) handleErrorResponse(ctx context.Context, requestID string, started time.Time, cause error) {
	log.Error().Err(cause).Str("request_id", requestID).Msg("orchestrator: turn failed, serving fallback message")

	event := StatusEvent{RequestID: requestID, FinalAnswer: fallback.Message(), Error: cause.Error()}
	if err := o.store.Publish(ctx, statusChannel(requestID), event); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("orchestrator: failed to publish fallback response")
	}
	o.metrics.RecordRequestComplete(time.Since(started).Seconds(), true)
}

func (o *Orchestrator) sendStatus(ctx context.Context, requestID, step string) {
	if err := o.store.Publish(ctx, statusChannel(requestID), StatusEvent{RequestID: requestID, Step: step}); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Str("step", step).Msg("orchestrator: failed to publish status")
	}
}

func statusChannel(requestID string) string {
	return "chat_status:" + requestID
}

// dispatchLLM publishes one LLM job and blocks until its matching response
// arrives on the bus or stepTimeout elapses, recording step and LLM-job
// metrics around the round trip.
func (o *Orchestrator) dispatchLLM(ctx context.Context, requestID, step, message, systemPrompt string, jsonResponse bool, metadata map[string]any) (model.LLMResponse, error) {
	started := time.Now()
	o.metrics.RecordLLMJobStart()

	job := model.LLMJob{
		RequestID:     requestID,
		Step:          step,
		Message:       message,
		SystemPrompt:  systemPrompt,
		JSONResponse:  jsonResponse,
		ResponseTopic: o.bus.ResponseTopic(),
		Metadata:      metadata,
	}
	// Register before publishing: a fast-replying worker (or, in tests, a
	// synchronous fake bus) could otherwise deliver its response before
	// this goroutine starts waiting for it.
	ch, err := o.pending.Register(requestID)
	if err != nil {
		o.metrics.RecordLLMJobEnd(step, time.Since(started).Seconds())
		return model.LLMResponse{}, fmt.Errorf("register pending wait: %w", err)
	}
	if err := o.bus.PublishJob(ctx, job); err != nil {
		o.metrics.RecordLLMJobEnd(step, time.Since(started).Seconds())
		o.pending.Forget(requestID)
		return model.LLMResponse{}, fmt.Errorf("publish llm job: %w", err)
	}

	resp, err := o.pending.Await(ctx, requestID, ch, o.stepTimeout)
	duration := time.Since(started).Seconds()
	o.metrics.RecordLLMJobEnd(step, duration)
	o.metrics.RecordStepDuration(step, duration)
	if err != nil {
		return model.LLMResponse{}, fmt.Errorf("await llm response for step %s: %w", step, err)
	}
	if resp.Error != "" {
		return model.LLMResponse{}, fmt.Errorf("llm worker error on step %s: %s", step, resp.Error)
	}
	if resp.Usage != nil && resp.Usage.TokenCount > 0 {
		o.metrics.RecordTokens(resp.Usage.TokenCount, resp.Usage.TotalDuration)
	}
	return resp, nil
}

// handleResponse is the bus consumer callback: it resolves the matching
// pending wait, if any, and ignores heartbeat pong records and
// already-timed-out or unrecognized request ids.
func (o *Orchestrator) handleResponse(_ context.Context, resp model.LLMResponse) error {
	if resp.Type == "pong" {
		return nil
	}
	o.pending.Resolve(resp)
	return nil
}

// pingLoop emits a heartbeat record on the jobs topic every pingInterval so
// worker processes can detect a live orchestrator, until ctx is canceled.
func (o *Orchestrator) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := o.bus.PublishRaw(ctx, "ping", model.LLMResponse{Type: "ping"}); err != nil {
				log.Warn().Err(err).Msg("orchestrator: ping heartbeat publish failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
