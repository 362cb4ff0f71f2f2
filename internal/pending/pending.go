// Package pending implements the correlation registry the orchestrator
// uses to wait for a bus response to one in-flight LLM job: register a
// request id before dispatching, then block on a single-shot channel until
// the response loop resolves it or a timeout fires.
//
// Grounded on original_source/app/services/orchestrator.py's
// self._pending/self._lock/_wait_for_llm, translated from an
// asyncio.Future map to a guarded map of one-shot Go channels.
package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// Registry guards a map of in-flight waiters keyed by request id.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]chan model.LLMResponse
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{waiters: map[string]chan model.LLMResponse{}}
}

// Wait registers requestID as awaited, dispatches nothing itself, and
// blocks until Resolve delivers a matching response, ctx is canceled, or
// timeout elapses. The waiter is always deregistered before Wait returns.
func (r *Registry) Wait(ctx context.Context, requestID string, timeout time.Duration) (model.LLMResponse, error) {
	ch, err := r.Register(requestID)
	if err != nil {
		return model.LLMResponse{}, err
	}
	return r.Await(ctx, requestID, ch, timeout)
}

// Register records requestID as awaited and returns the channel Resolve
// will deliver onto. It fails if requestID is already registered, rather
// than silently overwriting (and leaking) the existing waiter's channel.
// Callers that need to publish their request only after the waiter is
// registered (to avoid a race against an immediate response) should call
// Register, publish, then Await — rather than Wait, which registers and
// blocks in one step.
func (r *Registry) Register(requestID string) (chan model.LLMResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiters[requestID]; exists {
		return nil, fmt.Errorf("request id already registered: %s", requestID)
	}
	ch := make(chan model.LLMResponse, 1)
	r.waiters[requestID] = ch
	return ch, nil
}

// Await blocks on a channel previously returned by Register until Resolve
// delivers a matching response, ctx is canceled, or timeout elapses,
// deregistering requestID in every case.
func (r *Registry) Await(ctx context.Context, requestID string, ch chan model.LLMResponse, timeout time.Duration) (model.LLMResponse, error) {
	defer func() {
		r.mu.Lock()
		delete(r.waiters, requestID)
		r.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return model.LLMResponse{}, fmt.Errorf("pending registry shut down while waiting for %s", requestID)
		}
		return resp, nil
	case <-timer.C:
		return model.LLMResponse{}, fmt.Errorf("timeout waiting for llm response: %s", requestID)
	case <-ctx.Done():
		return model.LLMResponse{}, ctx.Err()
	}
}

// Forget deregisters requestID without delivering anything, used when a
// publish fails after Register so the waiter doesn't linger until timeout.
func (r *Registry) Forget(requestID string) {
	r.mu.Lock()
	delete(r.waiters, requestID)
	r.mu.Unlock()
}

// Resolve delivers resp to the waiter registered under resp.RequestID, if
// one exists. It never blocks: a waiter that already timed out, or that
// was never registered, is silently ignored — this is the expected shape
// for self-echoed records and late/duplicate responses.
func (r *Registry) Resolve(resp model.LLMResponse) bool {
	r.mu.Lock()
	ch, ok := r.waiters[resp.RequestID]
	if ok {
		delete(r.waiters, resp.RequestID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	ch <- resp
	return true
}

// CancelAll unblocks every pending Wait/Await call with a registry-shutdown
// error, used on shutdown so in-flight orchestration tasks don't hang
// forever.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.waiters {
		close(ch)
		delete(r.waiters, id)
	}
}

// Len reports the number of in-flight waiters, for metrics/debugging.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
