// Package store adapts Redis as the orchestrator's keyed store: bounded
// chat history, session summaries, tool state, a pub/sub completion
// channel, and a TTL-cached person profile lookup.
//
// Grounded on original_source/app/services/redis_service.py (key scheme,
// lpush/ltrim history semantics, scan_iter based listing, TTL cache) and
// orchestrator.py's get_history/append_history, adapted to
// manifold/internal/persistence/databases/chat_store_memory.go's Go idiom
// (context-first methods, zerolog on errors).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// historyDepth bounds chat history to the five most recent turns, matching
// the source's `lrange 0 4` / `ltrim 0 4`.
const historyDepth = 4

// personProfileTTL is the cache lifetime for a fetched person profile.
const personProfileTTL = 24 * time.Hour

// Store wraps a Redis client with the orchestrator's key scheme.
type Store struct {
	client *redis.Client
}

// New connects to addr. It does not verify connectivity; callers that need
// a fail-fast startup check should call Ping.
func New(addr string) *Store {
	return &Store{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Ping verifies the connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func historyKey(userID, sessionID string) string {
	if sessionID != "" {
		return fmt.Sprintf("chat_history:%s:%s", userID, sessionID)
	}
	return fmt.Sprintf("chat_history:%s", userID)
}

func summaryKey(userID, sessionID string) string {
	if sessionID != "" {
		return fmt.Sprintf("session_summary:%s:%s", userID, sessionID)
	}
	return fmt.Sprintf("session_summary:%s", userID)
}

func toolStateKey(userID, sessionID string) string {
	if sessionID != "" {
		return fmt.Sprintf("tool_state:%s:%s", userID, sessionID)
	}
	return fmt.Sprintf("tool_state:%s", userID)
}

func personProfileKey(userID, personID string) string {
	return fmt.Sprintf("person_profile:%s:%s", userID, personID)
}

// GetHistory returns up to the five most recent turns, oldest first,
// matching the source's reverse-of-lrange(0,4) ordering.
func (s *Store) GetHistory(ctx context.Context, userID, sessionID string) ([]model.HistoryEntry, error) {
	items, err := s.client.LRange(ctx, historyKey(userID, sessionID), 0, historyDepth).Result()
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	history := make([]model.HistoryEntry, 0, len(items))
	for _, raw := range items {
		var entry model.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Warn().Err(err).Msg("store: skipping malformed history entry")
			continue
		}
		history = append(history, entry)
	}
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// AppendHistory pushes a new turn and trims to the bounded depth.
func (s *Store) AppendHistory(ctx context.Context, userID string, entry model.HistoryEntry, sessionID string) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := historyKey(userID, sessionID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, historyDepth).Err(); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// DeleteHistory removes one session's history, or every session's history
// for the user when sessionID is empty.
func (s *Store) DeleteHistory(ctx context.Context, userID, sessionID string) error {
	if sessionID != "" {
		return s.client.Del(ctx, historyKey(userID, sessionID)).Err()
	}
	return s.deleteByPattern(ctx, fmt.Sprintf("chat_history:%s*", userID))
}

// GetSessionSummary returns the stored summary, or a zero-value summary
// scoped to userID if none exists.
func (s *Store) GetSessionSummary(ctx context.Context, userID, sessionID string) (model.SessionSummary, error) {
	data, err := s.client.Get(ctx, summaryKey(userID, sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return model.SessionSummary{UserID: userID, SessionID: sessionID}, nil
		}
		return model.SessionSummary{}, fmt.Errorf("get session summary: %w", err)
	}
	var summary model.SessionSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return model.SessionSummary{UserID: userID, SessionID: sessionID}, nil
	}
	return summary, nil
}

// SaveSessionSummary persists the summary as a JSON scalar.
func (s *Store) SaveSessionSummary(ctx context.Context, userID, sessionID string, summary model.SessionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session summary: %w", err)
	}
	return s.client.Set(ctx, summaryKey(userID, sessionID), data, 0).Err()
}

// DeleteSessionSummary removes one session summary.
func (s *Store) DeleteSessionSummary(ctx context.Context, userID, sessionID string) error {
	return s.client.Del(ctx, summaryKey(userID, sessionID)).Err()
}

// DeleteAllSessionSummaries removes every summary for a user.
func (s *Store) DeleteAllSessionSummaries(ctx context.Context, userID string) error {
	return s.deleteByPattern(ctx, fmt.Sprintf("session_summary:%s*", userID))
}

// GetAllSessionSummaries scans and parses every summary for a user.
func (s *Store) GetAllSessionSummaries(ctx context.Context, userID string) ([]model.SessionSummary, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("session_summary:%s*", userID))
	if err != nil {
		return nil, err
	}
	summaries := make([]model.SessionSummary, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var summary model.SessionSummary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("store: skipping malformed session summary")
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetToolState returns the persisted tool state, or an empty state if none
// exists.
func (s *Store) GetToolState(ctx context.Context, userID, sessionID string) (model.ToolState, error) {
	data, err := s.client.Get(ctx, toolStateKey(userID, sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return model.NewToolState(), nil
		}
		return model.ToolState{}, fmt.Errorf("get tool state: %w", err)
	}
	var state model.ToolState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return model.NewToolState(), nil
	}
	return state, nil
}

// SaveToolState persists the full tool state as one JSON object.
func (s *Store) SaveToolState(ctx context.Context, userID, sessionID string, state model.ToolState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal tool state: %w", err)
	}
	return s.client.Set(ctx, toolStateKey(userID, sessionID), data, 0).Err()
}

// DeleteToolState removes one session's tool state.
func (s *Store) DeleteToolState(ctx context.Context, userID, sessionID string) error {
	return s.client.Del(ctx, toolStateKey(userID, sessionID)).Err()
}

// DeleteAllToolStates removes every tool state for a user.
func (s *Store) DeleteAllToolStates(ctx context.Context, userID string) error {
	return s.deleteByPattern(ctx, fmt.Sprintf("tool_state:%s*", userID))
}

// Publish emits a completion or status record on a channel, used for the
// `chat_status:{request_id}` SSE fan-out channel.
func (s *Store) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// Subscribe returns a channel of raw JSON payloads published on the given
// Redis channel. The returned cleanup func unsubscribes; callers should
// defer it.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	pubsub := s.client.Subscribe(ctx, channel)
	out := make(chan []byte)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }
}

// GetPersonProfile returns a cached profile, or nil if absent/expired.
func (s *Store) GetPersonProfile(ctx context.Context, userID, personID string) (*model.PersonProfile, error) {
	data, err := s.client.Get(ctx, personProfileKey(userID, personID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get person profile: %w", err)
	}
	var profile model.PersonProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, nil
	}
	return &profile, nil
}

// SavePersonProfileCache caches a person profile for personProfileTTL.
func (s *Store) SavePersonProfileCache(ctx context.Context, userID, personID string, profile model.PersonProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal person profile: %w", err)
	}
	return s.client.Set(ctx, personProfileKey(userID, personID), data, personProfileTTL).Err()
}

// ChatSession summarizes one tracked (user, session) pair's history depth.
type ChatSession struct {
	SessionID string
	Count     int64
}

// GetUserChatSessions lists every chat-history key for a user with its
// message count.
func (s *Store) GetUserChatSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	keys, err := s.scanKeys(ctx, fmt.Sprintf("chat_history:%s*", userID))
	if err != nil {
		return nil, err
	}
	sessions := make([]ChatSession, 0, len(keys))
	for _, key := range keys {
		count, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			continue
		}
		sessions = append(sessions, ChatSession{SessionID: sessionIDFromKey(key), Count: count})
	}
	return sessions, nil
}

func sessionIDFromKey(key string) string {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	if len(parts) > 2 {
		return parts[2]
	}
	return ""
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

func (s *Store) deleteByPattern(ctx context.Context, pattern string) error {
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
