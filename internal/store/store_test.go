package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// requireRedis skips the test when no Redis instance is reachable on the
// default address; these tests exercise the real client against a local
// broker rather than a mock, matching the store's thin-wrapper design.
func requireRedis(t *testing.T) *Store {
	t.Helper()
	s := New("localhost:6379")
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	return s
}

func TestHistoryBoundedToFive(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()
	userID := "test-user-history"
	t.Cleanup(func() { _ = s.DeleteHistory(ctx, userID, "") })

	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendHistory(ctx, userID, model.HistoryEntry{Role: "user", Content: "msg"}, ""))
	}

	history, err := s.GetHistory(ctx, userID, "")
	require.NoError(t, err)
	require.Len(t, history, 5)
}

func TestHistoryOrderedOldestFirst(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()
	userID := "test-user-order"
	t.Cleanup(func() { _ = s.DeleteHistory(ctx, userID, "") })

	require.NoError(t, s.AppendHistory(ctx, userID, model.HistoryEntry{Role: "user", Content: "first"}, ""))
	require.NoError(t, s.AppendHistory(ctx, userID, model.HistoryEntry{Role: "assistant", Content: "second"}, ""))

	history, err := s.GetHistory(ctx, userID, "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "first", history[0].Content)
	require.Equal(t, "second", history[1].Content)
}

func TestSessionSummaryRoundTrip(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()
	userID := "test-user-summary"
	t.Cleanup(func() { _ = s.DeleteSessionSummary(ctx, userID, "sess-1") })

	summary := model.SessionSummary{UserID: userID, SessionID: "sess-1", ImportantPoints: []string{"likes hiking"}}
	require.NoError(t, s.SaveSessionSummary(ctx, userID, "sess-1", summary))

	got, err := s.GetSessionSummary(ctx, userID, "sess-1")
	require.NoError(t, err)
	require.Equal(t, summary.ImportantPoints, got.ImportantPoints)
}

func TestSessionSummaryMissingReturnsZeroValue(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()

	got, err := s.GetSessionSummary(ctx, "no-such-user", "")
	require.NoError(t, err)
	require.Equal(t, "no-such-user", got.UserID)
	require.Empty(t, got.ImportantPoints)
}

func TestToolStateRoundTrip(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()
	userID := "test-user-toolstate"
	t.Cleanup(func() { _ = s.DeleteToolState(ctx, userID, "") })

	state := model.NewToolState()
	state.Tools["search_profiles"] = map[string]any{"page": float64(2)}
	state.SeenDocs["search_profiles"] = []string{"doc-1", "doc-2"}
	require.NoError(t, s.SaveToolState(ctx, userID, "", state))

	got, err := s.GetToolState(ctx, userID, "")
	require.NoError(t, err)
	require.Equal(t, float64(2), got.Tools["search_profiles"]["page"])
	require.Equal(t, []string{"doc-1", "doc-2"}, got.SeenDocs["search_profiles"])
}

func TestPersonProfileCacheRoundTrip(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()
	userID, personID := "test-user-profile", "person-1"
	t.Cleanup(func() { _, _ = s.client.Del(ctx, personProfileKey(userID, personID)).Result() })

	profile := model.PersonProfile{Name: "Alex", Age: 29, Gender: "f"}
	require.NoError(t, s.SavePersonProfileCache(ctx, userID, personID, profile))

	got, err := s.GetPersonProfile(ctx, userID, personID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, profile.Name, got.Name)
}

func TestPersonProfileCacheMissReturnsNil(t *testing.T) {
	s := requireRedis(t)
	ctx := context.Background()

	got, err := s.GetPersonProfile(ctx, "no-such-user", "no-such-person")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPublishSubscribeDeliversPayload(t *testing.T) {
	s := requireRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, unsubscribe := s.Subscribe(ctx, "test-channel-publish")
	defer unsubscribe()
	time.Sleep(50 * time.Millisecond) // allow subscription to register

	require.NoError(t, s.Publish(ctx, "test-channel-publish", map[string]string{"final_answer": "done"}))

	select {
	case payload := <-ch:
		require.Contains(t, string(payload), "done")
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}
