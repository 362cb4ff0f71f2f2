package mcpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

func TestSanitizeSchemaFillsMissingObjectProperties(t *testing.T) {
	s := map[string]any{"type": "object"}
	sanitizeSchema(s)
	assert.Equal(t, map[string]any{}, s["properties"])
}

func TestSanitizeSchemaFillsMissingArrayItems(t *testing.T) {
	s := map[string]any{"type": "array"}
	sanitizeSchema(s)
	require.Equal(t, map[string]any{"type": "string"}, s["items"])
}

func TestSanitizeSchemaRecursesIntoNestedProperties(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filters": map[string]any{"type": "object"},
			"tags":    map[string]any{"type": "array"},
		},
	}
	sanitizeSchema(s)
	props := s["properties"].(map[string]any)
	assert.Equal(t, map[string]any{}, props["filters"].(map[string]any)["properties"])
	assert.Equal(t, map[string]any{"type": "string"}, props["tags"].(map[string]any)["items"])
}

func TestSanitizeSchemaNormalizesRequiredToStringSlice(t *testing.T) {
	s := map[string]any{"required": []any{"age", "location"}}
	sanitizeSchema(s)
	assert.Equal(t, []string{"age", "location"}, s["required"])
}

func TestSanitizeSchemaRecursesIntoAnyOf(t *testing.T) {
	s := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "array"},
		},
	}
	sanitizeSchema(s)
	branch := s["anyOf"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"type": "string"}, branch["items"])
}

func TestFormatToolDescriptionsNumbersEachTool(t *testing.T) {
	out := FormatToolDescriptions([]model.ToolSchema{
		{Name: "search_profiles", Description: "search for matches"},
		{Name: "get_profile_recommendations", Description: "recommend profiles"},
	})
	assert.Contains(t, out, "1. search_profiles: search for matches")
	assert.Contains(t, out, "2. get_profile_recommendations: recommend profiles")
}

func TestClientToolMetaMissingReturnsFalse(t *testing.T) {
	c := &Client{tools: []model.ToolSchema{{Name: "search_profiles"}}}
	_, ok := c.ToolMeta("no_such_tool")
	assert.False(t, ok)
}

func TestClientToolMetaFound(t *testing.T) {
	c := &Client{tools: []model.ToolSchema{{Name: "search_profiles", Description: "d"}}}
	meta, ok := c.ToolMeta("search_profiles")
	require.True(t, ok)
	assert.Equal(t, "d", meta.Description)
}
