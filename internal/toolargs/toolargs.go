// Package toolargs implements the deterministic tool-argument engine: it
// merges the LLM's extracted arguments onto persisted per-tool state,
// normalizes pagination intent, resets filters, drops schema-invalid
// fields, and detects when a page of results is a near-duplicate of one
// the user already saw.
//
// Ported step-for-step from
// original_source/app/services/orchestrator.py (_merge_tool_args,
// _prepare_and_validate_tool_args, _check_result_already_fetched,
// _handle_auto_reset_and_pagination) and
// original_source/app/utils/random_utils.py (validate_and_clean_tool_args).
package toolargs

import (
	"fmt"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// MaxPaginationRetries bounds how many times HandleResult will re-call a
// tool chasing fresh results before giving up and returning the last page
// it saw, matching the source's MAX_PAGINATION_RETRIES.
const MaxPaginationRetries = 4

// duplicateThreshold is the "more than 4 duplicate docs" rule from
// _check_result_already_fetched.
const duplicateThreshold = 4

// Merge combines the LLM's newly extracted arguments with the persisted
// section of state for this tool, applying pagination normalization, reset
// handling, null-removes-key merging, and the filter-changed-resets-page-1
// rule. It returns the merged arguments; state is not mutated or persisted
// here — callers persist the result of Prepare.
func Merge(state model.ToolState, tool string, newArgs map[string]any) map[string]any {
	final := cloneArgs(newArgs)
	current := state.Tools[tool]
	if current == nil {
		current = map[string]any{}
	}

	if rawPage, ok := final["page"]; ok {
		prevPage := 1.0
		if p, ok := asFloat(current["page"]); ok {
			prevPage = p
		}
		if page, ok := asFloat(rawPage); ok {
			if page > 0 {
				final["page"] = prevPage + 1
			} else {
				final["page"] = 1.0
			}
		}
	}

	if reset, ok := final["_reset"]; ok && truthy(reset) {
		current = map[string]any{}
	}
	delete(final, "_reset")

	merged := cloneArgs(current)
	for k, v := range final {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	filtersChanged := false
	for k := range final {
		if k == "page" || k == "_reset" || k == "user_id" {
			continue
		}
		filtersChanged = true
		break
	}
	if filtersChanged {
		merged["page"] = 1.0
	}

	return merged
}

// Prepare is the full per-turn pipeline: merge with persisted state, inject
// userID, and prune against the tool's schema (drop unknown keys, empty
// values, enum/type mismatches, recursing into nested objects). The caller
// is responsible for persisting the returned args into state.Tools[tool]
// and writing state back to the store.
func Prepare(state model.ToolState, tool, userID string, newArgs map[string]any, schema model.ToolSchema) map[string]any {
	merged := Merge(state, tool, newArgs)
	merged["user_id"] = userID
	return cleanAgainstSchema(merged, schema.Properties)
}

func cleanAgainstSchema(args map[string]any, properties map[string]any) map[string]any {
	cleaned := map[string]any{}
	for k, v := range args {
		schemaDef, allowed := properties[k]
		if !allowed {
			continue
		}
		if isEmpty(v) {
			continue
		}
		def, _ := schemaDef.(map[string]any)

		if enumRaw, ok := def["enum"]; ok {
			enum, _ := enumRaw.([]any)
			if list, ok := v.([]any); ok {
				valid := filterAllowed(list, enum)
				if len(valid) == 0 {
					continue
				}
				v = valid
			} else if !containsAny(enum, v) {
				continue
			}
		}

		switch def["type"] {
		case "integer":
			if _, ok := asFloat(v); !ok {
				continue
			}
		case "number":
			if _, ok := asFloat(v); !ok {
				continue
			}
		case "string":
			switch v.(type) {
			case string, []any:
			default:
				continue
			}
		}

		if nested, ok := v.(map[string]any); ok {
			if nestedProps, ok := def["properties"].(map[string]any); ok {
				cleaned[k] = cleanAgainstSchema(nested, nestedProps)
				continue
			}
		}
		cleaned[k] = v
	}
	return cleaned
}

// SeenResult reports a tool call's relationship to documents the user
// already saw this session.
type SeenResult struct {
	// Duplicates counts how many of this page's doc ids were already in
	// state for this tool.
	Duplicates int
	// AlreadySeen is true once Duplicates exceeds duplicateThreshold.
	AlreadySeen bool
}

// CheckAlreadyFetched inspects a tool result's "docs" against the
// per-tool seen-doc set in state, updates that set with every id on this
// page, and reports whether the page looks like a duplicate-heavy repeat.
// It mutates state.SeenDocs in place; the caller persists state afterward.
func CheckAlreadyFetched(state *model.ToolState, tool string, result map[string]any) SeenResult {
	docs, _ := result["docs"].([]any)
	if len(docs) == 0 {
		return SeenResult{}
	}
	if state.SeenDocs == nil {
		state.SeenDocs = map[string][]string{}
	}
	seen := map[string]struct{}{}
	for _, id := range state.SeenDocs[tool] {
		seen[id] = struct{}{}
	}

	duplicates := 0
	var allIDs []string
	for _, raw := range docs {
		doc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, ok := doc["_id"].(string)
		if !ok || id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			duplicates++
		}
		allIDs = append(allIDs, id)
	}

	if len(allIDs) > 0 {
		for _, id := range allIDs {
			seen[id] = struct{}{}
		}
		merged := make([]string, 0, len(seen))
		for id := range seen {
			merged = append(merged, id)
		}
		state.SeenDocs[tool] = merged
	}

	return SeenResult{Duplicates: duplicates, AlreadySeen: duplicates > duplicateThreshold}
}

// Caller abstracts the single MCP round trip HandleResult needs to retry a
// tool call with an incremented page.
type Caller func(args map[string]any) (map[string]any, error)

// HandleResult applies the auto-reset/pagination-retry policy to one tool
// call's result: an empty "docs" page clears this tool's persisted state
// entirely (fresh start next turn); a non-empty page that looks like a
// duplicate-heavy repeat is retried with page incremented, up to
// MaxPaginationRetries times, returning the last result seen on exhaustion
// (best-effort). args is mutated in place to track the page actually used.
func HandleResult(state *model.ToolState, tool string, result map[string]any, args map[string]any, call Caller) (map[string]any, error) {
	docs, _ := result["docs"].([]any)
	if len(docs) == 0 {
		delete(state.Tools, tool)
		return result, nil
	}

	current := result
	for attempt := 0; attempt < MaxPaginationRetries; attempt++ {
		seen := CheckAlreadyFetched(state, tool, current)
		if !seen.AlreadySeen {
			return current, nil
		}

		page := 1.0
		if p, ok := asFloat(args["page"]); ok {
			page = p
		}
		args["page"] = page + 1

		next, err := call(args)
		if err != nil {
			return nil, fmt.Errorf("retry tool call for pagination: %w", err)
		}
		if next == nil {
			break
		}
		current = next
	}

	if state.Tools == nil {
		state.Tools = map[string]map[string]any{}
	}
	state.Tools[tool] = args
	return current, nil
}

func cloneArgs(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string:
		return t != ""
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func filterAllowed(values []any, allowed []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if containsAny(allowed, v) {
			out = append(out, v)
		}
	}
	return out
}

func containsAny(allowed []any, v any) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
