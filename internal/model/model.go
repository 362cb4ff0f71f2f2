// Package model holds the shared wire and domain types passed between the
// bus, store, mcpclient, toolargs, prompt, and orchestrator packages.
package model

import "encoding/json"

// Decision is the classifier's verdict for routing one user turn.
type Decision string

const (
	DecisionTool               Decision = "tool"
	DecisionNoTool             Decision = "no_tool"
	DecisionAskClarification   Decision = "ask_clarification"
	DecisionInappropriateBlock Decision = "inappropriate_block"
	DecisionGibberish          Decision = "gibberish"
)

// NormalizeDecision maps any unrecognized or empty decision value to
// DecisionNoTool, per spec.md's "unrecognized decision -> no_tool" rule.
func NormalizeDecision(raw string) Decision {
	switch Decision(raw) {
	case DecisionTool, DecisionNoTool, DecisionAskClarification, DecisionInappropriateBlock, DecisionGibberish:
		return Decision(raw)
	default:
		return DecisionNoTool
	}
}

// SessionType is the conversation modality for a request.
type SessionType string

const (
	SessionTextToText     SessionType = "1"
	SessionTextToSpeech   SessionType = "2"
	SessionSpeechToText   SessionType = "3"
	SessionSpeechToSpeech SessionType = "4"
)

// NeedsAudio reports whether the modality requires a synthesized reply.
func (s SessionType) NeedsAudio() bool {
	return s == SessionTextToSpeech || s == SessionSpeechToSpeech
}

// ResponseType selects how the accepted-request acknowledgement and
// completion are delivered. Only SSE (the default) is implemented by this
// module; websocket/firebase delivery belongs to the out-of-scope HTTP
// adapter.
type ResponseType string

const (
	ResponseSSE       ResponseType = "0"
	ResponseWebsocket ResponseType = "11"
	ResponseFirebase  ResponseType = "12"
)

// Request is the per-request state owned exclusively by the orchestration
// task that spawned it.
type Request struct {
	ID                string         `json:"request_id"`
	UserID            string         `json:"user_id"`
	SessionID         string         `json:"session_id,omitempty"`
	PersonID          string         `json:"person_id,omitempty"`
	PersonalityID     string         `json:"personality_id,omitempty"`
	SessionType       SessionType    `json:"session_type,omitempty"`
	ResponseType      ResponseType   `json:"response_type,omitempty"`
	Message           string         `json:"message"`
	ImageURL          string         `json:"image_url,omitempty"`
	SelectedFilters   map[string]any `json:"selected_filters,omitempty"`
	RecommendationIDs []string       `json:"recommendation_ids,omitempty"`
	Fillers           bool           `json:"fillers,omitempty"`
}

// HistoryEntry is one rolling-history item for a (user_id, session_id).
type HistoryEntry struct {
	Role     string         `json:"role"` // user | assistant | tool
	Content  string         `json:"content,omitempty"`
	ToolName string         `json:"name,omitempty"`
	ToolArgs map[string]any `json:"args,omitempty"`
}

// SessionSummary is the short rolling memory kept per (user_id, session_id).
type SessionSummary struct {
	UserID          string   `json:"user_id"`
	SessionID       string   `json:"session_id,omitempty"`
	ImportantPoints []string `json:"important_points"`
	UserDetails     []string `json:"user_details"`
	LastUpdated     float64  `json:"last_updated"`
}

// ToolState is the full persisted blob for (user_id, session_id): one
// section per tool name plus the reserved "_seen_docs" pagination-dedupe
// section.
type ToolState struct {
	Tools    map[string]map[string]any `json:"-"`
	SeenDocs map[string][]string       `json:"_seen_docs,omitempty"`
}

const seenDocsKey = "_seen_docs"

// NewToolState returns an empty, ready-to-use ToolState.
func NewToolState() ToolState {
	return ToolState{Tools: map[string]map[string]any{}, SeenDocs: map[string][]string{}}
}

// MarshalJSON flattens Tools and SeenDocs into one JSON object, matching the
// Redis-JSON shape `{tool: {...}, "_seen_docs": {...}}` used by the source.
func (s ToolState) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range s.Tools {
		out[k] = v
	}
	if len(s.SeenDocs) > 0 {
		out[seenDocsKey] = s.SeenDocs
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON, pulling "_seen_docs" out into its own
// field and leaving everything else as per-tool sections.
func (s *ToolState) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if len(data) == 0 {
		*s = NewToolState()
		return nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := NewToolState()
	if sd, ok := raw[seenDocsKey]; ok {
		var seen map[string][]string
		if err := json.Unmarshal(sd, &seen); err == nil {
			out.SeenDocs = seen
		}
		delete(raw, seenDocsKey)
	}
	for k, v := range raw {
		var section map[string]any
		if err := json.Unmarshal(v, &section); err == nil {
			out.Tools[k] = section
		}
	}
	*s = out
	return nil
}

// ToolSchema is a single cleaned JSON-schema-shaped tool input description.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Properties  map[string]any `json:"properties"`
}

// ProfileMatch is one document returned by a search-style tool, passed
// through from tool output to the final event verbatim.
type ProfileMatch struct {
	ID       string   `json:"id"`
	ImageURL string   `json:"image_url,omitempty"`
	Name     string   `json:"name,omitempty"`
	Gender   string   `json:"gender,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ToolResult is the normalized shape of an MCP tool call's structured
// output for search-style tools: a page of documents plus whatever else the
// tool returned.
type ToolResult struct {
	Docs  []map[string]any `json:"docs"`
	Extra map[string]any   `json:"-"`
}

// LLMJob is a record published on the jobs topic, requesting one LLM step.
type LLMJob struct {
	RequestID     string         `json:"request_id"`
	Step          string         `json:"step"` // check_tool_required | select_tool | get_tool_args | summarize | custom
	Message       string         `json:"message,omitempty"`
	SystemPrompt  string         `json:"system_prompt,omitempty"`
	JSONResponse  bool           `json:"json_response,omitempty"`
	ResponseTopic string         `json:"response_topic,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// LLMResponse is a record consumed from the responses topic.
type LLMResponse struct {
	RequestID      string         `json:"request_id"`
	Step           string         `json:"step,omitempty"`
	Source         string         `json:"source,omitempty"`
	Decision       string         `json:"decision,omitempty"`
	SelectedTool   string         `json:"selected_tool,omitempty"`
	ToolArgs       map[string]any `json:"tool_args,omitempty"`
	FinalAnswer    string         `json:"final_answer,omitempty"`
	CustomResponse map[string]any `json:"custom_response,omitempty"`
	Error          string         `json:"error,omitempty"`
	Usage          *Usage         `json:"usage,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Type           string         `json:"type,omitempty"` // "ping" | "pong" for heartbeat records
}

// Usage reports token accounting for a single LLM job, when the worker
// supplies it.
type Usage struct {
	TokenCount    int     `json:"token_count,omitempty"`
	TotalDuration float64 `json:"total_duration,omitempty"`
}

// PersonaConfig enumerates every recognized persona field. Prompt assembly
// (prompt.RenderPersona) always writes the core identity and professional
// lines, even when empty, and skips the other fields when they are empty.
type PersonaConfig struct {
	VoiceID string `json:"voice_id,omitempty"`

	Identity struct {
		FullName            string   `json:"full_name,omitempty"`
		Age                 int      `json:"age,omitempty"`
		Location            string   `json:"location,omitempty"`
		Languages           []string `json:"languages,omitempty"`
		PhysicalDescription string   `json:"physical_description,omitempty"`
	} `json:"identity"`

	Professional struct {
		CurrentRole       string   `json:"current_role,omitempty"`
		Company           string   `json:"company,omitempty"`
		YearsOfExperience int      `json:"years_of_experience,omitempty"`
		AreasOfExpertise  []string `json:"areas_of_expertise,omitempty"`
	} `json:"professional"`

	Academics struct {
		School     []string `json:"school,omitempty"`
		University []string `json:"university,omitempty"`
	} `json:"academics"`

	Family struct {
		MaritalStatus  string `json:"marital_status,omitempty"`
		SpouseName     string `json:"spouse_name,omitempty"`
		ChildrenCount  int    `json:"children_count,omitempty"`
		SiblingsCount  int    `json:"siblings_count,omitempty"`
		FatherName     string `json:"father_name,omitempty"`
		MotherName     string `json:"mother_name,omitempty"`
	} `json:"family"`

	Lifestyle struct {
		Hobbies              []string `json:"hobbies,omitempty"`
		PersonalInterests    []string `json:"personal_interests,omitempty"`
		LifestyleDescription string   `json:"lifestyle_description,omitempty"`
	} `json:"lifestyle"`

	StrengthsAndWeaknesses struct {
		Strengths  []string `json:"strengths,omitempty"`
		Weaknesses []string `json:"weaknesses,omitempty"`
	} `json:"strengths_and_weaknesses"`

	Expertise        []string `json:"expertise,omitempty"`
	Humor            string   `json:"humor,omitempty"`
	ExpertLevel      string   `json:"expert_level,omitempty"`
	ResponseLanguage string   `json:"response_language,omitempty"`
}

// PersonProfile is the slim projection of a conversation partner's profile
// cached for a chat turn.
type PersonProfile struct {
	Name      string   `json:"name,omitempty"`
	Age       int      `json:"age,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Location  string   `json:"location,omitempty"`
	Interests []string `json:"interests,omitempty"`
}
