// Package prompt assembles every system prompt the orchestrator dispatches
// to the LLM worker, renders personas into system-prompt text, and
// tolerantly parses the JSON the LLM returns.
//
// Grounded on original_source/app/services/prompts.py (verbatim prompt
// templates, one function per decision path) and
// original_source/app/utils/random_utils.py (persona_json_to_system_prompt,
// tools_specific_promtps, strip_json_comments/try_extract_json_from_error).
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jayasurya072001/match-making-backend/internal/model"
)

// FormatHistory renders a history slice as a plain text block, one line
// per turn, matching format_history_for_prompt.
func FormatHistory(history []model.HistoryEntry) string {
	if len(history) == 0 {
		return "No history available."
	}
	var lines []string
	for _, msg := range history {
		role := strings.Title(msg.Role)
		switch role {
		case "Tool":
			lines = append(lines, fmt.Sprintf("Tool (%s) Call: %v", msg.ToolName, msg.ToolArgs))
		case "Assistant":
			if msg.Content == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s", role, msg.Content))
		default:
			lines = append(lines, fmt.Sprintf("%s: %s", role, msg.Content))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatUserProfile renders a person profile as a short context block, or
// "" if the profile is empty, matching format_user_profile.
func FormatUserProfile(profile *model.PersonProfile) string {
	if profile == nil {
		return ""
	}
	var lines []string
	if profile.Name != "" {
		lines = append(lines, "Name: "+profile.Name)
	}
	if profile.Age > 0 {
		lines = append(lines, fmt.Sprintf("Age: %d", profile.Age))
	}
	if profile.Gender != "" {
		lines = append(lines, "Gender: "+profile.Gender)
	}
	if profile.Location != "" {
		lines = append(lines, "Location: "+profile.Location)
	}
	if len(profile.Interests) > 0 {
		lines = append(lines, "Interests/Tags: "+strings.Join(profile.Interests, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "CONNECTED USER PROFILE:\n" + strings.Join(lines, "\n")
}

// ToolCheckPrompt is the routing-decision system prompt for step one.
func ToolCheckPrompt(historyStr string) string {
	return fmt.Sprintf(`You are a TOOL ROUTING DECISION ENGINE.

This is a SYSTEM TASK, not a conversation. Be deterministic.

Choose EXACTLY ONE decision: "tool", "no_tool", "inappropriate_block",
"ask_clarification", or "gibberish".

- "tool": the user clearly wants to find/search/filter/list/refine people
  or profiles using stored data, and mentions at least one attribute
  (gender, hair style, age, ethnicity, appearance, city).
- "no_tool": general chat, invalid or meaningless input, or anything that
  doesn't fit the other categories.
- "inappropriate_block": sexual, explicit, or abusive language.
- "ask_clarification": clear search intent but zero actionable filter
  (bare continents/countries/regions/vague areas count as zero filter).
- "gibberish": random characters with no semantic meaning.

OUTPUT FORMAT (JSON ONLY):
{
  "decision": "tool" | "gibberish" | "ask_clarification" | "inappropriate_block" | "no_tool"
}

CONVERSATION HISTORY:
%s`, historyStr)
}

// ToolSelectionPrompt asks the LLM to pick exactly one tool by name.
func ToolSelectionPrompt(toolsStr, historyStr string) string {
	return fmt.Sprintf(`You are a STRICT MCP tool selector.

A TOOL CALL IS REQUIRED.

AVAILABLE TOOLS:
%s

CONVERSATION HISTORY:
%s

Analyze the user's latest query and the conversation history to select the
MOST APPROPRIATE tool. Return JSON ONLY, with the tool name in
"selected_tool". Do not explain your choice.

OUTPUT FORMAT (JSON ONLY):
{
  "selected_tool": "tool_name"
}`, toolsStr, historyStr)
}

// ToolArgsPrompt asks the LLM to extract arguments for one already-selected
// tool, folding in that tool's extraction guide and JSON schema.
func ToolArgsPrompt(selectedTool, toolSpecificPrompt, toolSchema, historyStr string) string {
	return fmt.Sprintf(`You are a STRICT MCP tool argument extractor for the tool: %s.

TOOL SCHEMA:
%s

CONVERSATION HISTORY:
%s

Extract arguments ONLY for %s. Do not invent new tools or arguments.

SOURCES OF TRUTH
1. The LATEST user message is the PRIMARY source of truth.
2. If the LATEST message is a confirmation ("ok", "yes"), the PREVIOUS
   assistant message is the source of truth.
3. Extract ONLY the filters explicitly mentioned (or confirmed).
4. Do not re-state existing filters.

TOOL-SPECIFIC INSTRUCTIONS:
%s

OUTPUT FORMAT (JSON ONLY):
{
  "tool_args": {
    "arg_name": "arg_value"
  }
}`, selectedTool, toolSchema, historyStr, selectedTool, toolSpecificPrompt)
}

// SummaryUpdatePrompt drives the background session-summary refresh job.
func SummaryUpdatePrompt() string {
	return `You are a background memory updater for a chat session.
This is a SYSTEM MAINTENANCE TASK, not a conversation. Be factual, concise,
and deterministic; do not add commentary or invent information.

important_points: stable, long-term user preferences or constraints only.
Questions about a subject ("Who is X?") are not preferences. Statements of
personal affinity or requirement ("I like X") are. Drop points that
contradict newer information. Never store procedural or confirmation
statements.

user_details: facts about the user themselves (name, profession, location,
self-declared info). Never store biographical data about third parties,
even if the assistant discussed them at length.

Return ONLY the updated Session Summary JSON, with no surrounding text.`
}

const shortAnswerDirective = "MANDATORY: ANSWER IN ONE SENTENCE. IF ABSOLUTELY NECESSARY, USE TWO SENTENCES. DO NOT ELABORATE OR PROVIDE UNNECESSARY DETAILS."

// BasePersonality is the always-on conversational tone, prepended to
// every summarization prompt regardless of decision.
func BasePersonality() string {
	return `You are a warm, natural conversational assistant acting like a real
matchmaker in a live chat. You respond as a person, not a system.

Write like people text: short, simple sentences, no lists, no headings, no
corporate tone, no greetings or sign-offs. Respond directly to what the
user just said. If the user is abusive, hateful, or sexually explicit, set
a calm brief boundary and steer back to respectful dating preferences.

Never mention tools, filters, databases, or that you are checking/searching
anything. Output only the reply itself.`
}

// summaryContext is the session-summary/user-profile tail every
// summarization prompt variant appends, when present.
func summaryContext(summary *model.SessionSummary, profile *model.PersonProfile) string {
	var b strings.Builder
	if summary != nil && len(summary.ImportantPoints) > 0 {
		fmt.Fprintf(&b, "\nIMPORTANT CONTEXT (use only if relevant):\n%s\nUser Details: %s\n",
			strings.Join(summary.ImportantPoints, ", "), strings.Join(summary.UserDetails, ", "))
	}
	if formatted := FormatUserProfile(profile); formatted != "" {
		fmt.Fprintf(&b, "\n%s\n", formatted)
	}
	return b.String()
}

// ClarificationSummaryPrompt asks a single short clarifying question.
func ClarificationSummaryPrompt(historyStr, personality string, summary *model.SessionSummary, profile *model.PersonProfile) string {
	return fmt.Sprintf(`%s

The user's latest message is unclear, incomplete, or ambiguous. Ask exactly
ONE short, casual clarification question. Do not answer, assume, or guess
intent, and do not explain why you're asking.

CONVERSATION HISTORY:
%s

ONLY OUTPUT THE CLARIFICATION QUESTION.
%s`, personality, historyStr, summaryContext(summary, profile))
}

// NoToolSummaryPrompt replies to general chat, redirecting anything
// outside dating/matchmaking scope.
func NoToolSummaryPrompt(historyStr, personality string, summary *model.SessionSummary, profile *model.PersonProfile) string {
	return fmt.Sprintf(`%s

You are a dating and matchmaking assistant. You may ONLY discuss dating,
matchmaking, relationships, attraction, communication between partners,
dating app usage, or personal questions about yourself. For anything else
(programming, history, politics, celebrities, science, current events, or
any non-dating topic) respond with exactly this and nothing else:

"I'm here only to help with dating and match-making... If you'd like, you
can ask me something related to dating, relationships, or finding a match."

Keep replies to 1-2 sentences, conversational and human.

CONVERSATION HISTORY:
%s
%s`, personality, historyStr, summaryContext(summary, profile))
}

// ToolSummaryPrompt replies after a tool call, branching on whether any
// documents were found.
func ToolSummaryPrompt(historyStr string, hasResults bool, toolResult, personality string, summary *model.SessionSummary, profile *model.PersonProfile) string {
	var resultContext string
	if hasResults {
		resultContext = `You found some matches! Respond positively at a high level
(matchmaker style) without listing profiles, counts, or attributes. Ask at
most one light follow-up question about refining the search.`
	} else {
		resultContext = `No matches were found. Clearly state that no matching profiles
are available, without implying or inventing any matches. Suggest trying a
different query based on recent conversation, then ask at most one simple
follow-up question. Do not sound apologetic.`
	}
	return fmt.Sprintf(`%s

You are responding after a search has been performed. %s

Stay strictly in dating/matchmaking scope; for anything else, use exactly:
"I'm here only to help with dating and match-making. If you'd like, you can
ask me something related to dating, relationships, or finding a match."

Keep replies to 1-2 sentences, conversational and human. Do not mention
tools, systems, searches, or databases, and do not dump raw data.

TOOL RESULT:
%s

CONVERSATION HISTORY:
%s
%s`, personality, resultContext, toolResult, historyStr, summaryContext(summary, profile))
}

// InappropriateSummaryPrompt sets a calm boundary without engaging.
func InappropriateSummaryPrompt(historyStr, personality string, summary *model.SessionSummary, profile *model.PersonProfile) string {
	return fmt.Sprintf(`%s

The user's last message violates respectful conversation boundaries. Set a
respectful (sexual content) or firm-but-calm (abusive content) boundary in
1-2 sentences. Do not engage with the content, ask follow-up questions, or
escalate.
%s`, personality, summaryContext(summary, profile))
}

// GibberishSummaryPrompt politely asks the user to repeat themselves.
func GibberishSummaryPrompt(historyStr, personality string, summary *model.SessionSummary, profile *model.PersonProfile) string {
	return fmt.Sprintf(`You are a friendly assistant. The last user message was unclear.
Be polite and natural; do not guess intent or mention errors. Keep the
response to 1 sentence, 2 at most. Politely say you didn't understand and
invite the user to try again.

Tone:
%s

CONVERSATION HISTORY:
%s
%s`, personality, historyStr, summaryContext(summary, profile))
}

// SummarizePrompt picks the right summarization template for a decision,
// applying the personality override (if any) and the session summary/user
// profile context, then appends the short-answer and language directives,
// matching _step_summarize's branching.
func SummarizePrompt(decision model.Decision, historyStr string, hasToolResults bool, toolResult, personality string, languages []string, summary *model.SessionSummary, profile *model.PersonProfile) string {
	if personality == "" {
		personality = BasePersonality()
	}
	var body string
	switch decision {
	case model.DecisionAskClarification:
		body = ClarificationSummaryPrompt(historyStr, personality, summary, profile)
	case model.DecisionTool:
		body = ToolSummaryPrompt(historyStr, hasToolResults, toolResult, personality, summary, profile)
	case model.DecisionInappropriateBlock:
		body = InappropriateSummaryPrompt(historyStr, personality, summary, profile)
	case model.DecisionGibberish:
		body = GibberishSummaryPrompt(historyStr, personality, summary, profile)
	default:
		body = NoToolSummaryPrompt(historyStr, personality, summary, profile)
	}
	return body + "\n" + shortAnswerDirective + "\n" + languageDirective(languages)
}

// languageDirective enforces the persona's declared languages, or English
// when none are declared, matching the LANGUAGE_PROMPT branch.
func languageDirective(languages []string) string {
	if len(languages) == 0 {
		return "MANDATORY: SPEAK ONLY IN ENGLISH. DO NOT USE ANY OTHER LANGUAGE OR MIX LANGUAGES IN YOUR RESPONSE."
	}
	return fmt.Sprintf("MANDATORY: SPEAK ONLY IN %s. DO NOT USE ANY OTHER LANGUAGE OR MIX LANGUAGES IN YOUR RESPONSE.", strings.Join(languages, ", "))
}

// RenderPersona converts a persona config into a system-prompt fragment,
// in the fixed field order IDENTITY -> PROFESSIONAL -> ACADEMICS -> FAMILY
// -> LIFESTYLE -> STRENGTHS AND WEAKNESSES -> EXPERTISE -> HUMOR -> EXPERT
// LEVEL, matching persona_json_to_system_prompt. The opening "You are"
// line, the identity name/age/location lines, and the professional
// role/company/years lines are always written, even when empty; the
// family section is written in full once any family field is set; every
// other line and section is written only when populated.
func RenderPersona(p model.PersonaConfig) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("You are %s.", p.Identity.FullName))

	lines = append(lines, "\nIDENTITY:")
	lines = append(lines, fmt.Sprintf("- Full Name: %s", p.Identity.FullName))
	lines = append(lines, fmt.Sprintf("- Age: %d", p.Identity.Age))
	lines = append(lines, fmt.Sprintf("- Location: %s", p.Identity.Location))
	if len(p.Identity.Languages) > 0 {
		lines = append(lines, "- Languages: "+strings.Join(p.Identity.Languages, ", "))
	}
	if p.Identity.PhysicalDescription != "" {
		lines = append(lines, "- Physical Description: "+p.Identity.PhysicalDescription)
	}

	lines = append(lines, "\nPROFESSIONAL BACKGROUND:")
	lines = append(lines, fmt.Sprintf("- Current Role: %s", p.Professional.CurrentRole))
	lines = append(lines, fmt.Sprintf("- Company: %s", p.Professional.Company))
	lines = append(lines, fmt.Sprintf("- Years of Experience: %d", p.Professional.YearsOfExperience))
	if len(p.Professional.AreasOfExpertise) > 0 {
		lines = append(lines, "- Areas of Expertise: "+strings.Join(p.Professional.AreasOfExpertise, ", "))
	}

	if len(p.Academics.School) > 0 || len(p.Academics.University) > 0 {
		lines = append(lines, "\nACADEMICS:")
		if len(p.Academics.School) > 0 {
			lines = append(lines, "- School: "+strings.Join(p.Academics.School, ", "))
		}
		if len(p.Academics.University) > 0 {
			lines = append(lines, "- University: "+strings.Join(p.Academics.University, ", "))
		}
	}

	if hasFamily(p) {
		lines = append(lines, "\nFAMILY:")
		lines = append(lines, fmt.Sprintf("- Marital Status: %s", p.Family.MaritalStatus))
		lines = append(lines, fmt.Sprintf("- Spouse Name: %s", p.Family.SpouseName))
		lines = append(lines, fmt.Sprintf("- Children Count: %d", p.Family.ChildrenCount))
		lines = append(lines, fmt.Sprintf("- Siblings Count: %d", p.Family.SiblingsCount))
		lines = append(lines, fmt.Sprintf("- Father Name: %s", p.Family.FatherName))
		lines = append(lines, fmt.Sprintf("- Mother Name: %s", p.Family.MotherName))
	}

	if hasLifestyle(p) {
		lines = append(lines, "\nLIFESTYLE:")
		if len(p.Lifestyle.Hobbies) > 0 {
			lines = append(lines, "- Hobbies: "+strings.Join(p.Lifestyle.Hobbies, ", "))
		}
		if len(p.Lifestyle.PersonalInterests) > 0 {
			lines = append(lines, "- Personal Interests: "+strings.Join(p.Lifestyle.PersonalInterests, ", "))
		}
		if p.Lifestyle.LifestyleDescription != "" {
			lines = append(lines, "- Lifestyle Description: "+p.Lifestyle.LifestyleDescription)
		}
	}

	if len(p.StrengthsAndWeaknesses.Strengths) > 0 || len(p.StrengthsAndWeaknesses.Weaknesses) > 0 {
		lines = append(lines, "\nSTRENGTHS AND WEAKNESSES:")
		if len(p.StrengthsAndWeaknesses.Strengths) > 0 {
			lines = append(lines, "- Strengths: "+strings.Join(p.StrengthsAndWeaknesses.Strengths, ", "))
		}
		if len(p.StrengthsAndWeaknesses.Weaknesses) > 0 {
			lines = append(lines, "- Weaknesses: "+strings.Join(p.StrengthsAndWeaknesses.Weaknesses, ", "))
		}
	}

	if len(p.Expertise) > 0 {
		lines = append(lines, "\nEXPERTISE:")
		lines = append(lines, "- "+strings.Join(p.Expertise, ", "))
	}

	if p.Humor != "" {
		lines = append(lines, "\nHUMOR STYLE: "+p.Humor)
	}
	if p.ExpertLevel != "" {
		lines = append(lines, "EXPERT LEVEL: "+p.ExpertLevel)
	}

	return strings.Join(lines, "\n")
}

func hasFamily(p model.PersonaConfig) bool {
	return p.Family.MaritalStatus != "" || p.Family.SpouseName != "" || p.Family.ChildrenCount != 0 ||
		p.Family.SiblingsCount != 0 || p.Family.FatherName != "" || p.Family.MotherName != ""
}

func hasLifestyle(p model.PersonaConfig) bool {
	return len(p.Lifestyle.Hobbies) > 0 || len(p.Lifestyle.PersonalInterests) > 0 || p.Lifestyle.LifestyleDescription != ""
}

// NormalizeDecisionPayload coerces a raw LLM decision payload — a bare
// quoted string, an already-correct object, or neither — into a
// {"decision": "..."} shaped map, matching normalize_decision_tool.
func NormalizeDecisionPayload(raw any) map[string]any {
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		v = strings.TrimPrefix(v, `"`)
		v = strings.TrimSuffix(v, `"`)
		return map[string]any{"decision": v}
	case map[string]any:
		return v
	default:
		return map[string]any{"decision": "no_tool"}
	}
}

var (
	lineCommentRe  = regexp.MustCompile(`//.*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommaRe = regexp.MustCompile(`,\s*([\]}])`)
	extractedJSONRe = regexp.MustCompile(`(?s)Extracted JSON:\s*(\{.*\})`)
)

// StripJSONComments removes // and /* */ comments and trailing commas from
// a loosely-formatted JSON string, matching strip_json_comments. It is not
// string-literal-aware, matching the source's behavior.
func StripJSONComments(s string) string {
	s = lineCommentRe.ReplaceAllString(s, "")
	s = blockCommentRe.ReplaceAllString(s, "")
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// ExtractJSONFromError pulls a JSON object out of a parser error message
// that embeds one after the marker "Extracted JSON:", matching
// try_extract_json_from_error. Returns "" if no marker is present.
func ExtractJSONFromError(errMsg string) string {
	if !strings.Contains(errMsg, "Extracted JSON:") {
		return ""
	}
	m := extractedJSONRe.FindStringSubmatch(errMsg)
	if m == nil {
		return ""
	}
	return m[1]
}
