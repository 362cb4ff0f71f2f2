// Package fallback holds the fixed pool of user-facing messages sent when
// orchestration fails outright (LLM timeout, bus or store error, empty
// summary) and there is nothing more specific to say.
//
// Grounded on original_source/app/services/orchestrator.py's
// FALLBACK_MESSAGES and _handle_error_response (random.choice over the
// pool), translated to math/rand.
package fallback

import "math/rand"

// messages is the fixed pool _handle_error_response samples from.
var messages = []string{
	"I'm having a bit of trouble connecting right now. Could you please try asking that again?",
	"It seems my thoughts got a little tangled. Mind repeating that?",
	"I didn't quite catch that due to a technical hiccup. Please try again.",
	"Sorry, I encountered a temporary issue. Let's try that one more time.",
	"I'm experiencing a brief service interruption. Please ask me again in a moment.",
}

// Message returns one uniformly random fallback message.
func Message() string {
	return messages[rand.Intn(len(messages))]
}

// All returns the fixed message pool, for tests and documentation.
func All() []string {
	out := make([]string, len(messages))
	copy(out, messages)
	return out
}
