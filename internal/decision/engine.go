// internal/decision/engine.go
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"botgate/internal/retrieval"
	"botgate/pkg/faults"
	"botgate/pkg/metrics"
	"botgate/pkg/tenants"
)

// Action is what the model decided the turn needs.
type Action string

const (
	ActionNone    Action = "NONE"
	ActionCallAPI Action = "CALL_API"
)

// Decision is the structured output of one model call. Answer is always
// present; Endpoint/Method/Payload are meaningful only when Action is
// CALL_API. The schema forces the model to separate "should an action run"
// from "what do I tell the user", so nothing downstream parses free text.
type Decision struct {
	Action   Action          `json:"action"`
	Endpoint string          `json:"endpoint,omitempty"`
	Method   string          `json:"method,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Answer   string          `json:"answer"`
}

// Generator is the language-model collaborator: one structured-generation
// call constrained to an output schema.
type Generator interface {
	GenerateStructured(ctx context.Context, system, user string, schema map[string]any) ([]byte, error)
}

// responseSchema is the fixed output contract handed to the model.
var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action":   map[string]any{"type": "string", "enum": []string{"NONE", "CALL_API"}},
		"endpoint": map[string]any{"type": "string"},
		"method":   map[string]any{"type": "string"},
		"payload":  map[string]any{"type": "object"},
		"answer":   map[string]any{"type": "string"},
	},
	"required": []string{"action", "answer"},
}

// Engine builds grounded prompts and turns raw model output into a Decision.
type Engine struct {
	gen Generator
	cb  *gobreaker.CircuitBreaker
}

func NewEngine(gen Generator) *Engine {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "model",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Engine{gen: gen, cb: cb}
}

// Decide produces a Decision for one user message. Exactly one parse attempt
// is made: malformed model output is a terminal fault for the turn, never
// silently replaced with a default decision.
func (e *Engine) Decide(ctx context.Context, bot tenants.Bot, message string, chunks []retrieval.Chunk) (Decision, error) {
	system := systemPrompt(bot)
	user := userPrompt(bot, message, chunks)

	start := time.Now()
	rawAny, err := e.cb.Execute(func() (any, error) {
		return e.gen.GenerateStructured(ctx, system, user, responseSchema)
	})
	metrics.ModelLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return Decision{}, faults.Wrap(faults.DecisionParse, "model call failed", err)
	}
	raw := rawAny.([]byte)

	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, faults.Wrap(faults.DecisionParse, "model output is not valid JSON", err)
	}
	if d.Action != ActionNone && d.Action != ActionCallAPI {
		return Decision{}, faults.New(faults.DecisionParse, fmt.Sprintf("model returned unknown action %q", d.Action))
	}
	if strings.TrimSpace(d.Answer) == "" {
		return Decision{}, faults.New(faults.DecisionParse, "model decision is missing an answer")
	}
	if d.Action == ActionCallAPI && d.Method == "" {
		d.Method = "POST"
	}
	return d, nil
}

func systemPrompt(bot tenants.Bot) string {
	var b strings.Builder
	b.WriteString("You are the assistant for ")
	if bot.DisplayName != "" {
		b.WriteString(bot.DisplayName)
	} else {
		b.WriteString("this business")
	}
	b.WriteString(".\n")
	if bot.Persona != "" {
		b.WriteString("Persona: ")
		b.WriteString(bot.Persona)
		b.WriteString("\n")
	}
	if bot.PolicyText != "" {
		b.WriteString("Business rules you must follow:\n")
		b.WriteString(bot.PolicyText)
		b.WriteString("\n")
	}
	b.WriteString("Answer only from the provided context. Reply with JSON matching the response schema. " +
		"Set action=CALL_API with endpoint, method and payload only when the user's request requires invoking " +
		"one of the listed business APIs; otherwise set action=NONE. Always fill answer with the text shown to the user.")
	return b.String()
}

func userPrompt(bot tenants.Bot, message string, chunks []retrieval.Chunk) string {
	var b strings.Builder
	b.WriteString("Context from the knowledge base:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "#%d (%s): %s\n", i+1, c.Source, c.Text)
	}
	if len(bot.EndpointPolicies) > 0 {
		b.WriteString("\nAvailable business APIs (call only what the caller could be authorized for):\n")
		for _, p := range bot.EndpointPolicies {
			methods := "POST"
			if len(p.Methods) > 0 {
				methods = strings.Join(p.Methods, "|")
			}
			fmt.Fprintf(&b, "- %s %s (allowed roles: %s)\n", methods, p.Endpoint, strings.Join(p.Roles, ", "))
		}
	}
	b.WriteString("\nUser message: ")
	b.WriteString(message)
	return b.String()
}
