package models

// AdventureHook is one generated plot hook grounded in campaign sources.
type AdventureHook struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Hook          string   `json:"hook,omitempty"`
	Complications []string `json:"complications,omitempty"`
	Reward        string   `json:"reward,omitempty"`
}

// NPC is one generated non-player character.
type NPC struct {
	Name        string   `json:"name"`
	Race        string   `json:"race,omitempty"`
	Occupation  string   `json:"occupation,omitempty"`
	Appearance  string   `json:"appearance,omitempty"`
	Personality string   `json:"personality,omitempty"`
	Motivation  string   `json:"motivation,omitempty"`
	Secret      string   `json:"secret,omitempty"`
	Quirks      []string `json:"quirks,omitempty"`
}

// GenerateRequest parameterises hook/NPC generation.
type GenerateRequest struct {
	Tone       string `json:"tone,omitempty"`
	Theme      string `json:"theme,omitempty"`
	PartyLevel int    `json:"party_level,omitempty"`
	Count      int    `json:"count,omitempty"`
	// Index targets per-item regeneration: the new item replaces the
	// client-visible item at this position.
	Index *int `json:"index,omitempty"`
}

// Generation event types, emitted in the order:
// status* -> (hook|npc)* -> complete|error
const (
	EventStatus   = "status"
	EventHook     = "hook"
	EventNPC      = "npc"
	EventComplete = "complete"
	EventError    = "error"
)

// GenerationEvent is the SSE payload union. Exactly one of the typed
// fields is set according to Type.
type GenerationEvent struct {
	Type       string         `json:"type"`
	Message    string         `json:"message,omitempty"`
	Hook       *AdventureHook `json:"hook,omitempty"`
	NPC        *NPC           `json:"npc,omitempty"`
	Index      *int           `json:"index,omitempty"`
	Sources    []AnswerSource `json:"sources,omitempty"`
	ChunksUsed int            `json:"chunks_used,omitempty"`
	Usage      *TokenUsage    `json:"usage,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// TokenUsage reports prompt/completion token counts from the LLM.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
