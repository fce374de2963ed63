package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
	"lorekeeper-platform/internal/llm"
	"lorekeeper-platform/models"
)

// Generation kinds.
const (
	GenerateHooks = "hooks"
	GenerateNPCs  = "npcs"
)

const hooksSystemPrompt = `You create adventure hooks for a tabletop RPG campaign, grounded in the supplied campaign sources.
Respond with a JSON array only. Each element is an object:
{"title": "...", "description": "...", "hook": "...", "complications": ["..."], "reward": "..."}
Emit exactly the requested number of elements. No text outside the JSON array.`

const npcsSystemPrompt = `You create non-player characters for a tabletop RPG campaign, grounded in the supplied campaign sources.
Respond with a JSON array only. Each element is an object:
{"name": "...", "race": "...", "occupation": "...", "appearance": "...", "personality": "...", "motivation": "...", "secret": "...", "quirks": ["..."]}
Emit exactly the requested number of elements. No text outside the JSON array.`

// groundingRetriever supplies retrieval context for generation.
type groundingRetriever interface {
	Ground(ctx context.Context, campaignID, query string) (*models.BuiltContext, error)
}

// GenerationService streams structured hooks and NPCs as discrete
// events: status* -> (hook|npc)* -> complete|error.
type GenerationService struct {
	config    *config.Config
	llm       llm.Client
	retriever groundingRetriever
}

func NewGenerationService(cfg *config.Config, client llm.Client, retriever groundingRetriever) *GenerationService {
	return &GenerationService{config: cfg, llm: client, retriever: retriever}
}

// Generate launches a generation run. Events arrive on the returned
// channel, which closes after the terminal complete or error event.
func (g *GenerationService) Generate(ctx context.Context, kind, campaignID string, req models.GenerateRequest) <-chan models.GenerationEvent {
	out := make(chan models.GenerationEvent)
	go g.run(ctx, kind, campaignID, req, out)
	return out
}

func (g *GenerationService) run(ctx context.Context, kind, campaignID string, req models.GenerateRequest, out chan<- models.GenerationEvent) {
	defer close(out)

	count := req.Count
	if count <= 0 {
		count = 3
	}
	if req.Index != nil {
		count = 1
	}

	emit := func(ev models.GenerationEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(status int, err error) {
		emit(models.GenerationEvent{
			Type:       models.EventError,
			StatusCode: status,
			Error:      string(apperrors.CodeOf(err)),
			Message:    apperrors.UserMessage(err),
		})
	}

	if !emit(models.GenerationEvent{Type: models.EventStatus, Message: "Gathering campaign lore"}) {
		return
	}

	built, err := g.retriever.Ground(ctx, campaignID, framingQuery(kind, req))
	if err != nil {
		fail(500, err)
		return
	}

	if !emit(models.GenerationEvent{Type: models.EventStatus, Message: fmt.Sprintf("Generating %d %s", count, kind)}) {
		return
	}

	prompt := buildGenerationPrompt(kind, built, req, count)
	system := hooksSystemPrompt
	eventType := models.EventHook
	if kind == GenerateNPCs {
		system = npcsSystemPrompt
		eventType = models.EventNPC
	}

	stream, err := g.llm.GenerateStream(ctx, prompt, llm.Options{
		Temperature:    0.8,
		TemperatureSet: true,
		System:         system,
	})
	if err != nil {
		fail(500, err)
		return
	}

	scanner := &itemScanner{}
	emitted := 0
	var usage *models.TokenUsage

	for chunk := range stream {
		if chunk.Err != nil {
			fail(500, chunk.Err)
			return
		}
		if chunk.Done {
			usage = chunk.Usage
			break
		}
		for _, raw := range scanner.feed(chunk.Content) {
			if emitted >= count {
				continue
			}
			ev, ok := decodeItem(eventType, raw, req.Index)
			if !ok {
				continue
			}
			if !emit(ev) {
				return
			}
			emitted++
		}
	}

	if emitted == 0 {
		fail(502, apperrors.New(apperrors.CodeGenerationFailed, "model produced no usable items"))
		return
	}

	emit(models.GenerationEvent{
		Type:       models.EventComplete,
		Sources:    toAnswerSources(built.Sources),
		ChunksUsed: built.ChunksUsed,
		Usage:      usage,
	})
}

func framingQuery(kind string, req models.GenerateRequest) string {
	var parts []string
	if req.Tone != "" {
		parts = append(parts, req.Tone)
	}
	if req.Theme != "" {
		parts = append(parts, req.Theme)
	}
	switch kind {
	case GenerateNPCs:
		parts = append(parts, "notable characters factions organisations people")
	default:
		parts = append(parts, "locations conflicts threats rumors plot")
	}
	return strings.Join(parts, " ")
}

func buildGenerationPrompt(kind string, built *models.BuiltContext, req models.GenerateRequest, count int) string {
	var prompt strings.Builder
	if built.ChunksUsed > 0 {
		prompt.WriteString("Campaign sources:\n\n")
		prompt.WriteString(built.ContextText)
		prompt.WriteString("\n\n")
	} else {
		prompt.WriteString("No campaign sources were found; invent material consistent with the requested tone.\n\n")
	}

	noun := "adventure hooks"
	if kind == GenerateNPCs {
		noun = "NPCs"
	}
	fmt.Fprintf(&prompt, "Create %d %s", count, noun)
	if req.Tone != "" {
		fmt.Fprintf(&prompt, " with a %s tone", req.Tone)
	}
	if req.Theme != "" {
		fmt.Fprintf(&prompt, " around the theme %q", req.Theme)
	}
	if req.PartyLevel > 0 {
		fmt.Fprintf(&prompt, " suitable for a level %d party", req.PartyLevel)
	}
	prompt.WriteString(".")
	return prompt.String()
}

func decodeItem(eventType string, raw []byte, index *int) (models.GenerationEvent, bool) {
	switch eventType {
	case models.EventNPC:
		var npc models.NPC
		if err := json.Unmarshal(raw, &npc); err != nil || npc.Name == "" {
			return models.GenerationEvent{}, false
		}
		return models.GenerationEvent{Type: models.EventNPC, NPC: &npc, Index: index}, true
	default:
		var hook models.AdventureHook
		if err := json.Unmarshal(raw, &hook); err != nil || hook.Title == "" || hook.Description == "" {
			return models.GenerationEvent{}, false
		}
		return models.GenerationEvent{Type: models.EventHook, Hook: &hook, Index: index}, true
	}
}

// itemScanner incrementally extracts complete top-level JSON objects
// from streamed text. Everything outside the outermost braces (array
// punctuation, whitespace, stray prose) is skipped. String literals
// and escapes are tracked so braces inside values do not confuse the
// depth count.
type itemScanner struct {
	buf      []byte
	pos      int
	depth    int
	inString bool
	escaped  bool
	start    int
}

func (s *itemScanner) feed(chunk string) [][]byte {
	s.buf = append(s.buf, chunk...)

	var items [][]byte
	for ; s.pos < len(s.buf); s.pos++ {
		c := s.buf[s.pos]

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
			}
			continue
		}

		switch c {
		case '"':
			if s.depth > 0 {
				s.inString = true
			}
		case '{':
			if s.depth == 0 {
				s.start = s.pos
			}
			s.depth++
		case '}':
			if s.depth == 0 {
				continue
			}
			s.depth--
			if s.depth == 0 {
				item := make([]byte, s.pos+1-s.start)
				copy(item, s.buf[s.start:s.pos+1])
				items = append(items, item)
			}
		}
	}
	return items
}
